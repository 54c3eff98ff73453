// Package marketdata reads OHLCV windows recorded by the ingestion service.
package marketdata

import (
	"context"
	"strings"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/model"
	"providence/pkg/exception"
)

// Bar is one OHLCV sample.
type Bar struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Source returns the latest bars of a symbol in ascending time order.
type Source interface {
	LatestWindow(ctx context.Context, symbol string, length int) ([]Bar, error)
}

// CandleReader is the part of the store the source reads.
type CandleReader interface {
	LatestCandles(ctx context.Context, symbol, timeframe string, n int) ([]model.Candle, error)
}

// StoreSource serves windows from the market_data table.
type StoreSource struct {
	reader    CandleReader
	timeframe string
}

func NewStoreSource(reader CandleReader, timeframe string) *StoreSource {
	return &StoreSource{reader: reader, timeframe: timeframe}
}

// LatestWindow returns exactly length bars. Symbols without bars of their own
// fall back to their base symbol.
func (s *StoreSource) LatestWindow(ctx context.Context, symbol string, length int) ([]Bar, error) {
	if length <= 0 {
		return nil, xerrors.Wrap(exception.ErrInvalidMarketDataRequest, "length must be > 0")
	}

	candles, err := s.reader.LatestCandles(ctx, symbol, s.timeframe, length)
	if err != nil {
		return nil, err
	}
	if base := BaseSymbol(symbol); len(candles) == 0 && base != symbol {
		if candles, err = s.reader.LatestCandles(ctx, base, s.timeframe, length); err != nil {
			return nil, err
		}
	}
	if len(candles) < length {
		return nil, xerrors.Wrap(exception.ErrMarketDataUnavailable, symbol)
	}

	bars := make([]Bar, len(candles))
	for i, c := range candles {
		bars[i] = Bar{
			Timestamp: c.Timestamp,
			Open:      c.Open,
			High:      c.High,
			Low:       c.Low,
			Close:     c.Close,
			Volume:    c.Volume,
		}
	}
	return bars, nil
}

// LatestPrice is the close of the newest bar.
func LatestPrice(ctx context.Context, src Source, symbol string) (float64, error) {
	bars, err := src.LatestWindow(ctx, symbol, 1)
	if err != nil {
		return 0, xerrors.Wrap(exception.ErrPriceUnavailable, err.Error())
	}
	price := bars[len(bars)-1].Close
	if price <= 0 {
		return 0, xerrors.Wrap(exception.ErrPriceUnavailable, symbol)
	}
	return price, nil
}

// Closes extracts close prices.
func Closes(bars []Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// BaseSymbol strips quote and settlement: "BTC/USDC:USDC" -> "BTC".
func BaseSymbol(symbol string) string {
	if i := strings.IndexAny(symbol, "/:-"); i > 0 {
		return symbol[:i]
	}
	return symbol
}
