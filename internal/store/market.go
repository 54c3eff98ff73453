package store

import (
	"context"
	"slices"

	xerrors "providence/internal/errors"
	"providence/internal/model"
	"providence/pkg/exception"
)

// LatestCandles returns up to n bars in ascending time order.
func (s *Store) LatestCandles(ctx context.Context, symbol, timeframe string, n int) ([]model.Candle, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var bars []model.Candle
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND timeframe = ?", symbol, timeframe).
		Order("timestamp DESC").
		Limit(n).
		Find(&bars).Error
	if err != nil {
		return nil, transient(err, "latest candles "+symbol)
	}
	slices.Reverse(bars)
	return bars, nil
}

// LatestPosition returns the newest recorded exchange position of symbol.
func (s *Store) LatestPosition(ctx context.Context, symbol string) (model.PositionRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rec model.PositionRecord
	err := s.db.WithContext(ctx).Where("symbol = ?", symbol).Order("timestamp DESC").First(&rec).Error
	if notFound(err) {
		return rec, xerrors.Wrap(exception.ErrPositionUnknown, symbol)
	}
	return rec, transient(err, "latest position "+symbol)
}

// LatestBalance returns the newest account balance snapshot.
func (s *Store) LatestBalance(ctx context.Context) (model.BalanceRecord, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	var rec model.BalanceRecord
	err := s.db.WithContext(ctx).Order("timestamp DESC").First(&rec).Error
	if notFound(err) {
		return rec, exception.ErrBalanceUnknown
	}
	return rec, transient(err, "latest balance")
}

// RecordPosition appends a position snapshot.
func (s *Store) RecordPosition(ctx context.Context, rec model.PositionRecord) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return transient(s.db.WithContext(ctx).Create(&rec).Error, "record position")
}

// RecordBalance appends a balance snapshot.
func (s *Store) RecordBalance(ctx context.Context, rec model.BalanceRecord) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return transient(s.db.WithContext(ctx).Create(&rec).Error, "record balance")
}

// RecordCandles appends bars.
func (s *Store) RecordCandles(ctx context.Context, bars []model.Candle) error {
	if len(bars) == 0 {
		return nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()

	return transient(s.db.WithContext(ctx).Create(&bars).Error, "record candles")
}
