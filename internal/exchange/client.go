// Package exchange is the boundary to the exchange connectivity layer.
package exchange

import (
	"context"

	"providence/internal/model"
)

// Client reads the account's actual exposure.
type Client interface {
	// Position is the signed position size of symbol.
	Position(ctx context.Context, symbol string) (float64, error)
	// Balance is the account value in quote currency.
	Balance(ctx context.Context) (float64, error)
}

// Recorder is the part of the store holding snapshots written by the
// connectivity layer.
type Recorder interface {
	LatestPosition(ctx context.Context, symbol string) (model.PositionRecord, error)
	LatestBalance(ctx context.Context) (model.BalanceRecord, error)
}

// Recorded serves positions and balances from local snapshots.
type Recorded struct {
	rec Recorder
}

func NewRecorded(rec Recorder) *Recorded {
	return &Recorded{rec: rec}
}

func (r *Recorded) Position(ctx context.Context, symbol string) (float64, error) {
	p, err := r.rec.LatestPosition(ctx, symbol)
	if err != nil {
		return 0, err
	}
	return p.PositionSize, nil
}

func (r *Recorded) Balance(ctx context.Context) (float64, error) {
	b, err := r.rec.LatestBalance(ctx)
	if err != nil {
		return 0, err
	}
	return b.AccountValue, nil
}
