// Package cache is the TTL key-value layer in front of the run store. It is
// an accelerator only: a miss never means the run is absent.
package cache

import (
	"context"
	"strconv"
	"time"
)

// Cache is get/set-with-TTL keyed by purpose and run id.
type Cache interface {
	// Get returns ok=false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	// SetNX stores val only if key is absent and reports whether it did.
	SetNX(ctx context.Context, key string, val []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, keys ...string) error
}

const (
	nsRunState   = "run-state:"
	nsRunExit    = "run-exit-signal:"
	nsIteration  = "iteration-done:"
	nsReconcile  = "reconcile-inflight:"
	nsTakeProfit = "take-profit-seen:"
)

// RunStateKey holds the cached run row.
func RunStateKey(runID string) string {
	return nsRunState + runID
}

// RunExitKey holds an external request to end a run.
func RunExitKey(runID string) string {
	return nsRunExit + runID
}

// IterationKey marks a run+cycle iteration as completed.
func IterationKey(runID string, cycle int64) string {
	return nsIteration + runID + ":" + strconv.FormatInt(cycle, 10)
}

// ReconcileKey marks a symbol's reconciliation cycle as in flight.
func ReconcileKey(symbol string) string {
	return nsReconcile + symbol
}

// TakeProfitKey marks a take-profit message as handled.
func TakeProfitKey(id string) string {
	return nsTakeProfit + id
}
