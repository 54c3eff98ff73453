package providence

import (
	"context"

	"providence/internal/model"
	"providence/internal/state"

	"github.com/google/uuid"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
)

// Supervise creates runs until the active count reaches the target. It never
// deletes; overshoot from concurrent calls is absorbed as runs exit.
func (s *Service) Supervise(ctx context.Context) (int, error) {
	active, err := s.store.CountActive(ctx)
	if err != nil {
		return 0, err
	}

	deficit := s.cfg.TargetRuns - int(active)
	if deficit <= 0 {
		return 0, nil
	}

	scale := s.cohortScale(ctx)
	now := s.now()
	runs := make([]model.Run, 0, deficit)
	for range deficit {
		symbol, params := s.sampler.Sample(scale)
		ledger, err := state.NewLedger(params.VirtualBalance, params.FeeRate)
		if err != nil {
			return 0, errors.Wrap(err, "open ledger")
		}
		blob, err := state.Encode(ledger)
		if err != nil {
			return 0, errors.Wrap(err, "encode ledger")
		}
		runs = append(runs, model.Run{
			ID:        uuid.NewString(),
			Symbol:    symbol,
			Params:    params,
			StateBlob: blob,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}

	if err := s.store.CreateRuns(ctx, runs); err != nil {
		return 0, err
	}

	s.metrics.AddSpawned(len(runs))
	logs.Infof("supervisor: created %d run(s), active=%d target=%d cohort_scale=%.4f",
		len(runs), active, s.cfg.TargetRuns, scale)
	return len(runs), nil
}

// cohortScale compares the live cohort with stamped cohorts. Any read failure
// falls back to a neutral scale.
func (s *Service) cohortScale(ctx context.Context) float64 {
	current, err := s.store.CohortPnL(ctx, false)
	if err != nil {
		logs.Warnf("supervisor: read current cohort, err: %+v", err)
		return 1
	}
	historical, err := s.store.CohortPnL(ctx, true)
	if err != nil {
		logs.Warnf("supervisor: read historical cohorts, err: %+v", err)
		return 1
	}
	return s.risk.CohortScale(current, historical)
}
