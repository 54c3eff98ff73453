package providence

import (
	"context"
	"errors"
	"time"

	"providence/internal/cache"
	"providence/internal/entropy"
	xerrors "providence/internal/errors"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/model/enum"
	"providence/internal/risk"
	"providence/internal/state"
	"providence/pkg/exception"

	"github.com/bytedance/sonic"
	"github.com/yanun0323/logs"
)

// Outcome is how an iteration ended.
type Outcome uint8

const (
	OutcomeCommitted Outcome = iota
	// OutcomeDuplicate means this run+cycle was already applied.
	OutcomeDuplicate
	// OutcomeInactive means the run is exited, corrupted or gone.
	OutcomeInactive
	// OutcomeCorrupted means the state could not be replayed and the run
	// was flagged.
	OutcomeCorrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCommitted:
		return "committed"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeInactive:
		return "inactive"
	case OutcomeCorrupted:
		return "corrupted"
	default:
		return "unknown"
	}
}

var _marker = []byte{'1'}

// Iterate runs one trading iteration of run id for cycle. It is all or
// nothing: any failure returns before the store write, and a redelivered
// run+cycle is a no-op.
func (s *Service) Iterate(ctx context.Context, id string, cycle int64) (outcome Outcome, err error) {
	start := time.Now()
	defer func() {
		if err == nil {
			s.metrics.ObserveIteration(outcome.String(), time.Since(start))
		} else {
			s.metrics.ObserveIteration("error", time.Since(start))
		}
	}()

	if s.marked(ctx, id, cycle) {
		return OutcomeDuplicate, nil
	}

	run, err := s.loadRun(ctx, id)
	if errors.Is(err, exception.ErrRunNotFound) {
		return OutcomeInactive, nil
	}
	if err != nil {
		return 0, err
	}

	outcome, err = s.iterate(ctx, run, cycle)
	if !errors.Is(err, exception.ErrRunStaleState) {
		return outcome, err
	}

	// Lost the conditional write: the cached row was behind the store.
	s.forget(ctx, id)
	fresh, err := s.store.GetRun(ctx, id)
	if errors.Is(err, exception.ErrRunNotFound) {
		return OutcomeInactive, nil
	}
	if err != nil {
		return 0, err
	}
	return s.iterate(ctx, fresh, cycle)
}

func (s *Service) iterate(ctx context.Context, run model.Run, cycle int64) (Outcome, error) {
	if !run.Active() {
		return OutcomeInactive, nil
	}
	if cycle <= run.LastCycle {
		return OutcomeDuplicate, nil
	}

	ledger, err := state.Replay(run.StateBlob)
	if xerrors.KindOf(err) == xerrors.KindStateCorruption {
		return s.corrupted(ctx, run, err)
	}
	if err != nil {
		return 0, err
	}

	now := s.now()
	exit := s.exitReason(ctx, run, now)

	bars, err := s.market.LatestWindow(ctx, run.Symbol, run.Params.WindowSamples)
	if err != nil {
		return 0, err
	}
	if len(bars) == 0 {
		return 0, xerrors.Wrap(exception.ErrMarketDataUnavailable, run.Symbol)
	}
	closes := marketdata.Closes(bars)
	price := closes[len(closes)-1]

	h, err := entropy.Permutation(closes, s.cfg.EntropyOrder, s.cfg.EntropyDelay)
	if err != nil {
		return 0, err
	}
	dir := Direction(h, s.cfg.EntropyLow, s.cfg.EntropyHigh)
	if run.Params.SystemSwing {
		dir = dir.Invert()
	}

	if err := ledger.Mark(price); err != nil {
		return 0, xerrors.Wrap(err, "mark")
	}

	size := 0.0
	if exit == enum.ExitReasonNone {
		base, err := s.sizing.Base(run.Params.VirtualBalance, price)
		if err != nil {
			return 0, xerrors.Wrap(err, "base size")
		}
		decision := s.risk.Evaluate(risk.StateView{
			LivePnL:  ledger.PnL(),
			Balance:  run.Params.VirtualBalance,
			BaseSize: base * scale(run.Params.SizeScaler) * scale(run.Params.CohortScale),
		})
		if decision.Action == risk.ActionExit {
			exit = enum.ExitReasonDrawdown
		} else {
			size = decision.Size
		}
	}
	if exit != enum.ExitReasonNone {
		dir, size = enum.DirectionFlat, 0
	}

	if err := ledger.Rebalance(float64(dir) * size); err != nil {
		return 0, xerrors.Wrap(err, "rebalance")
	}
	if ledger.Len() > s.cfg.MaxHistory {
		ledger.Compact()
	}
	blob, err := state.Encode(ledger)
	if err != nil {
		return 0, xerrors.Wrap(err, "encode ledger")
	}

	prevCycle := run.LastCycle
	run.PositionDirection = dir
	run.RiskPosSize = size
	run.LivePnL = ledger.PnL()
	run.StateBlob = blob
	run.LastCycle = cycle
	run.UpdatedAt = now
	if exit != enum.ExitReasonNone {
		run.ExitRun = true
		run.ExitReason = exit
		run.ExitedAt = &now
	}

	if err := s.store.SaveIteration(ctx, run, prevCycle); err != nil {
		return 0, err
	}
	run.Revision++

	s.remember(ctx, run)
	if err := s.cache.Set(ctx, cache.IterationKey(run.ID, cycle), _marker, s.cfg.MarkerTTL); err != nil {
		logs.Warnf("iteration: set marker run=%s cycle=%d, err: %+v", run.ID, cycle, err)
	}

	if run.ExitRun {
		logs.Infof("iteration: run=%s exited reason=%s live_pnl=%.4f", run.ID, run.ExitReason, run.LivePnL)
	}
	return OutcomeCommitted, nil
}

// Direction maps entropy to a signed side: long below low, short above high,
// flat in the dead band.
func Direction(h, low, high float64) enum.Direction {
	switch {
	case h < low:
		return enum.DirectionLong
	case h > high:
		return enum.DirectionShort
	default:
		return enum.DirectionFlat
	}
}

func scale(v float64) float64 {
	if v <= 0 {
		return 1
	}
	return v
}

func (s *Service) exitReason(ctx context.Context, run model.Run, now time.Time) enum.ExitReason {
	_, ok, err := s.cache.Get(ctx, cache.RunExitKey(run.ID))
	if err != nil {
		logs.Warnf("iteration: read exit signal run=%s, err: %+v", run.ID, err)
	}
	if ok {
		return enum.ExitReasonSignal
	}
	if d := run.Params.MaxDuration; d > 0 && !run.CreatedAt.IsZero() && now.Sub(run.CreatedAt) >= d {
		return enum.ExitReasonMaxDuration
	}
	return enum.ExitReasonNone
}

func (s *Service) corrupted(ctx context.Context, run model.Run, cause error) (Outcome, error) {
	logs.Errorf("iteration: run=%s state corrupted, excluding run, err: %+v", run.ID, cause)
	if err := s.store.MarkCorrupted(ctx, run.ID); err != nil {
		return 0, err
	}
	s.forget(ctx, run.ID)
	s.metrics.IncCorrupted()
	return OutcomeCorrupted, nil
}

func (s *Service) marked(ctx context.Context, id string, cycle int64) bool {
	_, ok, err := s.cache.Get(ctx, cache.IterationKey(id, cycle))
	if err != nil {
		logs.Warnf("iteration: read marker run=%s cycle=%d, err: %+v", id, cycle, err)
		return false
	}
	return ok
}

// loadRun reads the cached row first and falls back to the store. A cache
// miss or an undecodable entry is never taken as "run absent".
func (s *Service) loadRun(ctx context.Context, id string) (model.Run, error) {
	raw, ok, err := s.cache.Get(ctx, cache.RunStateKey(id))
	if err != nil {
		logs.Warnf("iteration: read cached run=%s, err: %+v", id, err)
	}
	if ok {
		var run model.Run
		if err := sonic.ConfigFastest.Unmarshal(raw, &run); err == nil && run.ID == id {
			return run, nil
		}
		s.forget(ctx, id)
	}
	return s.store.GetRun(ctx, id)
}

func (s *Service) remember(ctx context.Context, run model.Run) {
	raw, err := sonic.ConfigFastest.Marshal(run)
	if err != nil {
		logs.Warnf("iteration: encode run=%s, err: %+v", run.ID, err)
		return
	}
	if err := s.cache.Set(ctx, cache.RunStateKey(run.ID), raw, s.cfg.StateTTL); err != nil {
		logs.Warnf("iteration: cache run=%s, err: %+v", run.ID, err)
	}
}

func (s *Service) forget(ctx context.Context, ids ...string) {
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, cache.RunStateKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		logs.Warnf("providence: evict %d cached run(s), err: %+v", len(ids), err)
	}
}
