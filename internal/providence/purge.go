package providence

import (
	"context"

	"providence/internal/cache"

	"github.com/yanun0323/logs"
)

// Purge exits stale runs when configured, then deletes the rows and cache
// entries of runs exited longer than the grace period. Deleting is
// idempotent and never touches a run with exit_run=false.
func (s *Service) Purge(ctx context.Context) (int64, error) {
	now := s.now()

	if s.cfg.StaleAfter > 0 {
		n, err := s.store.MarkStale(ctx, now.Add(-s.cfg.StaleAfter), now)
		if err != nil {
			return 0, err
		}
		if n > 0 {
			logs.Infof("purge: exited %d stale run(s)", n)
		}
	}

	ids, err := s.store.ExitedBefore(ctx, now.Add(-s.cfg.PurgeGrace))
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	deleted, err := s.store.DeleteRuns(ctx, ids)
	if err != nil {
		return 0, err
	}

	keys := make([]string, 0, 2*len(ids))
	for _, id := range ids {
		keys = append(keys, cache.RunStateKey(id), cache.RunExitKey(id))
	}
	if err := s.cache.Delete(ctx, keys...); err != nil {
		logs.Warnf("purge: evict cache of %d run(s), err: %+v", len(ids), err)
	}

	s.metrics.AddPurged(deleted)
	logs.Infof("purge: deleted %d run(s)", deleted)
	return deleted, nil
}

// SignalExit asks run id to exit on its next iteration.
func (s *Service) SignalExit(ctx context.Context, id string) error {
	return s.cache.Set(ctx, cache.RunExitKey(id), _marker, s.cfg.StateTTL)
}
