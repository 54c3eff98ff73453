package providence

import (
	"context"
	"math/rand/v2"
	"time"

	"providence/internal/bus"

	"github.com/yanun0323/logs"
)

// Schedule submits one low-lane iteration per active run for the current
// cycle, each delayed by a random offset within the jitter window. A failed
// submission is logged and does not affect its siblings.
func (s *Service) Schedule(ctx context.Context, router Submitter) (int, error) {
	ids, err := s.store.ActiveRunIDs(ctx)
	if err != nil {
		return 0, err
	}

	now := s.now()
	cycle := s.Cycle(now)
	scheduled := 0
	for _, id := range ids {
		if err := router.Submit(s.IterationTask(id, cycle, now.Add(s.jitter()))); err != nil {
			logs.Warnf("scheduler: submit iteration run=%s cycle=%d, err: %+v", id, cycle, err)
			continue
		}
		scheduled++
	}

	if scheduled < len(ids) {
		logs.Warnf("scheduler: cycle=%d scheduled %d of %d run(s)", cycle, scheduled, len(ids))
	}
	return scheduled, nil
}

// IterationTask wraps one iteration for the router.
func (s *Service) IterationTask(id string, cycle int64, at time.Time) bus.Task {
	return bus.Task{
		Name:      "iteration",
		Key:       id,
		Lane:      bus.LaneLow,
		NotBefore: at,
		Run: func(ctx context.Context) error {
			_, err := s.Iterate(ctx, id, cycle)
			return err
		},
	}
}

func (s *Service) jitter() time.Duration {
	if s.cfg.IterationJitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(s.cfg.IterationJitter)))
}
