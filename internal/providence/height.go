package providence

import (
	"context"
	"sync/atomic"

	"providence/internal/bus"
	"providence/internal/store"
	"providence/pkg/exception"

	"github.com/yanun0323/logs"
)

// AssignHeight stamps the next height on every active run in one store
// transaction, then evicts the stamped runs' cached rows.
func (s *Service) AssignHeight(ctx context.Context) (store.Stamp, error) {
	stamp, err := s.store.StampHeight(ctx)
	if err != nil {
		return store.Stamp{}, err
	}

	if len(stamp.RunIDs) != 0 {
		s.forget(ctx, stamp.RunIDs...)
	}
	s.metrics.IncHeight()
	logs.Infof("height: assigned height=%d to %d run(s)", stamp.Height, len(stamp.RunIDs))
	return stamp, nil
}

const (
	heightQueued int32 = iota
	heightRunning
	heightAbandoned
)

// HeightTask wraps a height assignment for the high lane. wait blocks until
// the assignment finished and returns its error. When ctx ends before the
// task started, wait returns ctx.Err() and the task becomes a no-op, so the
// caller may safely retry. The task never returns an error to the router:
// the caller owns the retry.
func (s *Service) HeightTask(reason string) (task bus.Task, wait func(ctx context.Context) error) {
	var state atomic.Int32
	done := make(chan error, 1)

	task = bus.Task{
		Name: "height",
		Key:  reason,
		Lane: bus.LaneHigh,
		Run: func(ctx context.Context) error {
			if !state.CompareAndSwap(heightQueued, heightRunning) {
				logs.Debugf("height: %s abandoned before start, skip", reason)
				return nil
			}
			err := exception.ErrHeightInterrupted
			defer func() { done <- err }()
			_, err = s.AssignHeight(ctx)
			return nil
		},
	}

	wait = func(ctx context.Context) error {
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			if state.CompareAndSwap(heightQueued, heightAbandoned) {
				return ctx.Err()
			}
			return <-done
		}
	}
	return task, wait
}
