// Package bus routes tasks to a worker pool over two bounded priority lanes.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/obs"
	"providence/pkg/backoff"

	"github.com/sourcegraph/conc"
	"github.com/yanun0323/logs"
)

var (
	ErrQueueFull   = errors.New("task queue full")
	ErrQueueClosed = errors.New("task queue closed")
	ErrNilTask     = errors.New("nil task func")
)

// Lane is a dispatch priority.
type Lane uint8

const (
	// LaneHigh carries control work: supervisor, scheduler trigger, height
	// assignment, reconciliation and purge.
	LaneHigh Lane = iota
	// LaneLow carries trading iterations.
	LaneLow

	laneCount
)

func (l Lane) String() string {
	if l == LaneHigh {
		return "high"
	}
	return "low"
}

// Task is the unit of scheduling.
type Task struct {
	Name string
	// Key identifies the subject in logs, e.g. a run id or symbol.
	Key  string
	Lane Lane
	// NotBefore delays the task until the given time.
	NotBefore time.Time
	Run       func(ctx context.Context) error

	attempt  int
	enqueued time.Time
}

// Config sizes the lanes and the pool.
type Config struct {
	HighCapacity int
	LowCapacity  int
	// Workers serve both lanes, high first.
	Workers int
	// HighWorkers serve only the high lane so control work never waits
	// behind a running iteration.
	HighWorkers int
	// MaxAttempts bounds retries of transient failures.
	MaxAttempts int
	Backoff     backoff.Backoff
	// TaskTimeout bounds one attempt.
	TaskTimeout time.Duration
}

// Router is a two-lane bounded task queue with a worker pool.
type Router struct {
	cfg     Config
	lanes   [laneCount]chan Task
	done    chan struct{}
	closed  atomic.Bool
	running atomic.Bool
	metrics *obs.Metrics
	latency [laneCount]obs.LatencyStats
}

func NewRouter(cfg Config, metrics *obs.Metrics) *Router {
	if cfg.HighCapacity <= 0 {
		cfg.HighCapacity = 1
	}
	if cfg.LowCapacity <= 0 {
		cfg.LowCapacity = 1
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}

	r := &Router{
		cfg:     cfg,
		done:    make(chan struct{}),
		metrics: metrics,
	}
	r.lanes[LaneHigh] = make(chan Task, cfg.HighCapacity)
	r.lanes[LaneLow] = make(chan Task, cfg.LowCapacity)
	return r
}

// Submit enqueues t without blocking. A task with NotBefore in the future is
// held by a timer and enqueued when due; a full lane at that point drops it.
func (r *Router) Submit(t Task) error {
	if t.Run == nil {
		return ErrNilTask
	}
	if r.closed.Load() {
		return ErrQueueClosed
	}
	if t.Lane >= laneCount {
		t.Lane = LaneLow
	}

	if wait := time.Until(t.NotBefore); wait > 0 {
		time.AfterFunc(wait, func() {
			if err := r.enqueue(t); err != nil && !errors.Is(err, ErrQueueClosed) {
				r.metrics.IncTaskFailure(t.Lane.String(), t.Name, "dropped")
				logs.Warnf("bus: drop delayed task %s key=%s lane=%s, err: %+v", t.Name, t.Key, t.Lane, err)
			}
		})
		return nil
	}
	return r.enqueue(t)
}

func (r *Router) enqueue(t Task) error {
	if r.closed.Load() {
		return ErrQueueClosed
	}
	t.enqueued = time.Now()
	select {
	case r.lanes[t.Lane] <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close stops the router from accepting tasks and stops its workers.
func (r *Router) Close() {
	if r.closed.CompareAndSwap(false, true) {
		close(r.done)
	}
}

// Depth returns the number of queued tasks on lane.
func (r *Router) Depth(lane Lane) int {
	return len(r.lanes[lane])
}

// Latency returns the enqueue-to-dispatch latency of lane.
func (r *Router) Latency(lane Lane) obs.LatencySnapshot {
	return r.latency[lane].Snapshot()
}

// Run starts the workers and blocks until ctx is done or Close is called.
func (r *Router) Run(ctx context.Context) {
	if r.running.Swap(true) {
		return
	}

	var wg conc.WaitGroup
	for range r.cfg.HighWorkers {
		wg.Go(func() { r.work(ctx, true) })
	}
	for range r.cfg.Workers {
		wg.Go(func() { r.work(ctx, false) })
	}
	wg.Wait()
}

func (r *Router) work(ctx context.Context, highOnly bool) {
	high, low := r.lanes[LaneHigh], r.lanes[LaneLow]
	for {
		select {
		case t := <-high:
			r.dispatch(ctx, t)
			continue
		default:
		}

		if highOnly {
			select {
			case <-ctx.Done():
				return
			case <-r.done:
				return
			case t := <-high:
				r.dispatch(ctx, t)
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case t := <-high:
			r.dispatch(ctx, t)
		case t := <-low:
			r.drainHigh(ctx)
			r.dispatch(ctx, t)
		}
	}
}

// drainHigh runs every queued high task before a low task proceeds.
func (r *Router) drainHigh(ctx context.Context) {
	for {
		select {
		case t := <-r.lanes[LaneHigh]:
			r.dispatch(ctx, t)
		default:
			return
		}
	}
}

func (r *Router) dispatch(ctx context.Context, t Task) {
	wait := time.Since(t.enqueued)
	r.latency[t.Lane].Observe(wait)
	r.metrics.ObserveDispatch(t.Lane.String(), t.Name, wait, len(r.lanes[t.Lane]))

	err := r.execute(ctx, t)
	if err == nil {
		return
	}

	t.attempt++
	if !xerrors.IsTransient(err) || t.attempt >= r.cfg.MaxAttempts {
		r.metrics.IncTaskFailure(t.Lane.String(), t.Name, "dropped")
		logs.Errorf("bus: task %s key=%s failed after %d attempt(s), kind: %s, err: %+v",
			t.Name, t.Key, t.attempt, xerrors.KindOf(err), err)
		return
	}

	delay := r.cfg.Backoff.Next(t.attempt)
	t.NotBefore = time.Now().Add(delay)
	r.metrics.IncTaskFailure(t.Lane.String(), t.Name, "retried")
	logs.Warnf("bus: retry task %s key=%s attempt=%d in %s, err: %+v", t.Name, t.Key, t.attempt+1, delay, err)
	if err := r.Submit(t); err != nil {
		logs.Warnf("bus: resubmit task %s key=%s, err: %+v", t.Name, t.Key, err)
	}
}

func (r *Router) execute(ctx context.Context, t Task) (err error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("task %s panic: %v", t.Name, p)
		}
	}()
	return t.Run(ctx)
}
