package providence

import (
	"context"
	"errors"
	"time"

	"providence/internal/bus"

	"github.com/yanun0323/logs"
)

// Reconciler runs one reconciliation cycle per symbol.
type Reconciler interface {
	Symbols() []string
	ReconcileSymbol(ctx context.Context, symbol string) error
}

// Intervals are the control-loop cadences.
type Intervals struct {
	Supervisor time.Duration
	Iteration  time.Duration
	Reconcile  time.Duration
	Purge      time.Duration
}

// Controller turns ticks into high-lane tasks.
type Controller struct {
	svc       *Service
	reconcile Reconciler
	router    Submitter
	every     Intervals
}

func NewController(svc *Service, reconcile Reconciler, router Submitter, every Intervals) *Controller {
	return &Controller{svc: svc, reconcile: reconcile, router: router, every: every}
}

// Run ticks until ctx is done. The supervisor runs once immediately.
func (c *Controller) Run(ctx context.Context) {
	supervise := time.NewTicker(c.every.Supervisor)
	defer supervise.Stop()
	schedule := time.NewTicker(c.every.Iteration)
	defer schedule.Stop()
	reconcile := time.NewTicker(c.every.Reconcile)
	defer reconcile.Stop()
	purge := time.NewTicker(c.every.Purge)
	defer purge.Stop()

	c.submit(c.supervisorTask())
	for {
		select {
		case <-ctx.Done():
			return
		case <-supervise.C:
			c.submit(c.supervisorTask())
		case <-schedule.C:
			c.submit(c.schedulerTask())
		case <-reconcile.C:
			c.submitReconcile()
		case <-purge.C:
			c.submit(c.purgeTask())
		}
	}
}

// ApplyHeight queues a height assignment on the high lane and waits until it
// is applied, e.g. for a take-profit signal that is acked only afterwards.
func (c *Controller) ApplyHeight(ctx context.Context, reason string) error {
	task, wait := c.svc.HeightTask(reason)
	if err := c.router.Submit(task); err != nil {
		return err
	}
	return wait(ctx)
}

func (c *Controller) submit(t bus.Task) {
	err := c.router.Submit(t)
	switch {
	case err == nil:
	case errors.Is(err, bus.ErrQueueClosed):
		logs.Debugf("controller: router closed, drop %s", t.Name)
	default:
		logs.Errorf("controller: submit %s, err: %+v", t.Name, err)
	}
}

func (c *Controller) supervisorTask() bus.Task {
	return bus.Task{Name: "supervisor", Lane: bus.LaneHigh, Run: func(ctx context.Context) error {
		_, err := c.svc.Supervise(ctx)
		return err
	}}
}

func (c *Controller) schedulerTask() bus.Task {
	return bus.Task{Name: "scheduler", Lane: bus.LaneHigh, Run: func(ctx context.Context) error {
		_, err := c.svc.Schedule(ctx, c.router)
		return err
	}}
}

func (c *Controller) submitReconcile() {
	if c.reconcile == nil {
		return
	}
	for _, symbol := range c.reconcile.Symbols() {
		c.submit(c.reconcileTask(symbol))
	}
}

// reconcileTask is one symbol's cycle, so a retry never repeats a sibling
// symbol that already submitted.
func (c *Controller) reconcileTask(symbol string) bus.Task {
	return bus.Task{Name: "reconcile", Key: symbol, Lane: bus.LaneHigh, Run: func(ctx context.Context) error {
		return c.reconcile.ReconcileSymbol(ctx, symbol)
	}}
}

func (c *Controller) purgeTask() bus.Task {
	return bus.Task{Name: "purge", Lane: bus.LaneHigh, Run: func(ctx context.Context) error {
		_, err := c.svc.Purge(ctx)
		return err
	}}
}
