// Package reconcile compares the desired exposure of all runs with the
// actual exchange position and submits corrective orders.
package reconcile

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"providence/internal/cache"
	"providence/internal/exchange"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/obs"
	"providence/internal/observer"
	"providence/internal/order"
	"providence/pkg/exception"

	"github.com/sourcegraph/conc/pool"
	"github.com/yanun0323/logs"
)

// Outcome is the terminal state of one symbol's cycle.
type Outcome uint8

const (
	OutcomeSubmitted Outcome = iota
	OutcomeSkipNoQuorum
	OutcomeSkipBelowThreshold
	OutcomeSkipInFlight
	OutcomeSkipNoPrice
	OutcomeRejected
	// OutcomeSubmitFailed means the order may or may not have reached the
	// gateway. The gap carries to the next cycle.
	OutcomeSubmitFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeSkipNoQuorum:
		return "skip_no_quorum"
	case OutcomeSkipBelowThreshold:
		return "skip_below_threshold"
	case OutcomeSkipInFlight:
		return "skip_in_flight"
	case OutcomeSkipNoPrice:
		return "skip_no_price"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSubmitFailed:
		return "submit_failed"
	default:
		return "unknown"
	}
}

// Result describes one cycle.
type Result struct {
	Symbol    string
	Outcome   Outcome
	Desired   float64
	Actual    float64
	Agreeing  int
	Gap       float64
	Price     float64
	Threshold float64
	Order     *order.Request
	Reason    string
}

// Positions reads the exposure columns of active runs.
type Positions interface {
	ActiveRuns(ctx context.Context, symbol string) ([]model.Run, error)
}

// Observers collects position reports from independent observers.
type Observers interface {
	Collect(ctx context.Context, symbol string) []observer.Report
}

// Orders builds and submits corrective orders.
type Orders interface {
	MarketOrder(symbol string, gap float64) order.Request
	Submit(ctx context.Context, req order.Request) (order.Response, error)
}

// Deps groups the Engine collaborators.
type Deps struct {
	Positions Positions
	Observers Observers
	Exchange  exchange.Client
	Market    marketdata.Source
	Orders    Orders
	Cache     cache.Cache
	Metrics   *obs.Metrics
}

// Engine runs reconciliation cycles. Correctness comes from recomputing
// everything each cycle; nothing is locked across processes.
type Engine struct {
	cfg      Config
	deps     Deps
	inflight sync.Map
}

func NewEngine(cfg Config, deps Deps) *Engine {
	if deps.Cache == nil {
		deps.Cache = cache.Nop{}
	}
	return &Engine{cfg: cfg.withDefaults(), deps: deps}
}

// Symbols returns the configured symbols.
func (e *Engine) Symbols() []string {
	return e.cfg.Symbols
}

// ReconcileSymbol runs one cycle for symbol. Only failures before an order
// is built are returned, so a task-layer retry never sends a second order.
func (e *Engine) ReconcileSymbol(ctx context.Context, symbol string) error {
	_, err := e.Reconcile(ctx, symbol)
	return err
}

// ReconcileAll runs one cycle per configured symbol concurrently and joins
// the per-symbol errors.
func (e *Engine) ReconcileAll(ctx context.Context) error {
	p := pool.New().WithErrors().WithMaxGoroutines(e.cfg.Concurrency)
	for _, symbol := range e.cfg.Symbols {
		p.Go(func() error {
			_, err := e.Reconcile(ctx, symbol)
			return err
		})
	}
	return p.Wait()
}

// Reconcile runs ComputeDesired, ComputeActual and then skips or submits.
// Skips, rejections and failed submissions are results, not errors. Errors
// are I/O failures before the order step that the task layer may retry.
func (e *Engine) Reconcile(ctx context.Context, symbol string) (res Result, err error) {
	res = Result{Symbol: symbol}
	defer func() {
		if err == nil {
			e.deps.Metrics.ObserveReconcile(symbol, res.Outcome.String(), res.Gap)
		}
	}()

	release, ok := e.acquire(ctx, symbol)
	if !ok {
		res.Outcome = OutcomeSkipInFlight
		logs.Warnf("reconcile: symbol=%s previous cycle still in flight, skip", symbol)
		return res, nil
	}
	defer release()

	if res.Desired, err = e.desired(ctx, symbol); err != nil {
		return res, err
	}

	actual, agreeing, ok := e.actual(ctx, symbol)
	res.Agreeing = agreeing
	if !ok {
		res.Outcome = OutcomeSkipNoQuorum
		logs.Warnf("reconcile: symbol=%s no quorum, agreeing=%d quorum=%d, skip", symbol, agreeing, e.cfg.Quorum)
		return res, nil
	}
	res.Actual = actual
	res.Gap = res.Desired - res.Actual

	price, err := marketdata.LatestPrice(ctx, e.deps.Market, symbol)
	if err != nil {
		res.Outcome = OutcomeSkipNoPrice
		logs.Warnf("reconcile: symbol=%s no price, skip, err: %+v", symbol, err)
		return res, nil
	}
	res.Price = price

	if res.Threshold, err = e.threshold(ctx); err != nil {
		return res, err
	}

	if value := math.Abs(res.Gap * price); value < res.Threshold {
		res.Outcome = OutcomeSkipBelowThreshold
		logs.Debugf("reconcile: symbol=%s gap=%.8f value=%.4f below threshold=%.4f, skip",
			symbol, res.Gap, value, res.Threshold)
		return res, nil
	}

	req := e.deps.Orders.MarketOrder(symbol, res.Gap)
	if !req.Size.IsPositive() {
		res.Outcome = OutcomeSkipBelowThreshold
		logs.Debugf("reconcile: symbol=%s gap=%.8f rounds to zero size, skip", symbol, res.Gap)
		return res, nil
	}
	res.Order = &req
	resp, err := e.deps.Orders.Submit(ctx, req)
	if errors.Is(err, exception.ErrOrderRejected) {
		res.Outcome = OutcomeRejected
		res.Reason = resp.Reason
		logs.Warnf("reconcile: symbol=%s order rejected, gap carries to next cycle, reason: %s", symbol, resp.Reason)
		return res, nil
	}
	if err != nil {
		res.Outcome = OutcomeSubmitFailed
		res.Reason = err.Error()
		logs.Errorf("reconcile: symbol=%s submit %s %s failed, gap carries to next cycle, err: %+v",
			symbol, req.Side, req.Size, err)
		return res, nil
	}

	res.Outcome = OutcomeSubmitted
	e.deps.Metrics.IncOrder(symbol, string(req.Side))
	logs.Infof("reconcile: symbol=%s desired=%.8f actual=%.8f gap=%.8f price=%.4f submitted %s %s",
		symbol, res.Desired, res.Actual, res.Gap, price, req.Side, req.Size)
	return res, nil
}

// acquire guards against a symbol's cycles overlapping: an in-process flag
// plus a short-lived cache marker for other processes.
func (e *Engine) acquire(ctx context.Context, symbol string) (func(), bool) {
	v, _ := e.inflight.LoadOrStore(symbol, new(atomic.Bool))
	flag := v.(*atomic.Bool)
	if !flag.CompareAndSwap(false, true) {
		return nil, false
	}

	key := cache.ReconcileKey(symbol)
	set, err := e.deps.Cache.SetNX(ctx, key, []byte{'1'}, e.cfg.InFlightTTL)
	if err != nil {
		logs.Warnf("reconcile: symbol=%s set in-flight marker, err: %+v", symbol, err)
		set = true
	}
	if !set {
		flag.Store(false)
		return nil, false
	}

	return func() {
		if err := e.deps.Cache.Delete(context.WithoutCancel(ctx), key); err != nil {
			logs.Warnf("reconcile: symbol=%s clear in-flight marker, err: %+v", symbol, err)
		}
		flag.Store(false)
	}, true
}

func (e *Engine) desired(ctx context.Context, symbol string) (float64, error) {
	runs, err := e.deps.Positions.ActiveRuns(ctx, symbol)
	if err != nil {
		return 0, err
	}
	sum := 0.0
	for _, r := range runs {
		sum += r.Exposure()
	}
	return sum, nil
}

func (e *Engine) actual(ctx context.Context, symbol string) (float64, int, bool) {
	reports := e.deps.Observers.Collect(ctx, symbol)
	votes := make([]float64, 0, len(reports)+1)
	for _, r := range reports {
		votes = append(votes, r.Position.InexactFloat64())
	}

	local, localErr := e.deps.Exchange.Position(ctx, symbol)
	if localErr != nil {
		logs.Warnf("reconcile: symbol=%s local position unavailable, err: %+v", symbol, localErr)
	} else if e.cfg.LocalVotes {
		votes = append(votes, local)
	}

	value, agreeing, ok := Consensus(votes, e.cfg.Quorum, e.cfg.Tolerance)
	if ok && localErr == nil && !agree(local, value, e.cfg.Tolerance) {
		logs.Warnf("reconcile: symbol=%s local position %.8f disagrees with consensus %.8f", symbol, local, value)
	}
	return value, agreeing, ok
}

func (e *Engine) threshold(ctx context.Context) (float64, error) {
	if !e.cfg.Threshold.NeedsBalance() {
		return e.cfg.Threshold.Value(0), nil
	}
	balance, err := e.deps.Exchange.Balance(ctx)
	if err != nil {
		return 0, err
	}
	return e.cfg.Threshold.Value(balance), nil
}
