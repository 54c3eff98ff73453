package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"providence/internal/cache"
	xerrors "providence/internal/errors"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/model/enum"
	"providence/internal/observer"
	"providence/internal/order"
	"providence/pkg/exception"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePositions struct {
	runs []model.Run
	err  error
}

func (f fakePositions) ActiveRuns(context.Context, string) ([]model.Run, error) {
	return f.runs, f.err
}

type fakeObservers []float64

func (f fakeObservers) Collect(_ context.Context, symbol string) []observer.Report {
	out := make([]observer.Report, 0, len(f))
	for _, p := range f {
		out = append(out, observer.Report{Symbol: symbol, Position: decimal.NewFromFloat(p)})
	}
	return out
}

type fakeExchange struct {
	position float64
	balance  float64
	err      error
}

func (f fakeExchange) Position(context.Context, string) (float64, error) { return f.position, f.err }
func (f fakeExchange) Balance(context.Context) (float64, error)          { return f.balance, f.err }

type fakeMarket float64

func (f fakeMarket) LatestWindow(_ context.Context, symbol string, n int) ([]marketdata.Bar, error) {
	if f <= 0 {
		return nil, exception.ErrMarketDataUnavailable
	}
	bars := make([]marketdata.Bar, n)
	for i := range bars {
		bars[i].Close = float64(f)
	}
	return bars, nil
}

type fakeDelegator struct {
	mu   sync.Mutex
	sent []order.Request
	res  order.Response
	err  error
	hold chan struct{}
}

func (d *fakeDelegator) Send(_ context.Context, req order.Request) (order.Response, error) {
	if d.hold != nil {
		<-d.hold
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sent = append(d.sent, req)
	return d.res, d.err
}

func (d *fakeDelegator) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

func longRuns(sizes ...float64) []model.Run {
	runs := make([]model.Run, len(sizes))
	for i, s := range sizes {
		runs[i] = model.Run{Symbol: "BTC", PositionDirection: enum.DirectionLong, RiskPosSize: s}
	}
	return runs
}

type setup struct {
	cfg       Config
	runs      []model.Run
	observers fakeObservers
	exchange  fakeExchange
	price     float64
	delegator *fakeDelegator
	cache     cache.Cache
}

func newSetup() *setup {
	return &setup{
		cfg: Config{
			Symbols:   []string{"BTC"},
			Threshold: Threshold{Mode: ThresholdFixed, Amount: 20},
		},
		runs:      longRuns(10, 10, 10),
		observers: fakeObservers{20, 20, 20},
		exchange:  fakeExchange{position: 20, balance: 10_000},
		price:     1,
		delegator: &fakeDelegator{res: order.Response{Accepted: true, OrderID: "o-1"}},
	}
}

func (s *setup) engine() *Engine {
	return NewEngine(s.cfg, Deps{
		Positions: fakePositions{runs: s.runs},
		Observers: s.observers,
		Exchange:  s.exchange,
		Market:    fakeMarket(s.price),
		Orders:    order.NewUsecase(s.delegator, 8),
		Cache:     s.cache,
	})
}

func TestReconcileSubmitsClosingOrder(t *testing.T) {
	s := newSetup()
	s.price = 6

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, 30.0, res.Desired)
	assert.Equal(t, 20.0, res.Actual)
	assert.Equal(t, 10.0, res.Gap)

	require.Equal(t, 1, s.delegator.count())
	sent := s.delegator.sent[0]
	assert.Equal(t, enum.OrderSideBuy, sent.Side)
	assert.Equal(t, "10", sent.Size.String())
	assert.Equal(t, enum.OrderTypeMarket, sent.Type)
}

func TestReconcileSellsWhenOverExposed(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.observers = fakeObservers{45, 45}

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
	require.Equal(t, 1, s.delegator.count())
	assert.Equal(t, enum.OrderSideSell, s.delegator.sent[0].Side)
	assert.Equal(t, "15", s.delegator.sent[0].Size.String())
}

func TestReconcileSkipsBelowThreshold(t *testing.T) {
	s := newSetup()
	s.price = 0.5 // gap 10 x 0.5 = $5 against $20

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipBelowThreshold, res.Outcome)
	assert.Zero(t, s.delegator.count())
}

func TestReconcilePercentageThreshold(t *testing.T) {
	s := newSetup()
	s.cfg.Threshold = Threshold{Mode: ThresholdPercentage, Percentage: 0.01}
	s.price = 9 // $90 against 1% of 10,000

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipBelowThreshold, res.Outcome)
	assert.Equal(t, 100.0, res.Threshold)

	s.price = 11
	res, err = s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
}

func TestReconcileSkipsWithoutQuorum(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.observers = fakeObservers{20} // 1 of 3 responded

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipNoQuorum, res.Outcome)
	assert.Equal(t, 1, res.Agreeing)
	assert.Zero(t, s.delegator.count())

	s.observers = fakeObservers{20, 25, 30}
	res, err = s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipNoQuorum, res.Outcome)
	assert.Zero(t, s.delegator.count())
}

func TestReconcileLocalVote(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.observers = fakeObservers{20}
	s.cfg.LocalVotes = true

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitted, res.Outcome)
	assert.Equal(t, 2, res.Agreeing)

	// a failed local read never votes
	s.exchange.err = xerrors.Transient(errors.New("timeout"))
	res, err = s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipNoQuorum, res.Outcome)
}

func TestReconcileSkipsWithoutPrice(t *testing.T) {
	s := newSetup()
	s.price = 0

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipNoPrice, res.Outcome)
	assert.Zero(t, s.delegator.count())
}

func TestReconcileRejectionIsReported(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.delegator.res = order.Response{Accepted: false, Reason: "reduce only"}

	res, err := s.engine().Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Equal(t, "reduce only", res.Reason)
}

func TestReconcileTransientFailureIsReturned(t *testing.T) {
	s := newSetup()
	e := NewEngine(s.cfg, Deps{
		Positions: fakePositions{err: xerrors.Transient(errors.New("db down"))},
		Observers: s.observers,
		Exchange:  s.exchange,
		Market:    fakeMarket(100),
		Orders:    order.NewUsecase(s.delegator, 8),
	})
	err := e.ReconcileSymbol(context.Background(), "BTC")
	assert.True(t, xerrors.IsTransient(err))
	assert.Zero(t, s.delegator.count())
}

func TestReconcileSubmitFailureIsNotRetryable(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.delegator.err = xerrors.Transient(exception.ErrOrderGatewayUnavailable)
	e := s.engine()

	res, err := e.Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSubmitFailed, res.Outcome)
	assert.NotEmpty(t, res.Reason)
	require.NotNil(t, res.Order)

	require.NoError(t, e.ReconcileSymbol(context.Background(), "BTC"))
	assert.Equal(t, 2, s.delegator.count())
}

func TestReconcileZeroSizeAfterRoundingIsSkipped(t *testing.T) {
	s := newSetup()
	s.observers = fakeObservers{29.6, 29.6, 29.6}
	e := NewEngine(s.cfg, Deps{
		Positions: fakePositions{runs: s.runs},
		Observers: s.observers,
		Exchange:  s.exchange,
		Market:    fakeMarket(100),
		Orders:    order.NewUsecase(s.delegator, 0),
	})

	// gap 0.4 is worth 40 against a threshold of 20 but rounds to size 0
	res, err := e.Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipBelowThreshold, res.Outcome)
	assert.Nil(t, res.Order)
	assert.Zero(t, s.delegator.count())
}

func TestReconcileOverlappingCycleIsSkipped(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.delegator.hold = make(chan struct{})
	c := cache.NewMemory()
	defer c.Close()
	s.cache = c
	e := s.engine()

	done := make(chan Result)
	go func() {
		res, err := e.Reconcile(context.Background(), "BTC")
		assert.NoError(t, err)
		done <- res
	}()

	require.Eventually(t, func() bool {
		_, ok, _ := c.Get(context.Background(), cache.ReconcileKey("BTC"))
		return ok
	}, time.Second, time.Millisecond)

	res, err := e.Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipInFlight, res.Outcome)

	// another process holding the marker also blocks
	other := s.engine()
	res, err = other.Reconcile(context.Background(), "BTC")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSkipInFlight, res.Outcome)

	close(s.delegator.hold)
	assert.Equal(t, OutcomeSubmitted, (<-done).Outcome)

	_, ok, err := c.Get(context.Background(), cache.ReconcileKey("BTC"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestReconcileAll(t *testing.T) {
	s := newSetup()
	s.price = 100
	s.cfg.Symbols = []string{"BTC", "ETH", "SOL"}

	require.NoError(t, s.engine().ReconcileAll(context.Background()))
	assert.Equal(t, 3, s.delegator.count())
}
