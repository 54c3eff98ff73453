package providence

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"providence/internal/cache"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/risk"
	"providence/internal/store"
	"providence/internal/testutil"

	"github.com/stretchr/testify/require"
)

type fakeMarket struct {
	mu     sync.Mutex
	closes []float64
}

func (m *fakeMarket) LatestWindow(_ context.Context, symbol string, n int) ([]marketdata.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.closes) < n {
		return nil, fmt.Errorf("%s: have %d bars, want %d", symbol, len(m.closes), n)
	}
	bars := make([]marketdata.Bar, n)
	for i, c := range m.closes[len(m.closes)-n:] {
		bars[i] = marketdata.Bar{Close: c}
	}
	return bars, nil
}

func (m *fakeMarket) push(prices ...float64) {
	m.mu.Lock()
	m.closes = append(m.closes, prices...)
	m.mu.Unlock()
}

func testConfig() Config {
	return Config{
		TargetRuns:        3,
		Symbols:           []string{"BTC"},
		IterationInterval: time.Second,
		IterationJitter:   100 * time.Millisecond,
		EntropyOrder:      3,
		EntropyDelay:      1,
		EntropyLow:        0.4,
		EntropyHigh:       0.8,
		MaxHistory:        16,
		StateTTL:          time.Hour,
		MarkerTTL:         time.Minute,
		PurgeGrace:        time.Hour,
		Sampling: Sampling{
			WindowMin:      5,
			WindowMax:      5,
			SizeScalerMin:  1,
			SizeScalerMax:  1,
			VirtualBalance: 7000,
			FeeRate:        0.0004,
		},
	}
}

func testRisk() *risk.Engine {
	return risk.NewEngine(risk.Config{
		KellyFraction:    0.5,
		MaxIncrease:      1,
		MaxDecrease:      -0.5,
		DrawdownFloor:    0.2,
		CohortMinSamples: 10,
	})
}

type fixture struct {
	cfg    Config
	store  *store.Store
	market *fakeMarket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(testutil.NewDB(t), time.Second)
	require.NoError(t, st.AutoMigrate(context.Background()))

	m := &fakeMarket{}
	m.push(96, 97, 98, 99, 100)
	return &fixture{cfg: testConfig(), store: st, market: m}
}

// service builds a Service over the shared store. Each call models one
// process with its own cache.
func (f *fixture) service(c cache.Cache) *Service {
	return f.serviceWith(f.store, c)
}

func (f *fixture) serviceWith(st Store, c cache.Cache) *Service {
	return NewService(f.cfg, Deps{
		Store:   st,
		Cache:   c,
		Market:  f.market,
		Risk:    testRisk(),
		Sizing:  risk.Sizing{Mode: risk.SizingUnits, Units: 10},
		Sampler: NewSampler(f.cfg.Sampling, f.cfg.Symbols, 7),
	})
}

func memoryCache(t *testing.T) *cache.Memory {
	c := cache.NewMemory()
	t.Cleanup(c.Close)
	return c
}

func (f *fixture) run(t *testing.T, id string) model.Run {
	t.Helper()
	r, err := f.store.GetRun(context.Background(), id)
	require.NoError(t, err)
	return r
}

func (f *fixture) spawn(t *testing.T, svc *Service, n int) []string {
	t.Helper()
	f.cfg.TargetRuns = n
	svc.cfg.TargetRuns = n
	_, err := svc.Supervise(context.Background())
	require.NoError(t, err)
	ids, err := f.store.ActiveRunIDs(context.Background())
	require.NoError(t, err)
	require.Len(t, ids, n)
	return ids
}

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
