package reconcile_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"providence/internal/bus"
	"providence/internal/cache"
	"providence/internal/exchange"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/model/enum"
	"providence/internal/observer"
	"providence/internal/order"
	"providence/internal/order/delegator/gateway"
	"providence/internal/providence"
	"providence/internal/reconcile"
	"providence/internal/risk"
	"providence/internal/store"
	"providence/internal/testutil"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func observerNode(t *testing.T, position string, status int) string {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = fmt.Fprintf(w, `{"observer_id":"n","timestamp":%q,"positions":{"BTC":%s}}`,
			time.Now().Format(time.RFC3339Nano), position)
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func TestEndToEndCorrectsRemainingGap(t *testing.T) {
	ctx := context.Background()

	st := store.New(testutil.NewDB(t), time.Second)
	require.NoError(t, st.AutoMigrate(ctx))
	base := time.Now().Add(-10 * time.Minute)
	bars := make([]model.Candle, 0, 5)
	for i := range 5 {
		bars = append(bars, model.Candle{Symbol: "BTC", Timeframe: "1m", Timestamp: base.Add(time.Duration(i) * time.Minute), Close: float64(96 + i)})
	}
	require.NoError(t, st.RecordCandles(ctx, bars))
	require.NoError(t, st.RecordPosition(ctx, model.PositionRecord{Symbol: "BTC", PositionSize: 20, Timestamp: time.Now()}))

	mem := cache.NewMemory()
	defer mem.Close()
	src := marketdata.NewStoreSource(st, "1m")

	svc := providence.NewService(providence.Config{
		TargetRuns:        3,
		Symbols:           []string{"BTC"},
		IterationInterval: time.Second,
		EntropyOrder:      3,
		EntropyDelay:      1,
		EntropyLow:        0.4,
		EntropyHigh:       0.8,
		MaxHistory:        64,
		StateTTL:          time.Hour,
		MarkerTTL:         time.Minute,
		PurgeGrace:        time.Hour,
		Sampling: providence.Sampling{
			WindowMin: 5, WindowMax: 5,
			SizeScalerMin: 1, SizeScalerMax: 1,
			VirtualBalance: 7000, FeeRate: 0.0004,
		},
	}, providence.Deps{
		Store:  st,
		Cache:  mem,
		Market: src,
		Risk: risk.NewEngine(risk.Config{
			KellyFraction: 0.5, MaxIncrease: 1, MaxDecrease: -0.5, DrawdownFloor: 0.2, CohortMinSamples: 10,
		}),
		Sizing: risk.Sizing{Mode: risk.SizingUnits, Units: 10},
	})

	created, err := svc.Supervise(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, created)

	router := bus.NewRouter(bus.Config{HighCapacity: 8, LowCapacity: 8, Workers: 2}, nil)
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go router.Run(runCtx)

	scheduled, err := svc.Schedule(ctx, router)
	require.NoError(t, err)
	require.Equal(t, 3, scheduled)

	require.Eventually(t, func() bool {
		runs, err := st.ActiveRuns(ctx, "BTC")
		if err != nil || len(runs) != 3 {
			return false
		}
		for _, r := range runs {
			if r.PositionDirection != enum.DirectionLong || r.RiskPosSize != 10 {
				return false
			}
		}
		return true
	}, 5*time.Second, 5*time.Millisecond)

	var (
		mu   sync.Mutex
		sent []map[string]any
	)
	gw := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var req map[string]any
		assert.NoError(t, sonic.Unmarshal(body, &req))
		mu.Lock()
		sent = append(sent, req)
		mu.Unlock()
		_, _ = w.Write([]byte(`{"accepted":true,"order_id":"o-1"}`))
	}))
	defer gw.Close()

	engine := reconcile.NewEngine(reconcile.Config{
		Symbols:   []string{"BTC"},
		Threshold: reconcile.Threshold{Mode: reconcile.ThresholdFixed, Amount: 5},
	}, reconcile.Deps{
		Positions: st,
		Observers: observer.NewClient(nil, observer.Config{Nodes: []string{
			observerNode(t, `"20"`, http.StatusOK),
			observerNode(t, `20`, http.StatusOK),
			observerNode(t, `0`, http.StatusServiceUnavailable),
		}}),
		Exchange: exchange.NewBreaker(exchange.NewRecorded(st), exchange.BreakerConfig{}),
		Market:   src,
		Orders:   order.NewUsecase(gateway.NewDelegator(gw.Client(), gw.URL, "", time.Second), 8),
		Cache:    mem,
	})

	res, err := engine.Reconcile(ctx, "BTC")
	require.NoError(t, err)
	assert.Equal(t, reconcile.OutcomeSubmitted, res.Outcome)
	assert.Equal(t, 30.0, res.Desired)
	assert.Equal(t, 20.0, res.Actual)
	assert.Equal(t, 10.0, res.Gap)
	assert.Equal(t, 100.0, res.Price)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, sent, 1)
	assert.Equal(t, "BTC", sent[0]["symbol"])
	assert.Equal(t, "buy", sent[0]["side"])
	assert.Equal(t, "10", sent[0]["size"])
	assert.Equal(t, "market", sent[0]["type"])
}
