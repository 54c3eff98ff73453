package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"providence/internal/bus"
	"providence/internal/cache"
	"providence/internal/exchange"
	"providence/internal/marketdata"
	"providence/internal/obs"
	"providence/internal/observer"
	"providence/internal/ops"
	"providence/internal/order"
	"providence/internal/order/delegator/gateway"
	"providence/internal/providence"
	"providence/internal/reconcile"
	"providence/internal/risk"
	"providence/internal/store"
	"providence/internal/takeprofit"
	"providence/pkg/conn"

	"github.com/grafana/pyroscope-go"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sourcegraph/conc"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
)

func main() {
	configPath := flag.String("config", "providence.json", "Path to JSON config")
	migrate := flag.Bool("migrate", false, "Create or update tables and exit")
	flag.Parse()

	loaded, err := ops.Load(*configPath)
	if err != nil {
		logs.Errorf("config load failed, err: %+v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-sys.Shutdown()
		logs.Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, loaded, *migrate); err != nil {
		logs.Errorf("providence stopped, err: %+v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg ops.Loaded, migrateOnly bool) error {
	if cfg.Profiling.Enabled {
		profiler, err := pyroscope.Start(pyroscope.Config{
			ApplicationName: orDefault(cfg.Profiling.AppName, "providence"),
			ServerAddress:   cfg.Profiling.ServerAddress,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
			},
		})
		if err != nil {
			return err
		}
		defer func() {
			_ = profiler.Stop()
		}()
	}

	pg, err := conn.New(cfg.Postgres.Option)
	if err != nil {
		return err
	}
	defer func() {
		if err := pg.Close(); err != nil {
			logs.Warnf("postgres close, err: %+v", err)
		}
	}()

	st := store.New(pg.DB(), cfg.Postgres.Timeout)
	if cfg.Postgres.AutoMigrate || migrateOnly {
		if err := st.AutoMigrate(ctx); err != nil {
			return err
		}
		logs.Info("store migrated")
	}
	if migrateOnly {
		return nil
	}

	kv, closeCache, err := newCache(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := obs.NewMetrics(reg)

	market := marketdata.NewStoreSource(st, cfg.Timeframe)
	router := bus.NewRouter(cfg.Router, metrics)

	svc := providence.NewService(cfg.Providence, providence.Deps{
		Store:   st,
		Cache:   kv,
		Market:  market,
		Risk:    risk.NewEngine(cfg.Risk),
		Sizing:  cfg.Sizing,
		Metrics: metrics,
	})

	httpClient := &http.Client{}
	engine := reconcile.NewEngine(cfg.Reconcile, reconcile.Deps{
		Positions: st,
		Observers: observer.NewClient(httpClient, cfg.Observer),
		Exchange:  exchange.NewBreaker(exchange.NewRecorded(st), cfg.Breaker),
		Market:    market,
		Orders: order.NewUsecase(
			gateway.NewDelegator(httpClient, cfg.Order.Endpoint, cfg.Order.APIKey, cfg.Order.Timeout),
			cfg.Order.Precision,
		),
		Cache:   kv,
		Metrics: metrics,
	})

	controller := providence.NewController(svc, engine, router, cfg.Intervals)

	var wg conc.WaitGroup
	wg.Go(func() { router.Run(ctx) })
	wg.Go(func() { controller.Run(ctx) })

	if cfg.TakeProfit.Enabled {
		var opts []nats.Option
		if cfg.TakeProfit.Token != "" {
			opts = append(opts, nats.Token(cfg.TakeProfit.Token))
		}
		nc, js, err := takeprofit.Connect(cfg.TakeProfit.Consumer.URL, opts...)
		if err != nil {
			router.Close()
			wg.Wait()
			return err
		}
		defer nc.Close()

		consumer := takeprofit.NewConsumer(js, cfg.TakeProfit.Consumer,
			takeprofit.NewHandler(controller, kv, cfg.TakeProfit.DedupTTL, 0))
		if err := consumer.Start(ctx); err != nil {
			router.Close()
			wg.Wait()
			return err
		}
		defer consumer.Stop()
	}

	var server *http.Server
	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
		server = &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		wg.Go(func() {
			logs.Infof("metrics listening on %s/metrics", cfg.MetricsAddr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logs.Errorf("metrics server, err: %+v", err)
			}
		})
	}

	logs.Infof("providence started, target_runs=%d symbols=%v", cfg.Providence.TargetRuns, cfg.Providence.Symbols)
	<-ctx.Done()

	if server != nil {
		shutCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
		_ = server.Shutdown(shutCtx)
		stop()
	}
	router.Close()
	wg.Wait()
	logs.Info("providence stopped")
	return nil
}

func newCache(ctx context.Context, c ops.CacheSpec) (cache.Cache, func(), error) {
	switch c.Backend {
	case "redis":
		r := cache.NewRedis(c.Redis)
		if err := r.Ping(ctx); err != nil {
			_ = r.Close()
			return nil, nil, err
		}
		return r, func() { _ = r.Close() }, nil
	case "none":
		return cache.Nop{}, func() {}, nil
	default:
		m := cache.NewMemory()
		return m, m.Close, nil
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
