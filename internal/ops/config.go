package ops

import (
	"os"
	"strings"
	"time"

	"providence/internal/bus"
	"providence/internal/cache"
	xerrors "providence/internal/errors"
	"providence/internal/exchange"
	"providence/internal/observer"
	"providence/internal/providence"
	"providence/internal/reconcile"
	"providence/internal/risk"
	"providence/internal/takeprofit"
	"providence/pkg/backoff"
	"providence/pkg/conn"
	"providence/pkg/exception"

	"github.com/bytedance/sonic"
)

// Secrets are read from the environment, never from the file.
const (
	EnvPostgresPassword = "PROVIDENCE_POSTGRES_PASSWORD"
	EnvPostgresDSN      = "PROVIDENCE_POSTGRES_DSN"
	EnvRedisPassword    = "PROVIDENCE_REDIS_PASSWORD"
	EnvNATSToken        = "PROVIDENCE_NATS_TOKEN"
	EnvOrderAPIKey      = "PROVIDENCE_ORDER_API_KEY"
)

var decoder = sonic.Config{DisallowUnknownFields: true}.Froze()

// FileConfig mirrors the JSON config layout.
type FileConfig struct {
	TargetRuns *int     `json:"targetRuns"`
	Symbols    []string `json:"symbols"`

	Intervals IntervalsConfig `json:"intervals"`
	Entropy   EntropyConfig   `json:"entropy"`
	Sampling  SamplingConfig  `json:"sampling"`

	Risk       *risk.Config `json:"risk"`
	RiskSizing *risk.Sizing `json:"riskSizing"`

	Reconcile  ReconcileConfig  `json:"reconcile"`
	Observers  ObserversConfig  `json:"observers"`
	Order      OrderConfig      `json:"order"`
	Exchange   ExchangeConfig   `json:"exchange"`
	Router     RouterConfig     `json:"router"`
	Cache      CacheConfig      `json:"cache"`
	Postgres   PostgresConfig   `json:"postgres"`
	MarketData MarketDataConfig `json:"marketData"`
	TakeProfit TakeProfitConfig `json:"takeProfit"`
	Metrics    MetricsConfig    `json:"metrics"`
	Profiling  ProfilingConfig  `json:"profiling"`
}

type IntervalsConfig struct {
	Supervisor      Duration `json:"supervisor"`
	Iteration       Duration `json:"iteration"`
	IterationJitter Duration `json:"iterationJitter"`
	Rebalance       Duration `json:"rebalance"`
	Purge           Duration `json:"purge"`
}

type EntropyConfig struct {
	Order int      `json:"order"`
	Delay int      `json:"delay"`
	Low   *float64 `json:"low"`
	High  *float64 `json:"high"`
}

type SamplingConfig struct {
	WindowMin        int      `json:"windowMin"`
	WindowMax        int      `json:"windowMax"`
	SizeScalerMin    float64  `json:"sizeScalerMin"`
	SizeScalerMax    float64  `json:"sizeScalerMax"`
	SwingProbability *float64 `json:"swingProbability"`
	MaxDurationMin   Duration `json:"maxDurationMin"`
	MaxDurationMax   Duration `json:"maxDurationMax"`
	VirtualBalance   float64  `json:"virtualBalance"`
	FeeRate          *float64 `json:"feeRate"`
	MaxHistory       int      `json:"maxHistory"`
	StaleAfter       Duration `json:"staleAfter"`
	PurgeGrace       Duration `json:"purgeGrace"`
}

type ReconcileConfig struct {
	MinTradeThreshold *reconcile.Threshold `json:"minTradeThreshold"`
	Quorum            int                  `json:"quorum"`
	Tolerance         float64              `json:"tolerance"`
	LocalVotes        bool                 `json:"localVotes"`
	InFlightTTL       Duration             `json:"inFlightTTL"`
	Concurrency       int                  `json:"concurrency"`
}

type ObserversConfig struct {
	Nodes   []string `json:"nodes"`
	Timeout Duration `json:"timeout"`
	MaxAge  Duration `json:"maxAge"`
}

type OrderConfig struct {
	Endpoint  string   `json:"endpoint"`
	Timeout   Duration `json:"timeout"`
	Precision *int32   `json:"precision"`
}

type ExchangeConfig struct {
	BreakerFailures uint32   `json:"breakerFailures"`
	BreakerCooldown Duration `json:"breakerCooldown"`
	BreakerProbes   uint32   `json:"breakerProbes"`
}

type RouterConfig struct {
	HighCapacity int      `json:"highCapacity"`
	LowCapacity  int      `json:"lowCapacity"`
	Workers      int      `json:"workers"`
	HighWorkers  int      `json:"highWorkers"`
	MaxAttempts  int      `json:"maxAttempts"`
	TaskTimeout  Duration `json:"taskTimeout"`
	RetryMin     Duration `json:"retryMin"`
	RetryMax     Duration `json:"retryMax"`
}

type CacheConfig struct {
	// Backend is redis, memory or none.
	Backend   string   `json:"backend"`
	Addr      string   `json:"addr"`
	DB        int      `json:"db"`
	StateTTL  Duration `json:"stateTTL"`
	MarkerTTL Duration `json:"markerTTL"`
}

type PostgresConfig struct {
	Host         string            `json:"host"`
	Port         int               `json:"port"`
	User         string            `json:"user"`
	Database     string            `json:"database"`
	SSLMode      string            `json:"sslMode"`
	Params       map[string]string `json:"params"`
	MaxOpenConns int               `json:"maxOpenConns"`
	Timeout      Duration          `json:"timeout"`
	AutoMigrate  bool              `json:"autoMigrate"`
}

type MarketDataConfig struct {
	Timeframe string `json:"timeframe"`
}

type TakeProfitConfig struct {
	Enabled      bool     `json:"enabled"`
	URL          string   `json:"url"`
	Stream       string   `json:"stream"`
	Subject      string   `json:"subject"`
	Durable      string   `json:"durable"`
	EnsureStream bool     `json:"ensureStream"`
	DedupTTL     Duration `json:"dedupTTL"`
}

type MetricsConfig struct {
	Addr string `json:"addr"`
}

type ProfilingConfig struct {
	Enabled       bool   `json:"enabled"`
	ServerAddress string `json:"serverAddress"`
	AppName       string `json:"appName"`
}

// CacheSpec is the resolved cache backend.
type CacheSpec struct {
	Backend string
	Redis   cache.RedisOption
}

// OrderSpec is the resolved order-execution boundary.
type OrderSpec struct {
	Endpoint  string
	APIKey    string
	Timeout   time.Duration
	Precision int32
}

// PostgresSpec is the resolved store connection.
type PostgresSpec struct {
	Option      conn.Option
	Timeout     time.Duration
	AutoMigrate bool
}

// TakeProfitSpec is the resolved take-profit consumer.
type TakeProfitSpec struct {
	Enabled  bool
	Token    string
	DedupTTL time.Duration
	Consumer takeprofit.Config
}

// Loaded is the resolved, validated configuration. It is built once at start
// and passed by value into each constructor.
type Loaded struct {
	Providence  providence.Config
	Intervals   providence.Intervals
	Risk        risk.Config
	Sizing      risk.Sizing
	Reconcile   reconcile.Config
	Observer    observer.Config
	Order       OrderSpec
	Breaker     exchange.BreakerConfig
	Router      bus.Config
	Cache       CacheSpec
	Postgres    PostgresSpec
	Timeframe   string
	TakeProfit  TakeProfitSpec
	MetricsAddr string
	Profiling   ProfilingConfig
}

// Load reads, resolves and validates a JSON config file. Every failure is a
// KindConfiguration error naming the offending field.
func Load(path string) (Loaded, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, configErr(exception.ErrConfigMissing, "file "+path, err.Error())
	}
	return Parse(data, os.Getenv)
}

// Parse resolves raw JSON using getenv for secrets.
func Parse(data []byte, getenv func(string) string) (Loaded, error) {
	var cfg FileConfig
	if err := decoder.Unmarshal(data, &cfg); err != nil {
		return Loaded{}, configErr(exception.ErrConfigInvalid, "json", err.Error())
	}
	return resolve(cfg, getenv)
}

func configErr(sentinel error, field, msg string) error {
	return xerrors.Mark(xerrors.Wrap(sentinel, field+": "+msg), xerrors.KindConfiguration)
}

func missing(field string) error {
	return configErr(exception.ErrConfigMissing, field, "required")
}

func invalid(field string, err error) error {
	return configErr(exception.ErrConfigInvalid, field, err.Error())
}

func resolve(cfg FileConfig, getenv func(string) string) (Loaded, error) {
	// safety-relevant values have no defaults
	switch {
	case cfg.TargetRuns == nil:
		return Loaded{}, missing("targetRuns")
	case len(cfg.Symbols) == 0:
		return Loaded{}, missing("symbols")
	case cfg.Entropy.Low == nil:
		return Loaded{}, missing("entropy.low")
	case cfg.Entropy.High == nil:
		return Loaded{}, missing("entropy.high")
	case cfg.Risk == nil:
		return Loaded{}, missing("risk")
	case cfg.RiskSizing == nil:
		return Loaded{}, missing("riskSizing")
	case cfg.Reconcile.MinTradeThreshold == nil:
		return Loaded{}, missing("reconcile.minTradeThreshold")
	case len(cfg.Observers.Nodes) == 0:
		return Loaded{}, missing("observers.nodes")
	case strings.TrimSpace(cfg.Order.Endpoint) == "":
		return Loaded{}, missing("order.endpoint")
	}

	if err := cfg.Risk.Validate(); err != nil {
		return Loaded{}, invalid("risk", err)
	}
	if err := cfg.RiskSizing.Validate(); err != nil {
		return Loaded{}, invalid("riskSizing", err)
	}

	iteration := cfg.Intervals.Iteration.Or(time.Minute)
	markerTTL := cfg.Cache.MarkerTTL.Or(2 * iteration)

	prov := providence.Config{
		TargetRuns:        *cfg.TargetRuns,
		Symbols:           cfg.Symbols,
		IterationInterval: iteration,
		IterationJitter:   cfg.Intervals.IterationJitter.Or(iteration / 4),
		EntropyOrder:      orInt(cfg.Entropy.Order, 3),
		EntropyDelay:      orInt(cfg.Entropy.Delay, 1),
		EntropyLow:        *cfg.Entropy.Low,
		EntropyHigh:       *cfg.Entropy.High,
		MaxHistory:        orInt(cfg.Sampling.MaxHistory, 256),
		StateTTL:          cfg.Cache.StateTTL.Or(24 * time.Hour),
		MarkerTTL:         markerTTL,
		PurgeGrace:        cfg.Sampling.PurgeGrace.Or(time.Hour),
		StaleAfter:        time.Duration(cfg.Sampling.StaleAfter),
		Sampling: providence.Sampling{
			WindowMin:        orInt(cfg.Sampling.WindowMin, 5),
			WindowMax:        orInt(cfg.Sampling.WindowMax, 20),
			SizeScalerMin:    orFloat(cfg.Sampling.SizeScalerMin, 1),
			SizeScalerMax:    orFloat(cfg.Sampling.SizeScalerMax, 1),
			SwingProbability: orFloatPtr(cfg.Sampling.SwingProbability, 0.5),
			MaxDurationMin:   time.Duration(cfg.Sampling.MaxDurationMin),
			MaxDurationMax:   time.Duration(cfg.Sampling.MaxDurationMax),
			VirtualBalance:   orFloat(cfg.Sampling.VirtualBalance, 7000),
			FeeRate:          orFloatPtr(cfg.Sampling.FeeRate, 0.0004),
		},
	}
	if err := prov.Validate(); err != nil {
		return Loaded{}, invalid("providence", err)
	}

	rec := reconcile.Config{
		Symbols:     cfg.Symbols,
		Quorum:      orInt(cfg.Reconcile.Quorum, 2),
		Tolerance:   cfg.Reconcile.Tolerance,
		LocalVotes:  cfg.Reconcile.LocalVotes,
		Threshold:   *cfg.Reconcile.MinTradeThreshold,
		InFlightTTL: cfg.Reconcile.InFlightTTL.Or(cfg.Intervals.Rebalance.Or(time.Minute)),
		Concurrency: cfg.Reconcile.Concurrency,
	}
	if err := rec.Validate(); err != nil {
		return Loaded{}, invalid("reconcile", err)
	}

	for i, node := range cfg.Observers.Nodes {
		if !strings.HasPrefix(node, "http://") && !strings.HasPrefix(node, "https://") {
			return Loaded{}, invalid("observers.nodes", errIndex(i, node))
		}
	}

	cacheSpec, err := resolveCache(cfg.Cache, getenv)
	if err != nil {
		return Loaded{}, err
	}
	pg, err := resolvePostgres(cfg.Postgres, getenv)
	if err != nil {
		return Loaded{}, err
	}
	tp, err := resolveTakeProfit(cfg.TakeProfit, getenv)
	if err != nil {
		return Loaded{}, err
	}

	precision := int32(8)
	if cfg.Order.Precision != nil {
		precision = *cfg.Order.Precision
	}

	return Loaded{
		Providence: prov,
		Intervals: providence.Intervals{
			Supervisor: cfg.Intervals.Supervisor.Or(30 * time.Second),
			Iteration:  iteration,
			Reconcile:  cfg.Intervals.Rebalance.Or(time.Minute),
			Purge:      cfg.Intervals.Purge.Or(10 * time.Minute),
		},
		Risk:      *cfg.Risk,
		Sizing:    *cfg.RiskSizing,
		Reconcile: rec,
		Observer: observer.Config{
			Nodes:   cfg.Observers.Nodes,
			Timeout: cfg.Observers.Timeout.Or(3 * time.Second),
			MaxAge:  cfg.Observers.MaxAge.Or(5 * time.Minute),
		},
		Order: OrderSpec{
			Endpoint:  strings.TrimRight(cfg.Order.Endpoint, "/"),
			APIKey:    getenv(EnvOrderAPIKey),
			Timeout:   cfg.Order.Timeout.Or(5 * time.Second),
			Precision: precision,
		},
		Breaker: exchange.BreakerConfig{
			Failures: cfg.Exchange.BreakerFailures,
			Cooldown: time.Duration(cfg.Exchange.BreakerCooldown),
			Probes:   cfg.Exchange.BreakerProbes,
		},
		Router: bus.Config{
			HighCapacity: orInt(cfg.Router.HighCapacity, 64),
			LowCapacity:  orInt(cfg.Router.LowCapacity, 4*(*cfg.TargetRuns)),
			Workers:      orInt(cfg.Router.Workers, 8),
			HighWorkers:  orInt(cfg.Router.HighWorkers, 2),
			MaxAttempts:  orInt(cfg.Router.MaxAttempts, 3),
			TaskTimeout:  cfg.Router.TaskTimeout.Or(30 * time.Second),
			Backoff: backoff.Backoff{
				Min:    cfg.Router.RetryMin.Or(backoff.Default().Min),
				Max:    cfg.Router.RetryMax.Or(backoff.Default().Max),
				Factor: backoff.Default().Factor,
				Jitter: backoff.Default().Jitter,
			},
		},
		Cache:       cacheSpec,
		Postgres:    pg,
		Timeframe:   orString(cfg.MarketData.Timeframe, "1m"),
		TakeProfit:  tp,
		MetricsAddr: cfg.Metrics.Addr,
		Profiling:   cfg.Profiling,
	}, nil
}

func resolveCache(cfg CacheConfig, getenv func(string) string) (CacheSpec, error) {
	backend := orString(cfg.Backend, "memory")
	switch backend {
	case "redis":
		if cfg.Addr == "" {
			return CacheSpec{}, missing("cache.addr")
		}
		return CacheSpec{Backend: backend, Redis: cache.RedisOption{
			Addr:     cfg.Addr,
			Password: getenv(EnvRedisPassword),
			DB:       cfg.DB,
		}}, nil
	case "memory", "none":
		return CacheSpec{Backend: backend}, nil
	default:
		return CacheSpec{}, configErr(exception.ErrConfigInvalid, "cache.backend", "must be redis, memory or none")
	}
}

func resolvePostgres(cfg PostgresConfig, getenv func(string) string) (PostgresSpec, error) {
	opt := conn.Option{
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Database:     cfg.Database,
		SSLMode:      cfg.SSLMode,
		Params:       cfg.Params,
		MaxOpenConns: cfg.MaxOpenConns,
		ConnString:   getenv(EnvPostgresDSN),
	}
	if opt.ConnString == "" {
		if cfg.Database == "" {
			return PostgresSpec{}, missing("postgres.database")
		}
		if opt.Password = getenv(EnvPostgresPassword); opt.Password == "" {
			return PostgresSpec{}, missing(EnvPostgresPassword)
		}
	}
	return PostgresSpec{
		Option:      opt,
		Timeout:     cfg.Timeout.Or(2 * time.Second),
		AutoMigrate: cfg.AutoMigrate,
	}, nil
}

func resolveTakeProfit(cfg TakeProfitConfig, getenv func(string) string) (TakeProfitSpec, error) {
	if !cfg.Enabled {
		return TakeProfitSpec{}, nil
	}
	switch {
	case cfg.URL == "":
		return TakeProfitSpec{}, missing("takeProfit.url")
	case cfg.Stream == "":
		return TakeProfitSpec{}, missing("takeProfit.stream")
	case cfg.Subject == "":
		return TakeProfitSpec{}, missing("takeProfit.subject")
	}
	return TakeProfitSpec{
		Enabled:  true,
		Token:    getenv(EnvNATSToken),
		DedupTTL: cfg.DedupTTL.Or(24 * time.Hour),
		Consumer: takeprofit.Config{
			URL:          cfg.URL,
			Stream:       cfg.Stream,
			Subject:      cfg.Subject,
			Durable:      orString(cfg.Durable, "providence-height"),
			EnsureStream: cfg.EnsureStream,
		},
	}, nil
}
