package ops

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	xerrors "providence/internal/errors"
	"providence/internal/reconcile"
	"providence/internal/risk"
	"providence/pkg/exception"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `{
	"targetRuns": 40,
	"symbols": ["BTC/USDT", "ETH/USDT"],
	"intervals": {"iteration": "30s", "iterationJitter": "5s", "rebalance": "1m"},
	"entropy": {"order": 3, "delay": 1, "low": 0.4, "high": 0.8},
	"sampling": {"windowMin": 6, "windowMax": 24, "maxDurationMin": "1h", "maxDurationMax": "6h"},
	"risk": {"kellyFraction": 0.5, "maxIncrease": 1.5, "maxDecrease": 0.5, "drawdownFloor": 0.1, "cohortMinSamples": 5},
	"riskSizing": {"mode": "units", "units": 0.01},
	"reconcile": {"minTradeThreshold": {"mode": "fixed", "amount": 10}, "quorum": 3},
	"observers": {"nodes": ["http://obs-1:8080", "https://obs-2:8080", "http://obs-3:8080"], "timeout": "2s"},
	"order": {"endpoint": "http://gateway:9000/", "precision": 4},
	"cache": {"backend": "redis", "addr": "redis:6379"},
	"postgres": {"host": "pg", "port": 5432, "user": "providence", "database": "providence", "autoMigrate": true},
	"takeProfit": {"enabled": true, "url": "nats://nats:4222", "stream": "TAKE_PROFIT", "subject": "providence.takeprofit"},
	"metrics": {"addr": ":9090"}
}`

func env(kv map[string]string) func(string) string {
	return func(k string) string { return kv[k] }
}

func secrets() func(string) string {
	return env(map[string]string{
		EnvPostgresPassword: "pg-secret",
		EnvRedisPassword:    "redis-secret",
		EnvOrderAPIKey:      "api-key",
		EnvNATSToken:        "nats-token",
	})
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample), secrets())
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Providence.TargetRuns)
	assert.Equal(t, 30*time.Second, cfg.Providence.IterationInterval)
	assert.Equal(t, 5*time.Second, cfg.Providence.IterationJitter)
	assert.Equal(t, 60*time.Second, cfg.Providence.MarkerTTL)
	assert.Equal(t, time.Hour, cfg.Providence.Sampling.MaxDurationMin)
	assert.Equal(t, 0.5, cfg.Providence.Sampling.SwingProbability)
	assert.Equal(t, 0.4, cfg.Providence.EntropyLow)

	assert.Equal(t, 0.1, cfg.Risk.DrawdownFloor)
	assert.Equal(t, risk.SizingUnits, cfg.Sizing.Mode)

	assert.Equal(t, 3, cfg.Reconcile.Quorum)
	assert.Equal(t, reconcile.ThresholdFixed, cfg.Reconcile.Threshold.Mode)
	assert.Equal(t, time.Minute, cfg.Reconcile.InFlightTTL)
	assert.Equal(t, []string{"BTC/USDT", "ETH/USDT"}, cfg.Reconcile.Symbols)

	assert.Len(t, cfg.Observer.Nodes, 3)
	assert.Equal(t, 2*time.Second, cfg.Observer.Timeout)
	assert.Equal(t, 5*time.Minute, cfg.Observer.MaxAge)

	assert.Equal(t, "http://gateway:9000", cfg.Order.Endpoint)
	assert.Equal(t, "api-key", cfg.Order.APIKey)
	assert.EqualValues(t, 4, cfg.Order.Precision)

	assert.Equal(t, "redis", cfg.Cache.Backend)
	assert.Equal(t, "redis-secret", cfg.Cache.Redis.Password)
	assert.Equal(t, "pg-secret", cfg.Postgres.Option.Password)
	assert.True(t, cfg.Postgres.AutoMigrate)

	assert.True(t, cfg.TakeProfit.Enabled)
	assert.Equal(t, "nats-token", cfg.TakeProfit.Token)
	assert.Equal(t, "providence-height", cfg.TakeProfit.Consumer.Durable)

	assert.Equal(t, 160, cfg.Router.LowCapacity)
	assert.Equal(t, "1m", cfg.Timeframe)
	assert.Equal(t, ":9090", cfg.MetricsAddr)
}

func TestParseMissingSafetyValues(t *testing.T) {
	cases := []struct {
		field, drop string
	}{
		{"riskSizing", `"riskSizing": {"mode": "units", "units": 0.01},`},
		{"reconcile.minTradeThreshold", `"reconcile": {"minTradeThreshold": {"mode": "fixed", "amount": 10}, "quorum": 3},`},
		{"risk", `"risk": {"kellyFraction": 0.5, "maxIncrease": 1.5, "maxDecrease": 0.5, "drawdownFloor": 0.1, "cohortMinSamples": 5},`},
		{"entropy.high", `, "high": 0.8`},
		{"targetRuns", `"targetRuns": 40,`},
	}

	for _, c := range cases {
		field, drop := c.field, c.drop
		t.Run(field, func(t *testing.T) {
			raw := strings.Replace(sample, drop, "", 1)
			require.NotEqual(t, sample, raw)

			_, err := Parse([]byte(raw), secrets())
			require.Error(t, err)
			assert.ErrorIs(t, err, exception.ErrConfigMissing)
			assert.Equal(t, xerrors.KindConfiguration, xerrors.KindOf(err))
			assert.Contains(t, err.Error(), field)
		})
	}
}

func TestParseInvalid(t *testing.T) {
	cases := map[string]struct {
		from, to, field string
	}{
		"bad duration":     {`"iteration": "30s"`, `"iteration": "thirty"`, "json"},
		"numeric duration": {`"iteration": "30s"`, `"iteration": 30`, "json"},
		"sub-ms interval":  {`"iteration": "30s"`, `"iteration": "500us"`, "iterationInterval"},
		"unknown field":    {`"targetRuns": 40,`, `"targetRuns": 40, "targetRun": 4,`, "json"},
		"entropy band":     {`"low": 0.4`, `"low": 0.9`, "entropy"},
		"threshold mode":   {`"mode": "fixed"`, `"mode": "dynamic"`, "minTradeThreshold"},
		"observer url":     {`"http://obs-3:8080"`, `"obs-3:8080"`, "observers.nodes"},
		"cache backend":    {`"backend": "redis"`, `"backend": "memcached"`, "cache.backend"},
		"jitter":           {`"iterationJitter": "5s"`, `"iterationJitter": "30s"`, "iterationJitter"},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			raw := strings.Replace(sample, c.from, c.to, 1)
			require.NotEqual(t, sample, raw)

			_, err := Parse([]byte(raw), secrets())
			require.Error(t, err)
			assert.ErrorIs(t, err, exception.ErrConfigInvalid)
			assert.Equal(t, xerrors.KindConfiguration, xerrors.KindOf(err))
			assert.Contains(t, err.Error(), c.field)
		})
	}
}

func TestParseSecrets(t *testing.T) {
	_, err := Parse([]byte(sample), env(nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, exception.ErrConfigMissing)
	assert.Contains(t, err.Error(), EnvPostgresPassword)

	cfg, err := Parse([]byte(sample), env(map[string]string{
		EnvPostgresDSN: "postgres://providence@pg/providence",
	}))
	require.NoError(t, err)
	assert.Equal(t, "postgres://providence@pg/providence", cfg.Postgres.Option.ConnString)
	assert.Empty(t, cfg.Order.APIKey)
}

func TestLoad(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
	assert.Equal(t, xerrors.KindConfiguration, xerrors.KindOf(err))

	path := filepath.Join(t.TempDir(), "providence.json")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))
	t.Setenv(EnvPostgresPassword, "pg-secret")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Providence.TargetRuns)
}
