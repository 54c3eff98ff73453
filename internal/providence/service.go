package providence

import (
	"context"
	"time"

	"providence/internal/bus"
	"providence/internal/cache"
	"providence/internal/marketdata"
	"providence/internal/model"
	"providence/internal/obs"
	"providence/internal/risk"
	"providence/internal/store"
)

// Store is the run storage the scheduler needs.
type Store interface {
	CreateRuns(ctx context.Context, runs []model.Run) error
	GetRun(ctx context.Context, id string) (model.Run, error)
	CountActive(ctx context.Context) (int64, error)
	ActiveRunIDs(ctx context.Context) ([]string, error)
	SaveIteration(ctx context.Context, run model.Run, prevCycle int64) error
	MarkCorrupted(ctx context.Context, id string) error
	StampHeight(ctx context.Context) (store.Stamp, error)
	MarkStale(ctx context.Context, cutoff, now time.Time) (int64, error)
	ExitedBefore(ctx context.Context, cutoff time.Time) ([]string, error)
	DeleteRuns(ctx context.Context, ids []string) (int64, error)
	CohortPnL(ctx context.Context, stamped bool) ([]float64, error)
}

// Submitter accepts tasks for dispatch.
type Submitter interface {
	Submit(bus.Task) error
}

// Service is the run scheduler. All collaborators are injected; it holds no
// mutable state of its own beyond the parameter sampler.
type Service struct {
	cfg     Config
	store   Store
	cache   cache.Cache
	market  marketdata.Source
	risk    *risk.Engine
	sizing  risk.Sizing
	sampler *Sampler
	metrics *obs.Metrics
	now     func() time.Time
}

// Deps groups the Service collaborators.
type Deps struct {
	Store   Store
	Cache   cache.Cache
	Market  marketdata.Source
	Risk    *risk.Engine
	Sizing  risk.Sizing
	Sampler *Sampler
	Metrics *obs.Metrics
}

func NewService(cfg Config, deps Deps) *Service {
	c := deps.Cache
	if c == nil {
		c = cache.Nop{}
	}
	sampler := deps.Sampler
	if sampler == nil {
		sampler = NewSampler(cfg.Sampling, cfg.Symbols, uint64(time.Now().UnixNano()))
	}
	return &Service{
		cfg:     cfg,
		store:   deps.Store,
		cache:   c,
		market:  deps.Market,
		risk:    deps.Risk,
		sizing:  deps.Sizing,
		sampler: sampler,
		metrics: deps.Metrics,
		now:     time.Now,
	}
}

// Cycle numbers the iteration period containing t.
func (s *Service) Cycle(t time.Time) int64 {
	return t.UnixMilli() / s.cfg.IterationInterval.Milliseconds()
}
