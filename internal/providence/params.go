package providence

import (
	"math/rand/v2"
	"sync"
	"time"

	"providence/internal/model"
)

// Sampler draws strategy parameters for new runs.
type Sampler struct {
	mu      sync.Mutex
	rnd     *rand.Rand
	cfg     Sampling
	symbols []string
}

// NewSampler seeds a sampler. The same seed yields the same parameter sequence.
func NewSampler(cfg Sampling, symbols []string, seed uint64) *Sampler {
	return &Sampler{
		rnd:     rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		cfg:     cfg,
		symbols: symbols,
	}
}

// Sample returns a symbol and parameters. cohortScale is recorded as drawn.
func (s *Sampler) Sample(cohortScale float64) (string, model.Params) {
	s.mu.Lock()
	defer s.mu.Unlock()

	symbol := s.symbols[s.rnd.IntN(len(s.symbols))]
	return symbol, model.Params{
		VirtualBalance: s.cfg.VirtualBalance,
		FeeRate:        s.cfg.FeeRate,
		WindowSamples:  s.cfg.WindowMin + s.rnd.IntN(s.cfg.WindowMax-s.cfg.WindowMin+1),
		SizeScaler:     s.cfg.SizeScalerMin + s.rnd.Float64()*(s.cfg.SizeScalerMax-s.cfg.SizeScalerMin),
		SystemSwing:    s.rnd.Float64() < s.cfg.SwingProbability,
		MaxDuration:    s.duration(),
		CohortScale:    cohortScale,
	}
}

func (s *Sampler) duration() time.Duration {
	span := s.cfg.MaxDurationMax - s.cfg.MaxDurationMin
	if span <= 0 {
		return s.cfg.MaxDurationMin
	}
	return s.cfg.MaxDurationMin + time.Duration(s.rnd.Int64N(int64(span)+1))
}
