package providence

import (
	"fmt"
	"time"

	"providence/internal/entropy"
)

// Config is the immutable run-scheduler configuration.
type Config struct {
	// TargetRuns is the population the supervisor maintains.
	TargetRuns int
	Symbols    []string

	// IterationInterval is the cycle period; one iteration per run per cycle.
	IterationInterval time.Duration
	// IterationJitter spreads a cycle's iterations over [0, jitter).
	IterationJitter time.Duration

	EntropyOrder int
	EntropyDelay int
	// EntropyLow and EntropyHigh bound the dead band: below low is long,
	// above high is short, in between is flat.
	EntropyLow  float64
	EntropyHigh float64

	// MaxHistory is the event count above which a ledger is compacted.
	MaxHistory int

	StateTTL  time.Duration
	MarkerTTL time.Duration

	// PurgeGrace is how long an exited run is kept before deletion.
	PurgeGrace time.Duration
	// StaleAfter exits flat unstamped runs older than this. Zero disables.
	StaleAfter time.Duration

	Sampling Sampling
}

// Sampling bounds the parameters drawn for each new run.
type Sampling struct {
	WindowMin        int
	WindowMax        int
	SizeScalerMin    float64
	SizeScalerMax    float64
	SwingProbability float64
	MaxDurationMin   time.Duration
	MaxDurationMax   time.Duration
	VirtualBalance   float64
	FeeRate          float64
}

// Validate returns the first invalid field by its configuration name.
func (c Config) Validate() error {
	switch {
	case c.TargetRuns <= 0:
		return fmt.Errorf("targetRuns must be > 0")
	case len(c.Symbols) == 0:
		return fmt.Errorf("symbols must not be empty")
	case c.IterationInterval < time.Millisecond:
		return fmt.Errorf("iterationInterval must be >= 1ms")
	case c.IterationJitter < 0 || c.IterationJitter >= c.IterationInterval:
		return fmt.Errorf("iterationJitter must be in [0, iterationInterval)")
	case c.EntropyOrder < entropy.MinOrder || c.EntropyOrder > entropy.MaxOrder:
		return fmt.Errorf("entropy.order must be in [%d, %d]", entropy.MinOrder, entropy.MaxOrder)
	case c.EntropyDelay <= 0:
		return fmt.Errorf("entropy.delay must be > 0")
	case c.EntropyLow < 0 || c.EntropyHigh > 1 || c.EntropyLow >= c.EntropyHigh:
		return fmt.Errorf("entropy.low and entropy.high must satisfy 0 <= low < high <= 1")
	case c.MaxHistory < 4:
		return fmt.Errorf("maxHistory must be >= 4")
	case c.StateTTL <= 0:
		return fmt.Errorf("cache.stateTTL must be > 0")
	case c.MarkerTTL <= 0:
		return fmt.Errorf("cache.markerTTL must be > 0")
	case c.PurgeGrace < 0:
		return fmt.Errorf("purge.grace must be >= 0")
	case c.StaleAfter < 0:
		return fmt.Errorf("purge.staleAfter must be >= 0")
	}

	for i, s := range c.Symbols {
		if s == "" {
			return fmt.Errorf("symbols[%d] must not be empty", i)
		}
	}

	return c.Sampling.validate((c.EntropyOrder-1)*c.EntropyDelay + 1)
}

func (s Sampling) validate(minWindow int) error {
	switch {
	case s.WindowMin < minWindow:
		return fmt.Errorf("sampling.windowMin must be >= %d for the entropy order and delay", minWindow)
	case s.WindowMax < s.WindowMin:
		return fmt.Errorf("sampling.windowMax must be >= sampling.windowMin")
	case s.SizeScalerMin <= 0 || s.SizeScalerMax < s.SizeScalerMin:
		return fmt.Errorf("sampling.sizeScaler range must be positive and ordered")
	case s.SwingProbability < 0 || s.SwingProbability > 1:
		return fmt.Errorf("sampling.swingProbability must be in [0, 1]")
	case s.MaxDurationMin < 0 || s.MaxDurationMax < s.MaxDurationMin:
		return fmt.Errorf("sampling.maxDuration range must be non-negative and ordered")
	case s.VirtualBalance <= 0:
		return fmt.Errorf("sampling.virtualBalance must be > 0")
	case s.FeeRate < 0 || s.FeeRate >= 1:
		return fmt.Errorf("sampling.feeRate must be in [0, 1)")
	}
	return nil
}
