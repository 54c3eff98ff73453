package risk

import (
	"fmt"
	"math"
)

// Config defines Kelly-style sizing limits.
type Config struct {
	// KellyFraction scales the run's return into a size adjustment.
	KellyFraction float64 `json:"kellyFraction"`
	// MaxIncrease caps the adjustment, e.g. 1.0 allows doubling.
	MaxIncrease float64 `json:"maxIncrease"`
	// MaxDecrease floors the adjustment, e.g. -0.5 allows halving.
	MaxDecrease float64 `json:"maxDecrease"`
	// DrawdownFloor is the loss, as a fraction of balance, that ends a run.
	DrawdownFloor float64 `json:"drawdownFloor"`
	// CohortMinSamples is the minimum PnL sample count for cohort metrics.
	CohortMinSamples int `json:"cohortMinSamples"`
}

// Validate checks the limits are usable.
func (c Config) Validate() error {
	switch {
	case c.KellyFraction < 0:
		return fmt.Errorf("kellyFraction must be >= 0")
	case c.MaxIncrease < 0:
		return fmt.Errorf("maxIncrease must be >= 0")
	case c.MaxDecrease > 0 || c.MaxDecrease <= -1:
		return fmt.Errorf("maxDecrease must be in (-1, 0]")
	case c.DrawdownFloor <= 0 || c.DrawdownFloor > 1:
		return fmt.Errorf("drawdownFloor must be in (0, 1]")
	}
	return nil
}

// StateView is the part of a run the engine sizes from.
type StateView struct {
	LivePnL  float64
	Balance  float64
	BaseSize float64
}

// Action is the sizing outcome.
type Action uint8

const (
	ActionScale Action = iota
	ActionExit
)

func (a Action) String() string {
	if a == ActionExit {
		return "exit"
	}
	return "scale"
}

// Decision is the result of one sizing evaluation.
type Decision struct {
	Action     Action
	Return     float64
	Multiplier float64
	Size       float64
}

// Engine evaluates sizing decisions.
type Engine struct {
	cfg Config
}

// NewEngine creates a sizing engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Evaluate scales the base size by the run's return: winners compound,
// losers shrink down to the floor multiplier, and a run whose loss reaches
// the drawdown floor is told to exit with zero size.
func (e *Engine) Evaluate(view StateView) Decision {
	ret := 0.0
	if view.Balance > 0 {
		ret = view.LivePnL / view.Balance
	}
	if e.cfg.DrawdownFloor > 0 && ret <= -e.cfg.DrawdownFloor {
		return Decision{Action: ActionExit, Return: ret}
	}

	mult := clamp(1+e.cfg.KellyFraction*ret, 1+e.cfg.MaxDecrease, 1+e.cfg.MaxIncrease)
	return Decision{
		Action:     ActionScale,
		Return:     ret,
		Multiplier: mult,
		Size:       math.Max(view.BaseSize*mult, 0),
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
