package reconcile

import (
	"fmt"
	"time"
)

// ThresholdMode selects how the minimum trade value is derived.
type ThresholdMode string

const (
	ThresholdFixed      ThresholdMode = "fixed"
	ThresholdPercentage ThresholdMode = "percentage"
)

// Threshold is the minimum |gap x price| worth trading.
type Threshold struct {
	Mode ThresholdMode `json:"mode"`
	// Amount is the fixed value in quote currency.
	Amount float64 `json:"amount"`
	// Percentage is the fraction of the account balance.
	Percentage float64 `json:"percentage"`
}

// Validate rejects an unusable policy. There is no default threshold.
func (t Threshold) Validate() error {
	switch t.Mode {
	case ThresholdFixed:
		if t.Amount <= 0 {
			return fmt.Errorf("amount must be > 0")
		}
	case ThresholdPercentage:
		if t.Percentage <= 0 || t.Percentage >= 1 {
			return fmt.Errorf("percentage must be in (0, 1)")
		}
	default:
		return fmt.Errorf("unknown threshold mode %q", t.Mode)
	}
	return nil
}

// NeedsBalance reports whether Value needs the account balance.
func (t Threshold) NeedsBalance() bool {
	return t.Mode == ThresholdPercentage
}

// Value is the threshold for the given account balance.
func (t Threshold) Value(balance float64) float64 {
	if t.Mode == ThresholdPercentage {
		return balance * t.Percentage
	}
	return t.Amount
}

// Config is the reconciliation configuration.
type Config struct {
	Symbols []string
	// Quorum is how many position sources must agree. Defaults to 2.
	Quorum int
	// Tolerance is the largest difference still counted as agreement.
	Tolerance float64
	// LocalVotes lets the locally recorded exchange position count as a vote.
	LocalVotes bool
	Threshold  Threshold
	// InFlightTTL bounds the cross-process overlap marker.
	InFlightTTL time.Duration
	// Concurrency bounds how many symbols reconcile at once.
	Concurrency int
}

func (c Config) withDefaults() Config {
	if c.Quorum == 0 {
		c.Quorum = 2
	}
	if c.Tolerance == 0 {
		c.Tolerance = 1e-8
	}
	if c.InFlightTTL <= 0 {
		c.InFlightTTL = 30 * time.Second
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	return c
}

// Validate returns the first invalid field by its configuration name.
func (c Config) Validate() error {
	if len(c.Symbols) == 0 {
		return fmt.Errorf("symbols must not be empty")
	}
	if c.Quorum < 0 {
		return fmt.Errorf("reconcile.quorum must be >= 1")
	}
	if c.Tolerance < 0 {
		return fmt.Errorf("reconcile.tolerance must be >= 0")
	}
	if err := c.Threshold.Validate(); err != nil {
		return fmt.Errorf("reconcile.minTradeThreshold: %w", err)
	}
	return nil
}
