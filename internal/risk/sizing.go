package risk

import (
	"fmt"
)

// SizingMode selects how a run's base position size is derived.
type SizingMode string

const (
	SizingUnits      SizingMode = "units"
	SizingPercentage SizingMode = "percentage"
)

// Sizing is the risk_pos_size / risk_pos_percentage policy.
type Sizing struct {
	Mode       SizingMode `json:"mode"`
	Units      float64    `json:"units"`
	Percentage float64    `json:"percentage"`
}

// Validate rejects a policy with no usable size. There is no default size.
func (s Sizing) Validate() error {
	switch s.Mode {
	case SizingUnits:
		if s.Units <= 0 {
			return fmt.Errorf("units must be > 0")
		}
	case SizingPercentage:
		if s.Percentage <= 0 || s.Percentage > 1 {
			return fmt.Errorf("percentage must be in (0, 1]")
		}
	default:
		return fmt.Errorf("unknown sizing mode %q", s.Mode)
	}
	return nil
}

// Base returns the unscaled position size in instrument units.
func (s Sizing) Base(balance, price float64) (float64, error) {
	switch s.Mode {
	case SizingUnits:
		return s.Units, nil
	case SizingPercentage:
		if price <= 0 {
			return 0, fmt.Errorf("price must be > 0 for percentage sizing")
		}
		return balance * s.Percentage / price, nil
	default:
		return 0, fmt.Errorf("unknown sizing mode %q", s.Mode)
	}
}
