package model

import (
	"time"

	"providence/internal/model/enum"
)

// Run is one concurrent strategy instance. The store row is authoritative.
type Run struct {
	ID                string          `gorm:"primaryKey;size:36" json:"id"`
	Symbol            string          `gorm:"size:64;index" json:"symbol"`
	Params            Params          `gorm:"serializer:json" json:"params"`
	PositionDirection enum.Direction  `gorm:"not null;default:0" json:"positionDirection"`
	RiskPosSize       float64         `gorm:"not null;default:0" json:"riskPosSize"`
	LivePnL           float64         `gorm:"column:live_pnl;not null;default:0" json:"livePnl"`
	Height            *int64          `gorm:"index" json:"height,omitempty"`
	ExitRun           bool            `gorm:"not null;default:false;index" json:"exitRun"`
	ExitReason        enum.ExitReason `gorm:"size:32" json:"exitReason,omitempty"`
	Corrupted         bool            `gorm:"not null;default:false" json:"corrupted"`
	StateBlob         []byte          `json:"stateBlob"`
	LastCycle         int64           `gorm:"not null;default:0" json:"lastCycle"`
	Revision          int64           `gorm:"not null;default:0" json:"revision"`
	ExitedAt          *time.Time      `json:"exitedAt,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
	UpdatedAt         time.Time       `json:"updatedAt"`
}

func (Run) TableName() string {
	return "runs"
}

// Active reports whether the run still takes part in iterations and exposure.
func (r Run) Active() bool {
	return !r.ExitRun && !r.Corrupted
}

// Exposure is the signed size this run contributes to its symbol.
func (r Run) Exposure() float64 {
	if !r.Active() {
		return 0
	}
	return float64(r.PositionDirection) * r.RiskPosSize
}

// Params are sampled once when the run is created and never change.
type Params struct {
	VirtualBalance float64       `json:"virtualBalance"`
	FeeRate        float64       `json:"feeRate"`
	WindowSamples  int           `json:"windowSamples"`
	SizeScaler     float64       `json:"sizeScaler"`
	SystemSwing    bool          `json:"systemSwing"`
	MaxDuration    time.Duration `json:"maxDuration"`
	CohortScale    float64       `json:"cohortScale"`
}

// Epoch is one take-profit event. Its ID is the height stamped on the cohort.
type Epoch struct {
	ID        int64 `gorm:"primaryKey;autoIncrement"`
	RunCount  int64
	CreatedAt time.Time
}

func (Epoch) TableName() string {
	return "epochs"
}
