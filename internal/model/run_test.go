package model

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"providence/internal/model/enum"
)

func TestRunExposure(t *testing.T) {
	run := Run{PositionDirection: enum.DirectionShort, RiskPosSize: 4}
	assert.Equal(t, -4.0, run.Exposure())

	run.ExitRun = true
	assert.Zero(t, run.Exposure())

	run.ExitRun = false
	run.Corrupted = true
	assert.Zero(t, run.Exposure())
	assert.False(t, run.Active())
}

func TestSideOf(t *testing.T) {
	assert.Equal(t, enum.OrderSideBuy, enum.SideOf(10))
	assert.Equal(t, enum.OrderSideSell, enum.SideOf(-0.5))
	assert.Equal(t, enum.DirectionShort, enum.DirectionLong.Invert())
}
