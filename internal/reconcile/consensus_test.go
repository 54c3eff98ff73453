package reconcile

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsensus(t *testing.T) {
	cases := []struct {
		name   string
		votes  []float64
		quorum int
		want   float64
		size   int
		ok     bool
	}{
		{name: "all agree", votes: []float64{20, 20, 20}, quorum: 2, want: 20, size: 3, ok: true},
		{name: "one of three", votes: []float64{20}, quorum: 2, size: 1},
		{name: "none", votes: nil, quorum: 2},
		{name: "majority", votes: []float64{20, 35, 20}, quorum: 2, want: 20, size: 2, ok: true},
		{name: "split", votes: []float64{20, 30, 20, 30}, quorum: 2, size: 2},
		{name: "all differ", votes: []float64{1, 2, 3}, quorum: 2, size: 1},
		{name: "within tolerance", votes: []float64{10, 10.000000001}, quorum: 2, want: 10.0000000005, size: 2, ok: true},
		{name: "quorum one", votes: []float64{-4}, quorum: 1, want: -4, size: 1, ok: true},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, size, ok := Consensus(c.votes, c.quorum, 1e-8)
			assert.Equal(t, c.ok, ok)
			assert.Equal(t, c.size, size)
			if c.ok {
				assert.InDelta(t, c.want, got, 1e-12)
			}
		})
	}
}

func TestThreshold(t *testing.T) {
	fixed := Threshold{Mode: ThresholdFixed, Amount: 20}
	assert.NoError(t, fixed.Validate())
	assert.False(t, fixed.NeedsBalance())
	assert.Equal(t, 20.0, fixed.Value(1e9))

	pct := Threshold{Mode: ThresholdPercentage, Percentage: 0.001}
	assert.NoError(t, pct.Validate())
	assert.True(t, pct.NeedsBalance())
	assert.Equal(t, 10.0, pct.Value(10_000))

	assert.Error(t, Threshold{Mode: ThresholdFixed}.Validate())
	assert.Error(t, Threshold{Mode: ThresholdPercentage, Percentage: 2}.Validate())
	assert.Error(t, Threshold{}.Validate())
}
