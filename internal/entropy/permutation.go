// Package entropy computes permutation entropy over numeric windows.
package entropy

import (
	"math"
	"sort"

	"providence/internal/errors"
	"providence/pkg/exception"
)

const (
	MinOrder = 2
	MaxOrder = 9
)

// Permutation returns the normalised permutation entropy of x in [0, 1].
// Ordinal patterns of length order are taken every delay samples; ties keep
// their index order. 0 means a perfectly regular series, 1 maximal disorder.
func Permutation(x []float64, order, delay int) (float64, error) {
	if order < MinOrder || order > MaxOrder {
		return 0, errors.Wrap(exception.ErrEntropyOrder, "permutation entropy")
	}
	if delay < 1 {
		delay = 1
	}
	motifs := len(x) - (order-1)*delay
	if motifs <= 0 {
		return 0, errors.Wrap(exception.ErrEmptyEntropyWin, "permutation entropy")
	}

	mult := make([]int, order)
	mult[0] = 1
	for i := 1; i < order; i++ {
		mult[i] = mult[i-1] * order
	}

	counts := make(map[int]int, factorial(order))
	motif := make([]float64, order)
	idx := make([]int, order)
	for i := 0; i < motifs; i++ {
		for j := 0; j < order; j++ {
			motif[j] = x[i+j*delay]
			idx[j] = j
		}
		sort.SliceStable(idx, func(a, b int) bool {
			return motif[idx[a]] < motif[idx[b]]
		})
		hash := 0
		for j, v := range idx {
			hash += v * mult[j]
		}
		counts[hash]++
	}

	pe := 0.0
	for _, c := range counts {
		p := float64(c) / float64(motifs)
		pe -= p * math.Log2(p)
	}
	if norm := math.Log2(float64(factorial(order))); norm > 0 {
		pe /= norm
	}
	return pe, nil
}

func factorial(n int) int {
	f := 1
	for i := 2; i <= n; i++ {
		f *= i
	}
	return f
}
