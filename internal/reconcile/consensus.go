package reconcile

import (
	"math"
	"slices"
)

// Consensus finds the largest group of votes lying within tol of each other.
// ok is false when that group has fewer than quorum members or when another
// group of equal size disagrees with it. value is the group mean.
func Consensus(votes []float64, quorum int, tol float64) (value float64, size int, ok bool) {
	if len(votes) == 0 || quorum <= 0 {
		return 0, 0, false
	}

	sorted := slices.Clone(votes)
	slices.Sort(sorted)

	bestStart, bestSize, ties := 0, 0, 0
	for i, hi := 0, 0; i < len(sorted); i++ {
		if hi < i {
			hi = i
		}
		for hi+1 < len(sorted) && sorted[hi+1]-sorted[i] <= tol {
			hi++
		}
		n := hi - i + 1
		switch {
		case n > bestSize:
			bestStart, bestSize, ties = i, n, 0
		case n == bestSize && sorted[i]-sorted[bestStart] > tol:
			ties++
		}
	}

	if bestSize < quorum || ties > 0 {
		return 0, bestSize, false
	}

	sum := 0.0
	for _, v := range sorted[bestStart : bestStart+bestSize] {
		sum += v
	}
	return sum / float64(bestSize), bestSize, true
}

func agree(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}
