package risk

// KellyMetrics summarise a cohort's closed or live PnL samples.
type KellyMetrics struct {
	Samples     int
	WinRate     float64
	RewardRatio float64
	Kelly       float64
}

// Metrics computes Kelly statistics over non-zero PnL samples. ok is false
// when there are fewer than minSamples, or no wins, or no losses.
func Metrics(pnls []float64, minSamples int) (KellyMetrics, bool) {
	var wins, losses []float64
	for _, p := range pnls {
		switch {
		case p > 0:
			wins = append(wins, p)
		case p < 0:
			losses = append(losses, -p)
		}
	}
	total := len(wins) + len(losses)
	if total == 0 || total < minSamples || len(wins) == 0 || len(losses) == 0 {
		return KellyMetrics{Samples: total}, false
	}

	avgWin := mean(wins)
	avgLoss := mean(losses)
	if avgLoss == 0 {
		return KellyMetrics{Samples: total}, false
	}
	winRate := float64(len(wins)) / float64(total)
	reward := avgWin / avgLoss
	return KellyMetrics{
		Samples:     total,
		WinRate:     winRate,
		RewardRatio: reward,
		Kelly:       winRate - (1-winRate)/reward,
	}, true
}

// CohortScale compares the live cohort (no height yet) with historical
// cohorts (height stamped) and returns the size multiplier for new runs.
// Without a positive baseline the current Kelly score is used directly;
// without positive current data the multiplier is neutral.
func (e *Engine) CohortScale(current, historical []float64) float64 {
	cur, curOK := Metrics(current, e.cfg.CohortMinSamples)
	hist, histOK := Metrics(historical, e.cfg.CohortMinSamples)

	var adj float64
	switch {
	case !histOK || hist.Kelly <= 0:
		if !curOK || cur.Kelly <= 0 {
			return 1
		}
		adj = cur.Kelly
	case !curOK || cur.Kelly <= 0:
		return 1
	default:
		adj = cur.Kelly/hist.Kelly - 1
	}
	return 1 + clamp(adj, e.cfg.MaxDecrease, e.cfg.MaxIncrease)
}

func mean(v []float64) float64 {
	sum := 0.0
	for _, x := range v {
		sum += x
	}
	return sum / float64(len(v))
}
