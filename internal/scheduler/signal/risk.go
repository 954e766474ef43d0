package signal

import (
	"sort"

	"twstock-scheduler/internal/entity"
)

// RiskPreferences holds the knobs the risk pass reads. Values come from the
// trading_preferences configuration section, which supplies the defaults.
type RiskPreferences struct {
	Capital          float64
	MaxBuySignals    int
	MinBuyConfidence float64
}

// ApplyRiskRules re-evaluates buy candidates against capital, confidence,
// and daily buy-count limits. Failing candidates are downgraded to watch
// with a score penalty and an appended reason; the first failing check
// decides the downgrade. Input candidates are never mutated. The result is
// ordered by adjusted total score, highest first.
func ApplyRiskRules(candidates []entity.CandidateSignal, prefs RiskPreferences) []entity.CandidateSignal {
	if len(candidates) == 0 {
		return nil
	}

	maxBuySignals := prefs.MaxBuySignals
	if maxBuySignals < 0 {
		maxBuySignals = 0
	}
	minBuyConfidence := prefs.MinBuyConfidence
	if minBuyConfidence < 0 {
		minBuyConfidence = 0
	} else if minBuyConfidence > 1 {
		minBuyConfidence = 1
	}

	adjusted := make([]entity.CandidateSignal, len(candidates))
	for i, candidate := range candidates {
		adjusted[i] = candidate.Clone()
	}
	sort.SliceStable(adjusted, func(i, j int) bool {
		return adjusted[i].TotalScore > adjusted[j].TotalScore
	})

	buyCount := 0
	for i := range adjusted {
		candidate := &adjusted[i]
		if candidate.Action != entity.ActionBuy {
			continue
		}

		if prefs.Capital <= 0 {
			candidate.Downgrade(entity.ActionWatch, 10, "風險規則: 可用資金 <= 0，降為 watch")
			continue
		}
		if candidate.Confidence < minBuyConfidence {
			candidate.Downgrade(entity.ActionWatch, 5, "風險規則: 信心低於 min_buy_confidence，降為 watch")
			continue
		}
		if buyCount >= maxBuySignals {
			candidate.Downgrade(entity.ActionWatch, 4, "風險規則: 超過每日 buy 訊號上限，降為 watch")
			continue
		}

		buyCount++
	}

	sort.SliceStable(adjusted, func(i, j int) bool {
		return adjusted[i].TotalScore > adjusted[j].TotalScore
	})
	return adjusted
}
