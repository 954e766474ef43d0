package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock-scheduler/internal/entity"
)

func buyCandidate(code string, total, confidence float64) entity.CandidateSignal {
	return entity.CandidateSignal{
		StockCode:      code,
		SignalDate:     "2026-03-04",
		TechnicalScore: total,
		TotalScore:     total,
		Action:         entity.ActionBuy,
		Confidence:     confidence,
		Reasons:        []string{"來源: 每日交易計畫買進候選"},
		Source:         entity.SourceDailyPlan,
	}
}

func defaultPrefs() RiskPreferences {
	return RiskPreferences{Capital: 200000, MaxBuySignals: 5, MinBuyConfidence: 0.55}
}

func TestApplyRiskRulesEmptyInput(t *testing.T) {
	assert.Empty(t, ApplyRiskRules(nil, defaultPrefs()))
}

func TestApplyRiskRulesNoCapital(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Capital = 0

	adjusted := ApplyRiskRules([]entity.CandidateSignal{buyCandidate("2330", 68, 0.65)}, prefs)
	require.Len(t, adjusted, 1)

	c := adjusted[0]
	assert.Equal(t, entity.ActionWatch, c.Action)
	assert.Equal(t, 10.0, c.RiskPenalty)
	assert.Equal(t, 58.0, c.TotalScore)
	assert.Equal(t, "風險規則: 可用資金 <= 0，降為 watch", c.Reasons[len(c.Reasons)-1])
}

func TestApplyRiskRulesConfidenceFloor(t *testing.T) {
	adjusted := ApplyRiskRules([]entity.CandidateSignal{buyCandidate("2330", 68, 0.5)}, defaultPrefs())
	require.Len(t, adjusted, 1)

	c := adjusted[0]
	assert.Equal(t, entity.ActionWatch, c.Action)
	assert.Equal(t, 5.0, c.RiskPenalty)
	assert.Equal(t, 63.0, c.TotalScore)
	assert.Equal(t, "風險規則: 信心低於 min_buy_confidence，降為 watch", c.Reasons[len(c.Reasons)-1])
}

func TestApplyRiskRulesBuyLimit(t *testing.T) {
	prefs := defaultPrefs()
	prefs.MaxBuySignals = 1

	candidates := []entity.CandidateSignal{
		buyCandidate("2330", 80, 0.7),
		buyCandidate("2454", 70, 0.7),
		buyCandidate("2603", 60, 0.7),
	}

	adjusted := ApplyRiskRules(candidates, prefs)
	require.Len(t, adjusted, 3)

	assert.Equal(t, "2330", adjusted[0].StockCode)
	assert.Equal(t, entity.ActionBuy, adjusted[0].Action)
	assert.Equal(t, 80.0, adjusted[0].TotalScore)

	for _, c := range adjusted[1:] {
		assert.Equal(t, entity.ActionWatch, c.Action)
		assert.Equal(t, 4.0, c.RiskPenalty)
		assert.Equal(t, "風險規則: 超過每日 buy 訊號上限，降為 watch", c.Reasons[len(c.Reasons)-1])
	}
	assert.Equal(t, 66.0, adjusted[1].TotalScore)
	assert.Equal(t, 56.0, adjusted[2].TotalScore)
}

func TestApplyRiskRulesBuyLimitTiesKeepInputOrder(t *testing.T) {
	prefs := defaultPrefs()
	prefs.MaxBuySignals = 2

	candidates := []entity.CandidateSignal{
		buyCandidate("2330", 68, 0.65),
		buyCandidate("2454", 68, 0.65),
		buyCandidate("2603", 68, 0.65),
	}

	adjusted := ApplyRiskRules(candidates, prefs)
	require.Len(t, adjusted, 3)

	actions := map[string]entity.SignalAction{}
	for _, c := range adjusted {
		actions[c.StockCode] = c.Action
	}
	assert.Equal(t, entity.ActionBuy, actions["2330"])
	assert.Equal(t, entity.ActionBuy, actions["2454"])
	assert.Equal(t, entity.ActionWatch, actions["2603"])
}

func TestApplyRiskRulesLeavesNonBuyAlone(t *testing.T) {
	watch := buyCandidate("2603", 48, 0.45)
	watch.Action = entity.ActionWatch
	avoid := buyCandidate("1101", 30, 0.4)
	avoid.Action = entity.ActionAvoid

	prefs := defaultPrefs()
	prefs.Capital = 0

	adjusted := ApplyRiskRules([]entity.CandidateSignal{watch, avoid}, prefs)
	require.Len(t, adjusted, 2)
	assert.Equal(t, entity.ActionWatch, adjusted[0].Action)
	assert.Equal(t, 48.0, adjusted[0].TotalScore)
	assert.Equal(t, entity.ActionAvoid, adjusted[1].Action)
	assert.Equal(t, 30.0, adjusted[1].TotalScore)
}

func TestApplyRiskRulesScoreFlooredAtZero(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Capital = 0

	adjusted := ApplyRiskRules([]entity.CandidateSignal{buyCandidate("2330", 3, 0.65)}, prefs)
	require.Len(t, adjusted, 1)
	assert.Equal(t, 0.0, adjusted[0].TotalScore)
	assert.Equal(t, 10.0, adjusted[0].RiskPenalty)
}

func TestApplyRiskRulesDoesNotMutateInput(t *testing.T) {
	prefs := defaultPrefs()
	prefs.Capital = 0

	original := []entity.CandidateSignal{buyCandidate("2330", 68, 0.65)}
	_ = ApplyRiskRules(original, prefs)

	assert.Equal(t, entity.ActionBuy, original[0].Action)
	assert.Equal(t, 68.0, original[0].TotalScore)
	assert.Equal(t, 0.0, original[0].RiskPenalty)
	assert.Len(t, original[0].Reasons, 1)
}

func TestApplyRiskRulesNormalizesPreferences(t *testing.T) {
	prefs := RiskPreferences{Capital: 100000, MaxBuySignals: -3, MinBuyConfidence: 0.4}

	adjusted := ApplyRiskRules([]entity.CandidateSignal{buyCandidate("2330", 68, 0.65)}, prefs)
	require.Len(t, adjusted, 1)
	// A negative limit behaves like zero: no buy signals survive.
	assert.Equal(t, entity.ActionWatch, adjusted[0].Action)
	assert.Equal(t, 64.0, adjusted[0].TotalScore)
}
