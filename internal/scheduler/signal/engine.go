package signal

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/utils"
)

// BuildDailyCandidates converts the picks extracted from a daily trading
// plan into candidate signals. Plan picks carry no numeric scores, so buy
// candidates and watchlist entries get fixed baseline scores.
func BuildDailyCandidates(picks entity.TradingPlanPicks, asOf time.Time) []entity.CandidateSignal {
	signalDate := asOf.Format(common.DateLayout)
	candidates := make([]entity.CandidateSignal, 0, len(picks.BuyCandidates)+len(picks.Watchlist))

	for _, stockCode := range picks.BuyCandidates {
		candidates = append(candidates, entity.CandidateSignal{
			StockCode:      stockCode,
			SignalDate:     signalDate,
			TechnicalScore: 68,
			NewsScore:      0,
			RiskPenalty:    0,
			TotalScore:     68,
			Action:         entity.ActionBuy,
			Confidence:     0.65,
			Reasons:        []string{"來源: 每日交易計畫買進候選"},
			Source:         entity.SourceDailyPlan,
		})
	}

	for _, stockCode := range picks.Watchlist {
		candidates = append(candidates, entity.CandidateSignal{
			StockCode:      stockCode,
			SignalDate:     signalDate,
			TechnicalScore: 48,
			NewsScore:      0,
			RiskPenalty:    0,
			TotalScore:     48,
			Action:         entity.ActionWatch,
			Confidence:     0.45,
			Reasons:        []string{"來源: 每日交易計畫觀察清單"},
			Source:         entity.SourceDailyPlan,
		})
	}

	return candidates
}

// BuildIntradayCandidates scores the per-stock results of an intraday batch
// analysis deterministically. Entries without a stock code are dropped; the
// result is ordered by total score, highest first.
func BuildIntradayCandidates(results []entity.StockAnalysis, asOf time.Time) []entity.CandidateSignal {
	signalDate := asOf.Format(common.DateLayout)
	candidates := make([]entity.CandidateSignal, 0, len(results))

	for _, item := range results {
		stockCode := strings.TrimSpace(item.StockCode)
		if stockCode == "" {
			continue
		}

		technical := utils.Clamp(float64(50+item.Score*4+(item.BullishCount-item.BearishCount)*3), 0, 100)

		newsScore := 0.0
		riskPenalty := 0.0
		if item.BearishCount >= item.BullishCount+2 {
			riskPenalty += 6
		}
		if item.Score < 0 {
			riskPenalty += 4
		}

		totalScore := utils.Clamp(technical+newsScore-riskPenalty, 0, 100)

		confidence := 0.5 + math.Min(math.Abs(float64(item.Score)), 10)*0.03
		confidence = utils.Clamp(confidence, 0.2, 0.95)

		candidates = append(candidates, entity.CandidateSignal{
			StockCode:      stockCode,
			SignalDate:     signalDate,
			TechnicalScore: technical,
			NewsScore:      newsScore,
			RiskPenalty:    riskPenalty,
			TotalScore:     totalScore,
			Action:         mapActionFromSuggestion(item.Suggestion, item.BullishCount, item.BearishCount),
			Confidence:     confidence,
			Reasons:        buildIntradayReasons(item),
			Source:         entity.SourceIntradayMonitor,
			Metadata: map[string]interface{}{
				"score":         item.Score,
				"bullish_count": item.BullishCount,
				"bearish_count": item.BearishCount,
				"stock_name":    strings.TrimSpace(item.StockName),
				"price":         item.Price,
			},
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].TotalScore > candidates[j].TotalScore
	})
	return candidates
}

func mapActionFromSuggestion(suggestion string, bullCount, bearCount int) entity.SignalAction {
	switch strings.ToLower(strings.TrimSpace(suggestion)) {
	case "buy":
		return entity.ActionBuy
	case "sell":
		return entity.ActionReduce
	case "watch", "hold":
		return entity.ActionWatch
	}
	if bearCount > bullCount {
		return entity.ActionAvoid
	}
	return entity.ActionWatch
}

func buildIntradayReasons(item entity.StockAnalysis) []string {
	var reasons []string

	if suggestion := strings.ToLower(strings.TrimSpace(item.Suggestion)); suggestion != "" {
		reasons = append(reasons, fmt.Sprintf("suggestion=%s", suggestion))
	}
	if len(item.BullishSignals) > 0 {
		reasons = append(reasons, fmt.Sprintf("bullish: %s", strings.Join(firstN(item.BullishSignals, 3), ", ")))
	}
	if len(item.BearishSignals) > 0 {
		reasons = append(reasons, fmt.Sprintf("bearish: %s", strings.Join(firstN(item.BearishSignals, 3), ", ")))
	}

	if len(reasons) == 0 {
		reasons = append(reasons, "來源資料未提供明確訊號")
	}
	return reasons
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}
