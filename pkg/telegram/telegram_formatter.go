package telegram

import (
	"fmt"
	"strings"

	"twstock-scheduler/internal/entity"
)

// FormatTradeAlerts formats triggered intraday alerts into Markdown messages
// for Telegram, splitting into parts so no message exceeds the API limit.
func FormatTradeAlerts(alerts []entity.TradeAlert) []string {
	if len(alerts) == 0 {
		return nil
	}

	const maxLen = 4090
	var messages []string
	var current strings.Builder
	part := 1

	startNewPart := func() {
		current.Reset()
		if part == 1 {
			current.WriteString("📣 *台股盤中買賣警報*\n\n")
		} else {
			current.WriteString(fmt.Sprintf("---*台股盤中買賣警報 Part %d*---\n\n", part))
		}
	}

	startNewPart()

	for _, alert := range alerts {
		var entry strings.Builder

		icon := "🟡"
		switch alert.SignalType {
		case entity.AlertBuy:
			icon = "🟢"
		case entity.AlertSell:
			icon = "🔴"
		}

		entry.WriteString(fmt.Sprintf("%s *%s %s* (%s)\n", icon, alert.StockCode, alert.StockName, alert.SignalType))
		entry.WriteString(fmt.Sprintf("💰 當前價格: %g\n", alert.Price))
		entry.WriteString(fmt.Sprintf("📌 觸發原因: %s\n", alert.Reason))
		if alert.QuantityNote != "" {
			entry.WriteString(fmt.Sprintf("🧮 建議數量: %d%s（%s）\n", alert.SuggestedQuantity, alert.QuantityUnit, alert.QuantityNote))
		}
		entry.WriteString("\n")

		if current.Len()+entry.Len() > maxLen {
			messages = append(messages, current.String())
			part++
			startNewPart()
		}
		current.WriteString(entry.String())
	}

	messages = append(messages, current.String())
	return messages
}

// FormatJobCompletion formats a job completion notice with the top-ranked
// candidates for a quick glance.
func FormatJobCompletion(jobName, runID string, candidates []entity.CandidateSignal) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("✅ *%s 任務完成*\n", jobName))
	sb.WriteString(fmt.Sprintf("🆔 run\\_id: `%s`\n", runID))
	sb.WriteString(fmt.Sprintf("📊 候選訊號: %d 檔\n", len(candidates)))

	top := candidates
	if len(top) > 5 {
		top = top[:5]
	}
	if len(top) > 0 {
		sb.WriteString("\n")
		for _, candidate := range top {
			var icon string
			switch candidate.Action {
			case entity.ActionBuy:
				icon = "🟢"
			case entity.ActionReduce, entity.ActionAvoid:
				icon = "🔴"
			default:
				icon = "🟡"
			}
			sb.WriteString(fmt.Sprintf("%s `%s` %s score=%.1f conf=%.2f\n",
				icon, candidate.StockCode, candidate.Action, candidate.TotalScore, candidate.Confidence))
		}
	}

	return sb.String()
}
