package report

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/logger"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// Stock codes are 4 digits, 5-6 digits for ETFs and warrants, with an
// optional trailing letter.
var stockCodePattern = regexp.MustCompile(`\b(\d{4,6}[A-Z]?)\b`)

// requiredFrontmatterFields must all be present before a markdown analysis
// report is accepted.
var requiredFrontmatterFields = []string{
	"stock_code",
	"stock_name",
	"suggestion",
	"score",
	"bullish_signals",
	"bearish_signals",
	"price_close",
}

// Parser extracts structured data from analysis report artifacts.
type Parser interface {
	ParseTradingPlan(path string) entity.TradingPlanPicks
	ParseSingleStockResult(raw string) *entity.StockAnalysis
	CheckAlert(analysis *entity.StockAnalysis, minBullish, minBearish int) *entity.TradeAlert
}

// NewParser creates a new report parser.
func NewParser(log *logger.Logger) Parser {
	return &parser{logger: log}
}

type parser struct {
	logger *logger.Logger
}

// ParseTradingPlan extracts the recommended stock codes from a trading plan
// markdown file. Codes under the 買進計畫 and 強勢買進候選 tables become buy
// candidates; codes under the 觀察追蹤清單 table become the watchlist. A
// missing file yields empty picks.
func (p *parser) ParseTradingPlan(path string) entity.TradingPlanPicks {
	content, err := os.ReadFile(path)
	if err != nil {
		p.logger.Warn("Trading plan not found", logger.StringField("path", path), logger.ErrorField(err))
		return entity.TradingPlanPicks{}
	}

	var buyCandidates, watchlist []string
	inBuySection := false
	inBullishSection := false
	inWatchSection := false

	for _, line := range strings.Split(string(content), "\n") {
		switch {
		case strings.Contains(line, "買進計畫"):
			inBuySection, inBullishSection, inWatchSection = true, false, false
			continue
		case strings.Contains(line, "強勢買進候選"):
			inBuySection, inBullishSection, inWatchSection = false, true, false
			continue
		case strings.Contains(line, "觀察追蹤清單") || (strings.Contains(line, "觀察") && strings.Contains(line, "清單")):
			inBuySection, inBullishSection, inWatchSection = false, false, true
			continue
		case strings.HasPrefix(line, "###") || strings.HasPrefix(line, "---"):
			// A new section resets the state unless it continues one of the
			// pick sections.
			if !containsAny(line, "買進", "強勢", "觀察") {
				inBuySection, inBullishSection, inWatchSection = false, false, false
			}
			continue
		}

		// Table rows only; separator rows carry --- between pipes.
		if !strings.HasPrefix(strings.TrimSpace(line), "|") || strings.Contains(line, "---") {
			continue
		}
		if containsAny(line, "代號", "標的", "項目") {
			continue
		}

		for _, code := range stockCodePattern.FindAllString(line, -1) {
			// Prices, percentages, and volumes match the pattern too; a real
			// code sits in the first table column.
			if !isLikelyStockCode(code, line) {
				continue
			}
			if inBuySection || inBullishSection {
				buyCandidates = appendUnique(buyCandidates, code)
			} else if inWatchSection {
				watchlist = appendUnique(watchlist, code)
			}
			break
		}
	}

	all := make([]string, 0, len(buyCandidates)+len(watchlist))
	all = append(all, buyCandidates...)
	for _, code := range watchlist {
		all = appendUnique(all, code)
	}

	p.logger.Info("Trading plan parsed",
		logger.IntField("buy_candidates", len(buyCandidates)),
		logger.IntField("watchlist", len(watchlist)),
	)
	return entity.TradingPlanPicks{
		BuyCandidates: buyCandidates,
		Watchlist:     watchlist,
		All:           all,
	}
}

// ParseSingleStockResult decodes a single-stock analysis report. Markdown
// with YAML frontmatter is preferred; bare JSON is kept for compatibility
// with older reports. Returns nil when neither decoder accepts the input.
func (p *parser) ParseSingleStockResult(raw string) *entity.StockAnalysis {
	if raw == "" {
		return nil
	}

	if analysis := p.parseSingleStockMarkdown(raw); analysis != nil {
		return analysis
	}
	if analysis := p.parseSingleStockJSON(raw); analysis != nil {
		return analysis
	}

	p.logger.Error("Failed to parse single stock analysis", logger.StringField("raw", truncate(raw, 200)))
	return nil
}

// CheckAlert decides whether an analysis should raise a trade alert. A buy
// or sell suggestion always triggers; otherwise enough aligned signals with
// a matching score direction do. Returns nil when nothing triggers.
func (p *parser) CheckAlert(analysis *entity.StockAnalysis, minBullish, minBearish int) *entity.TradeAlert {
	if analysis == nil {
		return nil
	}

	var signalType string
	var reason string

	switch {
	case analysis.Suggestion == "buy":
		signalType = entity.AlertBuy
		reason = fmt.Sprintf("建議買入 (多頭%d/空頭%d, score=%d)", analysis.BullishCount, analysis.BearishCount, analysis.Score)
	case analysis.Suggestion == "sell":
		signalType = entity.AlertSell
		reason = fmt.Sprintf("建議賣出 (多頭%d/空頭%d, score=%d)", analysis.BullishCount, analysis.BearishCount, analysis.Score)
	case analysis.BullishCount >= minBullish && analysis.Score > 0:
		signalType = entity.AlertBuy
		reason = fmt.Sprintf("多頭信號 %d 個 (>=%d), score=%d: %s",
			analysis.BullishCount, minBullish, analysis.Score, strings.Join(firstN(analysis.BullishSignals, 3), ", "))
	case analysis.BearishCount >= minBearish && analysis.Score < 0:
		signalType = entity.AlertSell
		reason = fmt.Sprintf("空頭信號 %d 個 (>=%d), score=%d: %s",
			analysis.BearishCount, minBearish, analysis.Score, strings.Join(firstN(analysis.BearishSignals, 3), ", "))
	default:
		return nil
	}

	return &entity.TradeAlert{
		StockCode:  analysis.StockCode,
		StockName:  analysis.StockName,
		SignalType: signalType,
		Price:      analysis.Price,
		Reason:     reason,
	}
}

func (p *parser) parseSingleStockMarkdown(raw string) *entity.StockAnalysis {
	frontmatter := p.parseMarkdownFrontmatter(raw)
	if len(frontmatter) == 0 {
		return nil
	}

	var missing []string
	for _, field := range requiredFrontmatterFields {
		if _, ok := frontmatter[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		p.logger.Warn("Frontmatter missing required fields", logger.Field("fields", missing))
		return nil
	}

	return buildAnalysis(map[string]interface{}{
		"stock_code":      frontmatter["stock_code"],
		"stock_name":      frontmatter["stock_name"],
		"price":           frontmatter["price_close"],
		"suggestion":      frontmatter["suggestion"],
		"score":           frontmatter["score"],
		"bullish_signals": frontmatter["bullish_signals"],
		"bearish_signals": frontmatter["bearish_signals"],
	})
}

func (p *parser) parseMarkdownFrontmatter(raw string) map[string]interface{} {
	stripped := strings.TrimSpace(raw)
	if !strings.HasPrefix(stripped, "---") {
		return nil
	}

	lines := strings.Split(stripped, "\n")
	if strings.TrimSpace(lines[0]) != "---" {
		return nil
	}

	end := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			end = i
			break
		}
	}
	if end < 0 {
		return nil
	}

	var frontmatter map[string]interface{}
	if err := yaml.Unmarshal([]byte(strings.Join(lines[1:end], "\n")), &frontmatter); err != nil {
		p.logger.Warn("Failed to parse frontmatter YAML", logger.ErrorField(err))
		return nil
	}
	return frontmatter
}

func (p *parser) parseSingleStockJSON(raw string) *entity.StockAnalysis {
	var data map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil
	}

	if cast.ToBool(data["error"]) {
		message := cast.ToString(data["message"])
		if message == "" {
			message = "unknown"
		}
		p.logger.Warn("Single stock analysis reported error", logger.StringField("message", message))
		return nil
	}

	price := 0.0
	if priceObj, ok := data["price"].(map[string]interface{}); ok {
		price = cast.ToFloat64(priceObj["close"])
	}

	return buildAnalysis(map[string]interface{}{
		"stock_code":      data["stock_code"],
		"stock_name":      data["stock_name"],
		"price":           price,
		"suggestion":      data["suggestion"],
		"score":           data["score"],
		"bullish_signals": data["bullish_signals"],
		"bearish_signals": data["bearish_signals"],
	})
}

func buildAnalysis(data map[string]interface{}) *entity.StockAnalysis {
	bullish := normalizeSignals(data["bullish_signals"])
	bearish := normalizeSignals(data["bearish_signals"])

	return &entity.StockAnalysis{
		StockCode:      strings.TrimSpace(cast.ToString(data["stock_code"])),
		StockName:      strings.TrimSpace(cast.ToString(data["stock_name"])),
		Price:          cast.ToFloat64(data["price"]),
		Suggestion:     strings.ToLower(strings.TrimSpace(cast.ToString(data["suggestion"]))),
		Score:          cast.ToInt(data["score"]),
		BullishCount:   len(bullish),
		BearishCount:   len(bearish),
		BullishSignals: bullish,
		BearishSignals: bearish,
	}
}

// normalizeSignals accepts either a list of signals or a comma-separated
// string and returns the trimmed non-empty entries.
func normalizeSignals(value interface{}) []string {
	var items []string
	switch v := value.(type) {
	case []interface{}:
		for _, item := range v {
			items = append(items, cast.ToString(item))
		}
	case []string:
		items = v
	case string:
		items = strings.Split(v, ",")
	default:
		return nil
	}

	var signals []string
	for _, item := range items {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			signals = append(signals, trimmed)
		}
	}
	return signals
}

func isLikelyStockCode(code, line string) bool {
	var firstField string
	for _, part := range strings.Split(line, "|") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			firstField = trimmed
			break
		}
	}
	if firstField == "" {
		return false
	}
	return strings.Contains(firstField, code)
}

func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func appendUnique(items []string, item string) []string {
	for _, existing := range items {
		if existing == item {
			return items
		}
	}
	return append(items, item)
}

func firstN(items []string, n int) []string {
	if len(items) <= n {
		return items
	}
	return items[:n]
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
