package report

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/logger"
)

const samplePlan = `# 每日操作建議 2026-03-04

## 一、買進計畫

| 代號 | 名稱 | 進場價 | 停損 |
|---|---|---|---|
| 2330 | 台積電 | 1180.0 | 1120.0 |
| 2454 | 聯發科 | 1425.0 | 1350.0 |

### 強勢買進候選

| 代號 | 名稱 | 收盤價 |
|---|---|---|
| 2603 | 長榮 | 245.5 |

---

## 二、觀察追蹤清單

| 代號 | 名稱 | 觀察重點 |
|---|---|---|
| 1101 | 台泥 | 量縮整理 |
| 2330 | 台積電 | 回測月線支撐 |

### 三、大盤提醒

| 項目 | 說明 |
|---|---|
| 大盤 | 加權指數 23500 點附近震盪 |
`

const frontmatterReport = `---
stock_code: "2330"
stock_name: 台積電
suggestion: BUY
score: 5
bullish_signals:
  - 站上5日均線
  - 成交量放大
  - 外資買超
  - KD黃金交叉
bearish_signals: []
price_close: 1180.0
---

# 台積電 (2330) 盤中分析

詳細內容略。
`

const jsonReport = `{
  "stock_code": "2330",
  "stock_name": "台積電",
  "price": {"close": 1180.0},
  "suggestion": "buy",
  "score": 5,
  "bullish_signals": ["站上5日均線", "成交量放大", "外資買超", "KD黃金交叉"],
  "bearish_signals": []
}`

func newTestParser() Parser {
	return NewParser(logger.NewNop())
}

func writePlanFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trading_plan_20260304.md")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestParseTradingPlan(t *testing.T) {
	picks := newTestParser().ParseTradingPlan(writePlanFile(t, samplePlan))

	assert.Equal(t, []string{"2330", "2454", "2603"}, picks.BuyCandidates)
	assert.Equal(t, []string{"1101", "2330"}, picks.Watchlist)
	assert.Equal(t, []string{"2330", "2454", "2603", "1101"}, picks.All)
}

func TestParseTradingPlanMissingFile(t *testing.T) {
	picks := newTestParser().ParseTradingPlan(filepath.Join(t.TempDir(), "missing.md"))

	assert.True(t, picks.IsEmpty())
	assert.Empty(t, picks.All)
}

func TestParseTradingPlanIgnoresNumbersOutsideFirstColumn(t *testing.T) {
	plan := `## 買進計畫

| 代號 | 名稱 | 進場價 |
|---|---|---|
| 台積電 | 目標 1200 | 1180.5 |
`
	picks := newTestParser().ParseTradingPlan(writePlanFile(t, plan))
	assert.Empty(t, picks.BuyCandidates)
}

func TestParseTradingPlanSectionReset(t *testing.T) {
	plan := `## 買進計畫

| 代號 | 名稱 |
|---|---|
| 2330 | 台積電 |

### 免責聲明

| 代號 | 名稱 |
|---|---|
| 2454 | 聯發科 |
`
	picks := newTestParser().ParseTradingPlan(writePlanFile(t, plan))
	assert.Equal(t, []string{"2330"}, picks.BuyCandidates)
}

func TestParseSingleStockResultFrontmatter(t *testing.T) {
	analysis := newTestParser().ParseSingleStockResult(frontmatterReport)
	require.NotNil(t, analysis)

	assert.Equal(t, "2330", analysis.StockCode)
	assert.Equal(t, "台積電", analysis.StockName)
	assert.Equal(t, 1180.0, analysis.Price)
	assert.Equal(t, "buy", analysis.Suggestion)
	assert.Equal(t, 5, analysis.Score)
	assert.Equal(t, 4, analysis.BullishCount)
	assert.Equal(t, 0, analysis.BearishCount)
	assert.Equal(t, []string{"站上5日均線", "成交量放大", "外資買超", "KD黃金交叉"}, analysis.BullishSignals)
}

func TestParseSingleStockResultJSON(t *testing.T) {
	analysis := newTestParser().ParseSingleStockResult(jsonReport)
	require.NotNil(t, analysis)

	assert.Equal(t, "2330", analysis.StockCode)
	assert.Equal(t, 1180.0, analysis.Price)
	assert.Equal(t, "buy", analysis.Suggestion)
	assert.Equal(t, 5, analysis.Score)
	assert.Equal(t, 4, analysis.BullishCount)
}

func TestParseSingleStockResultDecodersAgree(t *testing.T) {
	p := newTestParser()

	fromMarkdown := p.ParseSingleStockResult(frontmatterReport)
	fromJSON := p.ParseSingleStockResult(jsonReport)
	require.NotNil(t, fromMarkdown)
	require.NotNil(t, fromJSON)

	assert.Equal(t, fromJSON, fromMarkdown)
}

func TestParseSingleStockResultCommaSeparatedSignals(t *testing.T) {
	raw := `---
stock_code: "2603"
stock_name: 長榮
suggestion: watch
score: 1
bullish_signals: "量增, 突破前高"
bearish_signals: ""
price_close: 245.5
---
`
	analysis := newTestParser().ParseSingleStockResult(raw)
	require.NotNil(t, analysis)

	assert.Equal(t, []string{"量增", "突破前高"}, analysis.BullishSignals)
	assert.Equal(t, 2, analysis.BullishCount)
	assert.Equal(t, 0, analysis.BearishCount)
}

func TestParseSingleStockResultMissingFrontmatterField(t *testing.T) {
	raw := `---
stock_code: "2330"
stock_name: 台積電
suggestion: buy
score: 5
bullish_signals: []
bearish_signals: []
---
`
	assert.Nil(t, newTestParser().ParseSingleStockResult(raw))
}

func TestParseSingleStockResultJSONError(t *testing.T) {
	raw := `{"error": true, "message": "資料不足"}`
	assert.Nil(t, newTestParser().ParseSingleStockResult(raw))
}

func TestParseSingleStockResultUnparseable(t *testing.T) {
	p := newTestParser()
	assert.Nil(t, p.ParseSingleStockResult(""))
	assert.Nil(t, p.ParseSingleStockResult("盤中分析失敗，請稍後重試"))
}

func TestCheckAlertSuggestionDriven(t *testing.T) {
	p := newTestParser()

	buy := &entity.StockAnalysis{
		StockCode:    "2330",
		StockName:    "台積電",
		Price:        1180,
		Suggestion:   "buy",
		Score:        5,
		BullishCount: 4,
		BearishCount: 1,
	}
	alert := p.CheckAlert(buy, 3, 3)
	require.NotNil(t, alert)
	assert.Equal(t, entity.AlertBuy, alert.SignalType)
	assert.Equal(t, "建議買入 (多頭4/空頭1, score=5)", alert.Reason)
	assert.Equal(t, 1180.0, alert.Price)

	sell := &entity.StockAnalysis{
		StockCode:    "2603",
		StockName:    "長榮",
		Price:        245.5,
		Suggestion:   "sell",
		Score:        -4,
		BullishCount: 0,
		BearishCount: 4,
	}
	alert = p.CheckAlert(sell, 3, 3)
	require.NotNil(t, alert)
	assert.Equal(t, entity.AlertSell, alert.SignalType)
	assert.Equal(t, "建議賣出 (多頭0/空頭4, score=-4)", alert.Reason)
}

func TestCheckAlertThresholdDriven(t *testing.T) {
	p := newTestParser()

	bullish := &entity.StockAnalysis{
		StockCode:      "2454",
		Suggestion:     "watch",
		Score:          2,
		BullishCount:   3,
		BullishSignals: []string{"量增", "突破前高", "外資買超", "KD黃金交叉"},
	}
	alert := p.CheckAlert(bullish, 3, 3)
	require.NotNil(t, alert)
	assert.Equal(t, entity.AlertBuy, alert.SignalType)
	assert.Equal(t, "多頭信號 3 個 (>=3), score=2: 量增, 突破前高, 外資買超", alert.Reason)

	bearish := &entity.StockAnalysis{
		StockCode:      "1101",
		Suggestion:     "hold",
		Score:          -2,
		BearishCount:   3,
		BearishSignals: []string{"跌破月線", "量縮", "外資賣超"},
	}
	alert = p.CheckAlert(bearish, 3, 3)
	require.NotNil(t, alert)
	assert.Equal(t, entity.AlertSell, alert.SignalType)
	assert.Equal(t, "空頭信號 3 個 (>=3), score=-2: 跌破月線, 量縮, 外資賣超", alert.Reason)
}

func TestCheckAlertNoTrigger(t *testing.T) {
	p := newTestParser()

	tests := []struct {
		name     string
		analysis *entity.StockAnalysis
	}{
		{"nil analysis", nil},
		{"not enough signals", &entity.StockAnalysis{Suggestion: "watch", Score: 2, BullishCount: 2}},
		{"signals without score direction", &entity.StockAnalysis{Suggestion: "watch", Score: 0, BullishCount: 5}},
		{"bearish signals with positive score", &entity.StockAnalysis{Suggestion: "hold", Score: 1, BearishCount: 5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Nil(t, p.CheckAlert(tt.analysis, 3, 3))
		})
	}
}
