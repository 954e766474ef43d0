package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/common"
)

// RunNewsStockPicker asks the provider for the weekly news-driven strategy
// report and fails when no fresh report file shows up afterwards.
func (r *runner) RunNewsStockPicker(ctx context.Context) (string, error) {
	basePrompt := "請執行新聞驅動台股選股策略分析。" +
		"搜尋近一週的國內外重大新聞，分析對台股的影響，" +
		"產出完整的選股策略報告，儲存至 strategy/ 資料夾。" +
		"請直接執行，不需要詢問我任何問題。"

	prompt, err := r.skills.preparePrompt("news", basePrompt)
	if err != nil {
		return "", err
	}

	timeoutMinutes := taskTimeout(r.cfg.AI.TimeoutMinutes.News, 10)
	startedAt := r.now()
	stdout, err := r.runTask(ctx, "news", prompt, timeoutMinutes)
	if err != nil {
		return stdout, err
	}

	pattern := filepath.Join(r.cfg.Paths.StrategyDir, common.NewsStrategyPrefix+"*.md")
	if r.locator.FindRecentOutput(pattern, startedAt) == "" {
		err := errors.New("AI 任務成功但未找到新產生的新聞報告檔案 (strategy/news_strategy_*.md)")
		r.logger.Error("News report missing after provider run", zap.Error(err))
		return stdout, err
	}
	return stdout, nil
}

// RunDailyAnalyzer asks the provider for today's trading plan using the
// configured preferences and fails when no fresh plan file shows up.
func (r *runner) RunDailyAnalyzer(ctx context.Context, prefs config.TradingPreferences) (string, error) {
	holdings := "無"
	if len(prefs.Holdings) > 0 {
		holdings = strings.Join(prefs.Holdings, "、")
	}
	sectors := "不限"
	if len(prefs.FocusSectors) > 0 {
		sectors = strings.Join(prefs.FocusSectors, "、")
	}
	capitalWan := strconv.FormatFloat(prefs.Capital/10000, 'f', -1, 64)

	basePrompt := fmt.Sprintf(
		"請執行台股每日分析。我的偏好如下：\n"+
			"- 風險偏好：%s\n"+
			"- 可用資金：%s 萬元\n"+
			"- 交易週期：%s\n"+
			"- 目前持股：%s\n"+
			"- 關注產業：%s\n\n"+
			"請依序執行：\n"+
			"1. 抓取今日台股資料（fetch_twse_data.py）\n"+
			"2. 計算技術指標（calculate_indicators.py）\n"+
			"3. 產生交易計畫（generate_plan.py），使用上述偏好設定\n\n"+
			"請直接產出完整交易計畫，不需要詢問我任何問題。",
		prefs.RiskLevel, capitalWan, prefs.TradingPeriod, holdings, sectors,
	)

	prompt, err := r.skills.preparePrompt("daily", basePrompt)
	if err != nil {
		return "", err
	}

	timeoutMinutes := taskTimeout(r.cfg.AI.TimeoutMinutes.Daily, 15)
	startedAt := r.now()
	stdout, err := r.runTask(ctx, "daily", prompt, timeoutMinutes)
	if err != nil {
		return stdout, err
	}

	pattern := filepath.Join(r.cfg.Paths.OutputsDir, common.TradingPlanPrefix+"*.md")
	if r.locator.FindRecentOutput(pattern, startedAt) == "" {
		err := errors.New("AI 任務成功但未找到新產生的交易計畫檔案 (outputs/trading_plan_*.md)")
		r.logger.Error("Trading plan missing after provider run", zap.Error(err))
		return stdout, err
	}
	return stdout, nil
}

// RunMultiStockAnalysis analyzes the given stocks in one provider call and
// decodes the JSON batch result from stdout.
func (r *runner) RunMultiStockAnalysis(ctx context.Context, stockCodes []string) ([]entity.StockAnalysis, error) {
	var codes []string
	seen := make(map[string]struct{})
	for _, code := range stockCodes {
		text := strings.TrimSpace(code)
		if text == "" {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		codes = append(codes, text)
	}
	if len(codes) == 0 {
		return nil, errors.New("stock_codes 不可為空")
	}

	basePrompt := fmt.Sprintf(
		"請針對以下股票一次執行盤中技術分析：%s\n"+
			"請強制使用 multi-stock-analyzer skill，並依其 workflow 執行批次腳本。\n"+
			"輸出要求：\n"+
			"1. 回覆內容僅限 JSON。\n"+
			"2. 不可輸出 Markdown、程式碼區塊或其他說明文字。\n"+
			"3. JSON 需包含 results 與 failed_symbols 欄位。\n"+
			"請直接執行，不需要再提問。",
		strings.Join(codes, " "),
	)

	prompt, err := r.skills.preparePrompt("monitor", basePrompt)
	if err != nil {
		return nil, err
	}

	timeoutMinutes := taskTimeout(r.cfg.AI.TimeoutMinutes.Monitor, 5)
	stdout, err := r.runTask(ctx, "monitor", prompt, timeoutMinutes)
	if err != nil {
		return nil, err
	}

	decoded := parseMultiStockStdout(stdout)
	if decoded == nil {
		err := fmt.Errorf("批次分析輸出無法解析 JSON: %s", truncate(stdout, 200))
		r.logger.Error("Batch analysis output is not valid JSON", zap.Error(err))
		return nil, err
	}

	rawItems, _ := decoded["results"].([]interface{})
	results := make([]entity.StockAnalysis, 0, len(rawItems))
	for _, rawItem := range rawItems {
		if analysis := normalizeMultiStockResult(rawItem); analysis != nil {
			results = append(results, *analysis)
		}
	}

	if failed, ok := decoded["failed_symbols"].([]interface{}); ok && len(failed) > 0 {
		r.logger.Warn("Batch analysis reported failed symbols", zap.Int("count", len(failed)))
	}

	if len(results) > 0 {
		return results, nil
	}

	message := strings.TrimSpace(cast.ToString(decoded["message"]))
	if message == "" {
		message = "AI 任務完成但沒有可用個股分析結果"
	}
	r.logger.Error("Batch analysis returned no usable results", zap.String("error", message))
	return nil, errors.New(message)
}

// RunSingleStockAnalysis analyzes one stock, locates the intraday report the
// provider was told to write, and returns the report content.
func (r *runner) RunSingleStockAnalysis(ctx context.Context, stockCode string) (string, error) {
	code := strings.TrimSpace(stockCode)
	if code == "" {
		return "", errors.New("stock_code 不可為空")
	}

	if err := os.MkdirAll(r.cfg.Paths.IntradayDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create intraday dir: %w", err)
	}

	reportDate := r.now().Format(common.CompactDateLayout)
	targetPath := filepath.Join(r.cfg.Paths.IntradayDir,
		fmt.Sprintf("%s%s_%s.md", common.IntradayReportPrefix, code, reportDate))

	basePrompt := fmt.Sprintf(
		"請針對個股 %s 執行盤中技術分析。\n"+
			"請強制使用 single-stock-analyzer skill 完成分析。\n"+
			"輸出檔案必須儲存為：%s\n\n"+
			"報告內容請遵循下列格式要求：\n"+
			"1. 檔案格式為 Markdown。\n"+
			"2. 最上方必須放 YAML frontmatter（使用 --- 包覆）。\n"+
			"3. frontmatter 必須包含：\n"+
			"   - stock_code\n"+
			"   - stock_name\n"+
			"   - suggestion（buy/sell/watch/hold）\n"+
			"   - score（整數）\n"+
			"   - bullish_signals（字串陣列）\n"+
			"   - bearish_signals（字串陣列）\n"+
			"   - price_close（數字）\n\n"+
			"請直接執行並寫入指定檔案，不需要再提問。",
		code, targetPath,
	)

	prompt, err := r.skills.preparePrompt("monitor_single", basePrompt)
	if err != nil {
		return "", err
	}

	timeoutMinutes := taskTimeout(r.cfg.AI.TimeoutMinutes.Monitor, 5)
	startedAt := r.now()
	stdout, err := r.runTask(ctx, "monitor", prompt, timeoutMinutes)
	if err != nil {
		return stdout, err
	}

	reportPath := r.findRecentIntradayReport(code, reportDate, startedAt)
	if reportPath == "" {
		err := fmt.Errorf("AI 任務成功但未找到新產生的個股分析檔案 (intraday/stock_analysis_%s_*.md)", code)
		r.logger.Error("Intraday report missing after provider run", zap.Error(err))
		return stdout, err
	}

	content, err := os.ReadFile(reportPath)
	if err != nil {
		readErr := fmt.Errorf("讀取個股分析報告失敗: %s, error: %v", reportPath, err)
		r.logger.Error("Failed to read intraday report", zap.Error(readErr))
		return stdout, readErr
	}
	return string(content), nil
}

// findRecentIntradayReport prefers a fresh report named for today's date
// before falling back to any fresh report for the stock.
func (r *runner) findRecentIntradayReport(stockCode, reportDate string, startedAt time.Time) string {
	todayPattern := filepath.Join(r.cfg.Paths.IntradayDir,
		fmt.Sprintf("%s%s_%s*.md", common.IntradayReportPrefix, stockCode, reportDate))
	if path := r.locator.FindRecentOutput(todayPattern, startedAt); path != "" {
		return path
	}

	fallbackPattern := filepath.Join(r.cfg.Paths.IntradayDir,
		fmt.Sprintf("%s%s_*.md", common.IntradayReportPrefix, stockCode))
	return r.locator.FindRecentOutput(fallbackPattern, startedAt)
}

var fencedJSONPattern = regexp.MustCompile("(?is)```json\\s*(\\{.*?\\})\\s*```")

// parseMultiStockStdout salvages the batch JSON object from provider stdout.
// Providers occasionally wrap the payload in a fenced code block or prose,
// so the raw text, the fenced block, and the outermost brace span are all
// tried in order.
func parseMultiStockStdout(raw string) map[string]interface{} {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	candidates := []string{strings.TrimSpace(raw)}
	if match := fencedJSONPattern.FindStringSubmatch(raw); match != nil {
		candidates = append(candidates, strings.TrimSpace(match[1]))
	}
	first := strings.Index(raw, "{")
	last := strings.LastIndex(raw, "}")
	if first >= 0 && last > first {
		candidates = append(candidates, strings.TrimSpace(raw[first:last+1]))
	}

	for _, candidate := range candidates {
		var decoded map[string]interface{}
		if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
			continue
		}
		if decoded == nil {
			continue
		}
		return decoded
	}
	return nil
}

// normalizeMultiStockResult coerces one batch result item into a stock
// analysis. Items without a stock code are dropped.
func normalizeMultiStockResult(item interface{}) *entity.StockAnalysis {
	fields, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}

	stockCode := strings.TrimSpace(cast.ToString(fields["stock_code"]))
	if stockCode == "" {
		return nil
	}

	var price float64
	if priceFields, ok := fields["price"].(map[string]interface{}); ok {
		price = cast.ToFloat64(priceFields["close"])
	}

	bullish := normalizeSignalList(fields["bullish_signals"])
	bearish := normalizeSignalList(fields["bearish_signals"])

	return &entity.StockAnalysis{
		StockCode:      stockCode,
		StockName:      strings.TrimSpace(cast.ToString(fields["stock_name"])),
		Price:          price,
		Suggestion:     strings.ToLower(strings.TrimSpace(cast.ToString(fields["suggestion"]))),
		Score:          cast.ToInt(fields["score"]),
		BullishCount:   len(bullish),
		BearishCount:   len(bearish),
		BullishSignals: bullish,
		BearishSignals: bearish,
	}
}

// normalizeSignalList accepts list or comma-separated string forms and
// returns the trimmed non-empty entries.
func normalizeSignalList(value interface{}) []string {
	switch v := value.(type) {
	case []interface{}:
		signals := make([]string, 0, len(v))
		for _, item := range v {
			if text := strings.TrimSpace(cast.ToString(item)); text != "" {
				signals = append(signals, text)
			}
		}
		return signals
	case []string:
		signals := make([]string, 0, len(v))
		for _, item := range v {
			if text := strings.TrimSpace(item); text != "" {
				signals = append(signals, text)
			}
		}
		return signals
	case string:
		parts := strings.Split(v, ",")
		signals := make([]string, 0, len(parts))
		for _, part := range parts {
			if text := strings.TrimSpace(part); text != "" {
				signals = append(signals, text)
			}
		}
		return signals
	default:
		return []string{}
	}
}
