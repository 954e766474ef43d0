package report

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/logger"
)

var writerNow = time.Date(2026, time.March, 4, 10, 30, 0, 0, time.UTC)

func newTestWriter(outputsDir string) *writer {
	return &writer{
		outputsDir: outputsDir,
		logger:     logger.NewNop(),
		now:        func() time.Time { return writerNow },
	}
}

func sampleCandidates() []entity.CandidateSignal {
	return []entity.CandidateSignal{
		{
			StockCode:      "2330",
			SignalDate:     "2026-03-04",
			TechnicalScore: 79.333333,
			NewsScore:      0,
			RiskPenalty:    0,
			TotalScore:     79.333333,
			Action:         entity.ActionBuy,
			Confidence:     0.6500000000000001,
			Reasons:        []string{"suggestion=buy", "多頭信號 3 個 (>=3), score=5: 量增"},
			Source:         entity.SourceIntradayMonitor,
		},
		{
			StockCode:      "2603",
			SignalDate:     "2026-03-04",
			TechnicalScore: 48,
			TotalScore:     48,
			Action:         entity.ActionWatch,
			Confidence:     0.45,
			Reasons:        []string{"來源: 每日交易計畫觀察清單"},
			Source:         entity.SourceDailyPlan,
		},
	}
}

func TestWriteCandidatesJSON(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(dir)

	path := filepath.Join(dir, "candidates", "daily_20260304_1030.json")
	written, err := w.WriteCandidatesJSON(sampleCandidates(), path, map[string]interface{}{"job": "daily"})
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		GeneratedAt string                   `json:"generated_at"`
		Metadata    map[string]interface{}   `json:"metadata"`
		Candidates  []entity.CandidateSignal `json:"candidates"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.Equal(t, "2026-03-04T10:30:00", doc.GeneratedAt)
	assert.Equal(t, "daily", doc.Metadata["job"])
	require.Len(t, doc.Candidates, 2)
	assert.Equal(t, 79.33, doc.Candidates[0].TotalScore)
	assert.Equal(t, 0.65, doc.Candidates[0].Confidence)
	assert.NotNil(t, doc.Candidates[0].Metadata)

	// Reasons must stay readable; ">=" must not be HTML-escaped.
	assert.Contains(t, string(data), "(>=3)")
}

func TestWriteCandidatesJSONEmptySet(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(dir)

	path := filepath.Join(dir, "empty.json")
	_, err := w.WriteCandidatesJSON(nil, path, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"candidates": []`)
	assert.Contains(t, string(data), `"metadata": {}`)
}

func TestWriteCandidatesMarkdown(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(dir)

	path := filepath.Join(dir, "candidates", "daily_20260304_1030.md")
	_, err := w.WriteCandidatesMarkdown(sampleCandidates(), path, map[string]interface{}{"run_id": "daily_20260304103000"})
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	content := string(data)

	assert.True(t, strings.HasPrefix(content, "# Candidate Signals\n"))
	assert.Contains(t, content, "- generated_at: 2026-03-04T10:30:00")
	assert.Contains(t, content, "- run_id: daily_20260304103000")
	assert.Contains(t, content, "| stock_code | action | total_score | confidence | technical | news | risk_penalty |")
	assert.Contains(t, content, "| 2330 | buy | 79.33 | 0.65 | 79.33 | 0 | 0 |")
	assert.Contains(t, content, "| 2603 | watch | 48 | 0.45 | 48 | 0 | 0 |")
	assert.Contains(t, content, "## Reasons")
	assert.Contains(t, content, "- 2603: 來源: 每日交易計畫觀察清單")
}

func TestWriteCandidateOutputs(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(dir)

	paths, err := w.WriteCandidateOutputs("daily", "daily_20260304103000", writerNow, sampleCandidates())
	require.NoError(t, err)
	require.Len(t, paths, 2)

	assert.Equal(t, filepath.Join(dir, "candidates", "daily_20260304_1030.json"), paths[0])
	assert.Equal(t, filepath.Join(dir, "candidates", "daily_20260304_1030.md"), paths[1])

	data, err := os.ReadFile(paths[0])
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &doc))
	metadata := doc["metadata"].(map[string]interface{})
	assert.Equal(t, "daily", metadata["job"])
	assert.Equal(t, "daily_20260304103000", metadata["run_id"])
	assert.Equal(t, 2.0, metadata["candidate_count"])
}

func TestAppendRunRecord(t *testing.T) {
	dir := t.TempDir()
	w := newTestWriter(dir)

	require.NoError(t, w.AppendRunRecord(RunRecord{
		Timestamp:      writerNow,
		Job:            "daily",
		RunID:          "daily_20260304103000",
		Status:         "completed",
		DurationSec:    12.25,
		CandidateCount: 3,
	}))
	require.NoError(t, w.AppendRunRecord(RunRecord{
		Timestamp:   writerNow.Add(time.Minute),
		Job:         "monitor",
		RunID:       "monitor_20260304103100",
		Status:      "failed",
		DurationSec: 0.5,
		ErrorCode:   "missing_daily_plan",
	}))

	file, err := os.Open(filepath.Join(dir, "history.csv"))
	require.NoError(t, err)
	defer file.Close()

	rows, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, runLedgerHeader, rows[0])
	assert.Equal(t, []string{"2026-03-04T10:30:00", "daily", "daily_20260304103000", "completed", "12.25", "3", ""}, rows[1])
	assert.Equal(t, []string{"2026-03-04T10:31:00", "monitor", "monitor_20260304103100", "failed", "0.50", "0", "missing_daily_plan"}, rows[2])
}
