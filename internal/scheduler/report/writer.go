package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// RunRecord is one row of the run ledger kept under the outputs directory.
type RunRecord struct {
	Timestamp      time.Time
	Job            string
	RunID          string
	Status         string
	DurationSec    float64
	CandidateCount int
	ErrorCode      string
}

var runLedgerHeader = []string{"timestamp", "job", "run_id", "status", "duration_sec", "candidate_count", "error_code"}

// Writer persists candidate signals and the run ledger as file artifacts.
type Writer interface {
	WriteCandidatesJSON(candidates []entity.CandidateSignal, outputPath string, metadata map[string]interface{}) (string, error)
	WriteCandidatesMarkdown(candidates []entity.CandidateSignal, outputPath string, metadata map[string]interface{}) (string, error)
	WriteCandidateOutputs(jobName, runID string, runTime time.Time, candidates []entity.CandidateSignal) ([]string, error)
	AppendRunRecord(record RunRecord) error
}

// NewWriter creates a writer rooted at the given outputs directory.
func NewWriter(outputsDir string, log *logger.Logger) Writer {
	return &writer{
		outputsDir: outputsDir,
		logger:     log,
		now:        utils.TimeNowTaipei,
	}
}

type writer struct {
	outputsDir string
	logger     *logger.Logger
	now        func() time.Time
}

type candidateDocument struct {
	GeneratedAt string                   `json:"generated_at"`
	Metadata    map[string]interface{}   `json:"metadata"`
	Candidates  []entity.CandidateSignal `json:"candidates"`
}

// WriteCandidatesJSON writes the machine-readable candidate artifact and
// returns its path. Parent directories are created as needed.
func (w *writer) WriteCandidatesJSON(candidates []entity.CandidateSignal, outputPath string, metadata map[string]interface{}) (string, error) {
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	doc := candidateDocument{
		GeneratedAt: w.now().Format(common.TimestampLayout),
		Metadata:    metadata,
		Candidates:  roundedCandidates(candidates),
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return "", fmt.Errorf("failed to encode candidates: %w", err)
	}

	if err := writeFile(outputPath, buf.Bytes()); err != nil {
		return "", err
	}
	return outputPath, nil
}

// WriteCandidatesMarkdown writes the human-readable companion of the JSON
// artifact: a score table plus the per-stock reasons.
func (w *writer) WriteCandidatesMarkdown(candidates []entity.CandidateSignal, outputPath string, metadata map[string]interface{}) (string, error) {
	rounded := roundedCandidates(candidates)

	lines := []string{
		"# Candidate Signals",
		"",
		fmt.Sprintf("- generated_at: %s", w.now().Format(common.TimestampLayout)),
	}
	for _, key := range sortedKeys(metadata) {
		lines = append(lines, fmt.Sprintf("- %s: %v", key, metadata[key]))
	}

	lines = append(lines,
		"",
		"| stock_code | action | total_score | confidence | technical | news | risk_penalty |",
		"|---|---|---:|---:|---:|---:|---:|",
	)
	for _, c := range rounded {
		lines = append(lines, fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |",
			c.StockCode,
			c.Action,
			formatNumber(c.TotalScore),
			formatNumber(c.Confidence),
			formatNumber(c.TechnicalScore),
			formatNumber(c.NewsScore),
			formatNumber(c.RiskPenalty),
		))
	}

	lines = append(lines, "", "## Reasons", "")
	for _, c := range rounded {
		lines = append(lines, fmt.Sprintf("- %s: %s", c.StockCode, strings.Join(c.Reasons, "; ")))
	}

	if err := writeFile(outputPath, []byte(strings.Join(lines, "\n"))); err != nil {
		return "", err
	}
	return outputPath, nil
}

// WriteCandidateOutputs writes the JSON and markdown artifacts for one job
// run under the candidates subdirectory and returns both paths.
func (w *writer) WriteCandidateOutputs(jobName, runID string, runTime time.Time, candidates []entity.CandidateSignal) ([]string, error) {
	stamp := runTime.Format(common.FileStampLayout)
	prefix := filepath.Join(w.outputsDir, common.CandidateSubdir, fmt.Sprintf("%s_%s", jobName, stamp))
	metadata := map[string]interface{}{
		"job":             jobName,
		"run_id":          runID,
		"candidate_count": len(candidates),
	}

	jsonPath, err := w.WriteCandidatesJSON(candidates, prefix+".json", metadata)
	if err != nil {
		return nil, err
	}
	markdownPath, err := w.WriteCandidatesMarkdown(candidates, prefix+".md", metadata)
	if err != nil {
		return nil, err
	}
	return []string{jsonPath, markdownPath}, nil
}

// AppendRunRecord appends one row to the run ledger, writing the CSV header
// when the ledger does not exist yet.
func (w *writer) AppendRunRecord(record RunRecord) error {
	path := filepath.Join(w.outputsDir, common.RunLedgerFileName)
	if err := os.MkdirAll(w.outputsDir, 0o755); err != nil {
		return fmt.Errorf("failed to create outputs dir: %w", err)
	}

	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open run ledger: %w", err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if writeHeader {
		if err := cw.Write(runLedgerHeader); err != nil {
			return fmt.Errorf("failed to write ledger header: %w", err)
		}
	}
	row := []string{
		record.Timestamp.Format(common.TimestampLayout),
		record.Job,
		record.RunID,
		record.Status,
		strconv.FormatFloat(record.DurationSec, 'f', 2, 64),
		strconv.Itoa(record.CandidateCount),
		record.ErrorCode,
	}
	if err := cw.Write(row); err != nil {
		return fmt.Errorf("failed to write ledger row: %w", err)
	}
	cw.Flush()
	return cw.Error()
}

func roundedCandidates(candidates []entity.CandidateSignal) []entity.CandidateSignal {
	rounded := make([]entity.CandidateSignal, 0, len(candidates))
	for _, candidate := range candidates {
		rounded = append(rounded, candidate.Rounded())
	}
	return rounded
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func formatNumber(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
