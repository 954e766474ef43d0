package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"twstock-scheduler/pkg/common"
)

// Locator finds report artifacts on disk by the naming conventions the
// analysis tasks write them with. Methods return an empty string when no
// matching artifact exists.
type Locator interface {
	FindLatestNewsReport(targetDate time.Time) string
	FindLatestTradingPlan(targetDate time.Time) string
	FindRecentOutput(pattern string, startedAt time.Time) string
}

// NewLocator creates a locator over the outputs and strategy directories.
func NewLocator(outputsDir, strategyDir string) Locator {
	return &locator{outputsDir: outputsDir, strategyDir: strategyDir}
}

type locator struct {
	outputsDir  string
	strategyDir string
}

// FindLatestNewsReport prefers a report written for the target date and
// falls back to the lexically newest news strategy report.
func (l *locator) FindLatestNewsReport(targetDate time.Time) string {
	dayPattern := filepath.Join(l.strategyDir,
		fmt.Sprintf("%s%s*", common.NewsStrategyPrefix, targetDate.Format(common.DateLayout)))
	if matches, _ := filepath.Glob(dayPattern); len(matches) > 0 {
		return matches[0]
	}

	matches, _ := filepath.Glob(filepath.Join(l.strategyDir, common.NewsStrategyPrefix+"*.md"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

// FindLatestTradingPlan prefers the plan written for the target date and
// falls back to the lexically newest plan.
func (l *locator) FindLatestTradingPlan(targetDate time.Time) string {
	exact := filepath.Join(l.outputsDir,
		fmt.Sprintf("%s%s.md", common.TradingPlanPrefix, targetDate.Format(common.CompactDateLayout)))
	if fileExists(exact) {
		return exact
	}

	matches, _ := filepath.Glob(filepath.Join(l.outputsDir, common.TradingPlanPrefix+"*.md"))
	if len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return matches[len(matches)-1]
}

// FindRecentOutput returns the lexically last file matching the pattern
// whose mtime is not older than the task start, with a small tolerance for
// filesystem timestamp precision.
func (l *locator) FindRecentOutput(pattern string, startedAt time.Time) string {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return ""
	}
	sort.Strings(matches)

	cutoff := startedAt.Add(-2 * time.Second)
	latest := ""
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.ModTime().Before(cutoff) {
			latest = path
		}
	}
	return latest
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
