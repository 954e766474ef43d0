package service

import (
	"context"
	"fmt"
	"os"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
)

// RunNewsJob executes the weekly news-driven stock picking flow: run the
// analysis provider, locate the fresh strategy report, and mail it out.
// The weekly trigger fires regardless of trading days.
func (s *jobService) RunNewsJob(ctx context.Context) {
	startedAt := s.now()
	runID := buildRunID(entity.JobNews, startedAt)
	runDate := startedAt.Format(common.DateLayout)

	s.logger.Info("News stock picker job starting", logger.StringField("run_id", runID))
	s.emitEvent(entity.JobNews, runID, entity.JobEventStart,
		logger.StringField("run_date", runDate),
	)

	defer s.recoverJob(entity.JobNews, runID, startedAt)

	if _, err := s.tasks.RunNewsStockPicker(ctx); err != nil {
		s.logger.Error("News stock picker failed",
			logger.StringField("error", truncateText(err.Error(), 500)),
		)
		s.failJob(entity.JobNews, runID, startedAt, entity.ErrCodeAITaskFailed, "")
		return
	}

	reportPath := s.locator.FindLatestNewsReport(startedAt)
	if reportPath == "" {
		s.logger.Error("News run succeeded but produced no report, treating as failed")
		s.failJob(entity.JobNews, runID, startedAt, entity.ErrCodeMissingReport, "")
		return
	}

	content, err := os.ReadFile(reportPath)
	if err != nil {
		s.logger.Error("Failed to read news report",
			logger.StringField("path", reportPath),
			logger.ErrorField(err),
		)
		s.failJob(entity.JobNews, runID, startedAt, entity.ErrCodeException, err.Error())
		return
	}
	s.logger.Info("News strategy report generated", logger.StringField("path", reportPath))

	subject := fmt.Sprintf("[台股週報] 新聞選股策略 %s", runDate)
	s.sendReportMail(subject, string(content), []string{reportPath})

	durationSec := s.elapsedSince(startedAt)
	s.emitEvent(entity.JobNews, runID, entity.JobEventCompleted,
		logger.Float64Field("duration_sec", durationSec),
		logger.Field("output_files", []string{reportPath}),
	)
	s.recordRun(entity.JobNews, runID, entity.JobEventCompleted, durationSec, 0, "")
	s.logger.Info("News stock picker job finished", logger.StringField("run_id", runID))
}
