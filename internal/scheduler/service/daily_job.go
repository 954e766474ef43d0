package service

import (
	"context"
	"fmt"
	"os"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/calendar"
	"twstock-scheduler/internal/scheduler/signal"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
)

// RunDailyJob executes the daily trading-plan flow on trading days: run the
// analysis provider, parse the generated plan into risk-adjusted candidate
// signals, persist the candidate artifacts, and mail the plan.
func (s *jobService) RunDailyJob(ctx context.Context) {
	startedAt := s.now()
	runID := buildRunID(entity.JobDaily, startedAt)
	runDate := startedAt.Format(common.DateLayout)

	if !calendar.IsTradingDay(startedAt) {
		s.logger.Info("Skipping daily analysis on a non-trading day",
			logger.StringField("date", runDate),
		)
		s.emitEvent(entity.JobDaily, runID, entity.JobEventSkipped,
			logger.StringField("run_date", runDate),
			logger.StringField("reason", entity.SkipNonTradingDay),
		)
		s.recordRun(entity.JobDaily, runID, entity.JobEventSkipped, 0, 0, "")
		return
	}

	prefs := s.cfg.Trading
	s.logger.Info("Daily analysis job starting", logger.StringField("run_id", runID))
	s.emitEvent(entity.JobDaily, runID, entity.JobEventStart,
		logger.StringField("run_date", runDate),
		logger.Field("input_summary", map[string]interface{}{
			"risk_level": prefs.RiskLevel,
			"capital":    prefs.Capital,
		}),
	)

	defer s.recoverJob(entity.JobDaily, runID, startedAt)

	if _, err := s.tasks.RunDailyAnalyzer(ctx, prefs); err != nil {
		s.logger.Error("Daily analyzer failed",
			logger.StringField("error", truncateText(err.Error(), 500)),
		)
		s.failJob(entity.JobDaily, runID, startedAt, entity.ErrCodeAITaskFailed, "")
		return
	}

	planPath := s.locator.FindLatestTradingPlan(startedAt)
	if planPath == "" {
		s.logger.Error("Daily run succeeded but produced no trading plan, treating as failed")
		s.failJob(entity.JobDaily, runID, startedAt, entity.ErrCodeMissingReport, "")
		return
	}

	content, err := os.ReadFile(planPath)
	if err != nil {
		s.logger.Error("Failed to read trading plan",
			logger.StringField("path", planPath),
			logger.ErrorField(err),
		)
		s.failJob(entity.JobDaily, runID, startedAt, entity.ErrCodeException, err.Error())
		return
	}
	s.logger.Info("Trading plan generated", logger.StringField("path", planPath))

	picks := s.parser.ParseTradingPlan(planPath)
	s.logger.Info("Recommended stocks",
		logger.Field("buy_candidates", picks.BuyCandidates),
		logger.Field("watchlist", picks.Watchlist),
	)

	candidates := signal.BuildDailyCandidates(picks, startedAt)
	adjusted := signal.ApplyRiskRules(candidates, riskPreferences(prefs))
	candidateFiles, err := s.writer.WriteCandidateOutputs(entity.JobDaily, runID, s.now(), adjusted)
	if err != nil {
		s.logger.Error("Failed to write candidate outputs", logger.ErrorField(err))
		s.failJob(entity.JobDaily, runID, startedAt, entity.ErrCodeException, err.Error())
		return
	}

	outputFiles := append([]string{planPath}, candidateFiles...)
	subject := fmt.Sprintf("[台股日報] 每日交易計畫 %s", runDate)
	s.sendReportMail(subject, string(content), outputFiles)
	s.notifyCompletion(entity.JobDaily, runID, adjusted)

	durationSec := s.elapsedSince(startedAt)
	s.emitEvent(entity.JobDaily, runID, entity.JobEventCompleted,
		logger.Float64Field("duration_sec", durationSec),
		logger.Field("output_files", outputFiles),
		logger.IntField("candidate_count", len(adjusted)),
	)
	s.recordRun(entity.JobDaily, runID, entity.JobEventCompleted, durationSec, len(adjusted), "")
	s.logger.Info("Daily analysis job finished", logger.StringField("run_id", runID))
}
