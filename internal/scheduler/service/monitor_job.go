package service

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/patrickmn/go-cache"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/calendar"
	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/internal/scheduler/signal"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// RunMonitorJob executes one intraday monitor cycle: resolve the monitoring
// list from the current trading plan, batch-analyze it through the provider,
// persist candidate artifacts, and deliver sized trade alerts.
func (s *jobService) RunMonitorJob(ctx context.Context) {
	startedAt := s.now()
	runID := buildRunID(entity.JobMonitor, startedAt)
	runDate := startedAt.Format(common.DateLayout)
	runTime := startedAt.Format(common.ClockLayout)

	if !calendar.IsTradingDay(startedAt) {
		s.logger.Info("Skipping intraday monitor on a non-trading day",
			logger.StringField("date", runDate),
		)
		s.emitEvent(entity.JobMonitor, runID, entity.JobEventSkipped,
			logger.StringField("run_date", runDate),
			logger.StringField("reason", entity.SkipNonTradingDay),
		)
		s.recordRun(entity.JobMonitor, runID, entity.JobEventSkipped, 0, 0, "")
		return
	}

	within, err := monitorWindowContains(s.cfg.Schedule, startedAt)
	if err != nil {
		s.logger.Error("Invalid monitor window configuration", logger.ErrorField(err))
		s.failJob(entity.JobMonitor, runID, startedAt, entity.ErrCodeException, err.Error())
		return
	}
	if !within {
		s.logger.Info("Outside the monitor window",
			logger.StringField("time", runTime),
			logger.StringField("window_start", s.cfg.Schedule.MonitorStart),
			logger.StringField("window_end", s.cfg.Schedule.MonitorEnd),
		)
		s.emitEvent(entity.JobMonitor, runID, entity.JobEventSkipped,
			logger.StringField("run_time", runTime),
			logger.StringField("reason", entity.SkipOutsideMonitorWindow),
		)
		s.recordRun(entity.JobMonitor, runID, entity.JobEventSkipped, 0, 0, "")
		return
	}

	s.logger.Info("Intraday monitor job starting",
		logger.StringField("run_id", runID),
		logger.StringField("time", runTime),
	)
	s.emitEvent(entity.JobMonitor, runID, entity.JobEventStart,
		logger.StringField("run_date", runDate),
		logger.StringField("run_time", runTime),
	)

	defer s.recoverJob(entity.JobMonitor, runID, startedAt)

	planPath := s.locator.FindLatestTradingPlan(startedAt)
	if planPath == "" {
		s.logger.Warn("No trading plan available, intraday monitor cannot run")
		s.failJob(entity.JobMonitor, runID, startedAt, entity.ErrCodeMissingDailyPlan, "")
		return
	}

	picks := s.parseTradingPlanCached(planPath)
	if picks.IsEmpty() {
		s.logger.Info("No recommended stocks today, skipping intraday monitor")
		durationSec := s.elapsedSince(startedAt)
		s.emitEvent(entity.JobMonitor, runID, entity.JobEventSkipped,
			logger.Float64Field("duration_sec", durationSec),
			logger.StringField("reason", entity.SkipEmptyStockList),
		)
		s.recordRun(entity.JobMonitor, runID, entity.JobEventSkipped, durationSec, 0, "")
		return
	}

	stockList := picks.All
	s.logger.Info("Monitoring list resolved", logger.Field("stocks", stockList))

	prefs := s.cfg.Trading
	capital := prefs.Capital
	buyRatio := normalizeRatio(prefs.MonitorBuyRatio)
	sellRatio := normalizeRatio(prefs.MonitorSellRatio)
	positions := loadPositionsMap(s.cfg.Paths.OutputsDir, s.logger)

	s.logger.Info("Intraday sizing strategy",
		logger.Float64Field("buy_ratio", buyRatio),
		logger.Float64Field("sell_ratio", sellRatio),
		logger.Float64Field("capital", capital),
	)

	results, err := s.tasks.RunMultiStockAnalysis(ctx, stockList)
	if err != nil {
		s.logger.Warn("Batch stock analysis failed",
			logger.StringField("error", truncateText(err.Error(), 200)),
		)
		s.failJob(entity.JobMonitor, runID, startedAt, entity.ErrCodeAITaskFailed, "")
		return
	}

	candidates := signal.BuildIntradayCandidates(results, s.now())
	adjusted := signal.ApplyRiskRules(candidates, riskPreferences(prefs))
	candidateFiles, err := s.writer.WriteCandidateOutputs(entity.JobMonitor, runID, s.now(), adjusted)
	if err != nil {
		s.logger.Error("Failed to write candidate outputs", logger.ErrorField(err))
		s.failJob(entity.JobMonitor, runID, startedAt, entity.ErrCodeException, err.Error())
		return
	}

	var alerts []entity.TradeAlert
	for i := range results {
		alert := s.parser.CheckAlert(&results[i], s.cfg.Threshold.MinBullishSignals, s.cfg.Threshold.MinBearishSignals)
		if alert == nil {
			continue
		}
		attachQuantityToAlert(alert, capital, buyRatio, sellRatio, positions)
		alerts = append(alerts, *alert)
		s.logger.Info("Trade alert triggered",
			logger.StringField("stock_code", alert.StockCode),
			logger.StringField("stock_name", alert.StockName),
			logger.StringField("signal_type", alert.SignalType),
			logger.StringField("reason", alert.Reason),
			logger.IntField("suggested_quantity", alert.SuggestedQuantity),
		)
	}

	if len(alerts) > 0 {
		s.logger.Info("Sending trade alerts", logger.IntField("count", len(alerts)))
		if err := s.mail.SendTradeAlerts(alerts); err != nil {
			s.logger.Error("Failed to send trade alert email", logger.ErrorField(err))
		}
		s.notifyAlerts(alerts)
	} else {
		s.logger.Info("No alerts triggered this cycle")
	}

	durationSec := s.elapsedSince(startedAt)
	s.emitEvent(entity.JobMonitor, runID, entity.JobEventCompleted,
		logger.Float64Field("duration_sec", durationSec),
		logger.Field("output_files", candidateFiles),
		logger.IntField("candidate_count", len(adjusted)),
		logger.IntField("alert_count", len(alerts)),
	)
	s.recordRun(entity.JobMonitor, runID, entity.JobEventCompleted, durationSec, len(adjusted), "")
	s.logger.Info("Intraday monitor job finished", logger.StringField("run_id", runID))
}

// monitorWindowContains reports whether now falls inside the configured
// monitor window. Both endpoints are inclusive; seconds past the end minute
// count as outside.
func monitorWindowContains(sched config.Schedule, now time.Time) (bool, error) {
	startHour, startMinute, err := utils.ParseClock(sched.MonitorStart)
	if err != nil {
		return false, fmt.Errorf("invalid schedule.monitor_start: %w", err)
	}
	endHour, endMinute, err := utils.ParseClock(sched.MonitorEnd)
	if err != nil {
		return false, fmt.Errorf("invalid schedule.monitor_end: %w", err)
	}

	start := time.Date(now.Year(), now.Month(), now.Day(), startHour, startMinute, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), endHour, endMinute, 0, 0, now.Location())
	return !now.Before(start) && !now.After(end), nil
}

// parseTradingPlanCached parses the trading plan through a small cache so
// repeated monitor cycles do not re-parse an unchanged plan. The cache key
// carries the file mtime, so a rewritten plan is picked up immediately.
func (s *jobService) parseTradingPlanCached(path string) entity.TradingPlanPicks {
	key := path
	if info, err := os.Stat(path); err == nil {
		key = fmt.Sprintf("%s|%d", path, info.ModTime().UnixNano())
	}

	if cached, found := s.planCache.Get(key); found {
		if picks, ok := cached.(entity.TradingPlanPicks); ok {
			return picks
		}
	}

	picks := s.parser.ParseTradingPlan(path)
	s.planCache.Set(key, picks, cache.DefaultExpiration)
	return picks
}
