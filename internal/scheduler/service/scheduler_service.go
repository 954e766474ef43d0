package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// SchedulerService drives the three jobs on Taiwan wall-clock time.
type SchedulerService interface {
	Start(ctx context.Context) error
}

// NewSchedulerService creates the cron scheduler. An overlapping run of the
// same job is skipped rather than queued, and a panicking run never takes
// the scheduler down.
func NewSchedulerService(cfg *config.Config, jobs JobService, log *logger.Logger) (SchedulerService, error) {
	location, err := time.LoadLocation("Asia/Taipei")
	if err != nil {
		return nil, fmt.Errorf("failed to load market timezone: %w", err)
	}

	cronLog := cronLogger{logger: log}
	return &schedulerService{
		cfg:  cfg,
		jobs: jobs,
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cronLog), cron.Recover(cronLog)),
		),
		logger: log,
	}, nil
}

type schedulerService struct {
	cfg    *config.Config
	jobs   JobService
	cron   *cron.Cron
	logger *logger.Logger
}

// Start registers the jobs, runs the cron loop, and blocks until the
// context is cancelled. Jobs still running at shutdown finish before Start
// returns.
func (s *schedulerService) Start(ctx context.Context) error {
	newsSpec, err := newsCronSpec(s.cfg.Schedule)
	if err != nil {
		return err
	}
	dailySpec, err := dailyCronSpec(s.cfg.Schedule)
	if err != nil {
		return err
	}
	monitorSpec, err := monitorCronSpec(s.cfg.Schedule)
	if err != nil {
		return err
	}

	registrations := []struct {
		name string
		spec string
		run  func()
	}{
		{name: "news_stock_picker", spec: newsSpec, run: func() { s.jobs.RunNewsJob(ctx) }},
		{name: "daily_analysis", spec: dailySpec, run: func() { s.jobs.RunDailyJob(ctx) }},
		{name: "intraday_monitor", spec: monitorSpec, run: func() { s.jobs.RunMonitorJob(ctx) }},
	}

	entryIDs := make([]cron.EntryID, len(registrations))
	for i, reg := range registrations {
		id, err := s.cron.AddFunc(reg.spec, reg.run)
		if err != nil {
			return fmt.Errorf("failed to schedule %s (%s): %w", reg.name, reg.spec, err)
		}
		entryIDs[i] = id
		s.logger.Info("Job scheduled",
			logger.StringField("job", reg.name),
			logger.StringField("spec", reg.spec),
		)
	}

	s.cron.Start()
	for i, reg := range registrations {
		entry := s.cron.Entry(entryIDs[i])
		s.logger.Info("Next run planned",
			logger.StringField("job", reg.name),
			logger.Field("next_run", entry.Next),
		)
	}
	s.logger.Info("Scheduler service started")

	<-ctx.Done()
	s.logger.Info("Scheduler service stopping")
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.logger.Info("Scheduler service stopped")
	return nil
}

// newsCronSpec triggers the weekly news job on the configured weekday.
func newsCronSpec(sched config.Schedule) (string, error) {
	hour, minute, err := utils.ParseClock(sched.NewsPickerTime)
	if err != nil {
		return "", fmt.Errorf("invalid schedule.news_picker_time: %w", err)
	}
	day := strings.ToLower(strings.TrimSpace(sched.NewsPickerDay))
	if day == "" {
		day = "sun"
	}
	return fmt.Sprintf("%d %d * * %s", minute, hour, day), nil
}

// dailyCronSpec triggers the daily analysis on weekday mornings. The job
// re-checks the trading calendar itself, so exchange holidays fall out as
// skipped runs.
func dailyCronSpec(sched config.Schedule) (string, error) {
	hour, minute, err := utils.ParseClock(sched.DailyAnalysisTime)
	if err != nil {
		return "", fmt.Errorf("invalid schedule.daily_analysis_time: %w", err)
	}
	return fmt.Sprintf("%d %d * * 1-5", minute, hour), nil
}

// monitorCronSpec fires every interval within the monitor hours on
// weekdays. The hour range only bounds how often the job wakes up; the
// minute-exact window check happens inside the job.
func monitorCronSpec(sched config.Schedule) (string, error) {
	startHour, _, err := utils.ParseClock(sched.MonitorStart)
	if err != nil {
		return "", fmt.Errorf("invalid schedule.monitor_start: %w", err)
	}
	endHour, _, err := utils.ParseClock(sched.MonitorEnd)
	if err != nil {
		return "", fmt.Errorf("invalid schedule.monitor_end: %w", err)
	}
	interval := sched.MonitorIntervalMinutes
	if interval < 1 {
		interval = 30
	}
	if endHour < startHour {
		endHour = startHour
	}
	return fmt.Sprintf("*/%d %d-%d * * 1-5", interval, startHour, endHour), nil
}

// cronLogger adapts the structured logger to the cron logging interface.
type cronLogger struct {
	logger *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append([]zap.Field{logger.ErrorField(err)}, kvFields(keysAndValues)...)...)
}

func kvFields(keysAndValues []interface{}) []zap.Field {
	fields := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields = append(fields, logger.Field(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fields
}
