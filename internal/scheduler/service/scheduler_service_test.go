package service

import (
	"context"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/logger"
)

type noopJobs struct{}

func (noopJobs) RunNewsJob(context.Context)    {}
func (noopJobs) RunDailyJob(context.Context)   {}
func (noopJobs) RunMonitorJob(context.Context) {}

func validSchedule() config.Schedule {
	return config.Schedule{
		NewsPickerDay:          "sun",
		NewsPickerTime:         "00:00",
		DailyAnalysisTime:      "08:00",
		MonitorIntervalMinutes: 30,
		MonitorStart:           "09:00",
		MonitorEnd:             "13:30",
	}
}

func TestNewsCronSpec(t *testing.T) {
	tests := []struct {
		name  string
		day   string
		clock string
		want  string
	}{
		{name: "sunday midnight", day: "sun", clock: "00:00", want: "0 0 * * sun"},
		{name: "day is lowercased", day: "Mon", clock: "08:30", want: "30 8 * * mon"},
		{name: "empty day defaults to sunday", day: "", clock: "08:30", want: "30 8 * * sun"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := newsCronSpec(config.Schedule{NewsPickerDay: tc.day, NewsPickerTime: tc.clock})
			require.NoError(t, err)
			assert.Equal(t, tc.want, spec)
		})
	}
}

func TestNewsCronSpecRejectsBadClock(t *testing.T) {
	_, err := newsCronSpec(config.Schedule{NewsPickerDay: "sun", NewsPickerTime: "midnight"})
	assert.ErrorContains(t, err, "news_picker_time")
}

func TestDailyCronSpec(t *testing.T) {
	spec, err := dailyCronSpec(config.Schedule{DailyAnalysisTime: "08:00"})
	require.NoError(t, err)
	assert.Equal(t, "0 8 * * 1-5", spec)
}

func TestMonitorCronSpec(t *testing.T) {
	tests := []struct {
		name     string
		start    string
		end      string
		interval int
		want     string
	}{
		{name: "regular window", start: "09:00", end: "13:30", interval: 30, want: "*/30 9-13 * * 1-5"},
		{name: "interval floor", start: "09:00", end: "13:30", interval: 0, want: "*/30 9-13 * * 1-5"},
		{name: "end before start clamps to start hour", start: "13:00", end: "09:00", interval: 15, want: "*/15 13-13 * * 1-5"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec, err := monitorCronSpec(config.Schedule{
				MonitorStart:           tc.start,
				MonitorEnd:             tc.end,
				MonitorIntervalMinutes: tc.interval,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, spec)
		})
	}
}

func TestCronSpecsAreParseable(t *testing.T) {
	sched := validSchedule()

	newsSpec, err := newsCronSpec(sched)
	require.NoError(t, err)
	dailySpec, err := dailyCronSpec(sched)
	require.NoError(t, err)
	monitorSpec, err := monitorCronSpec(sched)
	require.NoError(t, err)

	for _, spec := range []string{newsSpec, dailySpec, monitorSpec} {
		_, err := cron.ParseStandard(spec)
		assert.NoError(t, err, "spec %q should parse", spec)
	}
}

func TestSchedulerServiceStartStops(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log := logger.NewFromZap(zap.New(core))

	cfg := &config.Config{}
	cfg.Schedule = validSchedule()

	svc, err := NewSchedulerService(cfg, noopJobs{}, log)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Start(ctx) }()
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	assert.Len(t, logs.FilterMessage("Job scheduled").All(), 3)
}

func TestSchedulerServiceRejectsInvalidSpec(t *testing.T) {
	cfg := &config.Config{}
	cfg.Schedule = validSchedule()
	cfg.Schedule.NewsPickerTime = "midnight"

	svc, err := NewSchedulerService(cfg, noopJobs{}, logger.NewNop())
	require.NoError(t, err)

	err = svc.Start(context.Background())
	assert.ErrorContains(t, err, "news_picker_time")
}
