package service

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/internal/scheduler/report"
	"twstock-scheduler/internal/scheduler/runner"
	"twstock-scheduler/internal/scheduler/signal"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/mailer"
	"twstock-scheduler/pkg/telegram"
	"twstock-scheduler/pkg/utils"
)

// JobService runs the scheduled analysis jobs. Each run reports its
// lifecycle as structured job events and mirrors the terminal event into
// the run ledger.
type JobService interface {
	RunNewsJob(ctx context.Context)
	RunDailyJob(ctx context.Context)
	RunMonitorJob(ctx context.Context)
}

// NewJobService creates a new job service. The telegram notifier may be nil
// when that channel is disabled.
func NewJobService(
	cfg *config.Config,
	tasks runner.TaskRunner,
	parser report.Parser,
	writer report.Writer,
	locator report.Locator,
	mail mailer.Notifier,
	notifier telegram.Notifier,
	log *logger.Logger,
) JobService {
	return &jobService{
		cfg:       cfg,
		tasks:     tasks,
		parser:    parser,
		writer:    writer,
		locator:   locator,
		mail:      mail,
		telegram:  notifier,
		planCache: cache.New(6*time.Hour, 30*time.Minute),
		logger:    log,
		now:       utils.TimeNowTaipei,
	}
}

type jobService struct {
	cfg       *config.Config
	tasks     runner.TaskRunner
	parser    report.Parser
	writer    report.Writer
	locator   report.Locator
	mail      mailer.Notifier
	telegram  telegram.Notifier
	planCache *cache.Cache
	logger    *logger.Logger
	now       func() time.Time
}

// sendReportMail delivers a report email. Delivery failures are logged and
// never fail the job that produced the report.
func (s *jobService) sendReportMail(subject, body string, attachments []string) {
	if err := s.mail.SendReport(subject, body, attachments); err != nil {
		s.logger.Error("Failed to send report email",
			logger.StringField("subject", subject),
			logger.ErrorField(err),
		)
	}
}

// notifyCompletion pushes a completion summary with the top candidates to
// Telegram when that channel is configured.
func (s *jobService) notifyCompletion(jobName, runID string, candidates []entity.CandidateSignal) {
	if s.telegram == nil {
		return
	}
	if err := s.telegram.SendMessage(telegram.FormatJobCompletion(jobName, runID, candidates)); err != nil {
		s.logger.Error("Failed to send Telegram completion notice",
			logger.StringField("job", jobName),
			logger.ErrorField(err),
		)
	}
}

// notifyAlerts pushes triggered trade alerts to Telegram when that channel
// is configured.
func (s *jobService) notifyAlerts(alerts []entity.TradeAlert) {
	if s.telegram == nil || len(alerts) == 0 {
		return
	}
	if err := s.telegram.SendMessages(telegram.FormatTradeAlerts(alerts)); err != nil {
		s.logger.Error("Failed to send Telegram trade alerts", logger.ErrorField(err))
	}
}

// riskPreferences maps the trading preferences onto the risk-rule knobs.
func riskPreferences(prefs config.TradingPreferences) signal.RiskPreferences {
	return signal.RiskPreferences{
		Capital:          prefs.Capital,
		MaxBuySignals:    prefs.MaxBuySignals,
		MinBuyConfidence: prefs.MinBuyConfidence,
	}
}
