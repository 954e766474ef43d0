package service

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/report"
	"twstock-scheduler/pkg/common"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// Every job run emits job_event log entries carrying the job name, run id,
// and event plus per-event payload fields. Downstream tooling greps the log
// stream for these entries, so field names are part of the contract.

// buildRunID derives the run identifier from the job name and start time.
func buildRunID(jobName string, startedAt time.Time) string {
	return fmt.Sprintf("%s_%s", jobName, startedAt.Format(common.RunIDLayout))
}

// emitEvent logs one job_event entry. The base fields always come first so
// the rendered payload reads job, run_id, event, then the extras.
func (s *jobService) emitEvent(jobName, runID, event string, fields ...zap.Field) {
	base := []zap.Field{
		logger.StringField("job", jobName),
		logger.StringField("run_id", runID),
		logger.StringField("event", event),
	}
	s.logger.Info("job_event", append(base, fields...)...)
}

// elapsedSince returns the seconds since startedAt, rounded the way the
// duration_sec payload field reports them.
func (s *jobService) elapsedSince(startedAt time.Time) float64 {
	return utils.RoundTo(s.now().Sub(startedAt).Seconds(), 2)
}

// recordRun mirrors a terminal event into the run ledger. Ledger writes are
// best effort; a failed append is logged and never fails the finished job.
func (s *jobService) recordRun(jobName, runID, status string, durationSec float64, candidateCount int, errorCode string) {
	record := report.RunRecord{
		Timestamp:      s.now(),
		Job:            jobName,
		RunID:          runID,
		Status:         status,
		DurationSec:    durationSec,
		CandidateCount: candidateCount,
		ErrorCode:      errorCode,
	}
	if err := s.writer.AppendRunRecord(record); err != nil {
		s.logger.Error("Failed to append run record",
			logger.StringField("job", jobName),
			logger.StringField("run_id", runID),
			logger.ErrorField(err),
		)
	}
}

// failJob emits the failed event for a run and records it in the ledger.
// errorMessage is attached only when non-empty.
func (s *jobService) failJob(jobName, runID string, startedAt time.Time, errorCode, errorMessage string) {
	durationSec := s.elapsedSince(startedAt)
	fields := []zap.Field{
		logger.Float64Field("duration_sec", durationSec),
		logger.StringField("error_code", errorCode),
	}
	if errorMessage != "" {
		fields = append(fields, logger.StringField("error_message", errorMessage))
	}
	s.emitEvent(jobName, runID, entity.JobEventFailed, fields...)
	s.recordRun(jobName, runID, entity.JobEventFailed, durationSec, 0, errorCode)
}

// recoverJob converts a panic inside a job into a failed event so a run
// never ends without a terminal event. Deferred by every job entry point.
func (s *jobService) recoverJob(jobName, runID string, startedAt time.Time) {
	if r := recover(); r != nil {
		s.logger.Error("Job panicked",
			logger.StringField("job", jobName),
			logger.StringField("run_id", runID),
			logger.Field("panic", r),
		)
		s.failJob(jobName, runID, startedAt, entity.ErrCodeException, fmt.Sprint(r))
	}
}

// truncateText caps a string for log output.
func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
