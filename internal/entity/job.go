package entity

// Job names.
const (
	JobNews    = "news"
	JobDaily   = "daily"
	JobMonitor = "monitor"
)

// Job lifecycle events. Every job run moves pending -> skipped, or
// pending -> started -> failed | completed.
const (
	JobEventStart     = "start"
	JobEventSkipped   = "skipped"
	JobEventFailed    = "failed"
	JobEventCompleted = "completed"
)

// Skip reasons reported on skipped events.
const (
	SkipNonTradingDay        = "non_trading_day"
	SkipOutsideMonitorWindow = "outside_monitor_window"
	SkipEmptyStockList       = "empty_stock_list"
)

// Error codes reported on failed events.
const (
	ErrCodeAITaskFailed     = "ai_task_failed"
	ErrCodeMissingReport    = "missing_report"
	ErrCodeMissingDailyPlan = "missing_daily_plan"
	ErrCodeException        = "exception"
)
