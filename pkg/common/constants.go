package common

// Time layouts shared across jobs, artifact names, and report payloads.
const (
	DateLayout        = "2006-01-02"
	CompactDateLayout = "20060102"
	ClockLayout       = "15:04"
	TimestampLayout   = "2006-01-02T15:04:05"
	RunIDLayout       = "20060102150405"
	FileStampLayout   = "20060102_1504"
)

// Artifact naming conventions produced and consumed by the jobs.
const (
	TradingPlanPrefix    = "trading_plan_"
	NewsStrategyPrefix   = "news_strategy_"
	IntradayReportPrefix = "stock_analysis_"
	HoldingsFileName     = "current_holdings.json"
	CandidateSubdir      = "candidates"
	RunLedgerFileName    = "history.csv"
)
