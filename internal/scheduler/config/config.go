package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"twstock-scheduler/pkg/config"
	"twstock-scheduler/pkg/mailer"
	"twstock-scheduler/pkg/utils"
)

// App holds application configuration.
type App struct {
	Name    string `mapstructure:"name"`
	Env     string `mapstructure:"env"`
	PIDFile string `mapstructure:"pid_file"`
}

// Logger holds logger configuration.
type Logger struct {
	Level    string `mapstructure:"level"`
	Encoding string `mapstructure:"encoding"`
	File     string `mapstructure:"file"`
}

// Paths holds the artifact directory layout. Relative entries are resolved
// against BaseDir at load time.
type Paths struct {
	BaseDir     string `mapstructure:"base_dir"`
	OutputsDir  string `mapstructure:"outputs_dir"`
	StrategyDir string `mapstructure:"strategy_dir"`
	IntradayDir string `mapstructure:"intraday_dir"`
	LogsDir     string `mapstructure:"logs_dir"`
}

// Schedule holds the cron-style trigger settings for the three jobs.
type Schedule struct {
	NewsPickerDay          string `mapstructure:"news_picker_day"`
	NewsPickerTime         string `mapstructure:"news_picker_time"`
	DailyAnalysisTime      string `mapstructure:"daily_analysis_time"`
	MonitorIntervalMinutes int    `mapstructure:"monitor_interval_minutes"`
	MonitorStart           string `mapstructure:"monitor_start"`
	MonitorEnd             string `mapstructure:"monitor_end"`
}

// TradingPreferences holds the user's capital, risk, and sizing preferences.
type TradingPreferences struct {
	RiskLevel        string   `mapstructure:"risk_level"`
	Capital          float64  `mapstructure:"capital"`
	TradingPeriod    string   `mapstructure:"trading_period"`
	Holdings         []string `mapstructure:"holdings"`
	FocusSectors     []string `mapstructure:"focus_sectors"`
	MaxBuySignals    int      `mapstructure:"max_buy_signals"`
	MinBuyConfidence float64  `mapstructure:"min_buy_confidence"`
	MonitorBuyRatio  float64  `mapstructure:"monitor_buy_ratio"`
	MonitorSellRatio float64  `mapstructure:"monitor_sell_ratio"`
}

// SignalThreshold holds the intraday alert trigger thresholds.
type SignalThreshold struct {
	MinBullishSignals int `mapstructure:"min_bullish_signals"`
	MinBearishSignals int `mapstructure:"min_bearish_signals"`
}

// TimeoutMinutes holds per-task provider timeouts.
type TimeoutMinutes struct {
	News    int `mapstructure:"news"`
	Daily   int `mapstructure:"daily"`
	Monitor int `mapstructure:"monitor"`
}

// Retry holds the provider invocation retry policy.
type Retry struct {
	MaxAttempts    int `mapstructure:"max_attempts"`
	BackoffSeconds int `mapstructure:"backoff_seconds"`
}

// Claude holds the claude CLI provider settings.
type Claude struct {
	Command   string   `mapstructure:"command"`
	Mode      string   `mapstructure:"mode"`
	PromptArg string   `mapstructure:"prompt_arg"`
	ExtraArgs []string `mapstructure:"extra_args"`
}

// Codex holds the codex CLI provider settings. CommandTemplate carries a
// {prompt} placeholder; Shell selects sh -c execution.
type Codex struct {
	CommandTemplate string `mapstructure:"command_template"`
	Mode            string `mapstructure:"mode"`
	Shell           bool   `mapstructure:"shell"`
}

// Gemini holds the Gemini API provider settings.
type Gemini struct {
	APIKey              string `mapstructure:"api_key"`
	Model               string `mapstructure:"model"`
	MaxRequestPerMinute int    `mapstructure:"max_request_per_minute"`
}

// SkillEnforcement holds the skill preflight settings for CLI providers.
type SkillEnforcement struct {
	Enabled         bool              `mapstructure:"enabled"`
	Mode            string            `mapstructure:"mode"`
	RepoSkillRoots  []string          `mapstructure:"repo_skill_roots"`
	TaskSkillMap    map[string]string `mapstructure:"task_skill_map"`
	ProviderHomeMap map[string]string `mapstructure:"provider_home_map"`
}

// AI holds the analysis-provider configuration.
type AI struct {
	Provider         string           `mapstructure:"provider"`
	TimeoutMinutes   TimeoutMinutes   `mapstructure:"timeout_minutes"`
	Retry            Retry            `mapstructure:"retry"`
	Claude           Claude           `mapstructure:"claude"`
	Codex            Codex            `mapstructure:"codex"`
	Gemini           Gemini           `mapstructure:"gemini"`
	SkillEnforcement SkillEnforcement `mapstructure:"skill_enforcement"`
}

// Telegram holds configuration for the optional Telegram notifier.
type Telegram struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// Config holds the full configuration for the scheduler service.
type Config struct {
	App       App                `mapstructure:"app"`
	Logger    Logger             `mapstructure:"logger"`
	Paths     Paths              `mapstructure:"paths"`
	Schedule  Schedule           `mapstructure:"schedule"`
	Trading   TradingPreferences `mapstructure:"trading_preferences"`
	Threshold SignalThreshold    `mapstructure:"signal_threshold"`
	AI        AI                 `mapstructure:"ai"`
	Email     mailer.Config      `mapstructure:"email"`
	Telegram  Telegram           `mapstructure:"telegram"`
}

// defaultAllowedTools is handed to the claude CLI unless overridden.
const defaultAllowedTools = "Bash,Read,Write,Glob,Grep,WebSearch,WebFetch"

// defaults is the recognized-options table. Every key the scheduler reads
// has a documented default here; user config and environment variables
// override them at load time.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"app.name":     "twstock-scheduler",
		"app.env":      "production",
		"app.pid_file": "scheduler.pid",

		"logger.level":    "info",
		"logger.encoding": "json",
		"logger.file":     "",

		"paths.base_dir":     ".",
		"paths.outputs_dir":  "outputs",
		"paths.strategy_dir": "strategy",
		"paths.intraday_dir": "intraday",
		"paths.logs_dir":     "logs",

		"schedule.news_picker_day":          "sun",
		"schedule.news_picker_time":         "00:00",
		"schedule.daily_analysis_time":      "08:00",
		"schedule.monitor_interval_minutes": 30,
		"schedule.monitor_start":            "09:00",
		"schedule.monitor_end":              "13:30",

		"trading_preferences.risk_level":         "moderate",
		"trading_preferences.capital":            0,
		"trading_preferences.trading_period":     "short",
		"trading_preferences.max_buy_signals":    5,
		"trading_preferences.min_buy_confidence": 0.55,
		"trading_preferences.monitor_buy_ratio":  0.2,
		"trading_preferences.monitor_sell_ratio": 0.3,

		"signal_threshold.min_bullish_signals": 3,
		"signal_threshold.min_bearish_signals": 3,

		"ai.provider":                      "claude",
		"ai.timeout_minutes.news":          10,
		"ai.timeout_minutes.daily":         15,
		"ai.timeout_minutes.monitor":       5,
		"ai.retry.max_attempts":            2,
		"ai.retry.backoff_seconds":         3,
		"ai.claude.command":                "claude",
		"ai.claude.mode":                   "argv",
		"ai.claude.prompt_arg":             "-p",
		"ai.claude.extra_args":             []string{"--allowedTools", defaultAllowedTools},
		"ai.codex.command_template":        "",
		"ai.codex.mode":                    "argv",
		"ai.codex.shell":                   true,
		"ai.gemini.model":                  "gemini-2.0-flash",
		"ai.gemini.max_request_per_minute": 10,
		"ai.skill_enforcement.enabled":     true,
		"ai.skill_enforcement.mode":        "strict",
		"ai.skill_enforcement.repo_skill_roots": []string{
			"/root/.claude/skills",
			"/root/.codex/skills",
		},
		"ai.skill_enforcement.task_skill_map": map[string]string{
			"news":           "news-stock-picker",
			"daily":          "tw-stock-analyzer",
			"monitor":        "multi-stock-analyzer",
			"monitor_single": "single-stock-analyzer",
		},
		"ai.skill_enforcement.provider_home_map": map[string]string{
			"claude": "/root/.claude/skills",
			"codex":  "/root/.codex/skills",
		},

		"telegram.enabled": false,
	}
}

// Load loads the scheduler configuration from the given path and resolves
// the artifact directories against the base directory.
func Load(path string) (*Config, error) {
	var cfg Config
	if err := config.Load(path, defaults(), &cfg); err != nil {
		return nil, err
	}

	base, err := filepath.Abs(cfg.Paths.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base dir: %w", err)
	}
	cfg.Paths.BaseDir = base
	cfg.Paths.OutputsDir = resolveDir(base, cfg.Paths.OutputsDir)
	cfg.Paths.StrategyDir = resolveDir(base, cfg.Paths.StrategyDir)
	cfg.Paths.IntradayDir = resolveDir(base, cfg.Paths.IntradayDir)
	cfg.Paths.LogsDir = resolveDir(base, cfg.Paths.LogsDir)
	if !filepath.IsAbs(cfg.App.PIDFile) {
		cfg.App.PIDFile = filepath.Join(base, cfg.App.PIDFile)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// weekdayNames are the cron day-of-week names accepted for the news job.
var weekdayNames = map[string]struct{}{
	"sun": {}, "mon": {}, "tue": {}, "wed": {}, "thu": {}, "fri": {}, "sat": {},
}

// Validate rejects configurations that would otherwise fail mid-job.
func (c *Config) Validate() error {
	switch c.AI.Provider {
	case "claude", "codex", "gemini":
	default:
		return fmt.Errorf("unsupported ai.provider: %s", c.AI.Provider)
	}

	switch c.AI.SkillEnforcement.Mode {
	case "strict", "warn":
	default:
		return fmt.Errorf("unsupported ai.skill_enforcement.mode: %s", c.AI.SkillEnforcement.Mode)
	}

	if _, ok := weekdayNames[strings.ToLower(strings.TrimSpace(c.Schedule.NewsPickerDay))]; !ok {
		return fmt.Errorf("unsupported schedule.news_picker_day: %s", c.Schedule.NewsPickerDay)
	}
	for key, value := range map[string]string{
		"schedule.news_picker_time":    c.Schedule.NewsPickerTime,
		"schedule.daily_analysis_time": c.Schedule.DailyAnalysisTime,
		"schedule.monitor_start":       c.Schedule.MonitorStart,
		"schedule.monitor_end":         c.Schedule.MonitorEnd,
	} {
		if _, _, err := utils.ParseClock(value); err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
	}
	if c.Schedule.MonitorIntervalMinutes < 1 {
		return fmt.Errorf("schedule.monitor_interval_minutes must be at least 1, got %d", c.Schedule.MonitorIntervalMinutes)
	}

	return nil
}

// MissingEmailFields lists required email settings that are empty. The
// caller decides whether that is fatal; jobs degrade to log-only delivery.
func (c *Config) MissingEmailFields() []string {
	var missing []string
	if c.Email.SMTPHost == "" {
		missing = append(missing, "smtp_host")
	}
	if c.Email.SMTPPort == 0 {
		missing = append(missing, "smtp_port")
	}
	if c.Email.Sender == "" {
		missing = append(missing, "sender")
	}
	if c.Email.Password == "" {
		missing = append(missing, "password")
	}
	if c.Email.Recipient == "" {
		missing = append(missing, "recipient")
	}
	return missing
}

func resolveDir(base, dir string) string {
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(base, dir)
}
