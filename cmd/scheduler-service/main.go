package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/internal/scheduler/report"
	"twstock-scheduler/internal/scheduler/runner"
	"twstock-scheduler/internal/scheduler/service"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/mailer"
	"twstock-scheduler/pkg/pidfile"
	"twstock-scheduler/pkg/telegram"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"google.golang.org/genai"
)

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the scheduler daemon",
	Run:   runServe,
}

var testEmailCmd = &cobra.Command{
	Use:   "test-email",
	Short: "Sends a test email with the configured SMTP settings",
	Run:   runTestEmail,
}

var runJobCmd = &cobra.Command{
	Use:       "run-job [news|daily|monitor]",
	Short:     "Runs a single job immediately and exits",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"news", "daily", "monitor"},
	Run:       runJob,
}

// loadConfig loads the environment and the configuration file. A missing
// .env file is fine; the process environment still applies.
func loadConfig() *config.Config {
	if err := godotenv.Load(); err != nil {
		log.Println(".env file not found, relying on actual environment variables")
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	return cfg
}

func newLogger(cfg *config.Config) *logger.Logger {
	var outputPaths []string
	if cfg.Logger.File != "" {
		outputPaths = append(outputPaths, cfg.Logger.File)
	}
	appLogger, err := logger.New(cfg.Logger.Level, cfg.Logger.Encoding, outputPaths...)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return appLogger
}

// buildJobService wires the report helpers, the analysis provider, and the
// notifiers into a ready job service.
func buildJobService(cfg *config.Config, appLogger *logger.Logger) service.JobService {
	parser := report.NewParser(appLogger)
	writer := report.NewWriter(cfg.Paths.OutputsDir, appLogger)
	locator := report.NewLocator(cfg.Paths.OutputsDir, cfg.Paths.StrategyDir)

	var gemini *runner.GeminiClient
	if cfg.AI.Provider == "gemini" {
		genaiClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
			APIKey: cfg.AI.Gemini.APIKey,
		})
		if err != nil {
			appLogger.Fatal("Failed to initialize Gemini client", logger.ErrorField(err))
		}
		gemini = runner.NewGeminiClient(cfg.AI.Gemini, genaiClient, appLogger)
	}
	tasks := runner.NewRunner(cfg, locator, gemini, appLogger)

	if missing := cfg.MissingEmailFields(); len(missing) > 0 {
		appLogger.Warn("Email settings incomplete, report delivery will fail",
			logger.Field("missing", missing),
		)
	}
	mail := mailer.NewClient(cfg.Email, appLogger)

	var notifier telegram.Notifier
	if cfg.Telegram.Enabled {
		client, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
		if err != nil {
			appLogger.Fatal("Failed to initialize Telegram notifier", logger.ErrorField(err))
		}
		notifier = client
	}

	return service.NewJobService(cfg, tasks, parser, writer, locator, mail, notifier, appLogger)
}

func runServe(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	appLogger := newLogger(cfg)
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Starting scheduler service",
		logger.StringField("name", cfg.App.Name),
		logger.StringField("provider", cfg.AI.Provider),
		logger.IntField("pid", os.Getpid()),
	)

	if err := pidfile.Acquire(cfg.App.PIDFile); err != nil {
		appLogger.Fatal("Failed to acquire PID file", logger.ErrorField(err))
	}
	defer func() { _ = pidfile.Release(cfg.App.PIDFile) }()

	jobSvc := buildJobService(cfg, appLogger)
	schedulerSvc, err := service.NewSchedulerService(cfg, jobSvc, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to initialize scheduler", logger.ErrorField(err))
	}

	if err := schedulerSvc.Start(ctx); err != nil {
		appLogger.Fatal("Scheduler service failed", logger.ErrorField(err))
	}

	appLogger.Info("Scheduler service exiting")
}

func runTestEmail(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	appLogger := newLogger(cfg)
	defer func() { _ = appLogger.Sync() }()

	appLogger.Info("Testing email delivery")
	mail := mailer.NewClient(cfg.Email, appLogger)

	if err := mail.TestConnection(); err != nil {
		appLogger.Error("SMTP connection test failed", logger.ErrorField(err))
		fmt.Println("SMTP 連線失敗，請檢查 email 設定。")
		os.Exit(1)
	}

	err := mail.SendReport(
		"[測試] 台股排程系統 email 測試",
		"這是一封測試郵件。\n如果你收到此郵件，表示 email 設定正確。\n\n台股自動化排程分析系統",
		nil,
	)
	if err != nil {
		appLogger.Error("Test email failed", logger.ErrorField(err))
		fmt.Println("Email 寄送失敗，請檢查設定。")
		os.Exit(1)
	}
	fmt.Println("Email 測試寄送成功！")
}

func runJob(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()
	appLogger := newLogger(cfg)
	defer func() { _ = appLogger.Sync() }()

	jobName := args[0]
	appLogger.Info("Running job once", logger.StringField("job", jobName))

	jobSvc := buildJobService(cfg, appLogger)
	switch jobName {
	case "news":
		jobSvc.RunNewsJob(ctx)
	case "daily":
		jobSvc.RunDailyJob(ctx)
	case "monitor":
		jobSvc.RunMonitorJob(ctx)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "scheduler-service",
		Short: "Automated Taiwan stock analysis scheduler",
		Args:  cobra.NoArgs,
		// Bare invocation starts the daemon, same as the serve subcommand.
		Run: runServe,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "configs/config.yaml", "Path to the configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(testEmailCmd)
	rootCmd.AddCommand(runJobCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error executing scheduler-service CLI: %s\n", err)
		os.Exit(1)
	}
}
