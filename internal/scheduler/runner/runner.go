// Package runner drives the configured analysis provider: it renders task
// prompts, enforces the skill preflight for CLI providers, executes the
// provider with timeout and retry, and verifies the artifacts each task is
// expected to produce.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/shlex"
	"go.uber.org/zap"

	"twstock-scheduler/internal/entity"
	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/internal/scheduler/report"
	"twstock-scheduler/pkg/logger"
	"twstock-scheduler/pkg/utils"
)

// TaskRunner executes the analysis tasks the jobs depend on. Every method
// blocks until the provider finishes, the configured timeout fires, or the
// context is canceled.
type TaskRunner interface {
	// RunNewsStockPicker produces a weekly news-driven strategy report and
	// verifies a fresh file landed under the strategy directory.
	RunNewsStockPicker(ctx context.Context) (string, error)

	// RunDailyAnalyzer produces the daily trading plan for the given
	// preferences and verifies a fresh plan landed under the outputs
	// directory.
	RunDailyAnalyzer(ctx context.Context, prefs config.TradingPreferences) (string, error)

	// RunMultiStockAnalysis analyzes the given stocks in one batch and
	// returns the per-stock results decoded from the provider's JSON output.
	RunMultiStockAnalysis(ctx context.Context, stockCodes []string) ([]entity.StockAnalysis, error)

	// RunSingleStockAnalysis analyzes one stock, waits for the intraday
	// report file, and returns its content.
	RunSingleStockAnalysis(ctx context.Context, stockCode string) (string, error)
}

// NewRunner builds a TaskRunner for the configured provider. The gemini
// client may be nil for CLI providers.
func NewRunner(cfg *config.Config, loc report.Locator, gemini *GeminiClient, log *logger.Logger) TaskRunner {
	return &runner{
		cfg:     cfg,
		locator: loc,
		gemini:  gemini,
		skills: &skillEnforcer{
			cfg:      cfg.AI.SkillEnforcement,
			provider: cfg.AI.Provider,
			baseDir:  cfg.Paths.BaseDir,
			logger:   log,
			homeDir:  userHomeDir,
		},
		logger: log,
		now:    utils.TimeNowTaipei,
	}
}

type runner struct {
	cfg     *config.Config
	locator report.Locator
	gemini  *GeminiClient
	skills  *skillEnforcer
	logger  *logger.Logger
	now     func() time.Time
}

// invocation is a fully resolved provider command: the argv to spawn and the
// text piped to stdin when the provider reads the prompt that way.
type invocation struct {
	argv  []string
	stdin string
}

// buildProviderCommand renders the CLI invocation for the configured
// provider. Shell-mode templates run through "sh -c"; argv-mode templates
// substitute the {prompt} token after splitting, so prompts with spaces stay
// a single argument.
func buildProviderCommand(ai config.AI, prompt string) (invocation, error) {
	switch ai.Provider {
	case "claude":
		claude := ai.Claude
		if claude.Mode == "stdin" {
			argv := append([]string{claude.Command}, claude.ExtraArgs...)
			return invocation{argv: argv, stdin: prompt}, nil
		}
		argv := []string{claude.Command}
		if claude.PromptArg != "" {
			argv = append(argv, claude.PromptArg, prompt)
		} else {
			argv = append(argv, prompt)
		}
		argv = append(argv, claude.ExtraArgs...)
		return invocation{argv: argv}, nil

	case "codex":
		codex := ai.Codex
		template := strings.TrimSpace(codex.CommandTemplate)
		if template == "" {
			return invocation{}, errors.New("ai.codex.command_template 不可為空")
		}
		if codex.Mode == "stdin" {
			if codex.Shell {
				return invocation{argv: []string{"sh", "-c", template}, stdin: prompt}, nil
			}
			argv, err := shlex.Split(template)
			if err != nil {
				return invocation{}, fmt.Errorf("invalid ai.codex.command_template: %w", err)
			}
			return invocation{argv: argv, stdin: prompt}, nil
		}
		if codex.Shell {
			rendered := strings.ReplaceAll(template, "{prompt}", prompt)
			return invocation{argv: []string{"sh", "-c", rendered}}, nil
		}
		parts, err := shlex.Split(template)
		if err != nil {
			return invocation{}, fmt.Errorf("invalid ai.codex.command_template: %w", err)
		}
		argv := make([]string, 0, len(parts))
		for _, part := range parts {
			if part == "{prompt}" {
				part = prompt
			}
			argv = append(argv, part)
		}
		return invocation{argv: argv}, nil

	default:
		return invocation{}, fmt.Errorf("不支援的 ai.provider: %s", ai.Provider)
	}
}

// runTask executes one prompt against the configured provider, retrying with
// a constant backoff up to the configured attempt count. Configuration
// errors abort immediately. The returned error message is the provider's
// stderr when one was captured.
func (r *runner) runTask(ctx context.Context, taskName, prompt string, timeoutMinutes int) (string, error) {
	maxAttempts := r.cfg.AI.Retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	backoffSeconds := r.cfg.AI.Retry.BackoffSeconds
	if backoffSeconds < 0 {
		backoffSeconds = 0
	}

	var stdout, stderr string
	attempt := 0
	operation := func() error {
		attempt++
		r.logger.Info("Running analysis provider",
			zap.String("task", taskName),
			zap.String("provider", r.cfg.AI.Provider),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", maxAttempts),
			zap.Int("timeout_minutes", timeoutMinutes),
		)

		out, errText, err := r.invokeOnce(ctx, taskName, prompt, timeoutMinutes)
		stdout, stderr = out, errText
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(
			backoff.NewConstantBackOff(time.Duration(backoffSeconds)*time.Second),
			uint64(maxAttempts-1),
		),
		ctx,
	)
	if err := backoff.Retry(operation, policy); err != nil {
		if msg := strings.TrimSpace(stderr); msg != "" {
			return stdout, errors.New(msg)
		}
		return stdout, err
	}

	r.logger.Info("Analysis provider finished", zap.String("task", taskName))
	return stdout, nil
}

// invokeOnce performs a single provider attempt. Gemini calls go to the API
// client; CLI providers spawn a subprocess.
func (r *runner) invokeOnce(ctx context.Context, taskName, prompt string, timeoutMinutes int) (string, string, error) {
	if r.cfg.AI.Provider == "gemini" {
		if r.gemini == nil {
			err := errors.New("gemini client is not configured")
			return "", err.Error(), backoff.Permanent(err)
		}
		text, err := r.gemini.Generate(ctx, prompt, timeoutMinutes)
		if err != nil {
			r.logger.Error("Gemini request failed", zap.String("task", taskName), zap.Error(err))
			return "", err.Error(), err
		}
		return text, "", nil
	}

	inv, err := buildProviderCommand(r.cfg.AI, prompt)
	if err != nil {
		r.logger.Error("Provider configuration error", zap.String("task", taskName), zap.Error(err))
		return "", err.Error(), backoff.Permanent(err)
	}
	return r.execute(ctx, taskName, inv, timeoutMinutes)
}

// execute spawns the provider CLI from the base directory and captures its
// output. Timeouts and missing binaries map to stable error messages that
// downstream job events carry verbatim.
func (r *runner) execute(ctx context.Context, taskName string, inv invocation, timeoutMinutes int) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMinutes)*time.Minute)
	defer cancel()

	cmd := exec.CommandContext(runCtx, inv.argv[0], inv.argv[1:]...)
	cmd.Dir = r.cfg.Paths.BaseDir
	if inv.stdin != "" {
		cmd.Stdin = strings.NewReader(inv.stdin)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return stdout.String(), stderr.String(), nil
	}

	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		msg := fmt.Sprintf("Timeout after %d minutes", timeoutMinutes)
		r.logger.Error("Analysis provider timed out", zap.String("task", taskName), zap.String("error", msg))
		return "", msg, err
	}
	if errors.Is(err, exec.ErrNotFound) {
		msg := fmt.Sprintf("CLI not found for provider=%s", r.cfg.AI.Provider)
		r.logger.Error("Analysis provider CLI not found", zap.String("task", taskName), zap.String("error", msg))
		return "", msg, err
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		r.logger.Error("Analysis provider exited with error",
			zap.String("task", taskName),
			zap.Int("returncode", exitErr.ExitCode()),
			zap.String("stderr", truncate(stderr.String(), 500)),
		)
		return stdout.String(), stderr.String(), err
	}

	r.logger.Error("Analysis provider failed to run", zap.String("task", taskName), zap.Error(err))
	return stdout.String(), err.Error(), err
}

// taskTimeout applies the fallback when the configured timeout is unset.
func taskTimeout(minutes, fallback int) int {
	if minutes <= 0 {
		return fallback
	}
	return minutes
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
