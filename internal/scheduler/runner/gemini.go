package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/logger"
)

// GeminiClient runs prompts against the Gemini generateContent API, pacing
// requests to stay inside the per-minute budget.
type GeminiClient struct {
	client  *genai.Client
	model   string
	limiter *rate.Limiter
	logger  *logger.Logger
}

// NewGeminiClient wraps an initialized genai client with the configured
// model and request budget.
func NewGeminiClient(cfg config.Gemini, client *genai.Client, log *logger.Logger) *GeminiClient {
	maxRPM := cfg.MaxRequestPerMinute
	if maxRPM <= 0 {
		maxRPM = 10
	}
	return &GeminiClient{
		client:  client,
		model:   cfg.Model,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(maxRPM)), 1),
		logger:  log,
	}
}

// Generate sends one prompt and returns the response text. Timeouts surface
// as the same message the CLI providers produce, so job events stay uniform
// across providers.
func (g *GeminiClient) Generate(ctx context.Context, prompt string, timeoutMinutes int) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMinutes)*time.Minute)
	defer cancel()

	if err := g.limiter.Wait(runCtx); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("Timeout after %d minutes", timeoutMinutes)
		}
		return "", err
	}

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, "user"),
	}
	resp, err := g.client.Models.GenerateContent(runCtx, g.model, contents, nil)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("Timeout after %d minutes", timeoutMinutes)
		}
		return "", fmt.Errorf("failed to generate content: %w", err)
	}

	return extractResponseText(resp)
}

func extractResponseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 ||
		resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("no content found in Gemini response")
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}
