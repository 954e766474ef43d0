package runner

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
	"google.golang.org/genai"

	"twstock-scheduler/internal/scheduler/config"
	"twstock-scheduler/pkg/logger"
)

func TestNewGeminiClientRequestBudget(t *testing.T) {
	client := NewGeminiClient(config.Gemini{Model: "gemini-2.0-flash", MaxRequestPerMinute: 12}, nil, logger.NewNop())
	assert.Equal(t, rate.Every(5*time.Second), client.limiter.Limit())
	assert.Equal(t, "gemini-2.0-flash", client.model)

	client = NewGeminiClient(config.Gemini{Model: "gemini-2.0-flash"}, nil, logger.NewNop())
	assert.Equal(t, rate.Every(6*time.Second), client.limiter.Limit())
}

func TestExtractResponseText(t *testing.T) {
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: "{\"results\": []}"}}}},
		},
	}

	text, err := extractResponseText(resp)

	require.NoError(t, err)
	assert.Equal(t, `{"results": []}`, text)
}

func TestExtractResponseTextEmpty(t *testing.T) {
	_, err := extractResponseText(nil)
	require.Error(t, err)

	_, err = extractResponseText(&genai.GenerateContentResponse{})
	require.Error(t, err)
	assert.EqualError(t, err, "no content found in Gemini response")

	_, err = extractResponseText(&genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{}}},
	})
	require.Error(t, err)
}
