// Package narrative produces the long-form market narrative for a symbol.
package narrative

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/midas/internal/agent"
	"github.com/xaenox/midas/internal/storage"
)

const (
	ProviderAgent  = "agent"
	ProviderOpenAI = "openai"

	AgentTimeout = 90 * time.Second
)

var (
	ErrBadOutput  = errors.New("narrative: generator returned invalid JSON")
	ErrNoAnalysis = errors.New("narrative: no saved analysis for symbol")
)

// Generator returns a JSON narrative document. symbol must already be
// sanitized.
type Generator interface {
	Generate(ctx context.Context, symbol string) (json.RawMessage, error)
}

type AgentGenerator struct {
	runtime agent.Runtime
	timeout time.Duration
}

func NewAgentGenerator(rt agent.Runtime, timeout time.Duration) *AgentGenerator {
	if timeout <= 0 {
		timeout = AgentTimeout
	}
	return &AgentGenerator{runtime: rt, timeout: timeout}
}

func (g *AgentGenerator) Generate(ctx context.Context, symbol string) (json.RawMessage, error) {
	out, err := g.runtime.RunScript(ctx, agent.ScriptGenerateNarrative, []string{symbol}, g.timeout)
	if err != nil {
		return nil, err
	}
	out = strings.TrimSpace(out)
	if !json.Valid([]byte(out)) {
		return nil, ErrBadOutput
	}
	return json.RawMessage(out), nil
}

type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// OpenAIGenerator writes the narrative from the latest saved analysis of the
// symbol through a chat completion.
type OpenAIGenerator struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float64
	history     storage.HistoryStore
	logger      *zap.Logger
}

func NewOpenAIGenerator(cfg OpenAIConfig, history storage.HistoryStore, logger *zap.Logger) *OpenAIGenerator {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = openai.GPT4oMini
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIGenerator{
		client:      openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		history:     history,
		logger:      logger,
	}
}

const promptTemplate = `You are the narrative writer of a stock trading assistant.
Using the multi-pillar analysis below, write a narrative report for %s.

Return the response as a JSON object with this structure:
{
    "symbol": "%s",
    "headline": "one_line_headline",
    "narrative": "three_to_five_paragraphs",
    "risks": ["risk1", "risk2", ...],
    "catalysts": ["catalyst1", "catalyst2", ...],
    "stance": "BUY|HOLD|SELL"
}

Analysis: %s`

func (g *OpenAIGenerator) Generate(ctx context.Context, symbol string) (json.RawMessage, error) {
	var analysis []byte
	for _, e := range g.history.Load(ctx) {
		if e.Analysis.Symbol == symbol {
			b, err := json.Marshal(e.Analysis)
			if err != nil {
				return nil, fmt.Errorf("encode analysis: %w", err)
			}
			analysis = b
			break
		}
	}
	if analysis == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoAnalysis, symbol)
	}

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: g.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: fmt.Sprintf(promptTemplate, symbol, symbol, analysis),
				},
			},
			MaxTokens:      g.maxTokens,
			Temperature:    float32(g.temperature),
			ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		},
	)
	if err != nil {
		g.logger.Error("Failed to get narrative completion", zap.Error(err), zap.String("symbol", symbol))
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, ErrBadOutput
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if !json.Valid([]byte(content)) {
		g.logger.Error("Failed to parse narrative response",
			zap.String("symbol", symbol),
			zap.String("response", content))
		return nil, ErrBadOutput
	}
	return json.RawMessage(content), nil
}

// New picks the generator named by provider.
func New(provider string, rt agent.Runtime, oc OpenAIConfig, history storage.HistoryStore, logger *zap.Logger) (Generator, error) {
	switch provider {
	case "", ProviderAgent:
		return NewAgentGenerator(rt, AgentTimeout), nil
	case ProviderOpenAI:
		if oc.APIKey == "" {
			return nil, errors.New("narrative: openai provider needs an API key")
		}
		return NewOpenAIGenerator(oc, history, logger), nil
	}
	return nil, fmt.Errorf("narrative: unknown provider %q", provider)
}
