package proxy

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"

	"github.com/zjregee/convo/internal/models"
)

const (
	OpenAIBaseURL    = "https://api.openai.com/v1"
	GroqBaseURL      = "https://api.groq.com/openai/v1"
	GeminiBaseURL    = "https://generativelanguage.googleapis.com/v1beta/openai/"
	AnthropicBaseURL = "https://api.anthropic.com/v1/"
)

const (
	groqModelPrefix  = "groq/"
	defaultMaxTokens = 512
	groqTemperature  = float32(0.7)
)

// ModelFactory builds the chat model a configured session talks to.
type ModelFactory interface {
	NewChatModel(ctx context.Context, p models.Provider, apiKey, modelID string) (model.BaseChatModel, error)
}

type providerConfig struct {
	BaseURL     string
	MaxTokens   int
	Temperature *float32
}

// OpenAIFactory reaches every provider through its OpenAI compatible endpoint.
type OpenAIFactory struct {
	providers map[models.Provider]providerConfig
}

func NewOpenAIFactory() *OpenAIFactory {
	temperature := groqTemperature
	return &OpenAIFactory{
		providers: map[models.Provider]providerConfig{
			models.ProviderOpenAI:    {BaseURL: OpenAIBaseURL},
			models.ProviderGemini:    {BaseURL: GeminiBaseURL},
			models.ProviderAnthropic: {BaseURL: AnthropicBaseURL, MaxTokens: defaultMaxTokens},
			models.ProviderGroq:      {BaseURL: GroqBaseURL, MaxTokens: defaultMaxTokens, Temperature: &temperature},
		},
	}
}

// WithBaseURL points a provider at another endpoint.
func (f *OpenAIFactory) WithBaseURL(p models.Provider, baseURL string) *OpenAIFactory {
	cfg := f.providers[p]
	cfg.BaseURL = baseURL
	f.providers[p] = cfg
	return f
}

func (f *OpenAIFactory) NewChatModel(ctx context.Context, p models.Provider, apiKey, modelID string) (model.BaseChatModel, error) {
	cfg, ok := f.providers[p]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", p)
	}

	modelConfig := &openai.ChatModelConfig{
		APIKey:      apiKey,
		BaseURL:     cfg.BaseURL,
		Model:       upstreamModelID(p, modelID),
		Temperature: cfg.Temperature,
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		modelConfig.MaxTokens = &maxTokens
	}

	return openai.NewChatModel(ctx, modelConfig)
}

func upstreamModelID(p models.Provider, modelID string) string {
	if p == models.ProviderGroq {
		return strings.TrimPrefix(modelID, groqModelPrefix)
	}
	return modelID
}
