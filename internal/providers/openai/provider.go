// Package openai adapts the go-openai SDK to the routing plane's
// provider contract. Request/response conversion and the SDK wiring
// follow the teacher's OpenAI adapter; the surface exposed to the
// router is narrowed to Generate/Name and errors are retagged into the
// plane's Transient/RateLimit/Policy/Fatal taxonomy instead of being
// returned as opaque wrapped errors.
package openai

import (
	"context"
	"errors"
	"net/http"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/types"
)

// OpenAIProvider implements providers.Provider and providers.ChatProvider.
type OpenAIProvider struct {
	client *openai.Client
	config *OpenAIConfig
	logger *logrus.Logger
}

// OpenAIConfig holds OpenAI-specific configuration.
type OpenAIConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	OrgID   string            `yaml:"org_id"`
	Model   string            `yaml:"model"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

func NewOpenAIProvider(config *OpenAIConfig, logger *logrus.Logger) *OpenAIProvider {
	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	if config.OrgID != "" {
		clientConfig.OrgID = config.OrgID
	}
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		logger: logger,
	}
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) GetProviderName() string { return "openai" }

func (p *OpenAIProvider) GetCapabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:     "openai",
		SupportedModels:  p.config.Models,
		MaxContextWindow: 128000,
		CostPer1KTokens: types.CostStructure{
			InputCostPer1K:  0.005,
			OutputCostPer1K: 0.015,
			Currency:        "USD",
		},
	}
}

// Generate satisfies providers.Provider: a single-turn completion over
// the configured model, returning plain text.
func (p *OpenAIProvider) Generate(ctx context.Context, prompt string) (string, error) {
	timeout := p.config.Timeout
	if timeout <= 0 {
		timeout = providers.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(callCtx, openai.ChatCompletionRequest{
		Model: p.config.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyError("openai", err)
	}
	if len(resp.Choices) == 0 {
		return "", apperrors.Policy("openai", errors.New("no choices returned"))
	}
	text := resp.Choices[0].Message.Content
	if text == "" {
		return "", apperrors.Policy("openai", errors.New("empty completion"))
	}
	return text, nil
}

// ChatCompletion satisfies providers.ChatProvider for callers that need
// the richer response shape (usage, finish reason) rather than just text.
func (p *OpenAIProvider) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	var messages []openai.ChatCompletionMessage
	for _, msg := range req.Messages {
		content, _ := msg.Content.(string)
		messages = append(messages, openai.ChatCompletionMessage{Role: msg.Role, Content: content})
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return nil, classifyError("openai", err)
	}

	var choices []types.Choice
	for _, c := range resp.Choices {
		choices = append(choices, types.Choice{
			Index:        c.Index,
			Message:      types.Message{Role: c.Message.Role, Content: c.Message.Content},
			FinishReason: string(c.FinishReason),
		})
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  resp.Object,
		Created: resp.Created,
		Model:   resp.Model,
		Choices: choices,
		Usage: &types.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

func (p *OpenAIProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		return classifyError("openai", err)
	}
	return nil
}

// classifyError maps a go-openai error to the plane's tagged provider
// error variants, mirroring original_source's connection/timeout vs.
// rate-limit vs. everything-else classification.
func classifyError(provider string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return apperrors.RateLimit(provider, err)
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusBadRequest:
			return apperrors.Fatal(provider, err)
		case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return apperrors.Transient(provider, err)
		default:
			if apiErr.HTTPStatusCode >= 500 {
				return apperrors.Transient(provider, err)
			}
			return apperrors.Policy(provider, err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return apperrors.Transient(provider, err)
	}
	return apperrors.Transient(provider, err)
}

var _ providers.Provider = (*OpenAIProvider)(nil)
var _ providers.ChatProvider = (*OpenAIProvider)(nil)
