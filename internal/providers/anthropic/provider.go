// Package anthropic adapts the anthropic-sdk-go client to the routing
// plane's provider contract, following the teacher's Anthropic adapter
// for SDK wiring and message conversion, narrowed to the Generate/Name
// contract the router dispatches through.
package anthropic

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/types"
)

type AnthropicProvider struct {
	client *anthropic.Client
	config *AnthropicConfig
	logger *logrus.Logger
}

type AnthropicConfig struct {
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Model   string            `yaml:"model"`
	Models  []types.ModelInfo `yaml:"models"`
	Timeout time.Duration     `yaml:"timeout"`
}

func NewAnthropicProvider(config *AnthropicConfig, logger *logrus.Logger) *AnthropicProvider {
	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	if config.Model == "" {
		config.Model = "claude-3-5-sonnet-20241022"
	}
	client := anthropic.NewClient(opts...)

	return &AnthropicProvider{client: &client, config: config, logger: logger}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) GetProviderName() string { return "anthropic" }

func (p *AnthropicProvider) GetCapabilities() types.ProviderCapabilities {
	return types.ProviderCapabilities{
		ProviderName:     "anthropic",
		SupportedModels:  p.config.Models,
		MaxContextWindow: 200000,
		CostPer1KTokens: types.CostStructure{
			InputCostPer1K:  0.003,
			OutputCostPer1K: 0.015,
			Currency:        "USD",
		},
	}
}

// Generate satisfies providers.Provider.
func (p *AnthropicProvider) Generate(ctx context.Context, prompt string) (string, error) {
	timeout := p.config.Timeout
	if timeout <= 0 {
		timeout = providers.DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.Messages.New(callCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.config.Model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", classifyError("anthropic", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", apperrors.Policy("anthropic", errors.New("empty completion"))
	}
	return text.String(), nil
}

// ChatCompletion satisfies providers.ChatProvider for callers needing
// the richer response shape.
func (p *AnthropicProvider) ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error) {
	var systemMessage string
	var messages []anthropic.MessageParam
	for _, msg := range req.Messages {
		content, _ := msg.Content.(string)
		if msg.Role == "system" {
			systemMessage = content
			continue
		}
		if msg.Role == "user" {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(content)))
		} else {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(content)))
		}
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}
	maxTokens := int64(1024)
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if systemMessage != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemMessage, Type: "text"}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyError("anthropic", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	return &types.ChatResponse{
		ID:      resp.ID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   string(resp.Model),
		Choices: []types.Choice{{
			Index:        0,
			Message:      types.Message{Role: "assistant", Content: text.String()},
			FinishReason: string(resp.StopReason),
		}},
		Usage: &types.Usage{
			PromptTokens:     int(resp.Usage.InputTokens),
			CompletionTokens: int(resp.Usage.OutputTokens),
			TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}, nil
}

func (p *AnthropicProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model("claude-3-haiku-20240307"),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return classifyError("anthropic", err)
	}
	return nil
}

// classifyError maps an Anthropic SDK error to the plane's tagged
// provider error variants.
func classifyError(provider string, err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return apperrors.RateLimit(provider, err)
		case 401, 403, 400:
			return apperrors.Fatal(provider, err)
		default:
			if apiErr.StatusCode >= 500 {
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

var _ providers.Provider = (*AnthropicProvider)(nil)
var _ providers.ChatProvider = (*AnthropicProvider)(nil)
