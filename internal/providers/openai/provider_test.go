package openai

import (
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
)

func createTestProvider(t *testing.T) *OpenAIProvider {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	return NewOpenAIProvider(&OpenAIConfig{
		APIKey:  "test-api-key",
		Model:   "gpt-4o-mini",
		Timeout: 5 * time.Second,
	}, logger)
}

func TestOpenAIProvider_Name(t *testing.T) {
	provider := createTestProvider(t)
	if provider.Name() != "openai" {
		t.Errorf("expected provider name 'openai', got %s", provider.Name())
	}
}

func TestOpenAIProvider_GetCapabilities(t *testing.T) {
	provider := createTestProvider(t)
	caps := provider.GetCapabilities()
	if caps.ProviderName != "openai" {
		t.Errorf("expected provider name 'openai', got %s", caps.ProviderName)
	}
	if caps.MaxContextWindow <= 0 {
		t.Error("expected a positive max context window")
	}
}

func TestOpenAIProvider_DefaultsModel(t *testing.T) {
	logger := logrus.New()
	provider := NewOpenAIProvider(&OpenAIConfig{APIKey: "k"}, logger)
	if provider.config.Model == "" {
		t.Error("expected a default model to be set when none configured")
	}
}

func TestClassifyError_RateLimitIsTaggedRateLimit(t *testing.T) {
	err := classifyError("openai", &openai.APIError{HTTPStatusCode: 429})
	if !apperrors.IsRateLimit(err) {
		t.Errorf("expected 429 to classify as rate-limit, got %v", err)
	}
}

func TestClassifyError_ServerErrorIsTransient(t *testing.T) {
	err := classifyError("openai", &openai.APIError{HTTPStatusCode: 503})
	if !apperrors.IsTransient(err) {
		t.Errorf("expected 503 to classify as transient, got %v", err)
	}
}

func TestClassifyError_AuthErrorIsFatal(t *testing.T) {
	err := classifyError("openai", &openai.APIError{HTTPStatusCode: 401})
	if !apperrors.IsFatal(err) {
		t.Errorf("expected 401 to classify as fatal, got %v", err)
	}
}
