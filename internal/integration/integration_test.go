package integration_test

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
	"github.com/wasllot/llm-routing-plane/internal/breaker"
	"github.com/wasllot/llm-routing-plane/internal/chat"
	"github.com/wasllot/llm-routing-plane/internal/config"
	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
	"github.com/wasllot/llm-routing-plane/internal/prompt"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/providers/static"
	"github.com/wasllot/llm-routing-plane/internal/routing"
)

type fakeEmbedder struct{ vector []float32 }

func (f fakeEmbedder) Embed(context.Context, string, embedding.TaskType) ([]float32, error) {
	return f.vector, nil
}
func (f fakeEmbedder) Dimension() int { return embedding.Dimension }

type fakeProvider struct {
	name string
	text string
	err  error
}

func (f fakeProvider) Name() string { return f.name }
func (f fakeProvider) Generate(context.Context, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func testVector() []float32 {
	v := make([]float32, embedding.Dimension)
	v[0] = 1
	return v
}

// TestEndToEndChatFlow exercises the full ingest -> retrieve ->
// prompt -> route -> persist pipeline the way the HTTP handlers wire
// it together in cmd/llm-router, without going over the network.
func TestEndToEndChatFlow(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	repo := embedding.NewInMemoryRepository()
	ctx := context.Background()
	if _, err := repo.Save(ctx, "the candidate shipped a payments migration at scale", testVector(), map[string]string{"source": "resume"}); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	router := routing.New(
		[]providers.Provider{fakeProvider{name: "openai", text: "here is the synthesized answer"}},
		map[string]breaker.Breaker{"openai": breaker.NullBreaker{}},
		static.New(nil),
		routing.DefaultRetryConfig(),
		nil,
		logger,
	)

	svc := chat.NewService(
		fakeEmbedder{vector: testVector()},
		repo,
		router,
		conversation.NewInMemoryStore(),
		prompt.NewAssembler(""),
		logger,
	)

	resp, err := svc.GenerateResponse(ctx, "what did the candidate work on?", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "here is the synthesized answer" {
		t.Fatalf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 source, got %d", len(resp.Sources))
	}
	if resp.ConversationID == "" {
		t.Fatal("expected a conversation id to be minted")
	}

	// A follow-up in the same conversation should get a fresh answer
	// without erroring, exercising the history-load path end to end.
	followUp, err := svc.GenerateResponse(ctx, "what stack did they use?", resp.ConversationID, 0)
	if err != nil {
		t.Fatalf("unexpected error on follow-up: %v", err)
	}
	if followUp.ConversationID != resp.ConversationID {
		t.Fatalf("expected the same conversation id to persist, got %q vs %q", followUp.ConversationID, resp.ConversationID)
	}
}

// TestEndToEndChatFlow_AllProvidersDownUsesStaticFallback exercises the
// spec.md §8 scenario where every configured provider fails and the
// router falls through to the degraded static responder, rendering the
// request's own retrieval hits rather than the generic apology.
func TestEndToEndChatFlow_AllProvidersDownUsesStaticFallback(t *testing.T) {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)

	repo := embedding.NewInMemoryRepository()
	ctx := context.Background()
	if _, err := repo.Save(ctx, "a payments migration case study", testVector(), nil); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	failing := fakeProvider{name: "openai", err: apperrors.Fatal("openai", nil)}
	router := routing.New(
		[]providers.Provider{failing},
		map[string]breaker.Breaker{"openai": breaker.NullBreaker{}},
		static.New(nil),
		routing.DefaultRetryConfig(),
		nil,
		logger,
	)

	svc := chat.NewService(
		fakeEmbedder{vector: testVector()},
		repo,
		router,
		conversation.NewInMemoryStore(),
		prompt.NewAssembler(""),
		logger,
	)

	resp, err := svc.GenerateResponse(ctx, "what did the candidate work on?", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Provider != providers.StaticProviderName {
		t.Fatalf("expected static fallback provider, got %q", resp.Provider)
	}
	if len(resp.Answer) == 0 {
		t.Fatal("expected a non-empty degraded answer")
	}
}

// TestConfigurationLoading exercises config defaults/env plumbing
// against the current configuration shape.
func TestConfigurationLoading(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-openai-key")
	t.Setenv("ANTHROPIC_API_KEY", "test-anthropic-key")

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("failed to load default config: %v", err)
	}

	if cfg.Server.Port != "8080" {
		t.Fatalf("expected default port '8080', got %s", cfg.Server.Port)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("expected default log level 'info', got %s", cfg.Logging.Level)
	}
	if cfg.Embedding.Dimension != embedding.Dimension {
		t.Fatalf("expected embedding dimension %d, got %d", embedding.Dimension, cfg.Embedding.Dimension)
	}

	serverConfig := cfg.ToServerConfig()
	if serverConfig.Port != cfg.Server.Port {
		t.Fatal("server config conversion failed")
	}

	enabledProviders := cfg.GetEnabledProviders()
	if len(enabledProviders) != 2 {
		t.Fatalf("expected 2 enabled providers with API keys, got %d", len(enabledProviders))
	}
}
