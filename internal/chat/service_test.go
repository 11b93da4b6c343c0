package chat

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/breaker"
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

type fakeProvider struct{ text string }

func (f fakeProvider) Name() string { return "openai" }
func (f fakeProvider) Generate(context.Context, string) (string, error) {
	return f.text, nil
}

func testVector() []float32 {
	v := make([]float32, embedding.Dimension)
	v[0] = 1
	return v
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	repo := embedding.NewInMemoryRepository()
	ctx := context.Background()
	if _, err := repo.Save(ctx, "the candidate led a payments migration", testVector(), map[string]string{"source": "resume"}); err != nil {
		t.Fatalf("seed repo: %v", err)
	}

	router := routing.New(
		[]providers.Provider{fakeProvider{text: "here is the answer"}},
		map[string]breaker.Breaker{"openai": breaker.NullBreaker{}},
		static.New(nil),
		routing.DefaultRetryConfig(),
		nil,
		logrus.New(),
	)

	return NewService(
		fakeEmbedder{vector: testVector()},
		repo,
		router,
		conversation.NewInMemoryStore(),
		prompt.NewAssembler(""),
		logrus.New(),
	)
}

func TestGenerateResponse_ReturnsAnswerAndSources(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.GenerateResponse(context.Background(), "what did the candidate work on?", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Answer != "here is the answer" {
		t.Errorf("unexpected answer: %q", resp.Answer)
	}
	if len(resp.Sources) != 1 {
		t.Fatalf("expected 1 retrieved source, got %d", len(resp.Sources))
	}
	if resp.ConversationID == "" {
		t.Error("expected a conversation id to be minted")
	}
}

func TestGenerateResponse_PersistsTurnForFollowUp(t *testing.T) {
	svc := newTestService(t)
	resp, err := svc.GenerateResponse(context.Background(), "first question", "", 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	history, err := svc.store.GetHistory(context.Background(), resp.ConversationID, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(history) != 1 || history[0].Question != "first question" {
		t.Errorf("expected the turn to be persisted, got %+v", history)
	}
}

func TestGenerateWelcome_FirstTimeVsReturning(t *testing.T) {
	svc := newTestService(t)
	convID := conversation.NewConversationID()

	welcome, err := svc.GenerateWelcome(context.Background(), convID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	firstTimeMsg := welcome.Message
	found := false
	for _, m := range welcomeMessagesFirstTime {
		if m == firstTimeMsg {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a first-time greeting, got %q", firstTimeMsg)
	}

	_ = svc.store.SaveTurn(context.Background(), convID, "q", "a")

	welcome, err = svc.GenerateWelcome(context.Background(), convID, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	found = false
	for _, m := range welcomeMessagesReturning {
		if m == welcome.Message {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a returning-user greeting, got %q", welcome.Message)
	}
}
