package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
)

func TestBuildContext_EmptyHitsReturnsApology(t *testing.T) {
	a := NewAssembler("")
	ctx := a.BuildContext(nil)
	if !strings.Contains(ctx, "No relevant context") {
		t.Errorf("expected a no-context message, got %q", ctx)
	}
}

func TestBuildContext_FormatsEachHit(t *testing.T) {
	a := NewAssembler("")
	hits := []embedding.Hit{
		{Content: "first excerpt", Similarity: 0.873, Metadata: map[string]string{"source": "resume.pdf"}},
		{Content: "second excerpt", Similarity: 0.6, Metadata: nil},
	}
	ctx := a.BuildContext(hits)

	if !strings.Contains(ctx, "[Document 1 — source: resume.pdf — similarity: 0.87]") {
		t.Errorf("expected formatted first document header, got %q", ctx)
	}
	if !strings.Contains(ctx, "[Document 2 — source: unknown — similarity: 0.60]") {
		t.Errorf("expected unknown source for missing metadata, got %q", ctx)
	}
	if !strings.Contains(ctx, "---") {
		t.Error("expected documents separated by ---")
	}
}

func TestBuildHistory_EmptyReturnsEmptyString(t *testing.T) {
	a := NewAssembler("")
	if h := a.BuildHistory(nil, DefaultHistoryBudget); h != "" {
		t.Errorf("expected empty history for no turns, got %q", h)
	}
}

func TestBuildHistory_DropsOldestWhenOverBudget(t *testing.T) {
	a := NewAssembler("")
	turns := []conversation.Turn{
		{Question: "old question", Answer: strings.Repeat("x", 400), Timestamp: time.Now()},
		{Question: "recent question", Answer: "short answer", Timestamp: time.Now()},
	}

	history := a.BuildHistory(turns, 50)
	if !strings.Contains(history, "recent question") {
		t.Error("expected the most recent turn to survive the budget")
	}
	if strings.Contains(history, "old question") {
		t.Error("expected the oldest turn to be dropped once the budget is exceeded")
	}
}

func TestBuildPrompt_AssemblesFourBlocks(t *testing.T) {
	a := NewAssembler("SYSTEM")
	p := a.BuildPrompt("what is your experience?", "CONTEXT", "HISTORY")

	for _, want := range []string{"SYSTEM", "HISTORY", "CONTEXT", "what is your experience?"} {
		if !strings.Contains(p, want) {
			t.Errorf("expected prompt to contain %q", want)
		}
	}
}
