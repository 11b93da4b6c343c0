// Package prompt assembles the four-block RAG prompt (system preface,
// context, sliding-window history, question), grounded on
// original_source's PromptBuilder (chat.py). The persona text is
// generalized to an unnamed English "professional portfolio assistant"
// rather than translated verbatim from the Spanish, named-individual
// original.
package prompt

import (
	"fmt"
	"strings"

	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
)

const defaultInstruction = `You are a professional AI assistant representing a software engineer's portfolio. Your goal is to help recruiters and technical reviewers understand the candidate's experience and strengths.

Behavior rules:
1. Answer in first person singular ("I", "my experience") as if you were the candidate, or in neutral third person ("the candidate") if asked explicitly about them.
2. Use ONLY the information in the provided context (resume, projects) to answer.
3. If asked about a technology or experience not present in the context, be honest: say you don't have specific information on that tool in your current knowledge base, but can discuss related experience.
4. Highlight quantifiable achievements and key technologies mentioned in the context.
5. Keep a professional, confident, and enthusiastic tone without being arrogant.
6. Be concise but offer technical detail when the question calls for it.

If the context is empty and the user is just greeting you, introduce yourself briefly as the candidate's virtual assistant.`

// charsPerToken is the rough heuristic original_source uses
// (len(text) // 4) to estimate token counts without a tokenizer.
const charsPerToken = 4

// Assembler builds prompts for the RAG chat flow.
type Assembler struct {
	systemInstruction string
}

func NewAssembler(systemInstruction string) *Assembler {
	if systemInstruction == "" {
		systemInstruction = defaultInstruction
	}
	return &Assembler{systemInstruction: systemInstruction}
}

// BuildContext renders retrieved hits into the context block, one
// entry per hit in the format "[Document N — source: S — similarity:
// X.XX]".
func (a *Assembler) BuildContext(hits []embedding.Hit) string {
	if len(hits) == 0 {
		return "No relevant context was found in the knowledge base."
	}

	parts := make([]string, len(hits))
	for i, hit := range hits {
		source := hit.Metadata["source"]
		if source == "" {
			source = "unknown"
		}
		parts[i] = fmt.Sprintf("[Document %d — source: %s — similarity: %.2f]\n%s\n", i+1, source, hit.Similarity, hit.Content)
	}
	return strings.Join(parts, "\n---\n")
}

func estimateTokens(text string) int {
	return len(text) / charsPerToken
}

// BuildHistory renders conversation history newest-to-oldest-included
// but in chronological output order, stopping once a turn would push
// the total past maxTokens. This is a sliding window: the oldest turns
// are dropped first, so the most recent exchange survives whenever it
// fits the budget on its own; if it does not, no history is included.
func (a *Assembler) BuildHistory(turns []conversation.Turn, maxTokens int) string {
	if len(turns) == 0 {
		return ""
	}

	header := "\n\nConversation history:\n"
	remaining := maxTokens - estimateTokens(header)

	var included []string
	for i := len(turns) - 1; i >= 0; i-- {
		turn := turns[i]
		turnText := fmt.Sprintf("User: %s\nAssistant: %s\n\n", turn.Question, turn.Answer)
		turnTokens := estimateTokens(turnText)
		if turnTokens > remaining {
			break
		}
		included = append([]string{turnText}, included...)
		remaining -= turnTokens
	}

	return header + strings.Join(included, "")
}

// DefaultHistoryBudget is the max-tokens default original_source uses
// for build_history.
const DefaultHistoryBudget = 2048

// BuildPrompt assembles the final four-block prompt.
func (a *Assembler) BuildPrompt(question, context, history string) string {
	return fmt.Sprintf("%s\n\nAVAILABLE CONTEXT:\n%s\n\n%s\n\nUSER QUESTION:\n%s\n\nANSWER:", a.systemInstruction, context, history, question)
}
