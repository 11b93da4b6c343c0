// Package chat orchestrates the RAG request/response cycle: embed,
// retrieve, assemble a prompt, dispatch through the router, and
// persist the turn. Grounded on original_source's RAGChatService
// (chat.py) generate_response/generate_welcome.
package chat

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/conversation"
	"github.com/wasllot/llm-routing-plane/internal/embedding"
	"github.com/wasllot/llm-routing-plane/internal/prompt"
	"github.com/wasllot/llm-routing-plane/internal/providers"
	"github.com/wasllot/llm-routing-plane/internal/providers/static"
	"github.com/wasllot/llm-routing-plane/internal/routing"
)

// similarityThreshold is the minimum cosine similarity a retrieved
// document must clear to be used as context, matching
// original_source's fixed threshold=0.5.
const similarityThreshold = 0.5

// defaultContextItems mirrors original_source's max_context_items=5.
const defaultContextItems = 5

const fallbackNotice = "\n\n_(answer generated by the backup provider)_"

// Source is a retrieved document surfaced alongside the answer,
// grounded on original_source's response "sources" list (full content,
// truncated preview, similarity, metadata).
type Source struct {
	ID             int64             `json:"id"`
	Content        string            `json:"content"`
	ContentPreview string            `json:"content_preview"`
	Similarity     float64           `json:"similarity"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// Response is what generate_response returns to callers.
type Response struct {
	Answer         string   `json:"answer"`
	Sources        []Source `json:"sources"`
	ConversationID string   `json:"conversation_id"`
	Provider       string   `json:"provider"`
}

// Welcome is what generate_welcome returns.
type Welcome struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id"`
}

const sourcePreviewLength = 200

// Service orchestrates the chat flow.
type Service struct {
	embeddings embedding.Provider
	vectors    embedding.VectorRepository
	router     *routing.Router
	store      conversation.Store
	assembler  *prompt.Assembler
	logger     *logrus.Logger
}

func NewService(
	embeddings embedding.Provider,
	vectors embedding.VectorRepository,
	router *routing.Router,
	store conversation.Store,
	assembler *prompt.Assembler,
	logger *logrus.Logger,
) *Service {
	if logger == nil {
		logger = logrus.New()
	}
	return &Service{
		embeddings: embeddings,
		vectors:    vectors,
		router:     router,
		store:      store,
		assembler:  assembler,
		logger:     logger,
	}
}

// GenerateResponse runs the full retrieval-augmented generation
// pipeline: embed the question, retrieve similar context, assemble the
// four-block prompt with history, dispatch through the router, persist
// the turn, and return the answer with its sources.
func (s *Service) GenerateResponse(ctx context.Context, question, conversationID string, maxContextItems int) (*Response, error) {
	if conversationID == "" {
		conversationID = conversation.NewConversationID()
	}
	if maxContextItems <= 0 {
		maxContextItems = defaultContextItems
	}

	queryVector, err := s.embeddings.Embed(ctx, question, embedding.TaskQuery)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	hits, err := s.vectors.FindSimilar(ctx, queryVector, maxContextItems, similarityThreshold)
	if err != nil {
		return nil, fmt.Errorf("find similar context: %w", err)
	}

	contextText := s.assembler.BuildContext(hits)
	history, err := s.store.GetHistory(ctx, conversationID, conversation.MaxTurns())
	if err != nil {
		s.logger.WithError(err).Warn("failed to load conversation history, continuing without it")
		history = nil
	}
	historyText := s.assembler.BuildHistory(history, prompt.DefaultHistoryBudget)

	fullPrompt := s.assembler.BuildPrompt(question, contextText, historyText)

	staticHits := make([]static.Hit, len(hits))
	for i, hit := range hits {
		staticHits[i] = static.Hit{Content: hit.Content, Similarity: hit.Similarity}
	}
	result := s.router.RouteWithFallback(ctx, fullPrompt, static.New(staticHits))
	answer := result.Text
	if result.FallbackUsed && result.Provider != providers.StaticProviderName {
		answer += fallbackNotice
	}

	if err := s.store.SaveTurn(ctx, conversationID, question, answer); err != nil {
		// Best-effort: the user still gets their answer even if we
		// failed to persist it for next turn's history.
		s.logger.WithError(err).Warn("failed to persist conversation turn")
	}

	sources := make([]Source, len(hits))
	for i, hit := range hits {
		preview := hit.Content
		if len(preview) > sourcePreviewLength {
			preview = preview[:sourcePreviewLength] + "..."
		}
		sources[i] = Source{
			ID:             hit.ID,
			Content:        hit.Content,
			ContentPreview: preview,
			Similarity:     hit.Similarity,
			Metadata:       hit.Metadata,
		}
	}

	return &Response{
		Answer:         answer,
		Sources:        sources,
		ConversationID: conversationID,
		Provider:       result.Provider,
	}, nil
}

var welcomeMessagesReturning = []string{
	"Welcome back! What else can I help you understand about the candidate's experience?",
	"Hi again! I remember our earlier conversation. Want to dig deeper into anything?",
	"Good to see you again! Any other questions about the candidate's profile?",
}

var welcomeMessagesFirstTime = []string{
	"Hi! I'm the candidate's virtual portfolio assistant. I can tell you about their experience across full-stack development, microservices, and more. Where should we start?",
	"Welcome! I'm trained to answer questions about the candidate's career. Interested in hearing about their most recent projects?",
	"Great to meet you! I'm an AI assistant specialized in this candidate's profile. Have questions about their experience with any particular stack?",
}

// GenerateWelcome returns a static greeting chosen by whether the
// conversation already has history, never invoking the router — this
// mirrors original_source's token-saving optimization of not calling
// an LLM just to say hello. Callers supply a random index (e.g. from
// crypto/rand or a request-scoped source) rather than the service
// calling math/rand.Int itself, keeping the service deterministic and
// side-effect free for tests.
func (s *Service) GenerateWelcome(ctx context.Context, conversationID string, randomIndex int) (*Welcome, error) {
	if conversationID == "" {
		conversationID = conversation.NewConversationID()
	}

	history, err := s.store.GetHistory(ctx, conversationID, 1)
	if err != nil {
		s.logger.WithError(err).Warn("failed to check conversation history for welcome")
		history = nil
	}

	messages := welcomeMessagesFirstTime
	if len(history) > 0 {
		messages = welcomeMessagesReturning
	}

	idx := randomIndex % len(messages)
	if idx < 0 {
		idx += len(messages)
	}

	return &Welcome{Message: messages[idx], ConversationID: conversationID}, nil
}
