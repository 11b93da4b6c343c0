// Package embedding generates and stores text embeddings for
// retrieval. The provider contract follows original_source's
// EmbeddingProvider protocol (generate_embedding/dimension); the
// retry behavior around the OpenAI call follows the teacher pack's
// jittered-backoff idiom (agentflow/llm/retry).
package embedding

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"

	"github.com/wasllot/llm-routing-plane/internal/apperrors"
)

// TaskType distinguishes query embeddings from document embeddings;
// some embedding models produce better retrieval quality when told
// which one they're encoding.
type TaskType string

const (
	TaskQuery    TaskType = "retrieval_query"
	TaskDocument TaskType = "retrieval_document"
)

// Dimension is fixed for the routing plane's deployment of
// text-embedding-3-small. VectorRepository implementations reject any
// vector of a different length.
const Dimension = 1536

// Provider is the capability contract the rest of the plane depends
// on for turning text into vectors.
type Provider interface {
	Embed(ctx context.Context, text string, task TaskType) ([]float32, error)
	Dimension() int
}

// RetryConfig mirrors original_source's
// wait_random_exponential(min=1, max=60), stop_after_attempt(6).
type RetryConfig struct {
	MaxAttempts int
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 6, MinDelay: 1 * time.Second, MaxDelay: 60 * time.Second}
}

// OpenAIProvider implements Provider over go-openai's embeddings
// endpoint.
type OpenAIProvider struct {
	client *openai.Client
	model  openai.EmbeddingModel
	retry  RetryConfig
	logger *logrus.Logger
}

func NewOpenAIProvider(client *openai.Client, retry RetryConfig, logger *logrus.Logger) *OpenAIProvider {
	if logger == nil {
		logger = logrus.New()
	}
	if retry.MaxAttempts <= 0 {
		retry = DefaultRetryConfig()
	}
	return &OpenAIProvider{
		client: client,
		model:  openai.SmallEmbedding3,
		retry:  retry,
		logger: logger,
	}
}

func (p *OpenAIProvider) Dimension() int { return Dimension }

// Embed generates an embedding, retrying transient failures with
// random exponential backoff. task is accepted for interface symmetry
// with original_source's task_type parameter; OpenAI's embedding API
// has no query/document distinction, so it does not affect the call.
func (p *OpenAIProvider) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	var lastErr error

	for attempt := 1; attempt <= p.retry.MaxAttempts; attempt++ {
		resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
			Input:      []string{text},
			Model:      p.model,
			Dimensions: Dimension,
		})
		if err == nil {
			if len(resp.Data) == 0 {
				return nil, apperrors.Policy("openai-embedding", errors.New("no embedding returned"))
			}
			return resp.Data[0].Embedding, nil
		}

		lastErr = err
		if attempt == p.retry.MaxAttempts {
			break
		}

		delay := p.calculateDelay(attempt)
		p.logger.WithError(err).WithField("attempt", attempt).Debug("retrying embedding request")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, apperrors.Transient("openai-embedding", lastErr)
}

// calculateDelay implements random exponential backoff: a uniform
// random draw over [0, min*2^attempt], capped at max, floored at min.
func (p *OpenAIProvider) calculateDelay(attempt int) time.Duration {
	upper := float64(p.retry.MinDelay) * math.Pow(2, float64(attempt))
	if upper > float64(p.retry.MaxDelay) {
		upper = float64(p.retry.MaxDelay)
	}
	delay := rand.Float64() * upper
	if delay < float64(p.retry.MinDelay) {
		delay = float64(p.retry.MinDelay)
	}
	return time.Duration(delay)
}
