// Package static implements the mandatory degraded responder: a
// provider that can never fail, used as the router's terminal sink and
// grounded on original_source's StaticFallbackProvider. Unlike the
// networked adapters it is constructed fresh per request (explicit
// dependency injection, not a singleton) carrying the retrieval hits
// the chat orchestrator already gathered, so its Generate call can
// render them without any additional I/O.
package static

import (
	"context"
	"fmt"
	"strings"

	"github.com/wasllot/llm-routing-plane/internal/providers"
)

// Hit is the minimal shape the static responder needs from a search
// result; it intentionally does not import the embedding package to
// avoid a dependency cycle (embedding does not need to know about
// providers).
type Hit struct {
	Content    string
	Similarity float64
}

const noResultsMessage = "I'm currently running in a degraded mode and couldn't find relevant information " +
	"to answer your question. Please try rephrasing it, or check back shortly while the assistant's " +
	"primary language model providers recover."

const maxRenderedHits = 3
const previewLength = 200

// Provider is the distinguished static degraded adapter. It never
// returns an error.
type Provider struct {
	hits []Hit
}

// New constructs a static provider bound to the hits gathered for one
// request. Passing no hits yields the generic apology.
func New(hits []Hit) *Provider {
	return &Provider{hits: hits}
}

func (p *Provider) Name() string { return providers.StaticProviderName }

// Generate ignores the prompt; the static responder answers purely
// from the hits it was constructed with.
func (p *Provider) Generate(_ context.Context, _ string) (string, error) {
	if len(p.hits) == 0 {
		return noResultsMessage, nil
	}

	var b strings.Builder
	b.WriteString("I couldn't reach a language model provider, but here is what I found in the portfolio content:\n\n")

	n := len(p.hits)
	if n > maxRenderedHits {
		n = maxRenderedHits
	}
	for i := 0; i < n; i++ {
		hit := p.hits[i]
		content := hit.Content
		if len(content) > previewLength {
			content = content[:previewLength] + "..."
		}
		fmt.Fprintf(&b, "**%d. Relevant excerpt** (similarity: %.0f%%)\n%s\n\n", i+1, hit.Similarity*100, content)
	}

	return strings.TrimRight(b.String(), "\n"), nil
}

var _ providers.Provider = (*Provider)(nil)
