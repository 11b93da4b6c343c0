// Package providers defines the capability contract every LLM backend
// (and the mandatory static responder) implements, plus the richer
// ChatCompletion-based contract the concrete SDK-backed adapters also
// implement alongside the narrow contract the router dispatches through.
package providers

import (
	"context"
	"time"

	"github.com/wasllot/llm-routing-plane/internal/types"
)

// StaticProviderName is the distinguished, reserved name of the static
// degraded adapter. No real backend may register under this name.
const StaticProviderName = "static_fallback"

// Provider is the contract the router dispatches through: "generate
// text for a prompt" plus a stable name. This mirrors the source
// system's minimal LLMProvider protocol rather than the teacher's
// richer OpenAI/Anthropic-shaped ChatCompletion interface below, which
// the SDK-backed adapters implement as a separate method set.
type Provider interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

// ChatProvider is the richer, SDK-shaped contract the OpenAI and
// Anthropic adapters also implement. It is not what the router
// dispatches through: each adapter's Generate calls its SDK directly
// rather than going through ChatCompletion.
type ChatProvider interface {
	GetProviderName() string
	GetCapabilities() types.ProviderCapabilities
	ChatCompletion(ctx context.Context, req *types.ChatRequest) (*types.ChatResponse, error)
	HealthCheck(ctx context.Context) error
}

// DefaultTimeout bounds a single adapter call, per the routing plane's
// default per-attempt timeout.
const DefaultTimeout = 30 * time.Second
