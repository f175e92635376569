// Package llm is the boundary to the model-completion layer used for
// summarization. It deliberately exposes a much smaller surface than a
// full chat client: one non-streaming completion call with role-tagged
// text messages and a distinguishable stop reason.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Stop reasons a caller can branch on. Anything else is provider-specific
// and treated as a normal completion.
const (
	StopReasonAborted = "aborted"
	StopReasonError   = "error"
)

// ErrNoAPIKey indicates no credential was available for the selected
// provider.
var ErrNoAPIKey = errors.New("no API key available for completion provider")

// Message is one role-tagged text message in a completion request.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Result is the outcome of a completion call. Content is empty when the
// call stopped for a non-content reason; StopReason then says why.
type Result struct {
	Content    string
	StopReason string
}

// Client performs one-shot completions against a fixed model.
type Client interface {
	// Complete sends system + messages and returns the generated text
	// or a Result with a distinguishable stop reason.
	Complete(ctx context.Context, system string, messages []Message) (*Result, error)

	// ModelName returns the model handle this client is bound to.
	ModelName() string
}

// Provider names accepted by NewClient.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// Default small models used for summaries when the config names none.
const (
	defaultAnthropicSummaryModel = "claude-3-5-haiku-20241022"
	defaultOpenAISummaryModel    = "gpt-4o-mini"
)

// DefaultSummaryModel returns the provider's default cheap model.
func DefaultSummaryModel(provider string) string {
	if normalizeProvider(provider) == ProviderOpenAI {
		return defaultOpenAISummaryModel
	}
	return defaultAnthropicSummaryModel
}

// APIKeyEnvVar returns the conventional environment variable consulted
// for the provider's credential.
func APIKeyEnvVar(provider string) string {
	if normalizeProvider(provider) == ProviderOpenAI {
		return "OPENAI_API_KEY"
	}
	return "ANTHROPIC_API_KEY"
}

// NewClient constructs a completion client for the given provider and
// model. An empty model selects the provider's default summary model.
func NewClient(provider, model, apiKey string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrNoAPIKey
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultSummaryModel(provider)
	}

	switch normalizeProvider(provider) {
	case ProviderOpenAI:
		return newOpenAIClient(apiKey, model), nil
	case ProviderAnthropic:
		return newAnthropicClient(apiKey, model), nil
	default:
		return nil, fmt.Errorf("unknown completion provider %q", provider)
	}
}

func normalizeProvider(provider string) string {
	p := strings.ToLower(strings.TrimSpace(provider))
	if p == "" {
		return ProviderAnthropic
	}
	return p
}
