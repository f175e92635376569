package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClientRequiresAPIKey(t *testing.T) {
	_, err := NewClient(ProviderAnthropic, "", "")
	assert.ErrorIs(t, err, ErrNoAPIKey)

	_, err = NewClient(ProviderOpenAI, "gpt-4o-mini", "   ")
	assert.ErrorIs(t, err, ErrNoAPIKey)
}

func TestNewClientProviderSelection(t *testing.T) {
	c, err := NewClient(ProviderAnthropic, "", "key")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)
	assert.Equal(t, defaultAnthropicSummaryModel, c.ModelName())

	c, err = NewClient(ProviderOpenAI, "", "key")
	require.NoError(t, err)
	assert.IsType(t, &OpenAIClient{}, c)
	assert.Equal(t, defaultOpenAISummaryModel, c.ModelName())

	// Empty provider defaults to anthropic.
	c, err = NewClient("", "claude-3-5-haiku-20241022", "key")
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, c)

	_, err = NewClient("cohere", "", "key")
	assert.Error(t, err)
}

func TestModelOverrideRespected(t *testing.T) {
	c, err := NewClient(ProviderOpenAI, "gpt-4.1-nano", "key")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4.1-nano", c.ModelName())
}

func TestAPIKeyEnvVar(t *testing.T) {
	assert.Equal(t, "ANTHROPIC_API_KEY", APIKeyEnvVar(ProviderAnthropic))
	assert.Equal(t, "ANTHROPIC_API_KEY", APIKeyEnvVar(""))
	assert.Equal(t, "OPENAI_API_KEY", APIKeyEnvVar(ProviderOpenAI))
}
