// Package summarizer turns the tail of a conversation into a short
// third-person summary via the completion collaborator.
package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/codefionn/sessionwire/internal/llm"
	"github.com/codefionn/sessionwire/internal/logger"
	"github.com/codefionn/sessionwire/internal/protocol"
	"github.com/pkoukk/tiktoken-go"
)

const summaryInstruction = "Summarize the following conversation excerpt in 2-4 sentences. " +
	"Describe what was asked and what the assistant did or concluded. " +
	"Write in the third person and do not quote the transcript verbatim."

// maxTranscriptTokens bounds the transcript sent to the summary model.
// Summary models are small and cheap; there is no value in shipping a
// full context window of history for a few sentences back.
const maxTranscriptTokens = 24_000

// Summarizer produces summaries through one completion client.
type Summarizer struct {
	client llm.Client

	// MaxTranscriptTokens can be lowered in tests. Zero means the
	// package default.
	MaxTranscriptTokens int
}

// New creates a Summarizer bound to client.
func New(client llm.Client) *Summarizer {
	return &Summarizer{client: client}
}

// Summarize joins messages into a transcript, truncates it to the token
// budget, and asks the model for a summary. The returned error wraps
// distinguishable conditions: an empty transcript, an aborted call, and
// a model failure each produce a different message.
func (s *Summarizer) Summarize(ctx context.Context, messages []protocol.ExtractedMessage) (string, error) {
	if s.client == nil {
		return "", fmt.Errorf("summarization client not configured")
	}

	transcript := BuildTranscript(messages)
	if transcript == "" {
		return "", fmt.Errorf("no messages to summarize")
	}

	budget := s.MaxTranscriptTokens
	if budget <= 0 {
		budget = maxTranscriptTokens
	}

	estimated := estimateTokens(transcript, s.client.ModelName())
	if estimated > budget {
		logger.Debug("summarizer: transcript %d tokens over budget %d, truncating tail-biased", estimated, budget)
		transcript = truncateToTokens(transcript, budget)
	}

	result, err := s.client.Complete(ctx, summaryInstruction, []llm.Message{
		{Role: "user", Content: transcript},
	})
	if err != nil {
		return "", fmt.Errorf("summary completion failed: %w", err)
	}

	switch result.StopReason {
	case llm.StopReasonAborted:
		return "", fmt.Errorf("summary completion was aborted")
	case llm.StopReasonError:
		return "", fmt.Errorf("summary model returned no content")
	}

	return strings.TrimSpace(result.Content), nil
}

// BuildTranscript renders messages as a role-prefixed transcript.
func BuildTranscript(messages []protocol.ExtractedMessage) string {
	var sb strings.Builder
	for _, msg := range messages {
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			continue
		}
		label := "User"
		if msg.Role == "assistant" {
			label = "Assistant"
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(label)
		sb.WriteString(": ")
		sb.WriteString(text)
	}
	return sb.String()
}

// estimateTokens counts tokens with the model's encoding when tiktoken
// knows it, falling back to cl100k_base and then to a bytes/4 estimate.
func estimateTokens(text, modelID string) int {
	encoder, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		encoder, err = tiktoken.GetEncoding("cl100k_base")
	}
	if err != nil || encoder == nil {
		return utf8.RuneCountInString(text) / 4
	}
	return len(encoder.Encode(text, nil, nil))
}

// truncateToTokens keeps the tail of the transcript, since the most
// recent exchange is what a summary caller cares about.
func truncateToTokens(text string, budget int) string {
	// Rough bytes-per-token conversion, then trim to a rune boundary
	// and drop the first partial line.
	keepBytes := budget * 4
	if keepBytes >= len(text) {
		return text
	}
	cut := len(text) - keepBytes
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	truncated := text[cut:]
	if idx := strings.IndexByte(truncated, '\n'); idx >= 0 && idx < len(truncated)-1 {
		truncated = truncated[idx+1:]
	}
	return "[earlier conversation truncated]\n" + truncated
}
