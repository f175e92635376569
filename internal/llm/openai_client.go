package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient implements Client using the official OpenAI SDK's chat
// completions API.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func newOpenAIClient(apiKey, model string) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

func (c *OpenAIClient) ModelName() string {
	return c.model
}

func (c *OpenAIClient) Complete(ctx context.Context, system string, messages []Message) (*Result, error) {
	chatMessages := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if sys := strings.TrimSpace(system); sys != "" {
		chatMessages = append(chatMessages, openai.SystemMessage(sys))
	}
	for _, msg := range messages {
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		if msg.Role == "assistant" {
			chatMessages = append(chatMessages, openai.AssistantMessage(msg.Content))
		} else {
			chatMessages = append(chatMessages, openai.UserMessage(msg.Content))
		}
	}
	if len(chatMessages) == 0 {
		return nil, fmt.Errorf("openai completion requires at least one non-empty message")
	}

	completion, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: chatMessages,
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return &Result{StopReason: StopReasonAborted}, nil
		}
		return nil, fmt.Errorf("openai completion failed: %w", err)
	}

	if len(completion.Choices) == 0 {
		return &Result{StopReason: StopReasonError}, nil
	}

	choice := completion.Choices[0]
	content := choice.Message.Content
	if strings.TrimSpace(content) == "" {
		return &Result{StopReason: StopReasonError}, nil
	}
	return &Result{Content: content, StopReason: string(choice.FinishReason)}, nil
}
