package judgment

import (
	"context"
	"fmt"
	"os"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIInvoker talks to any OpenAI-compatible chat completion
// endpoint. The base URL override routes provider-prefixed model specs
// through gateways such as OpenRouter.
type OpenAIInvoker struct {
	client *openai.Client
}

func NewOpenAIInvoker(apiKey, baseURL string) *OpenAIInvoker {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIInvoker{client: openai.NewClientWithConfig(cfg)}
}

func (o *OpenAIInvoker) Invoke(ctx context.Context, modelName, prompt string) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}
