package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/formai-apps/kyuyoagent/internal/consts"
)

const defaultAzureAPIVersion = "2024-02-15-preview"

// AzureOpenAIClient implements the Client interface against an Azure OpenAI
// deployment using the official OpenAI SDK.
type AzureOpenAIClient struct {
	client     openai.Client
	deployment string
}

// NewAzureOpenAIClient creates a client for an Azure OpenAI deployment. The
// deployment name doubles as the model identifier on Azure.
func NewAzureOpenAIClient(apiKey, endpoint, deployment, apiVersion string) (Client, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("azure openai client requires an API key")
	}
	if strings.TrimSpace(endpoint) == "" {
		return nil, fmt.Errorf("azure openai client requires an endpoint")
	}
	if strings.TrimSpace(deployment) == "" {
		return nil, fmt.Errorf("azure openai client requires a deployment name")
	}
	if strings.TrimSpace(apiVersion) == "" {
		apiVersion = defaultAzureAPIVersion
	}

	client := openai.NewClient(
		azure.WithEndpoint(endpoint, apiVersion),
		azure.WithAPIKey(apiKey),
		option.WithRequestTimeout(consts.Timeout2Minutes),
	)

	return &AzureOpenAIClient{
		client:     client,
		deployment: deployment,
	}, nil
}

func (c *AzureOpenAIClient) GetModelName() string {
	return c.deployment
}

func (c *AzureOpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.CompleteWithRequest(ctx, &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (c *AzureOpenAIClient) CompleteWithRequest(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error) {
	params, err := c.buildChatParams(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("azure openai completion failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return &CompletionResponse{StopReason: "stop"}, nil
	}

	first := resp.Choices[0]
	stopReason := string(first.FinishReason)
	if stopReason == "" {
		stopReason = "stop"
	}

	var usage map[string]interface{}
	if resp.Usage.TotalTokens > 0 {
		usage = map[string]interface{}{
			"prompt_tokens":     resp.Usage.PromptTokens,
			"completion_tokens": resp.Usage.CompletionTokens,
			"total_tokens":      resp.Usage.TotalTokens,
		}
	}

	return &CompletionResponse{
		Content:    first.Message.Content,
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (c *AzureOpenAIClient) Stream(ctx context.Context, req *CompletionRequest, callback func(chunk string) error) error {
	params, err := c.buildChatParams(req)
	if err != nil {
		return err
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}

		text := chunk.Choices[0].Delta.Content
		if text == "" {
			continue
		}

		if err := callback(text); err != nil {
			return err
		}
	}

	if err := stream.Err(); err != nil {
		return fmt.Errorf("azure openai stream failed: %w", err)
	}

	return nil
}

func (c *AzureOpenAIClient) buildChatParams(req *CompletionRequest) (openai.ChatCompletionNewParams, error) {
	if req == nil {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("azure openai completion request cannot be nil")
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if sys := strings.TrimSpace(req.SystemPrompt); sys != "" {
		messages = append(messages, openai.SystemMessage(sys))
	}

	for _, msg := range req.Messages {
		if msg == nil || msg.Content == "" {
			continue
		}

		switch normalizeRole(msg.Role) {
		case "system":
			messages = append(messages, openai.SystemMessage(msg.Content))
		case "assistant":
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}

	if len(messages) == 0 {
		return openai.ChatCompletionNewParams{}, fmt.Errorf("azure openai completion requires at least one message")
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = consts.DefaultMaxTokens
	}

	// Temperature is always sent; zero keeps data processing deterministic.
	return openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(c.deployment),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
		MaxTokens:   openai.Int(int64(maxTokens)),
	}, nil
}
