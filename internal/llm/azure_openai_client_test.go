package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestAzureClient(t *testing.T, serverURL string) Client {
	t.Helper()
	client, err := NewAzureOpenAIClient("test-key", serverURL, "gptest", "2024-02-15-preview")
	if err != nil {
		t.Fatalf("NewAzureOpenAIClient failed: %v", err)
	}
	return client
}

func TestAzureOpenAIClient_Complete(t *testing.T) {
	var gotAPIKey string
	var gotBody map[string]interface{}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAPIKey = r.Header.Get("api-key")
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Errorf("failed to decode request body: %v", err)
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{
			"id": "chatcmpl-123",
			"object": "chat.completion",
			"model": "gptest",
			"choices": [
				{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "こんにちは"}}
			],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	}))
	defer server.Close()

	client := newTestAzureClient(t, server.URL)

	resp, err := client.CompleteWithRequest(context.Background(), &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: "Hello"},
		},
		SystemPrompt: "あなたはアシスタントです。",
	})
	if err != nil {
		t.Fatalf("CompleteWithRequest failed: %v", err)
	}

	if resp.Content != "こんにちは" {
		t.Errorf("Content = %q, want %q", resp.Content, "こんにちは")
	}
	if resp.StopReason != "stop" {
		t.Errorf("StopReason = %q, want %q", resp.StopReason, "stop")
	}
	if resp.Usage == nil {
		t.Fatal("expected usage data, got nil")
	}
	if total, ok := resp.Usage["total_tokens"].(int64); !ok || total != 15 {
		t.Errorf("total_tokens = %v, want 15", resp.Usage["total_tokens"])
	}

	if gotAPIKey != "test-key" {
		t.Errorf("api-key header = %q, want %q", gotAPIKey, "test-key")
	}
	if model, _ := gotBody["model"].(string); model != "gptest" {
		t.Errorf("request model = %q, want %q", model, "gptest")
	}
	// Temperature zero must be sent explicitly, not omitted.
	if temp, ok := gotBody["temperature"].(float64); !ok || temp != 0 {
		t.Errorf("request temperature = %v, want 0", gotBody["temperature"])
	}
	if maxTokens, ok := gotBody["max_tokens"].(float64); !ok || maxTokens == 0 {
		t.Errorf("request max_tokens = %v, want non-zero default", gotBody["max_tokens"])
	}
	messages, _ := gotBody["messages"].([]interface{})
	if len(messages) != 2 {
		t.Fatalf("request messages = %d, want 2 (system + user)", len(messages))
	}
	firstMsg, _ := messages[0].(map[string]interface{})
	if role, _ := firstMsg["role"].(string); role != "system" {
		t.Errorf("first message role = %q, want %q", role, "system")
	}
}

func TestAzureOpenAIClient_Stream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		chunks := []string{
			`{"id":"chatcmpl-123","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"処理"}}]}`,
			`{"id":"chatcmpl-123","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"完了"}}]}`,
			`{"id":"chatcmpl-123","object":"chat.completion.chunk","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		}
		for _, chunk := range chunks {
			fmt.Fprintf(w, "data: %s\n\n", chunk)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := newTestAzureClient(t, server.URL)

	var collected strings.Builder
	err := client.Stream(context.Background(), &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: "Hello"},
		},
	}, func(chunk string) error {
		collected.WriteString(chunk)
		return nil
	})
	if err != nil {
		t.Fatalf("Stream failed: %v", err)
	}

	if collected.String() != "処理完了" {
		t.Errorf("streamed content = %q, want %q", collected.String(), "処理完了")
	}
}

func TestAzureOpenAIClient_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
	}))
	defer server.Close()

	client := newTestAzureClient(t, server.URL)

	_, err := client.CompleteWithRequest(context.Background(), &CompletionRequest{
		Messages: []*Message{
			{Role: "user", Content: "Hello"},
		},
	})
	if err == nil {
		t.Fatal("expected error for unauthorized response")
	}
	if !strings.Contains(err.Error(), "azure openai completion failed") {
		t.Errorf("error = %q, want wrapped azure openai error", err.Error())
	}
}

func TestNewAzureOpenAIClient_Validation(t *testing.T) {
	if _, err := NewAzureOpenAIClient("", "https://example.openai.azure.com", "gptest", ""); err == nil {
		t.Error("expected error for missing API key")
	}
	if _, err := NewAzureOpenAIClient("key", "", "gptest", ""); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := NewAzureOpenAIClient("key", "https://example.openai.azure.com", "", ""); err == nil {
		t.Error("expected error for missing deployment")
	}
}

func TestAzureOpenAIClient_RequiresMessages(t *testing.T) {
	client := newTestAzureClient(t, "https://example.openai.azure.com")

	if _, err := client.CompleteWithRequest(context.Background(), nil); err == nil {
		t.Error("expected error for nil request")
	}
	if _, err := client.CompleteWithRequest(context.Background(), &CompletionRequest{}); err == nil {
		t.Error("expected error for empty message list")
	}
}
