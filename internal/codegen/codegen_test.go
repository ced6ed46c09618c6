package codegen

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

type stubClient struct {
	completeWithRequestFn func(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error)
	requests              []*llm.CompletionRequest
}

func (s *stubClient) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	return s.completeWithRequestFn(ctx, req)
}

func (s *stubClient) Complete(ctx context.Context, prompt string) (string, error) {
	return "", errors.New("not implemented")
}

func (s *stubClient) Stream(ctx context.Context, req *llm.CompletionRequest, callback func(string) error) error {
	return errors.New("not implemented")
}

func (s *stubClient) GetModelName() string { return "stub-model" }

func respondWith(content string) *stubClient {
	return &stubClient{
		completeWithRequestFn: func(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: content, StopReason: "stop"}, nil
		},
	}
}

func sampleFrame(t *testing.T) *tabular.Frame {
	t.Helper()
	f := tabular.New([]string{"スタッフコード", "基本給"})
	f.AppendRow(tabular.Row{"スタッフコード": "1001", "基本給": "250000"})
	f.AppendRow(tabular.Row{"スタッフコード": "1002", "基本給": "265000"})
	return f
}

func TestSchemaFromFrame(t *testing.T) {
	schema := SchemaFromFrame("給与基本", sampleFrame(t))

	assert.Equal(t, "給与基本", schema.Name)
	assert.Contains(t, schema.Info, "2 entries, 2 columns")
	assert.Contains(t, schema.Info, "スタッフコード  object")
	assert.Contains(t, schema.Info, "基本給  int64")
}

func TestGeneratePromptContents(t *testing.T) {
	source := "```go\nfunc data_processing_1(staffCode string, dfDict map[string][]map[string]string) []map[string]string {\n\treturn nil\n}\n```"
	client := respondWith(source)
	g := NewGenerator(client)

	got, err := g.Generate(context.Background(), &Request{
		RuleText:     "基本給に通勤手当を加算する",
		FunctionName: "data_processing_1",
		CurrentDate:  "2024-04-01",
		Schemas:      []Schema{SchemaFromFrame("給与基本", sampleFrame(t))},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "func data_processing_1")
	assert.NotContains(t, got, "```")

	require.Len(t, client.requests, 1)
	req := client.requests[0]
	assert.Contains(t, req.SystemPrompt, "給与基本.info()")
	assert.Contains(t, req.SystemPrompt, "'data_processing_1'")
	assert.Contains(t, req.SystemPrompt, "現在日付は 2024-04-01")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "基本給に通勤手当を加算する", req.Messages[0].Content)
	assert.Zero(t, req.Temperature)
	assert.Equal(t, 3000, req.MaxTokens)
}

func TestGenerateDefaultsFunctionNameAndDate(t *testing.T) {
	client := respondWith("func my_function(staffCode string, dfDict map[string][]map[string]string) []map[string]string { return nil }")
	g := NewGenerator(client)

	_, err := g.Generate(context.Background(), &Request{RuleText: "ルール"})
	require.NoError(t, err)
	assert.Contains(t, client.requests[0].SystemPrompt, "'my_function'")
}

func TestGenerateRejectsMissingFunction(t *testing.T) {
	client := respondWith("```go\nfunc something_else() {}\n```")
	g := NewGenerator(client)

	_, err := g.Generate(context.Background(), &Request{
		RuleText:     "ルール",
		FunctionName: "data_processing_2",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "data_processing_2")
}

func TestGenerateTransportError(t *testing.T) {
	client := &stubClient{
		completeWithRequestFn: func(context.Context, *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return nil, errors.New("boom")
		},
	}
	g := NewGenerator(client)

	_, err := g.Generate(context.Background(), &Request{RuleText: "ルール", FunctionName: "f"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "code generation failed")
}

func TestGenerateEnforcesTokenBudget(t *testing.T) {
	client := respondWith("func f() {}")
	g := NewGenerator(client)

	_, err := g.Generate(context.Background(), &Request{
		RuleText:     strings.Repeat("給与計算の規則 ", 30000),
		FunctionName: "f",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokens")
	assert.Empty(t, client.requests)
}
