package llm

import (
	"strings"
	"testing"
)

func TestCleanLLMJSONResponse(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "plain JSON",
			input:    `{"intent": "task"}`,
			expected: `{"intent": "task"}`,
		},
		{
			name:     "JSON with json markdown block",
			input:    "```json\n{\"intent\": \"task\"}\n```",
			expected: `{"intent": "task"}`,
		},
		{
			name:     "JSON with plain markdown block",
			input:    "```\n{\"intent\": \"task\"}\n```",
			expected: `{"intent": "task"}`,
		},
		{
			name:     "JSON with surrounding whitespace",
			input:    "  \n  {\"intent\": \"task\"}  \n  ",
			expected: `{"intent": "task"}`,
		},
		{
			name:     "XML-style tags",
			input:    "<result>{\"intent\": \"task\"}</result>",
			expected: `{"intent": "task"}`,
		},
		{
			name:     "tags with attributes",
			input:    "<result type=\"json\">{\"intent\": \"task\"}</result>",
			expected: `{"intent": "task"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CleanLLMJSONResponse(tt.input)
			if result != tt.expected {
				t.Errorf("CleanLLMJSONResponse() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestParseLLMJSONResponse(t *testing.T) {
	type Result struct {
		Intent string `json:"intent"`
	}

	tests := []struct {
		name    string
		input   string
		want    *Result
		wantErr bool
	}{
		{
			name:  "valid plain JSON",
			input: `{"intent": "question"}`,
			want:  &Result{Intent: "question"},
		},
		{
			name:  "valid JSON with markdown",
			input: "```json\n{\"intent\": \"question\"}\n```",
			want:  &Result{Intent: "question"},
		},
		{
			name:  "JSON embedded in prose",
			input: "分類結果は以下の通りです。\n{\"intent\": \"question\"}\nご確認ください。",
			want:  &Result{Intent: "question"},
		},
		{
			name:    "invalid JSON",
			input:   "not json at all",
			wantErr: true,
		},
		{
			name:    "empty string",
			input:   "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var result Result
			err := ParseLLMJSONResponse(tt.input, &result)

			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseLLMJSONResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if result.Intent != tt.want.Intent {
				t.Errorf("ParseLLMJSONResponse() = %+v, want %+v", result, tt.want)
			}
		})
	}
}

func TestExtractJSONFallbackToBraces(t *testing.T) {
	type payload struct {
		Intent string `json:"intent"`
	}

	var result payload
	input := "Sure! Here is the classification: {\"intent\": \"return_to_menu\"} Let me know."
	if err := ExtractJSON(input, &result); err != nil {
		t.Fatalf("ExtractJSON() error = %v", err)
	}
	if result.Intent != "return_to_menu" {
		t.Errorf("ExtractJSON() intent = %q, want %q", result.Intent, "return_to_menu")
	}
}

func TestExtractCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		lang     string
		expected string
	}{
		{
			name:     "tagged fence",
			input:    "Here you go:\n```go\nfunc main() {}\n```\nDone.",
			lang:     "go",
			expected: "func main() {}",
		},
		{
			name:     "untagged fence",
			input:    "```\nfunc main() {}\n```",
			lang:     "go",
			expected: "func main() {}",
		},
		{
			name:     "fence with other language tag",
			input:    "```text\nfunc main() {}\n```",
			lang:     "go",
			expected: "func main() {}",
		},
		{
			name:     "no fence",
			input:    "  func main() {}  ",
			lang:     "go",
			expected: "func main() {}",
		},
		{
			name:     "unterminated fence",
			input:    "```go\nfunc main() {}",
			lang:     "go",
			expected: "func main() {}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ExtractCodeBlock(tt.input, tt.lang)
			if result != tt.expected {
				t.Errorf("ExtractCodeBlock() = %q, want %q", result, tt.expected)
			}
		})
	}
}

func TestTruncateForError(t *testing.T) {
	long := strings.Repeat("a", 300)
	got := TruncateForError(long, 200)
	if !strings.HasSuffix(got, "...") {
		t.Errorf("TruncateForError() should append ellipsis, got %q", got)
	}
	if len(got) != 203 {
		t.Errorf("TruncateForError() length = %d, want 203", len(got))
	}

	short := "short response"
	if TruncateForError(short, 200) != short {
		t.Errorf("TruncateForError() should keep short values unchanged")
	}
}
