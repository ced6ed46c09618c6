// Package intent classifies free-text user messages into the fixed intent
// set the orchestrator routes on. Classification is LLM-backed: the prompt
// carries a short window of prior exchanges plus the currently available
// task names, and the model answers with a single JSON object.
package intent

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/logger"
)

// Intent values the classifier may return. Anything else is treated as
// Unknown by the router.
const (
	TaskStart    = "task_start"
	Question     = "question"
	FileUpload   = "file_upload"
	Confirmation = "confirmation"
	ReturnToMenu = "return_to_menu"
	Unknown      = "unknown"
)

const promptTemplate = `
# 会話文脈
%s

# 現在のユーザー入力
User: %s

# 現在使えるタスク
%s

# タスク
上記の会話文脈とユーザー入力から、ユーザーの意図を解析してください。
以下のいずれかの形式でJSONとして返してください：

- 給与計算タスク開始: {"intent": "task_start", "task_name": "task1 | task2 | ..."}
- 質問、紹介、問い合わせ: {"intent": "question", "query": "ユーザー入力"}
- ファイルアップロード: {"intent": "file_upload", "file_type": "ファイル種類"}
- 確認応答: {"intent": "confirmation", "response": true/false}
- メニューに戻る: {"intent": "return_to_menu"}
- 他: {"intent": "unknown"}

# 出力形式
JSON形式のみを出力してください。
`

// Result is the parsed classifier answer. Only Intent is always populated;
// the remaining fields depend on the intent kind.
type Result struct {
	Intent   string `json:"intent"`
	TaskName string `json:"task_name,omitempty"`
	Query    string `json:"query,omitempty"`
	FileType string `json:"file_type,omitempty"`
	Response *bool  `json:"response,omitempty"`
}

type exchange struct {
	role    string
	content string
}

// Classifier asks an LLM for the intent of each message and remembers the
// outcome so later classifications see recent context.
type Classifier struct {
	client llm.Client
	log    *logger.Logger

	mu     sync.Mutex
	memory []exchange
}

// NewClassifier creates a classifier backed by the given LLM client.
func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{
		client: client,
		log:    logger.Global().WithPrefix("intent"),
	}
}

// Classify determines the intent of userInput. Transport failures are
// returned as errors; a response that cannot be parsed as intent JSON
// degrades to Unknown instead. The input and the resolved intent are
// recorded in the context window for subsequent calls.
func (c *Classifier) Classify(ctx context.Context, userInput string, taskNames []string) (*Result, error) {
	prompt := c.buildPrompt(userInput, taskNames)
	c.log.Debug("classifying message: %s", userInput)

	raw, err := c.client.Complete(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("intent classification failed: %w", err)
	}

	var result Result
	if err := llm.ExtractJSON(raw, &result); err != nil {
		c.log.Warn("intent response was not valid JSON, falling back to unknown: %v", err)
		result = Result{Intent: Unknown}
	}
	if result.Intent == "" {
		result.Intent = Unknown
	}
	c.log.Debug("classified intent: %s", result.Intent)

	c.remember(userInput, result.Intent)
	return &result, nil
}

func (c *Classifier) buildPrompt(userInput string, taskNames []string) string {
	c.mu.Lock()
	recent := c.memory
	if len(recent) > consts.IntentMemoryExchanges {
		recent = recent[len(recent)-consts.IntentMemoryExchanges:]
	}
	lines := make([]string, 0, len(recent))
	for _, h := range recent {
		lines = append(lines, h.role+": "+h.content)
	}
	c.mu.Unlock()

	history := strings.Join(lines, "\n")
	tasks := strings.Join(taskNames, " | ")
	return fmt.Sprintf(promptTemplate, history, userInput, tasks)
}

func (c *Classifier) remember(userInput, resolvedIntent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory = append(c.memory,
		exchange{role: "human", content: userInput},
		exchange{role: "AI", content: "意図=" + resolvedIntent},
	)
}
