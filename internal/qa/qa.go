// Package qa answers free-form questions about payroll tasks from the rule
// documents. Relevant rule passages are retrieved by keyword overlap and
// handed to the model as context.
package qa

import (
	"context"
	"fmt"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/rules"
)

// answerSuffix is appended to every question so task introductions always
// include the file definitions the user needs for the next step.
const answerSuffix = "(タスクを紹介する場合必ず定義を含め)"

const answerTemplate = "You are an assistant for question-answering tasks. Use the following pieces of retrieved context to answer the question. If you don't know the answer, just say that you don't know. Use three sentences maximum and keep the answer concise.\nQuestion: %s \nContext: %s \nAnswer:"

// Engine answers questions about tasks and their processing rules.
type Engine struct {
	client llm.Client
	loader *rules.Loader
	log    *logger.Logger
}

// New creates a question answering engine over the given rule corpus.
func New(client llm.Client, loader *rules.Loader) *Engine {
	return &Engine{
		client: client,
		loader: loader,
		log:    logger.Global().WithPrefix("qa"),
	}
}

// Answer retrieves the rule passages most relevant to the question and has
// the model answer from them. An empty rule directory is an error the user
// sees as-is.
func (e *Engine) Answer(ctx context.Context, question string) (string, error) {
	docs, err := e.loader.Documents()
	if err != nil {
		return "", err
	}

	chunks := splitDocuments(docs)
	top := rankChunks(chunks, question, retrieveChunks)
	e.log.Debug("retrieved %d of %d chunks for question", len(top), len(chunks))

	parts := make([]string, 0, len(top))
	for _, c := range top {
		parts = append(parts, c.text)
	}
	prompt := fmt.Sprintf(answerTemplate, question+answerSuffix, strings.Join(parts, "\n\n"))

	resp, err := e.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:    []*llm.Message{{Role: "user", Content: prompt}},
		Temperature: consts.DefaultTemperature,
		MaxTokens:   consts.DefaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("rule lookup failed: %w", err)
	}

	return strings.TrimSpace(resp.Content), nil
}
