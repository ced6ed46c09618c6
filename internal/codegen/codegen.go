// Package codegen turns a task's rule text plus the schemas of its loaded
// tables into a prompt for LLM code generation, and extracts the generated
// Go source from the response. The generated function receives one staff
// code and every table as string-celled rows; compiling and running it is
// the runner package's job.
package codegen

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

const systemTemplate = `以下のデータフレーム情報があります：
%s

Based on a user's request about the data, generate Go code that uses only built-in Go libraries.
1. 必要なimport文をコード冒頭に含める
2. データ型や欠損値の処理を正しく行う（セル値はすべて文字列、数値は strconv で変換する）
3. 中間結果は行スライス ([]map[string]string) を活用し保持
4. 出力は一切の説明文無しで純粋なGoコードのみ
5. 作成する関数名は '%s'（引数は '社員番号'(staffCode string) と 'df_dict'(map[string][]map[string]string)、戻り値は []map[string]string）
6. 現在日付は %s (YYYY-MM-DD)
`

// Schema is one table's name and rendered structure as shown to the model.
type Schema struct {
	Name string
	Info string
}

// SchemaFromFrame renders a frame's shape, columns and inferred dtypes.
func SchemaFromFrame(name string, f *tabular.Frame) Schema {
	var b strings.Builder
	fmt.Fprintf(&b, "%d entries, %d columns\n", f.RowCount(), len(f.Columns))
	dtypes := f.DTypes()
	for _, col := range f.Columns {
		fmt.Fprintf(&b, "%s  %s\n", col, dtypes[col])
	}
	return Schema{Name: name, Info: b.String()}
}

func schemaContext(schemas []Schema) string {
	blocks := make([]string, 0, len(schemas))
	for _, s := range schemas {
		blocks = append(blocks, fmt.Sprintf("```\n%s.info()\n>>> %s\n```", s.Name, s.Info))
	}
	return strings.Join(blocks, "\n\n")
}

// Request carries everything a generation prompt is built from.
type Request struct {
	RuleText     string
	FunctionName string
	CurrentDate  string
	Schemas      []Schema
}

// Generator asks an LLM for data-processing code.
type Generator struct {
	client llm.Client
	log    *logger.Logger
}

// NewGenerator creates a generator backed by the given LLM client.
func NewGenerator(client llm.Client) *Generator {
	return &Generator{
		client: client,
		log:    logger.Global().WithPrefix("codegen"),
	}
}

// Generate produces Go source defining the requested function. The rule
// text forms the user message; schemas, function name and current date go
// into the system prompt. Responses are expected to contain the source
// either bare or fenced; the defined function is verified by name.
func (g *Generator) Generate(ctx context.Context, req *Request) (string, error) {
	functionName := req.FunctionName
	if functionName == "" {
		functionName = "my_function"
	}
	currentDate := req.CurrentDate
	if currentDate == "" {
		currentDate = time.Now().Format("2006-01-02")
	}

	system := fmt.Sprintf(systemTemplate, schemaContext(req.Schemas), functionName, currentDate)

	total, approx := estimatePromptTokens(g.client.GetModelName(), system, req.RuleText)
	if approx {
		g.log.Debug("no exact encoding for model %s, token estimate is approximate", g.client.GetModelName())
	}
	if total > consts.MaxPromptTokens {
		return "", fmt.Errorf("generation prompt needs %d tokens, limit is %d", total, consts.MaxPromptTokens)
	}
	g.log.Debug("generating %s (~%d prompt tokens)", functionName, total)

	resp, err := g.client.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: req.RuleText}},
		SystemPrompt: system,
		Temperature:  consts.DefaultTemperature,
		MaxTokens:    consts.DefaultMaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("code generation failed: %w", err)
	}

	source := llm.ExtractCodeBlock(resp.Content, "go")
	if !strings.Contains(source, "func "+functionName) {
		return "", fmt.Errorf("generated code does not define func %s", functionName)
	}
	return source, nil
}
