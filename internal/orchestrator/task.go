package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/codegen"
	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/store"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

const (
	msgAwaitingYes        = "「Yes」のメッセージをお待ちしています"
	msgProcessingStopped  = "処理を終了します。"
	msgOutputFileRequired = "出力用のファイルの存在が必要です。処理終了します。"
	msgAllStepsDone       = "すべてのステップが完了しました。"
	msgMultipleOutputs    = "複数のファイルが同時に出力用となっていますが、1つのみが想定されています。処理終了します。"
	msgStaffCodesMissing  = "「スタッフコード」の取得に失敗しました。"
	msgNoResults          = "処理に失敗しました。データの処理結果がありません。"
	msgTestInputInvalid   = "有効な「スタッフコード」または「Yes」を入力してください"
)

const analysisQuestion = "これらのファイルの列名の関係を日本語で分析してください。"

const analysisSystemTemplate = "以下のデータフレームに関する情報があります：\n%s\n上記を参考にユーザーの質問に答えてください。\n"

// Confirmation vocabularies, matched against the lowercased trimmed
// message. The empty message counts as yes.
var (
	yesWords  = []string{"", "yes", "1", "true", "y", "はい", "そうです"}
	noWords   = []string{"no", "0", "false", "いいえ"}
	skipWords = []string{"スキップ", "skip"}
)

var staffCodePattern = regexp.MustCompile(`^\d+$`)

func containsWord(words []string, v string) bool {
	for _, w := range words {
		if v == w {
			return true
		}
	}
	return false
}

func isYes(v string) bool  { return containsWord(yesWords, v) }
func isNo(v string) bool   { return containsWord(noWords, v) }
func isSkip(v string) bool { return containsWord(skipWords, v) }

// taskRun binds a task's catalogue definition and runtime state to the
// orchestrator's capabilities for the duration of one message.
type taskRun struct {
	o     *Orchestrator
	def   *catalog.TaskDefinition
	state *session.TaskState
}

func (o *Orchestrator) taskRunFor(s *session.Session, name string) (*taskRun, bool) {
	if name == "" {
		return nil, false
	}
	def, ok := o.catalog.Task(name)
	if !ok {
		return nil, false
	}
	return &taskRun{o: o, def: def, state: s.Task(name)}, true
}

// functionName is the stable entry point name of the task's generated
// code, derived from the catalogue position.
func (r *taskRun) functionName() string {
	return fmt.Sprintf("data_processing_%d", r.o.catalog.Index(r.def.Name))
}

// ProcessMessage advances the task with one user message. A task without
// required files can never produce output and fails up front; answering
// no aborts from any step.
func (r *taskRun) ProcessMessage(ctx context.Context, message string) Reply {
	if len(r.def.RequiredFiles()) == 0 {
		return Reply{Messages: []string{msgOutputFileRequired}, Signal: SignalEarlyExit}
	}
	normalized := strings.ToLower(strings.TrimSpace(message))
	if isNo(normalized) {
		return Reply{Messages: []string{msgProcessingStopped}, Signal: SignalEarlyExit}
	}
	if r.state.FastMode {
		return r.processFast(ctx, normalized)
	}
	return r.processNormal(ctx, message, normalized)
}

func (r *taskRun) processNormal(ctx context.Context, message, normalized string) Reply {
	switch r.state.Step {
	case session.StepPrepare:
		if !isYes(normalized) {
			return Reply{Messages: []string{msgAwaitingYes}}
		}
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{prompt}, Signal: sig}
	case session.StepFile:
		return r.loadFiles(ctx)
	case session.StepAnalysis:
		return r.analyze(ctx, normalized)
	case session.StepProcess:
		if !isYes(normalized) {
			return Reply{Messages: []string{msgAwaitingYes}}
		}
		return r.generate(ctx)
	case session.StepTest:
		return r.test(ctx, strings.TrimSpace(message))
	case session.StepWork:
		if !isYes(normalized) {
			return Reply{Messages: []string{msgAwaitingYes}}
		}
		return r.work(ctx)
	case session.StepRevise:
		return r.revise(ctx, normalized)
	case session.StepContinue:
		if !isYes(normalized) {
			return Reply{Messages: []string{msgAwaitingYes}}
		}
		return Reply{
			Messages: []string{fmt.Sprintf("次のタスク「%s」に進みます", r.def.NextTaskName)},
			Signal:   SignalNextTask,
		}
	default:
		return Reply{Messages: []string{msgAllStepsDone}, Signal: SignalOver}
	}
}

// processFast runs the compressed pipeline: prepare and file advance on
// any non-no message, process generates and runs in one shot.
func (r *taskRun) processFast(ctx context.Context, normalized string) Reply {
	switch r.state.Step {
	case session.StepPrepare:
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{prompt}, Signal: sig}
	case session.StepFile:
		return r.loadFiles(ctx)
	case session.StepProcess:
		return r.fastProcess(ctx)
	default:
		return Reply{Signal: SignalOver}
	}
}

// advance moves to the next step of the active order.
func (r *taskRun) advance() {
	r.state.Step = session.AdvanceStep(r.state.Step, r.state.FastMode)
}

// NextStep advances and returns the new step's prompt and signal.
func (r *taskRun) NextStep() (string, Signal) {
	r.advance()
	return r.stepPrompt(r.state.Step)
}

// CurrentStep returns the pending step's prompt and signal without
// advancing.
func (r *taskRun) CurrentStep() (string, Signal) {
	return r.stepPrompt(r.state.Step)
}

func (r *taskRun) stepPrompt(step session.Step) (string, Signal) {
	switch step {
	case session.StepPrepare:
		return "タスクの処理を開始しますか？", Signal(session.StepPrepare)
	case session.StepFile:
		return "ファイルをファイルエージェントにチェックします。", Signal(session.StepFile)
	case session.StepAnalysis:
		return "分析を開始しますか？(Yes/スキップを入力)", Signal(session.StepAnalysis)
	case session.StepProcess:
		if r.state.FastMode {
			return fmt.Sprintf("以下のルールで処理を開始します:\n\n%s\nしばらくお待ちください", r.state.RuleText),
				Signal(session.StepProcess)
		}
		return fmt.Sprintf("以下のルールで処理を開始しますか？(Yes/no)\n\n%s", r.state.RuleText),
			Signal(session.StepProcess)
	case session.StepTest:
		return "指定した1つのスタッフコードのテストをスキップしますか？(Yes / スタッフコード)", Signal(session.StepTest)
	case session.StepWork:
		return "出力用のスタッフコードに使用しますか？(Yes/no)", Signal(session.StepWork)
	case session.StepRevise:
		return "もう一度試す必要がありますか？(Yes/「スキップ」を入力)", Signal(session.StepRevise)
	case session.StepContinue:
		return fmt.Sprintf("次のタスク「%s」に進みますか？(Yes/no)", r.def.NextTaskName), Signal(session.StepContinue)
	default:
		return "", SignalOver
	}
}

// fatal ends the task and leaves the pipeline.
func (r *taskRun) fatal(message string) Reply {
	r.state.Step = session.StepOver
	return Reply{Messages: []string{message}, Signal: SignalEarlyExit}
}

// loadFiles pulls every collected table from storage into the task, keyed
// by display name, and takes the staff codes from the output file. A
// second output file is a configuration fault that ends the task.
func (r *taskRun) loadFiles(ctx context.Context) Reply {
	specs := append(r.def.RequiredFiles(), r.def.OptionalFiles()...)
	for _, spec := range specs {
		frame, err := r.o.store.LoadByDefinition(spec.Definition)
		if err != nil {
			return r.fatal(fmt.Sprintf("エラー: %v。\n処理を終了します。", err))
		}
		r.state.Frames[spec.Name] = frame
		if spec.IsOutput {
			if r.state.StaffCodes != nil {
				r.state.Step = session.StepOver
				return Reply{Messages: []string{msgMultipleOutputs}, Signal: SignalOver}
			}
			codes, err := tabular.StaffCodes(frame)
			if err != nil {
				return r.fatal(fmt.Sprintf("エラー: %v。\n処理を終了します。", err))
			}
			r.state.StaffCodes = codes
		}
	}
	if r.state.FastMode {
		text, err := r.o.rules.Load(r.def.Rule)
		if err != nil {
			return r.fatal(fmt.Sprintf("エラー: %v。\n処理を終了します。", err))
		}
		r.state.RuleText = text
	}
	prompt, sig := r.NextStep()
	return Reply{Messages: []string{fmt.Sprintf("ファイルチェック完了。\n次のステップ: %s", prompt)}, Signal: sig}
}

type namedFrame struct {
	name  string
	frame *tabular.Frame
}

// orderedFrames returns the loaded tables in catalogue file order.
func (r *taskRun) orderedFrames() []namedFrame {
	specs := append(r.def.RequiredFiles(), r.def.OptionalFiles()...)
	out := make([]namedFrame, 0, len(specs))
	for _, spec := range specs {
		if f, ok := r.state.Frames[spec.Name]; ok {
			out = append(out, namedFrame{name: spec.Name, frame: f})
		}
	}
	return out
}

// analyze handles the analysis step: skip loads the rule and moves on, yes
// summarizes the column relations first. Tables without numeric columns
// additionally get their own summary.
func (r *taskRun) analyze(ctx context.Context, normalized string) Reply {
	if isSkip(normalized) {
		text, err := r.o.rules.Load(r.def.Rule)
		if err != nil {
			return Reply{Messages: []string{fmt.Sprintf("エラーが発生しました: %v", err)}, Signal: SignalEarlyExit}
		}
		r.state.RuleText = text
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{prompt}, Signal: sig}
	}
	if !isYes(normalized) {
		return Reply{Messages: []string{msgAwaitingYes}}
	}
	summary, err := r.analyzeColumns(ctx)
	if err != nil {
		return Reply{Messages: []string{fmt.Sprintf("エラーが発生しました: %v", err)}, Signal: SignalEarlyExit}
	}
	text, err := r.o.rules.Load(r.def.Rule)
	if err != nil {
		return Reply{Messages: []string{fmt.Sprintf("エラーが発生しました: %v", err)}, Signal: SignalEarlyExit}
	}
	r.state.RuleText = text

	messages := []string{fmt.Sprintf("全体の分析結果: \n %s", summary)}
	for _, nf := range r.orderedFrames() {
		if nf.frame.HasNumericColumns() {
			continue
		}
		messages = append(messages, fmt.Sprintf("%sの分析結果:", nf.name), nf.frame.Describe())
	}
	prompt, sig := r.NextStep()
	messages = append(messages, fmt.Sprintf("次のステップ: %s", prompt))
	return Reply{Messages: messages, Signal: sig}
}

// analyzeColumns asks the chat model how the loaded tables' columns
// relate, with each table's column list as context.
func (r *taskRun) analyzeColumns(ctx context.Context) (string, error) {
	if r.o.chat == nil {
		return "", fmt.Errorf("chat model is not configured")
	}
	frames := r.orderedFrames()
	blocks := make([]string, 0, len(frames))
	for _, nf := range frames {
		blocks = append(blocks, fmt.Sprintf("```\n%s.columns\n>>> %s\n```", nf.name, strings.Join(nf.frame.Columns, ", ")))
	}
	system := fmt.Sprintf(analysisSystemTemplate, strings.Join(blocks, "\n\n"))
	resp, err := r.o.chat.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages:     []*llm.Message{{Role: "user", Content: analysisQuestion}},
		SystemPrompt: system,
		Temperature:  consts.DefaultTemperature,
		MaxTokens:    consts.DefaultMaxTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

// generate builds the processing program for the normal pipeline.
func (r *taskRun) generate(ctx context.Context) Reply {
	if err := r.buildProgram(ctx); err != nil {
		return r.fatalGeneration(err)
	}
	prompt, sig := r.NextStep()
	return Reply{Messages: []string{fmt.Sprintf("処理の準備が完了しました。\n\n次のステップ: %s", prompt)}, Signal: sig}
}

func (r *taskRun) fatalGeneration(err error) Reply {
	r.state.Step = session.StepOver
	return Reply{Messages: []string{fmt.Sprintf("エラーが発生しました: %v", err)}, Signal: SignalEarlyExit}
}

// buildProgram regenerates the processing function from the rule text and
// swaps it in, closing any previous build.
func (r *taskRun) buildProgram(ctx context.Context) error {
	frames := r.orderedFrames()
	schemas := make([]codegen.Schema, 0, len(frames))
	for _, nf := range frames {
		schemas = append(schemas, codegen.SchemaFromFrame(nf.name, nf.frame))
	}
	source, err := r.o.generator.Generate(ctx, &codegen.Request{
		RuleText:     r.state.RuleText,
		FunctionName: r.functionName(),
		CurrentDate:  r.state.CurrentDate,
		Schemas:      schemas,
	})
	if err != nil {
		return err
	}
	program, err := r.o.builder.Build(ctx, source, r.functionName(), r.state.Frames)
	if err != nil {
		return err
	}
	if r.state.Program != nil {
		r.state.Program.Close(ctx)
	}
	r.state.Source = source
	r.state.Program = program
	return nil
}

// test runs the program for one staff code so the user can inspect the
// output before the full batch. Yes skips the test.
func (r *taskRun) test(ctx context.Context, cleaned string) Reply {
	if isYes(strings.ToLower(cleaned)) {
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{fmt.Sprintf("テストをスキップします\n\n次のステップ: %s", prompt)}, Signal: sig}
	}
	if !staffCodePattern.MatchString(cleaned) {
		return Reply{Messages: []string{msgTestInputInvalid}}
	}
	if r.state.Program == nil {
		return r.fatalTest(fmt.Errorf("処理関数がありません"))
	}
	result, err := r.state.Program.Run(ctx, cleaned)
	if err != nil {
		return r.fatalTest(err)
	}
	prompt, sig := r.NextStep()
	return Reply{
		Messages: []string{fmt.Sprintf("テスト結果:\n%s\n\n次のステップ: %s", renderFrame(result), prompt)},
		Signal:   sig,
	}
}

func (r *taskRun) fatalTest(err error) Reply {
	r.state.Step = session.StepOver
	return Reply{Messages: []string{fmt.Sprintf("テスト実行中にエラーが発生しました: %v", err)}, Signal: SignalEarlyExit}
}

// work runs the batch over every staff code. Per-code failures are
// collected, never aborting the batch; a clean run skips the revise step.
func (r *taskRun) work(ctx context.Context) Reply {
	if r.state.StaffCodes == nil {
		return Reply{Messages: []string{msgStaffCodesMissing}}
	}
	results, errs := r.runAll(ctx)
	r.state.Results = results
	r.state.RunErrors = errs
	if len(results) == 0 {
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{msgNoResults, prompt}, Signal: sig}
	}
	final := tabular.Concat(results)
	saveMsg := r.saveResult(final)
	messages := []string{
		fmt.Sprintf("処理が完了しました。\n処理件数: %d\nエラー件数: %d", len(results), len(errs)),
		fmt.Sprintf("エラー詳細:\n%s\n%s", strings.Join(errs, "\n"), saveMsg),
	}
	if len(errs) == 0 {
		r.advance()
	}
	prompt, sig := r.NextStep()
	if prompt != "" {
		messages = append(messages, prompt)
	}
	return Reply{Messages: messages, Signal: sig}
}

// runAll executes the generated program for every staff code.
func (r *taskRun) runAll(ctx context.Context) ([]*tabular.Frame, []string) {
	var results []*tabular.Frame
	var errs []string
	for _, code := range r.state.StaffCodes {
		if r.state.Program == nil {
			errs = append(errs, fmt.Sprintf("スタッフコード %s: 処理関数がありません", code))
			continue
		}
		frame, err := r.state.Program.Run(ctx, code)
		if err != nil {
			errs = append(errs, fmt.Sprintf("スタッフコード %s: %v", code, err))
			continue
		}
		results = append(results, frame)
	}
	r.o.log.Debug("batch for %s: %d results, %d errors", r.def.Name, len(results), len(errs))
	return results, errs
}

// revise retries the batch with freshly generated code, or skips ahead.
func (r *taskRun) revise(ctx context.Context, normalized string) Reply {
	if isSkip(normalized) {
		prompt, sig := r.NextStep()
		return Reply{Messages: []string{prompt}, Signal: sig}
	}
	if !isYes(normalized) {
		return Reply{Messages: []string{msgAwaitingYes}}
	}
	return r.tryAgain(ctx)
}

// tryAgain regenerates and reruns. The task stays on revise while errors
// remain and moves on once the batch is clean.
func (r *taskRun) tryAgain(ctx context.Context) Reply {
	if err := r.buildProgram(ctx); err != nil {
		prompt, sig := r.CurrentStep()
		return Reply{
			Messages: []string{fmt.Sprintf("データ処理中にエラーが発生しました: %v\n\n%s", err, prompt)},
			Signal:   sig,
		}
	}
	results, errs := r.runAll(ctx)
	r.state.Results = results
	r.state.RunErrors = errs
	if len(results) == 0 {
		prompt, sig := r.CurrentStep()
		return Reply{Messages: []string{fmt.Sprintf("%s\n%s", msgNoResults, prompt)}, Signal: sig}
	}
	final := tabular.Concat(results)
	saveMsg := r.saveResult(final)
	parts := []string{
		fmt.Sprintf("処理が完了。処理件数: %d, エラー件数: %d", len(results), len(errs)),
		fmt.Sprintf("エラー詳細:\n%s\n%s", strings.Join(errs, "\n"), saveMsg),
	}
	var prompt string
	var sig Signal
	if len(errs) != 0 {
		prompt, sig = r.CurrentStep()
	} else {
		prompt, sig = r.NextStep()
	}
	if prompt != "" {
		parts = append(parts, prompt)
	}
	return Reply{Messages: []string{strings.Join(parts, "\n")}, Signal: sig}
}

// fastProcess generates and runs in one shot with a bounded retry: the
// first attempt must come back error-free, the last accepts any results at
// all.
func (r *taskRun) fastProcess(ctx context.Context) Reply {
	for attempt := 1; attempt <= consts.MaxFastAttempts; attempt++ {
		last := attempt == consts.MaxFastAttempts
		if err := r.buildProgram(ctx); err != nil {
			if last {
				r.state.Step = session.StepOver
				return Reply{Messages: []string{fmt.Sprintf("エラー: %v", err), "処理を終了します"}, Signal: SignalEarlyExit}
			}
			r.o.log.Warn("fast attempt %d failed to build: %v", attempt, err)
			continue
		}
		results, errs := r.runAll(ctx)
		r.state.Results = results
		r.state.RunErrors = errs
		if len(results) > 0 && (len(errs) == 0 || last) {
			final := tabular.Concat(results)
			saveMsg := r.saveResult(final)
			r.state.Step = session.StepOver
			return Reply{Messages: []string{
				fmt.Sprintf("処理が完了しました。処理件数: %d, エラー件数: %d", len(results), len(errs)),
				fmt.Sprintf("エラー詳細:\n%s\n%s", strings.Join(errs, "\n"), saveMsg),
			}, Signal: SignalOver}
		}
		if len(results) == 0 && last {
			r.state.Step = session.StepOver
			return Reply{Messages: []string{"処理に失敗しました。結果がありません。", "終了します。"}, Signal: SignalEarlyExit}
		}
		r.o.log.Warn("fast attempt %d left %d errors, regenerating", attempt, len(errs))
	}
	r.state.Step = session.StepOver
	return Reply{Signal: SignalOver}
}

// saveResult writes the combined output as CSV under the output directory
// and, when a successor expects it, stores it under the successor's file
// definition. Save failures end the task; the returned message reports the
// outcome either way.
func (r *taskRun) saveResult(final *tabular.Frame) string {
	if err := os.MkdirAll(r.o.outputDir, 0755); err != nil {
		r.state.Step = session.StepOver
		return fmt.Sprintf("ファイル保存中にエラー: %v", err)
	}
	fileName := fmt.Sprintf("%s_%s.csv", r.def.Name, r.o.now().Format("20060102_150405"))
	filePath := filepath.Join(r.o.outputDir, fileName)
	if err := final.WriteCSV(filePath); err != nil {
		r.state.Step = session.StepOver
		return fmt.Sprintf("ファイル保存中にエラー: %v", err)
	}
	if r.def.NextTaskFileDefinition != "" {
		if _, err := r.o.store.Save(store.SaveRequest{
			Frame:        final,
			FileName:     r.def.NextTaskFile,
			FilePath:     filePath,
			OriginalName: fileName,
			Definition:   r.def.NextTaskFileDefinition,
			TaskName:     r.def.NextTaskName,
			Output:       r.def.NextTaskFileOutput,
		}); err != nil {
			r.state.Step = session.StepOver
			return fmt.Sprintf("ファイル保存中にエラー: %v", err)
		}
	}
	r.state.SavedResultPath = filePath
	r.o.log.Info("saved result of %s to %s", r.def.Name, filePath)
	return fmt.Sprintf("結果を %s に保存しました。", filePath)
}

// renderFrame formats a small frame for display: a header line, then
// tab-joined cells per row.
func renderFrame(f *tabular.Frame) string {
	if f == nil || len(f.Columns) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(strings.Join(f.Columns, "\t"))
	for _, row := range f.Rows {
		b.WriteString("\n")
		cells := make([]string, 0, len(f.Columns))
		for _, c := range f.Columns {
			cells = append(cells, row[c])
		}
		b.WriteString(strings.Join(cells, "\t"))
	}
	return b.String()
}
