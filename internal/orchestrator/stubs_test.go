package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/codegen"
	"github.com/formai-apps/kyuyoagent/internal/intent"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/store"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// testCatalog mirrors a small deployment: 勤怠集計 chains into
// 給与計算(A形式) through the 集計済み勤怠 hand-off file, 賞与計算 stands
// alone and 空タスク has no files at all.
func testCatalog() *catalog.Catalog {
	return catalog.New([]catalog.TaskDefinition{
		{
			Name:        "勤怠集計",
			Description: "勤怠記録を月次で集計します。",
			Files: []catalog.FileSpec{
				{Name: "スタッフ一覧", Definition: "スタッフ一覧定義", IsOutput: true},
				{Name: "勤怠記録", Definition: "勤怠記録定義"},
			},
			Rule:                   "勤怠集計ルール",
			NextTaskName:           "給与計算(A形式)",
			NextTaskFile:           "集計済み勤怠",
			NextTaskFileDefinition: "集計済み勤怠定義",
		},
		{
			Name:        "給与計算(A形式)",
			Description: "A形式の給与を計算します。",
			Files: []catalog.FileSpec{
				{Name: "給与台帳", Definition: "給与台帳定義", IsOutput: true},
				{Name: "集計済み勤怠", Definition: "集計済み勤怠定義"},
			},
			Rule: "給与計算ルール",
		},
		{
			Name:        "賞与計算",
			Description: "賞与を計算します。",
			Files: []catalog.FileSpec{
				{Name: "賞与対象者", Definition: "賞与対象者定義", IsOutput: true},
			},
			Rule: "賞与計算ルール",
		},
		{
			Name:        "空タスク",
			Description: "ファイルを持たないタスク。",
			Rule:        "空ルール",
		},
	})
}

type stubClassifier struct {
	classifyFn func(ctx context.Context, userInput string, taskNames []string) (*intent.Result, error)
}

func (s *stubClassifier) Classify(ctx context.Context, userInput string, taskNames []string) (*intent.Result, error) {
	return s.classifyFn(ctx, userInput, taskNames)
}

type stubGenerator struct {
	generateFn func(ctx context.Context, req *codegen.Request) (string, error)
	requests   []*codegen.Request
}

func (s *stubGenerator) Generate(ctx context.Context, req *codegen.Request) (string, error) {
	s.requests = append(s.requests, req)
	return s.generateFn(ctx, req)
}

type stubProgram struct {
	runFn  func(ctx context.Context, staffCode string) (*tabular.Frame, error)
	closed bool
}

func (p *stubProgram) Run(ctx context.Context, staffCode string) (*tabular.Frame, error) {
	return p.runFn(ctx, staffCode)
}

func (p *stubProgram) Close(ctx context.Context) error {
	p.closed = true
	return nil
}

type stubBuilder struct {
	buildFn func(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (session.Program, error)
	builds  int
}

func (s *stubBuilder) Build(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (session.Program, error) {
	s.builds++
	return s.buildFn(ctx, source, functionName, frames)
}

type stubValidator struct {
	matchFn    func(path, taskName string, spec catalog.FileSpec) (*tabular.Frame, []string, error)
	identifyFn func(path string, cat *catalog.Catalog) string
}

func (s *stubValidator) Match(path, taskName string, spec catalog.FileSpec) (*tabular.Frame, []string, error) {
	return s.matchFn(path, taskName, spec)
}

func (s *stubValidator) Identify(path string, cat *catalog.Catalog) string {
	if s.identifyFn != nil {
		return s.identifyFn(path, cat)
	}
	return "不明なファイルです。"
}

// memStore keeps frames by definition in memory, with injectable failures.
type memStore struct {
	frames    map[string]*tabular.Frame
	saves     []store.SaveRequest
	existsErr error
	loadErr   error
	saveErr   error
}

func newMemStore() *memStore {
	return &memStore{frames: make(map[string]*tabular.Frame)}
}

func (m *memStore) Save(req store.SaveRequest) (int64, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	m.frames[req.Definition] = req.Frame
	m.saves = append(m.saves, req)
	return int64(len(m.saves)), nil
}

func (m *memStore) LoadByDefinition(definition string) (*tabular.Frame, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	f, ok := m.frames[definition]
	if !ok {
		return nil, fmt.Errorf("ファイル定義「%s」のデータが見つかりません", definition)
	}
	return f, nil
}

func (m *memStore) ExistsDefinition(definition string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	_, ok := m.frames[definition]
	return ok, nil
}

func (m *memStore) DeleteAll() error {
	m.frames = make(map[string]*tabular.Frame)
	return nil
}

type stubRules struct {
	texts map[string]string
	err   error
}

func (s *stubRules) Load(name string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	text, ok := s.texts[name]
	if !ok {
		return "", fmt.Errorf("ルール「%s」が見つかりません", name)
	}
	return text, nil
}

type stubQA struct {
	answerFn func(ctx context.Context, question string) (string, error)
}

func (s *stubQA) Answer(ctx context.Context, question string) (string, error) {
	return s.answerFn(ctx, question)
}

type stubChat struct {
	completeFn func(req *llm.CompletionRequest) (*llm.CompletionResponse, error)
	requests   []*llm.CompletionRequest
}

func (s *stubChat) CompleteWithRequest(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
	s.requests = append(s.requests, req)
	return s.completeFn(req)
}

func (s *stubChat) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.CompleteWithRequest(ctx, &llm.CompletionRequest{
		Messages: []*llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func (s *stubChat) Stream(ctx context.Context, req *llm.CompletionRequest, callback func(chunk string) error) error {
	resp, err := s.CompleteWithRequest(ctx, req)
	if err != nil {
		return err
	}
	return callback(resp.Content)
}

func (s *stubChat) GetModelName() string { return "stub" }

// staffFrame builds a table whose スタッフコード column holds codes.
func staffFrame(codes ...string) *tabular.Frame {
	f := tabular.New([]string{tabular.StaffCodeColumn, "氏名"})
	for i, code := range codes {
		f.AppendRow(tabular.Row{
			tabular.StaffCodeColumn: code,
			"氏名":                    fmt.Sprintf("社員%d", i+1),
		})
	}
	return f
}

// resultFrame is the shape the stub program produces per staff code.
func resultFrame(code string) *tabular.Frame {
	f := tabular.New([]string{tabular.StaffCodeColumn, "支給額"})
	f.AppendRow(tabular.Row{tabular.StaffCodeColumn: code, "支給額": "250000"})
	return f
}

// fixture wires an orchestrator whose collaborators all succeed. Tests
// override individual stubs to steer a scenario.
type fixture struct {
	orch       *Orchestrator
	sess       *session.Session
	classifier *stubClassifier
	generator  *stubGenerator
	builder    *stubBuilder
	validator  *stubValidator
	store      *memStore
	rules      *stubRules
	qa         *stubQA
	chat       *stubChat
	outputDir  string
}

// The default classifier understands two scripted shapes: upload messages
// carry the file prefix, "タスク:" messages start the named tasks.
func defaultClassify(ctx context.Context, userInput string, taskNames []string) (*intent.Result, error) {
	trimmed := strings.TrimSpace(userInput)
	if strings.HasPrefix(trimmed, fileMessagePrefix) {
		return &intent.Result{Intent: intent.FileUpload}, nil
	}
	if rest, ok := strings.CutPrefix(trimmed, "タスク:"); ok {
		return &intent.Result{Intent: intent.TaskStart, TaskName: rest}, nil
	}
	return &intent.Result{Intent: intent.Unknown}, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithCatalog(t, testCatalog())
}

func newFixtureWithCatalog(t *testing.T, cat *catalog.Catalog) *fixture {
	t.Helper()
	f := &fixture{
		classifier: &stubClassifier{classifyFn: defaultClassify},
		generator: &stubGenerator{
			generateFn: func(ctx context.Context, req *codegen.Request) (string, error) {
				return "package main", nil
			},
		},
		validator: &stubValidator{
			matchFn: func(path, taskName string, spec catalog.FileSpec) (*tabular.Frame, []string, error) {
				return staffFrame("1001", "1002"), nil, nil
			},
		},
		store: newMemStore(),
		rules: &stubRules{texts: map[string]string{
			"勤怠集計ルール": "所定労働時間を超えた分を残業とする。",
			"給与計算ルール": "基本給に残業手当を加算する。",
			"賞与計算ルール": "基本給の2ヶ月分を支給する。",
			"空ルール":    "なし。",
		}},
		qa: &stubQA{answerFn: func(ctx context.Context, question string) (string, error) {
			return "回答です。", nil
		}},
		chat: &stubChat{completeFn: func(req *llm.CompletionRequest) (*llm.CompletionResponse, error) {
			return &llm.CompletionResponse{Content: "列の関係の分析です。"}, nil
		}},
		outputDir: t.TempDir(),
	}
	f.builder = &stubBuilder{
		buildFn: func(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (session.Program, error) {
			return &stubProgram{runFn: func(ctx context.Context, staffCode string) (*tabular.Frame, error) {
				return resultFrame(staffCode), nil
			}}, nil
		},
	}
	f.orch = New(Deps{
		Catalog:    cat,
		Classifier: f.classifier,
		Generator:  f.generator,
		Builder:    f.builder,
		Chat:       f.chat,
		Validator:  f.validator,
		Store:      f.store,
		Rules:      f.rules,
		QA:         f.qa,
		OutputDir:  f.outputDir,
	})
	f.orch.now = func() time.Time {
		return time.Date(2024, 4, 25, 10, 30, 0, 0, time.UTC)
	}
	f.sess = session.New()
	return f
}

func (f *fixture) send(t *testing.T, message string) Reply {
	t.Helper()
	return f.orch.ProcessMessage(context.Background(), f.sess, message)
}

// uploadFile sends a file-upload message pointing at a real temp CSV.
func (f *fixture) uploadFile(t *testing.T) Reply {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte("スタッフコード,氏名\n1001,山田\n1002,佐藤\n"), 0644))
	return f.send(t, fileMessagePrefix+path)
}

// joined flattens a reply for substring assertions.
func joined(r Reply) string {
	return strings.Join(r.Messages, "\n")
}

var errBoom = errors.New("boom")
