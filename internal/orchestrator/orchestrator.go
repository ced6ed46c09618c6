// Package orchestrator drives the payroll conversation. It routes
// classified intents, collects the files the queued tasks need, confirms
// the processing date and steps the selected task through its execution
// pipeline. Handlers return operation signals; the ones that need no user
// input (file checks, fast-mode runs, task hand-offs) are consumed
// internally so one user message can traverse several steps.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/codegen"
	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/intent"
	"github.com/formai-apps/kyuyoagent/internal/llm"
	"github.com/formai-apps/kyuyoagent/internal/logger"
	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/store"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// Signal tells the caller what a reply did or is waiting for. Step prompts
// carry their step name; the remaining values mark routing and hand-off
// outcomes.
type Signal string

const (
	SignalNone      Signal = ""
	SignalSelection Signal = "selection"
	SignalError     Signal = "error"
	SignalEarlyExit Signal = "early exit"
	SignalOver      Signal = "over"
	SignalNextTask  Signal = "next_task"
)

// Reply is the ordered response to one user message. Messages accumulate
// across every step the message traversed; Signal describes where handling
// stopped.
type Reply struct {
	Messages []string
	Signal   Signal
}

const (
	msgTaskSelectFailed = "エラー: タスクの選択に失敗しました。"
	msgAllTasksDone     = "選んだタスクが終わりました。"
)

// IntentClassifier resolves a message to an intent given the known task
// names.
type IntentClassifier interface {
	Classify(ctx context.Context, userInput string, taskNames []string) (*intent.Result, error)
}

// CodeGenerator produces processing-function source for a rule.
type CodeGenerator interface {
	Generate(ctx context.Context, req *codegen.Request) (string, error)
}

// ProgramBuilder compiles generated source into a runnable program bound
// to the task's loaded tables.
type ProgramBuilder interface {
	Build(ctx context.Context, source, functionName string, frames map[string]*tabular.Frame) (session.Program, error)
}

// UploadValidator checks an uploaded file against the expected layout and
// identifies unknown files.
type UploadValidator interface {
	Match(path, taskName string, spec catalog.FileSpec) (*tabular.Frame, []string, error)
	Identify(path string, cat *catalog.Catalog) string
}

// TabularStore persists uploaded and produced tables by file definition.
type TabularStore interface {
	Save(req store.SaveRequest) (int64, error)
	LoadByDefinition(definition string) (*tabular.Frame, error)
	ExistsDefinition(definition string) (bool, error)
	DeleteAll() error
}

// RuleLoader reads a task's processing-rule document.
type RuleLoader interface {
	Load(name string) (string, error)
}

// Answerer handles free-form questions about tasks and rules.
type Answerer interface {
	Answer(ctx context.Context, question string) (string, error)
}

// Deps are the capabilities the orchestrator drives. All fields are
// required except Chat, without which the analysis step degrades to an
// error.
type Deps struct {
	Catalog    *catalog.Catalog
	Classifier IntentClassifier
	Generator  CodeGenerator
	Builder    ProgramBuilder
	Chat       llm.Client
	Validator  UploadValidator
	Store      TabularStore
	Rules      RuleLoader
	QA         Answerer
	OutputDir  string
}

// Orchestrator holds no per-conversation state; sessions are passed into
// ProcessMessage, so one orchestrator serves any number of them.
type Orchestrator struct {
	catalog    *catalog.Catalog
	classifier IntentClassifier
	generator  CodeGenerator
	builder    ProgramBuilder
	chat       llm.Client
	validator  UploadValidator
	store      TabularStore
	rules      RuleLoader
	qa         Answerer
	outputDir  string

	log *logger.Logger
	now func() time.Time
}

// New wires an orchestrator from its collaborators.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		catalog:    deps.Catalog,
		classifier: deps.Classifier,
		generator:  deps.Generator,
		builder:    deps.Builder,
		chat:       deps.Chat,
		validator:  deps.Validator,
		store:      deps.Store,
		rules:      deps.Rules,
		qa:         deps.QA,
		outputDir:  deps.OutputDir,
		log:        logger.Global().WithPrefix("orchestrator"),
		now:        time.Now,
	}
}

// ProcessMessage handles one user message for a session. The date and task
// phases bypass intent classification: everything the user types there is
// an answer to the pending prompt.
func (o *Orchestrator) ProcessMessage(ctx context.Context, s *session.Session, message string) Reply {
	switch s.Phase() {
	case session.PhaseDate:
		return o.pump(ctx, s, o.handleDateMessage(ctx, s, message))
	case session.PhaseTask:
		run, ok := o.taskRunFor(s, s.CurrentTask())
		if !ok {
			return Reply{Messages: []string{msgTaskSelectFailed}}
		}
		return o.pump(ctx, s, run.ProcessMessage(ctx, message))
	default:
		result, err := o.classifier.Classify(ctx, message, o.catalog.Names())
		if err != nil {
			o.log.Error("intent classification failed: %v", err)
			return Reply{Messages: []string{fmt.Sprintf("エラー: %v", err)}, Signal: SignalError}
		}
		o.log.Debug("intent %s in phase %s", result.Intent, s.Phase())
		return o.pump(ctx, s, o.routeIntent(ctx, s, result, message))
	}
}

// pump consumes the signals that advance without user input and folds
// every traversed message into one reply. The final signal is the one
// handling stopped on.
func (o *Orchestrator) pump(ctx context.Context, s *session.Session, first Reply) Reply {
	messages := first.Messages
	signal := first.Signal
	for i := 0; i < consts.MaxPumpIterations; i++ {
		followup, cont := o.followSignal(ctx, s, signal)
		messages = append(messages, followup.Messages...)
		if !cont {
			break
		}
		signal = followup.Signal
	}
	return Reply{Messages: messages, Signal: signal}
}

// followSignal performs the automatic continuation of one signal. The
// returned reply is appended either way; cont reports whether its signal
// should be followed further.
func (o *Orchestrator) followSignal(ctx context.Context, s *session.Session, sig Signal) (Reply, bool) {
	switch sig {
	case SignalSelection:
		if s.QueueLen() == 0 {
			return Reply{}, false
		}
		// A fresh selection starts a new execution round.
		s.SetDateStamped(false)
		return o.planFiles(ctx, s, false), true
	case SignalEarlyExit:
		s.SetPhase(session.PhaseChat)
		return Reply{}, false
	case SignalOver:
		if next, ok := s.Dequeue(); ok {
			return o.selectTask(ctx, s, next, nil, true), true
		}
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgAllTasksDone}}, false
	case SignalNextTask:
		return o.chainNextTask(ctx, s), true
	case Signal(session.StepFile):
		return o.feedTask(ctx, s, "yes")
	case Signal(session.StepProcess):
		if o.currentFast(s) {
			return o.feedTask(ctx, s, "yes")
		}
		return Reply{}, false
	default:
		return Reply{}, false
	}
}

// feedTask sends an automatic confirmation to the active task.
func (o *Orchestrator) feedTask(ctx context.Context, s *session.Session, message string) (Reply, bool) {
	run, ok := o.taskRunFor(s, s.CurrentTask())
	if !ok {
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgTaskSelectFailed}}, false
	}
	return run.ProcessMessage(ctx, message), true
}

func (o *Orchestrator) currentFast(s *session.Session) bool {
	name := s.CurrentTask()
	return name != "" && s.Task(name).FastMode
}

// replacedOutput carries a predecessor's saved result into its successor.
type replacedOutput struct {
	name string
	path string
}

// chainNextTask hands control to the configured successor, bypassing the
// queue. The predecessor's saved result is injected so file collection
// treats it as already uploaded.
func (o *Orchestrator) chainNextTask(ctx context.Context, s *session.Session) Reply {
	run, ok := o.taskRunFor(s, s.CurrentTask())
	if !ok || run.def.NextTaskName == "" {
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgTaskSelectFailed}}
	}
	prev := run.def
	saved := run.state.SavedResultPath
	chained := &replacedOutput{name: prev.NextTaskFile, path: saved}
	reply := o.selectTask(ctx, s, prev.NextTaskName, chained, true)
	if saved != "" {
		reply.Messages = append(reply.Messages,
			fmt.Sprintf("前回「%s」結果は「%s」に保存されてます。", prev.Name, saved))
	}
	return reply
}

// selectTask makes name the active task: fresh runtime state, an
// announcement and either the next file to upload or the pending step
// prompt. replan re-walks the file plan including the selected task's own
// files, which is how a re-selected or chained task collects anything it
// is still missing.
func (o *Orchestrator) selectTask(ctx context.Context, s *session.Session, name string, chained *replacedOutput, replan bool) Reply {
	def, ok := o.catalog.Task(name)
	if !ok {
		o.log.Warn("task selection failed: %q is not in the catalogue", name)
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgTaskSelectFailed}}
	}
	ts := s.Task(name)
	ts.Reset()
	if chained != nil {
		ts.ReplacedFileName = chained.name
		ts.ReplacedFilePath = chained.path
	}
	s.SetCurrentTask(name)
	s.SetPhase(session.PhaseTask)
	o.log.Info("task selected: %s (fast=%v)", name, ts.FastMode)

	messages := []string{fmt.Sprintf("選択されたタスク: %s\nタスクの説明: %s", def.Name, def.Description)}
	if replan {
		r := o.planFiles(ctx, s, true)
		return Reply{Messages: append(messages, r.Messages...), Signal: r.Signal}
	}
	run := &taskRun{o: o, def: def, state: ts}
	prompt, sig := run.CurrentStep()
	if prompt != "" {
		messages = append(messages, prompt)
	}
	return Reply{Messages: messages, Signal: sig}
}

// ResetSession starts the conversation over: every task's runtime state is
// dropped, queue and plan cleared, stored uploads wiped.
func (o *Orchestrator) ResetSession(s *session.Session) error {
	for _, name := range s.Tasks() {
		s.Task(name).Reset()
	}
	s.Reset()
	if err := o.store.DeleteAll(); err != nil {
		return fmt.Errorf("failed to clear stored files: %w", err)
	}
	o.log.Info("session %s reset", s.ID)
	return nil
}
