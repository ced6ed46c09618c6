package orchestrator

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
	"github.com/formai-apps/kyuyoagent/internal/consts"
	"github.com/formai-apps/kyuyoagent/internal/intent"
	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/textutil"
)

const (
	msgBackToMenu    = "メニューにかえりました。給与計算に関して何か手伝い欲しいことがありますか"
	msgNoPendingTask = "現在、確認を必要とするタスクはありません。新しいチャットを開始してください。"
	msgIntentUnknown = "あなたの意図がわからないんです。もう一回聞いてください。"
	msgDateInvalid   = "日付形式をチェックして、もう一回入力してください。"

	// fileMessagePrefix marks a message as a file upload path.
	fileMessagePrefix = "選択されたファイル: "
)

var datePattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])-(0[1-9]|[12][0-9]|3[01])$`)

// routeIntent dispatches a classified message. Intents outside the known
// set fall through to the unknown response.
func (o *Orchestrator) routeIntent(ctx context.Context, s *session.Session, result *intent.Result, message string) Reply {
	switch result.Intent {
	case intent.TaskStart:
		return o.routeTaskStart(s, result.TaskName)
	case intent.Question:
		return o.routeQuestion(ctx, message)
	case intent.FileUpload:
		return o.routeFileUpload(ctx, s, message)
	case intent.Confirmation:
		return o.routeConfirmation(ctx, s, message)
	case intent.ReturnToMenu:
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgBackToMenu}}
	default:
		return Reply{Messages: []string{msgIntentUnknown}}
	}
}

// routeTaskStart resolves the classifier's |-separated task list against
// the catalogue by fuzzy match and queues the hits in sorted order.
func (o *Orchestrator) routeTaskStart(s *session.Session, rawNames string) Reply {
	known := o.catalog.Names()
	var matched []string
	for _, raw := range strings.Split(rawNames, "|") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		name, ok := textutil.MostSimilar(raw, known, consts.TaskNameSimilarityThreshold)
		if !ok {
			o.log.Debug("no task matches %q", raw)
			continue
		}
		matched = append(matched, name)
	}
	matched = catalog.SortNames(matched)
	s.Enqueue(matched...)
	o.log.Info("queued tasks: %v", matched)
	summary := "選んだタスクが以下の順番で処理する:\n" + strings.Join(matched, "->")
	return Reply{Messages: []string{summary}, Signal: SignalSelection}
}

func (o *Orchestrator) routeQuestion(ctx context.Context, message string) Reply {
	answer, err := o.qa.Answer(ctx, message)
	if err != nil {
		o.log.Error("question answering failed: %v", err)
		return Reply{Messages: []string{fmt.Sprintf("エラー: %v", err)}, Signal: SignalError}
	}
	return Reply{Messages: []string{answer}}
}

// routeFileUpload feeds the path into file collection when a plan is
// waiting; outside of collection the file is only identified against the
// catalogue.
func (o *Orchestrator) routeFileUpload(ctx context.Context, s *session.Session, message string) Reply {
	path := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(message), fileMessagePrefix))
	if s.Phase() == session.PhaseFile {
		return o.handleFileMessage(ctx, s, path)
	}
	return Reply{Messages: []string{o.validator.Identify(path, o.catalog)}}
}

// routeConfirmation forwards a yes/no to the active task; without one
// there is nothing to confirm.
func (o *Orchestrator) routeConfirmation(ctx context.Context, s *session.Session, message string) Reply {
	if s.Phase() == session.PhaseTask {
		if run, ok := o.taskRunFor(s, s.CurrentTask()); ok {
			return run.ProcessMessage(ctx, message)
		}
	}
	return Reply{Messages: []string{msgNoPendingTask}}
}

// handleDateMessage validates the processing date, stamps it on every
// known task and starts the first queued task. Speed mode is decided here
// over the queue as it stands and is not revisited when later tasks of the
// same round are dequeued.
func (o *Orchestrator) handleDateMessage(ctx context.Context, s *session.Session, message string) Reply {
	date := strings.ToLower(strings.TrimSpace(message))
	if !datePattern.MatchString(date) {
		return Reply{Messages: []string{msgDateInvalid}}
	}
	for _, name := range o.catalog.Names() {
		s.Task(name).CurrentDate = date
	}
	s.SetDateStamped(true)
	o.assignSpeedMode(s)

	messages := []string{fmt.Sprintf("現在日付は「%s」です。\nタスクの処理は開始します。", date)}
	s.SetPhase(session.PhaseTask)
	next, ok := s.Dequeue()
	if !ok {
		// Nothing queued: a re-entered date phase for a running task.
		if run, exists := o.taskRunFor(s, s.CurrentTask()); exists {
			prompt, sig := run.CurrentStep()
			if prompt != "" {
				messages = append(messages, prompt)
			}
			return Reply{Messages: messages, Signal: sig}
		}
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: messages}
	}
	r := o.selectTask(ctx, s, next, nil, false)
	return Reply{Messages: append(messages, r.Messages...), Signal: r.Signal}
}

// assignSpeedMode fixes the mode for every queued task before the first
// one starts: several tasks run the compressed pipeline, a single task
// runs the interactive one.
func (o *Orchestrator) assignSpeedMode(s *session.Session) {
	queue := s.Queue()
	fast := len(queue) > 1
	for _, name := range queue {
		s.Task(name).FastMode = fast
	}
	if len(queue) > 0 {
		o.log.Debug("speed mode for %d queued tasks: fast=%v", len(queue), fast)
	}
}
