package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/formai-apps/kyuyoagent/internal/session"
	"github.com/formai-apps/kyuyoagent/internal/store"
	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

const (
	msgCollectIntro   = "今から必要なファイルをアップロードしましょう。"
	msgInvalidPath    = "無効なファイルパスです。もう一回アップロードしてください。"
	msgWrongExtension = "EXCELとCSVファイルのみ受け付けます。もう一回アップロードしてください。"
	msgUploadMismatch = "ファイルロード失敗しました。以下は不一致するところの情報です："
	msgUploadRetry    = "もう一回アップロードしてください。"
)

// planFiles computes the ordered list of files the queued tasks need and
// prompts for the first one not already satisfied. withCurrent includes
// the active task's own files, which is how a re-selected or chained task
// gets anything it is still missing.
func (o *Orchestrator) planFiles(ctx context.Context, s *session.Session, withCurrent bool) Reply {
	s.SetPhase(session.PhaseFile)
	var names []string
	if withCurrent && s.CurrentTask() != "" {
		names = append(names, s.CurrentTask())
	}
	names = append(names, s.Queue()...)

	var plan []session.PlannedFile
	reused := make(map[string]bool)
	for _, name := range names {
		def, ok := o.catalog.Task(name)
		if !ok {
			continue
		}
		for _, spec := range def.RequiredFiles() {
			plan = append(plan, session.PlannedFile{Spec: spec, TaskName: name})
		}
		for _, spec := range def.OptionalFiles() {
			plan = append(plan, session.PlannedFile{Spec: spec, TaskName: name})
		}
		if def.NextTaskFileDefinition != "" {
			reused[def.NextTaskFileDefinition] = true
		}
	}
	s.SetPlan(plan, reused)
	o.log.Debug("file plan has %d entries for tasks %v", len(plan), names)

	if err := o.advanceCursor(s); err != nil {
		return o.abortToChat(s, err)
	}
	item, ok := s.CurrentPlanned()
	if !ok {
		return o.completeCollection(ctx, s)
	}
	return Reply{Messages: []string{
		msgCollectIntro,
		fmt.Sprintf("ファイル「%s」をアップロードしてください。", item.Spec.Definition),
	}}
}

// advanceCursor walks the plan forward over files that need no upload.
func (o *Orchestrator) advanceCursor(s *session.Session) error {
	plan := s.Plan()
	i := s.Cursor()
	for i < len(plan) {
		ok, err := o.satisfied(s, plan[i])
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		o.log.Debug("file %s already satisfied, skipping", plan[i].Spec.Definition)
		i++
	}
	s.SetCursor(i)
	return nil
}

// satisfied reports whether a planned file already has data: stored under
// its definition, produced by an earlier queued task for a later one, or
// carried over from a predecessor's saved result.
func (o *Orchestrator) satisfied(s *session.Session, item session.PlannedFile) (bool, error) {
	exists, err := o.store.ExistsDefinition(item.Spec.Definition)
	if err != nil {
		return false, err
	}
	if exists || s.ReusedDefinition(item.Spec.Definition) {
		return true, nil
	}
	if name := s.CurrentTask(); name != "" {
		ts := s.Task(name)
		if ts.ReplacedFileName != "" && ts.ReplacedFileName == item.Spec.Name {
			return true, nil
		}
	}
	return false, nil
}

// handleFileMessage consumes one uploaded file for the plan entry under
// the cursor: validate against the stored sample, normalize the staff
// codes, persist, then move the cursor on.
func (o *Orchestrator) handleFileMessage(ctx context.Context, s *session.Session, path string) Reply {
	item, ok := s.CurrentPlanned()
	if !ok {
		return o.completeCollection(ctx, s)
	}
	if _, err := os.Stat(path); err != nil {
		return Reply{Messages: []string{msgInvalidPath}}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv", ".xlsx":
	default:
		return Reply{Messages: []string{msgWrongExtension}}
	}

	frame, diffs, err := o.validator.Match(path, item.TaskName, item.Spec)
	if err != nil {
		return o.abortToChat(s, err)
	}
	if frame == nil {
		messages := append([]string{msgUploadMismatch}, diffs...)
		messages = append(messages, msgUploadRetry)
		return Reply{Messages: messages}
	}
	normalized, err := tabular.NormalizeStaffCodes(frame)
	if err != nil {
		return o.abortToChat(s, err)
	}
	if _, err := o.store.Save(store.SaveRequest{
		Frame:        normalized,
		FileName:     item.Spec.Name,
		FilePath:     path,
		OriginalName: filepath.Base(path),
		Definition:   item.Spec.Definition,
		TaskName:     item.TaskName,
		Output:       item.Spec.IsOutput,
	}); err != nil {
		return o.abortToChat(s, err)
	}
	o.log.Info("stored %s as %s for task %s", filepath.Base(path), item.Spec.Definition, item.TaskName)

	s.SetCursor(s.Cursor() + 1)
	if err := o.advanceCursor(s); err != nil {
		return o.abortToChat(s, err)
	}
	next, ok := s.CurrentPlanned()
	if !ok {
		return o.completeCollection(ctx, s)
	}
	return Reply{Messages: []string{
		fmt.Sprintf("ファイルを保存しました。\nファイル「%s」をアップロードしてください。", next.Spec.Definition),
	}}
}

// completeCollection leaves the file phase. The first completion of a
// round moves on to the processing date, pre-filled with today; once the
// date is stamped, a collection completing again (after a re-selection
// gathered extra files) resumes the running task instead.
func (o *Orchestrator) completeCollection(ctx context.Context, s *session.Session) Reply {
	if !s.DateStamped() {
		s.SetPhase(session.PhaseDate)
		return o.handleDateMessage(ctx, s, o.now().Format("2006-01-02"))
	}
	run, ok := o.taskRunFor(s, s.CurrentTask())
	if !ok {
		s.SetPhase(session.PhaseChat)
		return Reply{Messages: []string{msgTaskSelectFailed}}
	}
	s.SetPhase(session.PhaseTask)
	prompt, sig := run.CurrentStep()
	var messages []string
	if prompt != "" {
		messages = append(messages, prompt)
	}
	return Reply{Messages: messages, Signal: sig}
}

// abortToChat is the hard-failure path of file handling: log, surface the
// error and drop back to chat so the user can start over.
func (o *Orchestrator) abortToChat(s *session.Session, err error) Reply {
	o.log.Error("file collection aborted: %v", err)
	s.SetPhase(session.PhaseChat)
	return Reply{Messages: []string{fmt.Sprintf("エラー: %v", err)}}
}
