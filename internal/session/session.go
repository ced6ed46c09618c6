// Package session holds the mutable state of one payroll conversation:
// the orchestration phase, the queued tasks, the file-collection plan and
// each task's execution progress.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/formai-apps/kyuyoagent/internal/catalog"
)

// Phase is the orchestration state of a conversation.
type Phase string

const (
	PhaseChat Phase = "chat"
	PhaseFile Phase = "file"
	PhaseDate Phase = "date"
	PhaseTask Phase = "task"
)

// PlannedFile is one entry of the file-collection plan: a file spec tagged
// with the task that needs it.
type PlannedFile struct {
	Spec     catalog.FileSpec
	TaskName string
}

// Session is the conversation state for one user. Message handling runs
// one at a time per session; the mutex still guards every access so other
// goroutines can observe state safely.
type Session struct {
	ID        string
	CreatedAt time.Time

	mu          sync.RWMutex
	phase       Phase
	queue       []string
	current     string
	plan        []PlannedFile
	cursor      int
	reused      map[string]bool
	tasks       map[string]*TaskState
	dateStamped bool
}

// New creates a session in the chat phase.
func New() *Session {
	return &Session{
		ID:        uuid.NewString(),
		CreatedAt: time.Now(),
		phase:     PhaseChat,
		reused:    make(map[string]bool),
		tasks:     make(map[string]*TaskState),
	}
}

// Phase returns the current orchestration phase.
func (s *Session) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// SetPhase moves the conversation to another phase.
func (s *Session) SetPhase(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

// CurrentTask returns the name of the task being worked on, or "".
func (s *Session) CurrentTask() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// SetCurrentTask records which task is being worked on.
func (s *Session) SetCurrentTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = name
}

// Enqueue appends task names to the work queue. Duplicates are allowed.
func (s *Session) Enqueue(names ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, names...)
}

// Dequeue removes and returns the head of the work queue.
func (s *Session) Dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return "", false
	}
	head := s.queue[0]
	s.queue = s.queue[1:]
	return head, true
}

// Queue returns a copy of the queued task names in order.
func (s *Session) Queue() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queue := make([]string, len(s.queue))
	copy(queue, s.queue)
	return queue
}

// QueueLen returns how many tasks are waiting.
func (s *Session) QueueLen() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.queue)
}

// Task returns the runtime state for a task, creating it on first use.
func (s *Session) Task(name string) *TaskState {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[name]
	if !ok {
		ts = NewTaskState()
		s.tasks[name] = ts
	}
	return ts
}

// Tasks returns the names of all tasks that have runtime state.
func (s *Session) Tasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	return names
}

// SetPlan installs a new file-collection plan and resets the cursor. The
// reused set holds file definitions produced by one queued task for the
// next, which never need uploading.
func (s *Session) SetPlan(items []PlannedFile, reused map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plan = items
	s.cursor = 0
	if reused == nil {
		reused = make(map[string]bool)
	}
	s.reused = reused
}

// Plan returns a copy of the current file-collection plan.
func (s *Session) Plan() []PlannedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan := make([]PlannedFile, len(s.plan))
	copy(plan, s.plan)
	return plan
}

// Cursor returns the index of the plan entry waiting for an upload.
func (s *Session) Cursor() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cursor
}

// SetCursor moves the plan cursor.
func (s *Session) SetCursor(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cursor = i
}

// CurrentPlanned returns the plan entry under the cursor.
func (s *Session) CurrentPlanned() (PlannedFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.cursor < 0 || s.cursor >= len(s.plan) {
		return PlannedFile{}, false
	}
	return s.plan[s.cursor], true
}

// ReusedDefinition reports whether a file definition is satisfied by task
// chaining instead of an upload.
func (s *Session) ReusedDefinition(def string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reused[def]
}

// DateStamped reports whether the processing date has already been
// confirmed for the execution round in flight. While set, a completed
// file collection resumes the running task instead of asking for a date
// again.
func (s *Session) DateStamped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dateStamped
}

// SetDateStamped records or clears the date confirmation for the current
// execution round. A fresh task selection clears it.
func (s *Session) SetDateStamped(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dateStamped = v
}

// Reset returns the session to a fresh chat: phase chat, empty queue and
// plan, all task runtime state dropped.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = PhaseChat
	s.queue = nil
	s.current = ""
	s.plan = nil
	s.cursor = 0
	s.reused = make(map[string]bool)
	s.tasks = make(map[string]*TaskState)
	s.dateStamped = false
}

// Manager tracks live sessions by ID.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager creates an empty session registry.
func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session)}
}

// Create registers and returns a new session.
func (m *Manager) Create() *Session {
	s := New()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete removes a session from the registry.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
