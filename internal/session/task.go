package session

import (
	"context"

	"github.com/formai-apps/kyuyoagent/internal/tabular"
)

// Program runs a task's generated processing function for one staff code.
// The concrete implementation executes compiled WebAssembly; tests may
// substitute their own.
type Program interface {
	Run(ctx context.Context, staffCode string) (*tabular.Frame, error)
	Close(ctx context.Context) error
}

// TaskState is the runtime execution state of one task within a session.
type TaskState struct {
	Step     Step
	FastMode bool

	// CurrentDate is the processing date stamped in the date phase,
	// formatted YYYY-MM-DD.
	CurrentDate string

	RuleText string

	// Frames holds the loaded input tables keyed by file display name.
	Frames     map[string]*tabular.Frame
	StaffCodes []string

	Source  string
	Program Program

	// ReplacedFileName/Path are injected when a predecessor task hands its
	// saved output to this task.
	ReplacedFileName string
	ReplacedFilePath string

	SavedResultPath string

	Results   []*tabular.Frame
	RunErrors []string
}

// NewTaskState returns a fresh state positioned at prepare.
func NewTaskState() *TaskState {
	return &TaskState{
		Step:   StepPrepare,
		Frames: make(map[string]*tabular.Frame),
	}
}

// Reset returns the task to prepare for a fresh run. The speed mode, the
// stamped processing date and the last saved result path survive;
// everything loaded or generated for the previous run is dropped.
func (t *TaskState) Reset() {
	t.Step = StepPrepare
	t.RuleText = ""
	t.Frames = make(map[string]*tabular.Frame)
	t.StaffCodes = nil
	t.Source = ""
	if t.Program != nil {
		t.Program.Close(context.Background())
		t.Program = nil
	}
	t.ReplacedFileName = ""
	t.ReplacedFilePath = ""
	t.Results = nil
	t.RunErrors = nil
}
