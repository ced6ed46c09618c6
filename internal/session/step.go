package session

// Step is a task's position in its execution lifecycle. date belongs to
// the lifecycle vocabulary because the processing date is stamped onto the
// task from the date phase, but no transition ever lands on it.
type Step string

const (
	StepPrepare  Step = "prepare"
	StepFile     Step = "file"
	StepAnalysis Step = "analysis"
	StepDate     Step = "date"
	StepProcess  Step = "process"
	StepTest     Step = "test"
	StepWork     Step = "work"
	StepRevise   Step = "revise"
	StepContinue Step = "continue"
	StepOver     Step = "over"
)

var normalOrder = []Step{
	StepPrepare,
	StepFile,
	StepAnalysis,
	StepProcess,
	StepTest,
	StepWork,
	StepRevise,
	StepContinue,
	StepOver,
}

var fastOrder = []Step{
	StepPrepare,
	StepFile,
	StepProcess,
	StepOver,
}

// AdvanceStep returns the step after current for the given speed mode.
// over is terminal; a step outside the active order counts as done.
func AdvanceStep(current Step, fastMode bool) Step {
	order := normalOrder
	if fastMode {
		order = fastOrder
	}
	for i, s := range order {
		if s == current {
			if i+1 < len(order) {
				return order[i+1]
			}
			return StepOver
		}
	}
	return StepOver
}
