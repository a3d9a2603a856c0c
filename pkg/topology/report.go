package topology

import (
	"fmt"

	"github.com/schreiberstein/trunktap/pkg/config"
)

// Report describes what a Start or Stop run did.
type Report struct {
	RunID     string
	Action    config.Action
	Phase     Phase         // last phase fully reached
	Completed []Step        // steps that succeeded, in completion order
	Failures  []StepFailure // steps that failed (Stop) or the one that aborted Start
}

// StepFailure pairs a step with the error it returned.
type StepFailure struct {
	Step Step
	Err  error
}

func (f StepFailure) String() string {
	return fmt.Sprintf("%s: %v", f.Step, f.Err)
}

// LastCompleted returns the most recently completed step.
func (r *Report) LastCompleted() (Step, bool) {
	if r == nil || len(r.Completed) == 0 {
		return Step{}, false
	}
	return r.Completed[len(r.Completed)-1], true
}

// OK reports whether every step succeeded.
func (r *Report) OK() bool { return r != nil && len(r.Failures) == 0 }

// ─── Errors ──────────────────────────────────────────────────────────────────

// StartError is returned when Start aborts. The host is left partially
// configured; running Stop with the same inputs cleans it up.
type StartError struct {
	Phase         Phase
	LastCompleted *Step // nil when the first step failed
	Failed        Step
	Err           error
}

func (e *StartError) Error() string {
	last := "none"
	if e.LastCompleted != nil {
		last = fmt.Sprintf("%q", e.LastCompleted.String())
	}
	return fmt.Sprintf("start aborted in phase %s: last successful step %s, first failing step %q: %v",
		e.Phase, last, e.Failed.String(), e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// StopError is returned when Stop finished with failed steps. Every step was
// still attempted. Err combines the step errors, each prefixed with its step,
// and is what errors.Is and errors.As walk.
type StopError struct {
	Failures []StepFailure
	Err      error
}

func (e *StopError) Error() string {
	return fmt.Sprintf("stop finished with %d failed step(s): %v", len(e.Failures), e.Err)
}

func (e *StopError) Unwrap() error { return e.Err }
