package nodeinit

import "fmt"

// Step is a stage of a node initialization job.
type Step string

// Steps in the order a successful job normally visits them. StepRetrying may
// appear between attempts; StepReady and StepFailed are terminal.
const (
	StepPending          Step = "pending"
	StepFetching         Step = "fetching"
	StepCreatingWorktree Step = "creating_worktree"
	StepCopyingFiles     Step = "copying_files"
	StepRetrying         Step = "retrying"
	StepReady            Step = "ready"
	StepFailed           Step = "failed"
)

var knownSteps = []Step{
	StepPending,
	StepFetching,
	StepCreatingWorktree,
	StepCopyingFiles,
	StepRetrying,
	StepReady,
	StepFailed,
}

// IsTerminal reports whether no further transitions follow this step.
func (s Step) IsTerminal() bool {
	return s == StepReady || s == StepFailed
}

func (s Step) String() string { return string(s) }

// ParseStep converts a string to a Step, rejecting unknown values.
func ParseStep(s string) (Step, error) {
	for _, step := range knownSteps {
		if string(step) == s {
			return step, nil
		}
	}
	return "", fmt.Errorf("unknown init step %q", s)
}
