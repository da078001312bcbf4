package engine

import (
	"github.com/equigive/taskflow/internal/task"
)

// CompletionResult reports the outcome of one CompleteTask invocation.
//
// The cascade phase is explicitly not all-or-nothing: callers must consult
// Failures rather than assume every eligible dependent was unblocked.
type CompletionResult struct {
	// Task is the completed task as stored after the transition.
	Task task.Task `json:"task"`

	// AlreadyCompleted is true when the task was completed before this
	// invocation. The call is then a no-op: no write, no cascade, and the
	// original completed_at/completed_by are untouched.
	AlreadyCompleted bool `json:"already_completed,omitempty"`

	// Unblocked lists dependent task ids transitioned blocked -> pending by
	// this invocation.
	Unblocked []string `json:"unblocked,omitempty"`

	// Failures lists dependents that could not be evaluated or unblocked.
	// The primary completion stands regardless.
	Failures []UnblockFailure `json:"failures,omitempty"`
}

// UnblockFailure describes one dependent the cascade could not process.
type UnblockFailure struct {
	TaskID string `json:"task_id"`
	Reason string `json:"reason"`
}

// Partial reports whether the cascade phase had any failures.
func (r *CompletionResult) Partial() bool {
	return len(r.Failures) > 0
}
