package task

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a task id does not resolve to a stored task.
// A completion racing a workflow reset surfaces this error rather than
// touching the freshly created task set.
var ErrNotFound = errors.New("task not found")

// ErrBlocked is returned when a caller attempts to complete or start a task
// whose dependencies are not yet satisfied.
var ErrBlocked = errors.New("task is blocked by unsatisfied dependencies")

// ErrWorkflowExists is returned when instantiation targets a workflow that
// already has tasks. The check runs inside the insert transaction, so two
// racing instantiations cannot both succeed; the loser gets this error.
var ErrWorkflowExists = errors.New("workflow already instantiated")

// ValidationError reports a structurally invalid task record.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// TransitionError reports an illegal status transition. Completed is
// terminal and the lifecycle is forward-only, so most instances indicate a
// caller trying to move a task backward.
type TransitionError struct {
	TaskID string
	From   Status
	To     Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal transition %s -> %s for task %s", e.From, e.To, e.TaskID)
}

// IsTransitionError reports whether err is (or wraps) a TransitionError.
func IsTransitionError(err error) bool {
	var te *TransitionError
	return errors.As(err, &te)
}
