package engine

import (
	"github.com/equigive/taskflow/internal/task"
)

// Satisfied reports whether every dependency of t is completed in the
// supplied status snapshot.
//
// Pure and side-effect-free: callers supply a consistent snapshot fetched at
// evaluation time. A dependency id absent from the snapshot counts as
// unsatisfied - a partially loaded or partially migrated dataset must never
// read as "all dependencies met".
func Satisfied(t *task.Task, statusByID map[string]task.Status) bool {
	for _, dep := range t.Dependencies {
		if statusByID[dep] != task.StatusCompleted {
			return false
		}
	}
	return true
}

// Unsatisfied returns the dependency ids of t that are not completed in the
// snapshot, in declaration order. Used for diagnostics and the blocked-task
// error detail.
func Unsatisfied(t *task.Task, statusByID map[string]task.Status) []string {
	var missing []string
	for _, dep := range t.Dependencies {
		if statusByID[dep] != task.StatusCompleted {
			missing = append(missing, dep)
		}
	}
	return missing
}
