package task

// Status is the workflow task lifecycle state.
//
// Tasks are created blocked (dependencies outstanding) or pending
// (immediately actionable), move to in_progress when an actor picks them up,
// and end at completed. Completed is terminal: no transition leaves it.
type Status string

const (
	// StatusBlocked means at least one dependency is not yet completed.
	StatusBlocked Status = "blocked"
	// StatusPending means every dependency is satisfied and the task is actionable.
	StatusPending Status = "pending"
	// StatusInProgress means an actor has started work on the task.
	StatusInProgress Status = "in_progress"
	// StatusCompleted is the terminal state.
	StatusCompleted Status = "completed"
)

// ValidStatuses enumerates the allowed task statuses.
var ValidStatuses = map[Status]bool{
	StatusBlocked:    true,
	StatusPending:    true,
	StatusInProgress: true,
	StatusCompleted:  true,
}

// rank orders statuses along the forward-only lifecycle.
// Transitions may only increase rank (monotonicity).
var rank = map[Status]int{
	StatusBlocked:    0,
	StatusPending:    1,
	StatusInProgress: 2,
	StatusCompleted:  3,
}

// CanTransition reports whether moving from one status to another is a legal
// forward transition. Self-transitions are not legal (callers treat repeats
// as idempotent no-ops at the write layer, not as transitions).
func CanTransition(from, to Status) bool {
	rf, ok := rank[from]
	if !ok {
		return false
	}
	rt, ok := rank[to]
	if !ok {
		return false
	}
	return rt > rf
}

// Progress is the simple per-participant completion vocabulary exposed to
// callers for coarse tracking (e.g. "has the donor finished their lane?").
//
// This is deliberately distinct from Status: the two vocabularies must not be
// conflated. Progress is derived from a set of tasks, never stored.
type Progress string

const (
	// ProgressNotStarted means no task in the set has been started.
	ProgressNotStarted Progress = "not_started"
	// ProgressInProgress means at least one task is started or done, but not all.
	ProgressInProgress Progress = "in_progress"
	// ProgressComplete means every task in the set is completed.
	ProgressComplete Progress = "complete"
)

// ProgressOf derives the coarse progress of a set of tasks.
// An empty set reports not_started.
func ProgressOf(tasks []Task) Progress {
	if len(tasks) == 0 {
		return ProgressNotStarted
	}
	completed := 0
	started := 0
	for _, t := range tasks {
		switch t.Status {
		case StatusCompleted:
			completed++
			started++
		case StatusInProgress:
			started++
		}
	}
	switch {
	case completed == len(tasks):
		return ProgressComplete
	case started > 0:
		return ProgressInProgress
	default:
		return ProgressNotStarted
	}
}
