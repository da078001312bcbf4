package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/equigive/taskflow/internal/task"
)

// Store is the persistence surface the engine needs. Implemented by
// *store.Store; tests substitute failing fakes to exercise partial-cascade
// reporting.
type Store interface {
	Get(ctx context.Context, id string) (*task.Task, error)
	ListDependents(ctx context.Context, workflowID, taskID string) ([]task.Task, error)
	StatusSnapshot(ctx context.Context, ids []string) (map[string]task.Status, error)
	MarkCompleted(ctx context.Context, id, actor string, at time.Time, metadata map[string]string) (bool, error)
	Unblock(ctx context.Context, id string, at time.Time) (bool, error)
}

// Engine runs completion cascades against a task store.
type Engine struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithNow overrides the clock, for deterministic tests.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine backed by the given store.
func New(store Store, opts ...Option) *Engine {
	e := &Engine{
		store: store,
		log:   slog.Default(),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CompleteTask marks a task completed and unblocks its eligible dependents.
//
// Idempotency: an already-completed task returns a successful no-op result
// without touching the store or re-running the cascade.
//
// Failure semantics: an error on the primary transition aborts the whole
// operation and nothing is reported complete. Once the primary transition is
// persisted the operation always returns a result; cascade-phase problems
// are enumerated per dependent in the result, never raised as the call's
// error and never rolled back.
func (e *Engine) CompleteTask(ctx context.Context, taskID, actor string, outcome map[string]string) (*CompletionResult, error) {
	t, err := e.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	if t.Status == task.StatusCompleted {
		e.log.DebugContext(ctx, "task already completed",
			"task_id", taskID, "workflow_id", t.WorkflowID)
		return &CompletionResult{Task: *t, AlreadyCompleted: true}, nil
	}

	if t.Status == task.StatusBlocked {
		return nil, fmt.Errorf("complete task %s: %w", taskID, task.ErrBlocked)
	}

	now := e.now()

	// outcome is handed to the store as a patch; the store merges it into
	// the persisted bag inside the UPDATE, so a metadata write landing
	// between our read and this transition is not lost.
	transitioned, err := e.store.MarkCompleted(ctx, taskID, actor, now, outcome)
	if err != nil {
		return nil, fmt.Errorf("complete task %s: %w", taskID, err)
	}
	if !transitioned {
		// Lost a race: someone else moved the task since we loaded it.
		// Re-read to distinguish a concurrent completion (benign no-op;
		// the winner runs the cascade) from anything else.
		current, err := e.store.Get(ctx, taskID)
		if err != nil {
			return nil, fmt.Errorf("complete task %s: %w", taskID, err)
		}
		if current.Status == task.StatusCompleted {
			return &CompletionResult{Task: *current, AlreadyCompleted: true}, nil
		}
		return nil, fmt.Errorf("complete task %s: %w", taskID,
			&task.TransitionError{TaskID: taskID, From: current.Status, To: task.StatusCompleted})
	}

	completed, err := e.store.Get(ctx, taskID)
	if err != nil {
		// The transition is persisted; fall back to the loaded copy for
		// the result rather than failing a completed operation.
		completed = t
		completed.Status = task.StatusCompleted
		completed.CompletedAt = &now
		completed.CompletedBy = actor
		completed.Metadata = mergeMetadata(t.Metadata, outcome)
	}

	result := &CompletionResult{Task: *completed}
	e.cascade(ctx, completed, result)

	e.log.InfoContext(ctx, "task completed",
		"task_id", taskID,
		"workflow_id", completed.WorkflowID,
		"actor", actor,
		"unblocked", len(result.Unblocked),
		"cascade_failures", len(result.Failures),
	)
	return result, nil
}

// cascade evaluates and unblocks the direct dependents of a just-completed
// task. Each dependent is processed independently; a failure on one is
// recorded and the loop continues.
func (e *Engine) cascade(ctx context.Context, completed *task.Task, result *CompletionResult) {
	dependents, err := e.store.ListDependents(ctx, completed.WorkflowID, completed.ID)
	if err != nil {
		result.Failures = append(result.Failures, UnblockFailure{
			TaskID: completed.ID,
			Reason: fmt.Sprintf("discover dependents: %v", err),
		})
		return
	}

	for i := range dependents {
		dep := &dependents[i]
		if dep.Status != task.StatusBlocked {
			continue
		}

		// Fresh snapshot of the dependent's FULL dependency set, fetched at
		// evaluation time. A sibling completing concurrently is picked up
		// here; a stale cache would not.
		snapshot, err := e.store.StatusSnapshot(ctx, dep.Dependencies)
		if err != nil {
			result.Failures = append(result.Failures, UnblockFailure{
				TaskID: dep.ID,
				Reason: fmt.Sprintf("snapshot dependencies: %v", err),
			})
			continue
		}
		if !Satisfied(dep, snapshot) {
			continue
		}

		transitioned, err := e.store.Unblock(ctx, dep.ID, e.now())
		if err != nil {
			result.Failures = append(result.Failures, UnblockFailure{
				TaskID: dep.ID,
				Reason: fmt.Sprintf("unblock: %v", err),
			})
			continue
		}
		if transitioned {
			result.Unblocked = append(result.Unblocked, dep.ID)
			e.log.DebugContext(ctx, "task unblocked",
				"task_id", dep.ID, "workflow_id", dep.WorkflowID, "completed_dependency", completed.ID)
		}
		// transitioned=false means a concurrent cascade won the race;
		// the dependent is already pending, nothing to report.
	}
}

// mergeMetadata overlays outcome metadata onto the stored bag without
// mutating either input.
func mergeMetadata(base, outcome map[string]string) map[string]string {
	if len(base) == 0 && len(outcome) == 0 {
		return nil
	}
	merged := make(map[string]string, len(base)+len(outcome))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range outcome {
		merged[k] = v
	}
	return merged
}
