package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/equigive/taskflow/internal/task"
)

// InsertTasks writes a batch of tasks in a single transaction.
// Either every task is written or none are - a failed instantiation must
// never leave a partial task set behind.
//
// Every task is validated at this boundary; the engine can then assume
// stored records are structurally sound.
func (s *Store) InsertTasks(ctx context.Context, tasks []task.Task) error {
	if len(tasks) == 0 {
		return fmt.Errorf("insert tasks: empty batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert tasks: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for i := range tasks {
		if err := insertTask(ctx, tx, &tasks[i]); err != nil {
			return fmt.Errorf("insert tasks: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("insert tasks: commit: %w", err)
	}
	return nil
}

// CreateWorkflow inserts the workflow's initial task set, refusing with
// task.ErrWorkflowExists when any task already belongs to the workflow.
// The emptiness check runs inside the insert transaction, so two racing
// instantiations serialize on the write lock and exactly one wins.
func (s *Store) CreateWorkflow(ctx context.Context, workflowID string, tasks []task.Task) error {
	if workflowID == "" {
		return fmt.Errorf("create workflow: workflow id is required")
	}
	if len(tasks) == 0 {
		return fmt.Errorf("create workflow: empty batch")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("create workflow: begin tx: %w", err)
	}
	defer tx.Rollback()

	var existing int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE workflow_id = ?`, workflowID,
	).Scan(&existing); err != nil {
		return fmt.Errorf("create workflow: count existing: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("create workflow %s: %w", workflowID, task.ErrWorkflowExists)
	}

	for i := range tasks {
		if tasks[i].WorkflowID != workflowID {
			return fmt.Errorf("create workflow: task %s belongs to workflow %s", tasks[i].ID, tasks[i].WorkflowID)
		}
		if err := insertTask(ctx, tx, &tasks[i]); err != nil {
			return fmt.Errorf("create workflow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("create workflow: commit: %w", err)
	}
	return nil
}

// ReplaceWorkflow deletes every task for the workflow and inserts the given
// replacement batch inside one transaction (the reset operation). Returns
// the number of tasks created.
//
// Delete-then-insert in a single transaction makes reset effectively atomic
// per workflow: concurrent readers see either the old generation or the new
// one, never a mix, and a failed replacement leaves the old set untouched.
func (s *Store) ReplaceWorkflow(ctx context.Context, workflowID string, tasks []task.Task) (int, error) {
	if workflowID == "" {
		return 0, fmt.Errorf("replace workflow: workflow id is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("replace workflow: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE workflow_id = ?`, workflowID); err != nil {
		return 0, fmt.Errorf("replace workflow: delete: %w", err)
	}

	for i := range tasks {
		if tasks[i].WorkflowID != workflowID {
			return 0, fmt.Errorf("replace workflow: task %s belongs to workflow %s", tasks[i].ID, tasks[i].WorkflowID)
		}
		if err := insertTask(ctx, tx, &tasks[i]); err != nil {
			return 0, fmt.Errorf("replace workflow: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("replace workflow: commit: %w", err)
	}
	return len(tasks), nil
}

// insertTask validates and inserts one task within tx.
func insertTask(ctx context.Context, tx *sql.Tx, t *task.Task) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}

	depsJSON, err := marshalDeps(t.Dependencies)
	if err != nil {
		return err
	}
	metaJSON, err := marshalMetadata(t.Metadata)
	if err != nil {
		return err
	}
	commentsJSON, err := marshalComments(t.Comments)
	if err != nil {
		return err
	}
	envelopeID, signRequestID := correlationColumns(t.Metadata)

	var completedAt sql.NullString
	if t.CompletedAt != nil {
		completedAt = sql.NullString{String: formatTime(*t.CompletedAt), Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks
		(id, workflow_id, title, role, assigned_to, type, status, task_order,
		 dependencies, metadata, envelope_id, sign_request_id,
		 completed_at, completed_by, comments, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID,
		t.WorkflowID,
		t.Title,
		string(t.Role),
		t.AssignedTo,
		string(t.Type),
		string(t.Status),
		t.Order,
		depsJSON,
		metaJSON,
		envelopeID,
		signRequestID,
		completedAt,
		t.CompletedBy,
		commentsJSON,
		formatTime(t.CreatedAt),
		formatTime(t.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("task %s: %w", t.ID, err)
	}
	return nil
}

// MarkCompleted transitions a task to completed with a conditional write.
// The transition only fires while the task is pending or in_progress, which
// makes duplicate completions no-ops and leaves completed_at untouched on
// redelivery. Returns transitioned=false when the row exists but was not in
// a completable state; callers distinguish already-completed from blocked by
// re-reading.
//
// metadata is a patch merged into the stored bag by json_patch inside the
// UPDATE itself, so a metadata write landing between a caller's read and
// this transition is kept rather than clobbered. The correlation columns
// are recomputed from the merged bag in the same statement.
func (s *Store) MarkCompleted(ctx context.Context, id, actor string, at time.Time, metadata map[string]string) (transitioned bool, err error) {
	patchJSON, err := marshalMetadata(metadata)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET status = ?, completed_at = ?, completed_by = ?,
		    metadata = json_patch(metadata, ?),
		    envelope_id = json_extract(json_patch(metadata, ?), '$.envelope_id'),
		    sign_request_id = json_extract(json_patch(metadata, ?), '$.sign_request_id'),
		    updated_at = ?
		WHERE id = ? AND status IN (?, ?)
	`,
		string(task.StatusCompleted),
		formatTime(at),
		actor,
		patchJSON,
		patchJSON,
		patchJSON,
		formatTime(at),
		id,
		string(task.StatusPending),
		string(task.StatusInProgress),
	)
	if err != nil {
		return false, fmt.Errorf("mark completed: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark completed: rows affected: %w", err)
	}
	return n == 1, nil
}

// Unblock transitions a task from blocked to pending with a conditional
// write. Duplicate cascade evaluations hit the status guard and report
// transitioned=false, so two sibling completions racing over the same
// dependent cannot double-unblock it.
func (s *Store) Unblock(ctx context.Context, id string, at time.Time) (transitioned bool, err error) {
	return s.conditionalTransition(ctx, id, task.StatusBlocked, task.StatusPending, at)
}

// Start transitions a task from pending to in_progress with a conditional
// write.
func (s *Store) Start(ctx context.Context, id string, at time.Time) (transitioned bool, err error) {
	return s.conditionalTransition(ctx, id, task.StatusPending, task.StatusInProgress, at)
}

// conditionalTransition performs a guarded single-step status transition.
func (s *Store) conditionalTransition(ctx context.Context, id string, from, to task.Status, at time.Time) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, updated_at = ? WHERE id = ? AND status = ?
	`, string(to), formatTime(at), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: %w", from, to, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("transition %s -> %s: rows affected: %w", from, to, err)
	}
	return n == 1, nil
}

// UpdateMetadata replaces a task's metadata bag without touching status.
// Used for intermediate provider events (viewed, delivered) that carry
// correlation or progress detail but do not complete anything.
func (s *Store) UpdateMetadata(ctx context.Context, id string, metadata map[string]string, at time.Time) error {
	metaJSON, err := marshalMetadata(metadata)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}
	envelopeID, signRequestID := correlationColumns(metadata)

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks
		SET metadata = ?, envelope_id = ?, sign_request_id = ?, updated_at = ?
		WHERE id = ?
	`, metaJSON, envelopeID, signRequestID, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("update metadata: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update metadata: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("update metadata: %w", task.ErrNotFound)
	}
	return nil
}

// Assign records the actor responsible for a task once an invitation is
// accepted.
func (s *Store) Assign(ctx context.Context, id, assignee string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET assigned_to = ?, updated_at = ? WHERE id = ?
	`, assignee, formatTime(at), id)
	if err != nil {
		return fmt.Errorf("assign: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("assign: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("assign: %w", task.ErrNotFound)
	}
	return nil
}

// AddComment appends a comment to a task inside a transaction.
// Comments are opaque to scheduling; read-modify-write under the single
// writer connection is sufficient.
func (s *Store) AddComment(ctx context.Context, id string, c task.Comment) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("add comment: begin tx: %w", err)
	}
	defer tx.Rollback()

	var commentsJSON string
	err = tx.QueryRowContext(ctx, `SELECT comments FROM tasks WHERE id = ?`, id).Scan(&commentsJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("add comment: %w", task.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	comments, err := unmarshalComments(commentsJSON)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}
	comments = append(comments, c)

	updated, err := marshalComments(comments)
	if err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE tasks SET comments = ?, updated_at = ? WHERE id = ?
	`, updated, formatTime(c.CreatedAt), id); err != nil {
		return fmt.Errorf("add comment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("add comment: commit: %w", err)
	}
	return nil
}
