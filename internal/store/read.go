package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/equigive/taskflow/internal/task"
)

const taskColumns = `id, workflow_id, title, role, assigned_to, type, status, task_order,
	dependencies, metadata, completed_at, completed_by, comments, created_at, updated_at`

// Get returns the task with the given id, or task.ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE id = ?
	`, id)

	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("get task %s: %w", id, task.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task %s: %w", id, err)
	}
	return t, nil
}

// ListByWorkflow returns every task for a workflow, ordered by display order
// then id for a stable listing.
//
// Returns an empty slice (not nil) if the workflow has no tasks.
func (s *Store) ListByWorkflow(ctx context.Context, workflowID string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE workflow_id = ?
		ORDER BY task_order ASC, id ASC
	`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list workflow %s: %w", workflowID, err)
	}
	defer rows.Close()

	return collectTasks(rows, "list workflow "+workflowID)
}

// ListDependents returns the tasks in the workflow that list taskID as a
// dependency. The query is scoped by workflow_id (indexed) before json_each
// walks each row's dependency array - never a collection-wide scan.
func (s *Store) ListDependents(ctx context.Context, workflowID, taskID string) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE workflow_id = ?
		  AND EXISTS (
			SELECT 1 FROM json_each(tasks.dependencies)
			WHERE json_each.value = ?
		  )
		ORDER BY task_order ASC, id ASC
	`, workflowID, taskID)
	if err != nil {
		return nil, fmt.Errorf("list dependents of %s: %w", taskID, err)
	}
	defer rows.Close()

	return collectTasks(rows, "list dependents of "+taskID)
}

// StatusSnapshot returns the current status of each given task id.
// Ids that do not resolve to a stored task are absent from the result map;
// the dependency resolver treats absence as unsatisfied.
func (s *Store) StatusSnapshot(ctx context.Context, ids []string) (map[string]task.Status, error) {
	snapshot := make(map[string]task.Status, len(ids))
	if len(ids) == 0 {
		return snapshot, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status FROM tasks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("status snapshot: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("status snapshot: %w", err)
		}
		snapshot[id] = task.Status(status)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("status snapshot: %w", err)
	}
	return snapshot, nil
}

// FindByEnvelopeID returns tasks whose canonical correlation key matches.
// Indexed lookup - the primary correlation strategy.
func (s *Store) FindByEnvelopeID(ctx context.Context, envelopeID string) ([]task.Task, error) {
	return s.findByColumn(ctx, "envelope_id", envelopeID)
}

// FindBySignRequestID returns tasks whose legacy alternate correlation key
// matches. Indexed lookup - the second correlation strategy.
func (s *Store) FindBySignRequestID(ctx context.Context, signRequestID string) ([]task.Task, error) {
	return s.findByColumn(ctx, "sign_request_id", signRequestID)
}

func (s *Store) findByColumn(ctx context.Context, column, value string) ([]task.Task, error) {
	if value == "" {
		return []task.Task{}, nil
	}

	// column is one of two internal constants, never caller input.
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE `+column+` = ?
		ORDER BY task_order ASC, id ASC
	`, value)
	if err != nil {
		return nil, fmt.Errorf("find by %s: %w", column, err)
	}
	defer rows.Close()

	return collectTasks(rows, "find by "+column)
}

// ListOpenSignatureTasks returns not-yet-completed signature tasks, oldest
// first, capped at limit rows.
//
// This feeds the adapter's last-resort correlation scan. The type/status
// scope and the row cap keep it bounded; it exists only because historical
// upstream data stored correlation ids under inconsistent metadata keys.
func (s *Store) ListOpenSignatureTasks(ctx context.Context, limit int) ([]task.Task, error) {
	if limit <= 0 {
		return []task.Task{}, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM tasks
		WHERE type = ? AND status != ?
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, string(task.TypeSignature), string(task.StatusCompleted), limit)
	if err != nil {
		return nil, fmt.Errorf("list open signature tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows, "list open signature tasks")
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanTask.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanTask reads one task row into a validated task.Task.
func scanTask(row rowScanner) (*task.Task, error) {
	var (
		t            task.Task
		role         string
		typ          string
		status       string
		depsJSON     string
		metaJSON     string
		commentsJSON string
		completedAt  sql.NullString
		createdAt    string
		updatedAt    string
	)

	err := row.Scan(
		&t.ID, &t.WorkflowID, &t.Title, &role, &t.AssignedTo, &typ, &status,
		&t.Order, &depsJSON, &metaJSON, &completedAt, &t.CompletedBy,
		&commentsJSON, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Role = task.Role(role)
	t.Type = task.Type(typ)
	t.Status = task.Status(status)

	if t.Dependencies, err = unmarshalDeps(depsJSON); err != nil {
		return nil, err
	}
	if t.Metadata, err = unmarshalMetadata(metaJSON); err != nil {
		return nil, err
	}
	if t.Comments, err = unmarshalComments(commentsJSON); err != nil {
		return nil, err
	}
	if len(t.Metadata) == 0 {
		t.Metadata = nil
	}
	if len(t.Comments) == 0 {
		t.Comments = nil
	}

	if completedAt.Valid {
		at, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		t.CompletedAt = &at
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}

	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("stored task %s is invalid: %w", t.ID, err)
	}
	return &t, nil
}

// collectTasks drains rows into a slice, returning an empty slice for no
// results.
func collectTasks(rows *sql.Rows, opName string) ([]task.Task, error) {
	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", opName, err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", opName, err)
	}
	return tasks, nil
}
