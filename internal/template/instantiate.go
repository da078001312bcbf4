package template

import (
	"fmt"
	"time"

	"github.com/equigive/taskflow/internal/task"
)

// Instantiate produces the full task set for one workflow instance.
//
// Every blueprint becomes a task with a freshly generated id; dependency
// keys are resolved to the ids of siblings in the SAME batch, never to ids
// from a prior instantiation. Tasks with no dependencies are created
// pending, the rest blocked.
//
// Instantiate is pure: it builds the task slice and leaves the atomic write
// (and delete-then-recreate on reset) to the store. The returned slice is in
// blueprint declaration order.
func Instantiate(t *Template, workflowID string, gen IDGenerator, now time.Time) ([]task.Task, error) {
	if workflowID == "" {
		return nil, fmt.Errorf("instantiate %s: workflow id is required", t.Name)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", t.Name, err)
	}

	idByKey := make(map[string]string, len(t.Blueprints))
	for _, bp := range t.Blueprints {
		idByKey[bp.Key] = gen.Generate()
	}

	tasks := make([]task.Task, 0, len(t.Blueprints))
	for _, bp := range t.Blueprints {
		status := task.StatusPending
		if len(bp.DependsOn) > 0 {
			status = task.StatusBlocked
		}

		deps := make([]string, len(bp.DependsOn))
		for i, key := range bp.DependsOn {
			deps[i] = idByKey[key]
		}

		var meta map[string]string
		if len(bp.Metadata) > 0 {
			meta = make(map[string]string, len(bp.Metadata))
			for k, v := range bp.Metadata {
				meta[k] = v
			}
		}

		tasks = append(tasks, task.Task{
			ID:           idByKey[bp.Key],
			WorkflowID:   workflowID,
			Title:        bp.Title,
			Role:         bp.Role,
			Type:         bp.Type,
			Status:       status,
			Order:        bp.Order,
			Dependencies: deps,
			Metadata:     meta,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	return tasks, nil
}
