// Package workflow orchestrates template instantiation and workflow-level
// queries on top of the store. It is the shared surface behind the HTTP
// API and the CLI.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/equigive/taskflow/internal/task"
	"github.com/equigive/taskflow/internal/template"
)

// Store is the persistence surface the service needs. Implemented by
// *store.Store.
type Store interface {
	CreateWorkflow(ctx context.Context, workflowID string, tasks []task.Task) error
	ReplaceWorkflow(ctx context.Context, workflowID string, tasks []task.Task) (int, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]task.Task, error)
}

// Progress summarizes a workflow in the simple reporting vocabulary,
// overall and per role lane.
type Progress struct {
	WorkflowID string                      `json:"workflow_id"`
	Overall    task.Progress               `json:"overall"`
	ByRole     map[task.Role]task.Progress `json:"by_role"`
	Total      int                         `json:"total"`
	Completed  int                         `json:"completed"`
}

// Service instantiates workflows from a template and answers
// workflow-level queries.
type Service struct {
	tmpl  *template.Template
	store Store
	gen   template.IDGenerator
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithIDGenerator(gen template.IDGenerator) Option {
	return func(s *Service) { s.gen = gen }
}

func WithNow(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(s *Service) { s.log = log }
}

func NewService(tmpl *template.Template, store Store, opts ...Option) *Service {
	s := &Service{
		tmpl:  tmpl,
		store: store,
		gen:   template.UUIDv7Generator{},
		now:   time.Now,
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Instantiate expands the template into tasks for workflowID and inserts
// them in one transaction. Failure leaves the workflow with zero tasks; a
// workflow that already has tasks is refused with task.ErrWorkflowExists.
func (s *Service) Instantiate(ctx context.Context, workflowID string) ([]task.Task, error) {
	tasks, err := template.Instantiate(s.tmpl, workflowID, s.gen, s.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", workflowID, err)
	}
	if err := s.store.CreateWorkflow(ctx, workflowID, tasks); err != nil {
		return nil, fmt.Errorf("instantiate %s: %w", workflowID, err)
	}
	s.log.Info("workflow instantiated",
		"workflow", workflowID, "template", s.tmpl.Name, "tasks", len(tasks))
	return tasks, nil
}

// Reset deletes every task of the workflow and re-instantiates the
// template with fresh ids, all inside one transaction. Returns the number
// of tasks created.
func (s *Service) Reset(ctx context.Context, workflowID string) (int, error) {
	tasks, err := template.Instantiate(s.tmpl, workflowID, s.gen, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", workflowID, err)
	}
	n, err := s.store.ReplaceWorkflow(ctx, workflowID, tasks)
	if err != nil {
		return 0, fmt.Errorf("reset %s: %w", workflowID, err)
	}
	s.log.Info("workflow reset", "workflow", workflowID, "tasks", n)
	return n, nil
}

// Tasks lists the workflow's tasks in blueprint order.
func (s *Service) Tasks(ctx context.Context, workflowID string) ([]task.Task, error) {
	return s.store.ListByWorkflow(ctx, workflowID)
}

// Progress reports the workflow in the collapsed reporting vocabulary.
// A workflow with no tasks reports not_started across the board.
func (s *Service) Progress(ctx context.Context, workflowID string) (*Progress, error) {
	tasks, err := s.store.ListByWorkflow(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("progress %s: %w", workflowID, err)
	}

	byRole := make(map[task.Role][]task.Task)
	completed := 0
	for _, t := range tasks {
		byRole[t.Role] = append(byRole[t.Role], t)
		if t.Status == task.StatusCompleted {
			completed++
		}
	}

	p := &Progress{
		WorkflowID: workflowID,
		Overall:    task.ProgressOf(tasks),
		ByRole:     make(map[task.Role]task.Progress, len(byRole)),
		Total:      len(tasks),
		Completed:  completed,
	}
	for role, rt := range byRole {
		p.ByRole[role] = task.ProgressOf(rt)
	}
	return p, nil
}
