// Package httpapi exposes workflows, tasks, and the e-signature webhook
// over HTTP.
//
// Synchronous endpoints report invalid input as 4xx. The webhook never
// does: it acknowledges everything with 200 and records failures in the
// response body, because the provider treats non-2xx as an invitation to
// redeliver.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/esign"
	"github.com/equigive/taskflow/internal/store"
	"github.com/equigive/taskflow/internal/task"
	"github.com/equigive/taskflow/internal/workflow"
)

// Server wires the service layers into an HTTP handler.
type Server struct {
	workflows *workflow.Service
	engine    *engine.Engine
	store     *store.Store
	adapter   *esign.Adapter
	log       *slog.Logger
	now       func() time.Time
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(log *slog.Logger) Option {
	return func(s *Server) { s.log = log }
}

func WithNow(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func NewServer(workflows *workflow.Service, eng *engine.Engine, st *store.Store, adapter *esign.Adapter, opts ...Option) *Server {
	s := &Server{
		workflows: workflows,
		engine:    eng,
		store:     st,
		adapter:   adapter,
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the chi route tree.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/webhooks/esign", s.handleWebhookChallenge)
	r.Post("/webhooks/esign", s.handleWebhookEvent)

	r.Route("/workflows/{workflowID}", func(r chi.Router) {
		r.Post("/", s.handleInstantiate)
		r.Post("/reset", s.handleReset)
		r.Get("/tasks", s.handleListTasks)
		r.Get("/progress", s.handleProgress)

		r.Route("/tasks/{taskID}", func(r chi.Router) {
			r.Post("/complete", s.handleComplete)
			r.Post("/status", s.handleStatus)
			r.Post("/assign", s.handleAssign)
			r.Post("/comments", s.handleAddComment)
		})
	})

	return r
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	tasks, err := s.workflows.Instantiate(r.Context(), workflowID)
	if errors.Is(err, task.ErrWorkflowExists) {
		writeError(w, http.StatusConflict, "workflow already instantiated")
		return
	}
	if err != nil {
		s.internalError(w, "instantiate workflow", err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, map[string]any{
		"workflow_id":   workflowID,
		"tasks_created": len(tasks),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")

	n, err := s.workflows.Reset(r.Context(), workflowID)
	if err != nil {
		s.internalError(w, "reset workflow", err)
		return
	}
	writeJSON(w, map[string]any{
		"workflow_id":   workflowID,
		"tasks_created": n,
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.workflows.Tasks(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.internalError(w, "list tasks", err)
		return
	}
	writeJSON(w, tasks)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.workflows.Progress(r.Context(), chi.URLParam(r, "workflowID"))
	if err != nil {
		s.internalError(w, "workflow progress", err)
		return
	}
	writeJSON(w, p)
}

type completeReq struct {
	Outcome map[string]string `json:"outcome"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	taskID := chi.URLParam(r, "taskID")

	actor := r.Header.Get("X-Actor")
	if actor == "" {
		writeError(w, http.StatusBadRequest, "X-Actor header is required")
		return
	}

	var req completeReq
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
			return
		}
	}

	if !s.taskInWorkflow(w, r, workflowID, taskID) {
		return
	}

	res, err := s.engine.CompleteTask(r.Context(), taskID, actor, req.Outcome)
	switch {
	case errors.Is(err, task.ErrNotFound):
		writeError(w, http.StatusNotFound, "task not found")
		return
	case errors.Is(err, task.ErrBlocked):
		writeError(w, http.StatusConflict, "task is blocked on unsatisfied dependencies")
		return
	case err != nil:
		s.internalError(w, "complete task", err)
		return
	}
	writeJSON(w, res)
}

type statusReq struct {
	Status task.Status `json:"status"`
}

// handleStatus moves a pending task to in_progress. Every other target
// status has a dedicated operation (completion) or is not reachable by
// hand (blocked, and anything backward).
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	taskID := chi.URLParam(r, "taskID")

	var req statusReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Status != task.StatusInProgress {
		writeError(w, http.StatusBadRequest, "only in_progress can be set directly")
		return
	}

	if !s.taskInWorkflow(w, r, workflowID, taskID) {
		return
	}

	transitioned, err := s.store.Start(r.Context(), taskID, s.now().UTC())
	if err != nil {
		s.internalError(w, "start task", err)
		return
	}
	if !transitioned {
		writeError(w, http.StatusConflict, "task is not pending")
		return
	}
	writeJSON(w, map[string]any{"task_id": taskID, "status": task.StatusInProgress})
}

type assignReq struct {
	Assignee string `json:"assignee"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	taskID := chi.URLParam(r, "taskID")

	var req assignReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Assignee == "" {
		writeError(w, http.StatusBadRequest, "assignee is required")
		return
	}

	if !s.taskInWorkflow(w, r, workflowID, taskID) {
		return
	}

	if err := s.store.Assign(r.Context(), taskID, req.Assignee, s.now().UTC()); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.internalError(w, "assign task", err)
		return
	}
	writeJSON(w, map[string]any{"task_id": taskID, "assigned_to": req.Assignee})
}

type commentReq struct {
	Author string `json:"author"`
	Body   string `json:"body"`
}

func (s *Server) handleAddComment(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	taskID := chi.URLParam(r, "taskID")

	var req commentReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body: "+err.Error())
		return
	}
	if req.Author == "" || req.Body == "" {
		writeError(w, http.StatusBadRequest, "author and body are required")
		return
	}

	if !s.taskInWorkflow(w, r, workflowID, taskID) {
		return
	}

	c := task.Comment{Author: req.Author, Body: req.Body, CreatedAt: s.now().UTC()}
	if err := s.store.AddComment(r.Context(), taskID, c); err != nil {
		if errors.Is(err, task.ErrNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		s.internalError(w, "add comment", err)
		return
	}
	writeStatusJSON(w, http.StatusCreated, c)
}

// taskInWorkflow verifies the path's task belongs to the path's workflow,
// writing a 404 when it does not.
func (s *Server) taskInWorkflow(w http.ResponseWriter, r *http.Request, workflowID, taskID string) bool {
	t, err := s.store.Get(r.Context(), taskID)
	if errors.Is(err, task.ErrNotFound) {
		writeError(w, http.StatusNotFound, "task not found")
		return false
	}
	if err != nil {
		s.internalError(w, "load task", err)
		return false
	}
	if t.WorkflowID != workflowID {
		writeError(w, http.StatusNotFound, "task not found in workflow")
		return false
	}
	return true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.log.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, v any) {
	writeStatusJSON(w, http.StatusOK, v)
}

func writeStatusJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeStatusJSON(w, status, map[string]string{"error": msg})
}
