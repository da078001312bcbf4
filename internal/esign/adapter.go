package esign

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/task"
)

// Per-task outcomes of handling one provider event.
const (
	OutcomeCompleted        = "completed"
	OutcomeAlreadyCompleted = "already_completed"
	OutcomeMetadataUpdated  = "metadata_updated"
	OutcomeIgnored          = "ignored"
	OutcomeFailed           = "failed"
)

// TaskOutcome records what happened to one correlated task.
type TaskOutcome struct {
	TaskID    string   `json:"task_id"`
	Outcome   string   `json:"outcome"`
	Reason    string   `json:"reason,omitempty"`
	Unblocked []string `json:"unblocked,omitempty"`
}

// HandledResult is the always-acknowledgeable outcome of processing a
// provider event. Failures during handling are recorded here rather than
// surfaced as errors, so the webhook can return success and the provider
// does not redeliver a payload we cannot use.
type HandledResult struct {
	Outcome    string        `json:"outcome"`
	EnvelopeID string        `json:"envelope_id,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Tasks      []TaskOutcome `json:"tasks,omitempty"`
}

// Completer finishes a task and cascades unblocking to its dependents.
type Completer interface {
	CompleteTask(ctx context.Context, taskID, actor string, outcome map[string]string) (*engine.CompletionResult, error)
}

// TaskSource applies metadata-only updates for intermediate statuses.
// Implemented by *store.Store.
type TaskSource interface {
	UpdateMetadata(ctx context.Context, id string, metadata map[string]string, at time.Time) error
}

// Adapter turns e-signature provider events into task completions.
type Adapter struct {
	resolver  *Resolver
	source    TaskSource
	completer Completer
	fetcher   DocumentFetcher
	artifacts ArtifactStore
	retry     RetryConfig
	log       *slog.Logger
	now       func() time.Time
}

// AdapterOption configures an Adapter.
type AdapterOption func(*Adapter)

// WithDocumentStore enables signed-document fetching after terminal
// success events. Without it completions proceed with no document ref.
func WithDocumentStore(fetcher DocumentFetcher, artifacts ArtifactStore) AdapterOption {
	return func(a *Adapter) {
		a.fetcher = fetcher
		a.artifacts = artifacts
	}
}

func WithRetryConfig(cfg RetryConfig) AdapterOption {
	return func(a *Adapter) { a.retry = cfg }
}

func WithAdapterLogger(log *slog.Logger) AdapterOption {
	return func(a *Adapter) { a.log = log }
}

// WithAdapterNow overrides the clock. Tests use it for deterministic
// metadata timestamps.
func WithAdapterNow(now func() time.Time) AdapterOption {
	return func(a *Adapter) { a.now = now }
}

func NewAdapter(resolver *Resolver, source TaskSource, completer Completer, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		resolver:  resolver,
		source:    source,
		completer: completer,
		retry:     DefaultRetryConfig(),
		log:       slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// HandleEvent processes a raw provider payload. It never returns an
// error for conditions the provider could redeliver into the same wall:
// malformed payloads and unmatched envelopes are acknowledged as ignored,
// and per-task failures are recorded in the result. Terminal success
// completes every correlated task; any other status is a metadata-only
// update with no transition and no cascade.
func (a *Adapter) HandleEvent(ctx context.Context, payload []byte) *HandledResult {
	e, err := ParseEvent(payload)
	if err != nil {
		a.log.Warn("discarding malformed esign event", "error", err)
		return &HandledResult{Outcome: OutcomeIgnored, Reason: "malformed payload: " + err.Error()}
	}

	tasks, via, err := a.resolver.Resolve(ctx, e)
	if err != nil {
		var ce *CorrelationError
		if errors.As(err, &ce) {
			a.log.Warn("esign event matched no task",
				"envelope_id", e.EnvelopeID, "sign_request_id", e.SignRequestID)
			return &HandledResult{
				Outcome:    OutcomeIgnored,
				EnvelopeID: e.EnvelopeID,
				Reason:     "no matching task",
			}
		}
		a.log.Error("esign correlation lookup failed", "envelope_id", e.EnvelopeID, "error", err)
		return &HandledResult{
			Outcome:    OutcomeFailed,
			EnvelopeID: e.EnvelopeID,
			Reason:     "correlation lookup: " + err.Error(),
		}
	}

	a.log.Info("esign event correlated",
		"envelope_id", e.EnvelopeID, "status", e.Status, "via", via, "tasks", len(tasks))

	if e.TerminalSuccess() {
		return a.completeTasks(ctx, e, tasks)
	}
	return a.recordStatus(ctx, e, tasks)
}

func (a *Adapter) completeTasks(ctx context.Context, e *Event, tasks []task.Task) *HandledResult {
	outcome := e.Metadata()
	// Redeliveries of a terminal event resolve to already-completed tasks;
	// skip the provider round-trip for the document they already carry.
	if anyOpen(tasks) {
		if ref := a.fetchArtifact(ctx, e.EnvelopeID); ref != "" {
			outcome[task.MetaSignedDocumentRef] = ref
		}
	}

	res := &HandledResult{Outcome: OutcomeCompleted, EnvelopeID: e.EnvelopeID}
	actor := e.SignerIdentity()
	for _, t := range tasks {
		cr, err := a.completer.CompleteTask(ctx, t.ID, actor, outcome)
		if err != nil {
			a.log.Error("esign completion failed", "task", t.ID, "error", err)
			res.Tasks = append(res.Tasks, TaskOutcome{
				TaskID: t.ID, Outcome: OutcomeFailed, Reason: err.Error(),
			})
			continue
		}
		to := TaskOutcome{TaskID: t.ID, Outcome: OutcomeCompleted, Unblocked: cr.Unblocked}
		if cr.AlreadyCompleted {
			to.Outcome = OutcomeAlreadyCompleted
			to.Unblocked = nil
		}
		for _, f := range cr.Failures {
			a.log.Warn("cascade failure after esign completion",
				"task", t.ID, "dependent", f.TaskID, "reason", f.Reason)
		}
		res.Tasks = append(res.Tasks, to)
	}
	return res
}

// anyOpen reports whether any correlated task still needs completing.
func anyOpen(tasks []task.Task) bool {
	for _, t := range tasks {
		if t.Status != task.StatusCompleted {
			return true
		}
	}
	return false
}

func (a *Adapter) recordStatus(ctx context.Context, e *Event, tasks []task.Task) *HandledResult {
	meta := e.Metadata()
	res := &HandledResult{Outcome: OutcomeMetadataUpdated, EnvelopeID: e.EnvelopeID}
	for _, t := range tasks {
		if t.Status == task.StatusCompleted {
			res.Tasks = append(res.Tasks, TaskOutcome{TaskID: t.ID, Outcome: OutcomeIgnored, Reason: "already completed"})
			continue
		}
		merged := make(map[string]string, len(t.Metadata)+len(meta))
		for k, v := range t.Metadata {
			merged[k] = v
		}
		for k, v := range meta {
			merged[k] = v
		}
		if err := a.source.UpdateMetadata(ctx, t.ID, merged, a.now()); err != nil {
			a.log.Error("esign metadata update failed", "task", t.ID, "error", err)
			res.Tasks = append(res.Tasks, TaskOutcome{TaskID: t.ID, Outcome: OutcomeFailed, Reason: err.Error()})
			continue
		}
		res.Tasks = append(res.Tasks, TaskOutcome{TaskID: t.ID, Outcome: OutcomeMetadataUpdated})
	}
	return res
}

// fetchArtifact retrieves and persists the signed document, retrying
// transient provider failures. Exhaustion degrades to an empty ref so
// the completion itself still proceeds.
func (a *Adapter) fetchArtifact(ctx context.Context, envelopeID string) string {
	if a.fetcher == nil || a.artifacts == nil {
		return ""
	}

	start := time.Now()
	var ref string
	err := withRetries(ctx, a.retry, func() error {
		data, err := a.fetcher.FetchSignedDocument(ctx, envelopeID)
		if err != nil {
			return err
		}
		ref, err = a.artifacts.SaveDocument(envelopeID, data)
		return err
	})
	if err != nil {
		a.log.Warn("signed document fetch exhausted, completing without ref",
			"envelope_id", envelopeID, "error", err, "elapsed", time.Since(start))
		return ""
	}
	return ref
}
