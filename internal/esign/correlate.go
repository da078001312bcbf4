package esign

import (
	"context"
	"fmt"

	"github.com/equigive/taskflow/internal/task"
)

// DefaultScanLimit caps the last-resort correlation scan.
const DefaultScanLimit = 200

// TaskFinder is the read surface the resolver needs. Implemented by
// *store.Store.
type TaskFinder interface {
	FindByEnvelopeID(ctx context.Context, envelopeID string) ([]task.Task, error)
	FindBySignRequestID(ctx context.Context, signRequestID string) ([]task.Task, error)
	ListOpenSignatureTasks(ctx context.Context, limit int) ([]task.Task, error)
}

// Resolution strategy names, reported for operational visibility.
const (
	ViaEnvelopeID    = "envelope_id"
	ViaSignRequestID = "sign_request_id"
	ViaScan          = "bounded_scan"
)

// CorrelationError means an event could not be mapped to any task.
// It is recorded, never fatal: the adapter still acknowledges the event.
type CorrelationError struct {
	EnvelopeID    string
	SignRequestID string
}

func (e *CorrelationError) Error() string {
	return fmt.Sprintf("no task matches envelope %q / sign request %q", e.EnvelopeID, e.SignRequestID)
}

// Resolver maps provider events to tasks through an ordered fallback chain:
//
//  1. indexed lookup by the canonical envelope_id column
//  2. indexed lookup by the legacy sign_request_id column
//  3. a bounded scan over open signature tasks, matching either key against
//     any known metadata field
//
// Strategy 3 exists only because historical upstream data tagged
// correlation ids inconsistently. It is a deliberate, scoped exception -
// capped at ScanLimit rows of not-completed signature tasks - not a general
// pattern to extend.
type Resolver struct {
	finder    TaskFinder
	ScanLimit int
}

// NewResolver creates a Resolver with the default scan cap.
func NewResolver(finder TaskFinder) *Resolver {
	return &Resolver{finder: finder, ScanLimit: DefaultScanLimit}
}

// Resolve returns the tasks the event concerns and the strategy that found
// them. Returns *CorrelationError when every strategy comes up empty.
func (r *Resolver) Resolve(ctx context.Context, e *Event) ([]task.Task, string, error) {
	if e.CorrelationKey() == "" {
		return nil, "", &CorrelationError{}
	}

	tasks, err := r.byEnvelopeID(ctx, e)
	if err != nil {
		return nil, "", fmt.Errorf("resolve via %s: %w", ViaEnvelopeID, err)
	}
	if len(tasks) > 0 {
		return tasks, ViaEnvelopeID, nil
	}

	tasks, err = r.bySignRequestID(ctx, e)
	if err != nil {
		return nil, "", fmt.Errorf("resolve via %s: %w", ViaSignRequestID, err)
	}
	if len(tasks) > 0 {
		return tasks, ViaSignRequestID, nil
	}

	tasks, err = r.byBoundedScan(ctx, e)
	if err != nil {
		return nil, "", fmt.Errorf("resolve via %s: %w", ViaScan, err)
	}
	if len(tasks) > 0 {
		return tasks, ViaScan, nil
	}

	return nil, "", &CorrelationError{EnvelopeID: e.EnvelopeID, SignRequestID: e.SignRequestID}
}

// byEnvelopeID is the primary strategy: indexed lookup on the canonical
// column, trying both keys the event carries.
func (r *Resolver) byEnvelopeID(ctx context.Context, e *Event) ([]task.Task, error) {
	for _, key := range eventKeys(e) {
		tasks, err := r.finder.FindByEnvelopeID(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			return tasks, nil
		}
	}
	return nil, nil
}

// bySignRequestID is the alternate strategy: indexed lookup on the legacy
// column.
func (r *Resolver) bySignRequestID(ctx context.Context, e *Event) ([]task.Task, error) {
	for _, key := range eventKeys(e) {
		tasks, err := r.finder.FindBySignRequestID(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(tasks) > 0 {
			return tasks, nil
		}
	}
	return nil, nil
}

// byBoundedScan is the last resort: walk open signature tasks (capped) and
// match either event key against any known correlation metadata field.
func (r *Resolver) byBoundedScan(ctx context.Context, e *Event) ([]task.Task, error) {
	limit := r.ScanLimit
	if limit <= 0 {
		limit = DefaultScanLimit
	}
	open, err := r.finder.ListOpenSignatureTasks(ctx, limit)
	if err != nil {
		return nil, err
	}

	keys := eventKeys(e)
	var matched []task.Task
	for _, t := range open {
		for _, key := range keys {
			if t.Metadata[task.MetaEnvelopeID] == key || t.Metadata[task.MetaSignRequestID] == key {
				matched = append(matched, t)
				break
			}
		}
	}
	return matched, nil
}

// eventKeys lists the event's correlation keys in preference order,
// skipping empties.
func eventKeys(e *Event) []string {
	var keys []string
	if e.EnvelopeID != "" {
		keys = append(keys, e.EnvelopeID)
	}
	if e.SignRequestID != "" && e.SignRequestID != e.EnvelopeID {
		keys = append(keys, e.SignRequestID)
	}
	return keys
}
