// Package esign adapts asynchronous e-signature provider events into task
// completions.
//
// The provider is an unreliable external event source: deliveries may be
// duplicated, reordered, or reference envelopes whose correlation ids were
// stored under inconsistent metadata keys by older upstream code. The
// adapter therefore resolves events through an ordered fallback chain,
// treats already-completed tasks as no-ops, and always produces a
// success-shaped result so the provider is never provoked into a retry
// storm.
package esign

import (
	"encoding/json"
	"fmt"

	"github.com/equigive/taskflow/internal/task"
)

// Envelope statuses reported by the provider. Only EnvelopeCompleted
// triggers a task completion; everything else is progress detail.
const (
	EnvelopeSent      = "sent"
	EnvelopeDelivered = "delivered"
	EnvelopeViewed    = "viewed"
	EnvelopeCompleted = "completed"
	EnvelopeDeclined  = "declined"
	EnvelopeVoided    = "voided"
)

// Recipient is a per-signer status entry in an event payload.
type Recipient struct {
	Email  string `json:"email"`
	Status string `json:"status"`
}

// Event is a parsed provider webhook payload.
type Event struct {
	// EnvelopeID is the canonical correlation key.
	EnvelopeID string `json:"envelope_id"`

	// SignRequestID is the legacy alternate correlation key some upstream
	// records were tagged with.
	SignRequestID string `json:"sign_request_id,omitempty"`

	// Status is the envelope-level status.
	Status string `json:"status"`

	// Recipients carries optional per-signer statuses.
	Recipients []Recipient `json:"recipients,omitempty"`
}

// eventPayload covers every field spelling observed from the provider.
type eventPayload struct {
	EnvelopeID      string      `json:"envelope_id"`
	EnvelopeIDCamel string      `json:"envelopeId"`
	SignRequestID   string      `json:"sign_request_id"`
	Status          string      `json:"status"`
	Event           string      `json:"event"`
	Recipients      []Recipient `json:"recipients"`
}

// ParseEvent decodes a webhook body into an Event.
//
// The provider has historically spelled the envelope id two ways
// (envelope_id, envelopeId) and the status two ways (status, event); both
// spellings are accepted, canonical first. A payload with no status at all
// is malformed.
func ParseEvent(body []byte) (*Event, error) {
	var p eventPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("parse event: %w", err)
	}

	e := &Event{
		EnvelopeID:    p.EnvelopeID,
		SignRequestID: p.SignRequestID,
		Status:        p.Status,
		Recipients:    p.Recipients,
	}
	if e.EnvelopeID == "" {
		e.EnvelopeID = p.EnvelopeIDCamel
	}
	if e.Status == "" {
		e.Status = p.Event
	}

	if e.Status == "" {
		return nil, fmt.Errorf("parse event: missing status")
	}
	return e, nil
}

// CorrelationKey returns the best correlation id the event carries:
// the canonical envelope id, falling back to the legacy sign request id.
// Empty when the payload carries neither.
func (e *Event) CorrelationKey() string {
	if e.EnvelopeID != "" {
		return e.EnvelopeID
	}
	return e.SignRequestID
}

// TerminalSuccess reports whether the event indicates the envelope was
// fully signed.
func (e *Event) TerminalSuccess() bool {
	return e.Status == EnvelopeCompleted
}

// SignerIdentity returns the identity to record as the completing actor:
// the first recipient reported completed, otherwise a provider marker.
func (e *Event) SignerIdentity() string {
	for _, r := range e.Recipients {
		if r.Status == EnvelopeCompleted && r.Email != "" {
			return r.Email
		}
	}
	return "esign-provider"
}

// Metadata returns the task metadata updates this event carries: the
// provider status plus whichever correlation ids the payload included.
func (e *Event) Metadata() map[string]string {
	m := map[string]string{task.MetaProviderStatus: e.Status}
	if e.EnvelopeID != "" {
		m[task.MetaEnvelopeID] = e.EnvelopeID
	}
	if e.SignRequestID != "" {
		m[task.MetaSignRequestID] = e.SignRequestID
	}
	return m
}
