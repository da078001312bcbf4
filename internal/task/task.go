// Package task defines the workflow task model shared by the template
// instantiator, the store, the cascade engine, and the HTTP surface.
//
// A task is one unit of multi-party work in an equity-donation workflow:
// signing an NDA, uploading a stock certificate, reviewing an appraisal,
// accepting a donation. Tasks carry an explicit dependency list; a task with
// unsatisfied dependencies is blocked and becomes pending only when every
// dependency reaches completed.
package task

import (
	"fmt"
	"time"
)

// Role identifies which workflow lane a task belongs to.
type Role string

const (
	// RoleDonor tasks are acted on by the donating shareholder.
	RoleDonor Role = "donor"
	// RoleNonprofitAdmin tasks are acted on by the receiving nonprofit.
	RoleNonprofitAdmin Role = "nonprofit_admin"
	// RoleAppraiser tasks are acted on by the third-party appraiser.
	RoleAppraiser Role = "appraiser"
)

// ValidRoles enumerates the allowed roles.
var ValidRoles = map[Role]bool{
	RoleDonor:          true,
	RoleNonprofitAdmin: true,
	RoleAppraiser:      true,
}

// Type is the semantic kind of a task. It informs UI and validation only;
// scheduling never inspects it (except the adapter's bounded scan, which
// scopes by TypeSignature).
type Type string

const (
	// TypeSignature tasks complete via the e-signature provider.
	TypeSignature Type = "signature"
	// TypeDocumentUpload tasks complete when an artifact is uploaded.
	TypeDocumentUpload Type = "document_upload"
	// TypeDocumentReview tasks complete when a reviewer signs off.
	TypeDocumentReview Type = "document_review"
	// TypeDecision tasks complete with an accept/decline payload.
	TypeDecision Type = "decision"
	// TypeOther covers everything else.
	TypeOther Type = "other"
)

// ValidTypes enumerates the allowed task types.
var ValidTypes = map[Type]bool{
	TypeSignature:      true,
	TypeDocumentUpload: true,
	TypeDocumentReview: true,
	TypeDecision:       true,
	TypeOther:          true,
}

// Well-known metadata keys. Metadata is otherwise a free-form bag.
const (
	// MetaEnvelopeID is the canonical e-signature correlation key.
	MetaEnvelopeID = "envelope_id"
	// MetaSignRequestID is a legacy alternate correlation key. New code never
	// writes it; the adapter still reads it because historical records do.
	MetaSignRequestID = "sign_request_id"
	// MetaSignedDocumentRef points at the stored signed-document artifact.
	MetaSignedDocumentRef = "signed_document_ref"
	// MetaProviderStatus records the last provider-reported envelope status.
	MetaProviderStatus = "provider_status"
)

// Comment is an actor-authored note on a task. Opaque to scheduling.
type Comment struct {
	Author    string    `json:"author"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a single unit of workflow work.
type Task struct {
	ID         string `json:"id"`
	WorkflowID string `json:"workflow_id"`
	Title      string `json:"title"`
	Role       Role   `json:"role"`
	AssignedTo string `json:"assigned_to,omitempty"` // empty until an invitation is accepted
	Type       Type   `json:"type"`
	Status     Status `json:"status"`

	// Order is a display/tie-break hint only. Scheduling ignores it.
	Order int `json:"order"`

	// Dependencies lists task IDs that must all be completed before this
	// task may leave blocked. IDs always reference siblings from the same
	// instantiation batch.
	Dependencies []string `json:"dependencies"`

	// Metadata carries external correlation ids, artifact references, and
	// decision payloads. See the Meta* key constants.
	Metadata map[string]string `json:"metadata,omitempty"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`

	Comments []Comment `json:"comments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks structural validity of a task record. It is applied at the
// store boundary so schemaless payloads never round-trip into the engine.
func (t *Task) Validate() error {
	if t.ID == "" {
		return &ValidationError{Field: "id", Message: "id is required"}
	}
	if t.WorkflowID == "" {
		return &ValidationError{Field: "workflow_id", Message: "workflow_id is required"}
	}
	if !ValidRoles[t.Role] {
		return &ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", t.Role)}
	}
	if !ValidTypes[t.Type] {
		return &ValidationError{Field: "type", Message: fmt.Sprintf("unknown type %q", t.Type)}
	}
	if !ValidStatuses[t.Status] {
		return &ValidationError{Field: "status", Message: fmt.Sprintf("unknown status %q", t.Status)}
	}
	for _, dep := range t.Dependencies {
		if dep == "" {
			return &ValidationError{Field: "dependencies", Message: "dependency id must not be empty"}
		}
		if dep == t.ID {
			return &ValidationError{Field: "dependencies", Message: "task cannot depend on itself"}
		}
	}
	if t.Status == StatusCompleted && t.CompletedAt == nil {
		return &ValidationError{Field: "completed_at", Message: "completed task requires completed_at"}
	}
	return nil
}

// HasDependency reports whether the task lists id as a dependency.
func (t *Task) HasDependency(id string) bool {
	for _, dep := range t.Dependencies {
		if dep == id {
			return true
		}
	}
	return false
}

// CorrelationKey returns the e-signature correlation id stored on the task,
// preferring the canonical field over the legacy alternate. Empty if neither
// is set.
func (t *Task) CorrelationKey() string {
	if v := t.Metadata[MetaEnvelopeID]; v != "" {
		return v
	}
	return t.Metadata[MetaSignRequestID]
}
