package esign

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equigive/taskflow/internal/task"
)

func TestParseEvent_CanonicalFields(t *testing.T) {
	e, err := ParseEvent([]byte(`{
		"envelope_id": "env-1",
		"sign_request_id": "sr-1",
		"status": "completed",
		"recipients": [{"email": "donor@example.org", "status": "completed"}]
	}`))
	require.NoError(t, err)

	assert.Equal(t, "env-1", e.EnvelopeID)
	assert.Equal(t, "sr-1", e.SignRequestID)
	assert.Equal(t, EnvelopeCompleted, e.Status)
	assert.True(t, e.TerminalSuccess())
	assert.Equal(t, "donor@example.org", e.SignerIdentity())
}

func TestParseEvent_AlternateSpellings(t *testing.T) {
	e, err := ParseEvent([]byte(`{"envelopeId": "env-2", "event": "viewed"}`))
	require.NoError(t, err)

	assert.Equal(t, "env-2", e.EnvelopeID)
	assert.Equal(t, EnvelopeViewed, e.Status)
	assert.False(t, e.TerminalSuccess())
}

func TestParseEvent_CanonicalSpellingWins(t *testing.T) {
	e, err := ParseEvent([]byte(`{"envelope_id": "env-a", "envelopeId": "env-b", "status": "sent"}`))
	require.NoError(t, err)
	assert.Equal(t, "env-a", e.EnvelopeID)
}

func TestParseEvent_Malformed(t *testing.T) {
	_, err := ParseEvent([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseEvent([]byte(`{"envelope_id": "env-1"}`))
	assert.ErrorContains(t, err, "missing status")
}

func TestEvent_CorrelationKey(t *testing.T) {
	e := &Event{EnvelopeID: "env-1", SignRequestID: "sr-1"}
	assert.Equal(t, "env-1", e.CorrelationKey())

	e = &Event{SignRequestID: "sr-1"}
	assert.Equal(t, "sr-1", e.CorrelationKey())

	e = &Event{}
	assert.Equal(t, "", e.CorrelationKey())
}

func TestEvent_SignerIdentityFallback(t *testing.T) {
	e := &Event{Status: EnvelopeCompleted, Recipients: []Recipient{
		{Email: "pending@example.org", Status: EnvelopeSent},
	}}
	assert.Equal(t, "esign-provider", e.SignerIdentity())
}

func TestEvent_Metadata(t *testing.T) {
	e := &Event{EnvelopeID: "env-1", Status: EnvelopeViewed}
	assert.Equal(t, map[string]string{
		task.MetaProviderStatus: "viewed",
		task.MetaEnvelopeID:     "env-1",
	}, e.Metadata())
}
