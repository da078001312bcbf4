package esign

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/store"
	"github.com/equigive/taskflow/internal/task"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func setupTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

// seedSignatureChain inserts a pending signature task correlated to env-1
// and a blocked dependent behind it.
func seedSignatureChain(t *testing.T, s *store.Store) {
	t.Helper()
	err := s.InsertTasks(context.Background(), []task.Task{
		{
			ID:         "sign",
			WorkflowID: "wf-1",
			Title:      "Sign transfer agreement",
			Role:       task.RoleDonor,
			Type:       task.TypeSignature,
			Status:     task.StatusPending,
			Metadata:   map[string]string{task.MetaEnvelopeID: "env-1"},
			CreatedAt:  testNow,
			UpdatedAt:  testNow,
		},
		{
			ID:           "followup",
			WorkflowID:   "wf-1",
			Title:        "Confirm receipt",
			Role:         task.RoleNonprofitAdmin,
			Type:         task.TypeOther,
			Status:       task.StatusBlocked,
			Dependencies: []string{"sign"},
			CreatedAt:    testNow,
			UpdatedAt:    testNow,
		},
	})
	require.NoError(t, err)
}

func newTestAdapter(s *store.Store, opts ...AdapterOption) *Adapter {
	eng := engine.New(s, engine.WithNow(func() time.Time { return testNow }))
	opts = append(opts, WithAdapterNow(func() time.Time { return testNow }))
	return NewAdapter(NewResolver(s), s, eng, opts...)
}

const completedPayload = `{
	"envelope_id": "env-1",
	"status": "completed",
	"recipients": [{"email": "donor@example.org", "status": "completed"}]
}`

func TestHandleEvent_CompletesAndCascades(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)
	ctx := context.Background()
	seedSignatureChain(t, s)

	res := a.HandleEvent(ctx, []byte(completedPayload))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, OutcomeCompleted, res.Tasks[0].Outcome)
	assert.Equal(t, []string{"followup"}, res.Tasks[0].Unblocked)

	signed, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, signed.Status)
	assert.Equal(t, "donor@example.org", signed.CompletedBy)
	assert.Equal(t, "completed", signed.Metadata[task.MetaProviderStatus])

	dep, err := s.Get(ctx, "followup")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, dep.Status)
}

func TestHandleEvent_DuplicateDelivery(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)
	ctx := context.Background()
	seedSignatureChain(t, s)

	a.HandleEvent(ctx, []byte(completedPayload))
	first, err := s.Get(ctx, "sign")
	require.NoError(t, err)

	res := a.HandleEvent(ctx, []byte(completedPayload))
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, OutcomeAlreadyCompleted, res.Tasks[0].Outcome)
	assert.Empty(t, res.Tasks[0].Unblocked)

	second, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Equal(t, first.CompletedAt, second.CompletedAt)
	assert.Equal(t, first.CompletedBy, second.CompletedBy)
}

func TestHandleEvent_IntermediateStatusMetadataOnly(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)
	ctx := context.Background()
	seedSignatureChain(t, s)

	res := a.HandleEvent(ctx, []byte(`{"envelope_id": "env-1", "status": "viewed"}`))
	assert.Equal(t, OutcomeMetadataUpdated, res.Outcome)
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, OutcomeMetadataUpdated, res.Tasks[0].Outcome)

	signed, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Equal(t, task.StatusPending, signed.Status, "intermediate events must not transition")
	assert.Equal(t, "viewed", signed.Metadata[task.MetaProviderStatus])
	assert.Equal(t, "env-1", signed.Metadata[task.MetaEnvelopeID], "existing metadata survives the update")

	dep, err := s.Get(ctx, "followup")
	require.NoError(t, err)
	assert.Equal(t, task.StatusBlocked, dep.Status)
}

func TestHandleEvent_MalformedPayload(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)

	res := a.HandleEvent(context.Background(), []byte(`{"envelope_id": "env-1"}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Contains(t, res.Reason, "malformed payload")
}

func TestHandleEvent_UnmatchedEnvelope(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)
	seedSignatureChain(t, s)

	res := a.HandleEvent(context.Background(), []byte(`{"envelope_id": "env-unknown", "status": "completed"}`))
	assert.Equal(t, OutcomeIgnored, res.Outcome)
	assert.Equal(t, "no matching task", res.Reason)
	assert.Empty(t, res.Tasks)
}

func TestHandleEvent_AlternateFieldSpellings(t *testing.T) {
	s := setupTestStore(t)
	a := newTestAdapter(s)
	ctx := context.Background()
	seedSignatureChain(t, s)

	res := a.HandleEvent(ctx, []byte(`{"envelopeId": "env-1", "event": "completed"}`))
	assert.Equal(t, OutcomeCompleted, res.Outcome)

	signed, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, signed.Status)
}

// fakeFetcher fails transiently a fixed number of times before serving
// the document.
type fakeFetcher struct {
	failures int
	calls    int
}

func (f *fakeFetcher) FetchSignedDocument(_ context.Context, _ string) ([]byte, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, Transient(errors.New("provider unavailable"))
	}
	return []byte("%PDF-signed"), nil
}

func fastRetry() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BackoffBase: time.Millisecond, BackoffMultiplier: 2.0}
}

func TestHandleEvent_FetchesArtifactWithRetry(t *testing.T) {
	s := setupTestStore(t)
	fetcher := &fakeFetcher{failures: 2}
	a := newTestAdapter(s,
		WithDocumentStore(fetcher, NewFileArtifactStore(t.TempDir())),
		WithRetryConfig(fastRetry()),
	)
	ctx := context.Background()
	seedSignatureChain(t, s)

	res := a.HandleEvent(ctx, []byte(completedPayload))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, fetcher.calls)

	signed, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Contains(t, signed.Metadata[task.MetaSignedDocumentRef], "env-1.pdf")
}

func TestHandleEvent_ArtifactExhaustionStillCompletes(t *testing.T) {
	s := setupTestStore(t)
	fetcher := &fakeFetcher{failures: 100}
	a := newTestAdapter(s,
		WithDocumentStore(fetcher, NewFileArtifactStore(t.TempDir())),
		WithRetryConfig(fastRetry()),
	)
	ctx := context.Background()
	seedSignatureChain(t, s)

	res := a.HandleEvent(ctx, []byte(completedPayload))
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, 3, fetcher.calls, "retries stop at the attempt cap")

	signed, err := s.Get(ctx, "sign")
	require.NoError(t, err)
	assert.Equal(t, task.StatusCompleted, signed.Status)
	assert.NotContains(t, signed.Metadata, task.MetaSignedDocumentRef)
}

func TestHandleEvent_DuplicateDeliverySkipsFetch(t *testing.T) {
	s := setupTestStore(t)
	fetcher := &fakeFetcher{}
	a := newTestAdapter(s,
		WithDocumentStore(fetcher, NewFileArtifactStore(t.TempDir())),
		WithRetryConfig(fastRetry()),
	)
	ctx := context.Background()
	seedSignatureChain(t, s)

	a.HandleEvent(ctx, []byte(completedPayload))
	require.Equal(t, 1, fetcher.calls)

	// The redelivery resolves to an already-completed task; the provider
	// must not be asked for the document again.
	res := a.HandleEvent(ctx, []byte(completedPayload))
	require.Len(t, res.Tasks, 1)
	assert.Equal(t, OutcomeAlreadyCompleted, res.Tasks[0].Outcome)
	assert.Equal(t, 1, fetcher.calls)
}
