package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

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

func newTestEngine(s Store) *Engine {
	return New(s, WithNow(func() time.Time { return testNow }))
}

func seedTask(id, workflowID string, deps ...string) task.Task {
	status := task.StatusPending
	if len(deps) > 0 {
		status = task.StatusBlocked
	}
	return task.Task{
		ID:           id,
		WorkflowID:   workflowID,
		Title:        "Task " + id,
		Role:         task.RoleDonor,
		Type:         task.TypeOther,
		Status:       status,
		Dependencies: deps,
		CreatedAt:    testNow,
		UpdatedAt:    testNow,
	}
}

// seedChain inserts A (no deps), B (deps=[A]), C (deps=[A,B]).
func seedChain(t *testing.T, s *store.Store, workflowID string) {
	t.Helper()
	err := s.InsertTasks(context.Background(), []task.Task{
		seedTask("a", workflowID),
		seedTask("b", workflowID, "a"),
		seedTask("c", workflowID, "a", "b"),
	})
	require.NoError(t, err)
}

func statusOf(t *testing.T, s *store.Store, id string) task.Status {
	t.Helper()
	tk, err := s.Get(context.Background(), id)
	require.NoError(t, err)
	return tk.Status
}

func TestCompleteTask_CascadeScenario(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	// Completing A unblocks B; C stays blocked because B is not completed.
	res, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)
	assert.Equal(t, []string{"b"}, res.Unblocked)
	assert.Empty(t, res.Failures)
	assert.Equal(t, task.StatusPending, statusOf(t, s, "b"))
	assert.Equal(t, task.StatusBlocked, statusOf(t, s, "c"))

	// Completing B unblocks C.
	res, err = e.CompleteTask(ctx, "b", "donor-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, res.Unblocked)
	assert.Equal(t, task.StatusPending, statusOf(t, s, "c"))

	// Completing C changes nothing further.
	res, err = e.CompleteTask(ctx, "c", "donor-1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Unblocked)
	assert.Empty(t, res.Failures)
}

func TestCompleteTask_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	first, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)
	require.NotNil(t, first.Task.CompletedAt)

	second, err := e.CompleteTask(ctx, "a", "donor-2", nil)
	require.NoError(t, err)
	assert.True(t, second.AlreadyCompleted)
	assert.Empty(t, second.Unblocked, "cascade must not re-run")
	assert.Equal(t, "donor-1", second.Task.CompletedBy)
	assert.True(t, second.Task.CompletedAt.Equal(*first.Task.CompletedAt),
		"completed_at must be unchanged on duplicate completion")
}

func TestCompleteTask_NotFound(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)

	_, err := e.CompleteTask(context.Background(), "ghost", "donor-1", nil)
	assert.ErrorIs(t, err, task.ErrNotFound)
}

func TestCompleteTask_RefusesBlocked(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	seedChain(t, s, "wf-1")

	_, err := e.CompleteTask(context.Background(), "c", "donor-1", nil)
	assert.ErrorIs(t, err, task.ErrBlocked)
	assert.Equal(t, task.StatusBlocked, statusOf(t, s, "c"))
}

func TestCompleteTask_FromInProgress(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	ok, err := s.Start(ctx, "a", testNow)
	require.NoError(t, err)
	require.True(t, ok)

	res, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, res.Unblocked)
}

func TestCompleteTask_MergesOutcomeMetadata(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()

	tk := seedTask("sig", "wf-1")
	tk.Type = task.TypeSignature
	tk.Metadata = map[string]string{task.MetaEnvelopeID: "env-1", "note": "keep me"}
	require.NoError(t, s.InsertTasks(ctx, []task.Task{tk}))

	res, err := e.CompleteTask(ctx, "sig", "donor-1", map[string]string{
		task.MetaSignedDocumentRef: "docs/signed.pdf",
	})
	require.NoError(t, err)

	assert.Equal(t, "env-1", res.Task.Metadata[task.MetaEnvelopeID])
	assert.Equal(t, "keep me", res.Task.Metadata["note"])
	assert.Equal(t, "docs/signed.pdf", res.Task.Metadata[task.MetaSignedDocumentRef])
}

func TestCompleteTask_NoPrematureUnblock(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()

	// Diamond: d1 and d2 both gate join.
	require.NoError(t, s.InsertTasks(ctx, []task.Task{
		seedTask("d1", "wf-1"),
		seedTask("d2", "wf-1"),
		seedTask("join", "wf-1", "d1", "d2"),
	}))

	res, err := e.CompleteTask(ctx, "d1", "donor-1", nil)
	require.NoError(t, err)
	assert.Empty(t, res.Unblocked, "join must stay blocked while d2 is open")
	assert.Equal(t, task.StatusBlocked, statusOf(t, s, "join"))

	res, err = e.CompleteTask(ctx, "d2", "donor-1", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"join"}, res.Unblocked)
}

func TestCompleteTask_CrossWorkflowIsolation(t *testing.T) {
	s := setupTestStore(t)
	e := newTestEngine(s)
	ctx := context.Background()
	seedChain(t, s, "wf-1")
	require.NoError(t, s.InsertTasks(ctx, []task.Task{
		seedTask("a2", "wf-2"),
		seedTask("b2", "wf-2", "a2"),
	}))

	_, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)

	// Workflows are fully independent: the other workflow is untouched.
	assert.Equal(t, task.StatusPending, statusOf(t, s, "a2"))
	assert.Equal(t, task.StatusBlocked, statusOf(t, s, "b2"))
}

// flakyStore wraps a real store and fails Unblock for selected task ids.
type flakyStore struct {
	Store
	failUnblock map[string]bool
}

func (f *flakyStore) Unblock(ctx context.Context, id string, at time.Time) (bool, error) {
	if f.failUnblock[id] {
		return false, fmt.Errorf("unblock %s: %w", id, errors.New("simulated write failure"))
	}
	return f.Store.Unblock(ctx, id, at)
}

func TestCompleteTask_PartialCascadeFailure(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Two dependents of the same task: one unblocks, one fails.
	require.NoError(t, s.InsertTasks(ctx, []task.Task{
		seedTask("root", "wf-1"),
		seedTask("ok", "wf-1", "root"),
		seedTask("broken", "wf-1", "root"),
	}))

	e := newTestEngine(&flakyStore{Store: s, failUnblock: map[string]bool{"broken": true}})

	res, err := e.CompleteTask(ctx, "root", "donor-1", nil)
	require.NoError(t, err, "cascade failure must not fail the completion")

	assert.Equal(t, []string{"ok"}, res.Unblocked)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "broken", res.Failures[0].TaskID)
	assert.Contains(t, res.Failures[0].Reason, "simulated write failure")
	assert.True(t, res.Partial())

	// The primary completion stands and the healthy dependent is pending.
	assert.Equal(t, task.StatusCompleted, statusOf(t, s, "root"))
	assert.Equal(t, task.StatusPending, statusOf(t, s, "ok"))
	assert.Equal(t, task.StatusBlocked, statusOf(t, s, "broken"))

	// The next completion of a sibling naturally retries the broken one.
	// Here root is the only dependency, so a manual re-evaluation via a
	// healthy engine unblocks it.
	healthy := newTestEngine(s)
	res2, err := healthy.CompleteTask(ctx, "root", "donor-1", nil)
	require.NoError(t, err)
	assert.True(t, res2.AlreadyCompleted)
}

// racedStore wraps a real store and makes the conditional MarkCompleted
// lose: before reporting no transition it runs an interfering write, as a
// concurrent caller would between the engine's read and its write.
type racedStore struct {
	Store
	interfere func(ctx context.Context) error
}

func (r *racedStore) MarkCompleted(ctx context.Context, id, actor string, at time.Time, metadata map[string]string) (bool, error) {
	if err := r.interfere(ctx); err != nil {
		return false, err
	}
	return false, nil
}

func TestCompleteTask_LostRaceToConcurrentCompletion(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	// Another caller completes the task after our read but before our
	// conditional write. The loser's re-read must report the winner's
	// completion, not an error and not a second completion.
	raced := &racedStore{Store: s, interfere: func(ctx context.Context) error {
		_, err := s.MarkCompleted(ctx, "a", "donor-2", testNow, nil)
		return err
	}}
	e := newTestEngine(raced)

	res, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)
	assert.True(t, res.AlreadyCompleted)
	assert.Equal(t, "donor-2", res.Task.CompletedBy, "the winner's completion stands")
	assert.Empty(t, res.Unblocked, "the winner runs the cascade, not the loser")
}

func TestCompleteTask_LostRaceToOtherTransition(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	// The interfering write moves the task somewhere other than completed.
	// The re-read then cannot explain the lost race as a benign duplicate,
	// so the engine must surface an illegal-transition error.
	raced := &racedStore{Store: s, interfere: func(ctx context.Context) error {
		_, err := s.Start(ctx, "a", testNow)
		return err
	}}
	e := newTestEngine(raced)

	_, err := e.CompleteTask(ctx, "a", "donor-1", nil)
	require.Error(t, err)
	assert.True(t, task.IsTransitionError(err))
}

// contestedStore wraps a real store and lets a rival cascade win the
// unblock of selected dependents just before ours runs.
type contestedStore struct {
	Store
	rivalUnblocks map[string]bool
}

func (c *contestedStore) Unblock(ctx context.Context, id string, at time.Time) (bool, error) {
	if c.rivalUnblocks[id] {
		if _, err := c.Store.Unblock(ctx, id, at); err != nil {
			return false, err
		}
	}
	return c.Store.Unblock(ctx, id, at)
}

func TestCompleteTask_ConcurrentCascadeOverSharedDependent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	// Two siblings share dependent c. The sibling completing second sees
	// c eligible, but a rival cascade unblocks it first; the conditional
	// transition returns false and c must be neither double-reported nor
	// flagged as a failure.
	require.NoError(t, s.InsertTasks(ctx, []task.Task{
		seedTask("a", "wf-1"),
		seedTask("b", "wf-1"),
		seedTask("c", "wf-1", "a", "b"),
	}))

	plain := newTestEngine(s)
	_, err := plain.CompleteTask(ctx, "a", "donor-1", nil)
	require.NoError(t, err)

	contested := newTestEngine(&contestedStore{Store: s, rivalUnblocks: map[string]bool{"c": true}})
	res, err := contested.CompleteTask(ctx, "b", "donor-1", nil)
	require.NoError(t, err)

	assert.Empty(t, res.Unblocked, "rival cascade already unblocked c")
	assert.Empty(t, res.Failures)
	assert.Equal(t, task.StatusPending, statusOf(t, s, "c"))
}

// interposedStore wraps a real store and runs an interfering write just
// before MarkCompleted, in the window between the engine's read and its
// conditional transition.
type interposedStore struct {
	Store
	before func(ctx context.Context) error
}

func (i *interposedStore) MarkCompleted(ctx context.Context, id, actor string, at time.Time, metadata map[string]string) (bool, error) {
	if err := i.before(ctx); err != nil {
		return false, err
	}
	return i.Store.MarkCompleted(ctx, id, actor, at, metadata)
}

func TestCompleteTask_KeepsInterleavedMetadataWrite(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	seedChain(t, s, "wf-1")

	// A provider status lands after the engine reads the task but before
	// it completes it. The outcome is applied as a patch in the store, so
	// the interleaved write survives.
	interposed := &interposedStore{Store: s, before: func(ctx context.Context) error {
		return s.UpdateMetadata(ctx, "a", map[string]string{"provider_status": "viewed"}, testNow)
	}}
	e := newTestEngine(interposed)

	res, err := e.CompleteTask(ctx, "a", "donor-1", map[string]string{"outcome": "signed"})
	require.NoError(t, err)
	assert.False(t, res.AlreadyCompleted)

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "viewed", got.Metadata["provider_status"])
	assert.Equal(t, "signed", got.Metadata["outcome"])
}
