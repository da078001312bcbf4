package template

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/equigive/taskflow/internal/task"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func TestInstantiate_StatusesAndEdges(t *testing.T) {
	tm, err := Builtin()
	require.NoError(t, err)

	tasks, err := Instantiate(tm, "wf-1", NewSequenceGenerator("tsk"), fixedNow)
	require.NoError(t, err)
	require.Len(t, tasks, len(tm.Blueprints))

	byTitle := map[string]task.Task{}
	for _, tk := range tasks {
		byTitle[tk.Title] = tk
		assert.Equal(t, "wf-1", tk.WorkflowID)
		assert.NoError(t, tk.Validate())

		// Root tasks pending, everything else blocked.
		if len(tk.Dependencies) == 0 {
			assert.Equal(t, task.StatusPending, tk.Status, tk.Title)
		} else {
			assert.Equal(t, task.StatusBlocked, tk.Status, tk.Title)
		}
	}

	// Dependency keys were resolved to fresh sibling ids.
	upload := byTitle["Provide share class and cap table details"]
	nda := byTitle["Sign the mutual NDA"]
	require.Len(t, upload.Dependencies, 1)
	assert.Equal(t, nda.ID, upload.Dependencies[0])
}

func TestInstantiate_DeterministicPerGenerator(t *testing.T) {
	tm, err := Builtin()
	require.NoError(t, err)

	ids := []string{"t1", "t2", "t3", "t4", "t5", "t6", "t7", "t8", "t9"}
	a, err := Instantiate(tm, "wf-1", NewFixedGenerator(ids...), fixedNow)
	require.NoError(t, err)
	b, err := Instantiate(tm, "wf-1", NewFixedGenerator(ids...), fixedNow)
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestInstantiate_FreshIDsPerBatch(t *testing.T) {
	tm, err := Builtin()
	require.NoError(t, err)

	gen := UUIDv7Generator{}
	a, err := Instantiate(tm, "wf-1", gen, fixedNow)
	require.NoError(t, err)
	b, err := Instantiate(tm, "wf-1", gen, fixedNow)
	require.NoError(t, err)

	prior := map[string]bool{}
	for _, tk := range a {
		prior[tk.ID] = true
	}
	for _, tk := range b {
		assert.False(t, prior[tk.ID], "id %s reused across instantiations", tk.ID)
		for _, dep := range tk.Dependencies {
			assert.False(t, prior[dep], "dependency %s references a prior batch", dep)
		}
	}
}

func TestInstantiate_RequiresWorkflowID(t *testing.T) {
	tm, err := Builtin()
	require.NoError(t, err)

	_, err = Instantiate(tm, "", UUIDv7Generator{}, fixedNow)
	assert.Error(t, err)
}

func TestInstantiate_RejectsInvalidTemplate(t *testing.T) {
	tm := minimalTemplate()
	tm.Blueprints[0].DependsOn = []string{"b"} // introduces a cycle

	_, err := Instantiate(tm, "wf-1", UUIDv7Generator{}, fixedNow)
	assert.Error(t, err)
}

func TestInstantiate_Golden(t *testing.T) {
	tm, err := Builtin()
	require.NoError(t, err)

	ids := []string{"tsk-1", "tsk-2", "tsk-3", "tsk-4", "tsk-5", "tsk-6", "tsk-7", "tsk-8", "tsk-9"}
	tasks, err := Instantiate(tm, "wf-golden", NewFixedGenerator(ids...), fixedNow)
	require.NoError(t, err)

	planJSON, err := json.MarshalIndent(tasks, "", "  ")
	require.NoError(t, err)
	planJSON = append(planJSON, '\n')

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "equity_donation_plan", planJSON)
}
