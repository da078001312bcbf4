// Package harness runs declarative workflow lifecycle scenarios.
//
// A scenario instantiates the built-in template into a throwaway SQLite
// database, drives completions, manual transitions, and provider events by
// blueprint key, and checks the resulting statuses and progress. Scenario
// files live in testdata and double as executable documentation of the
// cascade rules.
package harness

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/esign"
	"github.com/equigive/taskflow/internal/store"
	"github.com/equigive/taskflow/internal/task"
	"github.com/equigive/taskflow/internal/template"
	"github.com/equigive/taskflow/internal/workflow"
)

// Result collects scenario failures. An empty Failures means the scenario
// passed.
type Result struct {
	Scenario string
	Failures []string
}

// Passed reports whether every step and expectation held.
func (r *Result) Passed() bool {
	return len(r.Failures) == 0
}

func (r *Result) failf(format string, args ...any) {
	r.Failures = append(r.Failures, fmt.Sprintf(format, args...))
}

// Runner executes scenarios against a store.
type Runner struct {
	store   *store.Store
	service *workflow.Service
	engine  *engine.Engine
	adapter *esign.Adapter
	tmpl    *template.Template
	now     time.Time
}

// NewRunner builds a runner over an open store. Each scenario gets its own
// workflow inside that store, so one runner can execute many scenarios.
func NewRunner(st *store.Store) (*Runner, error) {
	tmpl, err := template.Builtin()
	if err != nil {
		return nil, fmt.Errorf("harness: %w", err)
	}

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	fixedNow := func() time.Time { return now }

	eng := engine.New(st, engine.WithNow(fixedNow))
	return &Runner{
		store: st,
		service: workflow.NewService(tmpl, st,
			workflow.WithIDGenerator(template.NewSequenceGenerator("task")),
			workflow.WithNow(fixedNow)),
		engine:  eng,
		adapter: esign.NewAdapter(esign.NewResolver(st), st, eng, esign.WithAdapterNow(fixedNow)),
		tmpl:    tmpl,
		now:     now,
	}, nil
}

// Run instantiates the scenario's workflow and executes its steps and
// expectations. Infrastructure errors abort with an error; domain
// mismatches are recorded in the Result.
func (r *Runner) Run(ctx context.Context, sc *Scenario) (*Result, error) {
	res := &Result{Scenario: sc.Name}

	workflowID := "scenario-" + sc.Name
	tasks, err := r.service.Instantiate(ctx, workflowID)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}

	// Instantiation preserves blueprint order, so keys and ids zip.
	idByKey := make(map[string]string, len(tasks))
	keyByID := make(map[string]string, len(tasks))
	for i, bp := range r.tmpl.Blueprints {
		idByKey[bp.Key] = tasks[i].ID
		keyByID[tasks[i].ID] = bp.Key
	}

	for i, step := range sc.Steps {
		if err := r.runStep(ctx, res, i, step, idByKey, keyByID); err != nil {
			return nil, fmt.Errorf("scenario %s step %d: %w", sc.Name, i, err)
		}
	}

	r.checkExpect(ctx, res, sc.Expect, workflowID, idByKey)
	return res, nil
}

func (r *Runner) runStep(ctx context.Context, res *Result, i int, step Step, idByKey, keyByID map[string]string) error {
	switch {
	case step.Complete != "":
		return r.runComplete(ctx, res, i, step, idByKey, keyByID)

	case step.Start != "":
		id, ok := idByKey[step.Start]
		if !ok {
			return fmt.Errorf("unknown blueprint key %q", step.Start)
		}
		transitioned, err := r.store.Start(ctx, id, r.now)
		if err != nil {
			return err
		}
		if !transitioned {
			res.failf("step %d: start %s did not transition", i, step.Start)
		}
		return nil

	case step.Tag != "":
		id, ok := idByKey[step.Tag]
		if !ok {
			return fmt.Errorf("unknown blueprint key %q", step.Tag)
		}
		t, err := r.store.Get(ctx, id)
		if err != nil {
			return err
		}
		merged := make(map[string]string, len(t.Metadata)+len(step.Metadata))
		for k, v := range t.Metadata {
			merged[k] = v
		}
		for k, v := range step.Metadata {
			merged[k] = v
		}
		return r.store.UpdateMetadata(ctx, id, merged, r.now)

	case step.Event != "":
		handled := r.adapter.HandleEvent(ctx, []byte(step.Event))
		if step.ExpectOutcome != "" && handled.Outcome != step.ExpectOutcome {
			res.failf("step %d: event outcome %q, want %q", i, handled.Outcome, step.ExpectOutcome)
		}
		return nil

	default:
		return fmt.Errorf("step %d has no action", i)
	}
}

func (r *Runner) runComplete(ctx context.Context, res *Result, i int, step Step, idByKey, keyByID map[string]string) error {
	id, ok := idByKey[step.Complete]
	if !ok {
		// Deliberately unknown ids (expect_error: not_found) pass through.
		id = step.Complete
	}

	actor := step.Actor
	if actor == "" {
		actor = "harness"
	}

	cr, err := r.engine.CompleteTask(ctx, id, actor, step.Metadata)
	if step.ExpectError != "" {
		if err == nil {
			res.failf("step %d: complete %s succeeded, want %s error", i, step.Complete, step.ExpectError)
			return nil
		}
		if !matchesErrorClass(err, step.ExpectError) {
			res.failf("step %d: complete %s failed with %v, want %s", i, step.Complete, err, step.ExpectError)
		}
		return nil
	}
	if err != nil {
		res.failf("step %d: complete %s: %v", i, step.Complete, err)
		return nil
	}

	if step.ExpectUnblocked != nil {
		got := make([]string, 0, len(cr.Unblocked))
		for _, uid := range cr.Unblocked {
			got = append(got, keyByID[uid])
		}
		sort.Strings(got)
		want := append([]string(nil), step.ExpectUnblocked...)
		sort.Strings(want)
		if !equalStrings(got, want) {
			res.failf("step %d: complete %s unblocked %v, want %v", i, step.Complete, got, want)
		}
	}
	return nil
}

func (r *Runner) checkExpect(ctx context.Context, res *Result, expect Expect, workflowID string, idByKey map[string]string) {
	for key, want := range expect.Status {
		id, ok := idByKey[key]
		if !ok {
			res.failf("expect: unknown blueprint key %q", key)
			continue
		}
		t, err := r.store.Get(ctx, id)
		if err != nil {
			res.failf("expect: load %s: %v", key, err)
			continue
		}
		if string(t.Status) != want {
			res.failf("expect: %s is %s, want %s", key, t.Status, want)
		}
	}

	if len(expect.Progress) == 0 {
		return
	}
	p, err := r.service.Progress(ctx, workflowID)
	if err != nil {
		res.failf("expect: progress: %v", err)
		return
	}
	for role, want := range expect.Progress {
		var got task.Progress
		if role == "overall" {
			got = p.Overall
		} else {
			got = p.ByRole[task.Role(role)]
		}
		if string(got) != want {
			res.failf("expect: progress %s is %s, want %s", role, got, want)
		}
	}
}

// matchesErrorClass maps scenario error names onto the typed errors.
func matchesErrorClass(err error, class string) bool {
	switch class {
	case "not_found":
		return errors.Is(err, task.ErrNotFound)
	case "blocked":
		return errors.Is(err, task.ErrBlocked)
	default:
		return false
	}
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
