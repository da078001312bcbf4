package harness

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Scenario is a declarative workflow lifecycle test: a sequence of steps
// against a freshly instantiated workflow, plus expectations on the final
// state. Tasks are referenced by blueprint key, never by generated id.
type Scenario struct {
	// Name uniquely identifies this scenario and names its workflow.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Steps run in order against the instantiated workflow.
	Steps []Step `yaml:"steps"`

	// Expect is evaluated after all steps have run.
	Expect Expect `yaml:"expect"`
}

// Step is one action in a scenario flow. Exactly one of Complete, Start,
// Tag, or Event must be set.
type Step struct {
	// Complete finishes the task with the given blueprint key.
	Complete string `yaml:"complete,omitempty"`

	// Start moves the task with the given blueprint key to in_progress.
	Start string `yaml:"start,omitempty"`

	// Tag merges Metadata into the task with the given blueprint key.
	Tag string `yaml:"tag,omitempty"`

	// Event delivers a raw e-signature provider payload to the adapter.
	Event string `yaml:"event,omitempty"`

	// Actor is recorded as completed_by for Complete steps.
	Actor string `yaml:"actor,omitempty"`

	// Metadata is the bag merged by Tag steps, or the outcome metadata of
	// Complete steps.
	Metadata map[string]string `yaml:"metadata,omitempty"`

	// ExpectError asserts the step fails: "not_found", "blocked".
	ExpectError string `yaml:"expect_error,omitempty"`

	// ExpectUnblocked asserts exactly these blueprint keys were unblocked
	// by a Complete step.
	ExpectUnblocked []string `yaml:"expect_unblocked,omitempty"`

	// ExpectOutcome asserts the adapter outcome of an Event step
	// (completed, metadata_updated, ignored).
	ExpectOutcome string `yaml:"expect_outcome,omitempty"`
}

// Expect describes the required final state of the workflow.
type Expect struct {
	// Status maps blueprint keys to required task statuses.
	Status map[string]string `yaml:"status,omitempty"`

	// Progress maps role names (or "overall") to required progress values.
	Progress map[string]string `yaml:"progress,omitempty"`
}

// LoadScenario reads one scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, fmt.Errorf("parse scenario %s: %w", path, err)
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("scenario %s: name is required", path)
	}
	if len(sc.Steps) == 0 {
		return nil, fmt.Errorf("scenario %s: at least one step is required", sc.Name)
	}
	return &sc, nil
}

// LoadScenarios reads every .yaml scenario in a directory, sorted by
// filename for stable ordering.
func LoadScenarios(dir string) ([]*Scenario, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read scenario dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	scenarios := make([]*Scenario, 0, len(paths))
	for _, p := range paths {
		sc, err := LoadScenario(p)
		if err != nil {
			return nil, err
		}
		scenarios = append(scenarios, sc)
	}
	return scenarios, nil
}
