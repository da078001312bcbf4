// Package template defines workflow templates and their instantiation.
//
// A template is a named, versioned DAG of task blueprints partitioned into
// donor / nonprofit_admin / appraiser lanes. Templates are authored in CUE
// and compiled into Template values; compilation rejects dangling dependency
// references and cycles outright, so every instantiated workflow is acyclic
// by construction.
package template

import (
	"fmt"

	"github.com/equigive/taskflow/internal/task"
)

// Blueprint describes one task to be created at instantiation time.
// DependsOn references sibling blueprints by key; keys are resolved to
// freshly generated task ids during instantiation and never leak into the
// store.
type Blueprint struct {
	Key       string            `json:"key"`
	Title     string            `json:"title"`
	Role      task.Role         `json:"role"`
	Type      task.Type         `json:"type"`
	Order     int               `json:"order"`
	DependsOn []string          `json:"depends_on,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Template is a compiled workflow definition.
type Template struct {
	Name       string      `json:"name"`
	Version    int         `json:"version"`
	Blueprints []Blueprint `json:"tasks"`
}

// Validate checks structural validity: required fields, unique keys,
// resolvable dependency references, and acyclicity. A cycle is a hard error
// (*CycleError), not a warning - the scheduling invariants assume a DAG.
func (t *Template) Validate() error {
	if t.Name == "" {
		return &CompileError{Field: "name", Message: "template name is required"}
	}
	if t.Version < 1 {
		return &CompileError{Field: "version", Message: "template version must be >= 1"}
	}
	if len(t.Blueprints) == 0 {
		return &CompileError{Field: "tasks", Message: "template requires at least one task"}
	}

	keys := make(map[string]bool, len(t.Blueprints))
	for _, bp := range t.Blueprints {
		if bp.Key == "" {
			return &CompileError{Field: "tasks", Message: "blueprint key is required"}
		}
		if keys[bp.Key] {
			return &CompileError{Field: "tasks", Message: fmt.Sprintf("duplicate blueprint key %q", bp.Key)}
		}
		keys[bp.Key] = true
		if bp.Title == "" {
			return &CompileError{Field: "tasks", Message: fmt.Sprintf("blueprint %q: title is required", bp.Key)}
		}
		if !task.ValidRoles[bp.Role] {
			return &CompileError{Field: "tasks", Message: fmt.Sprintf("blueprint %q: unknown role %q", bp.Key, bp.Role)}
		}
		if !task.ValidTypes[bp.Type] {
			return &CompileError{Field: "tasks", Message: fmt.Sprintf("blueprint %q: unknown type %q", bp.Key, bp.Type)}
		}
	}

	for _, bp := range t.Blueprints {
		for _, dep := range bp.DependsOn {
			if dep == bp.Key {
				return &CompileError{Field: "tasks", Message: fmt.Sprintf("blueprint %q depends on itself", bp.Key)}
			}
			if !keys[dep] {
				return &CompileError{Field: "tasks", Message: fmt.Sprintf("blueprint %q depends on unknown key %q", bp.Key, dep)}
			}
		}
	}

	if cycle := findCycle(t.Blueprints); cycle != nil {
		return &CycleError{Path: cycle}
	}

	return nil
}

// Blueprint returns the blueprint with the given key, or nil.
func (t *Template) Blueprint(key string) *Blueprint {
	for i := range t.Blueprints {
		if t.Blueprints[i].Key == key {
			return &t.Blueprints[i]
		}
	}
	return nil
}

// CompileError reports an invalid template definition.
type CompileError struct {
	Field   string
	Message string
	Pos     string // file:line:col when compiled from CUE, empty otherwise
}

func (e *CompileError) Error() string {
	if e.Pos != "" {
		return fmt.Sprintf("%s: %s: %s", e.Pos, e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CycleError reports a dependency cycle in a template definition.
type CycleError struct {
	// Path lists the blueprint keys forming the cycle, with the first key
	// repeated at the end: ["a", "b", "a"].
	Path []string
}

func (e *CycleError) Error() string {
	msg := "dependency cycle:"
	for i, key := range e.Path {
		if i > 0 {
			msg += " ->"
		}
		msg += " " + key
	}
	return msg
}
