package template

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/equigive/taskflow/internal/task"
)

// Templates are authored in CUE under a top-level "template" struct:
//
//	template: {
//		name:    "equity-donation"
//		version: 1
//		tasks: [
//			{key: "donor_nda", title: "Sign NDA", role: "donor", type: "signature", order: 10},
//			{key: "share_details", title: "...", role: "donor", type: "document_upload",
//			 order: 20, depends_on: ["donor_nda"]},
//		]
//	}

// Compile parses a CUE value holding a "template" struct into a validated
// Template. Uses the CUE Go API directly, not a CLI subprocess.
func Compile(v cue.Value) (*Template, error) {
	if err := v.Err(); err != nil {
		return nil, &CompileError{Field: "template", Message: err.Error()}
	}

	root := v.LookupPath(cue.ParsePath("template"))
	if !root.Exists() {
		return nil, &CompileError{Field: "template", Message: "top-level template struct is required"}
	}

	tmpl := &Template{}

	name, err := lookupString(root, "name", true)
	if err != nil {
		return nil, err
	}
	tmpl.Name = name

	versionVal := root.LookupPath(cue.ParsePath("version"))
	if !versionVal.Exists() {
		return nil, &CompileError{Field: "version", Message: "version is required", Pos: pos(root)}
	}
	version, err := versionVal.Int64()
	if err != nil {
		return nil, &CompileError{Field: "version", Message: err.Error(), Pos: pos(versionVal)}
	}
	tmpl.Version = int(version)

	tasksVal := root.LookupPath(cue.ParsePath("tasks"))
	if !tasksVal.Exists() {
		return nil, &CompileError{Field: "tasks", Message: "tasks list is required", Pos: pos(root)}
	}
	iter, err := tasksVal.List()
	if err != nil {
		return nil, &CompileError{Field: "tasks", Message: "tasks must be a list", Pos: pos(tasksVal)}
	}
	for iter.Next() {
		bp, err := compileBlueprint(iter.Value())
		if err != nil {
			return nil, err
		}
		tmpl.Blueprints = append(tmpl.Blueprints, *bp)
	}

	if err := tmpl.Validate(); err != nil {
		return nil, err
	}
	return tmpl, nil
}

// compileBlueprint parses one entry of the tasks list.
func compileBlueprint(v cue.Value) (*Blueprint, error) {
	bp := &Blueprint{}

	key, err := lookupString(v, "key", true)
	if err != nil {
		return nil, err
	}
	bp.Key = key

	title, err := lookupString(v, "title", true)
	if err != nil {
		return nil, err
	}
	bp.Title = title

	role, err := lookupString(v, "role", true)
	if err != nil {
		return nil, err
	}
	bp.Role = task.Role(role)

	typ, err := lookupString(v, "type", true)
	if err != nil {
		return nil, err
	}
	bp.Type = task.Type(typ)

	orderVal := v.LookupPath(cue.ParsePath("order"))
	if orderVal.Exists() {
		order, err := orderVal.Int64()
		if err != nil {
			return nil, &CompileError{Field: "order", Message: err.Error(), Pos: pos(orderVal)}
		}
		bp.Order = int(order)
	}

	depsVal := v.LookupPath(cue.ParsePath("depends_on"))
	if depsVal.Exists() {
		iter, err := depsVal.List()
		if err != nil {
			return nil, &CompileError{Field: "depends_on", Message: "depends_on must be a list", Pos: pos(depsVal)}
		}
		for iter.Next() {
			dep, err := iter.Value().String()
			if err != nil {
				return nil, &CompileError{Field: "depends_on", Message: err.Error(), Pos: pos(iter.Value())}
			}
			bp.DependsOn = append(bp.DependsOn, dep)
		}
	}

	metaVal := v.LookupPath(cue.ParsePath("metadata"))
	if metaVal.Exists() {
		meta := map[string]string{}
		if err := metaVal.Decode(&meta); err != nil {
			return nil, &CompileError{Field: "metadata", Message: err.Error(), Pos: pos(metaVal)}
		}
		bp.Metadata = meta
	}

	return bp, nil
}

// CompileString compiles CUE source text into a Template.
func CompileString(src string) (*Template, error) {
	ctx := cuecontext.New()
	return Compile(ctx.CompileString(src))
}

// LoadDir loads every template defined by .cue files in dir (non-recursive).
// Each file must define exactly one top-level template struct.
func LoadDir(dir string) ([]*Template, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template dir: not a directory: %s", dir)
	}

	files, err := findCUEFiles(dir)
	if err != nil {
		return nil, fmt.Errorf("scan template dir: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .cue files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances(files, &load.Config{Dir: dir})

	var templates []*Template
	for _, inst := range instances {
		if inst.Err != nil {
			return nil, fmt.Errorf("load templates: %w", inst.Err)
		}
		v := ctx.BuildInstance(inst)
		tmpl, err := Compile(v)
		if err != nil {
			return nil, err
		}
		templates = append(templates, tmpl)
	}
	if len(templates) == 0 {
		return nil, fmt.Errorf("no templates found in %s", dir)
	}
	return templates, nil
}

// findCUEFiles lists .cue files directly under dir, sorted by name.
func findCUEFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if filepath.Ext(entry.Name()) == ".cue" {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// lookupString reads a string field, enforcing presence when required.
func lookupString(v cue.Value, field string, required bool) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		if required {
			return "", &CompileError{Field: field, Message: field + " is required", Pos: pos(v)}
		}
		return "", nil
	}
	s, err := fv.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: err.Error(), Pos: pos(fv)}
	}
	return s, nil
}

// pos renders a CUE source position for error messages, empty when unknown.
func pos(v cue.Value) string {
	p := v.Pos()
	if !p.IsValid() {
		return ""
	}
	return fmt.Sprintf("%s:%d:%d", p.Filename(), p.Line(), p.Column())
}
