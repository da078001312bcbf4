package cli

import (
	"fmt"

	"github.com/equigive/taskflow/internal/config"
	"github.com/equigive/taskflow/internal/store"
	"github.com/equigive/taskflow/internal/template"
)

// loadConfig reads the configured YAML file with environment overrides.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// openStore opens the SQLite task store at the configured path.
func openStore(cfg *config.Config) (*store.Store, error) {
	st, err := store.Open(cfg.Database.Path)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return st, nil
}

// resolveTemplate picks the workflow template: a named template from the
// configured directory, or the built-in equity-donation flow.
func resolveTemplate(cfg *config.Config, name string) (*template.Template, error) {
	if cfg.Template.Dir == "" {
		tmpl, err := template.Builtin()
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "built-in template is broken", err)
		}
		if name != "" && name != tmpl.Name {
			return nil, NewExitError(ExitCommandError,
				fmt.Sprintf("template %q not found (no template dir configured)", name))
		}
		return tmpl, nil
	}

	templates, err := template.LoadDir(cfg.Template.Dir)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load templates", err)
	}
	if name == "" {
		if len(templates) == 1 {
			return templates[0], nil
		}
		return nil, NewExitError(ExitCommandError,
			fmt.Sprintf("%d templates in %s, pick one with --template", len(templates), cfg.Template.Dir))
	}
	for _, t := range templates {
		if t.Name == name {
			return t, nil
		}
	}
	return nil, NewExitError(ExitCommandError,
		fmt.Sprintf("template %q not found in %s", name, cfg.Template.Dir))
}
