package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/equigive/taskflow/internal/template"
)

// ValidationResult holds template validation results.
type ValidationResult struct {
	Valid     bool     `json:"valid"`
	Templates []string `json:"templates,omitempty"`
	Errors    []string `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <templates-dir>",
		Short: "Validate workflow templates without touching the database",
		Long: `Compile and validate CUE workflow templates.

Checks blueprint keys, role and type values, dependency references, and
rejects dependency cycles. Nothing is written anywhere.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}
	return cmd
}

func runValidate(opts *RootOptions, dir string, cmd *cobra.Command) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		_ = formatter.Error(fmt.Sprintf("templates directory not found: %s", dir), nil)
		return NewExitError(ExitCommandError, "templates directory not found")
	}

	templates, err := template.LoadDir(dir)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "validation failed", err)
	}

	result := ValidationResult{Valid: true}
	for _, t := range templates {
		formatter.VerboseLog("validating template: %s", t.Name)
		if err := t.Validate(); err != nil {
			result.Valid = false
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", t.Name, err))
			continue
		}
		result.Templates = append(result.Templates, t.Name)
	}

	if !result.Valid {
		if jsonErr := formatter.Error("validation failed", result.Errors); jsonErr != nil {
			return jsonErr
		}
		return NewExitError(ExitFailure, "validation failed")
	}

	return formatter.SuccessText(result,
		fmt.Sprintf("✓ %d template(s) valid", len(result.Templates)))
}
