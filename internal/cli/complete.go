package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/equigive/taskflow/internal/engine"
	"github.com/equigive/taskflow/internal/task"
)

// CompleteOptions holds flags for the complete command.
type CompleteOptions struct {
	*RootOptions
	Actor   string
	Outcome string
}

// NewCompleteCommand creates the complete command.
func NewCompleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Complete a task and cascade-unblock its dependents",
		Long: `Complete a task.

Records the completing actor and optional outcome metadata, then unblocks
every dependent whose dependencies are all completed. Completing an
already-completed task is a no-op; completing a blocked task is refused.

Example:
  taskflow complete 0195f1a2-... --actor donor@example.org
  taskflow complete 0195f1a2-... --actor ops --outcome '{"note":"verified"}'`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplete(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Actor, "actor", "", "identity recorded as completed_by (required)")
	cmd.Flags().StringVar(&opts.Outcome, "outcome", "", "outcome metadata as a JSON object")
	_ = cmd.MarkFlagRequired("actor")
	return cmd
}

func runComplete(opts *CompleteOptions, taskID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	var outcome map[string]string
	if opts.Outcome != "" {
		if err := json.Unmarshal([]byte(opts.Outcome), &outcome); err != nil {
			return WrapExitError(ExitCommandError, "invalid --outcome JSON", err)
		}
	}

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	eng := engine.New(st)
	res, err := eng.CompleteTask(cmd.Context(), taskID, opts.Actor, outcome)
	switch {
	case errors.Is(err, task.ErrNotFound):
		_ = formatter.Error(fmt.Sprintf("task %s not found", taskID), nil)
		return NewExitError(ExitFailure, "task not found")
	case errors.Is(err, task.ErrBlocked):
		_ = formatter.Error(fmt.Sprintf("task %s is blocked on unsatisfied dependencies", taskID), nil)
		return NewExitError(ExitFailure, "task is blocked")
	case err != nil:
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "completion failed", err)
	}

	return formatter.SuccessText(res, completionText(res))
}

func completionText(res *engine.CompletionResult) string {
	if res.AlreadyCompleted {
		return fmt.Sprintf("task %s was already completed by %s", res.Task.ID, res.Task.CompletedBy)
	}
	text := fmt.Sprintf("✓ task %s completed", res.Task.ID)
	if len(res.Unblocked) > 0 {
		text += ", unblocked: " + strings.Join(res.Unblocked, ", ")
	}
	for _, f := range res.Failures {
		text += fmt.Sprintf("\n  ! dependent %s: %s", f.TaskID, f.Reason)
	}
	return text
}
