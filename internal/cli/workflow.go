package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/equigive/taskflow/internal/store"
	"github.com/equigive/taskflow/internal/task"
	"github.com/equigive/taskflow/internal/workflow"
)

// WorkflowOptions holds flags shared by workflow-level commands.
type WorkflowOptions struct {
	*RootOptions
	Template string
}

// NewInstantiateCommand creates the instantiate command.
func NewInstantiateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "instantiate <workflow-id>",
		Short: "Create all tasks for a new workflow from a template",
		Long: `Instantiate a workflow template.

Every blueprint becomes a task with a fresh id; tasks with no dependencies
start pending, the rest blocked. The insert is one transaction: a failure
leaves zero tasks.

Example:
  taskflow instantiate donation-2025-001
  taskflow instantiate donation-2025-001 --template equity_donation`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInstantiate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Template, "template", "", "template name (default: the only/built-in template)")
	return cmd
}

func runInstantiate(opts *WorkflowOptions, workflowID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	svc, st, err := workflowService(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := svc.Instantiate(cmd.Context(), workflowID)
	if errors.Is(err, task.ErrWorkflowExists) {
		_ = formatter.Error(fmt.Sprintf("workflow %s already has tasks (use reset)", workflowID), nil)
		return NewExitError(ExitFailure, "workflow already instantiated")
	}
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "instantiate failed", err)
	}

	return formatter.SuccessText(
		map[string]any{"workflow_id": workflowID, "tasks_created": len(tasks)},
		fmt.Sprintf("✓ workflow %s instantiated with %d tasks", workflowID, len(tasks)))
}

// NewResetCommand creates the reset command.
func NewResetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reset <workflow-id>",
		Short: "Delete a workflow's tasks and re-instantiate its template",
		Long: `Reset a workflow to its initial state.

All existing tasks are deleted and the template is instantiated again with
fresh ids, inside one transaction. Completions in flight against old ids
fail with task-not-found afterwards.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReset(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Template, "template", "", "template name (default: the only/built-in template)")
	return cmd
}

func runReset(opts *WorkflowOptions, workflowID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	svc, st, err := workflowService(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := svc.Reset(cmd.Context(), workflowID)
	if err != nil {
		_ = formatter.Error(err.Error(), nil)
		return WrapExitError(ExitFailure, "reset failed", err)
	}

	return formatter.SuccessText(
		map[string]any{"workflow_id": workflowID, "tasks_created": n},
		fmt.Sprintf("✓ workflow %s reset, %d tasks created", workflowID, n))
}

// NewTasksCommand creates the tasks command.
func NewTasksCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "tasks <workflow-id>",
		Short:         "List a workflow's tasks",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTasks(opts, args[0], cmd)
		},
	}
	return cmd
}

func runTasks(opts *WorkflowOptions, workflowID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	svc, st, err := workflowService(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	tasks, err := svc.Tasks(cmd.Context(), workflowID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list tasks", err)
	}

	if opts.Format == "json" {
		return formatter.Success(tasks)
	}

	if len(tasks) == 0 {
		fmt.Fprintf(formatter.Writer, "workflow %s has no tasks\n", workflowID)
		return nil
	}
	for _, t := range tasks {
		line := fmt.Sprintf("%-12s %-36s %-15s %s", t.Status, t.ID, t.Role, t.Title)
		if len(t.Dependencies) > 0 {
			line += "  (after " + strings.Join(t.Dependencies, ", ") + ")"
		}
		fmt.Fprintln(formatter.Writer, line)
	}
	return nil
}

// NewProgressCommand creates the progress command.
func NewProgressCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkflowOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:           "progress <workflow-id>",
		Short:         "Show coarse per-role workflow progress",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProgress(opts, args[0], cmd)
		},
	}
	return cmd
}

func runProgress(opts *WorkflowOptions, workflowID string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	svc, st, err := workflowService(opts)
	if err != nil {
		return err
	}
	defer st.Close()

	p, err := svc.Progress(cmd.Context(), workflowID)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to compute progress", err)
	}

	if opts.Format == "json" {
		return formatter.Success(p)
	}

	fmt.Fprintf(formatter.Writer, "workflow %s: %s (%d/%d completed)\n",
		p.WorkflowID, p.Overall, p.Completed, p.Total)
	for _, role := range []task.Role{task.RoleDonor, task.RoleNonprofitAdmin, task.RoleAppraiser} {
		if lane, ok := p.ByRole[role]; ok {
			fmt.Fprintf(formatter.Writer, "  %-16s %s\n", role, lane)
		}
	}
	return nil
}

// workflowService wires the store and template into a workflow service
// for one command invocation. The returned store must be closed.
func workflowService(opts *WorkflowOptions) (*workflow.Service, *store.Store, error) {
	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return nil, nil, err
	}
	tmpl, err := resolveTemplate(cfg, opts.Template)
	if err != nil {
		return nil, nil, err
	}
	st, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}
	return workflow.NewService(tmpl, st), st, nil
}
