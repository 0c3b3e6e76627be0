package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/shuvam773/kanban/domain"
)

const dateLayout = "2006-01-02"

func parseDue(s string) (time.Time, error) {
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid due date %q: use YYYY-MM-DD or RFC 3339", s)
	}
	return t, nil
}

func newTaskCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Create, edit, move and delete tasks",
	}
	cmd.AddCommand(
		newTaskListCmd(opts),
		newTaskAddCmd(opts),
		newTaskEditCmd(opts),
		newTaskMoveCmd(opts),
		newTaskRemoveCmd(opts),
	)
	return cmd
}

func newTaskListCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ls SECTION_ID",
		Short: "List the tasks of a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := opts.client().Tasks(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			for _, t := range tasks {
				renderTask(cmd.OutOrStdout(), t)
			}
			return nil
		},
	}
}

func newTaskAddCmd(opts *globalOptions) *cobra.Command {
	var in domain.TaskInput
	var due, priority string
	cmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a task to a section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := parseDue(due)
			if err != nil {
				return err
			}
			in.Name = args[0]
			in.DueDate = dueDate
			in.Priority = domain.Priority(priority)
			t, err := opts.client().CreateTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "task %q created: %s\n", t.Name, t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.Section, "section", "", "section id")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "who owns the task")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "high, medium or low")
	for _, name := range []string{"section", "description", "assignee", "due"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newTaskEditCmd(opts *globalOptions) *cobra.Command {
	var name, description, assignee, due, priority string
	cmd := &cobra.Command{
		Use:   "edit TASK_ID",
		Short: "Change task fields; unset flags are left alone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var patch domain.TaskPatch
			flags := cmd.Flags()
			if flags.Changed("name") {
				patch.Name = &name
			}
			if flags.Changed("description") {
				patch.Description = &description
			}
			if flags.Changed("assignee") {
				patch.Assignee = &assignee
			}
			if flags.Changed("due") {
				d, err := parseDue(due)
				if err != nil {
					return err
				}
				patch.DueDate = &d
			}
			if flags.Changed("priority") {
				p := domain.Priority(priority)
				patch.Priority = &p
			}
			if patch == (domain.TaskPatch{}) {
				return errors.New("nothing to change: set at least one flag")
			}
			t, err := opts.client().UpdateTask(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "task %s updated\n", t.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "task name")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringVar(&assignee, "assignee", "", "who owns the task")
	cmd.Flags().StringVar(&due, "due", "", "due date (YYYY-MM-DD)")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "high, medium or low")
	return cmd
}

func newTaskMoveCmd(opts *globalOptions) *cobra.Command {
	var in domain.MoveInput
	cmd := &cobra.Command{
		Use:   "move TASK_ID",
		Short: "Move a task to another section",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.TaskID = args[0]
			t, dest, err := opts.client().MoveTask(cmd.Context(), in)
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "task %s moved to %q\n", t.ID, dest.Name)
			return nil
		},
	}
	cmd.Flags().StringVar(&in.SourceSectionID, "from", "", "current section id")
	cmd.Flags().StringVar(&in.DestinationSectionID, "to", "", "destination section id")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newTaskRemoveCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "rm TASK_ID",
		Aliases: []string{"delete"},
		Short:   "Delete a task",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.client().DeleteTask(cmd.Context(), args[0]); err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "task %s deleted\n", args[0])
			return nil
		},
	}
}
