package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shuvam773/kanban/domain"
)

func newSectionCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "section",
		Short: "Create, rename and delete sections",
	}

	var after string
	add := &cobra.Command{
		Use:   "add NAME",
		Short: "Add a section, optionally right after another one",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sec, err := opts.client().CreateSection(cmd.Context(), domain.SectionInput{
				Name:              strings.Join(args, " "),
				SelectedSectionID: after,
			})
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "section %q created: %s\n", sec.Name, sec.ID)
			return nil
		},
	}
	add.Flags().StringVar(&after, "after", "", "insert after this section id")

	rename := &cobra.Command{
		Use:   "rename ID NAME",
		Short: "Rename a section",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			sec, err := opts.client().UpdateSection(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "section %s renamed to %q\n", sec.ID, sec.Name)
			return nil
		},
	}

	remove := &cobra.Command{
		Use:     "rm ID",
		Aliases: []string{"delete"},
		Short:   "Delete a section and every task in it",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskIDs, err := opts.client().DeleteSection(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			green.Fprintf(cmd.OutOrStdout(), "section %s deleted", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), " (%d tasks removed)\n", len(taskIDs))
			return nil
		},
	}

	cmd.AddCommand(add, rename, remove)
	return cmd
}
