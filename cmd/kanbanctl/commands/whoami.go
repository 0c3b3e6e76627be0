package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newWhoamiCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the user the server sees for --token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := opts.client().Me(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if user.Anonymous {
				fmt.Fprintln(out, "anonymous (server has auth disabled)")
				return nil
			}
			fmt.Fprintln(out, user.ID)
			if user.Email != "" {
				fmt.Fprintf(out, "email: %s\n", user.Email)
			}
			if user.Name != "" {
				fmt.Fprintf(out, "name: %s\n", user.Name)
			}
			return nil
		},
	}
}
