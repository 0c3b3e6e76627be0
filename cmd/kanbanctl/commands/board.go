package commands

import (
	"github.com/spf13/cobra"
)

func newBoardCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "board",
		Short: "Print the whole board",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sections, version, err := opts.client().Sections(cmd.Context())
			if err != nil {
				return err
			}
			renderBoard(cmd.OutOrStdout(), opts.board, version, sections)
			return nil
		},
	}
}
