// Package commands implements the kanbanctl command tree.
package commands

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/shuvam773/kanban/client"
)

const (
	envServer = "KANBAN_URL"
	envToken  = "KANBAN_TOKEN"
	envBoard  = "BOARD_ID"

	defaultServer = "http://localhost:8080"
	defaultBoard  = "default-board"
)

var red = color.New(color.FgRed, color.Bold)

type globalOptions struct {
	server string
	token  string
	board  string
}

// NewRootCmd builds the full command tree.
func NewRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "kanbanctl",
		Short: "Work with a collaborative kanban board from the terminal",
		Long: `kanbanctl talks to a board-api server: it lists the board, creates and
moves tasks, and watches live changes as other people make them.

The server and token default to $KANBAN_URL and $KANBAN_TOKEN.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceErrors:      true,
		SilenceUsage:       true,
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
	}
	root.PersistentFlags().StringVarP(&opts.server, "server", "s", envOr(envServer, defaultServer), "board-api base URL")
	root.PersistentFlags().StringVarP(&opts.token, "token", "t", os.Getenv(envToken), "bearer token")
	root.PersistentFlags().StringVarP(&opts.board, "board", "b", envOr(envBoard, defaultBoard), "board id")

	root.AddCommand(
		newBoardCmd(opts),
		newSectionCmd(opts),
		newTaskCmd(opts),
		newWatchCmd(opts),
		newTokenCmd(),
		newWhoamiCmd(opts),
	)
	return root
}

// Execute runs the command tree and prints any error in red.
func Execute() error {
	root := NewRootCmd()
	err := root.Execute()
	if err != nil {
		red.Fprintf(root.ErrOrStderr(), "error: %v\n", err)
	}
	return err
}

func (o *globalOptions) client() *client.Client {
	c := client.New(o.server, o.token)
	c.BoardID = o.board
	return c
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
