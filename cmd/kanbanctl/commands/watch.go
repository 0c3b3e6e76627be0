package commands

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/shuvam773/kanban/board"
	"github.com/shuvam773/kanban/client"
	"github.com/shuvam773/kanban/domain"
)

const clearScreen = "\033[H\033[2J"

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var clear, verbose bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the board live",
		Long: `Follow the board live.

Fetches the board, subscribes to its event stream and redraws after every
change. Reconnects with backoff when the stream drops and refetches when an
update was missed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			logger := log.New()
			logger.SetOutput(cmd.ErrOrStderr())
			if !verbose {
				logger.SetLevel(log.ErrorLevel)
			}

			out := cmd.OutOrStdout()
			cache := board.NewCache()
			var mu sync.Mutex
			redraw := func(sections []domain.BoardSection) {
				mu.Lock()
				defer mu.Unlock()
				if clear {
					_, _ = out.Write([]byte(clearScreen))
				}
				renderBoard(out, opts.board, cache.Version(), sections)
			}
			syncer := client.NewSync(opts.client(), cache, logger, client.WithOnChange(redraw))
			if err := syncer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&clear, "clear", true, "clear the screen before each redraw")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "log reconnects and refetches")
	return cmd
}
