package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/logging"
	"github.com/dedupfs/dupview/internal/pathutil"
	"github.com/dedupfs/dupview/internal/session"
	"github.com/dedupfs/dupview/internal/tui"
)

func stdoutIsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

func newBrowseCmd() *cobra.Command {
	var noThumbs bool

	cmd := &cobra.Command{
		Use:   "browse",
		Short: "Open the interactive duplicate browser",
		Long: `Open the interactive browser: duplicate groups on the left, the files of
the selected group on the right. Thumbnails are requested for rows as they
scroll into view, at most six at a time.

Logs go to --log-file (default: dupview.log in the config directory) so
they never draw over the screen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if noThumbs {
				return runBrowseWith(cmd, func(cfg *config.Config) { cfg.Thumbnails = false })
			}
			return runBrowse(cmd)
		},
	}

	cmd.Flags().BoolVar(&noThumbs, "no-thumbnails", false, "Do not request thumbnails")
	return cmd
}

func runBrowse(cmd *cobra.Command) error {
	return runBrowseWith(cmd, nil)
}

func runBrowseWith(cmd *cobra.Command, adjust func(*config.Config)) error {
	if !stdoutIsTerminal() {
		return errors.New("browse needs a terminal; use 'dupview groups list' for plain output")
	}

	path := logFile
	if path == "" {
		path = config.DefaultLogPath()
	}
	path, err := pathutil.ResolveAbsolutePath(path)
	if err != nil {
		return fmt.Errorf("invalid log file path: %w", err)
	}
	// Errors logged by the session also reach the status line
	bus := events.NewEventBus(constants.EventBusDefaultBuffer)
	defer bus.Close()

	fileLog, err := logging.NewFileLogger(path, bus)
	if err != nil {
		return err
	}
	defer fileLog.Close()

	sess, client, err := openSession(session.Options{EventBus: bus, Logger: fileLog}, adjust)
	if err != nil {
		return err
	}
	defer sess.Close()

	if err := client.CheckConnection(GetContext()); err != nil {
		return fmt.Errorf("cannot reach %s: %w", client.BaseURL(), err)
	}

	fileLog.Info().Str("api", client.BaseURL()).Msg("browser started")
	if err := tui.Run(sess, tui.WithURLResolver(client.ResolveURL)); err != nil {
		return fmt.Errorf("browser failed: %w", err)
	}
	fileLog.Info().Int64("dropped_events", bus.GetDroppedEventCount()).Msg("browser stopped")
	return nil
}
