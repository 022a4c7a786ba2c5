package cli

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dedupfs/dupview/internal/constants"
)

func newHealthCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the catalog API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(GetContext(), constants.APIConnectionTestTimeout)
			defer cancel()

			h, err := client.Health(ctx)
			if err != nil {
				GetLogger().Error().Err(err).Str("api", client.BaseURL()).Msg("health check failed")
				return fmt.Errorf("health check failed: %w", err)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), h)
			}

			w := cmd.OutOrStdout()
			mark := "✓"
			if h.Status != "ok" {
				mark = "✗"
			}
			fmt.Fprintf(w, "%s %s at %s: %s\n", mark, h.Service, client.BaseURL(), h.Status)
			fmt.Fprintf(w, "  Environment: %s\n", h.Environment)
			if h.DryRun {
				fmt.Fprintln(w, "  Dry run:     yes (no thumbnails are rendered)")
			}
			if !h.Timestamp.IsZero() {
				fmt.Fprintf(w, "  Server time: %s\n", humanize.Time(h.Timestamp))
			}
			if h.Status != "ok" {
				return fmt.Errorf("server status %q", h.Status)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&outputJSON, "json", "J", false, "Output as JSON")
	return cmd
}
