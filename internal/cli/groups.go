package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/constants"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/session"
	"github.com/dedupfs/dupview/internal/util/sanitize"
)

// newGroupsCmd creates the 'groups' command group.
func newGroupsCmd() *cobra.Command {
	groupsCmd := &cobra.Command{
		Use:   "groups",
		Short: "List duplicate groups and their files",
		Long: `Page through duplicate groups and the files that belong to them.

Commands:
  list   - List duplicate groups, largest waste first
  files  - List the files of one group`,
	}

	groupsCmd.AddCommand(newGroupsListCmd())
	groupsCmd.AddCommand(newGroupsFilesCmd())
	return groupsCmd
}

// listOptions are shared by the list commands.
type listOptions struct {
	limit      int
	all        bool
	outputJSON bool
}

func (o *listOptions) register(cmd *cobra.Command, noun string) {
	cmd.Flags().IntVarP(&o.limit, "limit", "n", 50, "Maximum number of "+noun+" to print")
	cmd.Flags().BoolVarP(&o.all, "all", "a", false, "List all "+noun+" instead of --limit")
	cmd.Flags().BoolVarP(&o.outputJSON, "json", "J", false, "Output as JSON")
}

// maxItems is the LoadAll cap; zero loads everything.
func (o listOptions) maxItems() int {
	if o.all {
		return 0
	}
	return max(o.limit, 1)
}

// pageSize shrinks the page size for small listings so one request suffices.
func (o listOptions) pageSize(configured int) int {
	if o.all {
		return configured
	}
	return min(max(o.limit, constants.MinPageSize), configured)
}

func newGroupsListCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List duplicate groups",
		Long: `List duplicate groups using keyset pagination.

Examples:
  # First 50 groups
  dupview groups list

  # Every group as JSON
  dupview groups list --all --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			sess, _, err := openSession(session.Options{Logger: GetLogger()}, func(cfg *config.Config) {
				cfg.GroupPageSize = opts.pageSize(cfg.GroupPageSize)
				cfg.Thumbnails = false
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			groups := sess.Groups()
			if err := groups.LoadAll(ctx, opts.maxItems()); err != nil {
				return fmt.Errorf("failed to list groups: %w", err)
			}
			items := groups.Items()
			if !opts.all && len(items) > opts.limit {
				items = items[:opts.limit]
			}

			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			printGroups(cmd.OutOrStdout(), items, groups.HasMore() || len(items) < groups.Len())
			return nil
		},
	}

	opts.register(cmd, "groups")
	return cmd
}

func newGroupsFilesCmd() *cobra.Command {
	opts := &listOptions{}

	cmd := &cobra.Command{
		Use:   "files <group_key>",
		Short: "List the files of a duplicate group",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			sess, _, err := openSession(session.Options{Logger: GetLogger()}, func(cfg *config.Config) {
				cfg.FilePageSize = opts.pageSize(cfg.FilePageSize)
				cfg.Thumbnails = false
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			files := sess.GroupFiles(args[0])
			if err := files.LoadAll(ctx, opts.maxItems()); err != nil {
				return fmt.Errorf("failed to list files of %s: %w", args[0], err)
			}
			items := files.Items()
			if !opts.all && len(items) > opts.limit {
				items = items[:opts.limit]
			}

			if opts.outputJSON {
				return writeJSON(cmd.OutOrStdout(), items)
			}
			printFiles(cmd.OutOrStdout(), args[0], items, files.HasMore() || len(items) < files.Len())
			return nil
		},
	}

	opts.register(cmd, "files")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func printGroups(w io.Writer, groups []models.Group, more bool) {
	if len(groups) == 0 {
		fmt.Fprintln(w, "No duplicate groups found")
		return
	}

	fmt.Fprintf(w, "Found %d group(s):\n\n", len(groups))
	var waste int64
	for _, g := range groups {
		fmt.Fprintf(w, "  %5d  %10s  %s\n", g.FileCount, humanize.Bytes(uint64(max(g.DuplicateWasteBytes, 0))), sanitize.DisplayText(g.GroupKey))
		waste += g.DuplicateWasteBytes
	}
	fmt.Fprintf(w, "\nReclaimable: %s\n", humanize.Bytes(uint64(max(waste, 0))))
	if more {
		fmt.Fprintln(w, "More groups available (use --all or a larger --limit)")
	}
}

func printFiles(w io.Writer, groupKey string, files []models.FileEntry, more bool) {
	if len(files) == 0 {
		fmt.Fprintf(w, "No files in group %s\n", groupKey)
		return
	}

	fmt.Fprintf(w, "Group %s: %d file(s)\n\n", groupKey, len(files))
	for _, f := range files {
		modified := "-"
		if f.MtimeNs != 0 {
			modified = time.Unix(0, f.MtimeNs).UTC().Format("2006-01-02 15:04")
		}
		path := sanitize.DisplayText(f.RelativePath)
		if f.LibraryName != "" {
			path = sanitize.DisplayText(f.LibraryName) + ":" + path
		}
		fmt.Fprintf(w, "  %10d  %10s  %16s  %s\n", f.FileID, humanize.Bytes(uint64(max(f.SizeBytes, 0))), modified, path)
	}
	if more {
		fmt.Fprintln(w, "More files available (use --all or a larger --limit)")
	}
}
