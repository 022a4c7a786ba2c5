package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/dedupfs/dupview/internal/api"
	"github.com/dedupfs/dupview/internal/config"
	"github.com/dedupfs/dupview/internal/events"
	"github.com/dedupfs/dupview/internal/models"
	"github.com/dedupfs/dupview/internal/pathutil"
	"github.com/dedupfs/dupview/internal/progress"
	"github.com/dedupfs/dupview/internal/ratelimit"
	"github.com/dedupfs/dupview/internal/session"
	"github.com/dedupfs/dupview/internal/thumbs"
)

// newThumbsCmd creates the 'thumbs' command group.
func newThumbsCmd() *cobra.Command {
	thumbsCmd := &cobra.Command{
		Use:   "thumbs",
		Short: "Prefetch and inspect thumbnails",
		Long: `Thumbnail commands.

Commands:
  prefetch  - Render thumbnails for every file of one or more groups
  status    - Show one thumbnail job
  get       - Download a rendered thumbnail
  metrics   - Show the server's thumbnail queue
  cleanup   - Schedule removal of a group's thumbnails`,
	}

	thumbsCmd.AddCommand(newThumbsPrefetchCmd())
	thumbsCmd.AddCommand(newThumbsStatusCmd())
	thumbsCmd.AddCommand(newThumbsGetCmd())
	thumbsCmd.AddCommand(newThumbsMetricsCmd())
	thumbsCmd.AddCommand(newThumbsCleanupCmd())
	return thumbsCmd
}

func newThumbsPrefetchCmd() *cobra.Command {
	var (
		limit       int
		loadWorkers int
	)

	cmd := &cobra.Command{
		Use:   "prefetch <group_key> [group_key...]",
		Short: "Render thumbnails for the files of duplicate groups",
		Long: `Load the files of each group and run every file through the thumbnail
pipeline, at most six renders in flight across all groups. Files whose
thumbnails are already in the local cache are counted without a request.

Examples:
  dupview thumbs prefetch sha256:3f1c...
  dupview thumbs prefetch g1 g2 g3 --limit 100`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := GetContext()
			log := GetLogger()

			sess, client, err := openSession(session.Options{Logger: log}, func(cfg *config.Config) {
				// Requests are made explicitly below
				cfg.Thumbnails = false
			})
			if err != nil {
				return err
			}
			defer sess.Close()

			ui := progress.NewPrefetchUI(len(args))
			defer ui.Wait()

			res, err := prefetchGroups(ctx, sess, args, prefetchOptions{
				limit:       limit,
				loadWorkers: loadWorkers,
				ui:          ui,
			})
			if err != nil {
				return err
			}

			calls, throttled := client.Usage()
			log.Info().
				Int("groups", len(args)).
				Int("ready", res.ready).
				Int("failed", res.failed).
				Int64("thumbnail_calls", calls[ratelimit.ScopeThumbnails]).
				Int64("throttled", throttled).
				Msg("prefetch finished")
			if res.failed > 0 || res.groupErrors > 0 {
				return fmt.Errorf("%d thumbnail(s) failed, %d group(s) could not be loaded", res.failed, res.groupErrors)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum files per group (0 = all)")
	cmd.Flags().IntVar(&loadWorkers, "load-workers", 4, "Groups whose file lists load concurrently")
	return cmd
}

type prefetchOptions struct {
	limit       int
	loadWorkers int
	ui          *progress.PrefetchUI
}

type prefetchResult struct {
	ready       int
	failed      int
	groupErrors int
}

// prefetchGroups loads the file lists of groupKeys concurrently, enqueues
// every unsettled file and waits for the scheduler to drain. Bars advance
// from thumbnail events and are reconciled against the cache at the end,
// since the bus drops events when a subscriber falls behind.
func prefetchGroups(ctx context.Context, sess *session.Session, groupKeys []string, opts prefetchOptions) (prefetchResult, error) {
	cache := sess.Cache()
	bus := sess.EventBus()
	thumbEvents := bus.Subscribe(events.EventThumbnailUpdated)

	var (
		mu      sync.Mutex
		owner   = make(map[int64]*progress.GroupBar)
		members = make(map[*progress.GroupBar][]int64)
	)

	// Live progress
	listenDone := make(chan struct{})
	go func() {
		defer close(listenDone)
		for ev := range thumbEvents {
			te, ok := ev.(*events.ThumbnailEvent)
			if !ok {
				continue
			}
			status := thumbs.Status(te.Status)
			if !status.Settled() {
				continue
			}
			mu.Lock()
			bar := owner[te.FileID]
			delete(owner, te.FileID)
			mu.Unlock()
			if bar != nil {
				bar.Settle(status == thumbs.StatusReady)
			}
		}
	}()

	var res prefetchResult
	var resMu sync.Mutex
	bars := make([]*progress.GroupBar, len(groupKeys))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.loadWorkers, 1))
	for i, key := range groupKeys {
		bar := opts.ui.AddGroupBar(i+1, key, 0)
		bars[i] = bar
		g.Go(func() error {
			files := sess.GroupFiles(key)
			if err := files.LoadAll(gctx, opts.limit); err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				// One unreadable group does not stop the others
				bar.Complete(err)
				resMu.Lock()
				res.groupErrors++
				resMu.Unlock()
				return nil
			}

			items := files.Items()
			if opts.limit > 0 && len(items) > opts.limit {
				items = items[:opts.limit]
			}
			bar.SetTotal(int64(len(items)))

			ids := make([]int64, 0, len(items))
			mu.Lock()
			for _, f := range items {
				ids = append(ids, f.FileID)
				switch cache.Status(f.FileID) {
				case thumbs.StatusReady:
					bar.Settle(true)
				case thumbs.StatusError:
					bar.Settle(false)
				default:
					owner[f.FileID] = bar
				}
			}
			members[bar] = ids
			mu.Unlock()

			for _, id := range ids {
				sess.RequestThumbnail(id)
			}
			return nil
		})
	}

	loadErr := g.Wait()
	if loadErr == nil {
		loadErr = sess.ThumbnailsIdle(ctx)
	}

	bus.Unsubscribe(events.EventThumbnailUpdated, thumbEvents)
	<-listenDone

	if loadErr != nil {
		for _, bar := range bars {
			bar.Complete(loadErr)
		}
		return res, loadErr
	}

	for _, bar := range bars {
		ids, ok := members[bar]
		if !ok {
			continue
		}
		ready, failed := reconcile(bar, cache, ids)
		res.ready += ready
		res.failed += failed
		bar.Complete(nil)
	}
	return res, nil
}

// reconcile settles whatever the bar missed and returns the final counts.
func reconcile(bar *progress.GroupBar, cache *thumbs.Cache, ids []int64) (ready, failed int) {
	for _, id := range ids {
		switch cache.Status(id) {
		case thumbs.StatusReady:
			ready++
		case thumbs.StatusError:
			failed++
		}
	}
	seenReady, seenFailed := bar.Counts()
	for n := seenReady; n < int64(ready); n++ {
		bar.Settle(true)
	}
	for n := seenFailed; n < int64(failed); n++ {
		bar.Settle(false)
	}
	return ready, failed
}

func newThumbsStatusCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "status <thumb_key>",
		Short: "Poll a thumbnail job once",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			snap, err := client.GetThumbnail(GetContext(), args[0])
			if err != nil {
				if api.IsNotFound(err) {
					return fmt.Errorf("no thumbnail job %q", args[0])
				}
				return fmt.Errorf("failed to get thumbnail: %w", err)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), snap)
			}
			printThumbnail(cmd.OutOrStdout(), snap, client.ResolveURL)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&outputJSON, "json", "J", false, "Output as JSON")
	return cmd
}

func printThumbnail(w io.Writer, t *models.Thumbnail, resolve func(string) string) {
	fmt.Fprintf(w, "Thumbnail %s\n", t.ThumbKey)
	fmt.Fprintf(w, "  Status:  %s\n", t.Status)
	if t.FileID != 0 {
		fmt.Fprintf(w, "  File:    %d\n", t.FileID)
	}
	if t.Width != nil && t.Height != nil {
		fmt.Fprintf(w, "  Size:    %dx%d %s\n", *t.Width, *t.Height, t.Format)
	}
	if t.BytesSize != nil {
		fmt.Fprintf(w, "  Bytes:   %s\n", humanize.Bytes(uint64(max(*t.BytesSize, 0))))
	}
	if t.ContentURL != nil && *t.ContentURL != "" {
		fmt.Fprintf(w, "  Content: %s\n", resolve(*t.ContentURL))
	}
	if t.RetryAfter != nil {
		fmt.Fprintf(w, "  Retry:   %s\n", humanize.Time(*t.RetryAfter))
	}
	if t.Status == models.ThumbnailFailed {
		fmt.Fprintf(w, "  Error:   %s\n", t.Reason())
	}
}

func newThumbsGetCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "get <file_id>",
		Short: "Render (if needed) and download the thumbnail of a file",
		Long: `Run one file through the request/poll pipeline and save the rendered
thumbnail. Without --output the file is written to the current directory
as <file_id>.<format>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var fileID int64
			if _, err := fmt.Sscan(args[0], &fileID); err != nil || fileID <= 0 {
				return fmt.Errorf("invalid file id %q", args[0])
			}

			ctx := GetContext()
			sess, client, err := openSession(session.Options{Logger: GetLogger()}, func(cfg *config.Config) { cfg.Thumbnails = false })
			if err != nil {
				return err
			}
			defer sess.Close()

			sess.RequestThumbnail(fileID)
			if err := sess.ThumbnailsIdle(ctx); err != nil {
				return err
			}
			entry, _ := sess.Cache().Get(fileID)
			if entry.Status != thumbs.StatusReady {
				return thumbnailError(fileID, entry)
			}

			if outPath == "" {
				outPath = fmt.Sprintf("%d.%s", fileID, sess.Config().ThumbnailFormat)
			}
			dest, err := pathutil.ResolveAbsolutePath(outPath)
			if err != nil {
				return fmt.Errorf("invalid output path: %w", err)
			}
			var bar progress.Reporter = progress.NewNoOpProgress()
			if term.IsTerminal(int(os.Stderr.Fd())) {
				bar = progress.NewCLIByteProgress()
			}
			n, err := downloadTo(ctx, client, entry.ContentURL, dest, bar)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Saved %s (%s)\n", dest, humanize.Bytes(uint64(n)))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "output", "o", "", "Output file path")
	return cmd
}

// downloadTo writes the content behind contentURL to path via a temporary
// file, reporting bytes to bar.
func downloadTo(ctx context.Context, client *api.Client, contentURL, path string, bar progress.Reporter) (int64, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("failed to create output file: %w", err)
	}

	bar.Start(-1, filepath.Base(path))
	pw := progress.NewProgressWriter(f, bar)

	n, err := client.DownloadContent(ctx, contentURL, pw)
	closeErr := f.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		bar.Error(err)
		os.Remove(tmp)
		return n, err
	}
	bar.Finish()

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("failed to save thumbnail: %w", err)
	}
	return n, nil
}

func newThumbsMetricsCmd() *cobra.Command {
	var outputJSON bool

	cmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show the server's thumbnail queue counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := getAPIClient()
			if err != nil {
				return err
			}
			m, err := client.GetThumbnailMetrics(GetContext())
			if err != nil {
				return fmt.Errorf("failed to get thumbnail metrics: %w", err)
			}
			if outputJSON {
				return writeJSON(cmd.OutOrStdout(), m)
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Thumbnail queue (as of %s)\n", m.GeneratedAt.Local().Format(time.DateTime))
			fmt.Fprintf(w, "  Depth:    %d (%d pending, %d running)\n", m.QueueDepth, m.QueuePending, m.QueueRunning)
			fmt.Fprintf(w, "  Retries:  %d waiting, %d ready\n", m.RetryBacklog, m.RetryReady)
			fmt.Fprintf(w, "  Cleanup:  %d pending, %d running, %d overdue\n", m.CleanupPending, m.CleanupRunning, m.CleanupOverdue)
			if m.CleanupMaxLagSeconds > 0 {
				fmt.Fprintf(w, "  Max lag:  %s\n", time.Duration(m.CleanupMaxLagSeconds)*time.Second)
			}
			return nil
		},
	}

	cmd.Flags().BoolVarP(&outputJSON, "json", "J", false, "Output as JSON")
	return cmd
}

func newThumbsCleanupCmd() *cobra.Command {
	var delay time.Duration

	cmd := &cobra.Command{
		Use:   "cleanup <group_key>",
		Short: "Schedule removal of a group's rendered thumbnails",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if delay < 0 {
				return errors.New("--delay must not be negative")
			}
			client, err := getAPIClient()
			if err != nil {
				return err
			}

			req := models.GroupCleanupRequest{GroupKey: args[0]}
			if cmd.Flags().Changed("delay") {
				secs := int(delay / time.Second)
				req.DelaySeconds = &secs
			}
			snap, err := client.ScheduleGroupCleanup(GetContext(), req)
			if err != nil {
				if api.IsConflict(err) {
					return fmt.Errorf("cleanup for %s is already running: %s", args[0], api.Detail(err))
				}
				return fmt.Errorf("failed to schedule cleanup: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "✓ Cleanup %d for %s is %s, runs %s\n",
				snap.ID, snap.GroupKey, snap.Status, humanize.Time(snap.ExecuteAfter))
			return nil
		},
	}

	cmd.Flags().DurationVar(&delay, "delay", 0, "Delay before cleanup runs (server default when unset)")
	return cmd
}

// thumbnailError explains why a settled run left no usable thumbnail. A run
// cut short by cancellation clears its entry and so carries no reason.
func thumbnailError(fileID int64, entry thumbs.Entry) error {
	reason := entry.Message
	if reason == "" {
		reason = string(entry.Status)
	}
	if reason == "" {
		reason = "cancelled"
	}
	return fmt.Errorf("thumbnail for file %d: %s", fileID, reason)
}
