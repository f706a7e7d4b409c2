package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
	"github.com/khoward/webserial/internal/scheduler"
	"github.com/khoward/webserial/internal/stall"
)

// newDownloadCmd creates the 'download' subcommand. It accepts either a menu
// address or a previously discovered identity. With a menu address and no
// stored snapshot, discovery runs first; otherwise the stored snapshot and
// its rules are reused so resumed runs do not depend on current config.
func newDownloadCmd() *cobra.Command {
	var (
		keyOverride string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "download <menu-url | identity>",
		Short: "Download the pending chapters of a work",
		Long: `Downloads every chapter of the work that is not yet complete, using a
bounded pool of renderer sessions. Chapters whose artifact already exists are
skipped, so an interrupted run picks up where it stopped. --force re-fetches
everything regardless of prior completion.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runDownload(cmd, appInstance, args[0], keyOverride, force)
		},
	}
	cmd.Flags().StringVar(&keyOverride, "key", "", "override the derived work identity")
	cmd.Flags().BoolVar(&force, "force", false, "re-download chapters even when already complete")
	return cmd
}

func runDownload(cmd *cobra.Command, a *app, target, keyOverride string, force bool) error {
	ctx := cmd.Context()

	identity := target
	if isMenuURL(target) {
		identity, _ = book.DeriveIdentity(target, keyOverride)
	}

	snap, err := a.snapshots.Open(ctx, identity)
	switch {
	case err == nil:
	case errors.Is(err, book.ErrNotFound) && isMenuURL(target):
		a.logger.Info("no snapshot found, discovering first", zap.String("identity", identity))
		snap, err = runDiscovery(ctx, a, target, keyOverride, false)
		if err != nil {
			return err
		}
	default:
		return fmt.Errorf("open snapshot %s: %w", identity, err)
	}

	waiter := stall.NewWaiter(
		a.renderer,
		stall.NewDetector(),
		a.cfg.StallCheckInterval(),
		a.cfg.StallMaxWait(),
		a.logger,
	)
	sched := scheduler.New(
		a.renderer,
		a.extractor,
		a.snapshots,
		a.artifacts,
		waiter,
		a.hub,
		scheduler.Config{
			Concurrency: a.cfg.Download.Concurrency,
			PageRetries: uint(a.cfg.Download.PageRetries),
			RetryDelay:  a.cfg.RetryDelay(),
		},
		a.logger,
	)

	summary, err := sched.Run(ctx, snap, force)
	fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", snap.Identity, summary)
	if err != nil {
		return fmt.Errorf("download %s: %w", snap.Identity, err)
	}
	if summary.Failed > 0 {
		return fmt.Errorf("%d chapter(s) failed; re-run to retry them", summary.Failed)
	}
	return nil
}

func isMenuURL(target string) bool {
	return strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://")
}
