// Package cmd defines the CLI commands for the webserial executable.
package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/khoward/webserial/internal/book"
	"github.com/khoward/webserial/internal/discover"
)

// newDiscoverCmd creates the 'discover' subcommand. It traverses the chapter
// list of the given menu address and persists the resulting snapshot without
// downloading any content.
func newDiscoverCmd() *cobra.Command {
	var (
		keyOverride string
		force       bool
	)
	cmd := &cobra.Command{
		Use:   "discover <menu-url>",
		Short: "Discover a work's chapter list and persist it",
		Long: `Renders the chapter-list page (and every further page reachable via the
configured pagination rule), collects the chapter links in reading order, and
writes the snapshot used by later download runs. An existing snapshot is left
untouched unless --force is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			snap, err := runDiscovery(cmd.Context(), appInstance, args[0], keyOverride, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "discovered %d chapters for %s (identity %s)\n",
				len(snap.Chapters), snap.MenuURL, snap.Identity)
			return nil
		},
	}
	cmd.Flags().StringVar(&keyOverride, "key", "", "override the derived work identity")
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing snapshot and reset completion state")
	return cmd
}

// runDiscovery traverses the chapter list and persists the snapshot. It is
// shared by the discover command and the download command's auto-discovery
// path.
func runDiscovery(ctx context.Context, a *app, menuURL, keyOverride string, force bool) (book.WorkSnapshot, error) {
	rules := a.cfg.Rules
	if err := validateRules(a, rules); err != nil {
		return book.WorkSnapshot{}, err
	}

	identity, derived := book.DeriveIdentity(menuURL, keyOverride)
	a.logger.Info("starting chapter discovery",
		zap.String("menu_url", menuURL),
		zap.String("identity", identity))

	trav := discover.NewTraverser(a.renderer, a.extractor, rules, a.logger)
	chapters, err := trav.Run(ctx, menuURL)
	if err != nil {
		return book.WorkSnapshot{}, fmt.Errorf("discover chapters: %w", err)
	}
	if len(chapters) == 0 {
		return book.WorkSnapshot{}, fmt.Errorf("no chapters found at %s; check the chapter rule", menuURL)
	}

	snap := book.WorkSnapshot{
		Identity:   identity,
		DerivedKey: derived,
		MenuURL:    menuURL,
		Rules:      rules,
		Chapters:   chapters,
	}
	if force {
		snap, err = a.snapshots.Replace(ctx, snap)
	} else {
		snap, err = a.snapshots.Create(ctx, snap)
	}
	if err != nil {
		if errors.Is(err, book.ErrSnapshotExists) {
			return book.WorkSnapshot{}, fmt.Errorf("snapshot for %s already exists; use --force to replace it", identity)
		}
		return book.WorkSnapshot{}, fmt.Errorf("persist snapshot: %w", err)
	}
	return snap, nil
}

// validateRules checks rule presence and expression compilability before any
// page is rendered.
func validateRules(a *app, rules book.RuleSet) error {
	if err := rules.Validate(); err != nil {
		return fmt.Errorf("invalid rules: %w", err)
	}
	exprs := map[string]string{
		"chapter_xpath":            rules.ChapterXPath,
		"content_xpath":            rules.ContentXPath,
		"list_pagination_xpath":    rules.ListPaginationXPath,
		"content_pagination_xpath": rules.ContentPaginationXPath,
	}
	for name, expr := range exprs {
		if expr == "" {
			continue
		}
		if err := a.extractor.Validate(expr); err != nil {
			return fmt.Errorf("invalid %s: %w", name, err)
		}
	}
	return nil
}
