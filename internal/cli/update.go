package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tom-doerr/perplexity_search/internal/config"
	"github.com/tom-doerr/perplexity_search/internal/logging"
	"github.com/tom-doerr/perplexity_search/internal/render"
	"github.com/tom-doerr/perplexity_search/internal/update"
	"github.com/tom-doerr/perplexity_search/internal/version"
)

const updateCheckTimeout = 5 * time.Second

func newUpdateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Install the latest release with go install",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runUpdate(cmd)
		},
	}
}

// runUpdate does not go through config.Load: updating must work without an
// API key.
func (a *app) runUpdate(cmd *cobra.Command) error {
	logger, err := logging.New(logging.Options{
		Debug: a.v.GetBool("debug"),
		File:  a.v.GetString("log_file"),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	checker := &update.Checker{
		Current: version.Version,
		URL:     a.v.GetString("update.url"),
		Runner:  a.updateRunner,
		Logger:  logger,
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, render.NoticeStyle.Render("Updating plexsearch..."))
	if err := checker.Update(cmd.Context()); err != nil {
		return fmt.Errorf("update failed: %w", err)
	}
	fmt.Fprintln(out, "plexsearch is up to date.")
	return nil
}

// notifyUpdate prints a reminder when a newer release exists. Failures are
// logged and otherwise ignored.
func (a *app) notifyUpdate(cmd *cobra.Command, cfg config.Config, logger *zap.Logger) {
	checker := &update.Checker{
		Current:  version.Version,
		URL:      cfg.Update.URL,
		Interval: cfg.Update.Interval,
		Logger:   logger,
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), updateCheckTimeout)
	defer cancel()

	result, err := checker.Check(ctx)
	if err != nil {
		logger.Debug("update check failed", zap.Error(err))
		return
	}
	if !result.Available {
		return
	}
	fmt.Fprintln(cmd.ErrOrStderr(), render.NoticeStyle.Render(fmt.Sprintf(
		"A new version of plexsearch is available: %s (current %s). Run `plexsearch update` to upgrade.",
		result.Latest, version.Version,
	)))
}
