package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tom-doerr/perplexity_search/internal/config"
	"github.com/tom-doerr/perplexity_search/internal/conversation"
	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/logging"
	"github.com/tom-doerr/perplexity_search/internal/prompt"
	"github.com/tom-doerr/perplexity_search/internal/render"
	"github.com/tom-doerr/perplexity_search/internal/session"
	"github.com/tom-doerr/perplexity_search/internal/stream"
)

func (a *app) runSearch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.v)
	if err != nil {
		return err
	}
	logger, err := logging.New(logging.Options{Debug: cfg.Debug, File: cfg.LogFile})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	if !a.opts.NoUpdateCheck && cfg.Update.Check {
		a.notifyUpdate(cmd, cfg, logger)
	}

	sess, err := newSession(cfg, logger, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	d, err := newDisplay(cmd.OutOrStdout(), sess.Stream, cfg.Citations)
	if err != nil {
		return err
	}

	interactive := wantsInteractive(a.opts, args)
	var input string
	if len(args) > 0 || a.opts.InputFile != "" {
		input, err = readInput(args, a.opts.InputFile, cmd.InOrStdin())
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			return fmt.Errorf("query is required")
		}
	}
	if interactive {
		return a.runInteractive(cmd, cfg, sess, d, input)
	}
	return runOnce(cmd, cfg, sess, d, input)
}

func newSession(cfg config.Config, logger *zap.Logger, errOut io.Writer) (*session.Session, error) {
	selector, err := cfg.Selector()
	if err != nil {
		return nil, err
	}
	opts := cfg.ClientOptions(selector.Provider)
	opts.Logger = logger
	client, err := llm.NewClient(selector.Provider, opts)
	if err != nil {
		return nil, err
	}
	extractor, err := llm.ExtractorFor(selector.Provider)
	if err != nil {
		return nil, err
	}
	preamble, err := prompt.System(cfg.Citations)
	if err != nil {
		return nil, err
	}
	return &session.Session{
		Client:         client,
		Extractor:      extractor,
		Conversation:   conversation.Start(preamble),
		Logger:         logger,
		Model:          selector.Model,
		Stream:         cfg.Stream && selector.Provider != llm.ProviderDuckDuckGo,
		TranscriptPath: cfg.MarkdownFile,
		OnPersistError: func(err error) {
			fmt.Fprintln(errOut, render.WarningStyle.Render("Warning: "+err.Error()))
		},
	}, nil
}

// runOnce answers a single query. Ctrl-C ends the search quietly with exit
// code 0.
func runOnce(cmd *cobra.Command, cfg config.Config, sess *session.Session, d *display, input string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	query, err := buildQuery(input, cfg)
	if err != nil {
		return err
	}
	sess.OnDelta = d.begin()
	answer, err := sess.Ask(ctx, query)
	if err != nil {
		d.abort()
		if interrupted(ctx, err) {
			fmt.Fprintln(cmd.ErrOrStderr(), render.WarningStyle.Render("Search interrupted by user"))
			return nil
		}
		return err
	}
	return d.finish(answer)
}

func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, context.Canceled)
}

// display renders one answer at a time: live deltas when streaming, a
// single markdown block otherwise.
type display struct {
	out       io.Writer
	streaming bool
	citations bool
	md        *render.Markdown
	live      *render.LiveWriter
}

func newDisplay(out io.Writer, streaming, citations bool) (*display, error) {
	d := &display{out: out, streaming: streaming, citations: citations}
	if !streaming {
		md, err := render.NewMarkdown(out)
		if err != nil {
			return nil, fmt.Errorf("create markdown renderer: %w", err)
		}
		d.md = md
	}
	return d, nil
}

func (d *display) begin() func(string) error {
	if d.streaming {
		d.live = render.NewLiveWriter(d.out)
		return d.live.WriteDelta
	}
	d.live = nil
	return func(text string) error {
		_, err := io.WriteString(d.out, d.md.Render(text))
		return err
	}
}

func (d *display) finish(answer stream.Answer) error {
	if d.live != nil {
		if err := d.live.Finish(); err != nil {
			return err
		}
	}
	if d.citations && len(answer.Citations) > 0 {
		_, err := fmt.Fprintln(d.out, strings.TrimPrefix(render.FormatCitations(answer.Citations), "\n"))
		return err
	}
	return nil
}

// abort flushes whatever part of an answer was already printed.
func (d *display) abort() {
	if d.live != nil {
		_ = d.live.Finish()
	}
}
