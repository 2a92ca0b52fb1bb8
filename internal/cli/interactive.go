package cli

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/tom-doerr/perplexity_search/internal/config"
	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/render"
	"github.com/tom-doerr/perplexity_search/internal/session"
)

// LineReader is the prompt used by interactive mode.
type LineReader interface {
	Prompt(prompt string) (string, error)
	AppendHistory(line string)
	Close() error
}

type linerReader struct {
	state       *liner.State
	historyPath string
}

func newLinerReader() (LineReader, error) {
	state := liner.NewLiner()
	state.SetCtrlCAborts(true)
	r := &linerReader{state: state}
	if home, err := os.UserHomeDir(); err == nil {
		r.historyPath = filepath.Join(home, ".config", "plexsearch", "history")
		if f, err := os.Open(r.historyPath); err == nil {
			_, _ = state.ReadHistory(f)
			f.Close()
		}
	}
	return r, nil
}

func (r *linerReader) Prompt(prompt string) (string, error) {
	return r.state.Prompt(prompt)
}

func (r *linerReader) AppendHistory(line string) {
	r.state.AppendHistory(line)
}

// Close saves the history with owner-only permissions and restores the
// terminal.
func (r *linerReader) Close() error {
	if r.historyPath != "" {
		if err := os.MkdirAll(filepath.Dir(r.historyPath), 0o700); err == nil {
			if f, err := os.OpenFile(r.historyPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600); err == nil {
				_, _ = r.state.WriteHistory(f)
				f.Close()
			}
		}
	}
	return r.state.Close()
}

func (a *app) runInteractive(cmd *cobra.Command, cfg config.Config, sess *session.Session, d *display, first string) error {
	reader, err := a.newLineReader()
	if err != nil {
		return fmt.Errorf("start prompt: %w", err)
	}
	defer reader.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, render.PromptStyle.Render("plexsearch interactive mode")+
		fmt.Sprintf(" (%s) type exit or quit to leave, Ctrl-C cancels a search", sess.Model))

	if first != "" {
		if err := askInteractive(cmd, cfg, sess, d, first); err != nil {
			return err
		}
	}
	for {
		line, err := reader.Prompt("> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
				fmt.Fprintln(out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		switch strings.ToLower(line) {
		case "exit", "quit":
			return nil
		}
		reader.AppendHistory(line)
		if err := askInteractive(cmd, cfg, sess, d, line); err != nil {
			return err
		}
	}
}

// askInteractive runs one turn. Errors that only affect this turn are shown
// and swallowed. A transport that gave up after retrying, or rejected the
// API key, ends the session.
func askInteractive(cmd *cobra.Command, cfg config.Config, sess *session.Session, d *display, line string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	errOut := cmd.ErrOrStderr()
	query, err := buildQuery(line, cfg)
	if err != nil {
		return err
	}
	sess.OnDelta = d.begin()
	answer, err := sess.Ask(ctx, query)
	if err == nil {
		return d.finish(answer)
	}
	d.abort()

	var netErr *llm.NetworkError
	switch {
	case interrupted(ctx, err):
		fmt.Fprintln(errOut, render.WarningStyle.Render("Search cancelled"))
		return nil
	case errors.As(err, &netErr) && endsSession(netErr):
		return err
	default:
		fmt.Fprintln(errOut, render.ErrorStyle.Render("Error:"), err)
		return nil
	}
}

// endsSession reports whether netErr leaves nothing to retry. Other 4xx
// responses, such as an oversized request, only fail the current turn.
func endsSession(netErr *llm.NetworkError) bool {
	return netErr.Retryable() || netErr.StatusCode == http.StatusUnauthorized
}
