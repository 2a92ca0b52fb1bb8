// Package update checks for newer releases and reinstalls the binary.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"

	"github.com/tom-doerr/perplexity_search/internal/version"
)

const (
	DefaultURL      = "https://api.github.com/repos/tom-doerr/perplexity_search/releases/latest"
	DefaultInterval = 24 * time.Hour

	fetchTimeout = 5 * time.Second
)

// CompareVersions reports whether latest is strictly newer than current.
// Either value failing to parse as a semantic version yields false.
func CompareVersions(current, latest string) bool {
	c, l := canonical(current), canonical(latest)
	if !semver.IsValid(c) || !semver.IsValid(l) {
		return false
	}
	return semver.Compare(l, c) > 0
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if v != "" && !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// State is persisted between runs so the network is hit at most once per
// interval.
type State struct {
	LastCheck    time.Time `toml:"last_check"`
	LastReminder time.Time `toml:"last_reminder"`
}

type Result struct {
	Latest string
	// Available is set when Latest is newer and the user should be told.
	Available bool
	// Skipped is set when the check or the reminder was suppressed by the
	// interval.
	Skipped bool
}

// Runner executes an external command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

type Checker struct {
	Current    string
	URL        string
	StatePath  string
	Interval   time.Duration
	HTTPClient *http.Client
	Runner     Runner
	Logger     *zap.Logger
	Now        func() time.Time
}

// DefaultStatePath is ~/.config/plexsearch/update_state.toml.
func DefaultStatePath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "plexsearch", "update_state.toml"), nil
}

// Latest fetches the tag of the most recent release.
func (c *Checker) Latest(ctx context.Context) (string, error) {
	url := c.URL
	if url == "" {
		url = DefaultURL
	}
	client := c.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("fetch latest release: status code %d", resp.StatusCode)
	}
	var release struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("decode release: %w", err)
	}
	if release.TagName == "" {
		return "", errors.New("release has no tag_name")
	}
	return release.TagName, nil
}

// Check consults the state file and, when the interval has passed, fetches
// the latest release. A returned error means the check failed and the caller
// may carry on.
func (c *Checker) Check(ctx context.Context) (Result, error) {
	now := c.now()
	interval := c.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	state, err := c.loadState()
	if err != nil {
		return Result{}, err
	}
	if now.Sub(state.LastCheck) < interval {
		return Result{Skipped: true}, nil
	}

	state.LastCheck = now
	latest, fetchErr := c.Latest(ctx)
	if fetchErr != nil {
		// Record the attempt so an offline machine is not re-checked on every run.
		if err := c.saveState(state); err != nil {
			c.logger().Debug("save update state", zap.Error(err))
		}
		return Result{}, fetchErr
	}

	result := Result{Latest: latest}
	if CompareVersions(c.current(), latest) {
		if now.Sub(state.LastReminder) < interval {
			result.Skipped = true
		} else {
			result.Available = true
			state.LastReminder = now
		}
	}
	if err := c.saveState(state); err != nil {
		return result, err
	}
	c.logger().Debug("update check complete",
		zap.String("current", c.current()),
		zap.String("latest", latest),
		zap.Bool("available", result.Available),
	)
	return result, nil
}

// Update reinstalls the latest release with go install.
func (c *Checker) Update(ctx context.Context) error {
	runner := c.Runner
	if runner == nil {
		runner = ExecRunner{}
	}
	target := version.Module + "/cmd/plexsearch@latest"
	out, err := runner.Run(ctx, "go", "install", target)
	if err != nil {
		if detail := strings.TrimSpace(string(out)); detail != "" {
			return fmt.Errorf("go install %s: %w: %s", target, err, detail)
		}
		return fmt.Errorf("go install %s: %w", target, err)
	}
	return nil
}

func (c *Checker) loadState() (State, error) {
	var state State
	path, err := c.statePath()
	if err != nil {
		return state, err
	}
	if _, err := toml.DecodeFile(path, &state); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return State{}, nil
		}
		return State{}, fmt.Errorf("decode update state: %w", err)
	}
	return state, nil
}

func (c *Checker) saveState(state State) (err error) {
	path, err := c.statePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create state file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("close state file: %w", closeErr)
		}
	}()
	if err := toml.NewEncoder(f).Encode(state); err != nil {
		return fmt.Errorf("encode update state: %w", err)
	}
	return nil
}

func (c *Checker) statePath() (string, error) {
	if c.StatePath != "" {
		return c.StatePath, nil
	}
	return DefaultStatePath()
}

func (c *Checker) current() string {
	if c.Current != "" {
		return c.Current
	}
	return version.Version
}

func (c *Checker) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

func (c *Checker) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger.With(zap.String("component", "update"))
}
