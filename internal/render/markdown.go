package render

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

const (
	DefaultWidth = 80
	minWidth     = 40
)

var (
	PromptStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true)

	ErrorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	WarningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("220"))

	NoticeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("82")).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// IsTerminal reports whether w is a terminal that should receive colour.
// NO_COLOR disables colour even on a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return false
	}
	return !termenv.EnvNoColor()
}

// Width returns the terminal width of w, or DefaultWidth when unknown.
func Width(w io.Writer) int {
	f, ok := w.(*os.File)
	if !ok {
		return DefaultWidth
	}
	width, _, err := term.GetSize(int(f.Fd()))
	if err != nil || width <= 0 {
		return DefaultWidth
	}
	return max(width, minWidth)
}

type Markdown struct {
	renderer *glamour.TermRenderer
}

// NewMarkdown builds a renderer suited to w: styled and wrapped to the
// terminal width on a colour terminal, plain otherwise.
func NewMarkdown(w io.Writer) (*Markdown, error) {
	opts := []glamour.TermRendererOption{glamour.WithWordWrap(Width(w))}
	if IsTerminal(w) {
		opts = append(opts, glamour.WithAutoStyle())
	} else {
		opts = append(opts, glamour.WithStandardStyle("notty"))
	}
	renderer, err := glamour.NewTermRenderer(opts...)
	if err != nil {
		return nil, err
	}
	return &Markdown{renderer: renderer}, nil
}

// Render returns content unchanged if glamour fails.
func (m *Markdown) Render(content string) string {
	if m == nil || m.renderer == nil {
		return content
	}
	out, err := m.renderer.Render(content)
	if err != nil {
		return content
	}
	return strings.TrimRight(out, "\n") + "\n"
}
