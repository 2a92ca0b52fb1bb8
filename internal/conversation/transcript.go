package conversation

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/tom-doerr/perplexity_search/internal/llm"
)

// PersistenceError wraps a failure to write or read a transcript file.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist transcript %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// roleMarker opens every message. bytes is the exact length of the body
// that follows the heading, so bodies are never scanned for markers.
var roleMarker = regexp.MustCompile(`(?m)^<!-- role: (system|user|assistant) bytes: (\d+) -->$`)

var headings = map[llm.Role]string{
	llm.RoleSystem:    "## System",
	llm.RoleUser:      "## User",
	llm.RoleAssistant: "## Assistant",
}

// Persist writes the transcript to path, replacing any previous content.
// The in-memory conversation is never modified.
func (c *Conversation) Persist(path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = &PersistenceError{Path: path, Err: closeErr}
		}
	}()

	w := bufio.NewWriter(f)
	fmt.Fprintf(w, "# Conversation %s\n\n", c.ID)
	fmt.Fprintf(w, "_Started %s_\n", c.Started.Format(time.RFC3339))
	for _, msg := range c.Messages() {
		fmt.Fprintf(w, "\n<!-- role: %s bytes: %d -->\n%s\n\n%s\n", msg.Role, len(msg.Content), headings[msg.Role], msg.Content)
	}
	if err := w.Flush(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}

// Load reads the messages of a transcript written by Persist, preamble
// included. Content comes back byte for byte.
func Load(path string) ([]llm.Message, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &PersistenceError{Path: path, Err: err}
	}

	var msgs []llm.Message
	rest := string(data)
	for {
		loc := roleMarker.FindStringSubmatchIndex(rest)
		if loc == nil {
			break
		}
		role := llm.Role(rest[loc[2]:loc[3]])
		size, err := strconv.Atoi(rest[loc[4]:loc[5]])
		if err != nil {
			return nil, &PersistenceError{Path: path, Err: fmt.Errorf("bad body length: %w", err)}
		}
		rest = rest[loc[1]:]

		header := "\n" + headings[role] + "\n\n"
		if !strings.HasPrefix(rest, header) {
			return nil, &PersistenceError{Path: path, Err: fmt.Errorf("message %d: missing %q heading", len(msgs)+1, headings[role])}
		}
		rest = rest[len(header):]
		if len(rest) < size {
			return nil, &PersistenceError{Path: path, Err: fmt.Errorf("message %d: body truncated", len(msgs)+1)}
		}
		msgs = append(msgs, llm.Message{Role: role, Content: rest[:size]})
		rest = rest[size:]
	}

	if len(msgs) == 0 {
		return nil, &PersistenceError{Path: path, Err: errors.New("no messages found")}
	}
	return msgs, nil
}
