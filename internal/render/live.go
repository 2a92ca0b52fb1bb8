// Package render writes answers to the terminal.
package render

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const flushInterval = 100 * time.Millisecond

// LiveWriter prints deltas as they arrive. Output is buffered and flushed at
// most every flushInterval, so a fast stream does not issue one write per
// token.
type LiveWriter struct {
	w        *bufio.Writer
	flush    rate.Sometimes
	flushErr error
	written  bool
	lastByte byte
}

func NewLiveWriter(w io.Writer) *LiveWriter {
	return &LiveWriter{
		w:     bufio.NewWriter(w),
		flush: rate.Sometimes{Interval: flushInterval},
	}
}

// WriteDelta has the signature of stream.Aggregator.OnDelta.
func (l *LiveWriter) WriteDelta(text string) error {
	if text == "" {
		return nil
	}
	if _, err := l.w.WriteString(text); err != nil {
		return err
	}
	l.written = true
	l.lastByte = text[len(text)-1]
	l.flush.Do(func() {
		l.flushErr = l.w.Flush()
	})
	return l.flushErr
}

// Finish flushes pending output and ends the answer on a fresh line.
func (l *LiveWriter) Finish() error {
	if l.written && l.lastByte != '\n' {
		if err := l.w.WriteByte('\n'); err != nil {
			return err
		}
	}
	return l.w.Flush()
}

// Written reports whether any delta reached the writer.
func (l *LiveWriter) Written() bool {
	return l.written
}

// FormatCitations renders a numbered reference list, or "" when there are
// no citations.
func FormatCitations(citations []string) string {
	if len(citations) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("\n\nReferences:")
	for i, url := range citations {
		fmt.Fprintf(&sb, "\n[%d] %s", i+1, url)
	}
	return sb.String()
}
