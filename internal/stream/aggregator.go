// Package stream folds transport chunks into a single answer while reporting
// each delta as it arrives.
package stream

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/tom-doerr/perplexity_search/internal/llm"
)

// ErrEmptyStream matches any *EmptyStreamError.
var ErrEmptyStream = errors.New("stream ended without any delta")

// EmptyStreamError reports a stream that terminated before a single delta
// was recognized. An answer whose deltas were all empty is not an error.
type EmptyStreamError struct {
	// Chunks is the number of frames received, none of them usable.
	Chunks int
}

func (e *EmptyStreamError) Error() string {
	return fmt.Sprintf("stream ended without any delta (%d chunks received)", e.Chunks)
}

func (e *EmptyStreamError) Is(target error) bool {
	return target == ErrEmptyStream
}

type Answer struct {
	Text string
	// Deltas counts recognized deltas, heartbeats included.
	Deltas    int
	Citations []string
}

// Aggregator is single-use per request but holds no state between calls, so
// one value can serve a whole session.
type Aggregator struct {
	Extractor llm.Extractor
	// OnDelta receives every non-empty delta before it is appended. Returning
	// an error stops the aggregation.
	OnDelta func(text string) error
	Logger  *zap.Logger
}

// Aggregate consumes resp according to its mode and always closes it.
func (a *Aggregator) Aggregate(ctx context.Context, resp *llm.Response) (Answer, error) {
	defer resp.Close()
	if resp.Streaming {
		return a.AggregateStream(ctx, resp.Chunks())
	}
	body, err := resp.ReadAll()
	if err != nil {
		return Answer{}, err
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	return a.AggregateBody(body)
}

func (a *Aggregator) AggregateStream(ctx context.Context, chunks iter.Seq2[llm.Chunk, error]) (Answer, error) {
	logger := a.logger()
	var (
		sb       strings.Builder
		answer   Answer
		received int
	)
	for chunk, err := range chunks {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Answer{}, ctxErr
		}
		if err != nil {
			return Answer{}, err
		}
		received++
		delta, ok := a.Extractor.ExtractDelta(chunk)
		if !ok {
			logger.Debug("skipping unrecognized chunk", zap.Int("bytes", len(chunk)))
			continue
		}
		answer.Deltas++
		if len(delta.Citations) > 0 {
			answer.Citations = delta.Citations
		}
		if delta.Text == "" {
			continue
		}
		if err := a.emit(delta.Text); err != nil {
			return Answer{}, err
		}
		sb.WriteString(delta.Text)
	}
	if err := ctx.Err(); err != nil {
		return Answer{}, err
	}
	if answer.Deltas == 0 {
		return Answer{}, &EmptyStreamError{Chunks: received}
	}
	answer.Text = sb.String()
	logger.Debug("stream complete",
		zap.Int("chunks", received),
		zap.Int("deltas", answer.Deltas),
		zap.Int("length", len(answer.Text)),
	)
	return answer, nil
}

// AggregateBody handles a complete response. The whole text is reported as a
// single delta so callers display both modes the same way.
func (a *Aggregator) AggregateBody(body []byte) (Answer, error) {
	delta, err := a.Extractor.ExtractFull(body)
	if err != nil {
		return Answer{}, err
	}
	if err := a.emit(delta.Text); err != nil {
		return Answer{}, err
	}
	return Answer{
		Text:      delta.Text,
		Deltas:    1,
		Citations: delta.Citations,
	}, nil
}

func (a *Aggregator) emit(text string) error {
	if a.OnDelta == nil {
		return nil
	}
	if err := a.OnDelta(text); err != nil {
		return fmt.Errorf("deliver delta: %w", err)
	}
	return nil
}

func (a *Aggregator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger.With(zap.String("component", "stream"))
}
