// Package session runs one question/answer cycle against a provider.
package session

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/tom-doerr/perplexity_search/internal/conversation"
	"github.com/tom-doerr/perplexity_search/internal/llm"
	"github.com/tom-doerr/perplexity_search/internal/stream"
)

// Session owns a conversation and sends each turn to Client. A turn either
// completes with both messages recorded or leaves the conversation exactly as
// it was.
type Session struct {
	Client       llm.Client
	Extractor    llm.Extractor
	Conversation *conversation.Conversation
	// OnDelta receives the answer as it arrives.
	OnDelta func(text string) error
	Logger  *zap.Logger

	Model  string
	Stream bool
	// TranscriptPath, when set, is rewritten after every completed turn.
	TranscriptPath string
	// OnPersistError is told about transcript write failures.
	OnPersistError func(err error)
}

// Ask sends text as the next user turn and returns the aggregated answer.
func (s *Session) Ask(ctx context.Context, text string) (stream.Answer, error) {
	logger := s.logger()
	if err := s.Conversation.AddUserTurn(text); err != nil {
		return stream.Answer{}, err
	}

	answer, err := s.exchange(ctx, logger)
	if err != nil {
		if discardErr := s.Conversation.DiscardLastUserTurn(); discardErr != nil {
			logger.Error("discard failed user turn", zap.Error(discardErr))
		}
		return stream.Answer{}, err
	}
	if err := s.Conversation.AddAssistantTurn(answer.Text); err != nil {
		return stream.Answer{}, err
	}
	s.persist(logger)
	return answer, nil
}

func (s *Session) exchange(ctx context.Context, logger *zap.Logger) (stream.Answer, error) {
	resp, err := s.Client.Send(ctx, llm.Request{
		Model:    s.Model,
		Messages: s.Conversation.Messages(),
		Stream:   s.Stream,
	})
	if err != nil {
		return stream.Answer{}, err
	}
	agg := &stream.Aggregator{
		Extractor: s.Extractor,
		OnDelta:   s.OnDelta,
		Logger:    s.Logger,
	}
	answer, err := agg.Aggregate(ctx, resp)
	if err != nil {
		return stream.Answer{}, fmt.Errorf("read answer: %w", err)
	}
	logger.Debug("turn complete",
		zap.Int("deltas", answer.Deltas),
		zap.Int("citations", len(answer.Citations)),
		zap.Int("turns", s.Conversation.Len()+1),
	)
	return answer, nil
}

// persist never fails the turn; a write error is logged and the session
// carries on.
func (s *Session) persist(logger *zap.Logger) {
	if s.TranscriptPath == "" {
		return
	}
	if err := s.Conversation.Persist(s.TranscriptPath); err != nil {
		if s.OnPersistError != nil {
			s.OnPersistError(err)
		}
		var persistErr *conversation.PersistenceError
		if errors.As(err, &persistErr) {
			logger.Warn("transcript not saved", zap.String("path", persistErr.Path), zap.Error(persistErr.Err))
			return
		}
		logger.Warn("transcript not saved", zap.Error(err))
	}
}

func (s *Session) logger() *zap.Logger {
	if s.Logger == nil {
		return zap.NewNop()
	}
	return s.Logger.With(
		zap.String("component", "session"),
		zap.String("conversation", s.Conversation.ID),
		zap.String("model", s.Model),
	)
}
