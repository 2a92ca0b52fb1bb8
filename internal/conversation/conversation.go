// Package conversation keeps the alternating user/assistant history of an
// interactive session.
package conversation

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tom-doerr/perplexity_search/internal/llm"
)

// AlternationError reports an append that would break strict user/assistant
// alternation. The conversation is left unchanged.
type AlternationError struct {
	Attempted llm.Role
	// Previous is the role of the last turn, empty for a fresh conversation.
	Previous llm.Role
}

func (e *AlternationError) Error() string {
	if e.Previous == "" {
		return fmt.Sprintf("cannot add %s turn to an empty conversation", e.Attempted)
	}
	return fmt.Sprintf("cannot add %s turn after %s turn", e.Attempted, e.Previous)
}

// Conversation is not safe for concurrent use; it belongs to a single session.
type Conversation struct {
	ID      string
	Started time.Time

	preamble *llm.Message
	turns    []llm.Message
}

// Start creates an empty conversation. A non-empty preamble is kept as a
// system message ahead of every turn.
func Start(preamble string) *Conversation {
	c := &Conversation{
		ID:      uuid.NewString(),
		Started: time.Now().UTC(),
	}
	if preamble != "" {
		c.preamble = &llm.Message{Role: llm.RoleSystem, Content: preamble}
	}
	return c
}

func (c *Conversation) AddUserTurn(text string) error {
	if last := c.lastRole(); last == llm.RoleUser {
		return &AlternationError{Attempted: llm.RoleUser, Previous: last}
	}
	c.turns = append(c.turns, llm.Message{Role: llm.RoleUser, Content: text})
	return nil
}

func (c *Conversation) AddAssistantTurn(text string) error {
	if last := c.lastRole(); last != llm.RoleUser {
		return &AlternationError{Attempted: llm.RoleAssistant, Previous: last}
	}
	c.turns = append(c.turns, llm.Message{Role: llm.RoleAssistant, Content: text})
	return nil
}

// DiscardLastUserTurn drops a user turn whose request failed, restoring the
// conversation to its state before AddUserTurn.
func (c *Conversation) DiscardLastUserTurn() error {
	if last := c.lastRole(); last != llm.RoleUser {
		return &AlternationError{Attempted: llm.RoleUser, Previous: last}
	}
	c.turns = c.turns[:len(c.turns)-1]
	return nil
}

// Messages returns the preamble followed by every turn, in order. The slice
// is a copy and is sent to the provider as is.
func (c *Conversation) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(c.turns)+1)
	if c.preamble != nil {
		msgs = append(msgs, *c.preamble)
	}
	return append(msgs, c.turns...)
}

// Turns returns the user and assistant turns without the preamble.
func (c *Conversation) Turns() []llm.Message {
	return append([]llm.Message(nil), c.turns...)
}

// Len counts turns, not the preamble.
func (c *Conversation) Len() int {
	return len(c.turns)
}

func (c *Conversation) lastRole() llm.Role {
	if len(c.turns) == 0 {
		return ""
	}
	return c.turns[len(c.turns)-1].Role
}
