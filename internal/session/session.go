// Package session defines the boundary to the host session runtime: the
// process-local conversation owner the control server consults for every
// command. The control plane never stores conversation state itself; it
// projects what the runtime reports at call time.
package session

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/codefionn/sessionwire/internal/protocol"
)

// DeliveryMode selects how a message reaches a session.
type DeliveryMode string

const (
	// DeliveryDirect delivers to an idle session and triggers a turn.
	DeliveryDirect DeliveryMode = "direct"
	// DeliverySteer interrupts and merges into the running turn.
	DeliverySteer DeliveryMode = "steer"
	// DeliveryFollowUp queues for after the current turn.
	DeliveryFollowUp DeliveryMode = "follow_up"
)

// ErrRewindUnsupported is returned by runtimes whose conversation store
// cannot rewind. The dispatcher reports it as a command failure instead
// of silently no-opping.
var ErrRewindUnsupported = errors.New("session runtime does not support rewind")

// ContentBlock is one piece of an entry's content. Only text blocks
// contribute to flattened text; other block kinds (tool use, images) are
// carried with an empty Text and skipped.
type ContentBlock struct {
	Type string
	Text string
}

// Entry is one conversation entry as reported by the runtime, in causal
// order with a stable id. The first entry of a conversation is the root.
type Entry struct {
	ID        string
	Role      string // "user" or "assistant"
	Blocks    []ContentBlock
	Timestamp time.Time
}

// FlattenedText joins the entry's text blocks into one string.
func (e *Entry) FlattenedText() string {
	var parts []string
	for _, b := range e.Blocks {
		if strings.TrimSpace(b.Text) != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Runtime is the collaborator surface the control server consumes from
// the host session. Implementations live in the host process; the fake
// in the server tests documents the expected behavior.
type Runtime interface {
	// SessionID returns the opaque session identifier. Must be stable
	// for the lifetime of the session.
	SessionID() string

	// DisplayName returns the mutable human-chosen session name, or ""
	// when unset. Drives the alias symlink.
	DisplayName() string

	// IsIdle reports whether the session is between turns.
	IsIdle() bool

	// Abort signals the session's abort control for the current turn.
	Abort()

	// Entries returns the conversation entries in causal order. The
	// returned slice must not be mutated.
	Entries() []Entry

	// SendMessage delivers text with the given mode. DeliveryDirect
	// triggers a turn; steer and follow_up address a running turn.
	SendMessage(ctx context.Context, text string, mode DeliveryMode) error

	// ResolveAPIKey resolves a credential for the named completion
	// provider, or returns an error when none is configured.
	ResolveAPIKey(provider string) (string, error)
}

// Rewinder is the optional rewind capability. The control server resolves
// it once when a runtime is attached; runtimes that do not implement it
// cause clear to fail with ErrRewindUnsupported.
type Rewinder interface {
	// Rewind resets the conversation to the entry with the given id,
	// discarding everything after it.
	Rewind(ctx context.Context, entryID string) error
}

// ExtractLastAssistantMessage scans entries backward for the most recent
// assistant entry with non-empty text content. Returns nil when none
// exists.
func ExtractLastAssistantMessage(entries []Entry) *protocol.ExtractedMessage {
	for i := len(entries) - 1; i >= 0; i-- {
		e := &entries[i]
		if e.Role != "assistant" {
			continue
		}
		text := e.FlattenedText()
		if text == "" {
			continue
		}
		return &protocol.ExtractedMessage{
			Role:      e.Role,
			Text:      text,
			Timestamp: e.Timestamp,
		}
	}
	return nil
}

// MessagesSinceLastUserPrompt returns the user/assistant entries with
// text content starting at the most recent user entry, the prompt
// included. With no user entry, every text entry qualifies. The result
// is empty when nothing followed the last user prompt.
func MessagesSinceLastUserPrompt(entries []Entry) []protocol.ExtractedMessage {
	start := 0
	lastUser := -1
	for i := len(entries) - 1; i >= 0; i-- {
		if entries[i].Role == "user" && entries[i].FlattenedText() != "" {
			lastUser = i
			break
		}
	}
	if lastUser >= 0 {
		start = lastUser
		// The prompt alone is not a conversation worth summarizing.
		if lastUser == len(entries)-1 {
			return nil
		}
	}

	var messages []protocol.ExtractedMessage
	for i := start; i < len(entries); i++ {
		e := &entries[i]
		if e.Role != "user" && e.Role != "assistant" {
			continue
		}
		text := e.FlattenedText()
		if text == "" {
			continue
		}
		messages = append(messages, protocol.ExtractedMessage{
			Role:      e.Role,
			Text:      text,
			Timestamp: e.Timestamp,
		})
	}
	return messages
}
