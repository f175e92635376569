// Package protocol implements the newline-delimited JSON frames exchanged
// over a session's control socket: commands (client to server), responses
// (one per command), and asynchronous events (subscription deliveries).
package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Command type constants
const (
	CommandSend       = "send"
	CommandGetMessage = "get_message"
	CommandGetSummary = "get_summary"
	CommandClear      = "clear"
	CommandAbort      = "abort"
	CommandSubscribe  = "subscribe"
)

// Frame type tags for server-to-client frames
const (
	FrameResponse = "response"
	FrameEvent    = "event"
)

// CommandParse is the pseudo command name used in failure responses to
// lines the server could not decode at all.
const CommandParse = "parse"

// EventTurnEnd fires once per subscription when the owning session
// completes a turn. The only event kind currently defined; adding a kind
// means adding a constant here and a handler entry in the server's
// subscription registry.
const EventTurnEnd = "turn_end"

// KnownEvents enumerates the subscribable event kinds.
var KnownEvents = map[string]bool{
	EventTurnEnd: true,
}

// Delivery modes for the send command when the target session is busy.
const (
	ModeSteer    = "steer"
	ModeFollowUp = "follow_up"
	// ModeDirect is reported back when the message was delivered to an
	// idle session and triggered a turn immediately.
	ModeDirect = "direct"
)

// Command is one client-to-server frame. All commands share one flat
// shape tagged by Type; fields beyond ID apply only to some commands.
type Command struct {
	Type string `json:"type"`

	// ID is an optional client-chosen correlation id, echoed on the
	// response.
	ID string `json:"id,omitempty"`

	// Message is the message body for send.
	Message string `json:"message,omitempty"`

	// Mode is the requested delivery mode for send: "steer" or
	// "follow_up". Ignored when the target session is idle.
	Mode string `json:"mode,omitempty"`

	// Summarize requests a summarized clear. Defined in the protocol but
	// rejected by the dispatcher.
	Summarize bool `json:"summarize,omitempty"`

	// Event is the event name for subscribe.
	Event string `json:"event,omitempty"`
}

// Response is the server's answer to one Command.
type Response struct {
	Type    string          `json:"type"`
	Command string          `json:"command"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
	ID      string          `json:"id,omitempty"`
}

// Event is an asynchronous server-to-client frame delivering a fired
// subscription.
type Event struct {
	Type           string          `json:"type"`
	Event          string          `json:"event"`
	Data           json.RawMessage `json:"data,omitempty"`
	SubscriptionID string          `json:"subscriptionId,omitempty"`
}

// ExtractedMessage is the normalized projection of a conversation turn
// carried in get_message results and turn_end events.
type ExtractedMessage struct {
	Role      string    `json:"role"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Response data payloads.

// SubscribeData acknowledges a registered subscription.
type SubscribeData struct {
	SubscriptionID string `json:"subscriptionId"`
	Event          string `json:"event"`
}

// MessageData carries the get_message result. Message is null when the
// session has no assistant turn with text content.
type MessageData struct {
	Message *ExtractedMessage `json:"message"`
}

// SummaryData carries the get_summary result.
type SummaryData struct {
	Summary string `json:"summary"`
	Model   string `json:"model"`
}

// ClearData carries the clear result.
type ClearData struct {
	Cleared       bool   `json:"cleared"`
	AlreadyAtRoot bool   `json:"alreadyAtRoot,omitempty"`
	TargetID      string `json:"targetId,omitempty"`
}

// SendData carries the send result. Mode is "direct" when the message was
// delivered to an idle session, otherwise the caller's requested mode.
type SendData struct {
	Delivered bool   `json:"delivered"`
	Mode      string `json:"mode"`
}

// TurnEndData is the payload of a turn_end event.
type TurnEndData struct {
	Message   *ExtractedMessage `json:"message"`
	TurnIndex int               `json:"turnIndex"`
}

// ParseError reports a line that could not be decoded into a Command.
type ParseError struct {
	Reason string
}

func (e *ParseError) Error() string {
	return "parse error: " + e.Reason
}

// DecodeLine parses one line as a Command. The line must be a JSON object
// with a string "type" field; anything else yields a *ParseError. The
// type tag itself is not validated here; unrecognized command types get
// a command-level failure response from the dispatcher, not a transport
// error.
func DecodeLine(line []byte) (*Command, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, &ParseError{Reason: "not an object"}
	}
	// JSON null unmarshals into a nil map without error.
	if probe == nil {
		return nil, &ParseError{Reason: "not an object"}
	}

	rawType, ok := probe["type"]
	if !ok {
		return nil, &ParseError{Reason: "missing type"}
	}
	var typeTag string
	if err := json.Unmarshal(rawType, &typeTag); err != nil || typeTag == "" {
		return nil, &ParseError{Reason: "missing type"}
	}

	var cmd Command
	if err := json.Unmarshal(line, &cmd); err != nil {
		return nil, &ParseError{Reason: "not an object"}
	}
	return &cmd, nil
}

// EncodeFrame serializes a frame (Command, Response, or Event) followed by
// a single newline.
func EncodeFrame(frame interface{}) ([]byte, error) {
	data, err := json.Marshal(frame)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frame: %w", err)
	}
	return append(data, '\n'), nil
}

// WriteFrame encodes a frame and writes it to w. Write failures are
// returned so callers on best-effort paths can discard them; the server
// never retries or buffers undelivered frames.
func WriteFrame(w io.Writer, frame interface{}) error {
	data, err := EncodeFrame(frame)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

// NewResponse builds a success response for cmd carrying data. The data
// payload is marshalled immediately; a payload that cannot be marshalled
// is a programming error and degrades to an empty data field.
func NewResponse(cmd *Command, data interface{}) *Response {
	resp := &Response{
		Type:    FrameResponse,
		Command: cmd.Type,
		Success: true,
		ID:      cmd.ID,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			resp.Data = raw
		}
	}
	return resp
}

// NewErrorResponse builds a failure response for cmd.
func NewErrorResponse(cmd *Command, message string) *Response {
	return &Response{
		Type:    FrameResponse,
		Command: cmd.Type,
		Success: false,
		Error:   message,
		ID:      cmd.ID,
	}
}

// NewParseResponse builds the synthetic failure response emitted for an
// undecodable line.
func NewParseResponse(perr *ParseError) *Response {
	return &Response{
		Type:    FrameResponse,
		Command: CommandParse,
		Success: false,
		Error:   perr.Reason,
	}
}

// NewEvent builds an event frame carrying data for one subscription.
func NewEvent(name, subscriptionID string, data interface{}) *Event {
	ev := &Event{
		Type:           FrameEvent,
		Event:          name,
		SubscriptionID: subscriptionID,
	}
	if data != nil {
		if raw, err := json.Marshal(data); err == nil {
			ev.Data = raw
		}
	}
	return ev
}

// LineBuffer frames an inbound byte stream into newline-terminated lines.
// Each connection owns one; any trailing partial line is retained until
// the next chunk arrives. Empty lines are dropped.
type LineBuffer struct {
	buf []byte
}

// Feed appends chunk to the buffer and returns every complete line
// accumulated so far, without the trailing newline.
func (lb *LineBuffer) Feed(chunk []byte) [][]byte {
	lb.buf = append(lb.buf, chunk...)

	var lines [][]byte
	for {
		idx := bytes.IndexByte(lb.buf, '\n')
		if idx < 0 {
			return lines
		}
		line := bytes.TrimRight(lb.buf[:idx], "\r")
		lb.buf = lb.buf[idx+1:]
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		// Copy out: the backing array is about to be reused.
		lines = append(lines, append([]byte(nil), line...))
	}
}

// Pending returns the number of buffered bytes awaiting a newline.
func (lb *LineBuffer) Pending() int {
	return len(lb.buf)
}
