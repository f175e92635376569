// Package socketclient drives another session's control socket: one
// short-lived connection, one command, optionally one follow-up
// subscription, one matched response plus at most one event.
package socketclient

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/codefionn/sessionwire/internal/logger"
	"github.com/codefionn/sessionwire/internal/protocol"
	"github.com/google/uuid"
)

// DefaultTimeout bounds an ordinary command round-trip.
const DefaultTimeout = 5 * time.Second

var (
	// ErrTimeout means the call did not complete before its deadline.
	ErrTimeout = errors.New("rpc call timed out")

	// ErrProtocol means the server violated the frame ordering
	// contract, e.g. delivered the subscribed event before the
	// command's response.
	ErrProtocol = errors.New("rpc protocol violation")
)

// Options configures one SendCommand call.
type Options struct {
	// Timeout is the hard deadline for the whole call. Zero means
	// DefaultTimeout. Calls that wait for a turn_end event typically
	// pass minutes here.
	Timeout time.Duration

	// WaitForEvent, when non-empty, makes the call subscribe to the
	// named event on the same connection and hold the connection open
	// after the response until the event fires.
	WaitForEvent string
}

// CallResult is the outcome of a completed call. Event is nil unless
// WaitForEvent was set.
type CallResult struct {
	Response *protocol.Response
	Event    *protocol.Event
}

// SendCommand connects to socketPath, sends cmd, and waits for the
// matching response and, when requested, the first matching event.
// The connection is always torn down before returning.
func SendCommand(ctx context.Context, socketPath string, cmd *protocol.Command, opts Options) (*CallResult, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	conn, err := net.DialTimeout("unix", socketPath, time.Until(deadline))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", socketPath, err)
	}
	defer conn.Close()

	// Cancelling the context destroys the socket, failing any blocked
	// read. Work already dispatched server-side runs to completion and
	// is discarded.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetDeadline(deadline)

	if err := protocol.WriteFrame(conn, cmd); err != nil {
		return nil, fmt.Errorf("failed to send command: %w", err)
	}

	// When the primary command is itself the matching subscribe, no
	// piggybacked subscription is needed.
	alreadySubscribed := cmd.Type == protocol.CommandSubscribe && cmd.Event == opts.WaitForEvent
	if opts.WaitForEvent != "" && !alreadySubscribed {
		sub := &protocol.Command{
			Type:  protocol.CommandSubscribe,
			Event: opts.WaitForEvent,
			ID:    uuid.New().String(),
		}
		if err := protocol.WriteFrame(conn, sub); err != nil {
			return nil, fmt.Errorf("failed to send subscribe command: %w", err)
		}
	}

	result := &CallResult{}
	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() || os.IsTimeout(err) {
				return nil, fmt.Errorf("%w after %s", ErrTimeout, timeout)
			}
			return nil, fmt.Errorf("connection failed: %w", err)
		}

		frame, err := classifyFrame(line)
		if err != nil {
			logger.Debug("socketclient: skipping undecodable frame: %v", err)
			continue
		}

		switch f := frame.(type) {
		case *protocol.Response:
			if f.Command == cmd.Type && result.Response == nil {
				result.Response = f
				if opts.WaitForEvent == "" {
					return result, nil
				}
			}
			// Responses for the piggybacked subscribe (or anything
			// else) are not the caller's concern.
		case *protocol.Event:
			if f.Event != opts.WaitForEvent {
				continue
			}
			if result.Response == nil {
				return nil, fmt.Errorf("%w: event %q arrived before the %q response", ErrProtocol, f.Event, cmd.Type)
			}
			result.Event = f
			return result, nil
		}
	}
}

// classifyFrame decodes one server-to-client line as a Response or Event
// by its type tag.
func classifyFrame(line []byte) (interface{}, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &probe); err != nil {
		return nil, fmt.Errorf("undecodable frame: %w", err)
	}

	switch probe.Type {
	case protocol.FrameResponse:
		var resp protocol.Response
		if err := json.Unmarshal(line, &resp); err != nil {
			return nil, fmt.Errorf("malformed response frame: %w", err)
		}
		return &resp, nil
	case protocol.FrameEvent:
		var ev protocol.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			return nil, fmt.Errorf("malformed event frame: %w", err)
		}
		return &ev, nil
	default:
		return nil, fmt.Errorf("unknown frame type %q", probe.Type)
	}
}
