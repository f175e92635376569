package socketserver

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/codefionn/sessionwire/internal/llm"
	"github.com/codefionn/sessionwire/internal/protocol"
	"github.com/codefionn/sessionwire/internal/session"
	"github.com/codefionn/sessionwire/internal/summarizer"
)

// dispatch executes one decoded command against the attached runtime and
// returns the response to write. Every command starts with a best-effort
// alias resync so callers always address the freshest name.
func (s *Server) dispatch(conn net.Conn, cmd *protocol.Command) *protocol.Response {
	s.SyncAlias()

	s.mu.Lock()
	rt := s.runtime
	rw := s.rewinder
	s.mu.Unlock()

	if rt == nil {
		return protocol.NewErrorResponse(cmd, "Session not ready")
	}

	switch cmd.Type {
	case protocol.CommandAbort:
		rt.Abort()
		return protocol.NewResponse(cmd, struct{}{})

	case protocol.CommandSubscribe:
		return s.handleSubscribe(conn, cmd)

	case protocol.CommandGetMessage:
		msg := session.ExtractLastAssistantMessage(rt.Entries())
		return protocol.NewResponse(cmd, protocol.MessageData{Message: msg})

	case protocol.CommandGetSummary:
		return s.handleGetSummary(cmd, rt)

	case protocol.CommandClear:
		return s.handleClear(cmd, rt, rw)

	case protocol.CommandSend:
		return s.handleSend(cmd, rt)

	default:
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("unknown command type %q", cmd.Type))
	}
}

// handleSubscribe registers a one-shot subscription on conn. The
// subscription id is the client's correlation id when given, otherwise
// server-generated.
func (s *Server) handleSubscribe(conn net.Conn, cmd *protocol.Command) *protocol.Response {
	if !protocol.KnownEvents[cmd.Event] {
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("unknown event %q", cmd.Event))
	}

	subID := cmd.ID
	if subID == "" {
		subID = uuid.NewString()
	}

	s.mu.Lock()
	s.subs = append(s.subs, &subscription{conn: conn, id: subID})
	s.mu.Unlock()

	s.log.Debug("subscription %s registered for %s", subID, cmd.Event)
	return protocol.NewResponse(cmd, protocol.SubscribeData{SubscriptionID: subID, Event: cmd.Event})
}

// handleGetSummary summarizes the turns since the last user prompt with a
// small completion model. Each unmet precondition gets its own error
// message so callers can tell configuration problems from empty sessions.
func (s *Server) handleGetSummary(cmd *protocol.Command, rt session.Runtime) *protocol.Response {
	messages := session.MessagesSinceLastUserPrompt(rt.Entries())
	if len(messages) == 0 {
		return protocol.NewErrorResponse(cmd, "no messages to summarize since the last user prompt")
	}

	provider := s.opts.SummaryProvider
	if provider == "" {
		provider = llm.ProviderAnthropic
	}
	apiKey, err := rt.ResolveAPIKey(provider)
	if err != nil || apiKey == "" {
		return protocol.NewErrorResponse(cmd,
			fmt.Sprintf("no API key available for %s (set %s)", provider, llm.APIKeyEnvVar(provider)))
	}

	client, err := llm.NewClient(provider, s.opts.SummaryModel, apiKey)
	if err != nil {
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("no summary model available: %v", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.SummaryTimeout)
	defer cancel()

	summary, err := summarizer.New(client).Summarize(ctx, messages)
	if err != nil {
		return protocol.NewErrorResponse(cmd, err.Error())
	}
	return protocol.NewResponse(cmd, protocol.SummaryData{Summary: summary, Model: client.ModelName()})
}

// handleClear rewinds an idle session to its root entry. A busy session
// refuses outright. Summarized clear is defined in the protocol shape but
// not supported over this transport.
func (s *Server) handleClear(cmd *protocol.Command, rt session.Runtime, rw session.Rewinder) *protocol.Response {
	if cmd.Summarize {
		return protocol.NewErrorResponse(cmd,
			"summarized clear is not supported over the control socket; retry with summarize=false")
	}
	if !rt.IsIdle() {
		return protocol.NewErrorResponse(cmd, "session is busy")
	}

	entries := rt.Entries()
	if len(entries) == 0 {
		return protocol.NewErrorResponse(cmd, "session has no conversation entries")
	}
	if len(entries) == 1 {
		return protocol.NewResponse(cmd, protocol.ClearData{Cleared: true, AlreadyAtRoot: true})
	}

	if rw == nil {
		return protocol.NewErrorResponse(cmd, session.ErrRewindUnsupported.Error())
	}
	rootID := entries[0].ID
	if err := rw.Rewind(context.Background(), rootID); err != nil {
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("rewind failed: %v", err))
	}
	return protocol.NewResponse(cmd, protocol.ClearData{Cleared: true, TargetID: rootID})
}

// handleSend delivers a message into the session. Idle sessions get an
// immediate turn-triggering delivery regardless of the requested mode;
// busy sessions get the caller's mode, defaulting to follow_up.
func (s *Server) handleSend(cmd *protocol.Command, rt session.Runtime) *protocol.Response {
	if strings.TrimSpace(cmd.Message) == "" {
		return protocol.NewErrorResponse(cmd, "message must not be empty")
	}

	mode := session.DeliveryFollowUp
	switch cmd.Mode {
	case "", protocol.ModeFollowUp:
	case protocol.ModeSteer:
		mode = session.DeliverySteer
	default:
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("unknown delivery mode %q", cmd.Mode))
	}
	if rt.IsIdle() {
		mode = session.DeliveryDirect
	}

	if err := rt.SendMessage(context.Background(), cmd.Message, mode); err != nil {
		return protocol.NewErrorResponse(cmd, fmt.Sprintf("delivery failed: %v", err))
	}
	return protocol.NewResponse(cmd, protocol.SendData{Delivered: true, Mode: string(mode)})
}
