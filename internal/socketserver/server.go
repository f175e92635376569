// Package socketserver implements the per-session control server: a Unix
// socket listener whose lifecycle follows the host session's lifecycle
// hooks, a command dispatcher backed by the session runtime, one-shot
// turn-end subscriptions, and the alias symlink kept in sync with the
// session's display name.
package socketserver

import (
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/codefionn/sessionwire/internal/controldir"
	"github.com/codefionn/sessionwire/internal/logger"
	"github.com/codefionn/sessionwire/internal/protocol"
	"github.com/codefionn/sessionwire/internal/session"
)

// SessionIDEnvVar exposes the active session id to child processes while
// the control feature is enabled.
const SessionIDEnvVar = "SESSIONWIRE_SESSION_ID"

// aliasSyncInterval is how often the alias symlink is reconciled with
// the session's display name, beyond the eager resync on every command.
const aliasSyncInterval = time.Second

// Options configures a Server.
type Options struct {
	// SummaryProvider and SummaryModel select the completion backend
	// for get_summary. Empty values take the provider defaults.
	SummaryProvider string
	SummaryModel    string

	// SummaryTimeout bounds the completion call. Zero means 2 minutes.
	SummaryTimeout time.Duration

	// Logger for server diagnostics. Nil means the global logger.
	Logger *logger.Logger
}

// subscription pairs an open connection with a one-shot turn-end
// registration. Fired at most once, then dropped.
type subscription struct {
	conn net.Conn
	id   string
}

// Server is the per-session control server state. One instance per
// process; fields behind mu are mutated by lifecycle hooks, the alias
// ticker, and connection handlers.
type Server struct {
	dir  *controldir.Dir
	opts Options
	log  *logger.Logger

	mu          sync.Mutex
	disabled    bool
	listener    net.Listener
	socketPath  string
	runtime     session.Runtime
	rewinder    session.Rewinder // resolved once at attach time
	syncedAlias string
	subs        []*subscription
	conns       map[net.Conn]struct{}
	turnIndex   int
	tickerStop  chan struct{}

	// wg covers the accept loop and alias ticker, which shutdown waits
	// for. Connection handlers run on connWg and are never waited on:
	// an in-flight command (a summary completion can take minutes) must
	// not stall a lifecycle hook. Closing the connections fails their
	// reads, and results written after teardown are discarded.
	wg     sync.WaitGroup
	connWg sync.WaitGroup
}

// New creates a Server over the given control directory. The server
// does nothing until a session lifecycle hook attaches a runtime.
func New(dir *controldir.Dir, opts Options) *Server {
	log := opts.Logger
	if log == nil {
		log = logger.Global()
	}
	if opts.SummaryTimeout <= 0 {
		opts.SummaryTimeout = 2 * time.Minute
	}
	return &Server{dir: dir, opts: opts, log: log.WithPrefix("ctl")}
}

// Active reports whether a listener is currently bound.
func (s *Server) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listener != nil
}

// SocketPath returns the bound socket path, or "" when inactive.
func (s *Server) SocketPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.socketPath
}

// HandleSessionStart is the session-start lifecycle hook: it binds the
// control socket for rt's session id, or, when that id's socket is
// already bound by this server, just refreshes the runtime handle and
// alias. Bind failures are propagated; a session without its control
// surface must fail loudly.
func (s *Server) HandleSessionStart(rt session.Runtime) error {
	s.mu.Lock()
	if s.disabled {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	sessionID := rt.SessionID()
	if !controldir.IsSafeSessionID(sessionID) {
		return fmt.Errorf("refusing to bind control socket for unsafe session id %q", sessionID)
	}

	if err := s.dir.Ensure(); err != nil {
		return err
	}
	target := s.dir.SocketPath(sessionID)

	s.mu.Lock()
	if s.listener != nil && s.socketPath == target {
		// Same path: refresh the handle, no rebind.
		s.runtime = rt
		s.rewinder, _ = rt.(session.Rewinder)
		s.mu.Unlock()
		s.SyncAlias()
		return nil
	}
	s.mu.Unlock()

	// Different path, or not bound yet: full restart.
	s.HandleShutdown()

	// A stale file from a crashed predecessor blocks the bind.
	s.dir.RemoveSocket(target)

	listener, err := net.Listen("unix", target)
	if err != nil {
		return fmt.Errorf("failed to bind control socket %s: %w", target, err)
	}

	s.mu.Lock()
	s.listener = listener
	s.socketPath = target
	s.runtime = rt
	s.rewinder, _ = rt.(session.Rewinder)
	s.syncedAlias = ""
	s.subs = nil
	s.conns = make(map[net.Conn]struct{})
	s.turnIndex = 0
	s.tickerStop = make(chan struct{})
	tickerStop := s.tickerStop
	s.mu.Unlock()

	os.Setenv(SessionIDEnvVar, sessionID)

	s.wg.Add(2)
	go s.acceptLoop(listener)
	go s.aliasTicker(tickerStop)

	s.SyncAlias()
	s.log.Info("control socket bound at %s", target)
	return nil
}

// SetEnabled toggles the control feature. Disabling tears the server
// down and makes later start hooks no-ops; re-enabling with a runtime
// binds immediately, otherwise binding waits for the next start hook.
func (s *Server) SetEnabled(enabled bool, rt session.Runtime) error {
	s.mu.Lock()
	s.disabled = !enabled
	s.mu.Unlock()

	if !enabled {
		s.HandleShutdown()
		return nil
	}
	if rt != nil {
		return s.HandleSessionStart(rt)
	}
	return nil
}

// HandleSessionSwitch is the session-switch lifecycle hook. Switching
// recomputes the socket path from the new session id, so it shares the
// start hook's bind-or-refresh behavior.
func (s *Server) HandleSessionSwitch(rt session.Runtime) error {
	return s.HandleSessionStart(rt)
}

// HandleShutdown is the disable/shutdown lifecycle hook: stops the alias
// ticker, closes the listener, retires the socket's aliases, unlinks the
// socket file, and drops all pending subscriptions. Waiting subscribers
// get nothing and time out on their end.
func (s *Server) HandleShutdown() {
	s.mu.Lock()
	listener := s.listener
	socketPath := s.socketPath
	tickerStop := s.tickerStop
	conns := s.conns
	s.listener = nil
	s.socketPath = ""
	s.runtime = nil
	s.rewinder = nil
	s.syncedAlias = ""
	s.subs = nil
	s.conns = nil
	s.tickerStop = nil
	s.turnIndex = 0
	s.mu.Unlock()

	if tickerStop != nil {
		close(tickerStop)
	}
	if listener != nil {
		listener.Close()
	}
	for conn := range conns {
		conn.Close()
	}

	// Wait for the accept loop and ticker before touching the
	// filesystem, so nothing recreates state behind us. Connection
	// handlers are deliberately not waited for; their connections just
	// closed, and any command still running against a collaborator
	// finishes on its own with nowhere to write the result.
	s.wg.Wait()

	if socketPath != "" {
		s.dir.RemoveAliasesForSocket(socketPath)
		s.dir.RemoveSocket(socketPath)
		os.Unsetenv(SessionIDEnvVar)
		s.log.Info("control socket at %s closed", socketPath)
	}
}

// HandleTurnEnd is the turn-completion lifecycle hook. It fires every
// pending subscription exactly once with the latest assistant message
// and the turn index, then clears the list. Writes to subscribers that
// disconnected meanwhile fail silently; there is no redelivery. With no
// pending subscriptions the callback is a complete no-op: no alias
// resync, and the turn index only counts delivered turns.
func (s *Server) HandleTurnEnd() {
	s.mu.Lock()
	if len(s.subs) == 0 {
		s.mu.Unlock()
		return
	}
	s.turnIndex++
	turnIndex := s.turnIndex
	subs := s.subs
	s.subs = nil
	rt := s.runtime
	s.mu.Unlock()

	s.SyncAlias()

	var message *protocol.ExtractedMessage
	if rt != nil {
		message = session.ExtractLastAssistantMessage(rt.Entries())
	}

	data := protocol.TurnEndData{Message: message, TurnIndex: turnIndex}
	for _, sub := range subs {
		ev := protocol.NewEvent(protocol.EventTurnEnd, sub.id, data)
		if err := protocol.WriteFrame(sub.conn, ev); err != nil {
			s.log.Debug("turn_end delivery to %s failed: %v", sub.id, err)
		}
	}
	s.log.Debug("turn_end delivered to %d subscriber(s)", len(subs))
}

// acceptLoop accepts connections until the listener closes.
func (s *Server) acceptLoop(listener net.Listener) {
	defer s.wg.Done()
	for {
		conn, err := listener.Accept()
		if err != nil {
			return
		}
		s.mu.Lock()
		if s.conns == nil {
			// Shutdown raced the accept.
			s.mu.Unlock()
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()
		s.connWg.Add(1)
		go s.handleConn(conn)
	}
}

// handleConn frames inbound bytes into lines and dispatches each decoded
// command to completion before reading the next, serializing command
// handling per connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.connWg.Done()
	defer func() {
		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		s.dropSubscriptionsFor(conn)
	}()

	var lb protocol.LineBuffer
	chunk := make([]byte, 4096)
	for {
		n, err := conn.Read(chunk)
		if n > 0 {
			for _, line := range lb.Feed(chunk[:n]) {
				cmd, perr := protocol.DecodeLine(line)
				if perr != nil {
					pe, ok := perr.(*protocol.ParseError)
					if !ok {
						pe = &protocol.ParseError{Reason: perr.Error()}
					}
					// Best effort; the connection stays open.
					protocol.WriteFrame(conn, protocol.NewParseResponse(pe))
					continue
				}
				resp := s.dispatch(conn, cmd)
				if resp != nil {
					if werr := protocol.WriteFrame(conn, resp); werr != nil {
						s.log.Debug("response write failed: %v", werr)
					}
				}
			}
		}
		if err != nil {
			return
		}
	}
}

// dropSubscriptionsFor removes every subscription registered on conn.
// Called when the connection closes before its turn_end fires.
func (s *Server) dropSubscriptionsFor(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if sub.conn != conn {
			kept = append(kept, sub)
		}
	}
	s.subs = kept
}

// aliasTicker resyncs the alias roughly once a second while a runtime
// is attached, so display-name changes made in the host UI become
// addressable by peers within a tick.
func (s *Server) aliasTicker(stop chan struct{}) {
	defer s.wg.Done()
	ticker := time.NewTicker(aliasSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.SyncAlias()
		}
	}
}

// pendingSubscriptions returns the number of unfired subscriptions.
func (s *Server) pendingSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
