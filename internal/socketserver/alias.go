package socketserver

import (
	"strings"

	"github.com/codefionn/sessionwire/internal/controldir"
)

// aliasFromDisplayName derives the alias for a display name: trimmed and
// path-safe, or "" when the name yields no usable alias.
func aliasFromDisplayName(name string) string {
	alias := strings.TrimSpace(name)
	if !controldir.IsSafeAlias(alias) {
		return ""
	}
	return alias
}

// SyncAlias reconciles the alias symlink with the session's current
// display name. No-op while unbound. When the derived alias changed, all
// aliases pointing at this socket are removed first so a rename never
// leaves the old name resolvable. Runs eagerly after every dispatched
// command and from the periodic ticker; failures are logged and left for
// the next sync.
func (s *Server) SyncAlias() {
	s.mu.Lock()
	if s.listener == nil || s.runtime == nil {
		s.mu.Unlock()
		return
	}
	rt := s.runtime
	socketPath := s.socketPath
	last := s.syncedAlias
	s.mu.Unlock()

	alias := aliasFromDisplayName(rt.DisplayName())
	if alias == last {
		return
	}

	s.dir.RemoveAliasesForSocket(socketPath)
	if alias != "" {
		if err := s.dir.CreateAliasSymlink(rt.SessionID(), alias); err != nil {
			s.log.Warn("alias sync for %q failed: %v", alias, err)
			return
		}
	}

	s.mu.Lock()
	// Only record if the server was not rebound while we touched disk.
	if s.socketPath == socketPath {
		s.syncedAlias = alias
	}
	s.mu.Unlock()
	s.log.Debug("alias synced: %q -> %s", alias, socketPath)
}
