// Package controldir manages the on-disk session directory: one Unix
// socket per live session plus human-readable alias symlinks, all under a
// single control directory shared by every session process on the
// machine. Everything here tolerates concurrent mutation by peer
// processes; entries can appear and vanish between a list and a stat,
// and that is never an error.
package controldir

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/codefionn/sessionwire/internal/logger"
)

const (
	// SocketSuffix is the filename suffix of session sockets.
	SocketSuffix = ".sock"
	// AliasSuffix is the filename suffix of alias symlinks.
	AliasSuffix = ".alias"

	defaultProbeTimeout = 300 * time.Millisecond
)

// Dir is a handle on one control directory.
type Dir struct {
	// Path is the control directory.
	Path string

	// ProbeTimeout bounds each liveness probe connect attempt. Zero
	// means the package default.
	ProbeTimeout time.Duration
}

// New returns a Dir rooted at path.
func New(path string) *Dir {
	return &Dir{Path: path, ProbeTimeout: defaultProbeTimeout}
}

// IsSafeSessionID reports whether id can be used verbatim as a filename
// stem. Rejects empty strings and anything containing a path separator
// or parent-directory sequence. No filesystem path may be constructed
// from a value that fails this check.
func IsSafeSessionID(id string) bool {
	if id == "" {
		return false
	}
	if strings.ContainsAny(id, "/\\") {
		return false
	}
	if strings.Contains(id, "..") {
		return false
	}
	if id == "." {
		return false
	}
	return true
}

// IsSafeAlias applies the same path-safety predicate to an alias name.
func IsSafeAlias(alias string) bool {
	return IsSafeSessionID(alias)
}

// SocketPath returns the canonical socket path for a session id. The id
// must already have passed IsSafeSessionID.
func (d *Dir) SocketPath(sessionID string) string {
	return filepath.Join(d.Path, sessionID+SocketSuffix)
}

// AliasPath returns the canonical symlink path for an alias name. The
// alias must already have passed IsSafeAlias.
func (d *Dir) AliasPath(alias string) string {
	return filepath.Join(d.Path, alias+AliasSuffix)
}

// Ensure creates the control directory if missing.
func (d *Dir) Ensure() error {
	if err := os.MkdirAll(d.Path, 0o755); err != nil {
		return fmt.Errorf("failed to create control directory %s: %w", d.Path, err)
	}
	return nil
}

// RemoveSocket unlinks a socket file. "Does not exist" is success; any
// other failure is logged rather than returned so shutdown flows never
// stall on it.
func (d *Dir) RemoveSocket(socketPath string) {
	if err := os.Remove(socketPath); err != nil && !os.IsNotExist(err) {
		logger.Warn("controldir: failed to remove socket %s: %v", socketPath, err)
	}
}

// RemoveAliasesForSocket removes every alias symlink in the control
// directory whose target resolves to socketPath. Unreadable links are
// skipped; another process may be mutating them concurrently.
func (d *Dir) RemoveAliasesForSocket(socketPath string) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		return
	}

	want := filepath.Clean(socketPath)
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), AliasSuffix) {
			continue
		}
		aliasPath := filepath.Join(d.Path, entry.Name())
		target, err := os.Readlink(aliasPath)
		if err != nil {
			continue
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(d.Path, resolved)
		}
		if filepath.Clean(resolved) != want {
			continue
		}
		if err := os.Remove(aliasPath); err != nil && !os.IsNotExist(err) {
			logger.Warn("controldir: failed to remove alias %s: %v", aliasPath, err)
		}
	}
}

// CreateAliasSymlink points <alias>.alias at <sessionID>.sock with a
// relative target. An existing link at the alias path is replaced. A
// concurrent creation of the same link by a peer process is treated as
// success.
func (d *Dir) CreateAliasSymlink(sessionID, alias string) error {
	if !IsSafeSessionID(sessionID) {
		return fmt.Errorf("unsafe session id %q", sessionID)
	}
	if !IsSafeAlias(alias) {
		return fmt.Errorf("unsafe alias %q", alias)
	}

	aliasPath := d.AliasPath(alias)
	if err := os.Remove(aliasPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to replace alias %s: %w", aliasPath, err)
	}

	if err := os.Symlink(sessionID+SocketSuffix, aliasPath); err != nil {
		if os.IsExist(err) {
			// Lost a race with a peer creating the same alias.
			return nil
		}
		return fmt.Errorf("failed to create alias %s: %w", aliasPath, err)
	}
	return nil
}

// ResolveSessionIDFromAlias maps an alias name to the session id its
// symlink points at. Returns "" for any failure: unknown alias,
// unreadable link, a target outside the socket naming scheme, or an
// unsafe derived id.
func (d *Dir) ResolveSessionIDFromAlias(alias string) string {
	if !IsSafeAlias(alias) {
		return ""
	}

	target, err := os.Readlink(d.AliasPath(alias))
	if err != nil {
		return ""
	}
	resolved := target
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(d.Path, resolved)
	}

	base := filepath.Base(resolved)
	if !strings.HasSuffix(base, SocketSuffix) {
		return ""
	}
	id := strings.TrimSuffix(base, SocketSuffix)
	if !IsSafeSessionID(id) {
		return ""
	}
	return id
}

// SessionInfo is one live session in the directory listing.
type SessionInfo struct {
	SessionID  string
	Alias      string // first matching alias, "" when none
	Aliases    []string
	SocketPath string
}

// DisplayName returns the alias when present, the id otherwise.
func (s *SessionInfo) DisplayName() string {
	if s.Alias != "" {
		return s.Alias
	}
	return s.SessionID
}

// LiveSessions lists every socket in the control directory, probes each
// for liveness concurrently, and returns one record per alive socket
// with its aliases, sorted by alias-or-id for stable display. Socket
// files without a listener behind them are silently excluded; file
// existence says nothing about liveness.
func (d *Dir) LiveSessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(d.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to list control directory: %w", err)
	}

	aliasIndex := d.aliasIndex(entries)

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		live []SessionInfo
	)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, SocketSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, SocketSuffix)
		if !IsSafeSessionID(id) {
			continue
		}

		socketPath := filepath.Join(d.Path, name)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !d.IsSocketAlive(socketPath) {
				return
			}
			info := SessionInfo{
				SessionID:  id,
				Aliases:    aliasIndex[filepath.Clean(socketPath)],
				SocketPath: socketPath,
			}
			if len(info.Aliases) > 0 {
				info.Alias = info.Aliases[0]
			}
			mu.Lock()
			live = append(live, info)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Slice(live, func(i, j int) bool {
		return live[i].DisplayName() < live[j].DisplayName()
	})
	return live, nil
}

// aliasIndex builds socket-path -> sorted alias names from one directory
// scan.
func (d *Dir) aliasIndex(entries []os.DirEntry) map[string][]string {
	index := make(map[string][]string)
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, AliasSuffix) {
			continue
		}
		alias := strings.TrimSuffix(name, AliasSuffix)
		target, err := os.Readlink(filepath.Join(d.Path, name))
		if err != nil {
			continue
		}
		resolved := target
		if !filepath.IsAbs(resolved) {
			resolved = filepath.Join(d.Path, resolved)
		}
		key := filepath.Clean(resolved)
		index[key] = append(index[key], alias)
	}
	for _, aliases := range index {
		sort.Strings(aliases)
	}
	return index
}
