package controldir

import (
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDir(t *testing.T) *Dir {
	t.Helper()
	d := New(t.TempDir())
	d.ProbeTimeout = 200 * time.Millisecond
	require.NoError(t, d.Ensure())
	return d
}

// listen binds a real Unix listener that accepts and immediately closes
// connections, the minimum behavior a live control server exhibits.
func listen(t *testing.T, socketPath string) net.Listener {
	t.Helper()
	ln, err := net.Listen("unix", socketPath)
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	t.Cleanup(func() { ln.Close() })
	return ln
}

func TestIsSafeSessionID(t *testing.T) {
	tests := []struct {
		id   string
		safe bool
	}{
		{"3f2a9c1b-77aa-4bd2-9d31-0e5f1c2d3a4b", true},
		{"s1", true},
		{"my-session_2", true},
		{"", false},
		{"a/b", false},
		{`a\b`, false},
		{"..", false},
		{"../etc", false},
		{"a..b", false},
		{".", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.safe, IsSafeSessionID(tt.id), "id %q", tt.id)
		assert.Equal(t, tt.safe, IsSafeAlias(tt.id), "alias %q", tt.id)
	}
}

func TestPathConstruction(t *testing.T) {
	d := New("/ctl")
	assert.Equal(t, filepath.Join("/ctl", "s1.sock"), d.SocketPath("s1"))
	assert.Equal(t, filepath.Join("/ctl", "worker1.alias"), d.AliasPath("worker1"))
}

func TestCreateAliasSymlinkRejectsUnsafeNames(t *testing.T) {
	d := newTestDir(t)

	assert.Error(t, d.CreateAliasSymlink("../x", "worker"))
	assert.Error(t, d.CreateAliasSymlink("s1", "a/b"))
	assert.Error(t, d.CreateAliasSymlink("s1", ""))
}

func TestAliasCreateResolveReplace(t *testing.T) {
	d := newTestDir(t)

	require.NoError(t, d.CreateAliasSymlink("s1", "worker1"))
	assert.Equal(t, "s1", d.ResolveSessionIDFromAlias("worker1"))

	// Re-pointing the same alias at another session replaces the link.
	require.NoError(t, d.CreateAliasSymlink("s2", "worker1"))
	assert.Equal(t, "s2", d.ResolveSessionIDFromAlias("worker1"))
}

func TestResolveSessionIDFromAliasFailures(t *testing.T) {
	d := newTestDir(t)

	assert.Equal(t, "", d.ResolveSessionIDFromAlias("missing"))
	assert.Equal(t, "", d.ResolveSessionIDFromAlias("../etc"))

	// A symlink pointing outside the socket naming scheme resolves to
	// nothing.
	require.NoError(t, os.Symlink("notes.txt", d.AliasPath("odd")))
	assert.Equal(t, "", d.ResolveSessionIDFromAlias("odd"))
}

func TestRemoveAliasesForSocket(t *testing.T) {
	d := newTestDir(t)

	require.NoError(t, d.CreateAliasSymlink("s1", "worker1"))
	require.NoError(t, d.CreateAliasSymlink("s1", "builder"))
	require.NoError(t, d.CreateAliasSymlink("s2", "other"))

	d.RemoveAliasesForSocket(d.SocketPath("s1"))

	assert.Equal(t, "", d.ResolveSessionIDFromAlias("worker1"))
	assert.Equal(t, "", d.ResolveSessionIDFromAlias("builder"))
	assert.Equal(t, "s2", d.ResolveSessionIDFromAlias("other"))
}

func TestRemoveAliasesForSocketIdempotent(t *testing.T) {
	d := newTestDir(t)
	require.NoError(t, d.CreateAliasSymlink("s1", "worker1"))

	d.RemoveAliasesForSocket(d.SocketPath("s1"))
	before, err := os.ReadDir(d.Path)
	require.NoError(t, err)

	// Second sweep over the same socket changes nothing.
	d.RemoveAliasesForSocket(d.SocketPath("s1"))
	after, err := os.ReadDir(d.Path)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestRemoveSocketToleratesMissing(t *testing.T) {
	d := newTestDir(t)
	// Must not panic or log-fatal on a nonexistent path.
	d.RemoveSocket(d.SocketPath("never-bound"))
}

func TestIsSocketAlive(t *testing.T) {
	d := newTestDir(t)
	socketPath := d.SocketPath("s1")

	// Orphaned socket file with no listener: dead.
	deadPath := d.SocketPath("dead")
	ln, err := net.Listen("unix", deadPath)
	require.NoError(t, err)
	ln.Close() // unlinks on close
	// Recreate the file to simulate a crashed process's leftover.
	require.NoError(t, os.WriteFile(deadPath, nil, 0o644))
	assert.False(t, d.IsSocketAlive(deadPath))

	// Bound listener that accepts and closes: alive.
	listen(t, socketPath)
	assert.True(t, d.IsSocketAlive(socketPath))

	// Nonexistent path: dead.
	assert.False(t, d.IsSocketAlive(d.SocketPath("nope")))
}

func TestLiveSessions(t *testing.T) {
	d := newTestDir(t)

	listen(t, d.SocketPath("s1"))
	listen(t, d.SocketPath("s2"))

	// Orphaned socket file: excluded from the listing.
	require.NoError(t, os.WriteFile(d.SocketPath("crashed"), nil, 0o644))

	// Unsafe name never probed.
	require.NoError(t, os.WriteFile(filepath.Join(d.Path, "..sock"), nil, 0o644))

	require.NoError(t, d.CreateAliasSymlink("s2", "alpha"))
	require.NoError(t, d.CreateAliasSymlink("s2", "zulu"))

	sessions, err := d.LiveSessions()
	require.NoError(t, err)
	require.Len(t, sessions, 2)

	// Sorted by alias-or-id: "alpha" (s2) before "s1".
	assert.Equal(t, "s2", sessions[0].SessionID)
	assert.Equal(t, "alpha", sessions[0].Alias)
	assert.Equal(t, []string{"alpha", "zulu"}, sessions[0].Aliases)
	assert.Equal(t, "s1", sessions[1].SessionID)
	assert.Empty(t, sessions[1].Alias)
}

func TestLiveSessionsMissingDirIsEmpty(t *testing.T) {
	d := New(filepath.Join(t.TempDir(), "never-created"))

	sessions, err := d.LiveSessions()
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestWatcherSignalsSocketChanges(t *testing.T) {
	d := newTestDir(t)

	w, err := d.Watch()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(d.SocketPath("s1"), nil, 0o644))

	select {
	case <-w.Changes:
	case <-time.After(2 * time.Second):
		t.Fatal("no change signal after socket creation")
	}
}
