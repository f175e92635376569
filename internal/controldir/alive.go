package controldir

import (
	"net"
	"time"
)

// IsSocketAlive probes the socket with a short connect attempt. A
// successful connect counts as alive even if the peer closes
// immediately; any error or timeout counts as dead. This is the only
// liveness mechanism: crashed processes leave socket files behind, so
// existence on disk proves nothing.
func (d *Dir) IsSocketAlive(socketPath string) bool {
	timeout := d.ProbeTimeout
	if timeout <= 0 {
		timeout = defaultProbeTimeout
	}

	conn, err := net.DialTimeout("unix", socketPath, timeout)
	if err != nil {
		return false
	}
	conn.SetDeadline(time.Now()) // no reads; close right away
	conn.Close()
	return true
}
