//go:build !windows

package channel

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
)

// DefaultEndpoint is the well-known socket path shared by every client and
// the single agent instance.
const DefaultEndpoint = "/var/run/dnswardd.sock"

// listenEndpoint creates the unix domain socket. Access control is the unix
// permission set on the socket file: any local user may connect, and the
// privileged operations live behind the agent, not the transport.
func listenEndpoint(path string) (net.Listener, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create socket directory: %w", err)
	}

	// A previous agent may have died without unlinking the socket.
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on unix socket %s: %w", path, err)
	}

	if err := os.Chmod(path, 0o666); err != nil {
		ln.Close()
		return nil, fmt.Errorf("set socket permissions: %w", err)
	}

	log.Debugf("command channel listening on unix socket %s", path)
	return ln, nil
}

// cleanupEndpoint unlinks the socket file on shutdown.
func cleanupEndpoint(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Errorf("remove socket %s: %v", path, err)
	}
}

func dialEndpoint(path string, timeout time.Duration) (net.Conn, error) {
	return net.DialTimeout("unix", path, timeout)
}
