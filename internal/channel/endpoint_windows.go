//go:build windows

package channel

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/charmbracelet/log"
)

// DefaultEndpoint is the well-known pipe name shared by every client and
// the single agent instance.
const DefaultEndpoint = `\\.\pipe\dnswardd`

// pipeSecurityDescriptor grants full pipe access to the local system
// account (SY), local administrators (BA), and authenticated local users
// (AU). No anonymous or network-remote principals are admitted.
const pipeSecurityDescriptor = "D:(A;;GA;;;SY)(A;;GA;;;BA)(A;;GA;;;AU)"

func listenEndpoint(name string) (net.Listener, error) {
	if !strings.HasPrefix(name, `\\`) {
		name = `\\.\pipe\` + name
	}

	cfg := &winio.PipeConfig{
		SecurityDescriptor: pipeSecurityDescriptor,
		MessageMode:        false,
	}
	ln, err := winio.ListenPipe(name, cfg)
	if err != nil {
		return nil, fmt.Errorf("listen on named pipe %s: %w", name, err)
	}

	log.Debugf("command channel listening on named pipe %s", name)
	return ln, nil
}

// cleanupEndpoint is a no-op: named pipes disappear with their last handle.
func cleanupEndpoint(string) {}

func dialEndpoint(name string, timeout time.Duration) (net.Conn, error) {
	if !strings.HasPrefix(name, `\\`) {
		name = `\\.\pipe\` + name
	}
	return winio.DialPipe(name, &timeout)
}
