//go:build linux

package dnscfg

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	dbus "github.com/godbus/dbus/v5"
)

const (
	networkManagerDest     = "org.freedesktop.NetworkManager"
	networkManagerObjPath  = "/org/freedesktop/NetworkManager"
	networkManagerPingWait = 2 * time.Second
)

// networkManagerRunning pings NetworkManager over the system bus. nmcli
// happily runs without the daemon and then fails on every command, so this
// is checked once at startup to warn early.
func networkManagerRunning() bool {
	conn, err := dbus.SystemBus()
	if err != nil {
		return false
	}
	defer conn.Close()

	obj := conn.Object(networkManagerDest, networkManagerObjPath)

	ctx, cancel := context.WithTimeout(context.Background(), networkManagerPingWait)
	defer cancel()

	if err := obj.CallWithContext(ctx, "org.freedesktop.DBus.Peer.Ping", 0).Store(); err != nil {
		log.Debugf("NetworkManager ping failed: %v", err)
		return false
	}
	return true
}
