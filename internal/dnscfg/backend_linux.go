//go:build linux

package dnscfg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/vishvananda/netlink"

	"github.com/dnsward/dnsward/internal/proto"
)

// linuxBackend drives NetworkManager through nmcli. Connection profiles,
// not raw interfaces, are the adapter identity here: the user picks the
// connection whose ipv4.dns we edit, and a `connection up` reactivation
// makes the change take effect.
type linuxBackend struct {
	nmcli string
}

func newPlatformBackend() (Backend, error) {
	path, err := exec.LookPath("nmcli")
	if err != nil {
		return nil, fmt.Errorf("nmcli not found in PATH, NetworkManager is required: %w", err)
	}
	if !networkManagerRunning() {
		log.Warnf("NetworkManager does not answer on D-Bus; DNS commands will likely fail")
	}
	return &linuxBackend{nmcli: path}, nil
}

func (b *linuxBackend) Name() string { return "NetworkManager" }

func (b *linuxBackend) run(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, b.nmcli, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("nmcli %s: %w", strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("nmcli %s: %s", strings.Join(args, " "), msg)
	}
	return string(out), nil
}

func (b *linuxBackend) activeConnections(ctx context.Context) ([]nmConnection, error) {
	out, err := b.run(ctx, "-t", "-f", "NAME,TYPE,DEVICE", "connection", "show", "--active")
	if err != nil {
		return nil, err
	}
	var conns []nmConnection
	for _, c := range parseNmcliConnections(out) {
		if nmcliEligible(c) {
			conns = append(conns, c)
		}
	}
	return conns, nil
}

func (b *linuxBackend) ListAdapters(ctx context.Context) ([]string, error) {
	conns, err := b.activeConnections(ctx)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(conns))
	for _, c := range conns {
		names = append(names, c.Name)
	}
	return names, nil
}

// PreferredAdapter matches active connections against the device carrying
// the IPv4 default route, favoring wired over wireless. With no default
// route it falls back to any active eligible connection.
func (b *linuxBackend) PreferredAdapter(ctx context.Context) (string, error) {
	conns, err := b.activeConnections(ctx)
	if err != nil {
		return "", err
	}
	if len(conns) == 0 {
		return "", nil
	}

	defaultDev := defaultRouteDevice()

	pick := func(match func(nmConnection) bool) string {
		for _, c := range conns {
			if match(c) {
				return c.Name
			}
		}
		return ""
	}

	if defaultDev != "" {
		if name := pick(func(c nmConnection) bool { return c.Device == defaultDev && nmcliWired(c) }); name != "" {
			return name, nil
		}
		if name := pick(func(c nmConnection) bool { return c.Device == defaultDev && nmcliWireless(c) }); name != "" {
			return name, nil
		}
		if name := pick(func(c nmConnection) bool { return c.Device == defaultDev }); name != "" {
			return name, nil
		}
	}
	if name := pick(nmcliWired); name != "" {
		return name, nil
	}
	if name := pick(nmcliWireless); name != "" {
		return name, nil
	}
	return conns[0].Name, nil
}

// defaultRouteDevice resolves the interface behind the IPv4 default route.
// Any failure reads as "no default route".
func defaultRouteDevice() string {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_V4)
	if err != nil {
		log.Debugf("list routes: %v", err)
		return ""
	}
	for _, r := range routes {
		if r.Dst != nil && r.Dst.IP != nil && !r.Dst.IP.IsUnspecified() {
			continue
		}
		if r.Gw == nil {
			continue
		}
		link, err := netlink.LinkByIndex(r.LinkIndex)
		if err != nil {
			continue
		}
		return link.Attrs().Name
	}
	return ""
}

func (b *linuxBackend) CurrentConfiguration(ctx context.Context, adapter string) (proto.Configuration, error) {
	out, err := b.run(ctx, "-t", "connection", "show", adapter)
	if err != nil {
		return proto.Configuration{}, err
	}
	settings := parseNmcliShow(out)

	servers := splitServerList(settings["ipv4.dns"])
	static := len(servers) > 0 && strings.EqualFold(settings["ipv4.ignore-auto-dns"], "yes")
	if !static {
		return proto.Configuration{IsDHCP: true}, nil
	}
	primary, secondary := firstTwo(servers)
	return proto.Configuration{PrimaryDNS: primary, SecondaryDNS: secondary}, nil
}

func (b *linuxBackend) Apply(ctx context.Context, adapter, primary, secondary string) error {
	servers := primary
	if secondary != "" {
		servers += "," + secondary
	}
	if _, err := b.run(ctx, "connection", "modify", adapter,
		"ipv4.dns", servers, "ipv4.ignore-auto-dns", "yes"); err != nil {
		return err
	}
	return b.reactivate(ctx, adapter)
}

func (b *linuxBackend) Reset(ctx context.Context, adapter string) error {
	if _, err := b.run(ctx, "connection", "modify", adapter,
		"ipv4.dns", "", "ipv4.ignore-auto-dns", "no"); err != nil {
		return err
	}
	return b.reactivate(ctx, adapter)
}

// reactivate bounces the connection so the modified profile reaches the
// live interface.
func (b *linuxBackend) reactivate(ctx context.Context, adapter string) error {
	if _, err := b.run(ctx, "connection", "up", adapter); err != nil {
		return fmt.Errorf("reactivate connection: %w", err)
	}
	return nil
}

// FlushCache asks systemd-resolved to drop its cache, via resolvectl on
// current systems and the older systemd-resolve binary as fallback.
func (b *linuxBackend) FlushCache(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "resolvectl", "flush-caches").CombinedOutput()
	if err == nil {
		return nil
	}
	log.Debugf("resolvectl flush-caches: %v (%s)", err, strings.TrimSpace(string(out)))

	out2, err2 := exec.CommandContext(ctx, "systemd-resolve", "--flush-caches").CombinedOutput()
	if err2 == nil {
		return nil
	}
	return fmt.Errorf("flush resolver cache: resolvectl failed (%v), systemd-resolve failed (%v: %s)",
		err, err2, strings.TrimSpace(string(out2)))
}
