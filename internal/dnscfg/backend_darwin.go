//go:build darwin

package dnscfg

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dnsward/dnsward/internal/proto"
)

const (
	networksetupPath = "/usr/sbin/networksetup"
	routePath        = "/sbin/route"
	dscacheutilPath  = "/usr/bin/dscacheutil"
)

// darwinBackend drives networksetup. Network services ("Wi-Fi",
// "Thunderbolt Ethernet") are the adapter identity; the BSD device names
// underneath only appear when mapping the default route back to a service.
type darwinBackend struct{}

func newPlatformBackend() (Backend, error) {
	return &darwinBackend{}, nil
}

func (b *darwinBackend) Name() string { return "networksetup" }

func (b *darwinBackend) run(ctx context.Context, tool string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, tool, args...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if msg == "" {
			return "", fmt.Errorf("%s %s: %w", tool, strings.Join(args, " "), err)
		}
		return "", fmt.Errorf("%s %s: %s", tool, strings.Join(args, " "), msg)
	}
	return string(out), nil
}

func (b *darwinBackend) ListAdapters(ctx context.Context) ([]string, error) {
	out, err := b.run(ctx, networksetupPath, "-listallnetworkservices")
	if err != nil {
		return nil, err
	}
	return parseNetworkServices(out), nil
}

// PreferredAdapter maps the default route's device back to its network
// service via the hardware port table. Without a default route the first
// enabled service wins.
func (b *darwinBackend) PreferredAdapter(ctx context.Context) (string, error) {
	services, err := b.ListAdapters(ctx)
	if err != nil {
		return "", err
	}
	if len(services) == 0 {
		return "", nil
	}

	enabled := make(map[string]bool, len(services))
	for _, s := range services {
		enabled[s] = true
	}

	if out, err := b.run(ctx, routePath, "-n", "get", "default"); err == nil {
		if dev := parseRouteField(out, "interface"); dev != "" {
			ports, err := b.run(ctx, networksetupPath, "-listallhardwareports")
			if err == nil {
				if svc := parseHardwarePorts(ports)[dev]; svc != "" && enabled[svc] {
					return svc, nil
				}
			}
		}
	} else {
		log.Debugf("no default route: %v", err)
	}

	return services[0], nil
}

func (b *darwinBackend) CurrentConfiguration(ctx context.Context, adapter string) (proto.Configuration, error) {
	out, err := b.run(ctx, networksetupPath, "-getdnsservers", adapter)
	if err != nil {
		return proto.Configuration{}, err
	}
	servers, dhcp := parseDNSServersOutput(out)
	if dhcp {
		return proto.Configuration{IsDHCP: true}, nil
	}
	primary, secondary := firstTwo(servers)
	return proto.Configuration{PrimaryDNS: primary, SecondaryDNS: secondary}, nil
}

func (b *darwinBackend) Apply(ctx context.Context, adapter, primary, secondary string) error {
	args := []string{"-setdnsservers", adapter, primary}
	if secondary != "" {
		args = append(args, secondary)
	}
	_, err := b.run(ctx, networksetupPath, args...)
	return err
}

// Reset uses the literal service name "Empty", which networksetup defines
// as "clear the static list and fall back to DHCP".
func (b *darwinBackend) Reset(ctx context.Context, adapter string) error {
	_, err := b.run(ctx, networksetupPath, "-setdnsservers", adapter, "Empty")
	return err
}

// FlushCache drops the directory services cache and nudges mDNSResponder.
// Either succeeding counts as a flush; mDNSResponder may simply not be
// running.
func (b *darwinBackend) FlushCache(ctx context.Context) error {
	_, err := b.run(ctx, dscacheutilPath, "-flushcache")

	if _, hupErr := b.run(ctx, "killall", "-HUP", "mDNSResponder"); hupErr != nil {
		if err != nil {
			return fmt.Errorf("flush resolver cache: %v; %v", err, hupErr)
		}
		log.Debugf("signal mDNSResponder: %v", hupErr)
	}
	return nil
}
