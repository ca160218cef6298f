//go:build windows

package dnscfg

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
	"golang.zx2c4.com/wireguard/windows/tunnel/winipcfg"

	"github.com/dnsward/dnsward/internal/proto"
)

const (
	interfaceConfigPath           = `SYSTEM\CurrentControlSet\Services\Tcpip\Parameters\Interfaces`
	interfaceConfigNameServer     = "NameServer"
	interfaceConfigDhcpNameServer = "DhcpNameServer"
)

var (
	dnsapi                  = syscall.NewLazyDLL("dnsapi.dll")
	dnsFlushResolverCacheFn = dnsapi.NewProc("DnsFlushResolverCache")
)

// windowsBackend edits per-interface TCP/IP parameters in the registry.
// Adapters are identified by their hardware description string; the
// interface GUID keying the registry is looked up per call because adapter
// indices shift as hardware comes and goes.
type windowsBackend struct{}

func newPlatformBackend() (Backend, error) {
	return &windowsBackend{}, nil
}

func (b *windowsBackend) Name() string { return "windows-registry" }

// eligibleAdapters enumerates up, physical-ish IPv4 adapters. Loopback,
// tunnel, PPP and purely virtual interfaces never carry the configuration
// the user means to change.
func eligibleAdapters() ([]*winipcfg.IPAdapterAddresses, error) {
	all, err := winipcfg.GetAdaptersAddresses(windows.AF_INET, winipcfg.GAAFlagIncludeGateways)
	if err != nil {
		return nil, fmt.Errorf("enumerate adapters: %w", err)
	}

	var eligible []*winipcfg.IPAdapterAddresses
	for _, a := range all {
		if a.OperStatus != winipcfg.IfOperStatusUp {
			continue
		}
		switch a.IfType {
		case winipcfg.IfTypeSoftwareLoopback, winipcfg.IfTypeTunnel,
			winipcfg.IfTypePpp, winipcfg.IfTypePropVirtual:
			continue
		}
		eligible = append(eligible, a)
	}
	return eligible, nil
}

func (b *windowsBackend) ListAdapters(_ context.Context) ([]string, error) {
	adapters, err := eligibleAdapters()
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(adapters))
	for _, a := range adapters {
		names = append(names, a.Description())
	}
	return names, nil
}

// PreferredAdapter favors a wired adapter holding a default gateway, then a
// wireless one, then anything eligible.
func (b *windowsBackend) PreferredAdapter(_ context.Context) (string, error) {
	adapters, err := eligibleAdapters()
	if err != nil {
		return "", err
	}
	if len(adapters) == 0 {
		return "", nil
	}

	pick := func(match func(*winipcfg.IPAdapterAddresses) bool) string {
		for _, a := range adapters {
			if match(a) {
				return a.Description()
			}
		}
		return ""
	}
	hasGateway := func(a *winipcfg.IPAdapterAddresses) bool { return a.FirstGatewayAddress != nil }

	if name := pick(func(a *winipcfg.IPAdapterAddresses) bool {
		return a.IfType == winipcfg.IfTypeEthernetCsmacd && hasGateway(a)
	}); name != "" {
		return name, nil
	}
	if name := pick(func(a *winipcfg.IPAdapterAddresses) bool {
		return a.IfType == winipcfg.IfTypeIeee80211 && hasGateway(a)
	}); name != "" {
		return name, nil
	}
	return adapters[0].Description(), nil
}

// adapterGUID resolves a description back to the interface GUID that keys
// the registry.
func adapterGUID(description string) (string, error) {
	adapters, err := eligibleAdapters()
	if err != nil {
		return "", err
	}
	for _, a := range adapters {
		if strings.EqualFold(a.Description(), description) {
			return a.AdapterName(), nil
		}
	}
	return "", fmt.Errorf("adapter %q not found", description)
}

func openInterfaceKey(guid string, access uint32) (registry.Key, error) {
	path := interfaceConfigPath + `\` + guid
	key, err := registry.OpenKey(registry.LOCAL_MACHINE, path, access)
	if err != nil {
		return 0, fmt.Errorf(`open HKLM\%s: %w`, path, err)
	}
	return key, nil
}

func (b *windowsBackend) CurrentConfiguration(_ context.Context, adapter string) (proto.Configuration, error) {
	guid, err := adapterGUID(adapter)
	if err != nil {
		return proto.Configuration{}, err
	}
	key, err := openInterfaceKey(guid, registry.QUERY_VALUE)
	if err != nil {
		return proto.Configuration{}, err
	}
	defer key.Close()

	// A non-empty NameServer means static assignment; otherwise the
	// adapter is on DHCP and DhcpNameServer shows what the lease handed
	// out.
	if nameServer, _, err := key.GetStringValue(interfaceConfigNameServer); err == nil && nameServer != "" {
		primary, secondary := firstTwo(splitServerList(nameServer))
		return proto.Configuration{PrimaryDNS: primary, SecondaryDNS: secondary}, nil
	}

	cfg := proto.Configuration{IsDHCP: true}
	if dhcpServers, _, err := key.GetStringValue(interfaceConfigDhcpNameServer); err == nil {
		cfg.PrimaryDNS, cfg.SecondaryDNS = firstTwo(splitServerList(dhcpServers))
	}
	return cfg, nil
}

func (b *windowsBackend) Apply(ctx context.Context, adapter, primary, secondary string) error {
	serverList := primary
	if secondary != "" {
		serverList += "," + secondary
	}
	if err := b.setNameServer(adapter, serverList); err != nil {
		return err
	}
	if err := b.FlushCache(ctx); err != nil {
		log.Warnf("flush after apply: %v", err)
	}
	return nil
}

func (b *windowsBackend) Reset(ctx context.Context, adapter string) error {
	// An empty NameServer reverts the interface to DHCP-supplied servers.
	if err := b.setNameServer(adapter, ""); err != nil {
		return err
	}
	if err := b.FlushCache(ctx); err != nil {
		log.Warnf("flush after reset: %v", err)
	}
	return nil
}

func (b *windowsBackend) setNameServer(adapter, serverList string) error {
	guid, err := adapterGUID(adapter)
	if err != nil {
		return err
	}
	key, err := openInterfaceKey(guid, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer key.Close()

	if err := key.SetStringValue(interfaceConfigNameServer, serverList); err != nil {
		return fmt.Errorf("set NameServer: %w", err)
	}
	return nil
}

// FlushCache calls DnsFlushResolverCache and falls back to ipconfig
// /flushdns when the entry point is missing or fails.
func (b *windowsBackend) FlushCache(ctx context.Context) error {
	if err := flushViaDnsapi(); err == nil {
		return nil
	} else {
		log.Debugf("DnsFlushResolverCache: %v", err)
	}

	out, err := exec.CommandContext(ctx, "ipconfig", "/flushdns").CombinedOutput()
	if err != nil {
		return fmt.Errorf("ipconfig /flushdns: %v (%s)", err, strings.TrimSpace(string(out)))
	}
	return nil
}

func flushViaDnsapi() (err error) {
	// Call panics if the proc cannot be located.
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("DnsFlushResolverCache unavailable: %v", rec)
		}
	}()

	ret, _, callErr := dnsFlushResolverCacheFn.Call()
	if ret == 0 {
		if callErr != nil && !errors.Is(callErr, syscall.Errno(0)) {
			return fmt.Errorf("DnsFlushResolverCache: %w", callErr)
		}
		return errors.New("DnsFlushResolverCache failed")
	}
	return nil
}
