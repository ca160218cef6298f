package dnscfg

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/dnsward/dnsward/internal/doh"
	"github.com/dnsward/dnsward/internal/proto"
)

// Dispatcher routes commands to the platform backend and keeps the DoH
// proxy's lifecycle consistent with the applied configuration: the proxy
// runs exactly while a DoH configuration is in force.
type Dispatcher struct {
	backend Backend
	proxy   *doh.Proxy
}

// New builds a dispatcher on the backend native to the running platform.
func New(proxy *doh.Proxy) (*Dispatcher, error) {
	backend, err := newPlatformBackend()
	if err != nil {
		return nil, err
	}
	log.Infof("using %s DNS backend", backend.Name())
	return &Dispatcher{backend: backend, proxy: proxy}, nil
}

// NewWithBackend builds a dispatcher on an explicit backend.
func NewWithBackend(backend Backend, proxy *doh.Proxy) *Dispatcher {
	return &Dispatcher{backend: backend, proxy: proxy}
}

// Shutdown releases anything the dispatcher holds, currently just the
// proxy's loopback binding. OS DNS settings are deliberately left alone so
// a restarted agent finds them where the user put them.
func (d *Dispatcher) Shutdown() {
	d.proxy.Stop()
}

// Handle executes one request and always produces a response; failures are
// reported in the response body rather than breaking the channel. Only the
// payload fields matching the command are populated.
func (d *Dispatcher) Handle(ctx context.Context, req proto.Request) proto.Response {
	if !req.Command.Known() {
		return proto.Failure("unknown command %q", req.Command)
	}

	switch req.Command {
	case proto.CommandGetAdapters:
		adapters, err := d.backend.ListAdapters(ctx)
		if err != nil {
			return proto.Failure("list adapters: %v", err)
		}
		return proto.Response{Success: true, Adapters: adapters}

	case proto.CommandGetPreferredAdapter:
		name, err := d.backend.PreferredAdapter(ctx)
		if err != nil {
			return proto.Failure("find preferred adapter: %v", err)
		}
		if name == "" {
			return proto.Response{Success: true, Message: "no suitable adapter found"}
		}
		return proto.Response{Success: true, PreferredAdapterName: name}

	case proto.CommandGetConfiguration:
		if req.AdapterName == "" {
			return proto.Failure("adapter name is required")
		}
		cfg, err := d.backend.CurrentConfiguration(ctx, req.AdapterName)
		if err != nil {
			return proto.Failure("read configuration of %s: %v", req.AdapterName, err)
		}
		resp := proto.Response{Success: true, Configuration: &cfg}
		// The OS only ever shows the loopback override while DoH is
		// active; the agent's own run state is what names the upstream.
		if running, upstream := d.proxy.Status(); running {
			resp.Message = fmt.Sprintf("DoH forwarding active via %s", upstream)
		}
		return resp

	case proto.CommandApplyDNS:
		if req.AdapterName == "" {
			return proto.Failure("adapter name is required")
		}
		if req.Configuration == nil {
			return proto.Failure("configuration is required")
		}
		msg, err := d.apply(ctx, req.AdapterName, *req.Configuration)
		if err != nil {
			return proto.Failure("apply to %s: %v", req.AdapterName, err)
		}
		return proto.Response{Success: true, Message: msg}

	case proto.CommandResetDHCP:
		if req.AdapterName == "" {
			return proto.Failure("adapter name is required")
		}
		d.proxy.Stop()
		if err := d.backend.Reset(ctx, req.AdapterName); err != nil {
			return proto.Failure("reset %s to DHCP: %v", req.AdapterName, err)
		}
		return proto.Response{Success: true, Message: fmt.Sprintf("%s returned to automatic DNS", req.AdapterName)}

	case proto.CommandFlushDNS:
		if err := d.backend.FlushCache(ctx); err != nil {
			return proto.Failure("flush resolver cache: %v", err)
		}
		return proto.Response{Success: true, Message: "resolver cache flushed"}
	}

	return proto.Failure("unknown command %q", req.Command)
}

// apply carries out an ApplyDns intent. DoH and static modes are mutually
// exclusive: entering DoH mode starts the proxy and points the adapter at
// loopback, entering static mode stops the proxy before the resolvers are
// written. Validation happens before any platform state is touched.
func (d *Dispatcher) apply(ctx context.Context, adapter string, cfg proto.Configuration) (string, error) {
	if cfg.DoHURL != "" {
		if err := d.proxy.Start(cfg.DoHURL); err != nil {
			return "", fmt.Errorf("start DoH proxy: %w", err)
		}
		host, _, err := net.SplitHostPort(d.proxy.ListenAddr())
		if err != nil {
			host = "127.0.0.1"
		}
		if err := d.backend.Apply(ctx, adapter, host, ""); err != nil {
			// The adapter still points wherever it did before, so the
			// proxy must not keep squatting on the DNS port.
			d.proxy.Stop()
			return "", err
		}
		log.Infof("adapter %s now resolving through DoH upstream %s", adapter, cfg.DoHURL)
		return fmt.Sprintf("%s resolving via DoH upstream %s", adapter, cfg.DoHURL), nil
	}

	// Any previously running proxy belongs to a configuration that is now
	// being replaced.
	d.proxy.Stop()

	primary := strings.TrimSpace(cfg.PrimaryDNS)
	secondary := strings.TrimSpace(cfg.SecondaryDNS)
	if primary == "" {
		return "", fmt.Errorf("primary DNS server is required for a static configuration")
	}
	if net.ParseIP(primary) == nil {
		return "", fmt.Errorf("primary DNS server %q is not an IP address", primary)
	}
	if secondary != "" && net.ParseIP(secondary) == nil {
		return "", fmt.Errorf("secondary DNS server %q is not an IP address", secondary)
	}

	if err := d.backend.Apply(ctx, adapter, primary, secondary); err != nil {
		return "", err
	}
	log.Infof("adapter %s now using static DNS %s", adapter, strings.TrimSuffix(primary+", "+secondary, ", "))
	return fmt.Sprintf("%s using static DNS", adapter), nil
}
