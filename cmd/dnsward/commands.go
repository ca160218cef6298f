package main

import (
	"errors"
	"fmt"

	"github.com/dnsward/dnsward/internal/proto"
)

// AdaptersCmd lists configurable adapters.
type AdaptersCmd struct{}

func (c *AdaptersCmd) Run(globals *CLI) error {
	resp, err := call(globals, proto.Request{Command: proto.CommandGetAdapters})
	if err != nil {
		return err
	}
	if len(resp.Adapters) == 0 {
		fmt.Println("no configurable adapters found")
		return nil
	}
	for _, a := range resp.Adapters {
		fmt.Println(a)
	}
	return nil
}

// PreferredCmd shows the preferred adapter.
type PreferredCmd struct{}

func (c *PreferredCmd) Run(globals *CLI) error {
	resp, err := call(globals, proto.Request{Command: proto.CommandGetPreferredAdapter})
	if err != nil {
		return err
	}
	if resp.PreferredAdapterName == "" {
		fmt.Println(resp.Message)
		return nil
	}
	fmt.Println(resp.PreferredAdapterName)
	return nil
}

// GetCmd shows an adapter's DNS configuration.
type GetCmd struct {
	Adapter string `arg:"" optional:"" help:"Adapter name; defaults to the preferred adapter."`
}

func (c *GetCmd) Run(globals *CLI) error {
	adapter, err := resolveAdapter(globals, c.Adapter)
	if err != nil {
		return err
	}
	resp, err := call(globals, proto.Request{
		Command:     proto.CommandGetConfiguration,
		AdapterName: adapter,
	})
	if err != nil {
		return err
	}

	cfg := resp.Configuration
	if cfg == nil {
		return errors.New("agent returned no configuration")
	}
	fmt.Printf("adapter:   %s\n", adapter)
	if cfg.IsDHCP {
		fmt.Println("mode:      automatic (DHCP)")
	} else {
		fmt.Println("mode:      static")
	}
	if cfg.PrimaryDNS != "" {
		fmt.Printf("primary:   %s\n", cfg.PrimaryDNS)
	}
	if cfg.SecondaryDNS != "" {
		fmt.Printf("secondary: %s\n", cfg.SecondaryDNS)
	}
	if resp.Message != "" {
		fmt.Println(resp.Message)
	}
	return nil
}

// ApplyCmd sets static servers or a DoH upstream. The two modes are
// mutually exclusive.
type ApplyCmd struct {
	Adapter   string `arg:"" optional:"" help:"Adapter name; defaults to the preferred adapter."`
	Primary   string `help:"Primary DNS server (IP address)." xor:"mode"`
	Secondary string `help:"Secondary DNS server (IP address)."`
	DoH       string `name:"doh" help:"DoH upstream URL (https://...)." xor:"mode"`
}

func (c *ApplyCmd) Run(globals *CLI) error {
	if c.Primary == "" && c.DoH == "" {
		return errors.New("either --primary or --doh is required")
	}
	adapter, err := resolveAdapter(globals, c.Adapter)
	if err != nil {
		return err
	}

	resp, err := call(globals, proto.Request{
		Command:     proto.CommandApplyDNS,
		AdapterName: adapter,
		Configuration: &proto.Configuration{
			PrimaryDNS:   c.Primary,
			SecondaryDNS: c.Secondary,
			DoHURL:       c.DoH,
		},
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// ResetCmd returns an adapter to DHCP.
type ResetCmd struct {
	Adapter string `arg:"" optional:"" help:"Adapter name; defaults to the preferred adapter."`
}

func (c *ResetCmd) Run(globals *CLI) error {
	adapter, err := resolveAdapter(globals, c.Adapter)
	if err != nil {
		return err
	}
	resp, err := call(globals, proto.Request{
		Command:     proto.CommandResetDHCP,
		AdapterName: adapter,
	})
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// FlushCmd flushes the resolver cache.
type FlushCmd struct{}

func (c *FlushCmd) Run(globals *CLI) error {
	resp, err := call(globals, proto.Request{Command: proto.CommandFlushDNS})
	if err != nil {
		return err
	}
	fmt.Println(resp.Message)
	return nil
}

// call performs one exchange and turns an unsuccessful response into an
// error so commands exit non-zero.
func call(globals *CLI, req proto.Request) (proto.Response, error) {
	resp, err := globals.client().Call(req)
	if err != nil {
		return proto.Response{}, err
	}
	if !resp.Success {
		return proto.Response{}, errors.New(resp.Message)
	}
	return resp, nil
}

// resolveAdapter falls back to the agent's preferred adapter when the user
// did not name one.
func resolveAdapter(globals *CLI, adapter string) (string, error) {
	if adapter != "" {
		return adapter, nil
	}
	resp, err := call(globals, proto.Request{Command: proto.CommandGetPreferredAdapter})
	if err != nil {
		return "", err
	}
	if resp.PreferredAdapterName == "" {
		return "", errors.New("no preferred adapter found; name one explicitly")
	}
	return resp.PreferredAdapterName, nil
}
