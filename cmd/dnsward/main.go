// dnsward is the unprivileged client. It translates command-line verbs into
// framed requests on the agent's command channel and renders the responses.
package main

import (
	"os"
	"time"

	"github.com/alecthomas/kong"

	"github.com/dnsward/dnsward/internal/channel"
)

// CLI is the top-level Kong struct.
type CLI struct {
	Endpoint string        `help:"Agent endpoint (socket path or pipe name)."`
	Timeout  time.Duration `default:"5s" help:"Whole-exchange timeout."`

	Adapters  AdaptersCmd  `cmd:"" help:"List configurable network adapters."`
	Preferred PreferredCmd `cmd:"" help:"Show the adapter most likely carrying default traffic."`
	Get       GetCmd       `cmd:"" help:"Show an adapter's current DNS configuration."`
	Apply     ApplyCmd     `cmd:"" help:"Set static DNS servers or a DoH upstream on an adapter."`
	Reset     ResetCmd     `cmd:"" help:"Return an adapter to automatic (DHCP) DNS."`
	Flush     FlushCmd     `cmd:"" help:"Flush the system resolver cache."`
}

func (c *CLI) client() *channel.Client {
	return channel.NewClient(c.Endpoint, c.Timeout)
}

func main() {
	var cli CLI
	k, err := kong.New(&cli,
		kong.Name("dnsward"),
		kong.Description("Control the dnswardd DNS configuration agent."),
		kong.UsageOnError(),
	)
	if err != nil {
		panic(err)
	}

	args := os.Args[1:]
	if len(args) == 0 {
		_, _ = k.Parse([]string{"--help"})
		os.Exit(0)
	}

	kctx, err := k.Parse(args)
	k.FatalIfErrorf(err)
	k.FatalIfErrorf(kctx.Run(&cli))
}
