// dnswardd is the privileged agent. It owns the command channel endpoint,
// performs DNS configuration changes on behalf of unprivileged clients, and
// runs the local DoH forwarding proxy while a DoH configuration is active.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/dnsward/dnsward/internal/channel"
	"github.com/dnsward/dnsward/internal/config"
	"github.com/dnsward/dnsward/internal/dnscfg"
	"github.com/dnsward/dnsward/internal/doh"
)

// CLI flags override the config file, which overrides built-in defaults.
type CLI struct {
	Config      string `short:"c" help:"Path to TOML config file." type:"path"`
	Endpoint    string `help:"Command channel endpoint (socket path or pipe name)."`
	ProxyListen string `help:"Loopback address the DoH proxy binds."`
	LogLevel    string `help:"Log level: debug, info, warn, error."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("dnswardd"),
		kong.Description("Privileged DNS configuration agent."),
		kong.UsageOnError(),
	)
	kctx.FatalIfErrorf(run(&cli))
}

func run(cli *CLI) error {
	cfg, err := config.Load(cli.Config)
	if err != nil {
		return err
	}
	if cli.Endpoint != "" {
		cfg.Endpoint = cli.Endpoint
	}
	if cli.ProxyListen != "" {
		cfg.ProxyListen = cli.ProxyListen
	}
	if cli.LogLevel != "" {
		cfg.LogLevel = cli.LogLevel
	}

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	log.SetLevel(level)

	timeout, err := cfg.Timeout()
	if err != nil {
		return err
	}

	proxy := doh.New(cfg.ProxyListen)
	dispatcher, err := dnscfg.New(proxy)
	if err != nil {
		return err
	}

	server, err := channel.Listen(cfg.Endpoint, timeout, dispatcher.Handle)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("dnswardd listening on %s", cfg.Endpoint)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		server.Close()
		// Applied OS settings are left in place; only the proxy's
		// loopback binding is released.
		dispatcher.Shutdown()
		return nil
	})

	err = g.Wait()
	log.Infof("dnswardd stopped")
	return err
}
