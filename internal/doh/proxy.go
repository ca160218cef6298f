// Package doh implements the local DNS-over-HTTPS forwarding proxy. It
// binds a loopback UDP endpoint at the DNS port, treats every inbound
// datagram as an opaque DNS wire-format query, tunnels it to one upstream
// DoH endpoint over a pinned HTTPS connection, and relays the answer bytes
// back to the original sender. It is a transparent forwarder: no cache, no
// validation, no filtering.
package doh

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/miekg/dns"
	"golang.org/x/net/http2"
)

const (
	// DefaultListenAddr is where the OS is pointed while DoH mode is
	// active.
	DefaultListenAddr = "127.0.0.1:53"

	// maxDatagramSize covers EDNS0-sized queries.
	maxDatagramSize = 4096

	// maxInflightForwards bounds the per-datagram fan-out. Datagrams
	// arriving past the bound are dropped; the asking resolver retries.
	maxInflightForwards = 256

	forwardTimeout   = 5 * time.Second
	bootstrapTimeout = 3 * time.Second
)

// Proxy is the agent-wide forwarder. At most one upstream is active at a
// time; Start and Stop are mutually exclusive so concurrent apply commands
// cannot interleave a partial start with a partial stop.
type Proxy struct {
	listenAddr string

	// rootCAs overrides certificate verification roots; nil means the
	// system pool. Set by tests running against a local upstream.
	rootCAs *x509.CertPool

	mu       sync.Mutex
	running  bool
	upstream string
	conn     *net.UDPConn
	client   *http.Client
	tr       *http.Transport
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	sem      chan struct{}
}

// New returns an inactive proxy. An empty listenAddr means
// DefaultListenAddr.
func New(listenAddr string) *Proxy {
	if listenAddr == "" {
		listenAddr = DefaultListenAddr
	}
	return &Proxy{listenAddr: listenAddr}
}

// ListenAddr returns the loopback address the proxy binds while running.
func (p *Proxy) ListenAddr() string { return p.listenAddr }

// BoundAddr returns the address actually bound, empty while stopped. It
// differs from ListenAddr when the configured port is 0.
func (p *Proxy) BoundAddr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return ""
	}
	return p.conn.LocalAddr().String()
}

// Status reports whether the proxy is running and against which upstream.
func (p *Proxy) Status() (running bool, upstream string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running, p.upstream
}

// Start brings the proxy up against the given HTTPS upstream. Calling it
// with the URL already active is a no-op; calling it with a different URL
// first performs a full stop. On any failure the proxy is left stopped and
// the loopback port is not held.
func (p *Proxy) Start(rawURL string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		if p.upstream == rawURL {
			log.Debugf("DoH proxy already forwarding to %s", rawURL)
			return nil
		}
		p.stopLocked()
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse DoH URL: %w", err)
	}
	if u.Scheme != "https" || u.Hostname() == "" {
		return fmt.Errorf("DoH URL must be https with a host, got %q", rawURL)
	}

	client, tr := p.newPinnedClient(u)

	laddr, err := net.ResolveUDPAddr("udp", p.listenAddr)
	if err != nil {
		return fmt.Errorf("resolve listen address %s: %w", p.listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		tr.CloseIdleConnections()
		return fmt.Errorf("bind %s: %w", p.listenAddr, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.upstream = rawURL
	p.conn = conn
	p.client = client
	p.tr = tr
	p.cancel = cancel
	p.sem = make(chan struct{}, maxInflightForwards)

	p.wg.Add(1)
	go p.receiveLoop(ctx, conn, client, u.String())

	log.Infof("DoH proxy forwarding %s to %s", p.listenAddr, rawURL)
	return nil
}

// Stop tears the proxy down and releases the loopback binding and any
// upstream connections. It is idempotent.
func (p *Proxy) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}
	p.stopLocked()
}

func (p *Proxy) stopLocked() {
	p.cancel()
	p.conn.Close()
	p.wg.Wait()
	p.tr.CloseIdleConnections()

	p.running = false
	p.upstream = ""
	p.conn = nil
	p.client = nil
	p.tr = nil
	p.cancel = nil

	log.Infof("DoH proxy stopped")
}

// newPinnedClient builds an HTTPS client for the upstream. If the URL host
// is a name, it is resolved once with the system's current (pre-override)
// resolver and the transport dials that IP directly, so the proxy never
// resolves through itself once the OS points at loopback. If bootstrap
// resolution fails the client falls back to dialing by hostname: degraded
// but non-fatal, forwarding recovers once resolution does.
func (p *Proxy) newPinnedClient(u *url.URL) (*http.Client, *http.Transport) {
	host := u.Hostname()
	port := u.Port()
	if port == "" {
		port = "443"
	}

	dialHost := host
	if net.ParseIP(host) == nil {
		ctx, cancel := context.WithTimeout(context.Background(), bootstrapTimeout)
		defer cancel()
		addrs, err := net.DefaultResolver.LookupIP(ctx, "ip", host)
		if err != nil || len(addrs) == 0 {
			log.Warnf("bootstrap resolution of %s failed (%v); dialing by hostname", host, err)
		} else {
			dialHost = addrs[0].String()
			log.Debugf("pinned DoH upstream %s to %s", host, dialHost)
		}
	}

	tr := &http.Transport{
		DialContext: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := &net.Dialer{Timeout: 3 * time.Second}
			return d.DialContext(ctx, network, net.JoinHostPort(dialHost, port))
		},
		TLSClientConfig: &tls.Config{
			ServerName: host,
			RootCAs:    p.rootCAs,
		},
		Proxy:               nil,
		ForceAttemptHTTP2:   true,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	// Many public DoH resolvers require HTTP/2 per RFC 8484 §5.2.
	if _, err := http2.ConfigureTransports(tr); err != nil {
		log.Warnf("configure HTTP/2 transport: %v", err)
	}

	return &http.Client{Timeout: forwardTimeout, Transport: tr}, tr
}

// receiveLoop reads datagrams until the listener closes, handling each one
// in its own goroutine.
func (p *Proxy) receiveLoop(ctx context.Context, conn *net.UDPConn, client *http.Client, upstream string) {
	defer p.wg.Done()

	buf := make([]byte, maxDatagramSize)
	for {
		n, raddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			// Closed by Stop, or the socket died under us.
			return
		}

		query := make([]byte, n)
		copy(query, buf[:n])

		select {
		case p.sem <- struct{}{}:
		default:
			log.Debugf("forward capacity reached, dropping query from %s", raddr)
			continue
		}

		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer func() { <-p.sem }()
			p.forward(ctx, conn, client, upstream, query, raddr)
		}()
	}
}

// forward runs one query's HTTPS round trip and relays the answer. Every
// failure drops the datagram silently; the asking application's own
// resolver timeout and retry are the recovery mechanism.
func (p *Proxy) forward(ctx context.Context, conn *net.UDPConn, client *http.Client, upstream string, query []byte, raddr *net.UDPAddr) {
	if log.GetLevel() <= log.DebugLevel {
		msg := new(dns.Msg)
		if err := msg.Unpack(query); err == nil && len(msg.Question) > 0 {
			q := msg.Question[0]
			log.Debugf("forwarding %s %s for %s", q.Name, dns.TypeToString[q.Qtype], raddr)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, forwardTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, upstream, bytes.NewReader(query))
	if err != nil {
		log.Debugf("build DoH request: %v", err)
		return
	}
	req.Header.Set("Content-Type", "application/dns-message")
	req.Header.Set("Accept", "application/dns-message")

	resp, err := client.Do(req)
	if err != nil {
		log.Debugf("DoH round trip: %v", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Consume the body so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		log.Debugf("DoH upstream returned %s", resp.Status)
		return
	}

	answer, err := io.ReadAll(io.LimitReader(resp.Body, maxDatagramSize+1))
	if err != nil {
		log.Debugf("read DoH response: %v", err)
		return
	}
	if len(answer) == 0 || len(answer) > maxDatagramSize {
		log.Debugf("DoH response size %d out of range", len(answer))
		return
	}

	if _, err := conn.WriteToUDP(answer, raddr); err != nil {
		log.Debugf("relay answer to %s: %v", raddr, err)
	}
}
