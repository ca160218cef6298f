// Package channel implements the local command channel between the
// unprivileged dnsward client and the privileged dnswardd agent: a named,
// access-controlled duplex endpoint (unix socket or Windows named pipe)
// carrying one framed request and one framed response per connection.
package channel

import (
	"context"
	"errors"
	"io"
	"net"
	"time"

	"github.com/charmbracelet/log"

	"github.com/dnsward/dnsward/internal/proto"
)

const (
	// maxConcurrentConns bounds the number of connections handled at once.
	maxConcurrentConns = 16

	// DefaultRequestTimeout covers reading the request, running the
	// command, and writing the response on one accepted connection.
	DefaultRequestTimeout = 30 * time.Second

	// drainTimeout is how long the server spends consuming trailing bytes
	// before closing the transport.
	drainTimeout = 100 * time.Millisecond
)

// Handler processes one decoded request and produces the single response.
type Handler func(ctx context.Context, req proto.Request) proto.Response

// Server owns the named endpoint. It is acquired once with Listen and
// released by Close; only one agent may hold the endpoint at a time.
type Server struct {
	endpoint string
	listener net.Listener
	handler  Handler
	timeout  time.Duration
	sem      chan struct{}
}

// Listen binds the named endpoint and returns a server ready to Serve. A
// timeout of zero means DefaultRequestTimeout.
func Listen(endpoint string, timeout time.Duration, handler Handler) (*Server, error) {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	ln, err := listenEndpoint(endpoint)
	if err != nil {
		return nil, err
	}
	return &Server{
		endpoint: endpoint,
		listener: ln,
		handler:  handler,
		timeout:  timeout,
		sem:      make(chan struct{}, maxConcurrentConns),
	}, nil
}

// Endpoint returns the bound endpoint name.
func (s *Server) Endpoint() string { return s.endpoint }

// Serve accepts connections until ctx is cancelled or the listener is
// closed. Each accepted connection is handled in its own goroutine so a
// blocking platform call never stalls the accept loop.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		s.listener.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.Errorf("command channel accept: %v", err)
			continue
		}

		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			conn.Close()
			return nil
		}

		go func(conn net.Conn) {
			defer func() { <-s.sem }()
			s.handleConn(ctx, conn)
		}(conn)
	}
}

// Close releases the endpoint. On unix the socket file is removed so a
// later agent start can rebind it.
func (s *Server) Close() error {
	err := s.listener.Close()
	cleanupEndpoint(s.endpoint)
	return err
}

// handleConn reads one request, dispatches it, writes one response, drains
// the transport, and disconnects. Every failure here is a ChannelError from
// the caller's point of view: the connection dies, the agent does not.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(s.timeout))

	payload, err := proto.ReadFrame(conn)
	if err != nil {
		if err == io.EOF {
			// Client connected and went away without sending anything.
			return
		}
		log.Debugf("command channel read: %v", err)
		return
	}

	req, err := proto.DecodeRequest(payload)
	var resp proto.Response
	if err != nil {
		resp = proto.Failure("malformed request: %v", err)
	} else {
		resp = s.dispatch(ctx, req)
	}

	out, err := proto.EncodeResponse(resp)
	if err != nil {
		log.Errorf("command channel encode response: %v", err)
		return
	}
	if err := proto.WriteFrame(conn, out); err != nil {
		log.Debugf("command channel write: %v", err)
		return
	}

	drain(conn)
}

// dispatch runs the handler, converting a panic into a failed response so a
// single bad request can never take the agent down.
func (s *Server) dispatch(ctx context.Context, req proto.Request) (resp proto.Response) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("command %s panicked: %v", req.Command, rec)
			resp = proto.Failure("internal error handling %s", req.Command)
		}
	}()
	log.Debugf("dispatching command %s (adapter %q)", req.Command, req.AdapterName)
	return s.handler(ctx, req)
}

// drain consumes any trailing bytes so the peer sees its write complete
// before the transport is torn down.
func drain(conn net.Conn) {
	conn.SetReadDeadline(time.Now().Add(drainTimeout))
	io.Copy(io.Discard, conn)
}
