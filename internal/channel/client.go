package channel

import (
	"fmt"
	"time"

	"github.com/dnsward/dnsward/internal/proto"
)

// DefaultTimeout bounds the whole client exchange: connect, write the
// request, read the response. Exceeding it fails fast instead of hanging
// the caller.
const DefaultTimeout = 5 * time.Second

// Client sends one request per connection to the agent's endpoint.
type Client struct {
	endpoint string
	timeout  time.Duration
}

// NewClient returns a client for the given endpoint. A zero timeout means
// DefaultTimeout.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if endpoint == "" {
		endpoint = DefaultEndpoint
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{endpoint: endpoint, timeout: timeout}
}

// Call connects, writes one framed request, reads one framed response, and
// closes the connection. There is no multiplexing and no keep-alive.
func (c *Client) Call(req proto.Request) (proto.Response, error) {
	conn, err := dialEndpoint(c.endpoint, c.timeout)
	if err != nil {
		return proto.Response{}, fmt.Errorf("connect to agent at %s: %w", c.endpoint, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(c.timeout))

	payload, err := proto.EncodeRequest(req)
	if err != nil {
		return proto.Response{}, err
	}
	if err := proto.WriteFrame(conn, payload); err != nil {
		return proto.Response{}, fmt.Errorf("send request: %w", err)
	}

	data, err := proto.ReadFrame(conn)
	if err != nil {
		return proto.Response{}, fmt.Errorf("read response: %w", err)
	}
	return proto.DecodeResponse(data)
}
