//go:build !windows

package channel

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsward/dnsward/internal/proto"
)

// startServer runs a server on a throwaway socket and tears it down with
// the test.
func startServer(t *testing.T, handler Handler) string {
	t.Helper()

	// Unix socket paths are length-limited, so avoid t.TempDir.
	dir, err := os.MkdirTemp("", "dnsward")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	endpoint := filepath.Join(dir, "agent.sock")

	srv, err := Listen(endpoint, 2*time.Second, handler)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		srv.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		srv.Close()
		wg.Wait()
	})

	return endpoint
}

func TestClientServerExchange(t *testing.T) {
	endpoint := startServer(t, func(_ context.Context, req proto.Request) proto.Response {
		require.Equal(t, proto.CommandGetAdapters, req.Command)
		return proto.Response{Success: true, Adapters: []string{"eth0", "wlan0"}}
	})

	client := NewClient(endpoint, time.Second)
	resp, err := client.Call(proto.Request{Command: proto.CommandGetAdapters})
	require.NoError(t, err)
	require.True(t, resp.Success)
	require.Equal(t, []string{"eth0", "wlan0"}, resp.Adapters)
}

func TestOneRequestPerConnection(t *testing.T) {
	endpoint := startServer(t, func(_ context.Context, _ proto.Request) proto.Response {
		return proto.Response{Success: true}
	})

	client := NewClient(endpoint, time.Second)
	for i := 0; i < 5; i++ {
		resp, err := client.Call(proto.Request{Command: proto.CommandFlushDNS})
		require.NoError(t, err)
		require.True(t, resp.Success)
	}
}

func TestMalformedRequestGetsFailureResponse(t *testing.T) {
	var handlerRan atomic.Bool
	endpoint := startServer(t, func(_ context.Context, _ proto.Request) proto.Response {
		handlerRan.Store(true)
		return proto.Response{Success: true}
	})

	conn, err := net.Dial("unix", endpoint)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, proto.WriteFrame(conn, []byte(`{"command":`)))

	payload, err := proto.ReadFrame(conn)
	require.NoError(t, err)
	resp, err := proto.DecodeResponse(payload)
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "malformed request")
	require.False(t, handlerRan.Load())
}

func TestUnknownCommandFrameStillAnswered(t *testing.T) {
	endpoint := startServer(t, func(_ context.Context, req proto.Request) proto.Response {
		if !req.Command.Known() {
			return proto.Failure("unknown command %q", req.Command)
		}
		return proto.Response{Success: true}
	})

	client := NewClient(endpoint, time.Second)
	resp, err := client.Call(proto.Request{Command: proto.Command("Reboot")})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "unknown command")
}

func TestSilentClientDoesNotBreakServer(t *testing.T) {
	endpoint := startServer(t, func(_ context.Context, _ proto.Request) proto.Response {
		return proto.Response{Success: true}
	})

	// Connect and disconnect without sending a byte.
	conn, err := net.Dial("unix", endpoint)
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	// The server keeps answering afterwards.
	client := NewClient(endpoint, time.Second)
	resp, err := client.Call(proto.Request{Command: proto.CommandFlushDNS})
	require.NoError(t, err)
	require.True(t, resp.Success)
}

func TestHandlerPanicBecomesFailureResponse(t *testing.T) {
	endpoint := startServer(t, func(_ context.Context, _ proto.Request) proto.Response {
		panic("boom")
	})

	client := NewClient(endpoint, time.Second)
	resp, err := client.Call(proto.Request{Command: proto.CommandFlushDNS})
	require.NoError(t, err)
	require.False(t, resp.Success)
	require.Contains(t, resp.Message, "internal error")
}

func TestStaleSocketIsReplaced(t *testing.T) {
	dir, err := os.MkdirTemp("", "dnsward")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	endpoint := filepath.Join(dir, "agent.sock")

	// A dead agent's socket file left behind.
	ln, err := net.Listen("unix", endpoint)
	require.NoError(t, err)
	// Close without unlinking.
	rawConnClose(t, ln)

	srv, err := Listen(endpoint, time.Second, func(_ context.Context, _ proto.Request) proto.Response {
		return proto.Response{Success: true}
	})
	require.NoError(t, err)
	defer srv.Close()
}

// rawConnClose closes a unix listener while keeping its socket file on
// disk, mimicking an agent killed before cleanup.
func rawConnClose(t *testing.T, ln net.Listener) {
	t.Helper()
	ul, ok := ln.(*net.UnixListener)
	require.True(t, ok)
	ul.SetUnlinkOnClose(false)
	require.NoError(t, ul.Close())
}

func TestClientTimesOutAgainstUnresponsiveEndpoint(t *testing.T) {
	dir, err := os.MkdirTemp("", "dnsward")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	endpoint := filepath.Join(dir, "agent.sock")

	// A listener that accepts but never answers.
	ln, err := net.Listen("unix", endpoint)
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			defer conn.Close()
		}
	}()

	client := NewClient(endpoint, 200*time.Millisecond)
	start := time.Now()
	_, err = client.Call(proto.Request{Command: proto.CommandFlushDNS})
	require.Error(t, err)
	require.Less(t, time.Since(start), 2*time.Second)
}

func TestClientConnectFailure(t *testing.T) {
	client := NewClient("/nonexistent/agent.sock", 200*time.Millisecond)
	_, err := client.Call(proto.Request{Command: proto.CommandFlushDNS})
	require.Error(t, err)
}
