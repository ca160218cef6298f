package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dnsward/dnsward/internal/channel"
	"github.com/dnsward/dnsward/internal/doh"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "dnswardd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadNoPathYieldsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadMissingFileYieldsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
endpoint = "/run/custom.sock"
proxy_listen = "127.0.0.1:5353"
log_level = "debug"
request_timeout = "45s"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/run/custom.sock", cfg.Endpoint)
	require.Equal(t, "127.0.0.1:5353", cfg.ProxyListen)
	require.Equal(t, "debug", cfg.LogLevel)

	d, err := cfg.Timeout()
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, d)
}

func TestLoadPartialFileFillsDefaults(t *testing.T) {
	path := writeConfig(t, `log_level = "warn"`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.LogLevel)
	require.Equal(t, channel.DefaultEndpoint, cfg.Endpoint)
	require.Equal(t, doh.DefaultListenAddr, cfg.ProxyListen)
	require.Equal(t, channel.DefaultRequestTimeout.String(), cfg.RequestTimeout)
}

func TestLoadRejectsInvalidTOML(t *testing.T) {
	path := writeConfig(t, `endpoint = `)
	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadRejectsBadTimeout(t *testing.T) {
	_, err := Load(writeConfig(t, `request_timeout = "soon"`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, `request_timeout = "-5s"`))
	require.Error(t, err)
}

func TestDefaultTimeoutParses(t *testing.T) {
	d, err := Default().Timeout()
	require.NoError(t, err)
	require.Equal(t, channel.DefaultRequestTimeout, d)
}
