package proto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestRoundTrip(t *testing.T) {
	req := Request{
		Command:     CommandApplyDNS,
		AdapterName: "Wi-Fi",
		Configuration: &Configuration{
			PrimaryDNS:   "9.9.9.9",
			SecondaryDNS: "149.112.112.112",
		},
	}

	data, err := EncodeRequest(req)
	require.NoError(t, err)

	got, err := DecodeRequest(data)
	require.NoError(t, err)
	require.Equal(t, req, got)
}

func TestRequestWireFieldNames(t *testing.T) {
	data, err := EncodeRequest(Request{
		Command:     CommandApplyDNS,
		AdapterName: "eth0",
		Configuration: &Configuration{
			PrimaryDNS: "1.1.1.1",
			DoHURL:     "https://cloudflare-dns.com/dns-query",
		},
	})
	require.NoError(t, err)

	wire := string(data)
	require.Contains(t, wire, `"command":"ApplyDns"`)
	require.Contains(t, wire, `"adapterName":"eth0"`)
	require.Contains(t, wire, `"primaryDns":"1.1.1.1"`)
	require.Contains(t, wire, `"isDhcp":false`)
	require.Contains(t, wire, `"dohUrl":"https://cloudflare-dns.com/dns-query"`)
}

func TestDecodeRequestToleratesUnknownFields(t *testing.T) {
	req, err := DecodeRequest([]byte(`{"command":"FlushDns","futureField":42}`))
	require.NoError(t, err)
	require.Equal(t, CommandFlushDNS, req.Command)
}

func TestDecodeRequestMissingFieldsAreZero(t *testing.T) {
	req, err := DecodeRequest([]byte(`{}`))
	require.NoError(t, err)
	require.Empty(t, req.Command)
	require.Empty(t, req.AdapterName)
	require.Nil(t, req.Configuration)
}

func TestDecodeRequestMalformed(t *testing.T) {
	_, err := DecodeRequest([]byte(`{"command":`))
	require.Error(t, err)
}

func TestResponseRoundTrip(t *testing.T) {
	resp := Response{
		Success:              true,
		Message:              "ok",
		Adapters:             []string{"eth0", "wlan0"},
		PreferredAdapterName: "eth0",
	}

	data, err := EncodeResponse(resp)
	require.NoError(t, err)

	got, err := DecodeResponse(data)
	require.NoError(t, err)
	require.Equal(t, resp, got)
}

func TestFailureResponse(t *testing.T) {
	resp := Failure("adapter %q not found", "eth9")
	require.False(t, resp.Success)
	require.Equal(t, `adapter "eth9" not found`, resp.Message)
}

func TestCommandKnown(t *testing.T) {
	for _, c := range []Command{
		CommandApplyDNS, CommandResetDHCP, CommandGetConfiguration,
		CommandGetAdapters, CommandGetPreferredAdapter, CommandFlushDNS,
	} {
		require.True(t, c.Known(), "command %s", c)
	}
	require.False(t, Command("").Known())
	require.False(t, Command("Reboot").Known())
}
