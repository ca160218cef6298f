// Package proto defines the command vocabulary spoken between the dnsward
// client and the dnswardd agent, and the framing used to carry it over the
// local channel. Messages are JSON objects; decoding tolerates unknown and
// missing fields so client and agent can be updated independently.
package proto

import (
	"encoding/json"
	"fmt"
)

// Command identifies the operation a request asks the agent to perform.
type Command string

const (
	CommandApplyDNS            Command = "ApplyDns"
	CommandResetDHCP           Command = "ResetDhcp"
	CommandGetConfiguration    Command = "GetConfiguration"
	CommandGetAdapters         Command = "GetAdapters"
	CommandGetPreferredAdapter Command = "GetPreferredAdapter"
	CommandFlushDNS            Command = "FlushDns"
)

// Known reports whether c is part of the fixed command set.
func (c Command) Known() bool {
	switch c {
	case CommandApplyDNS, CommandResetDHCP, CommandGetConfiguration,
		CommandGetAdapters, CommandGetPreferredAdapter, CommandFlushDNS:
		return true
	}
	return false
}

// Configuration is a DNS intent for one adapter. When DoHURL is set the
// configuration is in DoH forwarding mode and the resolver fields describe
// the synthetic loopback override, never two upstream addresses.
type Configuration struct {
	PrimaryDNS   string `json:"primaryDns,omitempty"`
	SecondaryDNS string `json:"secondaryDns,omitempty"`
	IsDHCP       bool   `json:"isDhcp"`
	DoHURL       string `json:"dohUrl,omitempty"`
}

// Request is one framed command sent by the client. AdapterName is empty for
// commands that do not target an adapter; Configuration is present only for
// ApplyDns.
type Request struct {
	Command       Command        `json:"command"`
	AdapterName   string         `json:"adapterName,omitempty"`
	Configuration *Configuration `json:"configuration,omitempty"`
}

// Response is the single reply produced for a request. Only the payload
// fields matching the request's command are populated.
type Response struct {
	Success              bool           `json:"success"`
	Message              string         `json:"message,omitempty"`
	Configuration        *Configuration `json:"configuration,omitempty"`
	Adapters             []string       `json:"adapters,omitempty"`
	PreferredAdapterName string         `json:"preferredAdapterName,omitempty"`
}

// Failure builds a failed response with a formatted message.
func Failure(format string, args ...any) Response {
	return Response{Success: false, Message: fmt.Sprintf(format, args...)}
}

// EncodeRequest serializes a request to its wire payload.
func EncodeRequest(req Request) ([]byte, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}
	return data, nil
}

// DecodeRequest parses a wire payload into a request. Unknown fields are
// ignored and missing fields keep their zero values.
func DecodeRequest(data []byte) (Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return Request{}, fmt.Errorf("decode request: %w", err)
	}
	return req, nil
}

// EncodeResponse serializes a response to its wire payload.
func EncodeResponse(resp Response) ([]byte, error) {
	data, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode response: %w", err)
	}
	return data, nil
}

// DecodeResponse parses a wire payload into a response.
func DecodeResponse(data []byte) (Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return Response{}, fmt.Errorf("decode response: %w", err)
	}
	return resp, nil
}
