// Package dnscfg turns abstract DNS configuration intents into the correct
// native action for the running platform, and orchestrates the DoH proxy's
// lifecycle around them.
package dnscfg

import (
	"context"

	"github.com/dnsward/dnsward/internal/proto"
)

// Backend is the platform-specific configuration surface. One
// implementation exists per OS family and is selected once at process
// start; there is no fallback between backends.
//
// Adapter identifiers are platform-native opaque strings: whatever
// ListAdapters returns must be usable verbatim by the other operations on
// the same platform.
type Backend interface {
	// Name identifies the backend in logs and messages.
	Name() string

	// ListAdapters returns every IP-capable, up, non-loopback/tunnel/PPP
	// adapter as a display string.
	ListAdapters(ctx context.Context) ([]string, error)

	// PreferredAdapter returns the best-guess default adapter: a wired
	// connection holding the default route, else a wireless one, else any
	// connected adapter. An empty string with a nil error means no
	// candidate exists.
	PreferredAdapter(ctx context.Context) (string, error)

	// CurrentConfiguration reconstructs whether the adapter is on DHCP or
	// static resolvers from platform state. DoH mode is never
	// reconstructed here; only the agent's own run state knows it.
	CurrentConfiguration(ctx context.Context, adapter string) (proto.Configuration, error)

	// Apply sets static resolvers on the adapter. secondary may be empty.
	Apply(ctx context.Context, adapter, primary, secondary string) error

	// Reset clears any static resolver assignment, returning the adapter
	// to DHCP/automatic.
	Reset(ctx context.Context, adapter string) error

	// FlushCache flushes the platform resolver cache, trying a primary
	// mechanism and falling back to a secondary one before failing.
	FlushCache(ctx context.Context) error
}
