// Package forward implements the port forwarding engine: a TCP forwarder
// that relays accepted connections to a fixed target, and a UDP forwarder
// that maps client addresses onto per-client sessions toward the same
// target.
package forward

import (
	"context"
	"time"
)

const (
	// DefaultUDPIdleTimeout is how long a UDP session may sit without
	// traffic in either direction before it is swept. Nothing upstream
	// mandates a value; 90s comfortably outlives DNS-style exchanges
	// while keeping abandoned sockets short-lived.
	DefaultUDPIdleTimeout = 90 * time.Second

	// Dial timeout toward the target for TCP flows.
	dialTimeout = 10 * time.Second

	// Largest possible UDP payload (65535 - 8 byte header - 20 byte IP
	// header is the real ceiling; 64 KiB keeps the arithmetic simple).
	maxDatagramSize = 64 * 1024
)

// Target describes one forwarding rule: traffic arriving on ListenAddr is
// relayed to RemoteAddr. Immutable after the engine starts.
type Target struct {
	ListenAddr string
	RemoteAddr string
}

// Forwarder is the lifecycle contract shared by the TCP and UDP
// implementations. Serve blocks until a fatal listener error or until
// Close is called; Close is idempotent and unblocks Serve.
type Forwarder interface {
	Serve(ctx context.Context) error
	Close() error
}
