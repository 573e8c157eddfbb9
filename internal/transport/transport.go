// Package transport abstracts the proximity radio link the mesh rides on.
// The node only sees peer descriptors and bounded read/write sessions, so a
// Bluetooth-class transport can replace the TCP/UDP one without touching the
// routing layer.
package transport

import (
	"context"
	"time"
)

// PeerDescriptor identifies a reachable peer discovered on the local link.
type PeerDescriptor struct {
	ID             string
	Nick           string
	Addr           string
	SignalStrength *int
}

// Session is a scoped point-to-point exchange with one peer. Read returns
// (nil, nil) once the peer has nothing queued; callers must Close on every
// exit path.
type Session interface {
	Read() ([]byte, error)
	Write(data []byte) error
	Close() error
}

// Transport is the peer-link capability consumed by the mesh node.
type Transport interface {
	// Start begins accepting inbound sessions, invoking the handler for
	// each. It returns once the listener is up; a failure here is fatal.
	Start(ctx context.Context, inbound func(Session)) error

	// Discover scans for reachable peers for at most the given timeout.
	Discover(ctx context.Context, timeout time.Duration) ([]PeerDescriptor, error)

	// OpenSession connects to a discovered peer.
	OpenSession(ctx context.Context, peer PeerDescriptor) (Session, error)

	// Advertise announces this node's presence until the context ends.
	Advertise(ctx context.Context)

	// Close tears down the listener and all open sessions.
	Close() error
}
