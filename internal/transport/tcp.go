package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

const (
	dialTimeout = 5 * time.Second
	// readPoll bounds a single Session.Read; hitting it means the peer has
	// nothing queued right now.
	readPoll = 300 * time.Millisecond
)

// TCP implements the peer link over framed TCP sessions with UDP presence
// beacons for discovery.
type TCP struct {
	nodeID string
	nick   string
	port   int
	seeds  []string

	ln     net.Listener
	conns  sync.Map // remoteAddr -> net.Conn
	peerCh chan PeerDescriptor
}

func NewTCP(nodeID, nick string, port int, seeds []string) *TCP {
	return &TCP{
		nodeID: nodeID,
		nick:   nick,
		port:   port,
		seeds:  seeds,
		peerCh: make(chan PeerDescriptor, 64),
	}
}

// Start brings up the TCP listener and the UDP beacon listener. Each accepted
// connection becomes a session handed to the inbound handler.
func (t *TCP) Start(ctx context.Context, inbound func(Session)) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", t.port, err)
	}
	t.ln = ln

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				select {
				case <-ctx.Done():
				default:
					slog.Error("Accept error", "error", err)
				}
				return
			}
			t.conns.Store(conn.RemoteAddr().String(), conn)
			go func(c net.Conn) {
				defer t.conns.Delete(c.RemoteAddr().String())
				inbound(&tcpSession{conn: c, tr: t})
			}(conn)
		}
	}()

	go func() {
		if err := runListener(ctx, t.port, t.nodeID, t.peerCh); err != nil {
			slog.Error("Beacon listener failed", "error", err)
		}
	}()

	return nil
}

// Discover collects presence beacons for up to the scan timeout and returns
// the distinct peers heard.
func (t *TCP) Discover(ctx context.Context, timeout time.Duration) ([]PeerDescriptor, error) {
	seen := make(map[string]PeerDescriptor)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return descriptors(seen), ctx.Err()
		case <-deadline.C:
			return descriptors(seen), nil
		case desc := <-t.peerCh:
			seen[desc.ID] = desc
		}
	}
}

func descriptors(seen map[string]PeerDescriptor) []PeerDescriptor {
	out := make([]PeerDescriptor, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

// OpenSession dials a framed TCP session to the peer.
func (t *TCP) OpenSession(ctx context.Context, peer PeerDescriptor) (Session, error) {
	d := net.Dialer{Timeout: dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", peer.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", peer.Addr, err)
	}
	t.conns.Store(conn.RemoteAddr().String(), conn)
	return &tcpSession{conn: conn, tr: t}, nil
}

// Advertise runs the presence beacon until the context ends.
func (t *TCP) Advertise(ctx context.Context) {
	if err := runBeacon(ctx, t.port, t.nodeID, t.nick, t.seeds); err != nil {
		slog.Error("Beacon failed", "error", err)
	}
}

// Close shuts the listener and every open session.
func (t *TCP) Close() error {
	if t.ln != nil {
		t.ln.Close()
	}
	t.conns.Range(func(_, value any) bool {
		if conn, ok := value.(net.Conn); ok {
			conn.Close()
		}
		return true
	})
	return nil
}

type tcpSession struct {
	conn net.Conn
	tr   *TCP
}

// Read polls for one frame. A poll timeout means the peer has nothing queued
// and is reported as (nil, nil).
func (s *tcpSession) Read() ([]byte, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
		return nil, err
	}
	data, err := ReadFrame(s.conn)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return nil, nil
		}
		return nil, err
	}
	return data, nil
}

func (s *tcpSession) Write(data []byte) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(dialTimeout)); err != nil {
		return err
	}
	return WriteFrame(s.conn, data)
}

func (s *tcpSession) Close() error {
	s.tr.conns.Delete(s.conn.RemoteAddr().String())
	return s.conn.Close()
}
