package mesh

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Kunalchandra007/Pravha/internal/transport"
)

// fakeTransport satisfies the peer-link contract without any I/O.
type fakeTransport struct {
	peers   []transport.PeerDescriptor
	started atomic.Bool
	closed  atomic.Bool
}

func (f *fakeTransport) Start(ctx context.Context, inbound func(transport.Session)) error {
	f.started.Store(true)
	return nil
}

func (f *fakeTransport) Discover(ctx context.Context, timeout time.Duration) ([]transport.PeerDescriptor, error) {
	return f.peers, nil
}

func (f *fakeTransport) OpenSession(ctx context.Context, peer transport.PeerDescriptor) (transport.Session, error) {
	return nil, fmt.Errorf("peer %s unreachable", peer.ID)
}

func (f *fakeTransport) Advertise(ctx context.Context) { <-ctx.Done() }

func (f *fakeTransport) Close() error {
	f.closed.Store(true)
	return nil
}

func TestIdempotentDelivery(t *testing.T) {
	n := NewNode("node-B", nil)

	var handled int32
	n.RegisterEmergencyHandler(func(*Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	casualties := 2
	sos := NewSOS("node-A", "FLOOD", &casualties, nil)
	data, err := sos.Encode()
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}

	n.ingest(data)
	n.ingest(data) // same bytes arriving via a second path

	if got := atomic.LoadInt32(&handled); got != 1 {
		t.Errorf("Expected handler to fire exactly once, got %d", got)
	}
	status := n.Status()
	if status.MessagesReceived != 1 {
		t.Errorf("Expected received counter 1, got %d", status.MessagesReceived)
	}
	if status.PendingMessages != 1 {
		t.Errorf("Expected 1 pending relay, got %d", status.PendingMessages)
	}
}

func TestExpiredInboundDiscarded(t *testing.T) {
	n := NewNode("node-B", nil)

	var handled int32
	n.RegisterMessageHandler(TypeStatusUpdate, func(*Message) error {
		atomic.AddInt32(&handled, 1)
		return nil
	})

	msg := NewStatusUpdate("node-A", "too late")
	msg.Timestamp = time.Now().Add(-10 * time.Second)
	msg.TTL = 5
	data, _ := msg.Encode()

	n.ingest(data)

	if atomic.LoadInt32(&handled) != 0 {
		t.Error("Expired message must not reach handlers")
	}
	status := n.Status()
	if status.MessagesReceived != 0 || status.PendingMessages != 0 || status.CachedMessages != 0 {
		t.Errorf("Expired message leaked into node state: %+v", status)
	}
}

func TestHopCeilingBoundsRelayNotConsumption(t *testing.T) {
	n := NewNode("node-B", nil)

	var sawHops int32 = -1
	n.RegisterMessageHandler(TypeWarning, func(m *Message) error {
		atomic.StoreInt32(&sawHops, int32(m.HopCount))
		return nil
	})

	msg := NewWarning("node-A", "bridge out", "INFRA", "HIGH")
	msg.HopCount = msg.MaxHops
	data, _ := msg.Encode()

	n.ingest(data)

	if got := atomic.LoadInt32(&sawHops); got != int32(msg.MaxHops) {
		t.Errorf("Expected local consumption at the ceiling with hop count unchanged, saw %d", got)
	}
	if n.Status().PendingMessages != 0 {
		t.Error("Message at the hop ceiling must not be queued for relay")
	}
}

func TestMalformedInboundContained(t *testing.T) {
	n := NewNode("node-B", nil)
	n.ingest([]byte("{garbage"))

	status := n.Status()
	if status.MessagesReceived != 0 || status.CachedMessages != 0 {
		t.Errorf("Malformed frame leaked into node state: %+v", status)
	}
}

func TestSendStampsAndQueuesWithoutPeers(t *testing.T) {
	n := NewNode("node-A", nil,
		WithLocationProvider(func(context.Context) (*Coordinates, error) {
			return &Coordinates{Lat: 26.2, Lon: 92.9}, nil
		}),
		WithSigner(func(m *Message) { m.Signature = "sig" }),
	)

	msg := NewStatusUpdate("someone-else", "checking in")
	before := time.Now()
	if err := n.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if msg.SourceDeviceID != "node-A" {
		t.Errorf("Expected source stamped to node-A, got %q", msg.SourceDeviceID)
	}
	if msg.Timestamp.Before(before) {
		t.Error("Expected timestamp stamped at send time")
	}
	if msg.Coordinates == nil || msg.Coordinates.Lat != 26.2 {
		t.Error("Expected location attached from the provider")
	}
	if msg.Signature != "sig" {
		t.Error("Expected signature attached by the signer")
	}

	status := n.Status()
	if status.MessagesSent != 1 || status.PendingMessages != 1 {
		t.Errorf("Expected sent=1 pending=1 with zero peers, got %+v", status)
	}
	if !n.cache.Contains(msg.ID) {
		t.Error("Sent message must be registered against loops")
	}
}

func TestSendDispatchesToOwnHandlers(t *testing.T) {
	n := NewNode("node-A", nil)

	var typed, emergency int32
	n.RegisterMessageHandler(TypeFloodAlert, func(*Message) error {
		atomic.AddInt32(&typed, 1)
		return nil
	})
	n.RegisterEmergencyHandler(func(*Message) error {
		atomic.AddInt32(&emergency, 1)
		return nil
	})

	var seen []*Message
	n.msgCallback = func(m *Message) { seen = append(seen, m) }

	alert := NewFloodAlert("node-A", "river at danger mark", 8.1, nil, nil, nil)
	if err := n.Send(alert); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if atomic.LoadInt32(&typed) != 1 {
		t.Error("Expected the type handler to fire for the node's own message")
	}
	if atomic.LoadInt32(&emergency) != 1 {
		t.Error("Expected the emergency fan-out to fire for the node's own message")
	}
	if !n.Router().FloodMode() {
		t.Error("Expected the originating node to enter flood mode from its own alert")
	}
	if len(seen) != 1 || seen[0].ID != alert.ID {
		t.Error("Expected the message callback to observe the node's own message")
	}
}

func TestDispatchPruneDropsExpiredPending(t *testing.T) {
	n := NewNode("node-A", nil)

	msg := NewStatusUpdate("node-A", "short lived")
	if err := n.Send(msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	msg.Timestamp = time.Now().Add(-10 * time.Second)
	msg.TTL = 5

	n.mu.Lock()
	n.prunePendingLocked()
	n.mu.Unlock()

	if n.Status().PendingMessages != 0 {
		t.Error("Expired message must be pruned from the pending queue")
	}
}

func TestBatchBoundedAndRotated(t *testing.T) {
	n := NewNode("node-A", nil)
	for i := 0; i < 5; i++ {
		n.Send(NewStatusUpdate("node-A", fmt.Sprintf("msg %d", i)))
	}

	first := n.takeBatch()
	if len(first) != 3 {
		t.Fatalf("Expected batch bounded at 3, got %d", len(first))
	}
	second := n.takeBatch()
	if len(second) != 3 {
		t.Fatalf("Expected batch bounded at 3, got %d", len(second))
	}
	if second[0].ID == first[0].ID {
		t.Error("Expected rotation to give later messages link time")
	}
	if n.Status().PendingMessages != 5 {
		t.Error("Batching must not drop pending messages")
	}
}

func TestPeerStaleness(t *testing.T) {
	n := NewNode("node-A", nil)
	n.recordPeer(transport.PeerDescriptor{ID: "node-B", Addr: "127.0.0.1:9001"})

	if got := n.Status().ConnectedNodes; got != 1 {
		t.Fatalf("Expected 1 peer, got %d", got)
	}

	n.mu.Lock()
	n.peers["node-B"].LastSeen = time.Now().Add(-400 * time.Second)
	n.mu.Unlock()

	n.cleanup()

	status := n.Status()
	if status.ConnectedNodes != 0 || len(status.ConnectedNodeList) != 0 {
		t.Errorf("Stale peer survived cleanup: %+v", status)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	tr := &fakeTransport{}
	n := NewNode("node-A", tr)
	n.discoverEvery = 20 * time.Millisecond
	n.discoverTimeout = 5 * time.Millisecond
	n.dispatchEvery = 20 * time.Millisecond
	n.cleanupEvery = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := n.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := n.Start(ctx); err != ErrAlreadyStarted {
		t.Errorf("Expected ErrAlreadyStarted on double start, got %v", err)
	}
	if !n.Status().IsActive {
		t.Error("Node should report active after start")
	}

	time.Sleep(60 * time.Millisecond) // let the loops tick

	n.Stop()

	if n.Status().IsActive {
		t.Error("Node should report inactive after stop")
	}
	if !tr.closed.Load() {
		t.Error("Stop must close the transport sessions")
	}
}

// TestSessionExchangeScenario drives two nodes over real loopback TCP: A
// broadcasts an SOS, exchanges with B, and a replayed exchange must not
// re-process it on B.
func TestSessionExchangeScenario(t *testing.T) {
	portB := 19812

	trB := transport.NewTCP("node-B", "B", portB, nil)
	nodeB := NewNode("node-B", trB)

	var fired int32
	nodeB.RegisterEmergencyHandler(func(*Message) error {
		atomic.AddInt32(&fired, 1)
		return nil
	})

	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	if err := trB.Start(ctxB, nodeB.serveSession); err != nil {
		t.Fatalf("Failed to start B transport: %v", err)
	}
	defer trB.Close()

	trA := transport.NewTCP("node-A", "A", 19813, nil)
	nodeA := NewNode("node-A", trA)
	defer trA.Close()

	casualties := 2
	if err := nodeA.BroadcastSOS("FLOOD", &casualties, []string{"boat"}); err != nil {
		t.Fatalf("Failed to broadcast SOS: %v", err)
	}

	desc := transport.PeerDescriptor{ID: "node-B", Addr: fmt.Sprintf("127.0.0.1:%d", portB)}
	nodeA.exchangeWith(context.Background(), desc)
	waitFor(t, func() bool { return nodeB.Status().MessagesReceived == 1 })

	statusB := nodeB.Status()
	if statusB.PendingMessages != 1 {
		t.Errorf("Expected SOS queued for further relay on B, got %d", statusB.PendingMessages)
	}
	nodeB.mu.Lock()
	hop := nodeB.pending[0].HopCount
	nodeB.mu.Unlock()
	if hop != 1 {
		t.Errorf("Expected hop count 1 after one relay, got %d", hop)
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("Expected B's emergency handler to fire once, got %d", got)
	}
	if nodeA.Status().ConnectedNodes != 1 {
		t.Error("Expected A to record B after a completed exchange")
	}

	// replay the identical exchange; dedup must make it a no-op
	nodeA.exchangeWith(context.Background(), desc)
	time.Sleep(500 * time.Millisecond)

	statusB = nodeB.Status()
	if statusB.MessagesReceived != 1 || statusB.PendingMessages != 1 {
		t.Errorf("Replay leaked through dedup: %+v", statusB)
	}
	if got := atomic.LoadInt32(&fired); got != 1 {
		t.Errorf("Replay re-fired the emergency handler: %d", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for condition")
}
