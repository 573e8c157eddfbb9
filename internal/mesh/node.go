package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kunalchandra007/Pravha/internal/transport"
)

var (
	ErrAlreadyStarted = errors.New("mesh node already started")
	ErrNotStarted     = errors.New("mesh node not started")
)

// Peer is a mesh neighbor we have completed at least one exchange with.
type Peer struct {
	ID             string
	Nick           string
	Addr           string
	LastSeen       time.Time
	SignalStrength *int
}

// NetworkStatus is a non-blocking snapshot of the node's state.
type NetworkStatus struct {
	DeviceID          string   `json:"device_id"`
	IsActive          bool     `json:"is_active"`
	ConnectedNodes    int      `json:"connected_nodes"`
	CachedMessages    int      `json:"cached_messages"`
	PendingMessages   int      `json:"pending_messages"`
	MessagesSent      int      `json:"messages_sent"`
	MessagesReceived  int      `json:"messages_received"`
	MessagesRelayed   int      `json:"messages_relayed"`
	ConnectedNodeList []string `json:"connected_node_list"`
}

// LocationProvider supplies the node's current coordinates, if known.
type LocationProvider func(ctx context.Context) (*Coordinates, error)

// Option configures a Node at construction.
type Option func(*Node)

// WithLocationProvider attaches origin coordinates to outbound messages.
func WithLocationProvider(fn LocationProvider) Option {
	return func(n *Node) { n.locationFn = fn }
}

// WithMessageCallback invokes fn for every newly processed inbound message,
// after type handlers have run.
func WithMessageCallback(fn func(*Message)) Option {
	return func(n *Node) { n.msgCallback = fn }
}

// WithSigner stamps outbound messages with an authentication token. The mesh
// carries the signature but never verifies it.
func WithSigner(fn func(*Message)) Option {
	return func(n *Node) { n.signFn = fn }
}

// WithPeerObserver invokes fn whenever a peer record is created or refreshed.
func WithPeerObserver(fn func(Peer)) Option {
	return func(n *Node) { n.peerObs = fn }
}

// Node is the mesh runtime: it owns the peer table, the dedup cache and the
// pending-outbound queue, and drives discovery, advertisement, dispatch
// pruning and cleanup.
type Node struct {
	deviceID string
	tr       transport.Transport
	handler  *Handler
	cache    *Cache

	locationFn  LocationProvider
	msgCallback func(*Message)
	signFn      func(*Message)
	peerObs     func(Peer)

	// loop tuning; tests shorten these
	discoverEvery   time.Duration
	discoverTimeout time.Duration
	dispatchEvery   time.Duration
	cleanupEvery    time.Duration
	cacheMaxAge     time.Duration
	peerStaleAfter  time.Duration
	batchSize       int

	mu       sync.Mutex
	active   bool
	peers    map[string]*Peer
	pending  []*Message
	sent     int
	received int
	relayed  int

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewNode(deviceID string, tr transport.Transport, opts ...Option) *Node {
	n := &Node{
		deviceID:        deviceID,
		tr:              tr,
		handler:         NewHandler(deviceID),
		cache:           NewCache(),
		discoverEvery:   10 * time.Second,
		discoverTimeout: 5 * time.Second,
		dispatchEvery:   1 * time.Second,
		cleanupEvery:    60 * time.Second,
		cacheMaxAge:     time.Hour,
		peerStaleAfter:  300 * time.Second,
		batchSize:       3,
		peers:           make(map[string]*Peer),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// DeviceID returns this node's identifier.
func (n *Node) DeviceID() string { return n.deviceID }

// Router exposes the priority router for queue observability.
func (n *Node) Router() *Handler { return n.handler }

// Start transitions the node to active and launches the discovery,
// advertisement, dispatch and cleanup loops. It returns once they are
// running; only a transport initialization failure is fatal.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.active {
		n.mu.Unlock()
		return ErrAlreadyStarted
	}
	n.active = true
	n.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel

	if err := n.tr.Start(ctx, n.serveSession); err != nil {
		n.mu.Lock()
		n.active = false
		n.mu.Unlock()
		cancel()
		return fmt.Errorf("failed to start transport: %w", err)
	}

	slog.Info("Mesh node starting", "deviceID", n.deviceID)

	n.wg.Add(4)
	go n.discoverLoop(ctx)
	go n.advertiseLoop(ctx)
	go n.dispatchLoop(ctx)
	go n.cleanupLoop(ctx)

	return nil
}

// Stop flips the node inactive, waits for the loops to observe that at their
// next iteration, and closes all peer sessions.
func (n *Node) Stop() {
	n.mu.Lock()
	if !n.active {
		n.mu.Unlock()
		return
	}
	n.active = false
	n.mu.Unlock()

	if n.cancel != nil {
		n.cancel()
	}
	n.wg.Wait()
	if err := n.tr.Close(); err != nil {
		slog.Error("Transport close failed", "error", err)
	}
	slog.Info("Mesh node stopped", "deviceID", n.deviceID)
}

// Send stamps the message as originating here, registers it against loops,
// dispatches it to local handlers, and queues it for opportunistic delivery.
// It never blocks on transport availability: with zero reachable peers the
// message simply waits.
func (n *Node) Send(msg *Message) error {
	msg.SourceDeviceID = n.deviceID
	msg.Timestamp = time.Now()

	if n.locationFn != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		coords, err := n.locationFn(ctx)
		cancel()
		if err != nil {
			slog.Warn("Location provider failed", "error", err)
		} else if coords != nil {
			msg.Coordinates = coords
		}
	}

	if n.signFn != nil {
		n.signFn(msg)
	}

	n.cache.Register(msg)

	// own traffic goes through the same dispatch path as received traffic,
	// so local handlers, flood mode, and the extraction bridge see it
	n.handler.Process(msg)
	if n.msgCallback != nil {
		n.msgCallback(msg)
	}

	n.mu.Lock()
	n.pending = append(n.pending, msg)
	n.sent++
	n.mu.Unlock()

	slog.Info("Queued message for broadcast", "id", msg.ID, "type", msg.Type, "priority", msg.Priority)
	return nil
}

// BroadcastSOS builds and sends an SOS message.
func (n *Node) BroadcastSOS(emergencyType string, casualties *int, resourcesNeeded []string) error {
	return n.Send(NewSOS(n.deviceID, emergencyType, casualties, resourcesNeeded))
}

// BroadcastWarning builds and sends a warning message.
func (n *Node) BroadcastWarning(text, warningType, severity string) error {
	return n.Send(NewWarning(n.deviceID, text, warningType, severity))
}

// RegisterMessageHandler associates a callback with a message type; the last
// registration for a type wins.
func (n *Node) RegisterMessageHandler(t MessageType, fn HandlerFunc) {
	n.handler.RegisterHandler(t, fn)
}

// RegisterEmergencyHandler adds a callback for EMERGENCY-and-above traffic.
func (n *Node) RegisterEmergencyHandler(fn HandlerFunc) {
	n.handler.RegisterEmergencyHandler(fn)
}

// Status returns a snapshot of the node without blocking its loops.
func (n *Node) Status() NetworkStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	list := make([]string, 0, len(n.peers))
	for id := range n.peers {
		list = append(list, id)
	}
	return NetworkStatus{
		DeviceID:          n.deviceID,
		IsActive:          n.active,
		ConnectedNodes:    len(n.peers),
		CachedMessages:    n.cache.Len(),
		PendingMessages:   len(n.pending),
		MessagesSent:      n.sent,
		MessagesReceived:  n.received,
		MessagesRelayed:   n.relayed,
		ConnectedNodeList: list,
	}
}

// Peers returns a copy of the current peer table.
func (n *Node) Peers() []Peer {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Peer, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, *p)
	}
	return out
}

func (n *Node) isActive() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.active
}

// discoverLoop scans for peers on a fixed interval and exchanges with every
// newly discovered one. A single peer's failure never halts the loop.
func (n *Node) discoverLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.discoverEvery)
	defer ticker.Stop()

	for n.isActive() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			descs, err := n.tr.Discover(ctx, n.discoverTimeout)
			if err != nil {
				slog.Error("Discovery scan failed", "error", err)
				continue
			}
			for _, desc := range descs {
				if desc.ID == n.deviceID || n.knownPeer(desc.ID) {
					continue
				}
				n.exchangeWith(ctx, desc)
			}
		}
	}
}

func (n *Node) knownPeer(id string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	_, ok := n.peers[id]
	return ok
}

// exchangeWith opens a session to a peer, drains its inbound data, then
// writes a bounded batch of pending messages. The peer is recorded only
// after the exchange completes, so an aborted session leaves no entry.
func (n *Node) exchangeWith(ctx context.Context, desc transport.PeerDescriptor) {
	sess, err := n.tr.OpenSession(ctx, desc)
	if err != nil {
		slog.Error("Failed to open session", "peer", desc.ID, "addr", desc.Addr, "error", err)
		return
	}
	defer sess.Close()

	n.drainSession(sess, 2)
	n.writeBatch(sess)
	n.recordPeer(desc)
}

// serveSession handles an inbound session: our pending batch goes out first
// (serving the peer's read), then we consume whatever the peer writes until
// it closes or goes quiet.
func (n *Node) serveSession(sess transport.Session) {
	defer sess.Close()
	n.writeBatch(sess)
	n.drainSession(sess, 10)
}

// drainSession reads frames until the link errors out or stays quiet for
// maxIdle consecutive polls, processing each frame through the loop-prevention
// pipeline.
func (n *Node) drainSession(sess transport.Session, maxIdle int) {
	idle := 0
	for idle < maxIdle {
		data, err := sess.Read()
		if err != nil {
			return
		}
		if data == nil {
			idle++
			continue
		}
		idle = 0
		n.ingest(data)
	}
}

// ingest runs the receive pipeline: decode, drop expired, dedup atomically,
// dispatch locally, and re-queue for relay while under the hop ceiling. The
// ceiling bounds propagation only; a message at its last hop is still
// consumed locally.
func (n *Node) ingest(data []byte) {
	msg, err := DecodeMessage(data)
	if err != nil {
		slog.Error("Discarding malformed frame", "error", err)
		return
	}

	if msg.Expired() {
		return
	}
	if !n.cache.Register(msg) {
		return // already seen, possibly via another path
	}

	relayable := msg.HopCount < msg.MaxHops
	if relayable {
		msg.HopCount++
	}

	n.handler.Process(msg)
	if n.msgCallback != nil {
		n.msgCallback(msg)
	}

	n.mu.Lock()
	if relayable {
		n.pending = append(n.pending, msg)
	}
	n.received++
	n.mu.Unlock()

	slog.Info("Processed message", "id", msg.ID, "type", msg.Type, "from", msg.SourceDeviceID, "hops", msg.HopCount)
}

// writeBatch sends up to batchSize pending messages on the session, rotating
// them to the back of the queue so every message eventually gets link time.
func (n *Node) writeBatch(sess transport.Session) {
	batch := n.takeBatch()
	for _, msg := range batch {
		data, err := msg.Encode()
		if err != nil {
			slog.Error("Failed to encode message", "id", msg.ID, "error", err)
			continue
		}
		if err := sess.Write(data); err != nil {
			slog.Error("Failed to write message", "id", msg.ID, "error", err)
			return
		}
		n.mu.Lock()
		n.relayed++
		n.mu.Unlock()
	}
}

func (n *Node) takeBatch() []*Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.prunePendingLocked()
	size := n.batchSize
	if size > len(n.pending) {
		size = len(n.pending)
	}
	batch := n.pending[:size]
	n.pending = append(n.pending[size:], batch...)
	return batch
}

func (n *Node) prunePendingLocked() {
	kept := n.pending[:0]
	for _, msg := range n.pending {
		if msg.Expired() {
			continue
		}
		kept = append(kept, msg)
	}
	n.pending = kept
}

func (n *Node) recordPeer(desc transport.PeerDescriptor) {
	peer := Peer{
		ID:             desc.ID,
		Nick:           desc.Nick,
		Addr:           desc.Addr,
		LastSeen:       time.Now(),
		SignalStrength: desc.SignalStrength,
	}
	n.mu.Lock()
	stored := peer
	n.peers[desc.ID] = &stored
	n.mu.Unlock()

	if n.peerObs != nil {
		n.peerObs(peer)
	}
}

func (n *Node) advertiseLoop(ctx context.Context) {
	defer n.wg.Done()
	n.tr.Advertise(ctx)
}

// dispatchLoop prunes the pending queue so expired messages are never
// relayed even if no peer appears before their TTL runs out.
func (n *Node) dispatchLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.dispatchEvery)
	defer ticker.Stop()

	for n.isActive() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.mu.Lock()
			n.prunePendingLocked()
			n.mu.Unlock()
		}
	}
}

func (n *Node) cleanupLoop(ctx context.Context) {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cleanupEvery)
	defer ticker.Stop()

	for n.isActive() {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.cleanup()
		}
	}
}

// cleanup evicts cache entries past the age bound, expired queued messages,
// and peers unseen beyond the staleness bound.
func (n *Node) cleanup() {
	evicted := n.cache.Sweep(n.cacheMaxAge)
	dropped := n.handler.Sweep()

	n.mu.Lock()
	removed := 0
	for id, p := range n.peers {
		if time.Since(p.LastSeen) > n.peerStaleAfter {
			delete(n.peers, id)
			removed++
		}
	}
	n.mu.Unlock()

	if evicted > 0 || removed > 0 || dropped > 0 {
		slog.Info("Cleanup pass", "cacheEvicted", evicted, "queueDropped", dropped, "stalePeers", removed)
	}
}
