package mesh

import (
	"log/slog"
	"strings"
	"sync"
)

// HandlerFunc consumes a routed message. A returned error is logged and never
// stops the routing pipeline or sibling handlers.
type HandlerFunc func(*Message) error

// floodKeywords mark queued content that becomes urgent once a flood alert
// arrives.
var floodKeywords = []string{"evacuation", "safety", "rescue", "emergency"}

// Handler routes messages through per-priority queues and escalates content
// when the node enters flood mode.
type Handler struct {
	nodeID string

	mu        sync.Mutex
	queues    map[Priority][]*Message
	typed     map[MessageType]HandlerFunc
	emergency []HandlerFunc
	floodMode bool
}

func NewHandler(nodeID string) *Handler {
	queues := make(map[Priority][]*Message, 5)
	for p := PriorityLow; p <= PriorityCritical; p++ {
		queues[p] = nil
	}
	return &Handler{
		nodeID: nodeID,
		queues: queues,
		typed:  make(map[MessageType]HandlerFunc),
	}
}

// RegisterHandler associates a callback with a message type. At most one
// handler per type; the last registration wins.
func (h *Handler) RegisterHandler(t MessageType, fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.typed[t] = fn
	slog.Info("Registered handler", "type", t, "node", h.nodeID)
}

// RegisterEmergencyHandler adds a callback invoked synchronously for every
// message at EMERGENCY priority or above.
func (h *Handler) RegisterEmergencyHandler(fn HandlerFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.emergency = append(h.emergency, fn)
}

// Process enqueues the message by priority, fans out to emergency handlers
// when warranted, dispatches the type handler, and reacts to flood alerts.
func (h *Handler) Process(msg *Message) {
	h.mu.Lock()
	h.queues[msg.Priority] = append(h.queues[msg.Priority], msg)
	var emergency []HandlerFunc
	if msg.Priority >= PriorityEmergency {
		emergency = append(emergency, h.emergency...)
	}
	typed := h.typed[msg.Type]
	h.mu.Unlock()

	if len(emergency) > 0 {
		slog.Warn("EMERGENCY message", "id", msg.ID, "content", msg.Content, "node", h.nodeID)
		for _, fn := range emergency {
			if err := fn(msg); err != nil {
				slog.Error("Emergency handler failed", "id", msg.ID, "error", err)
			}
		}
	}

	if typed != nil {
		if err := typed(msg); err != nil {
			slog.Error("Handler failed", "type", msg.Type, "id", msg.ID, "error", err)
		}
	}

	if msg.Type == TypeFloodAlert {
		h.enterFloodMode(msg)
	}
}

// enterFloodMode flips the node-wide flood flag and runs a one-shot sweep
// that escalates keyword-matching queued messages to EMERGENCY.
func (h *Handler) enterFloodMode(msg *Message) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.floodMode = true
	moved := h.reprioritizeLocked()
	slog.Warn("FLOOD ALERT", "id", msg.ID, "level", msg.FloodLevel, "escalated", moved)
}

func (h *Handler) reprioritizeLocked() int {
	moved := 0
	for p := PriorityLow; p < PriorityEmergency; p++ {
		kept := h.queues[p][:0]
		for _, m := range h.queues[p] {
			if containsFloodKeyword(m.Content) {
				m.Priority = PriorityEmergency
				h.queues[PriorityEmergency] = append(h.queues[PriorityEmergency], m)
				moved++
				continue
			}
			kept = append(kept, m)
		}
		h.queues[p] = kept
	}
	return moved
}

func containsFloodKeyword(content string) bool {
	lower := strings.ToLower(content)
	for _, kw := range floodKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// FloodMode reports whether a flood alert has been observed.
func (h *Handler) FloodMode() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.floodMode
}

// QueueStatus returns the current depth of every priority queue.
func (h *Handler) QueueStatus() map[Priority]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	status := make(map[Priority]int, len(h.queues))
	for p, q := range h.queues {
		status[p] = len(q)
	}
	return status
}

// Sweep drops expired messages from every queue and returns how many were
// removed.
func (h *Handler) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for p, q := range h.queues {
		kept := q[:0]
		for _, m := range q {
			if m.Expired() {
				removed++
				continue
			}
			kept = append(kept, m)
		}
		h.queues[p] = kept
	}
	return removed
}
