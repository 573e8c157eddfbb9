package bridge

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// Uplink posts emergency summaries to an external webhook when the node has
// internet reach. Delivery is best effort; a full buffer or failed POST is
// logged and dropped so the mesh path is never blocked.
type Uplink struct {
	webhookURL string
	client     *http.Client
	queue      chan Summary
}

func NewUplink(webhookURL string) *Uplink {
	return &Uplink{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan Summary, 100),
	}
}

// Start drains the queue in the background until it is closed.
func (u *Uplink) Start() {
	go func() {
		for s := range u.queue {
			u.post(s)
		}
	}()
}

// Enqueue accepts a summary without blocking the caller.
func (u *Uplink) Enqueue(s Summary) {
	select {
	case u.queue <- s:
	default:
		slog.Warn("Uplink queue full, dropping summary", "id", s.ID)
	}
}

// Close stops the background sender.
func (u *Uplink) Close() {
	close(u.queue)
}

func (u *Uplink) post(s Summary) {
	payload, err := json.Marshal(map[string]any{
		"source":  "pravha-mesh",
		"event":   "emergency_message",
		"summary": s,
	})
	if err != nil {
		slog.Error("Failed to marshal uplink payload", "error", err)
		return
	}

	resp, err := u.client.Post(u.webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		slog.Error("Failed to send uplink request", "error", err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		slog.Error("Uplink returned non-2xx status", "status", resp.Status)
		return
	}
	slog.Info("Relayed summary to uplink", "id", s.ID, "type", s.Type)
}
