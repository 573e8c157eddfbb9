// Package bridge is the contract between the mesh and the Pravha flood
// system: predictions come in as flood alerts, SOS and flood traffic goes
// out as emergency summaries. Nothing else crosses this boundary, so any
// system exposing the same two operations can replace Pravha.
package bridge

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Kunalchandra007/Pravha/internal/mesh"
)

// maxReports bounds the in-memory summary log.
const maxReports = 1000

// Summary is the slice of a message the external system receives.
type Summary struct {
	ID             string            `json:"id"`
	Type           mesh.MessageType  `json:"type"`
	SourceDeviceID string            `json:"source_device_id"`
	Timestamp      time.Time         `json:"timestamp"`
	Coordinates    *mesh.Coordinates `json:"coordinates,omitempty"`
	Content        string            `json:"content"`
	Priority       mesh.Priority     `json:"priority"`
}

// Bridge wires a mesh node to the flood-management system.
type Bridge struct {
	node *mesh.Node

	mu         sync.Mutex
	subs       []func(Summary)
	reports    []Summary
	alertsSent int
}

// New builds a bridge over the node and claims the SOS and FLOOD_ALERT type
// handlers for extraction.
func New(node *mesh.Node) *Bridge {
	b := &Bridge{node: node}
	node.RegisterMessageHandler(mesh.TypeSOS, b.extract)
	node.RegisterMessageHandler(mesh.TypeFloodAlert, b.extract)
	return b
}

// SubmitFloodAlert turns a computed flood risk into a mesh flood alert. The
// probability maps onto the flood level scale; high severities carry
// evacuation wording so downstream reprioritization picks them up.
func (b *Bridge) SubmitFloodAlert(probability float64, location, severity string) error {
	if probability < 0 || probability > 1 {
		return fmt.Errorf("probability %.3f out of range [0,1]", probability)
	}
	if location == "" {
		return fmt.Errorf("location required")
	}

	content := fmt.Sprintf("Flood alert for %s: %s risk (%.0f%% probability)", location, severity, probability*100)
	if severity == "HIGH" || severity == "SEVERE" {
		content += " - evacuation recommended"
	}

	alert := mesh.NewFloodAlert(b.node.DeviceID(), content, probability*10, nil, []string{location}, nil)
	if err := b.node.Send(alert); err != nil {
		return fmt.Errorf("failed to send flood alert: %w", err)
	}

	b.mu.Lock()
	b.alertsSent++
	b.mu.Unlock()

	slog.Info("Flood alert injected", "location", location, "severity", severity, "probability", probability)
	return nil
}

// OnEmergency subscribes fn to every extracted SOS/flood summary.
func (b *Bridge) OnEmergency(fn func(Summary)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Status reports the underlying node's network status.
func (b *Bridge) Status() mesh.NetworkStatus {
	return b.node.Status()
}

// AlertsSent counts flood alerts injected through this bridge.
func (b *Bridge) AlertsSent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.alertsSent
}

// Reports returns the retained emergency summaries, oldest first.
func (b *Bridge) Reports() []Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Summary, len(b.reports))
	copy(out, b.reports)
	return out
}

// ReportsByType filters retained summaries by message type.
func (b *Bridge) ReportsByType(t mesh.MessageType) []Summary {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []Summary
	for _, s := range b.reports {
		if s.Type == t {
			out = append(out, s)
		}
	}
	return out
}

// extract forwards an emergency message to every subscriber. Subscriber
// panics or slow consumers are the subscriber's problem by contract; here we
// only contain errors from the fan-out loop itself.
func (b *Bridge) extract(msg *mesh.Message) error {
	summary := Summary{
		ID:             msg.ID,
		Type:           msg.Type,
		SourceDeviceID: msg.SourceDeviceID,
		Timestamp:      msg.Timestamp,
		Coordinates:    msg.Coordinates,
		Content:        msg.Content,
		Priority:       msg.Priority,
	}

	b.mu.Lock()
	b.reports = append(b.reports, summary)
	if len(b.reports) > maxReports {
		b.reports = b.reports[len(b.reports)-maxReports:]
	}
	subs := append([]func(Summary){}, b.subs...)
	b.mu.Unlock()

	for _, fn := range subs {
		fn(summary)
	}
	return nil
}
