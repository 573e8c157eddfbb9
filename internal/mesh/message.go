package mesh

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MessageType discriminates the message variants carried by the mesh.
type MessageType string

const (
	TypeSOS             MessageType = "SOS"
	TypeWarning         MessageType = "WARNING"
	TypeLocationUpdate  MessageType = "LOCATION_UPDATE"
	TypeFloodAlert      MessageType = "FLOOD_ALERT"
	TypeEvacuationOrder MessageType = "EVACUATION_ORDER"
	TypeResourceRequest MessageType = "RESOURCE_REQUEST"
	TypeStatusUpdate    MessageType = "STATUS_UPDATE"
)

// Priority orders delivery and handling. Higher values preempt lower ones.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityEmergency
	PriorityCritical
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "LOW"
	case PriorityNormal:
		return "NORMAL"
	case PriorityHigh:
		return "HIGH"
	case PriorityEmergency:
		return "EMERGENCY"
	case PriorityCritical:
		return "CRITICAL"
	}
	return fmt.Sprintf("PRIORITY(%d)", int(p))
}

// Coordinates is the origin geolocation attached to a message.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

const (
	// DefaultMaxHops bounds propagation depth.
	DefaultMaxHops = 10
	// DefaultTTL is the message lifetime in seconds.
	DefaultTTL = 3600
)

// Message is the unit of information carried by the mesh. The ID is assigned
// once at creation and is the dedup key; variant fields beyond the common set
// are populated by the constructors and omitted from the wire when unused.
type Message struct {
	ID             string       `json:"id"`
	Type           MessageType  `json:"type"`
	Priority       Priority     `json:"priority"`
	Timestamp      time.Time    `json:"timestamp"`
	SourceDeviceID string       `json:"source_device_id"`
	Content        string       `json:"content"`
	Coordinates    *Coordinates `json:"coordinates,omitempty"`
	HopCount       int          `json:"hop_count"`
	MaxHops        int          `json:"max_hops"`
	TTL            int          `json:"ttl"`
	Signature      string       `json:"signature,omitempty"`

	// SOS
	EmergencyType   string   `json:"emergency_type,omitempty"`
	Casualties      *int     `json:"casualties,omitempty"`
	ResourcesNeeded []string `json:"resources_needed,omitempty"`

	// WARNING
	WarningType  string `json:"warning_type,omitempty"`
	AffectedArea string `json:"affected_area,omitempty"`
	Severity     string `json:"severity,omitempty"`

	// FLOOD_ALERT
	FloodLevel      float64    `json:"flood_level,omitempty"`
	PredictedPeak   *time.Time `json:"predicted_peak,omitempty"`
	EvacuationZones []string   `json:"evacuation_zones,omitempty"`
	SafeRoutes      []string   `json:"safe_routes,omitempty"`

	// LOCATION_UPDATE
	DeviceStatus   string `json:"device_status,omitempty"`
	BatteryLevel   *int   `json:"battery_level,omitempty"`
	SignalStrength *int   `json:"signal_strength,omitempty"`
}

func newMessage(t MessageType, p Priority, source, content string) *Message {
	return &Message{
		ID:             uuid.New().String(),
		Type:           t,
		Priority:       p,
		Timestamp:      time.Now(),
		SourceDeviceID: source,
		Content:        content,
		MaxHops:        DefaultMaxHops,
		TTL:            DefaultTTL,
	}
}

// NewSOS builds an SOS emergency message.
func NewSOS(source, emergencyType string, casualties *int, resourcesNeeded []string) *Message {
	m := newMessage(TypeSOS, PriorityCritical, source, fmt.Sprintf("SOS from %s", source))
	m.EmergencyType = emergencyType
	m.Casualties = casualties
	m.ResourcesNeeded = resourcesNeeded
	return m
}

// NewWarning builds a warning/alert message.
func NewWarning(source, text, warningType, severity string) *Message {
	m := newMessage(TypeWarning, PriorityHigh, source, text)
	m.WarningType = warningType
	m.Severity = severity
	return m
}

// NewFloodAlert builds a flood-specific alert.
func NewFloodAlert(source, content string, floodLevel float64, predictedPeak *time.Time, evacuationZones, safeRoutes []string) *Message {
	m := newMessage(TypeFloodAlert, PriorityCritical, source, content)
	m.FloodLevel = floodLevel
	m.PredictedPeak = predictedPeak
	m.EvacuationZones = evacuationZones
	m.SafeRoutes = safeRoutes
	return m
}

// NewLocationUpdate builds a device location/status report.
func NewLocationUpdate(source, deviceStatus string, battery, signal *int) *Message {
	m := newMessage(TypeLocationUpdate, PriorityLow, source, fmt.Sprintf("Location update from %s", source))
	m.DeviceStatus = deviceStatus
	m.BatteryLevel = battery
	m.SignalStrength = signal
	return m
}

// NewStatusUpdate builds a generic free-text status message.
func NewStatusUpdate(source, content string) *Message {
	return newMessage(TypeStatusUpdate, PriorityNormal, source, content)
}

// NewResourceRequest builds a request for supplies or assistance.
func NewResourceRequest(source, content string, resourcesNeeded []string) *Message {
	m := newMessage(TypeResourceRequest, PriorityHigh, source, content)
	m.ResourcesNeeded = resourcesNeeded
	return m
}

// NewEvacuationOrder builds an evacuation directive for the given zones.
func NewEvacuationOrder(source, content string, zones []string) *Message {
	m := newMessage(TypeEvacuationOrder, PriorityEmergency, source, content)
	m.EvacuationZones = zones
	return m
}

// Age is the time elapsed since the message was created at its origin.
func (m *Message) Age() time.Duration {
	return time.Since(m.Timestamp)
}

// Expired reports whether the message has outlived its TTL.
func (m *Message) Expired() bool {
	return m.Age() >= time.Duration(m.TTL)*time.Second
}

// CanRelay reports whether the message may be propagated further. The hop
// ceiling bounds relay only; local consumption is still allowed.
func (m *Message) CanRelay() bool {
	return !m.Expired() && m.HopCount < m.MaxHops
}

// Digest is the stable byte string the origin signs. Hop count and signature
// are excluded since they change in flight.
func (m *Message) Digest() []byte {
	input := fmt.Sprintf("%s:%s:%s:%d", m.ID, m.SourceDeviceID, m.Content, m.Timestamp.UnixNano())
	sum := sha256.Sum256([]byte(input))
	return sum[:]
}

// Encode serializes the message to its JSON wire form.
func (m *Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a wire frame back into a Message.
func DecodeMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode message: %w", err)
	}
	if m.ID == "" {
		return nil, fmt.Errorf("message missing id")
	}
	if m.Type == "" {
		return nil, fmt.Errorf("message %s missing type", m.ID)
	}
	return &m, nil
}
