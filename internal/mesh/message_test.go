package mesh

import (
	"testing"
	"time"
)

func TestConstructorDefaults(t *testing.T) {
	casualties := 2
	sos := NewSOS("dev-1", "FLOOD", &casualties, []string{"boat"})

	if sos.ID == "" {
		t.Fatal("Expected SOS to get an id")
	}
	if sos.Type != TypeSOS {
		t.Errorf("Expected type SOS, got %s", sos.Type)
	}
	if sos.Priority != PriorityCritical {
		t.Errorf("Expected CRITICAL priority, got %s", sos.Priority)
	}
	if sos.MaxHops != DefaultMaxHops || sos.TTL != DefaultTTL {
		t.Errorf("Expected default routing metadata, got maxHops=%d ttl=%d", sos.MaxHops, sos.TTL)
	}
	if sos.HopCount != 0 {
		t.Errorf("Expected hop count 0 at origin, got %d", sos.HopCount)
	}

	other := NewSOS("dev-1", "FLOOD", nil, nil)
	if other.ID == sos.ID {
		t.Error("Expected each message to get a distinct id")
	}

	if p := NewLocationUpdate("dev-1", "ACTIVE", nil, nil).Priority; p != PriorityLow {
		t.Errorf("Expected location updates at LOW, got %s", p)
	}
	if p := NewEvacuationOrder("dev-1", "leave zone 2", []string{"2"}).Priority; p != PriorityEmergency {
		t.Errorf("Expected evacuation orders at EMERGENCY, got %s", p)
	}
}

func TestExpiryAndRelayPredicates(t *testing.T) {
	msg := NewStatusUpdate("dev-1", "all quiet")
	if msg.Expired() {
		t.Error("Fresh message should not be expired")
	}
	if !msg.CanRelay() {
		t.Error("Fresh message should be relayable")
	}

	msg.Timestamp = time.Now().Add(-2 * time.Second)
	msg.TTL = 1
	if !msg.Expired() {
		t.Error("Message past its TTL should be expired")
	}
	if msg.CanRelay() {
		t.Error("Expired message should not be relayable")
	}

	atCeiling := NewStatusUpdate("dev-1", "last hop")
	atCeiling.HopCount = atCeiling.MaxHops
	if atCeiling.CanRelay() {
		t.Error("Message at the hop ceiling should not be relayable")
	}
}

func TestWireRoundTrip(t *testing.T) {
	peak := time.Now().Add(6 * time.Hour).UTC()
	alert := NewFloodAlert("dev-1", "river rising", 5.2, &peak, []string{"zone-1"}, []string{"route-7"})
	alert.Coordinates = &Coordinates{Lat: 26.2, Lon: 92.9}

	data, err := alert.Encode()
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	got, err := DecodeMessage(data)
	if err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}

	if got.ID != alert.ID || got.Type != TypeFloodAlert {
		t.Errorf("Identity fields lost: id=%q type=%q", got.ID, got.Type)
	}
	if got.FloodLevel != 5.2 || len(got.EvacuationZones) != 1 || len(got.SafeRoutes) != 1 {
		t.Error("Flood alert variant fields lost in transit")
	}
	if got.Coordinates == nil || got.Coordinates.Lat != 26.2 {
		t.Error("Coordinates lost in transit")
	}
	if got.PredictedPeak == nil || !got.PredictedPeak.Equal(peak) {
		t.Error("Predicted peak lost in transit")
	}
}

func TestDecodeRejectsMalformed(t *testing.T) {
	if _, err := DecodeMessage([]byte("{not json")); err == nil {
		t.Error("Expected error for malformed JSON")
	}
	if _, err := DecodeMessage([]byte(`{"type":"SOS"}`)); err == nil {
		t.Error("Expected error for missing id")
	}
	if _, err := DecodeMessage([]byte(`{"id":"x"}`)); err == nil {
		t.Error("Expected error for missing type")
	}
}
