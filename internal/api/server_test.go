package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/Kunalchandra007/Pravha/internal/bridge"
	"github.com/Kunalchandra007/Pravha/internal/mesh"
)

func newTestServer(t *testing.T) (*Server, *mesh.Node, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	node := mesh.NewNode("node-A", nil)
	b := bridge.New(node)
	s := NewServer(node, b, 0)
	r := gin.New()
	s.Routes(r)
	return s, node, r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGetStatus(t *testing.T) {
	_, _, r := newTestServer(t)

	w := do(r, http.MethodGet, "/api/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}

	var status mesh.NetworkStatus
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to decode status: %v", err)
	}
	if status.DeviceID != "node-A" {
		t.Errorf("Expected device_id node-A, got %q", status.DeviceID)
	}
}

func TestPostSOSBroadcasts(t *testing.T) {
	_, node, r := newTestServer(t)

	w := do(r, http.MethodPost, "/api/messages/sos", `{"emergency_type":"FLOOD","casualties":2,"resources_needed":["boat"]}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if node.Status().MessagesSent != 1 {
		t.Error("SOS did not reach the node")
	}
}

func TestPostWarningRequiresText(t *testing.T) {
	_, node, r := newTestServer(t)

	w := do(r, http.MethodPost, "/api/messages/warning", `{"warning_type":"WEATHER"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without warning_text, got %d", w.Code)
	}
	if node.Status().MessagesSent != 0 {
		t.Error("Rejected warning must not be broadcast")
	}

	w = do(r, http.MethodPost, "/api/messages/warning", `{"warning_text":"river rising near the bund"}`)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestPostFloodAlertValidation(t *testing.T) {
	_, _, r := newTestServer(t)

	w := do(r, http.MethodPost, "/api/messages/flood-alert", `{"location":"Majuli"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 without probability, got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/messages/flood-alert", `{"probability":1.7,"location":"Majuli"}`)
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for out-of-range probability, got %d", w.Code)
	}

	w = do(r, http.MethodPost, "/api/messages/flood-alert", `{"probability":0.82,"location":"Majuli","severity":"HIGH"}`)
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetMessagesFiltersByType(t *testing.T) {
	s, node, r := newTestServer(t)

	if err := s.bridge.SubmitFloodAlert(0.9, "Guwahati", "SEVERE"); err != nil {
		t.Fatalf("Failed to submit alert: %v", err)
	}
	casualties := 1
	node.Router().Process(mesh.NewSOS("node-B", "FLOOD", &casualties, nil))

	w := do(r, http.MethodGet, "/api/messages?type=SOS", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Count    int              `json:"count"`
		Messages []bridge.Summary `json:"messages"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Count != 1 || resp.Messages[0].Type != mesh.TypeSOS {
		t.Errorf("Expected only the SOS, got %+v", resp)
	}

	w = do(r, http.MethodGet, "/api/messages", "")
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if resp.Count != 2 {
		t.Errorf("Expected 2 messages unfiltered, got %d", resp.Count)
	}
}

func TestGetQueuesReflectsFloodMode(t *testing.T) {
	_, node, r := newTestServer(t)

	node.Router().Process(mesh.NewFloodAlert("node-B", "levels rising", 7.5, nil, nil, nil))

	w := do(r, http.MethodGet, "/api/queues", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var resp struct {
		Queues    map[string]int `json:"queues"`
		FloodMode bool           `json:"flood_mode"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode: %v", err)
	}
	if !resp.FloodMode {
		t.Error("Expected flood mode after a flood alert")
	}
	if resp.Queues["CRITICAL"] != 1 {
		t.Errorf("Expected the alert in the CRITICAL queue, got %v", resp.Queues)
	}
}
