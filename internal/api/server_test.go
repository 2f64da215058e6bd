package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"vmark.io/vmark-node/internal/dispatcher"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	state := &RegisterState{VmarkID: "vmark-123", ListenIP: "127.0.0.1", Port: 9443, Registered: true}
	d := dispatcher.New(nil, nil, nil, nil)
	return NewServer(state, d, nil, nil)
}

func postJSON(t *testing.T, s *Server, path string, body map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(data)))
	rec := httptest.NewRecorder()
	s.httpServer.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleStatusRequiresMatchingVmarkID(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/status", map[string]string{"vmark_id": "wrong"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandleStatusOK(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/status", map[string]string{"vmark_id": "vmark-123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "online" {
		t.Errorf("expected status=online, got %q", body["status"])
	}
}

func TestHandleHeartbeatOK(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/heartbeat", map[string]string{"vmark_id": "vmark-123"})
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestHandleExecuteSuccess(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/execute", map[string]string{"vmark_id": "vmark-123", "command": "twamp dscptable"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(body["output"], "ef") {
		t.Errorf("expected DSCP table in output, got %q", body["output"])
	}
}

func TestHandleExecuteUnrecognizedCommandReturns404(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/execute", map[string]string{"vmark_id": "vmark-123", "command": "not-a-verb"})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecuteValidationErrorReturns400(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/execute", map[string]string{"vmark_id": "vmark-123", "command": "xdp-switch create-rule"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleExecuteWrongVmarkIDReturns403(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/execute", map[string]string{"vmark_id": "wrong", "command": "twamp dscptable"})
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}
}

func TestHandleExecuteNoDispatcherReturns501(t *testing.T) {
	state := &RegisterState{VmarkID: "vmark-123", ListenIP: "127.0.0.1", Port: 9443, Registered: true}
	s := NewServer(state, nil, nil, nil)
	rec := postJSON(t, s, "/api/execute", map[string]string{"vmark_id": "vmark-123", "command": "twamp dscptable"})
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("expected 501, got %d", rec.Code)
	}
}
