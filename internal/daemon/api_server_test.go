package daemon

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"nmrauto/internal/logging"
	"nmrauto/internal/testsupport"
)

func newTestAPI(t *testing.T) (*testRig, http.Handler) {
	t.Helper()
	rig := newTestRig(t)
	srv, err := newAPIServer("127.0.0.1:0", rig.daemon, logging.NewNop())
	if err != nil || srv == nil {
		t.Fatalf("newAPIServer: %v", err)
	}
	return rig, srv.routes()
}

func TestAPIQueueListsSamples(t *testing.T) {
	rig, handler := newTestAPI(t)
	testsupport.AddSample(t, rig.store, "toluene", 1)
	testsupport.AddSample(t, rig.store, "anisole", 2)

	req := httptest.NewRequest(http.MethodGet, "/api/queue?status=queued", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var resp QueueListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(resp.Samples) != 2 || resp.Samples[0].Name != "toluene" || resp.Samples[1].Holder != 2 {
		t.Fatalf("unexpected samples: %+v", resp.Samples)
	}
}

func TestAPIQueueRejectsUnknownStatus(t *testing.T) {
	_, handler := newTestAPI(t)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/queue?status=lost", nil))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAPIStatusReportsDevicesAndCounts(t *testing.T) {
	rig, handler := newTestAPI(t)
	testsupport.AddSample(t, rig.store, "toluene", 1)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 OK, got %d", w.Code)
	}
	var status Status
	if err := json.Unmarshal(w.Body.Bytes(), &status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.Autosampler.Connected || status.Autosampler.Code != -1 {
		t.Fatalf("expected never-connected autosampler, got %+v", status.Autosampler)
	}
	if status.Spectrometer.Connected {
		t.Fatal("expected disconnected spectrometer")
	}
	if status.Queue.Counts["queued"] != 1 || status.Queue.ShimName != "idle" {
		t.Fatalf("unexpected queue view: %+v", status.Queue)
	}
}

func TestAPIMethodNotAllowed(t *testing.T) {
	_, handler := newTestAPI(t)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/status", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", w.Code)
	}
}

func TestAPIMetricsEndpoint(t *testing.T) {
	_, handler := newTestAPI(t)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "nmrauto_autosampler_errorcode") {
		t.Fatalf("unexpected metrics response %d", w.Code)
	}
}
