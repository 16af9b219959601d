package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fxamacker/cbor/v2"

	"vdu/internal/comm"
	"vdu/internal/config"
	"vdu/internal/dashboard"
	"vdu/internal/model"
	"vdu/internal/telemetry"
)

type fakeBus struct {
	health error
}

func (b *fakeBus) Health() error { return b.health }
func (b *fakeBus) Stats() comm.Stats {
	return comm.Stats{Initialized: true, Bitrate: 500_000, Mode: "loopback", Queued: 1, Capacity: 50, Sent: 3}
}

func newTestServer(cfg *config.Config) (*Server, *fakeBus, *model.Store, *dashboard.Dashboard) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	bus, store, dash := &fakeBus{}, &model.Store{}, dashboard.New()
	store.Update(func(s *model.Snapshot) {
		s.Telemetry = telemetry.VehicleTelemetry{Speed: 110, RPM: 2750, Temperature: 90, FuelLevel: 75, EngineRunning: true}
		s.Odometer = 12345.5
	})
	return NewServer(cfg, bus, store, dash), bus, store, dash
}

func do(t *testing.T, h http.Handler, method, target, body string, hdr map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range hdr {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthReflectsBus(t *testing.T) {
	s, bus, _, _ := newTestServer(nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Fatalf("healthy: %d %q", rec.Code, rec.Body.String())
	}

	bus.health = errors.New("comm: bus unhealthy")
	rec = do(t, h, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable || !strings.Contains(rec.Body.String(), "unhealthy") {
		t.Fatalf("unhealthy: %d %q", rec.Code, rec.Body.String())
	}
}

func TestTelemetryJSONAndCBOR(t *testing.T) {
	s, _, _, _ := newTestServer(nil)
	h := s.Handler()

	rec := do(t, h, http.MethodGet, "/api/telemetry", "", nil)
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
		t.Fatalf("content type %q", ct)
	}
	var js model.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &js); err != nil {
		t.Fatal(err)
	}
	if js.Telemetry.Speed != 110 || js.Telemetry.RPM != 2750 || js.Odometer != 12345.5 {
		t.Fatalf("json snapshot %+v", js)
	}

	rec = do(t, h, http.MethodGet, "/api/telemetry", "", map[string]string{"Accept": "text/html, application/cbor;q=0.9"})
	if ct := rec.Header().Get("Content-Type"); ct != cborContentType {
		t.Fatalf("content type %q", ct)
	}
	var cb model.Snapshot
	if err := cbor.Unmarshal(rec.Body.Bytes(), &cb); err != nil {
		t.Fatal(err)
	}
	if cb.Telemetry != js.Telemetry || cb.Remote != nil {
		t.Fatalf("cbor snapshot %+v", cb)
	}
}

func TestBusStats(t *testing.T) {
	s, _, _, _ := newTestServer(nil)
	rec := do(t, s.Handler(), http.MethodGet, "/api/bus", "", nil)
	var st comm.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if !st.Initialized || st.Bitrate != 500_000 || st.Sent != 3 {
		t.Fatalf("stats %+v", st)
	}
}

func TestPageControl(t *testing.T) {
	s, _, _, dash := newTestServer(nil)
	h := s.Handler()

	cases := []struct {
		method, target, body string
		code                 int
		want                 dashboard.Page
	}{
		{http.MethodPost, "/api/page", "next", http.StatusOK, dashboard.PageEngine},
		{http.MethodPost, "/api/page?action=prev", "", http.StatusOK, dashboard.PageSpeed},
		{http.MethodPost, "/api/page", `{"page":"trip"}`, http.StatusOK, dashboard.PageTrip},
		{http.MethodPost, "/api/page", "bogus", http.StatusBadRequest, dashboard.PageTrip},
		{http.MethodPost, "/api/page", "", http.StatusBadRequest, dashboard.PageTrip},
		{http.MethodDelete, "/api/page", "", http.StatusMethodNotAllowed, dashboard.PageTrip},
		{http.MethodGet, "/api/page", "", http.StatusOK, dashboard.PageTrip},
	}
	for _, tc := range cases {
		rec := do(t, h, tc.method, tc.target, tc.body, nil)
		if rec.Code != tc.code {
			t.Fatalf("%s %s %q: code %d, want %d", tc.method, tc.target, tc.body, rec.Code, tc.code)
		}
		if dash.Page() != tc.want {
			t.Fatalf("%s %s %q: page %s, want %s", tc.method, tc.target, tc.body, dash.Page(), tc.want)
		}
	}
}

func TestBasicAuth(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.BasicAuth = &config.BasicAuthConfig{Username: "admin", Password: "secret"}
	s, _, _, _ := newTestServer(cfg)
	h := s.Handler()

	if rec := do(t, h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("/health must stay open, got %d", rec.Code)
	}
	rec := do(t, h, http.MethodGet, "/api/bus", "", nil)
	if rec.Code != http.StatusUnauthorized || !strings.Contains(rec.Header().Get("WWW-Authenticate"), `realm="VDU"`) {
		t.Fatalf("unauthenticated: %d %q", rec.Code, rec.Header().Get("WWW-Authenticate"))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/bus", nil)
	req.SetBasicAuth("admin", "secret")
	ok := httptest.NewRecorder()
	h.ServeHTTP(ok, req)
	if ok.Code != http.StatusOK {
		t.Fatalf("authenticated: %d", ok.Code)
	}
}

func TestNilCollaborators(t *testing.T) {
	s := NewServer(config.DefaultConfig(), nil, nil, nil)
	h := s.Handler()
	if rec := do(t, h, http.MethodGet, "/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("/health: %d", rec.Code)
	}
	for _, p := range []string{"/api/telemetry", "/api/bus", "/api/page"} {
		if rec := do(t, h, http.MethodGet, p, "", nil); rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("%s: %d", p, rec.Code)
		}
	}
}
