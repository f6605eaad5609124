package inbound

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/postalsys/walletlink/internal/events"
	"github.com/postalsys/walletlink/internal/metrics"
)

func newTestServer(t *testing.T, cfg ServerConfig) (*Server, *Feed, *metrics.Metrics) {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetricsWithRegistry(reg)
	cfg.Metrics = m
	cfg.Gatherer = reg
	feed := NewFeed("", 8)
	bus := events.NewBus(4)
	t.Cleanup(bus.Close)
	return NewServer(cfg, feed, bus, func() any { return map[string]string{"state": "IDLE"} }), feed, m
}

func TestServer_Callback(t *testing.T) {
	s, feed, _ := newTestServer(t, ServerConfig{})

	req := httptest.NewRequest(http.MethodGet, "http://127.0.0.1:8787/onConnect/req-1?nonce=abc&data=xyz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "return to walletlink") {
		t.Errorf("body = %q", rec.Body.String())
	}

	select {
	case d := <-feed.Deliveries():
		if d.URL != "http://127.0.0.1:8787/onConnect/req-1?nonce=abc&data=xyz" {
			t.Errorf("URL = %s", d.URL)
		}
		if d.Origin != "http" {
			t.Errorf("Origin = %s, want http", d.Origin)
		}
	default:
		t.Fatal("callback not pushed to feed")
	}
}

func TestServer_RejectsUnknownPaths(t *testing.T) {
	s, feed, m := newTestServer(t, ServerConfig{})

	tests := []struct {
		name   string
		method string
		path   string
		want   int
		reason string
	}{
		{"unknown path", http.MethodGet, "/favicon.ico", http.StatusNotFound, "not_found"},
		{"near miss", http.MethodGet, "/onconnect", http.StatusNotFound, "not_found"},
		{"post", http.MethodPost, "/onConnect", http.StatusMethodNotAllowed, "method"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if got := testutil.ToFloat64(m.HTTPRejected.WithLabelValues(tt.reason)); got < 1 {
				t.Errorf("HTTPRejected{%s} = %v", tt.reason, got)
			}
		})
	}

	if len(feed.Deliveries()) != 0 {
		t.Error("rejected requests reached the feed")
	}
}

func TestServer_ClosedFeed(t *testing.T) {
	s, feed, _ := newTestServer(t, ServerConfig{})
	feed.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/onSignMessage", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServer_HealthStatusMetrics(t *testing.T) {
	s, _, m := newTestServer(t, ServerConfig{})
	m.RecordSessionEstablished()

	tests := []struct {
		path string
		want string
	}{
		{"/health", "OK"},
		{"/status", `"state":"IDLE"`},
		{"/metrics", "walletlink_sessions_established_total 1"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), tt.want) {
				t.Errorf("body = %q, want to contain %q", rec.Body.String(), tt.want)
			}
		})
	}
}

func TestServer_StatusUnavailable(t *testing.T) {
	s := NewServer(ServerConfig{Gatherer: prometheus.NewRegistry()}, NewFeed("", 1), nil, nil)

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestServer_RateLimit(t *testing.T) {
	s, _, m := newTestServer(t, ServerConfig{RateLimit: 0.001, Burst: 2})

	codes := make([]int, 3)
	for i := range codes {
		rec := httptest.NewRecorder()
		s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		codes[i] = rec.Code
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Errorf("codes = %v, want [200 200 429]", codes)
	}
	if got := testutil.ToFloat64(m.HTTPRejected.WithLabelValues("rate_limited")); got != 1 {
		t.Errorf("HTTPRejected{rate_limited} = %v, want 1", got)
	}
}

func TestServer_StartStop(t *testing.T) {
	s, feed, _ := newTestServer(t, ServerConfig{Address: "127.0.0.1:0", MaxConnections: 4})

	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer s.Stop()

	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start")
	}

	resp, err := http.Get("http://" + s.Address().String() + "/onDisconnect/req-9")
	if err != nil {
		t.Fatalf("GET error = %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	select {
	case d := <-feed.Deliveries():
		if !strings.HasSuffix(d.URL, "/onDisconnect/req-9") {
			t.Errorf("URL = %s", d.URL)
		}
	case <-time.After(time.Second):
		t.Fatal("callback not delivered")
	}

	if err := s.Stop(); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
}

func TestServer_EventsWebsocket(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := events.NewBus(4)
	defer bus.Close()
	bus.Publish(events.Event{Kind: events.KindState, State: "IDLE"})

	s := NewServer(ServerConfig{Events: true, Gatherer: reg}, NewFeed("", 1), bus, nil)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(ts.URL, "http")+"/events", nil)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	var ev events.Event
	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read history: %v", err)
	}
	if ev.Kind != events.KindState || ev.State != "IDLE" {
		t.Errorf("history event = %+v", ev)
	}

	// Wait for the subscription before publishing.
	for bus.Subscribers() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	bus.Publish(events.Event{Kind: events.KindRequest, Method: "connect"})

	if err := wsjson.Read(ctx, conn, &ev); err != nil {
		t.Fatalf("read live event: %v", err)
	}
	if ev.Kind != events.KindRequest || ev.Method != "connect" {
		t.Errorf("live event = %+v", ev)
	}
}
