package main

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/signaling"
)

func TestMetricsHandler_ExposesCountersAndGauges(t *testing.T) {
	m := metrics.New()
	reg := registry.New()
	relay := room.New(reg, room.Config{Metrics: m})
	sig := signaling.NewServer(signaling.Config{Relay: relay, Metrics: m})

	a, b := relay.Connect(), relay.Connect()
	if _, err := relay.Join(a, "abc"); err != nil {
		t.Fatalf("join: %v", err)
	}
	if _, err := relay.Join(b, "abc"); err != nil {
		t.Fatalf("join: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	metricsHandler(m, reg, sig).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE aero_webrtc_call_signaling_events_total counter",
		`aero_webrtc_call_signaling_events_total{event="connections_opened"} 2`,
		`aero_webrtc_call_signaling_events_total{event="room_joins"} 2`,
		`aero_webrtc_call_signaling_events_total{event="peer_notifications"} 1`,
		"aero_webrtc_call_signaling_connections 2",
		"aero_webrtc_call_signaling_rooms 1",
		"aero_webrtc_call_signaling_websockets 0",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}
