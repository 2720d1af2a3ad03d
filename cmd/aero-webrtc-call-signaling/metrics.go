package main

import (
	"net/http"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/signaling"
)

func metricsHandler(m *metrics.Metrics, reg *registry.Registry, sig *signaling.Server) http.Handler {
	return metrics.PrometheusHandler(m,
		metrics.Gauge{
			Name:  "aero_webrtc_call_signaling_connections",
			Help:  "Connection identities currently registered.",
			Value: func() float64 { return float64(reg.Stats().Connections) },
		},
		metrics.Gauge{
			Name:  "aero_webrtc_call_signaling_rooms",
			Help:  "Rooms with at least one member.",
			Value: func() float64 { return float64(reg.Stats().Rooms) },
		},
		metrics.Gauge{
			Name:  "aero_webrtc_call_signaling_websockets",
			Help:  "Open signaling WebSocket connections.",
			Value: func() float64 { return float64(sig.ConnectionCount()) },
		},
	)
}
