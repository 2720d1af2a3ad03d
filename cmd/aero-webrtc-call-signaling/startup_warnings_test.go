package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
)

type recordedLog struct {
	level slog.Level
	msg   string
	attrs map[string]any
}

type recordingHandler struct {
	mu      *sync.Mutex
	records *[]recordedLog
	attrs   []slog.Attr
	groups  []string
}

func newRecordingLogger() (*slog.Logger, func() []recordedLog) {
	mu := &sync.Mutex{}
	records := &[]recordedLog{}
	h := &recordingHandler{mu: mu, records: records}
	logger := slog.New(h)
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		out := make([]recordedLog, len(*records))
		copy(out, *records)
		return out
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{
		level: r.Level,
		msg:   r.Message,
		attrs: map[string]any{},
	}
	for _, a := range h.attrs {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		rec.attrs[h.key(a.Key)] = a.Value.Any()
		return true
	})

	h.mu.Lock()
	*h.records = append(*h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	nh := h.clone()
	nh.attrs = append(nh.attrs, attrs...)
	return nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := h.clone()
	nh.groups = append(nh.groups, name)
	return nh
}

func (h *recordingHandler) clone() *recordingHandler {
	cp := &recordingHandler{
		mu:      h.mu,
		records: h.records,
	}
	if len(h.attrs) > 0 {
		cp.attrs = append([]slog.Attr(nil), h.attrs...)
	}
	if len(h.groups) > 0 {
		cp.groups = append([]string(nil), h.groups...)
	}
	return cp
}

func (h *recordingHandler) key(k string) string {
	if len(h.groups) == 0 {
		return k
	}
	return strings.Join(h.groups, ".") + "." + k
}


func warningCodes(records []recordedLog) map[string]recordedLog {
	out := map[string]recordedLog{}
	for _, r := range records {
		if r.level != slog.LevelWarn {
			continue
		}
		if code, ok := r.attrs["warning_code"].(string); ok {
			out[code] = r
		}
	}
	return out
}

func TestStartupSecurityWarnings_UnlimitedRoomsInProd(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeProd})

	r, ok := warningCodes(records())["max_room_members_unlimited_in_prod"]
	if !ok {
		t.Fatalf("expected warning_code=max_room_members_unlimited_in_prod, got %#v", records())
	}
	if r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr = %#v, want %q", r.attrs["mode"], config.ModeProd)
	}
}

func TestStartupSecurityWarnings_DevDefaultsAreQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:       config.ModeDev,
		ICEServers: config.DefaultICEServers(),
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("unexpected warnings: %#v", got)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	cfg := config.Config{
		Mode:           config.ModeDev,
		AllowedOrigins: []string{"*"},
	}

	logStartupSecurityWarnings(logger, cfg)

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_StaticTURNCredentials(t *testing.T) {
	turn := webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"}

	logger, records := newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, ICEServers: []webrtc.ICEServer{turn}})
	if _, ok := warningCodes(records())["static_turn_credentials"]; !ok {
		t.Fatalf("expected warning_code=static_turn_credentials, got %#v", records())
	}

	logger, records = newRecordingLogger()
	logStartupSecurityWarnings(logger, config.Config{
		Mode:       config.ModeDev,
		ICEServers: []webrtc.ICEServer{turn},
		TURNREST:   config.TurnRESTConfig{SharedSecret: "s", TTLSeconds: 7 * 24 * 3600, UsernamePrefix: "aero"},
	})
	codes := warningCodes(records())
	if _, ok := codes["static_turn_credentials"]; ok {
		t.Fatalf("static TURN warning with TURN REST enabled: %#v", codes)
	}
	if _, ok := codes["turn_rest_ttl_large"]; !ok {
		t.Fatalf("expected warning_code=turn_rest_ttl_large, got %#v", codes)
	}
}

func TestStartupSecurityWarnings_LargeMessages(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{Mode: config.ModeDev, MaxSignalingMessageBytes: 4 << 20})

	r, ok := warningCodes(records())["max_signaling_message_bytes_large"]
	if !ok {
		t.Fatalf("expected warning_code=max_signaling_message_bytes_large, got %#v", records())
	}
	if r.attrs["max_signaling_message_bytes"] != int64(4<<20) {
		t.Fatalf("max_signaling_message_bytes attr = %#v", r.attrs["max_signaling_message_bytes"])
	}
}
