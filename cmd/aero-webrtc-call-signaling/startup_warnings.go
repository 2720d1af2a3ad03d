package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/turnrest"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	// The relay has no authentication; anyone who can reach /socket and knows
	// a room key can join it.
	if cfg.Mode == config.ModeProd && cfg.MaxRoomMembers == 0 {
		logger.Warn("startup security warning: "+config.EnvMaxRoomMembers+" is unset/0 (unlimited) while --mode=prod; unauthenticated peers can join any known room",
			"warning_code", "max_room_members_unlimited_in_prod",
			"max_room_members", cfg.MaxRoomMembers,
			"mode", cfg.Mode,
		)
	}

	if containsString(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: "+config.EnvAllowedOrigins+" contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.TURNREST.Enabled() && cfg.TURNREST.TTLSeconds > int64((24*time.Hour).Seconds()) {
		logger.Warn("startup security warning: TURN REST credential TTL is longer than 24h (leaked credentials stay valid for a long time)",
			"warning_code", "turn_rest_ttl_large",
			"turn_rest_ttl_seconds", cfg.TURNREST.TTLSeconds,
			"mode", cfg.Mode,
		)
	}

	if !cfg.TURNREST.Enabled() {
		for _, server := range cfg.ICEServers {
			if turnrest.HasTURNURL(server) {
				logger.Warn("startup security warning: static TURN credentials are handed to every browser; prefer "+config.EnvTURNRESTSharedSecret,
					"warning_code", "static_turn_credentials",
					"mode", cfg.Mode,
				)
				break
			}
		}
	}

	if cfg.MaxSignalingMessageBytes > 1<<20 { // 1MiB
		logger.Warn("startup security warning: MAX_SIGNALING_MESSAGE_BYTES is very large (SDP rarely exceeds a few KiB; increases per-message allocation risk)",
			"warning_code", "max_signaling_message_bytes_large",
			"max_signaling_message_bytes", cfg.MaxSignalingMessageBytes,
			"mode", cfg.Mode,
		)
	}
}

func containsString(xs []string, v string) bool {
	for _, s := range xs {
		if s == v {
			return true
		}
	}
	return false
}
