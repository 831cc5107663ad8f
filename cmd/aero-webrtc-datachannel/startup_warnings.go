package main

import (
	"log/slog"
	"slices"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
)

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if slices.Contains(cfg.AllowedOrigins, "*") {
		logger.Warn("startup security warning: AERO_DATACHANNEL_ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.MaxSessions <= 0 {
		logger.Warn("startup security warning: max sessions is unset/0 (unlimited) while --mode=prod",
			"warning_code", "max_sessions_unlimited_in_prod",
			"max_sessions", cfg.MaxSessions,
			"mode", cfg.Mode,
		)
	}

	if cfg.Mode == config.ModeProd && cfg.SessionConnectTimeout <= 0 {
		logger.Warn("startup security warning: session connect timeout is disabled while --mode=prod (half-open sessions are kept until signaling closes)",
			"warning_code", "session_connect_timeout_disabled_in_prod",
			"session_connect_timeout", cfg.SessionConnectTimeout,
			"mode", cfg.Mode,
		)
	} else if cfg.SessionConnectTimeout > 2*time.Minute {
		logger.Warn("startup security warning: session connect timeout is very large (increases half-open session resource exposure)",
			"warning_code", "session_connect_timeout_large",
			"session_connect_timeout", cfg.SessionConnectTimeout,
			"mode", cfg.Mode,
		)
	}

	if cfg.WebRTCSCTPMaxReceiveBufferBytes > 8<<20 { // 8MiB
		logger.Warn("startup security warning: WEBRTC_SCTP_MAX_RECEIVE_BUFFER_BYTES is very large (increases receive-side buffering/allocation risk)",
			"warning_code", "webrtc_sctp_max_receive_buffer_large",
			"webrtc_sctp_max_receive_buffer_bytes", cfg.WebRTCSCTPMaxReceiveBufferBytes,
			"mode", cfg.Mode,
		)
	}

	if cfg.MaxSignalingMessagesPerSecond <= 0 {
		logger.Warn("startup security warning: signaling message rate limit is disabled",
			"warning_code", "signaling_rate_limit_disabled",
			"max_signaling_messages_per_second", cfg.MaxSignalingMessagesPerSecond,
			"mode", cfg.Mode,
		)
	}

	if err := cfg.ICEConfigError(); err != nil {
		logger.Warn("ICE server configuration is invalid; sessions use host candidates only and /readyz reports not ready",
			"warning_code", "ice_config_invalid",
			"err", err,
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.ICEServers) == 0 {
		logger.Warn("no ICE servers configured while --mode=prod; clients behind NAT may fail to connect",
			"warning_code", "ice_servers_empty_in_prod",
			"mode", cfg.Mode,
		)
	}
}
