package main

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
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
	logger := slog.New(&recordingHandler{mu: mu, records: records})
	return logger, func() []recordedLog {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedLog(nil), *records...)
	}
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	rec := recordedLog{level: r.Level, msg: r.Message, attrs: map[string]any{}}
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
	nh := *h
	nh.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &nh
}

func (h *recordingHandler) WithGroup(name string) slog.Handler {
	nh := *h
	nh.groups = append(append([]string(nil), h.groups...), name)
	return &nh
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

func TestStartupSecurityWarnings_DevDefaultsAreQuiet(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                          config.ModeDev,
		MaxSignalingMessagesPerSecond: config.DefaultMaxSignalingMessagesPerSecond,
	})

	if got := warningCodes(records()); len(got) != 0 {
		t.Fatalf("warnings=%v, want none", got)
	}
}

func TestStartupSecurityWarnings_AllowedOriginsWildcard(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                          config.ModeDev,
		AllowedOrigins:                []string{"*"},
		MaxSignalingMessagesPerSecond: 1,
	})

	if _, ok := warningCodes(records())["allowed_origins_wildcard"]; !ok {
		t.Fatalf("expected warning_code=allowed_origins_wildcard, got %#v", records())
	}
}

func TestStartupSecurityWarnings_ProdWithoutLimits(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                          config.ModeProd,
		MaxSignalingMessagesPerSecond: 1,
	})

	codes := warningCodes(records())
	for _, want := range []string{
		"max_sessions_unlimited_in_prod",
		"session_connect_timeout_disabled_in_prod",
		"ice_servers_empty_in_prod",
	} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("missing warning_code=%s in %v", want, codes)
		}
	}
	if r := codes["max_sessions_unlimited_in_prod"]; r.attrs["mode"] != config.ModeProd {
		t.Fatalf("mode attr=%#v, want %q", r.attrs["mode"], config.ModeProd)
	}
}

func TestStartupSecurityWarnings_LargeLimits(t *testing.T) {
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, config.Config{
		Mode:                            config.ModeDev,
		SessionConnectTimeout:           5 * time.Minute,
		WebRTCSCTPMaxReceiveBufferBytes: 16 << 20,
	})

	codes := warningCodes(records())
	for _, want := range []string{
		"session_connect_timeout_large",
		"webrtc_sctp_max_receive_buffer_large",
		"signaling_rate_limit_disabled",
	} {
		if _, ok := codes[want]; !ok {
			t.Fatalf("missing warning_code=%s in %v", want, codes)
		}
	}
}

func TestStartupSecurityWarnings_InvalidICEConfig(t *testing.T) {
	t.Setenv("AERO_DATACHANNEL_ICE_SERVERS_JSON", "{not json")
	cfg, err := config.Load(nil)
	if err != nil {
		t.Fatalf("config.Load: %v", err)
	}
	logger, records := newRecordingLogger()

	logStartupSecurityWarnings(logger, cfg)

	codes := warningCodes(records())
	if _, ok := codes["ice_config_invalid"]; !ok {
		t.Fatalf("expected warning_code=ice_config_invalid, got %v", codes)
	}
	if _, ok := codes["ice_servers_empty_in_prod"]; ok {
		t.Fatalf("ice_servers_empty_in_prod should not accompany an invalid ICE config")
	}
}
