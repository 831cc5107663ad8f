package metrics

import "sync"

// Event counter names.
const (
	SessionsOpened          = "sessions_opened"
	SessionsClosed          = "sessions_closed"
	SessionsRejected        = "sessions_rejected"
	SessionsConnectTimeout  = "sessions_connect_timeout"
	TransportOpened         = "transport_opened"
	PeerCreateFailed        = "peer_create_failed"
	SignalingConnsAccepted  = "signaling_conns_accepted"
	SignalingOriginRejected = "signaling_origin_rejected"
	SignalingTooLarge       = "signaling_message_too_large"
	SignalingIdleTimeout    = "signaling_idle_timeout"
	SignalingMessagesIn     = "signaling_messages_in"
	SignalingMessagesOut    = "signaling_messages_out"
	SignalingSendFailed     = "signaling_send_failed"
	SignalingRateLimited    = "signaling_rate_limited"
	SignalingInvalidMessage = "signaling_invalid_message"
	DataMessagesIn          = "data_messages_in"
	DataMessagesOut         = "data_messages_out"
	DataMessagesDropped     = "data_messages_dropped"
	DataSendFailed          = "data_send_failed"
	StaleEvents             = "stale_events"
	HandlerPanics           = "handler_panics"
	EventsDropped           = "events_dropped"
)

// Gauge names.
const (
	ActiveSessions  = "active_sessions"
	EventQueueDepth = "event_queue_depth"
)

// Metrics is a concurrency-safe registry of counters and gauges.
type Metrics struct {
	mu     sync.Mutex
	m      map[string]uint64
	gauges map[string]int64
}

func New() *Metrics {
	return &Metrics{
		m:      make(map[string]uint64),
		gauges: make(map[string]int64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// SetGauge records the current value of a gauge.
func (m *Metrics) SetGauge(name string, v int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.gauges == nil {
		m.gauges = make(map[string]int64)
	}
	m.gauges[name] = v
	m.mu.Unlock()
}

func (m *Metrics) Gauge(name string) int64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}

// GaugeSnapshot returns a copy of all gauges.
func (m *Metrics) GaugeSnapshot() map[string]int64 {
	out := make(map[string]int64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.gauges {
		out[k] = v
	}
	return out
}
