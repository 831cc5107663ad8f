package signaling

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
)

type sinkEvent struct {
	kind string
	id   session.ID
	data []byte
}

type recordingSink struct {
	mu     sync.Mutex
	events []sinkEvent
	conns  map[session.ID]session.SignalingConn
	notify chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{conns: make(map[session.ID]session.SignalingConn), notify: make(chan struct{}, 128)}
}

func (s *recordingSink) add(ev sinkEvent) {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *recordingSink) SignalingOpened(id session.ID, conn session.SignalingConn) {
	s.mu.Lock()
	s.conns[id] = conn
	s.mu.Unlock()
	s.add(sinkEvent{kind: "opened", id: id})
}

func (s *recordingSink) SignalingMessage(id session.ID, msg []byte) {
	s.add(sinkEvent{kind: "message", id: id, data: msg})
}

func (s *recordingSink) SignalingClosed(id session.ID) {
	s.add(sinkEvent{kind: "closed", id: id})
}

func (s *recordingSink) Conn(id session.ID) session.SignalingConn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[id]
}

func (s *recordingSink) waitFor(t *testing.T, n int) []sinkEvent {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		s.mu.Lock()
		if len(s.events) >= n {
			out := append([]sinkEvent(nil), s.events...)
			s.mu.Unlock()
			return out
		}
		s.mu.Unlock()
		select {
		case <-s.notify:
		case <-deadline:
			s.mu.Lock()
			got := len(s.events)
			s.mu.Unlock()
			t.Fatalf("timed out waiting for %d sink events (have %d)", n, got)
		}
	}
}

func startServer(t *testing.T, cfg Config) (*Server, *recordingSink, string) {
	t.Helper()
	sink := newRecordingSink()
	cfg.Sink = sink
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.New()
	}
	srv, err := NewServer(cfg)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.Close)
	return srv, sink, "ws" + strings.TrimPrefix(ts.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_AssignsSequentialIDsFromZero(t *testing.T) {
	_, sink, url := startServer(t, Config{})

	dial(t, url)
	sink.waitFor(t, 1)
	dial(t, url)
	events := sink.waitFor(t, 2)

	if events[0].kind != "opened" || events[0].id != 0 {
		t.Fatalf("first event=%+v, want opened id 0", events[0])
	}
	if events[1].kind != "opened" || events[1].id != 1 {
		t.Fatalf("second event=%+v, want opened id 1", events[1])
	}
}

func TestServer_ForwardsMessagesVerbatimThenClosed(t *testing.T) {
	_, sink, url := startServer(t, Config{})
	c := dial(t, url)

	if err := c.WriteMessage(websocket.TextMessage, []byte(`{"type":"not-json-validated"`)); err != nil {
		t.Fatalf("write text: %v", err)
	}
	bin := []byte{0x00, 0x01, 0xfe}
	if err := c.WriteMessage(websocket.BinaryMessage, bin); err != nil {
		t.Fatalf("write binary: %v", err)
	}
	_ = c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))

	events := sink.waitFor(t, 4)
	if events[0].kind != "opened" {
		t.Fatalf("events[0]=%+v, want opened", events[0])
	}
	if events[1].kind != "message" || string(events[1].data) != `{"type":"not-json-validated"` {
		t.Fatalf("events[1]=%+v", events[1])
	}
	if events[2].kind != "message" || !bytes.Equal(events[2].data, bin) {
		t.Fatalf("events[2]=%+v", events[2])
	}
	if events[3].kind != "closed" || events[3].id != events[0].id {
		t.Fatalf("events[3]=%+v, want closed", events[3])
	}
}

func TestConn_SendAndClose(t *testing.T) {
	_, sink, url := startServer(t, Config{})
	c := dial(t, url)
	sink.waitFor(t, 1)
	conn := sink.Conn(0)

	if err := conn.Send([]byte("hello")); err != nil {
		t.Fatalf("Send text: %v", err)
	}
	if err := conn.Send([]byte{0xff, 0x00}); err != nil {
		t.Fatalf("Send binary: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, msg, err := c.ReadMessage()
	if err != nil || mt != websocket.TextMessage || string(msg) != "hello" {
		t.Fatalf("read text: mt=%d msg=%q err=%v", mt, msg, err)
	}
	mt, msg, err = c.ReadMessage()
	if err != nil || mt != websocket.BinaryMessage || !bytes.Equal(msg, []byte{0xff, 0x00}) {
		t.Fatalf("read binary: mt=%d msg=%v err=%v", mt, msg, err)
	}

	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	_ = conn.Close()
	if err := conn.Send([]byte("late")); err != ErrConnClosed {
		t.Fatalf("Send after Close err=%v, want ErrConnClosed", err)
	}

	_, _, err = c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Fatalf("expected normal close, got %v", err)
	}
	events := sink.waitFor(t, 2)
	if events[1].kind != "closed" {
		t.Fatalf("events[1]=%+v, want closed", events[1])
	}
}

func TestConn_RejectSendsErrorThenPolicyClose(t *testing.T) {
	_, sink, url := startServer(t, Config{})
	c := dial(t, url)
	sink.waitFor(t, 1)
	conn := sink.Conn(0).(*Conn)

	if err := conn.Reject("too many sessions"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	mt, data, err := c.ReadMessage()
	if err != nil || mt != websocket.TextMessage {
		t.Fatalf("read error message: mt=%d err=%v", mt, err)
	}
	msg, err := ParseMessage(data)
	if err != nil {
		t.Fatalf("ParseMessage(%q): %v", data, err)
	}
	if msg.Type != MessageTypeError || msg.Code != ErrorCodeSessionRejected || msg.Message != "too many sessions" {
		t.Fatalf("msg=%+v, want session_rejected error", msg)
	}
	_, _, err = c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("err=%v, want policy-violation close", err)
	}
}

func TestServer_OversizedMessageClosesConnection(t *testing.T) {
	m := metrics.New()
	_, sink, url := startServer(t, Config{MaxMessageBytes: 16, Metrics: m})
	c := dial(t, url)

	if err := c.WriteMessage(websocket.TextMessage, bytes.Repeat([]byte("x"), 64)); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseMessageTooBig) {
		t.Fatalf("expected message-too-big close, got %v", err)
	}
	events := sink.waitFor(t, 2)
	for _, ev := range events {
		if ev.kind == "message" {
			t.Fatalf("oversized message forwarded: %+v", ev)
		}
	}
	if got := m.Get(metrics.SignalingTooLarge); got != 1 {
		t.Fatalf("too_large=%d, want 1", got)
	}
}

func TestServer_RateLimitClosesConnection(t *testing.T) {
	m := metrics.New()
	_, sink, url := startServer(t, Config{MaxMessagesPerSecond: 2, Metrics: m})
	c := dial(t, url)

	for i := 0; i < 5; i++ {
		_ = c.WriteMessage(websocket.TextMessage, []byte("m"))
	}
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy-violation close, got %v", err)
	}

	events := sink.waitFor(t, 4)
	messages := 0
	for _, ev := range events {
		if ev.kind == "message" {
			messages++
		}
	}
	if messages != 2 {
		t.Fatalf("forwarded %d messages, want 2", messages)
	}
	if got := m.Get(metrics.SignalingRateLimited); got != 1 {
		t.Fatalf("rate_limited=%d, want 1", got)
	}
}

func TestServer_IdleTimeoutClosesWithoutPong(t *testing.T) {
	_, sink, url := startServer(t, Config{IdleTimeout: 300 * time.Millisecond, PingInterval: 50 * time.Millisecond})
	c := dial(t, url)

	pingSeen := make(chan struct{}, 1)
	c.SetPingHandler(func(string) error {
		select {
		case pingSeen <- struct{}{}:
		default:
		}
		// Do not answer with a pong.
		return nil
	})

	errCh := make(chan error, 1)
	go func() {
		_, _, err := c.ReadMessage()
		errCh <- err
	}()

	select {
	case <-pingSeen:
	case <-time.After(2 * time.Second):
		t.Fatalf("no ping received")
	}
	select {
	case err := <-errCh:
		if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
			t.Fatalf("expected idle-timeout close, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("connection not closed after idle timeout")
	}
	events := sink.waitFor(t, 2)
	if events[1].kind != "closed" {
		t.Fatalf("events[1]=%+v, want closed", events[1])
	}
}

func TestServer_PongKeepsConnectionAlive(t *testing.T) {
	_, sink, url := startServer(t, Config{IdleTimeout: 200 * time.Millisecond, PingInterval: 40 * time.Millisecond})
	c := dial(t, url)

	// The default ping handler answers with a pong; ReadMessage must be
	// running for control frames to be processed.
	go func() {
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()
	time.Sleep(600 * time.Millisecond)

	if err := c.WriteMessage(websocket.TextMessage, []byte("still here")); err != nil {
		t.Fatalf("write after idle period: %v", err)
	}
	events := sink.waitFor(t, 2)
	if events[1].kind != "message" || string(events[1].data) != "still here" {
		t.Fatalf("events[1]=%+v, want message", events[1])
	}
}

func TestServer_OriginPolicy(t *testing.T) {
	m := metrics.New()
	_, _, url := startServer(t, Config{AllowedOrigins: []string{"https://app.example"}, Metrics: m})

	h := http.Header{}
	h.Set("Origin", "https://evil.example")
	_, resp, err := websocket.DefaultDialer.Dial(url, h)
	if err == nil {
		t.Fatalf("expected dial with disallowed origin to fail")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("resp=%v, want 403", resp)
	}
	if got := m.Get(metrics.SignalingOriginRejected); got != 1 {
		t.Fatalf("origin_rejected=%d, want 1", got)
	}

	h.Set("Origin", "https://app.example")
	c, _, err := websocket.DefaultDialer.Dial(url, h)
	if err != nil {
		t.Fatalf("dial with allowed origin: %v", err)
	}
	_ = c.Close()
}

func TestServer_CloseClosesConnections(t *testing.T) {
	srv, sink, url := startServer(t, Config{})
	c := dial(t, url)
	sink.waitFor(t, 1)

	srv.Close()
	_ = c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err := c.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected going-away close, got %v", err)
	}
	if srv.Len() != 0 {
		t.Fatalf("Len=%d after Close, want 0", srv.Len())
	}

	c2, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = c2.SetReadDeadline(time.Now().Add(5 * time.Second))
		if _, _, err := c2.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
			t.Fatalf("expected going-away close for late connection, got %v", err)
		}
		_ = c2.Close()
	}
}

func TestNewServer_RequiresSink(t *testing.T) {
	if _, err := NewServer(Config{}); err != ErrMissingSink {
		t.Fatalf("err=%v, want ErrMissingSink", err)
	}
}
