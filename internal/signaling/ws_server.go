package signaling

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/origin"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
)

var ErrMissingSink = errors.New("signaling: missing sink")

const (
	DefaultMaxMessageBytes int64 = 64 * 1024
)

type Config struct {
	// Sink receives the lifecycle and messages of every accepted connection.
	Sink session.SignalingSink

	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// AllowedOrigins restricts browser Origin headers. Empty means same-host
	// only; "*" allows any origin. Requests without an Origin header are
	// always accepted.
	AllowedOrigins []string

	// MaxMessageBytes bounds inbound message size. 0 uses
	// DefaultMaxMessageBytes.
	MaxMessageBytes int64
	// MaxMessagesPerSecond bounds the inbound message rate per connection.
	// 0 disables rate limiting.
	MaxMessagesPerSecond int

	// IdleTimeout closes connections that send nothing (including pongs) for
	// this long. 0 disables keepalive.
	IdleTimeout time.Duration
	// PingInterval is how often the server pings when IdleTimeout is set.
	PingInterval time.Duration

	Clock ratelimit.Clock
}

// Server accepts signaling WebSockets. Each accepted connection gets the next
// session id, starting at 0, and a dedicated receive loop.
type Server struct {
	cfg      Config
	log      *slog.Logger
	origins  origin.Policy
	upgrader websocket.Upgrader

	nextID atomic.Uint64

	mu     sync.Mutex
	conns  map[session.ID]*Conn
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) (*Server, error) {
	if cfg.Sink == nil {
		return nil, ErrMissingSink
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = DefaultMaxMessageBytes
	}
	if cfg.IdleTimeout > 0 && (cfg.PingInterval <= 0 || cfg.PingInterval >= cfg.IdleTimeout) {
		cfg.PingInterval = cfg.IdleTimeout / 2
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Server{
		cfg:     cfg,
		log:     log,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		conns:   make(map[session.ID]*Conn),
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: s.checkOrigin}
	return s, nil
}

func (s *Server) checkOrigin(r *http.Request) bool {
	_, ok := s.origins.Check(r)
	return ok
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !s.checkOrigin(r) {
		s.cfg.Metrics.Inc(metrics.SignalingOriginRejected)
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	id := session.ID(s.nextID.Add(1) - 1)
	c := newConn(id, ws)
	if !s.track(c) {
		_ = c.CloseWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	defer s.untrack(c)
	s.cfg.Metrics.Inc(metrics.SignalingConnsAccepted)

	log := s.log.With("session_id", id, "remote_addr", r.RemoteAddr)
	log.Debug("signaling connection accepted")

	s.cfg.Sink.SignalingOpened(id, c)
	defer s.cfg.Sink.SignalingClosed(id)

	s.readLoop(c, log)
}

func (s *Server) readLoop(c *Conn, log *slog.Logger) {
	defer c.release()

	c.ws.SetReadLimit(s.cfg.MaxMessageBytes)

	var limiter *ratelimit.TokenBucket
	if n := int64(s.cfg.MaxMessagesPerSecond); n > 0 {
		limiter = ratelimit.NewTokenBucket(s.cfg.Clock, n, n)
	}

	if s.cfg.IdleTimeout > 0 {
		extend := func() { _ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout)) }
		extend()
		c.ws.SetPongHandler(func(string) error {
			extend()
			return nil
		})
		stop := make(chan struct{})
		defer close(stop)
		go s.pingLoop(c, stop)
	}

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			switch {
			case errors.Is(err, websocket.ErrReadLimit):
				s.cfg.Metrics.Inc(metrics.SignalingTooLarge)
				log.Warn("signaling message too large", "limit", s.cfg.MaxMessageBytes)
				_ = c.CloseWith(websocket.CloseMessageTooBig, "message too large")
			case isTimeout(err):
				s.cfg.Metrics.Inc(metrics.SignalingIdleTimeout)
				log.Info("signaling connection idle timeout")
				_ = c.CloseWith(websocket.ClosePolicyViolation, "idle timeout")
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				log.Debug("signaling connection closed by peer")
			default:
				log.Debug("signaling read failed", "err", err)
			}
			return
		}
		if s.cfg.IdleTimeout > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(s.cfg.IdleTimeout))
		}
		// Rate limit after reading so the close frame is not lost behind
		// unread bytes.
		if limiter != nil && !limiter.Allow(1) {
			s.cfg.Metrics.Inc(metrics.SignalingRateLimited)
			log.Warn("signaling rate limit exceeded", "limit", s.cfg.MaxMessagesPerSecond)
			_ = c.CloseWith(websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		s.cfg.Sink.SignalingMessage(c.id, data)
	}
}

func (s *Server) pingLoop(c *Conn, stop <-chan struct{}) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			if err := c.ping(); err != nil {
				return
			}
		}
	}
}

func (s *Server) track(c *Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[c.id] = c
	s.wg.Add(1)
	return true
}

func (s *Server) untrack(c *Conn) {
	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.wg.Done()
}

// Len returns the number of open signaling connections.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close rejects new connections, closes every open one and waits for their
// receive loops to exit.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		_ = c.CloseWith(websocket.CloseGoingAway, "server shutting down")
	}
	s.wg.Wait()
}
