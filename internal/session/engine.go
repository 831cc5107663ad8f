package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/mailbox"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
)

type Config struct {
	Transport Transport
	Factory   channel.Factory
	Options   ChannelOptions

	// MaxSessions caps concurrently registered sessions. 0 means unlimited.
	MaxSessions int
	// ConnectTimeout removes sessions whose data transport has not opened in
	// time. 0 disables the timeout.
	ConnectTimeout time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now is used for session age in logs. Defaults to time.Now.
	Now func() time.Time
}

// Engine is the single consumer of session events and the only mutator of
// the Registry.
//
// Engine implements SignalingSink and TransportSink; those methods only
// enqueue and are safe to call from any goroutine. The engine takes ownership
// of the byte slices passed to them.
type Engine struct {
	transport      Transport
	factory        channel.Factory
	opts           ChannelOptions
	maxSessions    int
	connectTimeout time.Duration
	log            *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time

	queue    *mailbox.Queue[event]
	registry *Registry
	active   atomic.Int64

	running   atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

var (
	_ SignalingSink = (*Engine)(nil)
	_ TransportSink = (*Engine)(nil)
)

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Transport == nil {
		return nil, ErrMissingTransport
	}
	if cfg.Factory == nil {
		return nil, ErrMissingFactory
	}
	if err := cfg.Options.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSessions < 0 {
		return nil, errors.New("max sessions must be >= 0")
	}
	if cfg.ConnectTimeout < 0 {
		return nil, errors.New("connect timeout must be >= 0")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	m := cfg.Metrics
	if m == nil {
		m = metrics.New()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		transport:      cfg.Transport,
		factory:        cfg.Factory,
		opts:           cfg.Options,
		maxSessions:    cfg.MaxSessions,
		connectTimeout: cfg.ConnectTimeout,
		log:            log,
		metrics:        m,
		now:            now,
		queue:          mailbox.New[event](),
		registry:       NewRegistry(),
		done:           make(chan struct{}),
	}, nil
}

// ActiveSessions returns the number of registered sessions. Safe for
// concurrent use.
func (e *Engine) ActiveSessions() int { return int(e.active.Load()) }

// Done is closed after Run has torn down every session.
func (e *Engine) Done() <-chan struct{} { return e.done }

// Run processes events until ctx is cancelled or Close is called, then
// removes every remaining session. It may only be called once.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(e.done)

	stop := context.AfterFunc(ctx, e.queue.Close)
	defer stop()

	for {
		ev, ok := e.next()
		if !ok {
			break
		}
		e.process(ev)
	}

	e.shutdown()
	return ctx.Err()
}

// next takes the oldest queued event and publishes the remaining depth.
func (e *Engine) next() (event, bool) {
	ev, ok := e.queue.Dequeue()
	e.metrics.SetGauge(metrics.EventQueueDepth, int64(e.queue.Len()))
	return ev, ok
}

// Close stops Run. Pending events are discarded; sessions are still torn
// down through the normal removal path.
func (e *Engine) Close() {
	e.closeOnce.Do(e.queue.Close)
}

// Flush blocks until every event enqueued before the call has been processed.
func (e *Engine) Flush(ctx context.Context) error {
	done := make(chan struct{})
	if !e.enqueue(event{kind: evFlush, done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) SignalingOpened(id ID, conn SignalingConn) {
	if !e.enqueue(event{kind: evSignalingOpened, id: id, conn: conn}) && conn != nil {
		_ = conn.Close()
	}
}

func (e *Engine) SignalingMessage(id ID, msg []byte) {
	e.enqueue(event{kind: evSignalingMessage, id: id, data: msg})
}

func (e *Engine) SignalingClosed(id ID) {
	e.enqueue(event{kind: evSignalingClosed, id: id})
}

func (e *Engine) TransportOpened(id ID) {
	e.enqueue(event{kind: evTransportOpened, id: id})
}

func (e *Engine) TransportClosed(id ID) {
	e.enqueue(event{kind: evTransportClosed, id: id})
}

func (e *Engine) TransportSignaling(id ID, msg []byte) {
	e.enqueue(event{kind: evTransportSignaling, id: id, data: msg})
}

func (e *Engine) TransportData(id ID, msg []byte) {
	e.enqueue(event{kind: evTransportData, id: id, data: msg})
}

func (e *Engine) enqueue(ev event) bool {
	if e.queue.Enqueue(ev) {
		return true
	}
	e.metrics.Inc(metrics.EventsDropped)
	return false
}

func (e *Engine) process(ev event) {
	switch ev.kind {
	case evFlush:
		close(ev.done)
		return
	case evSignalingOpened:
		e.openSession(ev.id, ev.conn)
		return
	}

	sess, ok := e.registry.Get(ev.id)
	if !ok {
		e.metrics.Inc(metrics.StaleEvents)
		e.log.Debug("dropping event for unknown session", "session_id", ev.id, "event", ev.kind)
		return
	}

	switch ev.kind {
	case evSignalingMessage:
		e.metrics.Inc(metrics.SignalingMessagesIn)
		sess.peer.SendSignaling(ev.data)
	case evSignalingClosed:
		e.remove(sess, true, "signaling closed")
	case evTransportOpened:
		e.attachHandler(sess)
	case evTransportClosed:
		e.remove(sess, false, "transport closed")
	case evTransportSignaling:
		if err := sess.conn.Send(ev.data); err != nil {
			e.metrics.Inc(metrics.SignalingSendFailed)
			e.log.Warn("signaling send failed", "session_id", sess.id, "err", err)
			e.remove(sess, false, "signaling send failed")
			return
		}
		e.metrics.Inc(metrics.SignalingMessagesOut)
	case evTransportData:
		if sess.handler == nil {
			e.metrics.Inc(metrics.DataMessagesDropped)
			e.log.Debug("dropping data before handler attached", "session_id", sess.id)
			return
		}
		e.metrics.Inc(metrics.DataMessagesIn)
		h := sess.handler
		if !e.callHandler(sess, "OnMessage", func() { h.OnMessage(ev.data) }) {
			e.remove(sess, false, "handler panic")
		}
	case evSend:
		e.metrics.Inc(metrics.DataMessagesOut)
		sess.peer.SendData(ev.data)
	case evClose:
		e.remove(sess, false, "closed by application")
	case evConnectTimeout:
		if sess.handler != nil {
			return
		}
		e.metrics.Inc(metrics.SessionsConnectTimeout)
		e.remove(sess, false, "connect timeout")
	}
}

func (e *Engine) openSession(id ID, conn SignalingConn) {
	if conn == nil {
		return
	}
	if _, exists := e.registry.Get(id); exists {
		e.log.Warn("duplicate session id from signaling", "session_id", id)
		_ = conn.Close()
		return
	}
	if e.maxSessions > 0 && e.registry.Len() >= e.maxSessions {
		e.metrics.Inc(metrics.SessionsRejected)
		e.log.Warn("rejecting session", "session_id", id, "err", ErrTooManySessions)
		reject(conn, ErrTooManySessions.Error())
		return
	}

	sess := &Session{
		id:     id,
		state:  StateSignalingOpen,
		opened: e.now(),
		conn:   conn,
		facade: newFacade(e, id),
	}
	peer, err := e.transport.CreatePeer(id, e.opts, e)
	if err != nil {
		e.metrics.Inc(metrics.PeerCreateFailed)
		e.log.Warn("failed to create peer", "session_id", id, "err", err)
		reject(conn, "failed to create peer")
		return
	}
	sess.peer = peer
	e.registry.Insert(sess)
	e.active.Store(int64(e.registry.Len()))
	e.metrics.SetGauge(metrics.ActiveSessions, e.active.Load())
	e.metrics.Inc(metrics.SessionsOpened)

	if e.connectTimeout > 0 {
		sess.timer = time.AfterFunc(e.connectTimeout, func() {
			e.enqueue(event{kind: evConnectTimeout, id: id})
		})
	}
	e.log.Info("session opened", "session_id", id)
}

func (e *Engine) attachHandler(sess *Session) {
	if sess.handler != nil {
		return
	}
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	e.metrics.Inc(metrics.TransportOpened)

	var h channel.Handler
	dc := sess.facade
	if !e.callHandler(sess, "factory", func() { h = e.factory(dc) }) {
		e.remove(sess, false, "handler panic")
		return
	}
	if h == nil {
		h = channel.HandlerFuncs{}
	}
	sess.handler = h
	sess.state = StateActive
	e.log.Info("data channel open", "session_id", sess.id)
}

// remove tears down sess. signalingClosed reports whether the remote side
// already closed the signaling connection.
func (e *Engine) remove(sess *Session, signalingClosed bool, reason string) {
	if _, ok := e.registry.Remove(sess.id); !ok {
		return
	}
	sess.state = StateClosing
	sess.facade.closed.Store(true)
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}

	if h := sess.handler; h != nil {
		e.callHandler(sess, "OnClose", h.OnClose)
	}
	if !signalingClosed {
		if err := sess.conn.Close(); err != nil {
			e.log.Debug("signaling close failed", "session_id", sess.id, "err", err)
		}
	}
	sess.peer.Destroy()

	e.active.Store(int64(e.registry.Len()))
	e.metrics.SetGauge(metrics.ActiveSessions, e.active.Load())
	e.metrics.Inc(metrics.SessionsClosed)
	e.log.Info("session closed", "session_id", sess.id, "reason", reason, "age", e.now().Sub(sess.opened))
}

func (e *Engine) shutdown() {
	for _, id := range e.registry.IDs() {
		if sess, ok := e.registry.Get(id); ok {
			e.remove(sess, false, "shutdown")
		}
	}
}

// callHandler runs fn, recovering a panic from application code. It reports
// false if fn panicked.
func (e *Engine) callHandler(sess *Session, name string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.Inc(metrics.HandlerPanics)
			e.log.Error("application handler panicked", "session_id", sess.id, "callback", name, "panic", r)
			ok = false
		}
	}()
	fn()
	return true
}

// Rejecter is implemented by signaling connections that can report why a
// session was refused.
type Rejecter interface {
	Reject(reason string) error
}

func reject(conn SignalingConn, reason string) {
	if r, ok := conn.(Rejecter); ok {
		_ = r.Reject(reason)
		return
	}
	_ = conn.Close()
}
