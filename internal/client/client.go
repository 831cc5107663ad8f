// Package client is the single-session counterpart of the server: it dials a
// signaling WebSocket, answers the server's offer and hands the resulting
// data channel to an application Factory. There is no session registry.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/mailbox"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/webrtcpeer"
)

const (
	DefaultPath = "/"
	wsWriteWait = 2 * time.Second
)

type Config struct {
	Server string
	Port   int
	// Path of the signaling endpoint. Defaults to DefaultPath.
	Path string

	ICEServers []webrtc.ICEServer
	// API builds the PeerConnection. Defaults to a pion API logging to Logger.
	API *webrtc.API

	Logger *slog.Logger
	Dialer *websocket.Dialer
}

func (c Config) url() (string, error) {
	if c.Server == "" {
		return "", errors.New("missing server")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return "", fmt.Errorf("invalid port %d", c.Port)
	}
	path := c.Path
	if path == "" {
		path = DefaultPath
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Server, strconv.Itoa(c.Port)),
		Path:   path,
	}
	return u.String(), nil
}

// Session is one client connection. It ends when the data channel closes,
// the server goes away, Close is called or the Connect context is done.
type Session struct {
	cfg     Config
	factory channel.Factory
	onError func(string)
	log     *slog.Logger

	errOnce sync.Once
	closed  atomic.Bool
	done    chan struct{}

	writeMu sync.Mutex
	ws      *websocket.Conn

	mu            sync.Mutex
	pc            *webrtc.PeerConnection
	dc            *webrtc.DataChannel
	answerSent    bool
	localCands    []webrtc.ICECandidateInit
	remoteDescSet bool
	remoteCands   []webrtc.ICECandidateInit

	// Application callbacks run one at a time on the dispatch goroutine.
	callbacks *mailbox.Queue[func()]
	handler   channel.Handler
	opened    atomic.Bool
}

// Connect starts a session in the background and returns immediately.
//
// factory is called once, when the server's data channel opens. onError (which
// may be nil) receives a human-readable message at most once, for failures
// before or during setup. Cancelling ctx closes the session.
func Connect(ctx context.Context, cfg Config, factory channel.Factory, onError func(string)) *Session {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s := &Session{
		cfg:       cfg,
		factory:   factory,
		onError:   onError,
		log:       log,
		done:      make(chan struct{}),
		callbacks: mailbox.New[func()](),
	}
	go s.dispatch()
	go s.run(ctx)
	return s
}

func (s *Session) dispatch() {
	defer close(s.done)
	defer s.callbacks.Close()
	for {
		fn, ok := s.callbacks.Dequeue()
		if !ok || fn == nil {
			return
		}
		fn()
	}
}

// Done is closed once the session has been torn down.
func (s *Session) Done() <-chan struct{} { return s.done }

// Opened reports whether the data channel has been handed to the factory.
func (s *Session) Opened() bool {
	return s.opened.Load()
}

func (s *Session) run(ctx context.Context) {
	if s.factory == nil {
		s.fail("missing session factory")
		return
	}
	target, err := s.cfg.url()
	if err != nil {
		s.fail(err.Error())
		return
	}

	stop := context.AfterFunc(ctx, func() {
		if !s.Opened() {
			s.fail(fmt.Sprintf("connect cancelled: %v", ctx.Err()))
			return
		}
		_ = s.Close()
	})
	defer stop()

	dialer := s.cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	ws, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		s.fail(fmt.Sprintf("dial %s: %v", target, err))
		return
	}
	s.writeMu.Lock()
	s.ws = ws
	s.writeMu.Unlock()
	if s.closed.Load() {
		_ = ws.Close()
		return
	}

	api := s.cfg.API
	if api == nil {
		se := webrtc.SettingEngine{LoggerFactory: webrtcpeer.LoggerFactory{Logger: s.log}}
		api = webrtc.NewAPI(webrtc.WithSettingEngine(se))
	}
	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: s.cfg.ICEServers})
	if err != nil {
		s.fail(fmt.Sprintf("create peer connection: %v", err))
		return
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	if s.closed.Load() {
		_ = pc.Close()
		return
	}
	s.installHandlers(pc)

	s.readLoop(ws)
}

func (s *Session) installHandlers(pc *webrtc.PeerConnection) {
	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		s.mu.Lock()
		if !s.answerSent {
			s.localCands = append(s.localCands, init)
			s.mu.Unlock()
			return
		}
		s.mu.Unlock()
		if err := s.write(signaling.CandidateMessage(init)); err != nil {
			s.log.Debug("failed to send local candidate", "err", err)
		}
	})
	pc.OnDataChannel(s.attach)
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		s.log.Debug("peer connection state changed", "state", state.String())
		if state == webrtc.PeerConnectionStateFailed {
			if !s.Opened() {
				s.fail("peer connection failed")
				return
			}
			_ = s.Close()
		}
	})
}

func (s *Session) readLoop(ws *websocket.Conn) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !s.Opened() && !s.closed.Load() {
				s.fail(fmt.Sprintf("signaling closed before data channel opened: %v", err))
				return
			}
			_ = s.Close()
			return
		}
		msg, err := signaling.ParseMessage(data)
		if err != nil {
			s.log.Warn("dropping malformed signaling message", "err", err)
			continue
		}
		if !s.handleSignaling(msg) {
			return
		}
	}
}

func (s *Session) handleSignaling(msg signaling.Message) bool {
	switch msg.Type {
	case signaling.MessageTypeOffer:
		if err := s.answer(msg.SDP); err != nil {
			s.fail(err.Error())
			return false
		}
	case signaling.MessageTypeCandidate:
		if msg.Candidate.Candidate == "" {
			return true
		}
		init := msg.Candidate.ToPion()
		s.mu.Lock()
		if !s.remoteDescSet {
			s.remoteCands = append(s.remoteCands, init)
			s.mu.Unlock()
			return true
		}
		pc := s.pc
		s.mu.Unlock()
		if err := pc.AddICECandidate(init); err != nil {
			s.log.Warn("dropping remote candidate", "err", err)
		}
	case signaling.MessageTypeError:
		s.fail(fmt.Sprintf("server error %s: %s", msg.Code, msg.Message))
		return false
	case signaling.MessageTypeClose:
		if !s.Opened() {
			s.fail("server closed the session")
			return false
		}
		_ = s.Close()
		return false
	default:
		s.log.Warn("ignoring unexpected signaling message", "type", msg.Type)
	}
	return true
}

func (s *Session) answer(sdp *signaling.SDP) error {
	offer, err := sdp.ToPion()
	if err != nil {
		return fmt.Errorf("offer: %w", err)
	}
	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()

	if err := pc.SetRemoteDescription(offer); err != nil {
		return fmt.Errorf("set remote description: %w", err)
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("create answer: %w", err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	local := pc.LocalDescription()
	if local == nil {
		return errors.New("set local description: missing local description")
	}
	if err := s.write(signaling.AnswerMessage(*local)); err != nil {
		return fmt.Errorf("send answer: %w", err)
	}

	s.mu.Lock()
	s.answerSent = true
	s.remoteDescSet = true
	localCands := s.localCands
	remoteCands := s.remoteCands
	s.localCands = nil
	s.remoteCands = nil
	s.mu.Unlock()

	for _, c := range localCands {
		_ = s.write(signaling.CandidateMessage(c))
	}
	for _, c := range remoteCands {
		if err := pc.AddICECandidate(c); err != nil {
			s.log.Warn("dropping remote candidate", "err", err)
		}
	}
	return nil
}

func (s *Session) attach(dc *webrtc.DataChannel) {
	s.mu.Lock()
	if s.dc != nil {
		s.mu.Unlock()
		s.log.Warn("ignoring additional data channel", "label", dc.Label())
		return
	}
	s.dc = dc
	s.mu.Unlock()

	dc.OnOpen(func() {
		s.callbacks.Enqueue(func() { s.ensureHandler() })
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		data := append([]byte(nil), msg.Data...)
		s.callbacks.Enqueue(func() {
			if h := s.ensureHandler(); h != nil {
				h.OnMessage(data)
			}
		})
	})
	dc.OnClose(func() {
		_ = s.Close()
	})
	if dc.ReadyState() == webrtc.DataChannelStateOpen {
		s.callbacks.Enqueue(func() { s.ensureHandler() })
	}
}

// ensureHandler calls the factory the first time the channel is seen open.
// Dispatch goroutine only.
func (s *Session) ensureHandler() channel.Handler {
	if s.closed.Load() {
		return nil
	}
	if s.handler == nil {
		s.handler = s.factory(&dataChannel{s: s})
		s.opened.Store(true)
		s.log.Debug("data channel open")
	}
	return s.handler
}

func (s *Session) write(msg signaling.Message) error {
	data, err := msg.Marshal()
	if err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.ws == nil {
		return errors.New("signaling not connected")
	}
	_ = s.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *Session) send(msg []byte) error {
	if s.closed.Load() {
		return channel.ErrClosed
	}
	s.mu.Lock()
	dc := s.dc
	s.mu.Unlock()
	if dc == nil {
		return channel.ErrClosed
	}
	return dc.Send(msg)
}

func (s *Session) fail(msg string) {
	s.errOnce.Do(func() {
		s.log.Warn("client session failed", "err", msg)
		if s.onError != nil {
			s.onError(msg)
		}
	})
	_ = s.Close()
}

// Close tears the session down. The handler, if any, gets OnClose exactly
// once. Safe to call repeatedly and from any goroutine.
func (s *Session) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	// Late failures stay silent.
	s.errOnce.Do(func() {})

	s.writeMu.Lock()
	ws := s.ws
	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		_ = ws.Close()
	}
	s.writeMu.Unlock()

	s.mu.Lock()
	pc := s.pc
	s.mu.Unlock()
	if pc != nil {
		_ = pc.Close()
	}

	s.callbacks.Enqueue(func() {
		if s.handler != nil {
			s.handler.OnClose()
		}
	})
	s.callbacks.Enqueue(nil)
	return nil
}

type dataChannel struct {
	s *Session
}

func (d *dataChannel) Send(msg []byte) error { return d.s.send(msg) }

func (d *dataChannel) Close() error { return d.s.Close() }
