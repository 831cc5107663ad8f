package webrtcpeer

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/mailbox"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
)

var ErrTransportClosed = errors.New("webrtc transport closed")

type TransportConfig struct {
	// API is shared by every peer. nil uses a default pion API.
	API        *webrtc.API
	ICEServers []webrtc.ICEServer

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Transport is the session.Transport backed by pion. It owns a single worker
// goroutine on which every pion operation requested through a Peer runs, so
// callers never block on pion.
//
// The server side always creates the data channel and the offer; the remote
// side answers. Offers, answers and candidates travel as signaling.Message
// JSON.
type Transport struct {
	api        *webrtc.API
	iceServers []webrtc.ICEServer
	log        *slog.Logger
	metrics    *metrics.Metrics

	work      *mailbox.Queue[func()]
	done      chan struct{}
	closeOnce sync.Once

	mu     sync.Mutex
	peers  map[session.ID]*Peer
	closed bool
}

var _ session.Transport = (*Transport)(nil)

func NewTransport(cfg TransportConfig) *Transport {
	api := cfg.API
	if api == nil {
		api = webrtc.NewAPI()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	t := &Transport{
		api:        api,
		iceServers: cfg.ICEServers,
		log:        log,
		metrics:    cfg.Metrics,
		work:       mailbox.New[func()](),
		done:       make(chan struct{}),
		peers:      make(map[session.ID]*Peer),
	}
	go t.run()
	return t
}

func (t *Transport) run() {
	defer close(t.done)
	for {
		fn, ok := t.work.Dequeue()
		if !ok || fn == nil {
			return
		}
		fn()
	}
}

// do schedules fn on the worker. It reports false once the transport is
// closed.
func (t *Transport) do(fn func()) bool {
	return t.work.Enqueue(fn)
}

// CreatePeer creates a PeerConnection with a single data channel configured
// by opts. Negotiation starts asynchronously: the offer and local candidates
// are delivered to sink as TransportSignaling notifications.
func (t *Transport) CreatePeer(id session.ID, opts session.ChannelOptions, sink session.TransportSink) (session.Peer, error) {
	if sink == nil {
		return nil, errors.New("webrtcpeer: missing transport sink")
	}
	init, err := dataChannelInit(opts)
	if err != nil {
		return nil, err
	}
	label := opts.Label
	if label == "" {
		label = session.DefaultChannelLabel
	}

	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return nil, ErrTransportClosed
	}

	pc, err := t.api.NewPeerConnection(webrtc.Configuration{ICEServers: t.iceServers})
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	dc, err := pc.CreateDataChannel(label, init)
	if err != nil {
		_ = pc.Close()
		return nil, fmt.Errorf("create data channel: %w", err)
	}

	p := &Peer{
		t:    t,
		id:   id,
		pc:   pc,
		dc:   dc,
		sink: sink,
		log:  t.log.With("session_id", id),
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = pc.Close()
		return nil, ErrTransportClosed
	}
	t.peers[id] = p
	t.mu.Unlock()

	p.installHandlers()
	if !t.do(p.start) {
		p.Destroy()
		return nil, ErrTransportClosed
	}
	return p, nil
}

// Len returns the number of peers whose PeerConnection has not been closed
// yet.
func (t *Transport) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

func (t *Transport) forget(id session.ID) {
	t.mu.Lock()
	delete(t.peers, id)
	t.mu.Unlock()
}

// Close runs any work already queued, stops the worker and closes every peer
// that has not been destroyed.
func (t *Transport) Close() {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()

		t.work.Enqueue(nil)
		<-t.done
		t.work.Close()

		t.mu.Lock()
		peers := make([]*Peer, 0, len(t.peers))
		for _, p := range t.peers {
			peers = append(peers, p)
		}
		t.mu.Unlock()

		for _, p := range peers {
			p.destroyed.Store(true)
			p.closePeerConnection()
		}
	})
}

func dataChannelInit(opts session.ChannelOptions) (*webrtc.DataChannelInit, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	ordered := opts.Ordered
	init := &webrtc.DataChannelInit{Ordered: &ordered}
	if opts.MaxRetransmitTime != nil {
		ms := uint16(*opts.MaxRetransmitTime / time.Millisecond)
		init.MaxPacketLifeTime = &ms
	}
	if opts.MaxRetransmits != nil {
		n := *opts.MaxRetransmits
		init.MaxRetransmits = &n
	}
	return init, nil
}
