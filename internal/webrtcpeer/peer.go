package webrtcpeer

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/signaling"
)

// Peer is the session.Peer for one PeerConnection. Its exported methods only
// schedule work on the transport's worker goroutine.
type Peer struct {
	t    *Transport
	id   session.ID
	pc   *webrtc.PeerConnection
	dc   *webrtc.DataChannel
	sink session.TransportSink
	log  *slog.Logger

	destroyed atomic.Bool
	openOnce  sync.Once
	closeOnce sync.Once

	// Owned by the worker goroutine.
	offerSent     bool
	localCands    []webrtc.ICECandidateInit
	remoteDescSet bool
	remoteCands   []webrtc.ICECandidateInit
}

var _ session.Peer = (*Peer)(nil)

// SendSignaling applies a signaling message (answer, offer, candidate, close
// or error) received from the remote side.
func (p *Peer) SendSignaling(msg []byte) {
	p.t.do(func() { p.handleSignaling(msg) })
}

// SendData sends msg as a binary data channel message.
func (p *Peer) SendData(msg []byte) {
	p.t.do(func() { p.sendData(msg) })
}

// Destroy closes the PeerConnection. Notifications stop immediately.
func (p *Peer) Destroy() {
	if p.destroyed.Swap(true) {
		return
	}
	if !p.t.do(p.closePeerConnection) {
		p.closePeerConnection()
	}
}

func (p *Peer) installHandlers() {
	p.dc.OnOpen(p.notifyOpened)
	p.dc.OnClose(func() {
		p.notifyClosed("data channel closed")
	})
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		if p.destroyed.Load() {
			return
		}
		// pion runs OnOpen on its own goroutine, so a message can arrive
		// first. Opened must still reach the engine ahead of the data.
		p.notifyOpened()
		// Copy because pion reuses internal buffers.
		p.sink.TransportData(p.id, append([]byte(nil), msg.Data...))
	})

	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		p.t.do(func() { p.localCandidate(init) })
	})
	p.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		p.log.Debug("peer connection state changed", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			p.notifyClosed("peer connection " + state.String())
		}
	})
}

func (p *Peer) notifyOpened() {
	p.openOnce.Do(func() {
		if p.destroyed.Load() {
			return
		}
		p.log.Debug("data channel open", "label", p.dc.Label())
		p.sink.TransportOpened(p.id)
	})
}

func (p *Peer) start() {
	if p.destroyed.Load() {
		return
	}
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		p.fail("create offer", err)
		return
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		p.fail("set local description", err)
		return
	}
	local := p.pc.LocalDescription()
	if local == nil {
		p.fail("set local description", errors.New("missing local description"))
		return
	}
	if !p.emit(signaling.OfferMessage(*local)) {
		return
	}
	p.offerSent = true

	buffered := p.localCands
	p.localCands = nil
	for _, c := range buffered {
		p.emit(signaling.CandidateMessage(c))
	}
}

func (p *Peer) localCandidate(init webrtc.ICECandidateInit) {
	if p.destroyed.Load() {
		return
	}
	if !p.offerSent {
		p.localCands = append(p.localCands, init)
		return
	}
	p.emit(signaling.CandidateMessage(init))
}

func (p *Peer) handleSignaling(data []byte) {
	if p.destroyed.Load() {
		return
	}
	msg, err := signaling.ParseMessage(data)
	if err != nil {
		p.t.metrics.Inc(metrics.SignalingInvalidMessage)
		p.log.Warn("dropping malformed signaling message", "err", err, "bytes", len(data))
		return
	}

	switch msg.Type {
	case signaling.MessageTypeAnswer:
		desc, err := msg.SDP.ToPion()
		if err != nil {
			p.t.metrics.Inc(metrics.SignalingInvalidMessage)
			p.log.Warn("dropping answer", "err", err)
			return
		}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			p.log.Warn("failed to apply remote answer", "err", err)
			return
		}
		p.remoteDescSet = true
		p.flushRemoteCandidates()
	case signaling.MessageTypeOffer:
		// Renegotiation initiated by the remote side.
		desc, err := msg.SDP.ToPion()
		if err != nil {
			p.t.metrics.Inc(metrics.SignalingInvalidMessage)
			p.log.Warn("dropping offer", "err", err)
			return
		}
		if err := p.pc.SetRemoteDescription(desc); err != nil {
			p.log.Warn("failed to apply remote offer", "err", err)
			return
		}
		p.remoteDescSet = true
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			p.log.Warn("failed to create answer", "err", err)
			return
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			p.log.Warn("failed to set local answer", "err", err)
			return
		}
		if local := p.pc.LocalDescription(); local != nil {
			p.emit(signaling.AnswerMessage(*local))
		}
		p.flushRemoteCandidates()
	case signaling.MessageTypeCandidate:
		if msg.Candidate.Candidate == "" {
			// End of candidates.
			return
		}
		init := msg.Candidate.ToPion()
		if !p.remoteDescSet {
			p.remoteCands = append(p.remoteCands, init)
			return
		}
		p.addRemoteCandidate(init)
	case signaling.MessageTypeClose:
		p.notifyClosed("remote sent close")
	case signaling.MessageTypeError:
		p.log.Warn("remote reported signaling error", "code", msg.Code, "message", msg.Message)
		p.notifyClosed("remote error")
	}
}

func (p *Peer) flushRemoteCandidates() {
	buffered := p.remoteCands
	p.remoteCands = nil
	for _, c := range buffered {
		p.addRemoteCandidate(c)
	}
}

func (p *Peer) addRemoteCandidate(init webrtc.ICECandidateInit) {
	if err := p.pc.AddICECandidate(init); err != nil {
		p.log.Warn("dropping remote candidate", "err", err)
	}
}

func (p *Peer) sendData(msg []byte) {
	if p.destroyed.Load() {
		return
	}
	if err := p.dc.Send(msg); err != nil {
		p.t.metrics.Inc(metrics.DataSendFailed)
		p.log.Warn("data channel send failed", "err", err, "bytes", len(msg))
		p.notifyClosed("data send failed")
	}
}

// emit encodes msg and hands it to the sink for delivery over the signaling
// connection.
func (p *Peer) emit(msg signaling.Message) bool {
	data, err := msg.Marshal()
	if err != nil {
		p.log.Error("failed to encode signaling message", "type", msg.Type, "err", err)
		return false
	}
	if p.destroyed.Load() {
		return false
	}
	p.sink.TransportSignaling(p.id, data)
	return true
}

func (p *Peer) fail(op string, err error) {
	p.log.Warn("webrtc negotiation failed", "op", op, "err", err)
	p.notifyClosed(op + " failed")
}

// notifyClosed reports the transport as closed at most once, and never after
// Destroy.
func (p *Peer) notifyClosed(reason string) {
	if p.destroyed.Load() {
		return
	}
	p.closeOnce.Do(func() {
		p.log.Debug("transport closed", "reason", reason)
		p.sink.TransportClosed(p.id)
	})
}

func (p *Peer) closePeerConnection() {
	p.t.forget(p.id)
	if err := p.pc.Close(); err != nil {
		p.log.Debug("peer connection close failed", "err", err)
	}
}
