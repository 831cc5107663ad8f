package session

import (
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
)

// facade is the channel.DataChannel given to application code. It converts
// calls into engine events and never touches session state itself.
type facade struct {
	e      *Engine
	id     ID
	closed atomic.Bool
}

var _ channel.DataChannel = (*facade)(nil)

func newFacade(e *Engine, id ID) *facade {
	return &facade{e: e, id: id}
}

func (f *facade) Send(msg []byte) error {
	if f.closed.Load() {
		return channel.ErrClosed
	}
	// Copy because callers commonly reuse their buffers.
	cp := append([]byte(nil), msg...)
	if !f.e.enqueue(event{kind: evSend, id: f.id, data: cp}) {
		return channel.ErrClosed
	}
	return nil
}

func (f *facade) Close() error {
	if f.closed.Swap(true) {
		return nil
	}
	f.e.enqueue(event{kind: evClose, id: f.id})
	return nil
}
