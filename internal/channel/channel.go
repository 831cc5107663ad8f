// Package channel defines the capability contracts shared between the
// coordination engine, the single-session client and application code.
//
// An application supplies a Factory. When a session's data transport opens,
// the Factory is called exactly once with a DataChannel bound to that session,
// and the returned Handler receives every inbound message followed by a single
// OnClose.
package channel

import "errors"

// ErrClosed is returned by DataChannel.Send after the session is gone.
var ErrClosed = errors.New("data channel closed")

// DataChannel is the outbound capability handed to an application.
//
// Send does not block on the network. Close is idempotent.
type DataChannel interface {
	Send(msg []byte) error
	Close() error
}

// Handler receives inbound events for one session.
//
// Calls for a single session are never concurrent.
type Handler interface {
	OnMessage(msg []byte)
	OnClose()
}

// Factory creates the Handler for a newly opened data channel.
type Factory func(DataChannel) Handler

// HandlerFuncs adapts a pair of functions to Handler. Nil fields are skipped.
type HandlerFuncs struct {
	Message func(msg []byte)
	Close   func()
}

func (h HandlerFuncs) OnMessage(msg []byte) {
	if h.Message != nil {
		h.Message(msg)
	}
}

func (h HandlerFuncs) OnClose() {
	if h.Close != nil {
		h.Close()
	}
}

// Echo is a Factory whose handlers send every message back unchanged.
func Echo(dc DataChannel) Handler {
	return HandlerFuncs{
		Message: func(msg []byte) { _ = dc.Send(msg) },
	}
}
