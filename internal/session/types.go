package session

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	ErrClosed           = errors.New("session engine closed")
	ErrAlreadyRunning   = errors.New("session engine already running")
	ErrTooManySessions  = errors.New("too many sessions")
	ErrInvalidOptions   = errors.New("invalid data channel options")
	ErrMissingTransport = errors.New("missing transport")
	ErrMissingFactory   = errors.New("missing handler factory")
)

// ID identifies a session for its whole lifetime. IDs are never reused within
// a process.
type ID uint64

func (id ID) String() string { return strconv.FormatUint(uint64(id), 10) }

type State uint8

const (
	// StateSignalingOpen means the signaling connection is up and the peer has
	// been created, but the data transport has not opened yet.
	StateSignalingOpen State = iota
	// StateActive means the data transport opened and a handler is attached.
	StateActive
	// StateClosing is held only while the session is being torn down.
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateSignalingOpen:
		return "signaling_open"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// ChannelOptions configures the data channel created for each session.
//
// MaxRetransmitTime and MaxRetransmits are mutually exclusive; nil means
// unlimited.
type ChannelOptions struct {
	Label             string
	Ordered           bool
	MaxRetransmitTime *time.Duration
	MaxRetransmits    *uint16
}

const DefaultChannelLabel = "data"

func DefaultChannelOptions() ChannelOptions {
	return ChannelOptions{Label: DefaultChannelLabel, Ordered: true}
}

func (o ChannelOptions) Validate() error {
	if o.MaxRetransmitTime != nil && o.MaxRetransmits != nil {
		return fmt.Errorf("%w: max retransmit time and max retransmits are mutually exclusive", ErrInvalidOptions)
	}
	if o.MaxRetransmitTime != nil {
		d := *o.MaxRetransmitTime
		if d < 0 {
			return fmt.Errorf("%w: max retransmit time must be >= 0", ErrInvalidOptions)
		}
		if d/time.Millisecond > 0xffff {
			return fmt.Errorf("%w: max retransmit time must be <= %dms", ErrInvalidOptions, 0xffff)
		}
	}
	return nil
}

// SignalingConn is the outbound side of a session's signaling connection.
type SignalingConn interface {
	Send(msg []byte) error
	Close() error
}

// Peer is the transport-side handle for one session. Calls must not block on
// the network; failures are reported back through the TransportSink.
type Peer interface {
	// SendSignaling hands a signaling payload received from the remote side to
	// the transport.
	SendSignaling(msg []byte)
	// SendData sends an application message over the data channel.
	SendData(msg []byte)
	// Destroy releases the peer. It is called exactly once per session.
	Destroy()
}

// Transport creates peers. Notifications for the peer are delivered to sink
// tagged with id.
type Transport interface {
	CreatePeer(id ID, opts ChannelOptions, sink TransportSink) (Peer, error)
}

// TransportSink receives notifications from the transport. Implementations
// must not block.
type TransportSink interface {
	TransportOpened(id ID)
	TransportClosed(id ID)
	TransportSignaling(id ID, msg []byte)
	TransportData(id ID, msg []byte)
}

// SignalingSink receives notifications from the signaling server. For a given
// id, SignalingOpened is delivered before any SignalingMessage, and
// SignalingClosed is delivered last.
type SignalingSink interface {
	SignalingOpened(id ID, conn SignalingConn)
	SignalingMessage(id ID, msg []byte)
	SignalingClosed(id ID)
}
