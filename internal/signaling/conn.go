package signaling

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/session"
)

const wsWriteWait = 1 * time.Second

var ErrConnClosed = errors.New("signaling connection closed")

// Conn is the session.SignalingConn for one accepted WebSocket.
//
// Send and Close may be called from any goroutine.
type Conn struct {
	id session.ID
	ws *websocket.Conn

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

var (
	_ session.SignalingConn = (*Conn)(nil)
	_ session.Rejecter      = (*Conn)(nil)
)

func newConn(id session.ID, ws *websocket.Conn) *Conn {
	return &Conn{id: id, ws: ws}
}

// Send writes msg as a single WebSocket message. Valid UTF-8 goes out as a
// text frame, anything else as binary.
func (c *Conn) Send(msg []byte) error {
	if c.closed.Load() {
		return ErrConnClosed
	}
	msgType := websocket.TextMessage
	if !utf8.Valid(msg) {
		msgType = websocket.BinaryMessage
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.ws.WriteMessage(msgType, msg)
}

func (c *Conn) Close() error {
	return c.CloseWith(websocket.CloseNormalClosure, "")
}

// Reject tells the client why it was refused with an error message, then
// closes the connection with a policy-violation close frame.
func (c *Conn) Reject(reason string) error {
	if reason == "" {
		reason = "rejected"
	}
	if data, err := ErrorMessage(ErrorCodeSessionRejected, reason).Marshal(); err == nil {
		_ = c.Send(data)
	}
	return c.CloseWith(websocket.ClosePolicyViolation, reason)
}

// CloseWith sends a close frame with code and reason, then closes the
// underlying connection. Only the first call has any effect.
func (c *Conn) CloseWith(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeClose(code, reason)
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// release closes the socket without a close frame. Used once the receive loop
// has exited.
func (c *Conn) release() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.ws.Close()
	})
}

func (c *Conn) writeClose(code int, reason string) {
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

func (c *Conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait))
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
