package client_test

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/channel"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/client"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/config"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/server"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/signaling"
	"github.com/wilsonzlin/aero/proxy/webrtc-datachannel/internal/vnettest"
)

func noFactory(t *testing.T) channel.Factory {
	return func(channel.DataChannel) channel.Handler {
		t.Errorf("factory called unexpectedly")
		return nil
	}
}

// wsServer runs a bare WebSocket endpoint driven by handle.
func wsServer(t *testing.T, handle func(*websocket.Conn)) (host string, port int) {
	t.Helper()
	upgrader := websocket.Upgrader{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()
		handle(c)
	}))
	t.Cleanup(ts.Close)
	addr := ts.Listener.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func connect(t *testing.T, ctx context.Context, cfg client.Config, factory channel.Factory) (*client.Session, <-chan string) {
	t.Helper()
	errs := make(chan string, 4)
	sess := client.Connect(ctx, cfg, factory, func(msg string) { errs <- msg })
	t.Cleanup(func() { _ = sess.Close() })
	return sess, errs
}

func waitError(t *testing.T, sess *client.Session, errs <-chan string) string {
	t.Helper()
	var msg string
	select {
	case msg = <-errs:
	case <-time.After(10 * time.Second):
		t.Fatalf("timed out waiting for onError")
	}
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatalf("session not done after error")
	}
	select {
	case extra := <-errs:
		t.Fatalf("onError called twice (second %q)", extra)
	default:
	}
	return msg
}

func TestConnect_InvalidConfig(t *testing.T) {
	sess, errs := connect(t, context.Background(), client.Config{Server: "127.0.0.1"}, noFactory(t))
	if msg := waitError(t, sess, errs); !strings.Contains(msg, "invalid port") {
		t.Fatalf("error=%q, want invalid port", msg)
	}
}

func TestConnect_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	sess, errs := connect(t, context.Background(), client.Config{Server: "127.0.0.1", Port: port}, noFactory(t))
	if msg := waitError(t, sess, errs); !strings.HasPrefix(msg, "dial ") {
		t.Fatalf("error=%q, want dial failure", msg)
	}
}

func TestConnect_ServerErrorMessage(t *testing.T) {
	host, port := wsServer(t, func(c *websocket.Conn) {
		data, _ := signaling.ErrorMessage("unavailable", "try later").Marshal()
		_ = c.WriteMessage(websocket.TextMessage, data)
		_, _, _ = c.ReadMessage()
	})

	sess, errs := connect(t, context.Background(), client.Config{Server: host, Port: port}, noFactory(t))
	msg := waitError(t, sess, errs)
	if !strings.Contains(msg, "unavailable") || !strings.Contains(msg, "try later") {
		t.Fatalf("error=%q, want server code and message", msg)
	}
}

func TestConnect_SignalingClosedBeforeOpen(t *testing.T) {
	host, port := wsServer(t, func(c *websocket.Conn) {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "busy"))
	})

	sess, errs := connect(t, context.Background(), client.Config{Server: host, Port: port}, noFactory(t))
	if msg := waitError(t, sess, errs); !strings.Contains(msg, "signaling closed before data channel opened") {
		t.Fatalf("error=%q", msg)
	}
}

func TestConnect_CancelBeforeOpen(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	host, port := wsServer(t, func(c *websocket.Conn) {
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	sess, errs := connect(t, ctx, client.Config{Server: host, Port: port}, noFactory(t))
	time.Sleep(100 * time.Millisecond)
	cancel()
	if msg := waitError(t, sess, errs); !strings.Contains(msg, "cancelled") {
		t.Fatalf("error=%q, want cancellation", msg)
	}
}

func TestConnect_HandlerCloseFromOnMessage(t *testing.T) {
	pair := vnettest.NewPair(t)
	srv, err := server.New(server.Config{
		Settings: config.Config{DataChannelOrdered: true},
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Factory:  channel.Echo,
		API:      pair.A,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() { _ = srv.Serve(ln) }()
	t.Cleanup(func() { _ = srv.Close() })

	var (
		factoryCalls atomic.Int32
		messages     atomic.Int32
		closes       atomic.Int32
	)
	factory := func(dc channel.DataChannel) channel.Handler {
		factoryCalls.Add(1)
		if err := dc.Send([]byte("ping")); err != nil {
			t.Errorf("Send: %v", err)
		}
		return channel.HandlerFuncs{
			Message: func(msg []byte) {
				messages.Add(1)
				if string(msg) != "ping" {
					t.Errorf("message=%q, want ping", msg)
				}
				_ = dc.Close()
			},
			Close: func() { closes.Add(1) },
		}
	}

	sess, errs := connect(t, context.Background(), client.Config{
		Server: "127.0.0.1",
		Port:   ln.Addr().(*net.TCPAddr).Port,
		Path:   server.SignalPath,
		API:    pair.B,
	}, factory)

	select {
	case <-sess.Done():
	case msg := <-errs:
		t.Fatalf("onError(%q)", msg)
	case <-time.After(15 * time.Second):
		t.Fatalf("session did not finish")
	}
	if !sess.Opened() {
		t.Fatalf("Opened=false after data channel use")
	}
	if got := factoryCalls.Load(); got != 1 {
		t.Fatalf("factory calls=%d, want 1", got)
	}
	if got := messages.Load(); got != 1 {
		t.Fatalf("messages=%d, want 1", got)
	}
	if got := closes.Load(); got != 1 {
		t.Fatalf("OnClose calls=%d, want 1", got)
	}
	select {
	case msg := <-errs:
		t.Fatalf("unexpected onError(%q)", msg)
	default:
	}
}
