package channel

import (
	"bytes"
	"testing"
)

type recordingChannel struct {
	sent   [][]byte
	closed int
}

func (c *recordingChannel) Send(msg []byte) error {
	c.sent = append(c.sent, append([]byte(nil), msg...))
	return nil
}

func (c *recordingChannel) Close() error {
	c.closed++
	return nil
}

func TestEcho_SendsMessageBack(t *testing.T) {
	dc := &recordingChannel{}
	h := Echo(dc)
	h.OnMessage([]byte("ping"))
	h.OnClose()

	if len(dc.sent) != 1 || !bytes.Equal(dc.sent[0], []byte("ping")) {
		t.Fatalf("sent=%q, want [ping]", dc.sent)
	}
	if dc.closed != 0 {
		t.Fatalf("closed=%d, want 0", dc.closed)
	}
}

func TestHandlerFuncs_NilFieldsAreSkipped(t *testing.T) {
	var h HandlerFuncs
	h.OnMessage([]byte("x"))
	h.OnClose()

	var got []byte
	closed := false
	h = HandlerFuncs{
		Message: func(msg []byte) { got = msg },
		Close:   func() { closed = true },
	}
	h.OnMessage([]byte("y"))
	h.OnClose()
	if string(got) != "y" || !closed {
		t.Fatalf("got=%q closed=%v", got, closed)
	}
}
