package signaling

import (
	"errors"
	"strings"
	"testing"

	"github.com/pion/webrtc/v4"
)

func TestMessage_OfferRoundTrip(t *testing.T) {
	b, err := OfferMessage(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0"}).Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	got, err := ParseMessage(b)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got.Type != MessageTypeOffer || got.SDP == nil || got.SDP.Type != "offer" || got.SDP.SDP != "v=0" {
		t.Fatalf("unexpected decoded offer: %#v", got)
	}
	desc, err := got.SDP.ToPion()
	if err != nil || desc.Type != webrtc.SDPTypeOffer {
		t.Fatalf("ToPion=%v,%v", desc, err)
	}
}

func TestMessage_UnmarshalCandidate(t *testing.T) {
	raw := []byte(`{
		"type":"candidate",
		"candidate":{
			"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host",
			"sdpMid":"0",
			"sdpMLineIndex":0
		}
	}`)

	got, err := ParseMessage(raw)
	if err != nil {
		t.Fatalf("ParseMessage: %v", err)
	}
	if got.Type != MessageTypeCandidate || got.Candidate == nil || got.Candidate.Candidate == "" {
		t.Fatalf("unexpected decoded candidate: %#v", got)
	}
	init := got.Candidate.ToPion()
	if init.SDPMid == nil || *init.SDPMid != "0" || init.SDPMLineIndex == nil || *init.SDPMLineIndex != 0 {
		t.Fatalf("ToPion=%+v", init)
	}
}

func TestParseMessage_Rejects(t *testing.T) {
	for _, tc := range []struct {
		name string
		raw  string
		want string
	}{
		{name: "not json", raw: `hello`, want: "invalid character"},
		{name: "unknown field", raw: `{"type":"close","extra":1}`, want: "unknown field"},
		{name: "trailing data", raw: `{"type":"close"}{"type":"close"}`, want: "trailing data"},
		{name: "unknown type", raw: `{"type":"bogus"}`, want: "unsupported message type"},
		{name: "offer without sdp", raw: `{"type":"offer"}`, want: "missing sdp"},
		{name: "answer with offer sdp", raw: `{"type":"answer","sdp":{"type":"offer","sdp":"v=0"}}`, want: "sdp.type"},
		{name: "candidate missing", raw: `{"type":"candidate"}`, want: "missing candidate"},
		{name: "error missing code", raw: `{"type":"error","message":"x"}`, want: "missing code"},
		{name: "close with sdp", raw: `{"type":"close","sdp":{"type":"offer","sdp":""}}`, want: "unexpected fields"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseMessage([]byte(tc.raw))
			if !errors.Is(err, ErrInvalidMessage) {
				t.Fatalf("err=%v, want ErrInvalidMessage", err)
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("err=%q, want substring %q", err, tc.want)
			}
		})
	}
}

func TestErrorMessage_Marshal(t *testing.T) {
	b, err := ErrorMessage("bad_answer", "could not apply answer").Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"type":"error","code":"bad_answer","message":"could not apply answer"}`
	if string(b) != want {
		t.Fatalf("Marshal=%s, want %s", b, want)
	}
	if _, err := (Message{Type: MessageTypeError}).Marshal(); !errors.Is(err, ErrInvalidMessage) {
		t.Fatalf("Marshal invalid error message err=%v", err)
	}
}
