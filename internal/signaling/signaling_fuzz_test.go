package signaling

import (
	"encoding/json"
	"reflect"
	"testing"
)

func FuzzParseMessage(f *testing.F) {
	f.Add([]byte(`{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"answer","sdp":{"type":"answer","sdp":"v=0"}}`))
	f.Add([]byte(`{"type":"candidate","candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0}}`))
	f.Add([]byte(`{"type":"close"}`))
	f.Add([]byte(`{"type":"error","code":"internal_error","message":"internal error"}`))

	f.Add([]byte(`{ "type":"close", "unexpected": true }`))
	f.Add([]byte(`{"type":"bogus"}`))
	f.Add([]byte(`{"type":"close"}{"type":"close"}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		msg1, err1 := ParseMessage(data)
		msg2, err2 := ParseMessage(data)
		if (err1 == nil) != (err2 == nil) {
			t.Fatalf("non-deterministic parse result: err1=%v err2=%v", err1, err2)
		}
		if err1 != nil {
			return
		}
		if err := msg1.validate(); err != nil {
			t.Fatalf("validate() failed after successful parse: %v", err)
		}
		if !reflect.DeepEqual(msg1, msg2) {
			t.Fatalf("non-deterministic parse output: msg1=%#v msg2=%#v", msg1, msg2)
		}

		b, err := json.Marshal(msg1)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		round, err := ParseMessage(b)
		if err != nil {
			t.Fatalf("re-parse marshaled message: %v (json=%q)", err, string(b))
		}
		if !reflect.DeepEqual(msg1, round) {
			t.Fatalf("round-trip mismatch: msg=%#v round=%#v json=%q", msg1, round, string(b))
		}
	})
}
