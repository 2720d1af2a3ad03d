package signaling

import (
	"bytes"
	"encoding/json"
	"testing"
)

func FuzzParseEnvelope(f *testing.F) {
	f.Add([]byte(`{"event":"join-room","data":"abc"}`))
	f.Add([]byte(`{"event":"offer","data":{"offer":{"type":"offer","sdp":"v=0"},"to":"x"}}`))
	f.Add([]byte(`{"event":"ice-candidate","data":{"candidate":{"candidate":"candidate:1 1 udp 1 127.0.0.1 9 typ host","sdpMid":"0","sdpMLineIndex":0},"to":"x"}}`))
	f.Add([]byte(`{"event":"leave-room"}`))

	f.Add([]byte(`{"event":"join-room","unexpected":true}`))
	f.Add([]byte(`{"event":""}`))
	f.Add([]byte(`{"event":"a"}{"event":"b"}`))
	f.Add([]byte(`[]`))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		env, err := parseEnvelope(data)
		if err != nil {
			return
		}
		if env.Event == "" {
			t.Fatalf("successful parse with empty event")
		}

		b, err := JSONCodec{}.Encode(env)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		round, err := parseEnvelope(b)
		if err != nil {
			t.Fatalf("re-parse encoded envelope: %v (json=%q)", err, b)
		}
		if round.Event != env.Event {
			t.Fatalf("event mismatch: %q vs %q", round.Event, env.Event)
		}
		var want bytes.Buffer
		if len(env.Data) > 0 {
			if err := json.Compact(&want, env.Data); err != nil {
				t.Fatalf("compact: %v", err)
			}
		}
		if !bytes.Equal(want.Bytes(), round.Data) {
			t.Fatalf("data mismatch: %q vs %q", round.Data, want.Bytes())
		}
	})
}
