package signaling

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

func TestMsgpackCodec_EncodeProducesMap(t *testing.T) {
	env := Envelope{Event: EventOffer, Data: json.RawMessage(`{"offer":{"type":"offer","sdp":"v=0"},"from":"a"}`)}
	b, err := MsgpackCodec{}.Encode(env)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var decoded map[string]any
	if err := msgpack.Unmarshal(b, &decoded); err != nil {
		t.Fatalf("msgpack.Unmarshal: %v", err)
	}
	if decoded["event"] != EventOffer {
		t.Fatalf("event=%v", decoded["event"])
	}
	data, ok := decoded["data"].(map[string]any)
	if !ok {
		t.Fatalf("data=%T, want map", decoded["data"])
	}
	if data["from"] != "a" {
		t.Fatalf("from=%v", data["from"])
	}
}

func TestMsgpackCodec_DecodeNormalizesToJSON(t *testing.T) {
	b, err := msgpack.Marshal(map[string]any{
		"event": EventICECandidate,
		"data": map[string]any{
			"candidate": map[string]any{"candidate": "candidate:1", "sdpMLineIndex": 0},
			"to":        "peer",
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	env, err := MsgpackCodec{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Event != EventICECandidate {
		t.Fatalf("event=%q", env.Event)
	}
	body, to, err := parseAddressed(env.Event, env.Data)
	if err != nil {
		t.Fatalf("parseAddressed: %v", err)
	}
	if to != "peer" {
		t.Fatalf("to=%q", to)
	}
	var got, want any
	_ = json.Unmarshal(body, &got)
	_ = json.Unmarshal([]byte(`{"candidate":"candidate:1","sdpMLineIndex":0}`), &want)
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("candidate=%s", body)
	}
}

func TestMsgpackCodec_DecodeRejectsGarbage(t *testing.T) {
	for _, b := range [][]byte{{}, {0xc1}, []byte("not msgpack")} {
		if _, err := (MsgpackCodec{}).Decode(b); err == nil {
			t.Fatalf("Decode(%x) succeeded, want error", b)
		}
	}
}

func TestMsgpackCodec_StringData(t *testing.T) {
	b, err := MsgpackCodec{}.Encode(Envelope{Event: EventUserConnected, Data: json.RawMessage(`"peer-1"`)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	env, err := MsgpackCodec{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(env.Data) != `"peer-1"` {
		t.Fatalf("data=%s", env.Data)
	}
}

func TestMsgpackCodec_LargeIntegersRoundTrip(t *testing.T) {
	data := `{"offer":{"big":9007199254740993,"huge":12345678901234567890,"min":-9223372036854775808,"ratio":0.25,"sdp":"v=0"},"to":"peer"}`
	b, err := MsgpackCodec{}.Encode(Envelope{Event: EventOffer, Data: json.RawMessage(data)})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var wire struct {
		Data struct {
			Offer map[string]any `msgpack:"offer"`
		} `msgpack:"data"`
	}
	if err := msgpack.Unmarshal(b, &wire); err != nil {
		t.Fatalf("msgpack.Unmarshal: %v", err)
	}
	for key, want := range map[string]string{
		"big":  "9007199254740993",
		"huge": "12345678901234567890",
		"min":  "-9223372036854775808",
	} {
		v := wire.Data.Offer[key]
		switch v.(type) {
		case float32, float64:
			t.Fatalf("%s encoded as %T, want integer", key, v)
		}
		if got := fmt.Sprint(v); got != want {
			t.Fatalf("%s=%s, want %s", key, got, want)
		}
	}

	env, err := MsgpackCodec{}.Decode(b)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(env.Data) != data {
		t.Fatalf("data=%s, want %s", env.Data, data)
	}
}

func TestMsgpackCodec_EncodeRejectsOutOfRangeNumber(t *testing.T) {
	if _, err := (MsgpackCodec{}).Encode(Envelope{Event: EventOffer, Data: json.RawMessage(`{"n":1e400}`)}); err == nil {
		t.Fatalf("Encode succeeded, want error")
	}
}

func TestCodecForSubprotocol(t *testing.T) {
	if c := codecForSubprotocol(SubprotocolMsgpack); c.FrameType() != websocket.BinaryMessage {
		t.Fatalf("msgpack codec frame type=%d", c.FrameType())
	}
	if c := codecForSubprotocol(""); c.Name() != "json" || c.FrameType() != websocket.TextMessage {
		t.Fatalf("default codec=%s", c.Name())
	}
}
