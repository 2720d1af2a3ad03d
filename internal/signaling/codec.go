package signaling

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"
)

// SubprotocolMsgpack selects MessagePack binary frames. Without it, frames are
// JSON text.
const SubprotocolMsgpack = "aero-signal.msgpack.v1"

// Codec converts envelopes to and from WebSocket frames.
type Codec interface {
	Name() string
	// FrameType is the WebSocket message type the codec reads and writes.
	FrameType() int
	Encode(Envelope) ([]byte, error)
	Decode([]byte) (Envelope, error)
}

// JSONCodec is the default codec.
type JSONCodec struct{}

func (JSONCodec) Name() string   { return "json" }
func (JSONCodec) FrameType() int { return websocket.TextMessage }

func (JSONCodec) Encode(env Envelope) ([]byte, error) {
	return encodeJSON(env)
}

func (JSONCodec) Decode(data []byte) (Envelope, error) {
	return parseEnvelope(data)
}

// MsgpackCodec carries the same envelope as a MessagePack map. Data values are
// converted to and from JSON so the relay sees one representation. Integral
// JSON numbers travel as MessagePack integers so values beyond 2^53 survive.
type MsgpackCodec struct{}

type msgpackEnvelope struct {
	Event string `msgpack:"event"`
	Data  any    `msgpack:"data,omitempty"`
}

func (MsgpackCodec) Name() string   { return "msgpack" }
func (MsgpackCodec) FrameType() int { return websocket.BinaryMessage }

func (MsgpackCodec) Encode(env Envelope) ([]byte, error) {
	wire := msgpackEnvelope{Event: env.Event}
	if !isNull(env.Data) {
		data, err := decodeJSONNumbers(env.Data)
		if err != nil {
			return nil, fmt.Errorf("msgpack encode %s: %w", env.Event, err)
		}
		wire.Data = data
	}
	return msgpack.Marshal(&wire)
}

// decodeJSONNumbers unmarshals raw like json.Unmarshal into any, except that
// numbers become int64 or uint64 when they are integers in range and float64
// otherwise.
func decodeJSONNumbers(raw json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if err := expectEOF(dec); err != nil {
		return nil, err
	}
	return convertNumbers(v)
}

func convertNumbers(v any) (any, error) {
	switch v := v.(type) {
	case json.Number:
		s := v.String()
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i, nil
		}
		if u, err := strconv.ParseUint(s, 10, 64); err == nil {
			return u, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("number %s: %w", s, err)
		}
		return f, nil
	case map[string]any:
		for k, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[k] = c
		}
		return v, nil
	case []any:
		for i, e := range v {
			c, err := convertNumbers(e)
			if err != nil {
				return nil, err
			}
			v[i] = c
		}
		return v, nil
	}
	return v, nil
}

func (MsgpackCodec) Decode(data []byte) (Envelope, error) {
	var wire msgpackEnvelope
	if err := msgpack.Unmarshal(data, &wire); err != nil {
		return Envelope{}, err
	}
	if wire.Event == "" {
		return Envelope{}, errEmptyEvent
	}
	env := Envelope{Event: wire.Event}
	if wire.Data != nil {
		raw, err := encodeJSON(wire.Data)
		if err != nil {
			return Envelope{}, fmt.Errorf("msgpack decode %s: %w", wire.Event, err)
		}
		env.Data = raw
	}
	return env, nil
}

// codecForSubprotocol returns the codec for a negotiated subprotocol.
func codecForSubprotocol(name string) Codec {
	if name == SubprotocolMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}
