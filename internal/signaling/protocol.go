package signaling

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Event names used on the wire.
const (
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventOffer        = "offer"
	EventAnswer       = "answer"
	EventICECandidate = "ice-candidate"

	EventConnected        = "connected"
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventError            = "error"
)

// Error codes carried by the error event.
const (
	CodeBadMessage   = "bad_message"
	CodeUnknownEvent = "unknown_event"
	CodeRoomFull     = "room_full"
	CodeRateLimited  = "rate_limited"
	CodeInternal     = "internal_error"
)

// Envelope is one signaling frame. Data is always held as JSON regardless of
// the codec used on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// ConnectedData is sent once when a connection is accepted.
type ConnectedData struct {
	ID string `json:"id"`
}

// ErrorData is the payload of the error event.
type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// offerIn, answerIn and candidateIn are the client to server payloads; the
// *Out variants are what the addressee receives.
type offerIn struct {
	Offer json.RawMessage `json:"offer"`
	To    string          `json:"to"`
}

type answerIn struct {
	Answer json.RawMessage `json:"answer"`
	To     string          `json:"to"`
}

type candidateIn struct {
	Candidate json.RawMessage `json:"candidate"`
	To        string          `json:"to"`
}

type offerOut struct {
	Offer json.RawMessage `json:"offer"`
	From  string          `json:"from"`
}

type answerOut struct {
	Answer json.RawMessage `json:"answer"`
	From   string          `json:"from"`
}

type candidateOut struct {
	Candidate json.RawMessage `json:"candidate"`
	From      string          `json:"from"`
}

// wireError is reported to the peer as an error event. Fatal errors also close
// the connection.
type wireError struct {
	Code    string
	Message string
	Fatal   bool
}

func (e *wireError) Error() string { return e.Code + ": " + e.Message }

func badMessage(format string, args ...any) *wireError {
	return &wireError{Code: CodeBadMessage, Message: fmt.Sprintf(format, args...)}
}

var errEmptyEvent = errors.New("envelope missing event")

func decodeStrictJSON(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	return expectEOF(dec)
}

func expectEOF(dec *json.Decoder) error {
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("unexpected trailing data")
	}
	return nil
}

func parseEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := decodeStrictJSON(data, &env); err != nil {
		return Envelope{}, err
	}
	if env.Event == "" {
		return Envelope{}, errEmptyEvent
	}
	return env, nil
}

// encodeJSON is json.Marshal without HTML escaping, so relayed payloads keep
// their original characters.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

func marshalEnvelope(event string, data any) (Envelope, error) {
	env := Envelope{Event: event}
	if data == nil {
		return env, nil
	}
	raw, err := encodeJSON(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", event, err)
	}
	env.Data = raw
	return env, nil
}

// isNull reports whether raw is absent or the JSON literal null.
func isNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func parseRoomKey(data json.RawMessage) (string, error) {
	if isNull(data) {
		return "", badMessage("join-room requires a room id")
	}
	var roomKey string
	if err := json.Unmarshal(data, &roomKey); err != nil {
		return "", badMessage("join-room data must be a string")
	}
	if roomKey == "" {
		return "", badMessage("join-room requires a room id")
	}
	return roomKey, nil
}

// parseAddressed decodes a client to server negotiation payload and returns
// the opaque body and its target.
func parseAddressed(event string, data json.RawMessage) (body json.RawMessage, to string, err error) {
	if isNull(data) {
		return nil, "", badMessage("%s requires data", event)
	}
	switch event {
	case EventOffer:
		var in offerIn
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, "", badMessage("invalid %s payload", event)
		}
		body, to = in.Offer, in.To
	case EventAnswer:
		var in answerIn
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, "", badMessage("invalid %s payload", event)
		}
		body, to = in.Answer, in.To
	case EventICECandidate:
		var in candidateIn
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, "", badMessage("invalid %s payload", event)
		}
		body, to = in.Candidate, in.To
	default:
		return nil, "", &wireError{Code: CodeUnknownEvent, Message: fmt.Sprintf("unsupported event %q", event)}
	}
	if isNull(body) {
		return nil, "", badMessage("%s missing %s", event, payloadField(event))
	}
	if to == "" {
		return nil, "", badMessage("%s missing to", event)
	}
	return body, to, nil
}

func payloadField(event string) string {
	switch event {
	case EventOffer:
		return "offer"
	case EventAnswer:
		return "answer"
	case EventICECandidate:
		return "candidate"
	default:
		return "data"
	}
}
