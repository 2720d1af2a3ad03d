package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ClientOptions configures Dial.
type ClientOptions struct {
	// Codec selects the wire encoding. Nil uses JSON.
	Codec Codec
	// Header is sent with the upgrade request, e.g. an Origin.
	Header http.Header
	Dialer *websocket.Dialer
}

// Event is a server to client event as seen by Client.
type Event struct {
	Name string

	// Peer is the subject of user-connected and user-disconnected.
	Peer string

	// From and Payload are set for offer, answer and ice-candidate.
	From    string
	Payload json.RawMessage

	// Error is set for the error event.
	Error *ErrorData

	Envelope Envelope
}

// Client speaks the signaling protocol. Next must be called from a single
// goroutine; the Send methods are safe for concurrent use.
type Client struct {
	conn  *websocket.Conn
	codec Codec
	id    string

	writeMu sync.Mutex

	events chan Event
	done   chan struct{}
	quit   chan struct{}
	err    error

	closeOnce sync.Once
}

// Dial connects to a signaling endpoint and waits for the connected event.
func Dial(ctx context.Context, url string, opts ClientOptions) (*Client, error) {
	codec := opts.Codec
	if codec == nil {
		codec = JSONCodec{}
	}
	base := opts.Dialer
	if base == nil {
		base = websocket.DefaultDialer
	}
	dialer := *base
	if _, ok := codec.(MsgpackCodec); ok {
		dialer.Subprotocols = []string{SubprotocolMsgpack}
	}

	conn, _, err := dialer.DialContext(ctx, url, opts.Header)
	if err != nil {
		return nil, fmt.Errorf("dial signaling: %w", err)
	}
	if _, ok := codec.(MsgpackCodec); ok && conn.Subprotocol() != SubprotocolMsgpack {
		_ = conn.Close()
		return nil, fmt.Errorf("dial signaling: server did not accept subprotocol %q", SubprotocolMsgpack)
	}

	c := &Client{
		conn:   conn,
		codec:  codec,
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		quit:   make(chan struct{}),
	}
	go c.readLoop()

	ev, err := c.Next(ctx)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	if ev.Name != EventConnected {
		_ = c.Close()
		return nil, fmt.Errorf("dial signaling: expected %s event, got %q", EventConnected, ev.Name)
	}
	var hello ConnectedData
	if err := json.Unmarshal(ev.Envelope.Data, &hello); err != nil || hello.ID == "" {
		_ = c.Close()
		return nil, fmt.Errorf("dial signaling: invalid %s event", EventConnected)
	}
	c.id = hello.ID
	return c, nil
}

// ID is the identity the server assigned to this connection.
func (c *Client) ID() string { return c.id }

func (c *Client) JoinRoom(roomKey string) error {
	return c.emit(EventJoinRoom, roomKey)
}

func (c *Client) LeaveRoom() error {
	return c.emit(EventLeaveRoom, nil)
}

// SendOffer relays offer to the connection with identity to. offer is
// marshaled as JSON; a json.RawMessage is sent as is.
func (c *Client) SendOffer(to string, offer any) error {
	body, err := encodeJSON(offer)
	if err != nil {
		return err
	}
	return c.emit(EventOffer, offerIn{Offer: body, To: to})
}

func (c *Client) SendAnswer(to string, answer any) error {
	body, err := encodeJSON(answer)
	if err != nil {
		return err
	}
	return c.emit(EventAnswer, answerIn{Answer: body, To: to})
}

func (c *Client) SendCandidate(to string, candidate any) error {
	body, err := encodeJSON(candidate)
	if err != nil {
		return err
	}
	return c.emit(EventICECandidate, candidateIn{Candidate: body, To: to})
}

// Emit sends an arbitrary event. It exists for tools and tests that need to
// send events the typed methods do not cover.
func (c *Client) Emit(event string, data any) error {
	return c.emit(event, data)
}

func (c *Client) emit(event string, data any) error {
	env, err := marshalEnvelope(event, data)
	if err != nil {
		return err
	}
	frame, err := c.codec.Encode(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	if err := c.conn.WriteMessage(c.codec.FrameType(), frame); err != nil {
		return fmt.Errorf("send %s: %w", event, err)
	}
	return nil
}

// Next returns the next event from the server.
func (c *Client) Next(ctx context.Context) (Event, error) {
	select {
	case ev := <-c.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-c.events:
		return ev, nil
	case <-c.done:
		// Drain anything read before the connection ended.
		select {
		case ev := <-c.events:
			return ev, nil
		default:
		}
		return Event{}, c.closedErr()
	case <-ctx.Done():
		return Event{}, ctx.Err()
	}
}

// Done is closed once the connection has ended.
func (c *Client) Done() <-chan struct{} { return c.done }

// Err returns why the connection ended. Only valid after Done is closed.
func (c *Client) Err() error { return c.err }

func (c *Client) closedErr() error {
	if c.err == nil {
		return ErrClosed
	}
	return fmt.Errorf("%w: %w", ErrClosed, c.err)
}

// Close sends a normal close frame and releases the connection.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.quit)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(wsWriteWait))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.err = err
			return
		}
		env, err := c.codec.Decode(data)
		if err != nil {
			c.err = fmt.Errorf("decode server event: %w", err)
			_ = c.conn.Close()
			return
		}
		ev, err := toEvent(env)
		if err != nil {
			c.err = err
			_ = c.conn.Close()
			return
		}
		select {
		case c.events <- ev:
		case <-c.quit:
			return
		}
	}
}

func toEvent(env Envelope) (Event, error) {
	ev := Event{Name: env.Event, Envelope: env}
	var err error
	switch env.Event {
	case EventUserConnected, EventUserDisconnected:
		err = json.Unmarshal(env.Data, &ev.Peer)
	case EventOffer:
		var out offerOut
		err = json.Unmarshal(env.Data, &out)
		ev.From, ev.Payload = out.From, out.Offer
	case EventAnswer:
		var out answerOut
		err = json.Unmarshal(env.Data, &out)
		ev.From, ev.Payload = out.From, out.Answer
	case EventICECandidate:
		var out candidateOut
		err = json.Unmarshal(env.Data, &out)
		ev.From, ev.Payload = out.From, out.Candidate
	case EventError:
		var e ErrorData
		err = json.Unmarshal(env.Data, &e)
		ev.Error = &e
	}
	if err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", env.Event, err)
	}
	return ev, nil
}

// IsCloseCode reports whether err ended the connection with one of codes.
func IsCloseCode(err error, codes ...int) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	for _, code := range codes {
		if closeErr.Code == code {
			return true
		}
	}
	return false
}
