package signaling

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/ratelimit"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/room"
)

const (
	wsWriteWait      = 1 * time.Second
	closeGracePeriod = 1 * time.Second

	defaultIdleTimeout          = 60 * time.Second
	defaultPingInterval         = 20 * time.Second
	defaultMaxMessageBytes      = 64 * 1024
	defaultMaxMessagesPerSecond = 50
	defaultSendQueueLength      = 64
)

// ErrClosed is returned by Client methods after the connection has closed.
var ErrClosed = errors.New("signaling: connection closed")

// Config wires together the runtime dependencies for the signaling endpoint.
type Config struct {
	Relay   *room.Relay
	Metrics *metrics.Metrics
	Logger  *slog.Logger

	// CheckOrigin is consulted on upgrade. Nil accepts every origin; the
	// production binary enforces origins in the httpserver middleware.
	CheckOrigin func(r *http.Request) bool

	// Keepalive. A connection that sends nothing (including pongs) for
	// IdleTimeout is closed.
	IdleTimeout  time.Duration
	PingInterval time.Duration

	// Inbound hardening.
	MaxMessageBytes      int64
	MaxMessagesPerSecond int

	// SendQueueLength bounds undelivered outbound events per connection. A
	// connection whose queue overflows is closed.
	SendQueueLength int

	// Clock drives the inbound rate limiter. Nil uses the wall clock.
	Clock ratelimit.Clock
}

// Server accepts signaling WebSocket connections on GET /socket.
type Server struct {
	relay    *room.Relay
	metrics  *metrics.Metrics
	log      *slog.Logger
	clock    ratelimit.Clock
	upgrader websocket.Upgrader

	idleTimeout          time.Duration
	pingInterval         time.Duration
	maxMessageBytes      int64
	maxMessagesPerSecond int
	sendQueueLength      int

	mu     sync.RWMutex
	conns  map[registry.ID]*wsConn
	closed bool
	wg     sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	relay := cfg.Relay
	if relay == nil {
		relay = room.New(registry.New(), room.Config{Metrics: cfg.Metrics, Logger: log})
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(r *http.Request) bool { return true }
	}

	s := &Server{
		relay:   relay,
		metrics: cfg.Metrics,
		log:     log,
		clock:   cfg.Clock,
		upgrader: websocket.Upgrader{
			Subprotocols: []string{SubprotocolMsgpack},
			CheckOrigin:  checkOrigin,
		},

		idleTimeout:          durationOrDefault(cfg.IdleTimeout, defaultIdleTimeout),
		pingInterval:         durationOrDefault(cfg.PingInterval, defaultPingInterval),
		maxMessageBytes:      cfg.MaxMessageBytes,
		maxMessagesPerSecond: cfg.MaxMessagesPerSecond,
		sendQueueLength:      cfg.SendQueueLength,

		conns: make(map[registry.ID]*wsConn),
	}
	if s.maxMessageBytes <= 0 {
		s.maxMessageBytes = defaultMaxMessageBytes
	}
	if s.maxMessagesPerSecond <= 0 {
		s.maxMessagesPerSecond = defaultMaxMessagesPerSecond
	}
	if s.sendQueueLength <= 0 {
		s.sendQueueLength = defaultSendQueueLength
	}
	if s.pingInterval >= s.idleTimeout {
		s.pingInterval = s.idleTimeout / 2
	}
	s.upgrader.Error = func(w http.ResponseWriter, r *http.Request, status int, reason error) {
		if status == http.StatusForbidden {
			s.metrics.Inc(metrics.OriginRejected)
		}
		http.Error(w, reason.Error(), status)
	}
	return s
}

func durationOrDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /socket", s.handleSocket)
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return mux
}

func (s *Server) Relay() *room.Relay { return s.relay }

// ConnectionCount reports the number of open signaling connections.
func (s *Server) ConnectionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Shutdown closes every connection with a going-away close frame and waits
// for their handlers to finish or ctx to expire. New upgrades are refused.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	conns := make([]*wsConn, 0, len(s.conns))
	for _, c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, c := range conns {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := &wsConn{
		srv:     s,
		conn:    conn,
		codec:   codecForSubprotocol(conn.Subprotocol()),
		send:    make(chan Envelope, s.sendQueueLength),
		closing: make(chan struct{}),
		written: make(chan struct{}),
		limiter: ratelimit.NewTokenBucket(
			s.clock,
			int64(s.maxMessagesPerSecond),
			int64(s.maxMessagesPerSecond),
		),
	}
	if !s.register(c) {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
		go c.writePump()
		<-c.written
		_ = conn.Close()
		return
	}
	defer s.wg.Done()

	c.log = s.log.With("conn_id", c.id.String(), "remote_addr", r.RemoteAddr, "codec", c.codec.Name())
	c.log.Info("signaling connection opened")

	go c.writePump()
	c.readPump()
}

// register allocates the connection identity, makes it deliverable and queues
// the hello before any other connection can address it.
func (s *Server) register(c *wsConn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	c.id = s.relay.Connect()
	s.conns[c.id] = c

	hello, _ := marshalEnvelope(EventConnected, ConnectedData{ID: c.id.String()})
	c.send <- hello
	return true
}

func (s *Server) unregister(c *wsConn) {
	s.mu.Lock()
	if s.conns[c.id] == c {
		delete(s.conns, c.id)
	}
	s.mu.Unlock()
}

func (s *Server) lookup(id registry.ID) *wsConn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.conns[id]
}

// deliver enqueues each outbound on its recipient. It never blocks; a
// recipient that has gone away is skipped.
func (s *Server) deliver(out []room.Outbound) {
	for _, o := range out {
		env, err := outboundEnvelope(o)
		if err != nil {
			s.log.Error("encode outbound", "err", err, "to", o.To.String())
			continue
		}
		target := s.lookup(o.To)
		if target == nil {
			continue
		}
		target.enqueue(env)
	}
}

func outboundEnvelope(o room.Outbound) (Envelope, error) {
	from := o.Peer.String()
	switch o.Type {
	case room.PeerJoined:
		return marshalEnvelope(EventUserConnected, from)
	case room.PeerLeft:
		return marshalEnvelope(EventUserDisconnected, from)
	case room.Relayed:
		switch o.Kind {
		case room.KindOffer:
			return marshalEnvelope(EventOffer, offerOut{Offer: o.Payload, From: from})
		case room.KindAnswer:
			return marshalEnvelope(EventAnswer, answerOut{Answer: o.Payload, From: from})
		case room.KindCandidate:
			return marshalEnvelope(EventICECandidate, candidateOut{Candidate: o.Payload, From: from})
		}
		return Envelope{}, fmt.Errorf("unsupported message kind %q", o.Kind)
	}
	return Envelope{}, fmt.Errorf("unsupported outbound type %s", o.Type)
}

// kindForEvent maps a client event to the negotiation message kind it carries.
// Events that are not negotiation messages map to an invalid kind.
func kindForEvent(event string) room.Kind {
	switch event {
	case EventOffer:
		return room.KindOffer
	case EventAnswer:
		return room.KindAnswer
	case EventICECandidate:
		return room.KindCandidate
	}
	return ""
}

type wsConn struct {
	srv   *Server
	id    registry.ID
	conn  *websocket.Conn
	codec Codec
	log   *slog.Logger

	limiter *ratelimit.TokenBucket

	send chan Envelope

	closeOnce   sync.Once
	closing     chan struct{}
	closeCode   int
	closeReason string

	// written is closed when the write pump exits.
	written chan struct{}
}

func (c *wsConn) readPump() {
	defer c.teardown()

	c.conn.SetReadLimit(c.srv.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.extendReadDeadline()
		return nil
	})

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		c.extendReadDeadline()

		// Apply the rate limit after reading so the bytes already buffered are
		// consumed and the peer reliably observes the close frame.
		if !c.limiter.Allow(1) {
			c.srv.metrics.Inc(metrics.RateLimited)
			c.fail(&wireError{Code: CodeRateLimited, Message: "rate limit exceeded", Fatal: true}, websocket.ClosePolicyViolation, "rate limit exceeded")
			return
		}
		if msgType != c.codec.FrameType() {
			c.srv.metrics.Inc(metrics.BadMessages)
			c.fail(&wireError{Code: CodeBadMessage, Message: "unexpected frame type for " + c.codec.Name(), Fatal: true}, websocket.CloseUnsupportedData, "unexpected frame type")
			return
		}

		env, err := c.codec.Decode(data)
		if err != nil {
			c.srv.metrics.Inc(metrics.BadMessages)
			c.fail(&wireError{Code: CodeBadMessage, Message: err.Error(), Fatal: true}, websocket.ClosePolicyViolation, "bad message")
			return
		}

		if err := c.dispatch(env); err != nil {
			var wireErr *wireError
			if !errors.As(err, &wireErr) {
				wireErr = &wireError{Code: CodeInternal, Message: err.Error()}
			}
			if wireErr.Code == CodeBadMessage || wireErr.Code == CodeUnknownEvent {
				c.srv.metrics.Inc(metrics.BadMessages)
			}
			c.log.Debug("signaling event rejected", "event", env.Event, "code", wireErr.Code, "err", wireErr.Message)
			c.fail(wireErr, websocket.ClosePolicyViolation, wireErr.Code)
			if wireErr.Fatal {
				return
			}
		}
	}
}

func (c *wsConn) handleReadError(err error) {
	switch {
	case isTimeout(err) && !c.isClosing():
		c.log.Info("signaling connection idle timeout")
		c.closeWith(websocket.CloseNormalClosure, "idle timeout")
	case errors.Is(err, websocket.ErrReadLimit):
		// gorilla has already sent CloseMessageTooBig.
		c.srv.metrics.Inc(metrics.BadMessages)
		c.stop()
	default:
		c.stop()
	}
}

func (c *wsConn) dispatch(env Envelope) error {
	relay := c.srv.relay
	switch env.Event {
	case EventJoinRoom:
		roomKey, err := parseRoomKey(env.Data)
		if err != nil {
			return err
		}
		out, err := relay.Join(c.id, roomKey)
		if errors.Is(err, registry.ErrRoomFull) {
			return &wireError{Code: CodeRoomFull, Message: fmt.Sprintf("room %q is full", roomKey)}
		}
		if err != nil {
			return err
		}
		c.log.Info("joined room", "room", roomKey, "notified", countType(out, room.PeerJoined))
		c.srv.deliver(out)
	case EventLeaveRoom:
		c.srv.deliver(relay.Leave(c.id))
	case EventOffer, EventAnswer, EventICECandidate:
		kind := kindForEvent(env.Event)
		if !kind.Valid() {
			return &wireError{Code: CodeUnknownEvent, Message: fmt.Sprintf("unsupported event %q", env.Event)}
		}
		body, to, err := parseAddressed(env.Event, env.Data)
		if err != nil {
			return err
		}
		c.srv.deliver(relay.Relay(c.id, room.Message{
			Kind:    kind,
			Payload: body,
			To:      registry.ID(to),
		}))
	default:
		return &wireError{Code: CodeUnknownEvent, Message: fmt.Sprintf("unsupported event %q", env.Event)}
	}
	return nil
}

func countType(out []room.Outbound, t room.EventType) int {
	n := 0
	for _, o := range out {
		if o.Type == t {
			n++
		}
	}
	return n
}

// teardown releases the identity before the socket so no delivery can be
// addressed to a closed connection afterwards.
func (c *wsConn) teardown() {
	c.srv.deliver(c.srv.relay.Disconnect(c.id))
	c.srv.unregister(c)
	c.stop()
	<-c.written
	_ = c.conn.Close()
	c.log.Info("signaling connection closed")
}

func (c *wsConn) extendReadDeadline() {
	if c.isClosing() {
		return
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(c.srv.idleTimeout))
}

// enqueue never blocks. A full queue means the peer is not keeping up and the
// connection is closed.
func (c *wsConn) enqueue(env Envelope) {
	if c.isClosing() {
		return
	}
	select {
	case c.send <- env:
	default:
		c.srv.metrics.Inc(metrics.SendQueueFull)
		c.log.Warn("signaling send queue full, closing connection")
		c.closeWith(websocket.CloseTryAgainLater, "send queue full")
	}
}

// fail reports err to the peer. Fatal errors also close the connection.
func (c *wsConn) fail(err *wireError, closeCode int, closeReason string) {
	env, encErr := marshalEnvelope(EventError, ErrorData{Code: err.Code, Message: err.Message})
	if encErr == nil {
		c.enqueue(env)
	}
	if err.Fatal {
		c.closeWith(closeCode, closeReason)
	}
}

// closeWith asks the write pump to flush queued events and send a close frame.
func (c *wsConn) closeWith(code int, reason string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		close(c.closing)
	})
}

// stop ends the write pump without sending a close frame.
func (c *wsConn) stop() { c.closeWith(0, "") }

func (c *wsConn) isClosing() bool {
	select {
	case <-c.closing:
		return true
	default:
		return false
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(c.srv.pingInterval)
	defer func() {
		ticker.Stop()
		close(c.written)
	}()

	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.closing:
			c.flush()
			return
		}
	}
}

func (c *wsConn) flush() {
	for {
		select {
		case env := <-c.send:
			if err := c.write(env); err != nil {
				_ = c.conn.Close()
				return
			}
		default:
			if c.closeCode != 0 {
				_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeReason), time.Now().Add(wsWriteWait))
				// Give the peer a moment to answer the close before the reader
				// gives up.
				_ = c.conn.SetReadDeadline(time.Now().Add(closeGracePeriod))
			}
			return
		}
	}
}

func (c *wsConn) write(env Envelope) error {
	data, err := c.codec.Encode(env)
	if err != nil {
		c.log.Error("encode signaling event", "event", env.Event, "err", err)
		return nil
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(c.codec.FrameType(), data)
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
