// Package room implements the room relay: announcing arrivals to earlier
// members and forwarding negotiation messages to exactly one addressee.
//
// Handlers never perform I/O. Each returns the deliveries it produced and the
// transport is responsible for sending them.
package room

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/webrtc-call-signaling/internal/registry"
)

// Kind identifies a negotiation message.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

func (k Kind) Valid() bool {
	switch k {
	case KindOffer, KindAnswer, KindCandidate:
		return true
	default:
		return false
	}
}

// Message is a negotiation message addressed to a single connection. Payload
// is relayed without inspection.
type Message struct {
	Kind    Kind
	Payload json.RawMessage
	To      registry.ID
}

// EventType identifies what an Outbound delivery announces.
type EventType int

const (
	// PeerJoined tells a member that Peer entered its room.
	PeerJoined EventType = iota + 1
	// PeerLeft tells a member that Peer left its room. Only produced when
	// Config.NotifyPeerLeft is set.
	PeerLeft
	// Relayed carries a negotiation message sent by Peer.
	Relayed
)

func (t EventType) String() string {
	switch t {
	case PeerJoined:
		return "peer_joined"
	case PeerLeft:
		return "peer_left"
	case Relayed:
		return "relayed"
	default:
		return "unknown"
	}
}

// Outbound is one delivery to one connection.
type Outbound struct {
	To   registry.ID
	Type EventType
	Peer registry.ID

	// Set for Relayed only.
	Kind    Kind
	Payload json.RawMessage
}

type Config struct {
	// NotifyPeerLeft makes Leave, Disconnect and room moves announce the
	// departure to the remaining members.
	NotifyPeerLeft bool

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type Relay struct {
	reg *registry.Registry
	cfg Config
	log *slog.Logger
}

func New(reg *registry.Registry, cfg Config) *Relay {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Relay{reg: reg, cfg: cfg, log: log}
}

func (r *Relay) Registry() *registry.Registry { return r.reg }

func (r *Relay) Connect() registry.ID {
	id := r.reg.Connect()
	r.cfg.Metrics.Inc(metrics.ConnectionsOpened)
	return id
}

// Join adds conn to roomKey and announces it to every other member. The
// joiner itself is told nothing; earlier members are expected to initiate
// negotiation.
//
// An unknown conn yields no deliveries and no error. registry.ErrRoomFull is
// returned when a capacity is configured and reached.
func (r *Relay) Join(conn registry.ID, roomKey string) ([]Outbound, error) {
	res, err := r.reg.Join(conn, roomKey)
	switch {
	case errors.Is(err, registry.ErrUnknownConnection):
		return nil, nil
	case errors.Is(err, registry.ErrRoomFull):
		r.cfg.Metrics.Inc(metrics.RoomJoinsRejected)
		return nil, err
	case err != nil:
		return nil, err
	}
	r.cfg.Metrics.Inc(metrics.RoomJoins)

	out := r.departed(conn, res.PreviousRemaining)
	for _, member := range res.Others {
		out = append(out, Outbound{To: member, Type: PeerJoined, Peer: conn})
	}
	r.cfg.Metrics.Add(metrics.PeerNotifications, uint64(len(res.Others)))

	r.log.Debug("room join",
		"conn_id", conn.String(),
		"room", roomKey,
		"previous_room", res.Previous,
		"members", len(res.Others)+1,
	)
	return out, nil
}

// Relay forwards msg from sender to msg.To. Exactly one delivery is produced
// when the target is connected and is not the sender; otherwise the message
// is dropped without an error. Messages of an unknown kind are dropped.
//
// The target is not required to share a room with the sender.
func (r *Relay) Relay(from registry.ID, msg Message) []Outbound {
	if !msg.Kind.Valid() {
		r.log.Debug("relay dropped unknown kind", "conn_id", from.String(), "kind", string(msg.Kind))
		return nil
	}
	if msg.To == from {
		r.cfg.Metrics.Inc(metrics.RelayDroppedSelf)
		return nil
	}
	if !r.reg.Connected(msg.To) {
		r.cfg.Metrics.Inc(metrics.RelayDroppedTarget)
		r.log.Debug("relay target not connected",
			"conn_id", from.String(),
			"to", msg.To.String(),
			"kind", string(msg.Kind),
		)
		return nil
	}
	r.cfg.Metrics.Inc(metrics.RelayedPrefix + string(msg.Kind))
	return []Outbound{{
		To:      msg.To,
		Type:    Relayed,
		Peer:    from,
		Kind:    msg.Kind,
		Payload: msg.Payload,
	}}
}

// Leave removes conn from its room but keeps it connected.
func (r *Relay) Leave(conn registry.ID) []Outbound {
	roomKey, remaining := r.reg.Leave(conn)
	if roomKey == "" {
		return nil
	}
	r.cfg.Metrics.Inc(metrics.RoomLeaves)
	return r.departed(conn, remaining)
}

// Disconnect releases conn and its membership. By default nothing is
// announced to the remaining members.
func (r *Relay) Disconnect(conn registry.ID) []Outbound {
	roomKey, remaining, ok := r.reg.Disconnect(conn)
	if !ok {
		return nil
	}
	r.cfg.Metrics.Inc(metrics.ConnectionsClosed)
	r.log.Debug("connection released", "conn_id", conn.String(), "room", roomKey)
	return r.departed(conn, remaining)
}

func (r *Relay) departed(conn registry.ID, remaining []registry.ID) []Outbound {
	if !r.cfg.NotifyPeerLeft || len(remaining) == 0 {
		return nil
	}
	out := make([]Outbound, 0, len(remaining))
	for _, member := range remaining {
		out = append(out, Outbound{To: member, Type: PeerLeft, Peer: conn})
	}
	r.cfg.Metrics.Add(metrics.PeerLeftNotices, uint64(len(remaining)))
	return out
}
