package metrics

import "sync"

// Event names counted by the signaling server.
const (
	ConnectionsOpened = "connections_opened"
	ConnectionsClosed = "connections_closed"

	RoomJoins          = "room_joins"
	RoomJoinsRejected  = "room_joins_rejected_full"
	RoomLeaves         = "room_leaves"
	PeerNotifications  = "peer_notifications"
	PeerLeftNotices    = "peer_left_notifications"
	RelayDroppedTarget = "relay_dropped_unknown_target"
	RelayDroppedSelf   = "relay_dropped_self"

	BadMessages     = "bad_messages"
	RateLimited     = "rate_limited"
	SendQueueFull   = "send_queue_overflow"
	OriginRejected  = "origin_rejected"
	ICEConfigServed = "ice_config_served"
)

// RelayedPrefix is prefixed to a negotiation message kind to name the counter
// of successfully relayed messages of that kind.
const RelayedPrefix = "relayed_"

// Metrics is a concurrency-safe counter registry. The zero value is not
// usable; a nil *Metrics ignores all updates.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, n uint64) {
	if m == nil || n == 0 {
		return
	}
	m.mu.Lock()
	m.m[name] += n
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of every counter.
func (m *Metrics) Snapshot() map[string]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]uint64, len(m.m))
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
