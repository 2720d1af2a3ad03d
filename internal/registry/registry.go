// Package registry tracks open signaling connections and the room each one
// currently belongs to.
//
// All state lives behind a single mutex. Membership changes and the member
// snapshots handed back to callers are taken under the same lock, so two joins
// into one room racing each other observe a consistent order: whichever
// acquires the lock first is "earlier" and the other sees it as a member.
package registry

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

var (
	// ErrUnknownConnection is returned when an operation names an identity that
	// is not (or no longer) connected.
	ErrUnknownConnection = errors.New("registry: unknown connection")

	// ErrRoomFull is returned by Join when a room capacity is configured and the
	// room already holds that many other members.
	ErrRoomFull = errors.New("registry: room is full")
)

// ID is an opaque, server-assigned connection identity.
type ID string

func (id ID) String() string { return string(id) }

// Stats is a point-in-time view of registry size.
type Stats struct {
	Connections int
	Rooms       int
}

// Option configures a Registry.
type Option func(*Registry)

// WithIDSource replaces the identity allocator. The source must never return
// an identity that is still connected; Connect retries on collision.
func WithIDSource(next func() string) Option {
	return func(r *Registry) {
		if next != nil {
			r.newID = next
		}
	}
}

// WithRoomCapacity caps the number of members per room. Values <= 0 disable
// the cap.
func WithRoomCapacity(n int) Option {
	return func(r *Registry) {
		r.capacity = n
	}
}

type Registry struct {
	newID    func() string
	capacity int

	mu    sync.Mutex
	conns map[ID]string             // identity -> room key ("" when not joined)
	rooms map[string]map[ID]struct{} // room key -> member set
}

func New(opts ...Option) *Registry {
	r := &Registry{
		newID: uuid.NewString,
		conns: make(map[ID]string),
		rooms: make(map[string]map[ID]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect allocates and records a fresh identity.
func (r *Registry) Connect() ID {
	r.mu.Lock()
	defer r.mu.Unlock()

	for {
		id := ID(r.newID())
		if id == "" {
			continue
		}
		if _, exists := r.conns[id]; exists {
			continue
		}
		r.conns[id] = ""
		return id
	}
}

// JoinResult describes the membership change made by Join.
type JoinResult struct {
	// Others are the members of the joined room other than the joiner, as seen
	// at the moment of joining.
	Others []ID

	// Previous is the room the connection was moved out of, if any, and
	// PreviousRemaining the members still in it.
	Previous          string
	PreviousRemaining []ID
}

// Join records id as a member of roomKey.
//
// Joining a different room moves the connection. Joining the room it is
// already in leaves membership unchanged and still reports the other members.
func (r *Registry) Join(id ID, roomKey string) (JoinResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[id]
	if !ok {
		return JoinResult{}, ErrUnknownConnection
	}

	members := r.rooms[roomKey]
	if current != roomKey && r.capacity > 0 && len(members) >= r.capacity {
		return JoinResult{}, ErrRoomFull
	}

	var res JoinResult
	if current != "" && current != roomKey {
		res.Previous = current
		res.PreviousRemaining = r.removeMemberLocked(current, id)
	}
	if members == nil {
		members = make(map[ID]struct{})
		r.rooms[roomKey] = members
	}
	members[id] = struct{}{}
	r.conns[id] = roomKey

	res.Others = make([]ID, 0, len(members)-1)
	for member := range members {
		if member != id {
			res.Others = append(res.Others, member)
		}
	}
	sortIDs(res.Others)
	return res, nil
}

// Leave removes id from its current room without disconnecting it. It returns
// the room left and the members that remain in it.
func (r *Registry) Leave(id ID) (roomKey string, remaining []ID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomKey, ok := r.conns[id]
	if !ok || roomKey == "" {
		return "", nil
	}
	r.conns[id] = ""
	return roomKey, r.removeMemberLocked(roomKey, id)
}

// Disconnect forgets id entirely. Membership is cleaned up before the identity
// is released so it can never be observed in a room after this returns. ok is
// false when id was not connected; exactly one of concurrent calls for the same
// id sees true.
func (r *Registry) Disconnect(id ID) (roomKey string, remaining []ID, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	roomKey, ok = r.conns[id]
	if !ok {
		return "", nil, false
	}
	if roomKey != "" {
		remaining = r.removeMemberLocked(roomKey, id)
	}
	delete(r.conns, id)
	return roomKey, remaining, true
}

func (r *Registry) Connected(id ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.conns[id]
	return ok
}

// RoomOf returns the room id is currently joined to.
func (r *Registry) RoomOf(id ID) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	roomKey, ok := r.conns[id]
	if !ok || roomKey == "" {
		return "", false
	}
	return roomKey, true
}

// Members returns the sorted member list of roomKey.
func (r *Registry) Members(roomKey string) []ID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.membersLocked(roomKey)
}

func (r *Registry) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Stats{Connections: len(r.conns), Rooms: len(r.rooms)}
}

// removeMemberLocked drops id from roomKey, deletes the room once it is empty,
// and returns the remaining members.
func (r *Registry) removeMemberLocked(roomKey string, id ID) []ID {
	members, ok := r.rooms[roomKey]
	if !ok {
		return nil
	}
	delete(members, id)
	if len(members) == 0 {
		delete(r.rooms, roomKey)
		return nil
	}
	return r.membersLocked(roomKey)
}

func (r *Registry) membersLocked(roomKey string) []ID {
	members := r.rooms[roomKey]
	if len(members) == 0 {
		return nil
	}
	out := make([]ID, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	sortIDs(out)
	return out
}

// sortIDs keeps fan-out order deterministic. The protocol does not require
// any particular order.
func sortIDs(ids []ID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
