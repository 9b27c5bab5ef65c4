// Package registry implements the relay's room registry: the process-wide
// mapping from RoomId to the set of currently connected members, per
// SPEC_FULL.md §4.2.
//
// The registry is a single-writer actor (one goroutine owns the rooms map
// exclusively, per SPEC_FULL.md §3's ownership invariant and §5's
// single-writer-per-room rule) driven by a command channel, the same shape
// the teacher repo uses for its Hub's mutex-guarded map — generalized here
// to a channel so the registry never blocks a caller on internal lock
// contention, only on the (bounded) command queue itself.
package registry

import (
	"context"
	"time"

	"github.com/rtldg/simulcast-mpv/internal/metrics"
)

// Member is anything the registry can route wire bytes to. Sessions
// implement this; tests use fakes.
type Member interface {
	ID() string
	Name() string
	// Send enqueues data for delivery and must never block. It returns
	// false if the outbound queue was full or already closed — the
	// registry treats that as a delivery failure for this peer only,
	// per the best-effort broadcast semantics in SPEC_FULL.md §4.2.
	Send(data []byte) bool
}

// MemberSnapshot is an immutable view of one room member, safe to read
// without holding any lock.
type MemberSnapshot struct {
	ID   string
	Name string
}

// Registry is the relay's single room registry. The zero value is not
// usable; construct with New.
type Registry struct {
	cmds chan any
	done chan struct{}
}

// New starts the registry actor goroutine and returns a handle to it.
func New() *Registry {
	r := &Registry{
		cmds: make(chan any, 256),
		done: make(chan struct{}),
	}
	go r.run()
	return r
}

// Close stops the registry actor. Pending commands are drained but no new
// ones are accepted afterward.
func (r *Registry) Close() {
	close(r.cmds)
	<-r.done
}

type joinCmd struct {
	member Member
	roomID string
	reply  chan joinResult
}

type joinResult struct {
	members []MemberSnapshot
}

type leaveCmd struct {
	memberID string
	reply    chan leaveResult
}

type leaveResult struct {
	roomID      string
	wasMember   bool
	name        string
	remaining   []MemberSnapshot
	roomDeleted bool
}

type broadcastCmd struct {
	roomID       string
	fromMemberID string
	payload      []byte
	msgType      string
	remote       bool // true if this broadcast arrived from another relay instance via the bus
}

type setFanoutCmd struct {
	fn func(roomID, fromMemberID, msgType string, payload []byte)
}

type sendToCmd struct {
	roomID         string
	targetMemberID string
	payload        []byte
}

type snapshotCmd struct {
	roomID string
	reply  chan []MemberSnapshot
}

// room is mutated only by the registry's run loop.
type room struct {
	id        string
	order     []string // member IDs, insertion order, for deterministic fan-out
	members   map[string]Member
	createdAt time.Time
}

func newRoom(id string) *room {
	return &room{
		id:        id,
		members:   make(map[string]Member),
		createdAt: time.Now(),
	}
}

func (rm *room) snapshot() []MemberSnapshot {
	out := make([]MemberSnapshot, 0, len(rm.order))
	for _, id := range rm.order {
		m := rm.members[id]
		out = append(out, MemberSnapshot{ID: m.ID(), Name: m.Name()})
	}
	return out
}

// run is the registry actor's single goroutine. All map mutation happens
// here and nowhere else.
func (r *Registry) run() {
	defer close(r.done)

	rooms := make(map[string]*room)       // roomID -> room
	memberRoom := make(map[string]string) // memberID -> roomID, for Leave lookups
	var fanout func(roomID, fromMemberID, msgType string, payload []byte)

	for cmd := range r.cmds {
		switch c := cmd.(type) {
		case setFanoutCmd:
			fanout = c.fn
		case joinCmd:
			rm, ok := rooms[c.roomID]
			if !ok {
				rm = newRoom(c.roomID)
				rooms[c.roomID] = rm
				metrics.ActiveRooms.Inc()
			}
			rm.order = append(rm.order, c.member.ID())
			rm.members[c.member.ID()] = c.member
			memberRoom[c.member.ID()] = c.roomID
			metrics.RoomMembers.WithLabelValues(c.roomID).Set(float64(len(rm.members)))

			if c.reply != nil {
				c.reply <- joinResult{members: rm.snapshot()}
			}

		case leaveCmd:
			roomID, ok := memberRoom[c.memberID]
			if !ok {
				if c.reply != nil {
					c.reply <- leaveResult{wasMember: false}
				}
				continue
			}
			delete(memberRoom, c.memberID)

			rm := rooms[roomID]
			name := ""
			if m, present := rm.members[c.memberID]; present {
				name = m.Name()
			}
			delete(rm.members, c.memberID)
			for i, id := range rm.order {
				if id == c.memberID {
					rm.order = append(rm.order[:i], rm.order[i+1:]...)
					break
				}
			}

			res := leaveResult{roomID: roomID, wasMember: true, name: name, remaining: rm.snapshot()}
			if len(rm.members) == 0 {
				delete(rooms, roomID)
				metrics.ActiveRooms.Dec()
				metrics.RoomMembers.DeleteLabelValues(roomID)
				res.roomDeleted = true
			} else {
				metrics.RoomMembers.WithLabelValues(roomID).Set(float64(len(rm.members)))
			}
			if c.reply != nil {
				c.reply <- res
			}

		case broadcastCmd:
			rm, ok := rooms[c.roomID]
			if !ok {
				continue
			}
			// Iterate insertion order so that, for a single originating
			// member, the relative delivery order across a goroutine-safe
			// snapshot is stable across calls — the ordering guarantee in
			// SPEC_FULL.md §4.2 is about per-sender FIFO on the wire, which
			// is already provided by each session's own single writer
			// goroutine; this loop only needs to not skip members.
			for _, id := range rm.order {
				if id == c.fromMemberID {
					continue
				}
				if !rm.members[id].Send(c.payload) {
					metrics.BroadcastDropped.WithLabelValues("queue_full").Inc()
				}
			}
			metrics.MessagesRouted.WithLabelValues(c.msgType).Inc()

			if !c.remote && fanout != nil {
				fanout(c.roomID, c.fromMemberID, c.msgType, c.payload)
			}

		case sendToCmd:
			rm, ok := rooms[c.roomID]
			if !ok {
				continue
			}
			target, ok := rm.members[c.targetMemberID]
			if !ok {
				continue
			}
			if !target.Send(c.payload) {
				metrics.BroadcastDropped.WithLabelValues("queue_full").Inc()
			}

		case snapshotCmd:
			rm, ok := rooms[c.roomID]
			if !ok {
				c.reply <- nil
				continue
			}
			c.reply <- rm.snapshot()
		}
	}
}

// Join inserts member at the tail of the named room's member list,
// creating the room if it doesn't exist, and returns a snapshot of the
// room's membership including the new member.
func (r *Registry) Join(ctx context.Context, member Member, roomID string) ([]MemberSnapshot, error) {
	reply := make(chan joinResult, 1)
	select {
	case r.cmds <- joinCmd{member: member, roomID: roomID, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.members, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Leave removes memberID from whatever room it belongs to. If the room
// becomes empty it is destroyed. Returns the room ID it was removed from,
// the member's display name, and the membership remaining after removal.
// Calling Leave for a member that isn't registered is a no-op.
func (r *Registry) Leave(ctx context.Context, memberID string) (roomID, name string, remaining []MemberSnapshot, wasMember bool, err error) {
	reply := make(chan leaveResult, 1)
	select {
	case r.cmds <- leaveCmd{memberID: memberID, reply: reply}:
	case <-ctx.Done():
		return "", "", nil, false, ctx.Err()
	}
	select {
	case res := <-reply:
		return res.roomID, res.name, res.remaining, res.wasMember, nil
	case <-ctx.Done():
		return "", "", nil, false, ctx.Err()
	}
}

// Broadcast delivers payload to every member of roomID except fromMemberID.
// Delivery is best-effort per SPEC_FULL.md §4.2: a send failure to one
// peer never aborts delivery to the rest, and never blocks the caller.
func (r *Registry) Broadcast(roomID, fromMemberID string, payload []byte, msgType string) {
	// Non-blocking best-effort enqueue: if the registry's own command queue
	// is saturated, this single broadcast is dropped rather than blocking
	// the calling session's reader goroutine indefinitely.
	select {
	case r.cmds <- broadcastCmd{roomID: roomID, fromMemberID: fromMemberID, payload: payload, msgType: msgType}:
	default:
		metrics.BroadcastDropped.WithLabelValues("registry_backpressure").Inc()
	}
}

// SetFanout registers a callback invoked once per locally-originated
// Broadcast, so the relay's server can republish it to other relay
// instances via the optional cross-instance bus. Never called for
// broadcasts that arrived via BroadcastRemote, which prevents a publish
// echo loop between instances.
func (r *Registry) SetFanout(fn func(roomID, fromMemberID, msgType string, payload []byte)) {
	select {
	case r.cmds <- setFanoutCmd{fn: fn}:
	default:
	}
}

// BroadcastRemote delivers payload to every local member of roomID on
// behalf of a broadcast that originated on another relay instance. Unlike
// Broadcast, it never triggers the fanout callback.
func (r *Registry) BroadcastRemote(roomID, fromMemberID string, payload []byte, msgType string) {
	select {
	case r.cmds <- broadcastCmd{roomID: roomID, fromMemberID: fromMemberID, payload: payload, msgType: msgType, remote: true}:
	default:
		metrics.BroadcastDropped.WithLabelValues("registry_backpressure").Inc()
	}
}

// SendTo delivers payload to exactly one member of roomID, used for
// per-peer ping routing per SPEC_FULL.md §4.3.
func (r *Registry) SendTo(roomID, targetMemberID string, payload []byte) {
	select {
	case r.cmds <- sendToCmd{roomID: roomID, targetMemberID: targetMemberID, payload: payload}:
	default:
		metrics.BroadcastDropped.WithLabelValues("registry_backpressure").Inc()
	}
}

// Snapshot returns the current membership of roomID, or nil if the room
// doesn't exist. Intended for tests and diagnostics.
func (r *Registry) Snapshot(ctx context.Context, roomID string) ([]MemberSnapshot, error) {
	reply := make(chan []MemberSnapshot, 1)
	select {
	case r.cmds <- snapshotCmd{roomID: roomID, reply: reply}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-reply:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
