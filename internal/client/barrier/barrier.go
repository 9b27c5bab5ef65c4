// Package barrier implements the resume-barrier math and pending-state
// bookkeeping described in SPEC_FULL.md §4.8: coordinating a
// near-simultaneous unpause across peers despite asymmetric network
// latency.
//
// Barrier itself owns no timers — per spec.md §5's single-writer rule,
// all timers (time.Timer/time.AfterFunc) are owned exclusively by the
// client session actor, mirroring the teacher's Hub.removeRoom
// grace-period timer, which is likewise armed and canceled from the one
// goroutine that owns the relevant state. Barrier only tracks who has
// replied and computes the deadlines; the session actor arms and fires
// the actual timers.
package barrier

import (
	"time"

	"github.com/rtldg/simulcast-mpv/internal/metrics"
)

// ResumeReadyTimeout bounds how long an initiator waits for resume_ready
// from every known peer before proceeding with whatever subset replied.
const ResumeReadyTimeout = 1500 * time.Millisecond

// grace is added on top of the worst-case one-way latency to absorb
// scheduling jitter on the slowest peer.
const grace = 50 * time.Millisecond

// Role identifies which side of a resume barrier this client is playing.
type Role int

const (
	// RoleNone: no barrier in flight.
	RoleNone Role = iota
	// RoleInitiator: this client pressed play and is coordinating the group resume.
	RoleInitiator
	// RoleFollower: this client received a resume_request and is waiting
	// for the initiator's scheduled resume.
	RoleFollower
)

// Pending describes an in-flight resume barrier.
type Pending struct {
	Role        Role
	InitiatorID string // set when Role == RoleFollower
	Peers       []string // expected peers, set when Role == RoleInitiator
	ready       map[string]bool
}

// Barrier tracks at most one in-flight resume coordination at a time.
type Barrier struct {
	pending *Pending
}

// New constructs an idle Barrier.
func New() *Barrier { return &Barrier{} }

// BeginInitiator starts a barrier expecting resume_ready from each of peerIDs.
func (b *Barrier) BeginInitiator(peerIDs []string) {
	ready := make(map[string]bool, len(peerIDs))
	b.pending = &Pending{Role: RoleInitiator, Peers: append([]string(nil), peerIDs...), ready: ready}
}

// BeginFollower marks this client as awaiting a scheduled resume from initiatorID.
func (b *Barrier) BeginFollower(initiatorID string) {
	b.pending = &Pending{Role: RoleFollower, InitiatorID: initiatorID}
}

// Active reports whether a barrier is currently in flight.
func (b *Barrier) Active() bool { return b.pending != nil }

// Role returns the role of the in-flight barrier, or RoleNone if idle.
func (b *Barrier) Role() Role {
	if b.pending == nil {
		return RoleNone
	}
	return b.pending.Role
}

// RecordReady marks peerID as having replied resume_ready. Returns true
// once every peer named in BeginInitiator has replied. Only meaningful
// for RoleInitiator; a no-op otherwise.
func (b *Barrier) RecordReady(peerID string) bool {
	if b.pending == nil || b.pending.Role != RoleInitiator {
		return false
	}
	b.pending.ready[peerID] = true
	for _, p := range b.pending.Peers {
		if !b.pending.ready[p] {
			return false
		}
	}
	return true
}

// Cancel clears any in-flight barrier, e.g. on a pause{true} arriving
// before the deadline (spec.md's cancellation rule).
func (b *Barrier) Cancel(outcome string) {
	if b.pending != nil {
		metrics.BarrierOutcomes.WithLabelValues(outcome).Inc()
	}
	b.pending = nil
}

// Complete clears the barrier after it runs to completion (not canceled).
func (b *Barrier) Complete(outcome string) {
	metrics.BarrierOutcomes.WithLabelValues(outcome).Inc()
	b.pending = nil
}

// InitiatorOffsetMs computes the deadline offset, in milliseconds from
// now, that the initiator broadcasts alongside its scheduled resume, per
// spec.md §4.8 step 3: max(RTT_i)/2 + grace.
func InitiatorOffsetMs(maxRTT time.Duration) int64 {
	return (maxRTT / 2).Milliseconds() + grace.Milliseconds()
}

// FollowerFireDelay computes how long a follower should wait, from the
// moment it received the scheduled-resume message, before unpausing, per
// spec.md §4.8 step 4: the initiator's offset minus this peer's estimated
// one-way latency to the initiator. Never negative.
func FollowerFireDelay(offsetMs int64, rttToInitiator time.Duration) time.Duration {
	oneWay := rttToInitiator / 2
	delay := time.Duration(offsetMs)*time.Millisecond - oneWay
	if delay < 0 {
		return 0
	}
	return delay
}
