// Package session implements the client adapter's session actor: the
// single goroutine that owns PlaybackState, the resume barrier, and the
// PeerObservation map, per SPEC_FULL.md §4.5 and §5's single-writer rule.
//
// The actor shape mirrors internal/relay/registry.Registry: a command
// channel drains into one run loop, and every exported method is a thin
// wrapper that posts a command and (where a reply is needed) waits on a
// reply channel. No session state is ever touched from any other
// goroutine.
package session

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/client/barrier"
	"github.com/rtldg/simulcast-mpv/internal/client/latency"
	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
	"github.com/rtldg/simulcast-mpv/internal/roomid"
	"github.com/rtldg/simulcast-mpv/internal/wire"
)

// seekJumpThreshold is the minimum local position jump that counts as a
// deliberate seek rather than ordinary playback drift, per SPEC_FULL.md §4.5.
const seekJumpThreshold = 1.5 // seconds

// pingInterval is how often the actor pings each known peer to keep its
// latency.Tracker estimates fresh, per SPEC_FULL.md §4.7.
const pingInterval = 3 * time.Second

// IPC is the subset of playeripc.Channel the session actor needs, so
// tests can substitute a fake.
type IPC interface {
	SetProperty(ctx context.Context, name string, value any) error
}

// Link is the subset of the client-relay link the session actor needs to
// send outbound messages and steer room membership.
type Link interface {
	Send(msg wire.Message) bool
	SetRoomID(roomID string)
}

// Actor is the client session's single-writer state machine.
type Actor struct {
	ipc  IPC
	link Link

	sharedSecret string

	cmds chan any
	done chan struct{}
}

// New constructs an Actor and starts its run loop.
func New(ipc IPC, link Link, sharedSecret string) *Actor {
	a := &Actor{
		ipc:          ipc,
		link:         link,
		sharedSecret: sharedSecret,
		cmds:         make(chan any, 256),
		done:         make(chan struct{}),
	}
	go a.run()
	a.scheduleNextPingTick()
	return a
}

func (a *Actor) scheduleNextPingTick() {
	time.AfterFunc(pingInterval, func() { a.post(pingTickCmd{}) })
}

// Close stops the actor.
func (a *Actor) Close() {
	close(a.cmds)
	<-a.done
}

// --- commands ---

type localPauseCmd struct {
	paused   bool
	position float64
}

type localSeekCmd struct {
	position float64
}

type localMediaChangeCmd struct {
	mediaIdentifier string
	duration        *float64
}

type fuckmpvCmd struct {
	value string
}

type localChatCmd struct {
	text string
}

// currentStateCmd lets the relay link fetch the actor's current
// PlaybackState to resend on join/rejoin, without the link ever touching
// actor state directly.
type currentStateCmd struct {
	reply chan wire.PlaybackState
}

type inboundCmd struct {
	msg          wire.Message
	fromMemberID string
}

type peerJoinedCmd struct {
	memberID string
	name     string
}

type peerLeftCmd struct {
	memberID string
}

type pingTickCmd struct{}

type resumeReadyTimeoutCmd struct {
	tag uint64
}

type scheduledResumeCmd struct {
	tag      uint64
	fireAt   time.Time
}

// snapshotCmd is used by tests to read actor state without a data race.
type snapshotCmd struct {
	reply chan Snapshot
}

// Snapshot is a read-only view of the actor's state, for tests and diagnostics.
type Snapshot struct {
	Local    wire.PlaybackState
	RoomID   string
	PeerIDs  []string
	Barrier  barrier.Role
	ChatLog  []ChatEntry
}

// --- public posting API ---

func (a *Actor) post(cmd any) {
	defer func() { recover() }() // posting to a closed actor is a no-op
	a.cmds <- cmd
}

// NotifyLocalPause reports a local pause/unpause transition observed from
// the player's "pause" property.
func (a *Actor) NotifyLocalPause(paused bool, position float64) {
	a.post(localPauseCmd{paused: paused, position: position})
}

// NotifyLocalSeek reports a local "time-pos" observation. The actor treats
// a jump of at least seekJumpThreshold as a deliberate seek and anything
// smaller as playback drift.
func (a *Actor) NotifyLocalSeek(position float64) {
	a.post(localSeekCmd{position: position})
}

// NotifyLocalMediaChange reports a local "path"/"filename" change.
func (a *Actor) NotifyLocalMediaChange(mediaIdentifier string, duration *float64) {
	a.post(localMediaChangeCmd{mediaIdentifier: mediaIdentifier, duration: duration})
}

// NotifyFuckmpv reports a write to user-data/simulcast/fuckmpv by the
// player-side script.
func (a *Actor) NotifyFuckmpv(value string) {
	a.post(fuckmpvCmd{value: value})
}

// NotifyLocalChat reports a chat message typed locally via the
// user-data/simulcast/text_chat property.
func (a *Actor) NotifyLocalChat(text string) {
	a.post(localChatCmd{text: text})
}

// CurrentState returns the actor's current PlaybackState, for the relay
// link to resend on join/rejoin per SPEC_FULL.md §4.6.
func (a *Actor) CurrentState() wire.PlaybackState {
	reply := make(chan wire.PlaybackState, 1)
	a.post(currentStateCmd{reply: reply})
	return <-reply
}

// HandleInbound routes one relay message into the actor.
func (a *Actor) HandleInbound(msg wire.Message, fromMemberID string) {
	a.post(inboundCmd{msg: msg, fromMemberID: fromMemberID})
}

// NotifyPeerJoined/NotifyPeerLeft track room membership for latency/barrier bookkeeping.
func (a *Actor) NotifyPeerJoined(memberID, name string) { a.post(peerJoinedCmd{memberID: memberID, name: name}) }
func (a *Actor) NotifyPeerLeft(memberID string)         { a.post(peerLeftCmd{memberID: memberID}) }

// Snapshot returns the actor's current state. Intended for tests.
func (a *Actor) Snapshot() Snapshot {
	reply := make(chan Snapshot, 1)
	a.post(snapshotCmd{reply: reply})
	return <-reply
}

// --- run loop ---

func (a *Actor) run() {
	defer close(a.done)

	st := &actorState{
		peers:   make(map[string]*PeerObservation),
		latency: latency.New(),
		barrier: barrier.New(),
	}
	// RoomId is derived at session start from an empty media identifier,
	// per spec.md §3, so the link has a valid room to join before any
	// media has loaded.
	st.roomID = roomid.Derive("", a.sharedSecret).String()
	a.link.SetRoomID(st.roomID)

	for cmd := range a.cmds {
		switch c := cmd.(type) {
		case localPauseCmd:
			a.handleLocalPause(st, c)
		case localSeekCmd:
			a.handleLocalSeek(st, c)
		case localMediaChangeCmd:
			a.handleLocalMediaChange(st, c)
		case fuckmpvCmd:
			a.handleFuckmpv(st, c)
		case localChatCmd:
			a.handleLocalChat(st, c)
		case currentStateCmd:
			c.reply <- st.local
		case inboundCmd:
			a.handleInbound(st, c)
		case peerJoinedCmd:
			st.peers[c.memberID] = &PeerObservation{MemberID: c.memberID, Name: c.name, LastSeen: time.Now()}
		case peerLeftCmd:
			delete(st.peers, c.memberID)
			st.latency.Forget(c.memberID)
		case pingTickCmd:
			a.handlePingTick(st)
			a.scheduleNextPingTick()
		case resumeReadyTimeoutCmd:
			a.handleResumeReadyTimeout(st, c)
		case scheduledResumeCmd:
			a.handleScheduledResumeFire(st, c)
		case snapshotCmd:
			c.reply <- a.snapshotOf(st)
		}
	}
}

type actorState struct {
	local        wire.PlaybackState
	roomID       string
	peers        map[string]*PeerObservation
	echo         echoSuppressor
	chat         chatLog
	latency      *latency.Tracker
	barrier      *barrier.Barrier
	initiatorTag uint64
	pendingTag   uint64
	bypassBarrier bool
}

func (a *Actor) snapshotOf(st *actorState) Snapshot {
	ids := make([]string, 0, len(st.peers))
	for id := range st.peers {
		ids = append(ids, id)
	}
	return Snapshot{Local: st.local, RoomID: st.roomID, PeerIDs: ids, Barrier: st.barrier.Role(), ChatLog: append([]ChatEntry(nil), st.chat.entries...)}
}

func (a *Actor) peerIDs(st *actorState) []string {
	ids := make([]string, 0, len(st.peers))
	for id := range st.peers {
		ids = append(ids, id)
	}
	return ids
}

// --- local player events ---

func (a *Actor) handleLocalPause(st *actorState, c localPauseCmd) {
	now := time.Now()
	if st.echo.matches("pause", c.paused, c.position, now) {
		// This transition was caused by our own remote-applied command; don't rebroadcast.
		st.local.Paused = c.paused
		st.local.PositionSeconds = c.position
		return
	}

	st.local.Paused = c.paused
	st.local.PositionSeconds = c.position

	if c.paused {
		a.link.Send(wire.New(&wire.Pause{Paused: true}))
		if st.barrier.Active() {
			st.barrier.Cancel("canceled_by_local_pause")
		}
		return
	}

	if st.bypassBarrier {
		a.link.Send(wire.New(&wire.Pause{Paused: false}))
		return
	}

	// Undo the local unpause and route it through the resume barrier instead,
	// per SPEC_FULL.md §4.5.
	st.local.Paused = true
	_ = a.ipc.SetProperty(context.Background(), "pause", true)
	a.beginResumeBarrier(st)
}

func (a *Actor) handleLocalSeek(st *actorState, c localSeekCmd) {
	jump := absDiff(c.position, st.local.PositionSeconds)
	if jump < seekJumpThreshold {
		// Ordinary playback drift, not a deliberate seek.
		st.local.PositionSeconds = c.position
		return
	}
	if st.echo.matches("seek", st.local.Paused, c.position, time.Now()) {
		// Explained by a remote seek we just applied; not a new local event.
		st.local.PositionSeconds = c.position
		return
	}

	st.local.PositionSeconds = c.position
	if st.barrier.Active() {
		st.barrier.Cancel("canceled_by_local_seek")
		st.local.Paused = true
		_ = a.ipc.SetProperty(context.Background(), "pause", true)
	}
	a.link.Send(wire.New(&wire.Seek{PositionSeconds: c.position, Paused: st.local.Paused}))
}

func (a *Actor) handleLocalMediaChange(st *actorState, c localMediaChangeCmd) {
	st.local.MediaIdentifier = c.mediaIdentifier
	st.local.DurationSeconds = c.duration

	rid := roomid.Derive(c.mediaIdentifier, a.sharedSecret)
	st.roomID = rid.String()
	_ = a.ipc.SetProperty(context.Background(), "user-data/simulcast/room_hash", st.roomID)

	// A changed media identifier means a changed RoomId; SetRoomID forces
	// the link to leave and rejoin under the new room if one is live.
	a.link.SetRoomID(st.roomID)
	a.link.Send(wire.New(&wire.State{PlaybackState: st.local}))
}

func (a *Actor) handleFuckmpv(st *actorState, c fuckmpvCmd) {
	switch c.value {
	case "queue_resume":
		if !st.barrier.Active() {
			a.beginResumeBarrier(st)
		}
	case "print_info":
		logging.Info(context.Background(), "status requested", zap.String("room_id", st.roomID), zap.Int("peers", len(st.peers)))
	case ".":
		// idle, nothing to do
	}
}

// handleLocalChat sends a chat message typed locally and appends it to
// the local chat ring, per spec.md's ChatEntry entity.
func (a *Actor) handleLocalChat(st *actorState, c localChatCmd) {
	text := c.text
	if len(text) == 0 {
		return
	}
	if len(text) > wire.MaxChatLength {
		text = text[:wire.MaxChatLength]
	}
	st.chat.append(ChatEntry{Text: text, At: time.Now()})
	a.publishLatestChat(st)
	a.link.Send(wire.New(&wire.Chat{Text: text}))
}

// publishLatestChat writes the chat ring's newest entry to the player's
// latest-chat-message property so the player-side script can render it.
func (a *Actor) publishLatestChat(st *actorState) {
	entry, ok := st.chat.latest()
	if !ok {
		return
	}
	sender := "you"
	if entry.SenderMemberID != "" {
		sender = entry.SenderMemberID
		if peer, ok := st.peers[entry.SenderMemberID]; ok && peer.Name != "" {
			sender = peer.Name
		}
	}
	rendered := fmt.Sprintf("%s: %s", sender, entry.Text)
	_ = a.ipc.SetProperty(context.Background(), "user-data/simulcast/latest-chat-message", rendered)
}

// --- inbound relay messages ---

func (a *Actor) handleInbound(st *actorState, c inboundCmd) {
	now := time.Now()
	switch c.msg.Type {
	case wire.TypeState:
		a.applyInboundState(st, c, now)
	case wire.TypeSeek:
		a.applyInboundSeek(st, c, now)
	case wire.TypePause:
		a.applyInboundPause(st, c, now)
	case wire.TypeResumeRequest:
		a.applyInboundResumeRequest(st, c)
	case wire.TypeResumeReady:
		a.applyInboundResumeReady(st, c)
	case wire.TypePong:
		a.applyInboundPong(st, c, now)
	case wire.TypeChat:
		a.applyInboundChat(st, c, now)
	}
}

// applyInboundChat appends a peer's chat message to the chat ring and
// surfaces it to the player-side script. Chat has no echo to suppress:
// it's never re-applied to a local property that could loop back.
func (a *Actor) applyInboundChat(st *actorState, c inboundCmd, now time.Time) {
	if c.msg.Chat == nil {
		return
	}
	st.chat.append(ChatEntry{SenderMemberID: c.fromMemberID, Text: c.msg.Chat.Text, At: now})
	a.publishLatestChat(st)
}

func (a *Actor) applyInboundState(st *actorState, c inboundCmd, now time.Time) {
	if c.msg.State == nil {
		return
	}
	obs, ok := st.peers[c.fromMemberID]
	if !ok {
		obs = &PeerObservation{MemberID: c.fromMemberID}
		st.peers[c.fromMemberID] = obs
	}
	obs.LastState = c.msg.State.PlaybackState
	obs.LastSeen = now

	if c.msg.State.ResumeAtUnixMillis == 0 || st.barrier.Role() != barrier.RoleFollower {
		return
	}
	rtt := st.latency.RTT(c.fromMemberID)
	delay := barrier.FollowerFireDelay(c.msg.State.ResumeAtUnixMillis, rtt)
	st.pendingTag++
	tag := st.pendingTag
	time.AfterFunc(delay, func() {
		a.post(scheduledResumeCmd{tag: tag, fireAt: time.Now()})
	})
}

func (a *Actor) applyInboundSeek(st *actorState, c inboundCmd, now time.Time) {
	if c.msg.Seek == nil {
		return
	}
	st.echo.record("seek", c.msg.Seek.Paused, c.msg.Seek.PositionSeconds, now)
	st.local.PositionSeconds = c.msg.Seek.PositionSeconds
	st.local.Paused = c.msg.Seek.Paused
	_ = a.ipc.SetProperty(context.Background(), "time-pos", c.msg.Seek.PositionSeconds)
	_ = a.ipc.SetProperty(context.Background(), "pause", c.msg.Seek.Paused)
}

func (a *Actor) applyInboundPause(st *actorState, c inboundCmd, now time.Time) {
	if c.msg.Pause == nil {
		return
	}
	if c.msg.Pause.Paused && st.barrier.Active() {
		// Cancellation rule: a pause{true} from any peer aborts an in-flight barrier.
		st.barrier.Cancel("canceled_by_remote_pause")
	}
	st.echo.record("pause", c.msg.Pause.Paused, st.local.PositionSeconds, now)
	st.local.Paused = c.msg.Pause.Paused
	_ = a.ipc.SetProperty(context.Background(), "pause", c.msg.Pause.Paused)
}

func (a *Actor) applyInboundResumeRequest(st *actorState, c inboundCmd) {
	if !st.local.Paused {
		return
	}
	st.barrier.BeginFollower(c.fromMemberID)
	a.link.Send(wire.New(&wire.ResumeReady{InitiatorTag: c.msg.ResumeRequest.InitiatorTag}))
}

func (a *Actor) applyInboundResumeReady(st *actorState, c inboundCmd) {
	if st.barrier.Role() != barrier.RoleInitiator {
		return
	}
	if !st.barrier.RecordReady(c.fromMemberID) {
		return
	}
	a.fireInitiatorResume(st)
}

// handlePingTick sends one targeted ping to each known peer so the
// latency.Tracker's RTT estimates stay fresh for the resume-barrier math.
func (a *Actor) handlePingTick(st *actorState) {
	for id := range st.peers {
		a.link.Send(wire.New(&wire.Ping{
			TargetMemberID: id,
			Nonce:          rand.Uint64(),
			SendMonoMillis: time.Now().UnixMilli(),
		}))
	}
}

func (a *Actor) applyInboundPong(st *actorState, c inboundCmd, now time.Time) {
	if c.msg.Pong == nil {
		return
	}
	sentAt := time.UnixMilli(c.msg.Pong.SendMonoMillis)
	rtt := now.Sub(sentAt)
	if rtt > 0 {
		st.latency.Record(c.fromMemberID, rtt)
	}
}

// --- resume barrier orchestration ---

func (a *Actor) beginResumeBarrier(st *actorState) {
	peers := a.peerIDs(st)
	st.initiatorTag++
	tag := st.initiatorTag
	st.barrier.BeginInitiator(peers)

	a.link.Send(wire.New(&wire.ResumeRequest{InitiatorTag: tag}))

	if len(peers) == 0 {
		a.fireInitiatorResume(st)
		return
	}

	time.AfterFunc(barrier.ResumeReadyTimeout, func() {
		a.post(resumeReadyTimeoutCmd{tag: tag})
	})
}

func (a *Actor) handleResumeReadyTimeout(st *actorState, c resumeReadyTimeoutCmd) {
	if st.barrier.Role() != barrier.RoleInitiator {
		return
	}
	a.fireInitiatorResume(st)
}

func (a *Actor) fireInitiatorResume(st *actorState) {
	if st.barrier.Role() != barrier.RoleInitiator {
		return
	}
	peers := a.peerIDs(st)
	maxRTT := st.latency.Max(peers)
	offsetMs := barrier.InitiatorOffsetMs(maxRTT)

	st.local.Paused = false
	_ = a.ipc.SetProperty(context.Background(), "pause", false)
	a.link.Send(wire.New(&wire.State{PlaybackState: st.local, ResumeAtUnixMillis: offsetMs}))
	st.barrier.Complete("resumed")
}

func (a *Actor) handleScheduledResumeFire(st *actorState, c scheduledResumeCmd) {
	if st.barrier.Role() != barrier.RoleFollower {
		return
	}
	st.echo.record("pause", false, st.local.PositionSeconds, time.Now())
	st.local.Paused = false
	_ = a.ipc.SetProperty(context.Background(), "pause", false)
	st.barrier.Complete("resumed")
	metrics.BarrierOutcomes.WithLabelValues("follower_fired").Inc()
}

func absDiff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
