// Package link implements the client adapter's WebSocket connection to
// the relay, per SPEC_FULL.md §4.6: automatic reconnect with jittered
// exponential backoff, rejoin-on-reconnect, and a bounded send queue that
// drops ping traffic first under backpressure.
package link

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/client/session"
	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
	"github.com/rtldg/simulcast-mpv/internal/wire"
)

const (
	sendQueueDepth = 64
	writeWait      = 10 * time.Second
	dialTimeout    = 10 * time.Second
)

// wsConn is the subset of *websocket.Conn readLoop/writeLoop need, so
// tests can substitute an in-memory fake. Mirrors the relay session
// package's identical seam.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Link owns one logical connection to the relay, reconnecting
// transparently underneath. Inbound messages are forwarded to the
// session actor; HandleInbound calls never block.
type Link struct {
	relayURL    string
	displayName string
	actor       *session.Actor

	send chan wire.Message

	mu           sync.Mutex
	roomID       string // target room; updated by SetRoomID
	joinedRoomID string // room actually joined on the live connection, if any
	conn         wsConn // the live connection, so SetRoomID can force a rejoin

	memberID string
}

// New constructs a Link. actor may be nil if the caller hasn't
// constructed the session actor yet (the two are mutually referential:
// the actor needs a Link to send through, and the link needs the actor
// to forward inbound frames into) — call SetActor once the actor exists,
// before Run starts. roomID is the room to join once connected; SetRoomID
// updates it later, e.g. when the locally playing media changes.
func New(relayURL, roomID, displayName string, actor *session.Actor) *Link {
	return &Link{
		relayURL:    relayURL,
		roomID:      roomID,
		displayName: displayName,
		actor:       actor,
		send:        make(chan wire.Message, sendQueueDepth),
	}
}

// SetActor binds the session actor this link forwards inbound frames
// into. Must be called before Run, if New was given a nil actor.
func (l *Link) SetActor(actor *session.Actor) { l.actor = actor }

// Connected reports whether the link currently has a live, joined
// connection to the relay, for the heartbeat task's "only while
// connected" condition in spec.md §4.9.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.conn != nil && l.joinedRoomID != ""
}

// SetRoomID updates the room this link should be joined to. If a
// different room is already joined on the live connection, the
// connection is closed to force Run's reconnect loop to dial again and
// join the new room, per SPEC_FULL.md §4.5's "send a fresh state after
// reconnecting/rejoining the new room" rule.
func (l *Link) SetRoomID(roomID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if roomID == l.roomID {
		return
	}
	l.roomID = roomID
	if l.conn != nil && l.joinedRoomID != "" && l.joinedRoomID != roomID {
		_ = l.conn.Close()
	}
}

func (l *Link) targetRoomID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.roomID
}

func (l *Link) setActiveConn(conn wsConn) {
	l.mu.Lock()
	l.conn = conn
	l.joinedRoomID = ""
	l.mu.Unlock()
}

func (l *Link) clearActiveConn() {
	l.mu.Lock()
	l.conn = nil
	l.joinedRoomID = ""
	l.mu.Unlock()
}

func (l *Link) markJoined(roomID string) {
	l.mu.Lock()
	l.joinedRoomID = roomID
	l.mu.Unlock()
}

// Send enqueues an outbound message without blocking. When the queue is
// full, a ping is dropped outright (it's resent on the next timer tick
// anyway); any other message takes the slot of the oldest queued message
// if that one is a ping, and is dropped otherwise. Every drop is counted
// in the broadcast_dropped metric, matching the relay registry's
// best-effort semantics.
func (l *Link) Send(msg wire.Message) bool {
	select {
	case l.send <- msg:
		return true
	default:
	}

	if msg.Type == wire.TypePing {
		metrics.BroadcastDropped.WithLabelValues("link_backpressure_ping").Inc()
		return false
	}

	// Make room by discarding the oldest queued message if it is a ping,
	// then retry once.
	select {
	case queued := <-l.send:
		if queued.Type != wire.TypePing {
			// Put back a non-ping we shouldn't have discarded.
			select {
			case l.send <- queued:
			default:
			}
		}
	default:
	}

	select {
	case l.send <- msg:
		return true
	default:
		metrics.BroadcastDropped.WithLabelValues("link_backpressure").Inc()
		return false
	}
}

// Run drives the connect/reconnect loop until ctx is canceled.
func (l *Link) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.Multiplier = 2.0
	bo.MaxInterval = 30 * time.Second
	bo.RandomizationFactor = 0.5
	bo.MaxElapsedTime = 0 // reconnect forever; the relay link never gives up

	for {
		if ctx.Err() != nil {
			return
		}

		err := l.runOnce(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logging.Warn(ctx, "relay link disconnected", zap.Error(err))
		}

		metrics.ReconnectAttempts.Inc()
		select {
		case <-time.After(bo.NextBackOff()):
		case <-ctx.Done():
			return
		}
	}
}

// runOnce dials, joins, and serves one connection lifetime. It returns
// when the connection drops or ctx is canceled.
func (l *Link) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, l.relayURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	l.setActiveConn(conn)
	defer l.clearActiveConn()

	readerDone := make(chan error, 1)
	go func() { readerDone <- l.readLoop(ctx, conn) }()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		l.writeLoop(ctx, conn)
	}()

	select {
	case err := <-readerDone:
		_ = conn.Close()
		<-writerDone
		return err
	case <-ctx.Done():
		_ = conn.Close()
		<-writerDone
		<-readerDone
		return nil
	}
}

func (l *Link) readLoop(ctx context.Context, conn wsConn) error {
	joined := false
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := wire.Decode(data)
		if err != nil {
			logging.Warn(ctx, "relay link: malformed frame", zap.Error(err))
			continue
		}

		switch msg.Type {
		case wire.TypeHello:
			l.memberID = msg.Hello.MemberID
			roomID := l.targetRoomID()
			l.markJoined(roomID)
			l.Send(wire.New(&wire.Join{RoomID: roomID, DisplayName: l.displayName, ProtocolVersion: wire.ProtocolVersion}))
		case wire.TypeJoined:
			joined = true
			for _, m := range msg.Joined.Members {
				if m.MemberID != l.memberID {
					l.actor.NotifyPeerJoined(m.MemberID, m.Name)
				}
			}
			// Resend current state on every successful join/rejoin, so peers
			// already in the room (and any we just reconnected past) see
			// where we are without waiting for our next local event.
			l.Send(wire.New(&wire.State{PlaybackState: l.actor.CurrentState()}))
		case wire.TypePeerJoined:
			if joined {
				l.actor.NotifyPeerJoined(msg.PeerJoined.MemberID, msg.PeerJoined.Name)
			}
		case wire.TypePeerLeft:
			l.actor.NotifyPeerLeft(msg.PeerLeft.MemberID)
		case wire.TypePing:
			// The relay unicasts ping frames only to their named target, so
			// receipt alone means this frame is addressed to us; echo it
			// straight back without bothering the session actor.
			if msg.Ping != nil {
				l.Send(wire.New(&wire.Pong{Nonce: msg.Ping.Nonce, SendMonoMillis: msg.Ping.SendMonoMillis}))
			}
		default:
			// The relay stamps SenderMemberID on every frame it broadcasts
			// or routes, so the session actor can attribute state/seek/
			// pause/resume/pong frames to the right peer.
			l.actor.HandleInbound(msg, msg.SenderMemberID)
		}
	}
}

func (l *Link) writeLoop(ctx context.Context, conn wsConn) {
	for {
		select {
		case msg := <-l.send:
			data, err := wire.Encode(msg)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
