// Package session implements one relay connection's state machine, per
// SPEC_FULL.md §4.3:
//
//	AwaitingHello -> HelloSent -> AwaitingJoin -> Joined -> Closing -> Closed
//
// Each Session owns exactly one WebSocket connection and one registry
// membership record, mirroring the teacher repo's one-goroutine-pair-per-
// connection (reader + writer) transport.Client, generalized from binary
// protobuf framing to the line-delimited JSON wire codec in package wire.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
	"github.com/rtldg/simulcast-mpv/internal/relay/registry"
	"github.com/rtldg/simulcast-mpv/internal/roomid"
	"github.com/rtldg/simulcast-mpv/internal/wire"
	"go.uber.org/zap"
)

// State is one node of the per-connection state machine in SPEC_FULL.md §4.3.
type State int

const (
	AwaitingHello State = iota
	HelloSent
	AwaitingJoin
	Joined
	Closing
	Closed
)

// wsConn is the subset of *websocket.Conn a Session needs, so tests can
// substitute an in-memory fake. Mirrors the teacher's wsConnection seam.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

const (
	writeWait      = 10 * time.Second
	handshakeWait  = 10 * time.Second
	sendQueueDepth = 64
)

// Session represents one accepted relay connection.
type Session struct {
	conn    wsConn
	reg     *registry.Registry
	repoURL string

	memberID    string
	displayName string
	roomID      string

	state State

	send chan []byte

	closeOnce func()
}

// New constructs a Session for an accepted connection. Call Run to drive
// its handshake and message loop; Run blocks until the connection ends.
func New(conn wsConn, reg *registry.Registry, repoURL string) *Session {
	return &Session{
		conn:     conn,
		reg:      reg,
		repoURL:  repoURL,
		memberID: uuid.NewString(),
		state:    AwaitingHello,
		send:     make(chan []byte, sendQueueDepth),
	}
}

// ID satisfies registry.Member.
func (s *Session) ID() string { return s.memberID }

// Name satisfies registry.Member.
func (s *Session) Name() string { return s.displayName }

// Send satisfies registry.Member: non-blocking enqueue onto this
// session's own writer goroutine.
func (s *Session) Send(data []byte) bool {
	select {
	case s.send <- data:
		return true
	default:
		return false
	}
}

// Run drives the session to completion: handshake, join, message loop,
// then teardown. It blocks until the connection closes or ctx is canceled.
func (s *Session) Run(ctx context.Context) {
	metrics.ActiveConnections.Inc()
	defer metrics.ActiveConnections.Dec()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writePump()
	}()

	s.handshakeAndServe(ctx)

	// Leave the room before closing the send queue, so the registry can no
	// longer route to this session once the queue is closed.
	if s.state == Joined || s.roomID != "" {
		s.leaveRoom(ctx)
	}

	close(s.send)
	<-writerDone
	_ = s.conn.Close()
}

func (s *Session) handshakeAndServe(ctx context.Context) {
	hello := wire.New(&wire.Hello{
		ProtocolVersion: wire.ProtocolVersion,
		MemberID:        s.memberID,
		RepoURL:         s.repoURL,
	})
	if !s.enqueue(hello) {
		s.close("hello queue full")
		return
	}
	s.state = HelloSent
	s.state = AwaitingJoin

	hctx, cancel := context.WithTimeout(ctx, handshakeWait)
	defer cancel()

	msg, err := s.readOne(hctx)
	if err != nil {
		logging.Debug(ctx, "handshake read failed", zap.String("member_id", s.memberID), zap.Error(err))
		s.close("handshake timeout or read error")
		return
	}
	if msg.Type != wire.TypeJoin || msg.Join == nil {
		metrics.ProtocolErrors.WithLabelValues("expected_join").Inc()
		s.close("first frame must be join")
		return
	}
	if _, err := roomid.Parse(msg.Join.RoomID); err != nil {
		metrics.ProtocolErrors.WithLabelValues("malformed_room_id").Inc()
		s.close("malformed room id")
		return
	}
	if msg.Join.ProtocolVersion != wire.ProtocolVersion {
		metrics.ProtocolErrors.WithLabelValues("protocol_version_mismatch").Inc()
		s.close("protocol version mismatch")
		return
	}

	s.roomID = msg.Join.RoomID
	s.displayName = msg.Join.DisplayName

	members, err := s.reg.Join(ctx, s, s.roomID)
	if err != nil {
		s.close("registry join failed")
		return
	}
	s.state = Joined

	infos := make([]wire.MemberInfo, len(members))
	for i, m := range members {
		infos[i] = wire.MemberInfo{MemberID: m.ID, Name: m.Name}
	}
	if !s.enqueue(wire.New(&wire.Joined{Members: infos})) {
		s.close("joined queue full")
		return
	}

	s.reg.Broadcast(s.roomID, s.memberID, s.mustEncode(wire.New(&wire.PeerJoined{MemberID: s.memberID, Name: s.displayName})), "peer_joined")

	logging.Info(logging.WithRoom(logging.WithMember(ctx, s.memberID), s.roomID), "member joined room")

	s.serve(ctx)
}

// serve is the Joined-state message loop: forward everything routable,
// reject anything structurally broken.
func (s *Session) serve(ctx context.Context) {
	for {
		msg, err := s.readOne(ctx)
		if err != nil {
			return
		}

		switch msg.Type {
		case wire.TypeBye:
			s.close("peer said bye")
			return
		case wire.TypeState, wire.TypeSeek, wire.TypePause,
			wire.TypeResumeReq, wire.TypeResumeReady, wire.TypeChat:
			s.reg.Broadcast(s.roomID, s.memberID, s.mustEncode(wire.WithSender(msg, s.memberID)), string(msg.Type))
		case wire.TypePing:
			if msg.Ping != nil && msg.Ping.TargetMemberID != "" {
				s.reg.SendTo(s.roomID, msg.Ping.TargetMemberID, s.mustEncode(wire.WithSender(msg, s.memberID)))
			}
		case wire.TypePong:
			// Pong has no explicit target on the wire, and the relay doesn't
			// track in-flight pings, so it broadcasts the pong to the room and
			// stamps the sender so every peer can attribute the RTT sample
			// to the right member, discarding pongs for nonces they don't
			// recognize as their own.
			s.reg.Broadcast(s.roomID, s.memberID, s.mustEncode(wire.WithSender(msg, s.memberID)), string(msg.Type))
		case wire.TypeHello, wire.TypeJoin, wire.TypeJoined, wire.TypePeerJoined, wire.TypePeerLeft:
			metrics.ProtocolErrors.WithLabelValues("unexpected_variant").Inc()
			s.close("unexpected message type after join")
			return
		default:
			// Unknown/forward-compat variant: still routed per SPEC_FULL.md §4.1.
			s.reg.Broadcast(s.roomID, s.memberID, s.mustEncode(wire.WithSender(msg, s.memberID)), "unknown")
		}
	}
}

func (s *Session) leaveRoom(ctx context.Context) {
	roomID, name, _, wasMember, err := s.reg.Leave(context.Background(), s.memberID)
	if err != nil || !wasMember {
		return
	}
	s.reg.Broadcast(roomID, s.memberID, s.mustEncode(wire.New(&wire.PeerLeft{MemberID: s.memberID, Name: name})), "peer_left")
	logging.Info(logging.WithRoom(logging.WithMember(ctx, s.memberID), roomID), "member left room")
}

func (s *Session) readOne(ctx context.Context) (wire.Message, error) {
	type result struct {
		msg wire.Message
		err error
	}
	resultCh := make(chan result, 1)
	go func() {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			resultCh <- result{err: err}
			return
		}
		msg, err := wire.Decode(data)
		resultCh <- result{msg: msg, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.msg, r.err
	case <-ctx.Done():
		_ = s.conn.Close()
		return wire.Message{}, ctx.Err()
	}
}

func (s *Session) writePump() {
	for data := range s.send {
		_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

func (s *Session) enqueue(msg wire.Message) bool {
	return s.Send(s.mustEncode(msg))
}

func (s *Session) mustEncode(msg wire.Message) []byte {
	data, err := wire.Encode(msg)
	if err != nil {
		// Encode only fails for programmer error (unknown type, nil
		// payload); an unknown-variant Raw message is forwarded as its
		// original bytes.
		if msg.Raw != nil {
			return msg.Raw
		}
		panic(fmt.Sprintf("session: failed to encode outgoing message: %v", err))
	}
	return data
}

func (s *Session) close(reason string) {
	s.state = Closing
	logging.Debug(context.Background(), "closing session", zap.String("member_id", s.memberID), zap.String("reason", reason))
	_ = s.conn.Close()
	s.state = Closed
}
