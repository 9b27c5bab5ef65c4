package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtldg/simulcast-mpv/internal/relay/registry"
	"github.com/rtldg/simulcast-mpv/internal/roomid"
	"github.com/rtldg/simulcast-mpv/internal/wire"
)

// fakeConn is a minimal in-memory wsConn for driving a Session without a
// real network socket, mirroring the teacher transport package's own
// mocked wsConnection in its tests.
type fakeConn struct {
	incoming chan []byte

	mu       sync.Mutex
	outgoing [][]byte
	closed   bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{incoming: make(chan []byte, 32)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	data, ok := <-c.incoming
	if !ok {
		return 0, nil, io.EOF
	}
	return 1, data, nil
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return io.ErrClosedPipe
	}
	cp := append([]byte(nil), data...)
	c.outgoing = append(c.outgoing, cp)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (c *fakeConn) sendToSession(t *testing.T, msg wire.Message) {
	t.Helper()
	data, err := wire.Encode(msg)
	require.NoError(t, err)
	c.incoming <- data
}

func (c *fakeConn) messages() []wire.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]wire.Message, 0, len(c.outgoing))
	for _, raw := range c.outgoing {
		m, err := wire.Decode(raw)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out
}

func findMessage(msgs []wire.Message, t wire.Type) (wire.Message, bool) {
	for _, m := range msgs {
		if m.Type == t {
			return m, true
		}
	}
	return wire.Message{}, false
}

func countMessages(msgs []wire.Message, t wire.Type) int {
	n := 0
	for _, m := range msgs {
		if m.Type == t {
			n++
		}
	}
	return n
}

func TestSession_HandshakeSendsHelloThenAcceptsJoin(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	conn := newFakeConn()
	s := New(conn, reg, "https://example.org/repo")

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	roomID := roomid.Derive("movie.mkv", "secret").String()
	conn.sendToSession(t, wire.New(&wire.Join{RoomID: roomID, DisplayName: "alice", ProtocolVersion: wire.ProtocolVersion}))

	require.Eventually(t, func() bool {
		_, ok := findMessage(conn.messages(), wire.TypeJoined)
		return ok
	}, time.Second, 10*time.Millisecond)

	hello, ok := findMessage(conn.messages(), wire.TypeHello)
	require.True(t, ok)
	assert.Equal(t, wire.ProtocolVersion, hello.Hello.ProtocolVersion)
	assert.Equal(t, "https://example.org/repo", hello.Hello.RepoURL)

	conn.sendToSession(t, wire.New(&wire.Bye{}))
	cancel()
	<-done
}

func TestSession_FirstFrameMustBeJoin(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	conn := newFakeConn()
	s := New(conn, reg, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	conn.sendToSession(t, wire.New(&wire.Chat{Text: "too early"}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not close after a non-join first frame")
	}
}

func TestSession_MalformedRoomIDCloses(t *testing.T) {
	reg := registry.New()
	defer reg.Close()

	conn := newFakeConn()
	s := New(conn, reg, "")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	conn.sendToSession(t, wire.New(&wire.Join{RoomID: "not-hex", ProtocolVersion: wire.ProtocolVersion}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("session did not close after a malformed room id")
	}
}

func TestSession_BroadcastsStateToOtherMemberNotToSelf(t *testing.T) {
	reg := registry.New()
	defer reg.Close()
	roomID := roomid.Derive("movie.mkv", "secret").String()

	connA := newFakeConn()
	sessA := New(connA, reg, "")
	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	doneA := make(chan struct{})
	go func() {
		sessA.Run(ctxA)
		close(doneA)
	}()
	connA.sendToSession(t, wire.New(&wire.Join{RoomID: roomID, ProtocolVersion: wire.ProtocolVersion}))
	require.Eventually(t, func() bool { _, ok := findMessage(connA.messages(), wire.TypeJoined); return ok }, time.Second, 10*time.Millisecond)

	connB := newFakeConn()
	sessB := New(connB, reg, "")
	ctxB, cancelB := context.WithCancel(context.Background())
	defer cancelB()
	doneB := make(chan struct{})
	go func() {
		sessB.Run(ctxB)
		close(doneB)
	}()
	connB.sendToSession(t, wire.New(&wire.Join{RoomID: roomID, ProtocolVersion: wire.ProtocolVersion}))
	require.Eventually(t, func() bool { _, ok := findMessage(connB.messages(), wire.TypeJoined); return ok }, time.Second, 10*time.Millisecond)

	// A should have observed B's peer_joined.
	require.Eventually(t, func() bool { return countMessages(connA.messages(), wire.TypePeerJoined) == 1 }, time.Second, 10*time.Millisecond)

	dur := 10.0
	connA.sendToSession(t, wire.New(&wire.State{PlaybackState: wire.PlaybackState{Paused: true, PositionSeconds: 42, MediaIdentifier: "movie.mkv", DurationSeconds: &dur}}))

	require.Eventually(t, func() bool { return countMessages(connB.messages(), wire.TypeState) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, countMessages(connA.messages(), wire.TypeState), "sender must not receive its own state back")

	// Both sessions leave the registry on the way out; let them finish
	// before the deferred reg.Close stops the registry.
	cancelA()
	cancelB()
	<-doneA
	<-doneB
}
