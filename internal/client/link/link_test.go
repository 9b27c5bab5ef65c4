package link

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rtldg/simulcast-mpv/internal/client/session"
	"github.com/rtldg/simulcast-mpv/internal/wire"
)

// fakeConn is a wsConn backed by a queue of inbound frames and a
// recording of outbound frames, so readLoop/writeLoop can be driven
// without a real network connection.
type fakeConn struct {
	mu      sync.Mutex
	inbound [][]byte
	outbound [][]byte
	closed  bool
}

func (f *fakeConn) push(msg wire.Message) {
	data, err := wire.Encode(msg)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	f.inbound = append(f.inbound, data)
	f.mu.Unlock()
}

func (f *fakeConn) ReadMessage() (int, []byte, error) {
	for {
		f.mu.Lock()
		if f.closed {
			f.mu.Unlock()
			return 0, nil, context.Canceled
		}
		if len(f.inbound) > 0 {
			data := f.inbound[0]
			f.inbound = f.inbound[1:]
			f.mu.Unlock()
			return 1, data, nil
		}
		f.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
}

func (f *fakeConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outbound = append(f.outbound, data)
	return nil
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

func (f *fakeConn) sent() []wire.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]wire.Message, 0, len(f.outbound))
	for _, data := range f.outbound {
		msg, err := wire.Decode(data)
		if err == nil {
			out = append(out, msg)
		}
	}
	return out
}

type fakeIPC struct {
	mu  sync.Mutex
	set map[string]any
}

func newFakeIPC() *fakeIPC { return &fakeIPC{set: make(map[string]any)} }

func (f *fakeIPC) SetProperty(ctx context.Context, name string, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set[name] = value
	return nil
}

func TestReadLoop_Ping_EchoesPongDirectly(t *testing.T) {
	a := session.New(newFakeIPC(), noopLink{}, "secret")
	defer a.Close()
	l := New("ws://example.invalid/ws", "room-1", "Alice", a)

	conn := &fakeConn{}
	conn.push(wire.New(&wire.Ping{TargetMemberID: "me", Nonce: 42, SendMonoMillis: 1000}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.readLoop(ctx, conn) }()

	require.Eventually(t, func() bool {
		for _, m := range conn.sent() {
			if m.Type == wire.TypePong {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	sent := conn.sent()
	var pong *wire.Pong
	for _, m := range sent {
		if m.Type == wire.TypePong {
			pong = m.Pong
		}
	}
	require.NotNil(t, pong)
	assert.Equal(t, uint64(42), pong.Nonce)
	assert.Equal(t, int64(1000), pong.SendMonoMillis)

	// readLoop returns only once its connection fails, as it does when
	// runOnce closes the conn on cancellation.
	cancel()
	_ = conn.Close()
	<-done
}

func TestReadLoop_StateFrame_ForwardsSenderMemberID(t *testing.T) {
	a := session.New(newFakeIPC(), noopLink{}, "secret")
	defer a.Close()
	l := New("ws://example.invalid/ws", "room-1", "Alice", a)
	l.memberID = "me"

	conn := &fakeConn{}
	msg := wire.WithSender(wire.New(&wire.State{PlaybackState: wire.PlaybackState{Paused: true}}), "peer-b")
	conn.push(msg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.readLoop(ctx, conn) }()

	// applyInboundState creates a PeerObservation for an unseen sender, so
	// a non-empty SenderMemberID shows up in the actor's peer set.
	require.Eventually(t, func() bool {
		for _, id := range a.Snapshot().PeerIDs {
			if id == "peer-b" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// readLoop returns only once its connection fails, as it does when
	// runOnce closes the conn on cancellation.
	cancel()
	_ = conn.Close()
	<-done
}

func TestReadLoop_Joined_ResendsCurrentState(t *testing.T) {
	a := session.New(newFakeIPC(), noopLink{}, "secret")
	defer a.Close()
	l := New("ws://example.invalid/ws", "room-1", "Alice", a)
	l.memberID = "me"

	conn := &fakeConn{}
	conn.push(wire.New(&wire.Joined{Members: []wire.MemberInfo{{MemberID: "me", Name: "Alice"}}}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.readLoop(ctx, conn) }()

	require.Eventually(t, func() bool {
		for _, m := range conn.sent() {
			if m.Type == wire.TypeState {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)

	// readLoop returns only once its connection fails, as it does when
	// runOnce closes the conn on cancellation.
	cancel()
	_ = conn.Close()
	<-done
}

func TestSetRoomID_ClosesLiveConnWhenJoinedRoomDiffers(t *testing.T) {
	l := New("ws://example.invalid/ws", "room-a", "Alice", nil)

	conn := &fakeConn{}
	l.setActiveConn(conn)
	l.markJoined("room-a")

	l.SetRoomID("room-a")
	assert.False(t, conn.closedState(), "re-setting the same room must not force a reconnect")

	l.SetRoomID("room-b")
	assert.True(t, conn.closedState(), "switching rooms on a live connection must force a reconnect")
}

func TestSetRoomID_NoLiveJoinDoesNotClose(t *testing.T) {
	l := New("ws://example.invalid/ws", "room-a", "Alice", nil)

	conn := &fakeConn{}
	l.setActiveConn(conn) // dialed, but Hello hasn't arrived yet: no joinedRoomID

	l.SetRoomID("room-b")
	assert.False(t, conn.closedState(), "no join has happened yet, so there's nothing to tear down")
}

func (f *fakeConn) closedState() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// noopLink discards everything; used where the test only cares about
// frames arriving from the relay side, not what the actor sends back out.
type noopLink struct{}

func (noopLink) Send(msg wire.Message) bool { return true }
func (noopLink) SetRoomID(roomID string)    {}
