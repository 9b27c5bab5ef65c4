package playeripc

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlayer emulates the mpv IPC server side of a net.Conn for tests: it
// echoes a success reply for every request and can push arbitrary lines
// (events, property-change notifications) at will.
type fakePlayer struct {
	conn    net.Conn
	scanner *bufio.Scanner
}

func newFakePlayer(t *testing.T) (*Channel, *fakePlayer) {
	t.Helper()
	clientSide, serverSide := net.Pipe()

	c := &Channel{
		conn:       clientSide,
		w:          &sync.Mutex{},
		pending:    make(map[int64]chan response),
		observed:   make(map[int64]chan PropertyChange),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()

	fp := &fakePlayer{conn: serverSide, scanner: bufio.NewScanner(serverSide)}
	t.Cleanup(func() { _ = c.Close() })
	return c, fp
}

func (f *fakePlayer) readRequest(t *testing.T) request {
	t.Helper()
	require.True(t, f.scanner.Scan())
	var req request
	require.NoError(t, json.Unmarshal(f.scanner.Bytes(), &req))
	return req
}

func (f *fakePlayer) reply(t *testing.T, id int64, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	line, err := json.Marshal(response{RequestID: id, Error: "success", Data: payload})
	require.NoError(t, err)
	_, err = f.conn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func (f *fakePlayer) pushEvent(t *testing.T, obsID int64, name string, data any) {
	t.Helper()
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	line, err := json.Marshal(event{Event: "property-change", ID: obsID, Name: name, Data: payload})
	require.NoError(t, err)
	_, err = f.conn.Write(append(line, '\n'))
	require.NoError(t, err)
}

func TestChannel_SetProperty_WaitsForMatchingReply(t *testing.T) {
	c, fp := newFakePlayer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.do(context.Background(), "set_property", "pause", true)
		done <- err
	}()

	req := fp.readRequest(t)
	assert.Equal(t, []any{"set_property", "pause", true}, req.Command)
	fp.reply(t, req.RequestID, nil)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("do() did not return after matching reply")
	}
}

func TestChannel_Observe_DeliversPropertyChange(t *testing.T) {
	c, fp := newFakePlayer(t)

	obsCh := make(chan <-chan PropertyChange, 1)
	go func() {
		ch, err := c.Observe(context.Background(), "pause")
		require.NoError(t, err)
		obsCh <- ch
	}()

	req := fp.readRequest(t)
	assert.Equal(t, "observe_property", req.Command[0])
	obsID := int64(req.Command[1].(float64))
	fp.reply(t, req.RequestID, nil)

	ch := <-obsCh
	fp.pushEvent(t, obsID, "pause", true)

	select {
	case change := <-ch:
		assert.Equal(t, "pause", change.Name)
		var v bool
		require.NoError(t, json.Unmarshal(change.Data, &v))
		assert.True(t, v)
	case <-time.After(time.Second):
		t.Fatal("observer did not receive property change")
	}
}

func TestChannel_Do_CommandErrorReturnsErr(t *testing.T) {
	c, fp := newFakePlayer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.do(context.Background(), "get_property", "bogus")
		done <- err
	}()

	req := fp.readRequest(t)
	line, err := json.Marshal(response{RequestID: req.RequestID, Error: "property not found"})
	require.NoError(t, err)
	_, err = fp.conn.Write(append(line, '\n'))
	require.NoError(t, err)

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("do() did not return after error reply")
	}
}

func TestChannel_SocketDrop_ReleasesPendingRequestsAndObservers(t *testing.T) {
	c, fp := newFakePlayer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.do(context.Background(), "get_property", "pause")
		done <- err
	}()
	fp.readRequest(t)

	type observeResult struct {
		ch  <-chan PropertyChange
		err error
	}
	obsDone := make(chan observeResult, 1)
	go func() {
		ch, err := c.Observe(context.Background(), "pause")
		obsDone <- observeResult{ch: ch, err: err}
	}()
	// Answer the observe_property request the call above issued; Observe
	// waits for that reply before returning.
	obsReq := fp.readRequest(t)
	fp.reply(t, obsReq.RequestID, nil)
	res := <-obsDone
	require.NoError(t, res.err)
	obsCh := res.ch

	// Simulate the player process dying: the other end of the pipe closes,
	// so readLoop's scanner hits an error with no explicit Close call.
	require.NoError(t, fp.conn.Close())

	select {
	case err := <-done:
		assert.Error(t, err, "pending request must fail when the socket drops")
	case <-time.After(time.Second):
		t.Fatal("do() did not return after the socket dropped")
	}

	select {
	case _, ok := <-obsCh:
		assert.False(t, ok, "observer channel must be closed when the socket drops")
	case <-time.After(time.Second):
		t.Fatal("observer channel was not closed after the socket dropped")
	}

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done() did not close after the socket dropped")
	}
}

func TestChannel_Close_ReleasesPendingRequests(t *testing.T) {
	c, _ := newFakePlayer(t)

	done := make(chan error, 1)
	go func() {
		_, err := c.do(context.Background(), "get_property", "pause")
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Close())

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second):
		t.Fatal("do() did not return after Close")
	}
}
