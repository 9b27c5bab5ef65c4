// Package playeripc implements the client adapter's connection to the
// media player's local JSON IPC endpoint (mpv's --input-ipc-server
// protocol), per SPEC_FULL.md §4.4.
//
// The transport is a platform socket (Unix domain socket on Unix, a named
// pipe on Windows) behind the dialPlatform seam implemented in
// ipc_unix.go / ipc_windows.go, so this file stays platform-agnostic. The
// request-ID correlation table mirrors the teacher's pkg/sfu.SFUClient,
// which correlates one in-flight RPC to its eventual response via a
// single client struct; here there is no RPC framework doing that for us,
// so a small mutex-guarded map of pending requests plays the same role.
package playeripc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/metrics"
)

// request is the mpv IPC command envelope.
type request struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

// response is the mpv IPC reply envelope, keyed back to a request by
// RequestID. Unsolicited events arrive on the same socket with no
// RequestID and are routed to event subscribers instead.
type response struct {
	RequestID int64           `json:"request_id"`
	Error     string          `json:"error"`
	Data      json.RawMessage `json:"data"`
}

// event is an unsolicited mpv IPC message: either a bare named event
// ("shutdown", "idle", ...) or a property-change carrying an observer ID.
type event struct {
	Event string          `json:"event"`
	ID    int64           `json:"id"`
	Name  string          `json:"name"`
	Data  json.RawMessage `json:"data"`
}

// PropertyChange is delivered to an observer's channel whenever the
// player reports a change for the property it registered.
type PropertyChange struct {
	Name string
	Data json.RawMessage
}

// Channel is one connection to the player's IPC endpoint. The zero value
// is not usable; construct with Dial.
type Channel struct {
	conn net.Conn
	w    *sync.Mutex // guards writes to conn

	nextID    atomic.Int64
	nextObsID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan response
	observed map[int64]chan PropertyChange
	closed   bool

	readerDone chan struct{}
}

// ErrClosed is returned by Channel methods called after Close.
type ErrClosed struct{}

func (ErrClosed) Error() string { return "playeripc: channel closed" }

// Dial connects to the player's IPC endpoint at path, which is a
// filesystem path on Unix and a named-pipe path (\\.\pipe\...) on
// Windows; dialPlatform hides that distinction.
func Dial(ctx context.Context, path string) (*Channel, error) {
	conn, err := dialPlatform(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("playeripc: dial %s: %w", path, err)
	}

	c := &Channel{
		conn:       conn,
		w:          &sync.Mutex{},
		pending:    make(map[int64]chan response),
		observed:   make(map[int64]chan PropertyChange),
		readerDone: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Close shuts down the IPC connection and releases every pending request
// and observer with an error.
func (c *Channel) Close() error {
	c.failPending()
	err := c.conn.Close()
	<-c.readerDone
	return err
}

// Done returns a channel that closes once readLoop exits, whether that's
// because Close was called or because the socket dropped out from under
// it. Callers use this to notice player loss without polling.
func (c *Channel) Done() <-chan struct{} {
	return c.readerDone
}

// failPending marks the channel closed and releases every pending
// request and observer with an error. Safe to call more than once; only
// the first call has an effect. Called both from Close and from
// readLoop's error path, so a dropped socket fails outstanding work the
// same way an explicit Close does.
func (c *Channel) failPending() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
	for id, ch := range c.observed {
		close(ch)
		delete(c.observed, id)
	}
	c.mu.Unlock()
}

func (c *Channel) readLoop() {
	defer close(c.readerDone)
	defer c.failPending()
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), 1<<20)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var probe struct {
			RequestID *int64 `json:"request_id"`
			Event     string `json:"event"`
		}
		if err := json.Unmarshal(line, &probe); err != nil {
			logging.Warn(context.Background(), "playeripc: malformed line from player", zap.Error(err))
			metrics.IPCErrors.WithLabelValues("malformed_frame").Inc()
			continue
		}

		switch {
		case probe.RequestID != nil:
			var resp response
			if err := json.Unmarshal(line, &resp); err != nil {
				metrics.IPCErrors.WithLabelValues("malformed_response").Inc()
				continue
			}
			c.resolve(resp)
		case probe.Event != "":
			var ev event
			if err := json.Unmarshal(line, &ev); err != nil {
				metrics.IPCErrors.WithLabelValues("malformed_event").Inc()
				continue
			}
			c.dispatchEvent(ev)
		}
	}
}

func (c *Channel) resolve(resp response) {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()
	if ok {
		ch <- resp
		close(ch)
	}
}

func (c *Channel) dispatchEvent(ev event) {
	if ev.Event != "property-change" {
		return
	}
	c.mu.Lock()
	ch, ok := c.observed[ev.ID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- PropertyChange{Name: ev.Name, Data: ev.Data}:
	default:
		metrics.IPCErrors.WithLabelValues("observer_backpressure").Inc()
	}
}

// do issues one JSON-RPC command and waits for its reply or ctx cancellation.
func (c *Channel) do(ctx context.Context, args ...any) (json.RawMessage, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed{}
	}
	id := c.nextID.Add(1)
	reply := make(chan response, 1)
	c.pending[id] = reply
	c.mu.Unlock()

	start := time.Now()
	req := request{Command: args, RequestID: id}
	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("playeripc: marshal command: %w", err)
	}
	data = append(data, '\n')

	c.w.Lock()
	_, writeErr := c.conn.Write(data)
	c.w.Unlock()
	if writeErr != nil {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("playeripc: write command: %w", writeErr)
	}

	method := "unknown"
	if len(args) > 0 {
		if s, ok := args[0].(string); ok {
			method = s
		}
	}

	select {
	case resp, ok := <-reply:
		metrics.IPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		if !ok {
			return nil, ErrClosed{}
		}
		if resp.Error != "success" {
			metrics.IPCErrors.WithLabelValues("command_error").Inc()
			return nil, fmt.Errorf("playeripc: command %v failed: %s", args, resp.Error)
		}
		return resp.Data, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
		return nil, ctx.Err()
	}
}

// SetProperty sets a named player property.
func (c *Channel) SetProperty(ctx context.Context, name string, value any) error {
	_, err := c.do(ctx, "set_property", name, value)
	return err
}

// GetProperty fetches a named player property's current value.
func (c *Channel) GetProperty(ctx context.Context, name string) (json.RawMessage, error) {
	return c.do(ctx, "get_property", name)
}

// Command issues an arbitrary mpv input command (e.g. "seek").
func (c *Channel) Command(ctx context.Context, args ...any) (json.RawMessage, error) {
	return c.do(ctx, args...)
}

// Observe registers an observer for property changes to name and returns a
// channel that receives every subsequent change, until the Channel is
// closed. Matches spec.md §4.4's "observe a named property" operation.
func (c *Channel) Observe(ctx context.Context, name string) (<-chan PropertyChange, error) {
	obsID := c.nextObsID.Add(1)
	ch := make(chan PropertyChange, 16)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed{}
	}
	c.observed[obsID] = ch
	c.mu.Unlock()

	if _, err := c.do(ctx, "observe_property", obsID, name); err != nil {
		c.mu.Lock()
		delete(c.observed, obsID)
		c.mu.Unlock()
		return nil, err
	}
	return ch, nil
}
