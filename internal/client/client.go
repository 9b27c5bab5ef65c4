// Package client wires together the player IPC channel, the session
// actor, and the relay link into one running client adapter process, per
// SPEC_FULL.md §2's "client adapter" component and §4.9's heartbeat task.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rtldg/simulcast-mpv/internal/client/link"
	"github.com/rtldg/simulcast-mpv/internal/client/session"
	"github.com/rtldg/simulcast-mpv/internal/config"
	"github.com/rtldg/simulcast-mpv/internal/errs"
	"github.com/rtldg/simulcast-mpv/internal/logging"
	"github.com/rtldg/simulcast-mpv/internal/playeripc"
)

const heartbeatInterval = 500 * time.Millisecond

// observedProperties is every mpv property the adapter reacts to, per
// spec.md §4's local-event mapping table.
var observedProperties = []string{"pause", "time-pos", "path", "user-data/simulcast/fuckmpv", "user-data/simulcast/text_chat"}

// Run dials the player IPC endpoint, starts the session actor and relay
// link, and blocks until ctx is canceled or the player connection is lost.
func Run(ctx context.Context, cfg *config.Config) error {
	ipc, err := playeripc.Dial(ctx, cfg.ClientSock)
	if err != nil {
		return err
	}
	defer ipc.Close()

	l := link.New(cfg.RelayURL, "", "", nil)
	actor := session.New(ipc, l, cfg.RelayRoom)
	defer actor.Close()
	l.SetActor(actor)

	go l.Run(ctx)
	go runHeartbeat(ctx, ipc, l)

	return watchProperties(ctx, ipc, actor)
}

// watchProperties observes every player property the adapter reacts to
// and translates changes into actor notifications. It blocks until ctx is
// canceled or an observe call fails (player connection lost).
func watchProperties(ctx context.Context, ipc *playeripc.Channel, actor *session.Actor) error {
	type observed struct {
		name string
		ch   <-chan playeripc.PropertyChange
	}
	var channels []observed
	for _, name := range observedProperties {
		ch, err := ipc.Observe(ctx, name)
		if err != nil {
			return err
		}
		channels = append(channels, observed{name: name, ch: ch})
	}

	var lastPosition float64
	merged := make(chan playeripc.PropertyChange, 64)
	for _, o := range channels {
		go func(o observed) {
			for change := range o.ch {
				select {
				case merged <- change:
				case <-ctx.Done():
					return
				}
			}
		}(o)
	}

	for {
		select {
		case change := <-merged:
			applyPropertyChange(actor, change, &lastPosition)
		case <-ipc.Done():
			// The player's IPC socket dropped mid-session: every pending
			// request and observer has already failed, per spec.md §4.4.
			// Terminate the client process rather than block forever.
			return fmt.Errorf("playeripc: %w", errs.ErrPlayerUnavailable)
		case <-ctx.Done():
			return nil
		}
	}
}

func applyPropertyChange(actor *session.Actor, change playeripc.PropertyChange, lastPosition *float64) {
	switch change.Name {
	case "pause":
		var paused bool
		if err := json.Unmarshal(change.Data, &paused); err != nil {
			return
		}
		actor.NotifyLocalPause(paused, *lastPosition)
	case "time-pos":
		var position float64
		if err := json.Unmarshal(change.Data, &position); err != nil {
			return
		}
		*lastPosition = position
		actor.NotifyLocalSeek(position)
	case "path":
		var path string
		if err := json.Unmarshal(change.Data, &path); err != nil {
			return
		}
		actor.NotifyLocalMediaChange(path, nil)
	case "user-data/simulcast/fuckmpv":
		var value string
		if err := json.Unmarshal(change.Data, &value); err != nil {
			return
		}
		actor.NotifyFuckmpv(value)
	case "user-data/simulcast/text_chat":
		var text string
		if err := json.Unmarshal(change.Data, &text); err != nil {
			return
		}
		actor.NotifyLocalChat(text)
	}
}

// runHeartbeat writes a monotonically increasing integer to the player's
// heartbeat property every ~500ms, only while the relay link believes it
// has joined a room, per spec.md §4.9.
func runHeartbeat(ctx context.Context, ipc *playeripc.Channel, l *link.Link) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	var n int64
	for {
		select {
		case <-ticker.C:
			if !l.Connected() {
				continue
			}
			n++
			if err := ipc.SetProperty(ctx, "user-data/simulcast/heartbeat", n); err != nil {
				logging.Warn(ctx, "heartbeat write failed", zap.Error(err))
			}
		case <-ctx.Done():
			return
		}
	}
}
