package session

import (
	"time"

	"github.com/rtldg/simulcast-mpv/internal/wire"
)

// PeerObservation is the session actor's view of one other room member,
// per SPEC_FULL.md §3.
type PeerObservation struct {
	MemberID   string
	Name       string
	LastState  wire.PlaybackState
	LastSeen   time.Time
}

// echoRecord tracks one remote-applied command so the corresponding local
// player-change it causes can be recognized and not rebroadcast, per
// SPEC_FULL.md §4.5's echo-suppression window.
type echoRecord struct {
	kind      string // "pause" or "seek"
	paused    bool
	position  float64
	appliedAt time.Time
}

const echoWindowSize = 8
const echoWindow = 250 * time.Millisecond

// seekEchoTolerance is how close a local position must land to a recently
// applied remote seek's target to count as the same event, the same
// ballpark as seekJumpThreshold since both describe "close enough to be
// the same position" rather than a fresh local jump.
const seekEchoTolerance = seekJumpThreshold

// echoSuppressor is a bounded ring of recently remote-applied commands.
type echoSuppressor struct {
	records []echoRecord
}

func (e *echoSuppressor) record(kind string, paused bool, position float64, now time.Time) {
	e.records = append(e.records, echoRecord{kind: kind, paused: paused, position: position, appliedAt: now})
	if len(e.records) > echoWindowSize {
		e.records = e.records[len(e.records)-echoWindowSize:]
	}
}

// matches reports whether a local observation of the given kind, value,
// and position, seen at now, is explained by a recent remote-applied
// command within the suppression window — i.e. it's an echo, not a
// genuine new local event.
func (e *echoSuppressor) matches(kind string, paused bool, position float64, now time.Time) bool {
	for i := len(e.records) - 1; i >= 0; i-- {
		r := e.records[i]
		if r.kind != kind {
			continue
		}
		if now.Sub(r.appliedAt) > echoWindow {
			continue
		}
		switch kind {
		case "pause":
			if r.paused == paused {
				return true
			}
		case "seek":
			if positionWithinTolerance(r.position, position) {
				return true
			}
		}
	}
	return false
}

func positionWithinTolerance(a, b float64) bool {
	return absDiff(a, b) < seekEchoTolerance
}

// ChatEntry is one message in the chat history, per spec.md's ChatEntry
// entity (sender member ID, text, timestamp).
type ChatEntry struct {
	SenderMemberID string // empty for messages sent locally
	Text           string
	At             time.Time
}

// chatLogSize bounds the chat ring so a long session's chat history
// can't grow without limit, per spec.md's "append-only bounded ring".
const chatLogSize = 20

// chatLog is a bounded, append-only ring of recent chat messages.
type chatLog struct {
	entries []ChatEntry
}

func (c *chatLog) append(entry ChatEntry) {
	c.entries = append(c.entries, entry)
	if len(c.entries) > chatLogSize {
		c.entries = c.entries[len(c.entries)-chatLogSize:]
	}
}

func (c *chatLog) latest() (ChatEntry, bool) {
	if len(c.entries) == 0 {
		return ChatEntry{}, false
	}
	return c.entries[len(c.entries)-1], true
}
