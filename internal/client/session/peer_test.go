package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEchoSuppressor_Pause_MatchesSameValue(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	e.record("pause", true, 10, now)

	assert.True(t, e.matches("pause", true, 10, now.Add(50*time.Millisecond)))
	assert.False(t, e.matches("pause", false, 10, now.Add(50*time.Millisecond)))
}

func TestEchoSuppressor_Seek_MatchesWithinTolerance(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	e.record("seek", false, 120, now)

	assert.True(t, e.matches("seek", false, 120.5, now.Add(50*time.Millisecond)), "within seekEchoTolerance")
}

func TestEchoSuppressor_Seek_NoMatchOutsideTolerance(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	e.record("seek", false, 120, now)

	assert.False(t, e.matches("seek", false, 200, now.Add(50*time.Millisecond)))
}

func TestEchoSuppressor_Seek_NoMatchAfterWindow(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	e.record("seek", false, 120, now)

	assert.False(t, e.matches("seek", false, 120, now.Add(echoWindow+10*time.Millisecond)))
}

func TestEchoSuppressor_Seek_DoesNotMatchPauseRecord(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	e.record("pause", true, 120, now)

	assert.False(t, e.matches("seek", true, 120, now.Add(50*time.Millisecond)))
}

func TestEchoSuppressor_OldestRecordsEvicted(t *testing.T) {
	var e echoSuppressor
	now := time.Now()
	for i := 0; i < echoWindowSize+2; i++ {
		e.record("seek", false, float64(i), now)
	}
	assert.Len(t, e.records, echoWindowSize)
	assert.Equal(t, float64(echoWindowSize+1), e.records[len(e.records)-1].position)
}

func TestChatLog_AppendAndLatest(t *testing.T) {
	var c chatLog
	_, ok := c.latest()
	assert.False(t, ok)

	c.append(ChatEntry{SenderMemberID: "peer-a", Text: "hi", At: time.Now()})
	c.append(ChatEntry{Text: "hello back", At: time.Now()})

	entry, ok := c.latest()
	assert.True(t, ok)
	assert.Equal(t, "hello back", entry.Text)
	assert.Empty(t, entry.SenderMemberID)
}

func TestChatLog_BoundedSize(t *testing.T) {
	var c chatLog
	for i := 0; i < chatLogSize+5; i++ {
		c.append(ChatEntry{Text: "msg", At: time.Now()})
	}
	assert.Len(t, c.entries, chatLogSize)
}
