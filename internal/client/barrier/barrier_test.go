package barrier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBarrier_BeginInitiator_RecordReadyRequiresAllPeers(t *testing.T) {
	b := New()
	b.BeginInitiator([]string{"peer-a", "peer-b"})

	assert.False(t, b.RecordReady("peer-a"))
	assert.True(t, b.RecordReady("peer-b"))
}

func TestBarrier_ZeroPeers_CompletesImmediately(t *testing.T) {
	b := New()
	b.BeginInitiator(nil)
	// With no expected peers the loop over Peers never finds a missing
	// reply, so the very first call (even for an unrelated ID) reports ready.
	assert.True(t, b.RecordReady("anyone"))
}

func TestBarrier_Cancel_ClearsState(t *testing.T) {
	b := New()
	b.BeginInitiator([]string{"peer-a"})
	assert.True(t, b.Active())

	b.Cancel("canceled_by_pause")
	assert.False(t, b.Active())
	assert.Equal(t, RoleNone, b.Role())
}

func TestBarrier_Follower_Role(t *testing.T) {
	b := New()
	b.BeginFollower("initiator-1")
	assert.Equal(t, RoleFollower, b.Role())
}

func TestInitiatorOffsetMs_AddsGraceToHalfRTT(t *testing.T) {
	offset := InitiatorOffsetMs(120 * time.Millisecond)
	assert.Equal(t, int64(60+50), offset)
}

func TestFollowerFireDelay_SubtractsOneWayLatency(t *testing.T) {
	delay := FollowerFireDelay(110, 40*time.Millisecond)
	assert.Equal(t, 90*time.Millisecond, delay)
}

func TestFollowerFireDelay_NeverNegative(t *testing.T) {
	delay := FollowerFireDelay(10, 200*time.Millisecond)
	assert.Equal(t, time.Duration(0), delay)
}
