package latency

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RTT_DefaultsBeforeFirstSample(t *testing.T) {
	tr := New()
	assert.Equal(t, defaultRTT, tr.RTT("peer-a"))
}

func TestTracker_Record_FirstSampleSetsExactValue(t *testing.T) {
	tr := New()
	tr.Record("peer-a", 50*time.Millisecond)
	assert.Equal(t, 50*time.Millisecond, tr.RTT("peer-a"))
}

func TestTracker_Record_SmoothsTowardNewSamples(t *testing.T) {
	tr := New()
	tr.Record("peer-a", 100*time.Millisecond)
	tr.Record("peer-a", 200*time.Millisecond)

	got := tr.RTT("peer-a")
	assert.Greater(t, got, 100*time.Millisecond)
	assert.Less(t, got, 200*time.Millisecond)
}

func TestTracker_Max_ReturnsLargestAmongPeers(t *testing.T) {
	tr := New()
	tr.Record("a", 50*time.Millisecond)
	tr.Record("b", 150*time.Millisecond)
	tr.Record("c", 75*time.Millisecond)

	assert.Equal(t, 150*time.Millisecond, tr.Max([]string{"a", "b", "c"}))
}

func TestTracker_Max_EmptyPeerListReturnsDefault(t *testing.T) {
	tr := New()
	assert.Equal(t, defaultRTT, tr.Max(nil))
}

func TestTracker_Forget_RemovesEstimate(t *testing.T) {
	tr := New()
	tr.Record("a", 10*time.Millisecond)
	tr.Forget("a")
	assert.Equal(t, defaultRTT, tr.RTT("a"))
}
