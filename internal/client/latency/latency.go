// Package latency implements per-peer round-trip-time tracking for the
// client session actor, per SPEC_FULL.md §4.7: an EWMA smoothed estimate
// with a conservative default before the first sample arrives.
package latency

import (
	"sync"
	"time"

	"github.com/rtldg/simulcast-mpv/internal/metrics"
)

const (
	// alpha is the EWMA smoothing factor; higher weights recent samples
	// more heavily.
	alpha = 0.25

	// defaultRTT is used for a peer with no ping sample yet.
	defaultRTT = 200 * time.Millisecond
)

// Tracker maintains a smoothed RTT estimate per peer. The zero value is
// not usable; construct with New.
type Tracker struct {
	mu  sync.Mutex
	rtt map[string]time.Duration
}

// New constructs an empty Tracker.
func New() *Tracker {
	return &Tracker{rtt: make(map[string]time.Duration)}
}

// Record folds a fresh RTT sample for peerID into its smoothed estimate.
func (t *Tracker) Record(peerID string, sample time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	prev, ok := t.rtt[peerID]
	if !ok {
		t.rtt[peerID] = sample
	} else {
		t.rtt[peerID] = time.Duration(alpha*float64(sample) + (1-alpha)*float64(prev))
	}
	metrics.LatencyRTT.WithLabelValues(peerID).Set(float64(t.rtt[peerID].Milliseconds()))
}

// RTT returns the current smoothed estimate for peerID, or defaultRTT if
// no sample has been recorded yet.
func (t *Tracker) RTT(peerID string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if v, ok := t.rtt[peerID]; ok {
		return v
	}
	return defaultRTT
}

// Max returns the largest smoothed RTT among the given peers, or
// defaultRTT if peerIDs is empty.
func (t *Tracker) Max(peerIDs []string) time.Duration {
	if len(peerIDs) == 0 {
		return defaultRTT
	}
	max := time.Duration(0)
	for _, id := range peerIDs {
		if v := t.RTT(id); v > max {
			max = v
		}
	}
	return max
}

// Forget removes a peer's RTT estimate, e.g. on peer_left.
func (t *Tracker) Forget(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rtt, peerID)
	metrics.LatencyRTT.DeleteLabelValues(peerID)
}
