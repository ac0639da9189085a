package transfer

import (
	"sync"
	"time"
)

const speedEWMAAlpha = 0.2

// ProgressStats is the live snapshot a caller polls during a transfer
// (§4.7): bytes moved so far, the total, a smoothed throughput estimate,
// and a derived time-to-completion.
type ProgressStats struct {
	BytesTransferred uint64
	TotalBytes       uint64
	SpeedEWMA        float64 // bytes/sec
	ETA              time.Duration
}

// ProgressTracker accumulates byte deliveries and derives ProgressStats on
// demand.
type ProgressTracker struct {
	mu         sync.Mutex
	total      uint64
	delivered  uint64
	speedEWMA  float64
	lastSample time.Time
}

func NewProgressTracker(totalBytes uint64) *ProgressTracker {
	return &ProgressTracker{total: totalBytes, lastSample: time.Now()}
}

// RecordBytes accounts for n newly-delivered bytes and folds the implied
// instantaneous rate into the EWMA speed estimate.
func (t *ProgressTracker) RecordBytes(n uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := time.Now()
	elapsed := now.Sub(t.lastSample).Seconds()
	t.delivered += n
	t.lastSample = now
	if elapsed <= 0 {
		return
	}
	instant := float64(n) / elapsed
	if t.speedEWMA == 0 {
		t.speedEWMA = instant
	} else {
		t.speedEWMA = speedEWMAAlpha*instant + (1-speedEWMAAlpha)*t.speedEWMA
	}
}

// Snapshot returns the current stats, including an ETA of 0 once complete
// or when the speed estimate is not yet available.
func (t *ProgressTracker) Snapshot() ProgressStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := ProgressStats{
		BytesTransferred: t.delivered,
		TotalBytes:       t.total,
		SpeedEWMA:        t.speedEWMA,
	}
	if s.SpeedEWMA > 0 && s.BytesTransferred < s.TotalBytes {
		remaining := s.TotalBytes - s.BytesTransferred
		seconds := float64(remaining) / s.SpeedEWMA
		s.ETA = time.Duration(seconds * float64(time.Second))
	}
	return s
}
