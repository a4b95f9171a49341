package telemetry

import (
	"sync"
	"time"
)

// BitrateTracker estimates a bitrate over a sliding time window. It is safe
// for concurrent use.
type BitrateTracker struct {
	mu         sync.Mutex
	windowSize time.Duration
	buffer     []int
	times      []time.Time
}

// NewBitrateTracker creates a tracker averaging over windowSize.
func NewBitrateTracker(windowSize time.Duration) *BitrateTracker {
	return &BitrateTracker{
		windowSize: windowSize,
	}
}

// Add records sizeBytes sent at timestamp.
func (bt *BitrateTracker) Add(sizeBytes int, timestamp time.Time) {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	bt.buffer = append(bt.buffer, sizeBytes)
	bt.times = append(bt.times, timestamp)

	// Remove old entries outside the window
	cutoff := timestamp.Add(-bt.windowSize)
	i := 0
	for ; i < len(bt.times); i++ {
		if bt.times[i].After(cutoff) {
			break
		}
	}
	bt.buffer = bt.buffer[i:]
	bt.times = bt.times[i:]
}

// Bitrate returns the bitrate in bits per second over the current window.
func (bt *BitrateTracker) Bitrate() float64 {
	bt.mu.Lock()
	defer bt.mu.Unlock()

	if len(bt.times) < 2 {
		return 0
	}
	totalBytes := 0
	for _, b := range bt.buffer {
		totalBytes += b
	}
	duration := bt.times[len(bt.times)-1].Sub(bt.times[0]).Seconds()
	if duration <= 0 {
		return 0
	}
	return float64(totalBytes*8) / duration // bits per second
}
