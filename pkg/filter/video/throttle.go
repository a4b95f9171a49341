package video

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pion/mediatrack/pkg/frame"
)

// Throttle drops incoming frames to keep at most the given frame rate.
// Frame timestamps are used when set, wall clock otherwise.
//
// Property: "fps" (number).
type Throttle struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	now      func() time.Time
}

// NewThrottle creates a throttle for rate frames per second.
func NewThrottle(rate float64) (*Throttle, error) {
	t := &Throttle{now: time.Now}
	if err := t.setRate(rate); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Throttle) setRate(rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("throttle: invalid rate %v", rate)
	}
	t.interval = time.Duration(float64(time.Second) / rate)
	return nil
}

// Process implements filter.Filter.
func (t *Throttle) Process(f *frame.Frame) (*frame.Frame, error) {
	ts := f.Timestamp
	if ts.IsZero() {
		ts = t.now()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.last.IsZero() && ts.Sub(t.last) < t.interval {
		return nil, nil
	}

	t.last = ts
	return f, nil
}

// SetProperty implements filter.PropertyFilter.
func (t *Throttle) SetProperty(key string, value []byte) error {
	if key != "fps" {
		return fmt.Errorf("throttle: unknown property %q", key)
	}

	var rate float64
	if err := json.Unmarshal(value, &rate); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.setRate(rate)
}

// Property implements filter.PropertyFilter.
func (t *Throttle) Property(key string) ([]byte, error) {
	if key != "fps" {
		return nil, fmt.Errorf("throttle: unknown property %q", key)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return json.Marshal(float64(time.Second) / float64(t.interval))
}
