// Package audio provides built-in filters for raw PCM frames.
package audio

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/pion/mediatrack/pkg/frame"
)

// Gain multiplies PCM samples by a linear factor, clipping at int16 limits.
//
// Property: "gain" (number, 0 mutes).
type Gain struct {
	mu   sync.RWMutex
	gain float64
}

// NewGain creates a Gain filter.
func NewGain(gain float64) (*Gain, error) {
	if gain < 0 || math.IsNaN(gain) {
		return nil, fmt.Errorf("gain: invalid factor %v", gain)
	}
	return &Gain{gain: gain}, nil
}

// Process implements filter.Filter.
func (g *Gain) Process(f *frame.Frame) (*frame.Frame, error) {
	g.mu.RLock()
	gain := g.gain
	g.mu.RUnlock()

	if len(f.PCM) == 0 || gain == 1 {
		return f, nil
	}

	out := *f
	out.PCM = make([]int16, len(f.PCM))
	for i, s := range f.PCM {
		out.PCM[i] = clip(float64(s) * gain)
	}
	return &out, nil
}

func clip(v float64) int16 {
	switch {
	case v > math.MaxInt16:
		return math.MaxInt16
	case v < math.MinInt16:
		return math.MinInt16
	}
	return int16(v)
}

// SetProperty implements filter.PropertyFilter.
func (g *Gain) SetProperty(key string, value []byte) error {
	if key != "gain" {
		return fmt.Errorf("gain: unknown property %q", key)
	}

	var v float64
	if err := json.Unmarshal(value, &v); err != nil {
		return err
	}
	if v < 0 {
		return fmt.Errorf("gain: invalid factor %v", v)
	}

	g.mu.Lock()
	g.gain = v
	g.mu.Unlock()
	return nil
}

// Property implements filter.PropertyFilter.
func (g *Gain) Property(key string) ([]byte, error) {
	if key != "gain" {
		return nil, fmt.Errorf("gain: unknown property %q", key)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return json.Marshal(g.gain)
}
