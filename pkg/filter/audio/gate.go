package audio

import (
	"encoding/json"
	"fmt"
	"math"
	"sync"

	"github.com/pion/mediatrack/pkg/frame"
)

// Gate drops PCM frames whose RMS level, in dBFS, is below a threshold. It
// saves bandwidth on silence without touching the frames it lets through.
//
// Property: "threshold" (number, dBFS, <= 0).
type Gate struct {
	mu        sync.RWMutex
	threshold float64
}

// NewGate creates a Gate with the given threshold in dBFS.
func NewGate(threshold float64) (*Gate, error) {
	if threshold > 0 {
		return nil, fmt.Errorf("gate: threshold must be <= 0 dBFS, got %v", threshold)
	}
	return &Gate{threshold: threshold}, nil
}

// Level returns the RMS level of pcm in dBFS. Silence is -Inf.
func Level(pcm []int16) float64 {
	if len(pcm) == 0 {
		return math.Inf(-1)
	}

	var sum float64
	for _, s := range pcm {
		v := float64(s) / math.MaxInt16
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(pcm)))
	if rms == 0 {
		return math.Inf(-1)
	}
	return 20 * math.Log10(rms)
}

// Process implements filter.Filter. Frames without PCM pass unchanged.
func (g *Gate) Process(f *frame.Frame) (*frame.Frame, error) {
	if len(f.PCM) == 0 {
		return f, nil
	}

	g.mu.RLock()
	threshold := g.threshold
	g.mu.RUnlock()

	if Level(f.PCM) < threshold {
		return nil, nil
	}
	return f, nil
}

// SetProperty implements filter.PropertyFilter.
func (g *Gate) SetProperty(key string, value []byte) error {
	if key != "threshold" {
		return fmt.Errorf("gate: unknown property %q", key)
	}

	var v float64
	if err := json.Unmarshal(value, &v); err != nil {
		return err
	}
	if v > 0 {
		return fmt.Errorf("gate: threshold must be <= 0 dBFS, got %v", v)
	}

	g.mu.Lock()
	g.threshold = v
	g.mu.Unlock()
	return nil
}

// Property implements filter.PropertyFilter.
func (g *Gate) Property(key string) ([]byte, error) {
	if key != "threshold" {
		return nil, fmt.Errorf("gate: unknown property %q", key)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return json.Marshal(g.threshold)
}
