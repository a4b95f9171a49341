package mediatrack

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

type sinkRecorder struct {
	mu     sync.Mutex
	frames []*frame.Frame
	cfgs   []*config.Config

	// entered, when set, receives a value as a frame enters Send; block,
	// when set, holds Send until closed.
	entered chan struct{}
	block   chan struct{}
}

func (r *sinkRecorder) Send(f *frame.Frame, cfg *config.Config) error {
	if r.entered != nil {
		select {
		case r.entered <- struct{}{}:
		default:
		}
	}
	if r.block != nil {
		<-r.block
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, f)
	r.cfgs = append(r.cfgs, cfg)
	return nil
}

func (r *sinkRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *sinkRecorder) config(i int) *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfgs[i]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []StateEvent
}

func (r *eventRecorder) OnStateChange(ev StateEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *eventRecorder) got() []StateEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]StateEvent(nil), r.events...)
}

func (r *eventRecorder) states() []State {
	var out []State
	for _, ev := range r.got() {
		out = append(out, ev.New)
	}
	return out
}

func flushObservers(t *testing.T, tr *baseTrack) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, tr.observers.Flush(ctx))
}

func audioConfig(ssrc uint32) config.Config {
	cfg := config.Default(frame.KindAudio)
	cfg.SSRC = webrtc.SSRC(ssrc)
	return cfg
}

func videoConfig(ssrc uint32) config.Config {
	cfg := config.Default(frame.KindVideo)
	cfg.SSRC = webrtc.SSRC(ssrc)
	return cfg
}
