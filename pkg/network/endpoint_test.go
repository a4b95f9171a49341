package network

import (
	"runtime"
	"testing"

	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nopSink() Sink {
	return SinkFunc(func(*frame.Frame, *config.Config) error { return nil })
}

func TestRefClosed(t *testing.T) {
	ep := NewSinkEndpoint("out", nopSink())
	ref := MakeRef(ep)

	got, err := ref.Get()
	require.NoError(t, err)
	assert.Same(t, ep, got)
	assert.True(t, ref.Is(ep))
	assert.False(t, ep.Closed())

	require.NoError(t, ep.Close())
	require.NoError(t, ep.Close())
	assert.True(t, ep.Closed())

	_, err = ref.Get()
	assert.ErrorIs(t, err, status.ErrStaleReference)
}

func TestRefCollected(t *testing.T) {
	ref := func() Ref {
		ep := NewSinkEndpoint("gone", nopSink())
		return MakeRef(ep)
	}()

	var err error
	for i := 0; i < 10; i++ {
		runtime.GC()
		if _, err = ref.Get(); err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, status.ErrStaleReference)
}

func TestRefIs(t *testing.T) {
	a := NewSinkEndpoint("a", nopSink())
	b := NewSinkEndpoint("b", nopSink())
	ref := MakeRef(a)

	assert.True(t, ref.Is(a))
	assert.False(t, ref.Is(b))
	assert.False(t, ref.Is(nil))
	runtime.KeepAlive(a)
}

func TestEndpointSides(t *testing.T) {
	p := NewPipe(1)
	sink := NewSinkEndpoint("out", nopSink(), WithRTCPReader(p))
	assert.NotNil(t, sink.Sink())
	assert.Nil(t, sink.Source())
	assert.Equal(t, p, sink.RTCPReader())
	assert.Nil(t, sink.RTCPWriter())
	assert.Equal(t, "out", sink.Name())

	src := NewSourceEndpoint("in", nil, WithRTCPWriter(p))
	assert.Nil(t, src.Sink())
	assert.Equal(t, p, src.RTCPWriter())
}
