package video

import (
	"testing"
	"time"

	"github.com/pion/mediatrack/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThrottle(t *testing.T) {
	th, err := NewThrottle(50)
	require.NoError(t, err)

	// 100 fps input for one second
	start := time.Unix(0, 0)
	var passed int
	for i := 0; i < 100; i++ {
		f := &frame.Frame{Timestamp: start.Add(time.Duration(i) * 10 * time.Millisecond)}
		out, err := th.Process(f)
		require.NoError(t, err)
		if out != nil {
			passed++
		}
	}

	assert.Equal(t, 50, passed)
}

func TestThrottleProperty(t *testing.T) {
	th, err := NewThrottle(10)
	require.NoError(t, err)

	require.NoError(t, th.SetProperty("fps", []byte("25")))
	v, err := th.Property("fps")
	require.NoError(t, err)
	assert.Equal(t, "25", string(v))

	assert.Error(t, th.SetProperty("fps", []byte("0")))
	assert.Error(t, th.SetProperty("rate", []byte("1")))
	_, err = NewThrottle(-1)
	assert.Error(t, err)
}
