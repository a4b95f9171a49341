package video

import (
	"image"
	"testing"

	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScale(t *testing.T) {
	cases := map[string]struct {
		width, height int
		expected      image.Rectangle
	}{
		"Fixed":       {320, 240, image.Rect(0, 0, 320, 240)},
		"KeepHeight":  {320, 0, image.Rect(0, 0, 320, 240)},
		"KeepWidth":   {0, 120, image.Rect(0, 0, 160, 120)},
		"SameAsInput": {640, 480, image.Rect(0, 0, 640, 480)},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			s, err := NewScale(c.width, c.height, nil)
			require.NoError(t, err)

			in := &frame.Frame{Kind: frame.KindVideo, Image: image.NewRGBA(image.Rect(0, 0, 640, 480))}
			out, err := s.Process(in)
			require.NoError(t, err)
			assert.Equal(t, c.expected, out.Image.Bounds())
		})
	}
}

func TestScaleInvalid(t *testing.T) {
	_, err := NewScale(0, -1, nil)
	assert.Error(t, err)
}

func TestScaleWithoutImage(t *testing.T) {
	s, err := NewScale(10, 10, ScalerBiLinear)
	require.NoError(t, err)

	in := &frame.Frame{Data: []byte{1}}
	out, err := s.Process(in)
	require.NoError(t, err)
	assert.Same(t, in, out)
}

func TestScaleProperties(t *testing.T) {
	s, err := NewScale(320, 240, nil)
	require.NoError(t, err)

	c := filter.NewChain()
	require.NoError(t, c.Add(s, filter.PositionPreEncoder, "scale"))

	require.NoError(t, c.SetProperty("scale", filter.PositionPreEncoder, "width", []byte("100")))
	require.NoError(t, c.SetProperty("scale", filter.PositionPreEncoder, "scaler", []byte(`"bilinear"`)))

	v, err := c.Property("scale", filter.PositionPreEncoder, "width")
	require.NoError(t, err)
	assert.Equal(t, "100", string(v))
	v, err = c.Property("scale", filter.PositionPreEncoder, "scaler")
	require.NoError(t, err)
	assert.Equal(t, `"bilinear"`, string(v))

	assert.ErrorIs(t, c.SetProperty("scale", filter.PositionPreEncoder, "scaler", []byte(`"cubic"`)), status.ErrPropertyRejected)
	assert.ErrorIs(t, c.SetProperty("scale", filter.PositionPreEncoder, "depth", []byte("1")), status.ErrPropertyRejected)

	res := c.Process(&frame.Frame{Image: image.NewRGBA(image.Rect(0, 0, 640, 480))}, filter.PositionPreEncoder)
	require.False(t, res.Dropped())
	assert.Equal(t, image.Rect(0, 0, 100, 240), res.Frame.Image.Bounds())
	assert.Equal(t, frame.FormatRGBA, res.Frame.Format)
}
