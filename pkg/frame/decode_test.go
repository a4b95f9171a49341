package frame

import (
	"image"
	"image/color"
	"testing"

	"github.com/pion/mediatrack/pkg/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeI420(t *testing.T) {
	d, err := NewDecoder(FormatI420)
	require.NoError(t, err)

	// 4x2 luma, 2x1 chroma planes
	buf := []byte{
		0, 1, 2, 3,
		4, 5, 6, 7,
		8, 9,
		10, 11,
	}
	img, err := d.Decode(buf, 4, 2)
	require.NoError(t, err)

	ycc, ok := img.(*image.YCbCr)
	require.True(t, ok)
	assert.Equal(t, image.Rect(0, 0, 4, 2), ycc.Rect)
	assert.Equal(t, []byte{8, 9}, ycc.Cb)
	assert.Equal(t, []byte{10, 11}, ycc.Cr)

	_, err = d.Decode(buf[:10], 4, 2)
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}

func TestNewDecoderUnsupported(t *testing.T) {
	_, err := NewDecoder("NV21")
	assert.ErrorIs(t, err, status.ErrNotSupported)
}

func TestRawRoundTrip(t *testing.T) {
	ycc := image.NewYCbCr(image.Rect(0, 0, 6, 4), image.YCbCrSubsampleRatio420)
	for i := range ycc.Y {
		ycc.Y[i] = byte(i)
	}

	rgba := image.NewRGBA(image.Rect(0, 0, 3, 3))
	rgba.SetRGBA(1, 1, color.RGBA{R: 10, G: 20, B: 30, A: 255})

	gray := image.NewGray(image.Rect(0, 0, 2, 2))
	gray.SetGray(1, 0, color.Gray{Y: 200})

	cases := map[string]struct {
		img    image.Image
		format Format
	}{
		"I420": {ycc, FormatI420},
		"I444": {image.NewYCbCr(image.Rect(0, 0, 2, 2), image.YCbCrSubsampleRatio444), FormatI444},
		"RGBA": {rgba, FormatRGBA},
		"Gray": {gray, FormatRGBA},
		// sub-image with a stride wider than its bounds
		"SubImage": {rgba.SubImage(image.Rect(1, 1, 3, 3)), FormatRGBA},
	}

	for name, c := range cases {
		c := c
		t.Run(name, func(t *testing.T) {
			data, format, err := MarshalRaw(c.img)
			require.NoError(t, err)
			assert.Equal(t, c.format, format)

			img, format, err := UnmarshalRaw(data)
			require.NoError(t, err)
			assert.Equal(t, c.format, format)

			b := c.img.Bounds()
			require.Equal(t, b.Dx(), img.Bounds().Dx())
			require.Equal(t, b.Dy(), img.Bounds().Dy())
			for y := 0; y < b.Dy(); y++ {
				for x := 0; x < b.Dx(); x++ {
					r1, g1, b1, a1 := c.img.At(b.Min.X+x, b.Min.Y+y).RGBA()
					r2, g2, b2, a2 := img.At(x, y).RGBA()
					assert.Equal(t, [4]uint32{r1, g1, b1, a1}, [4]uint32{r2, g2, b2, a2}, "pixel %d,%d", x, y)
				}
			}
		})
	}
}

func TestUnmarshalRawErrors(t *testing.T) {
	_, _, err := UnmarshalRaw([]byte{0, 0})
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	_, _, err = UnmarshalRaw([]byte{9, 0, 1, 0, 1})
	assert.ErrorIs(t, err, status.ErrNotSupported)

	// RGBA 2x2 needs 16 bytes
	_, _, err = UnmarshalRaw([]byte{2, 0, 2, 0, 2, 1, 2, 3})
	assert.ErrorIs(t, err, status.ErrInvalidArgument)

	_, _, err = MarshalRaw(image.NewRGBA(image.Rect(0, 0, 0, 0)))
	assert.ErrorIs(t, err, status.ErrInvalidArgument)
}
