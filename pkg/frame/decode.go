package frame

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/pion/mediatrack/pkg/status"
	"golang.org/x/image/draw"
)

// Decoder turns a raw pixel buffer into an image.
type Decoder interface {
	Decode(data []byte, width, height int) (image.Image, error)
}

// DecoderFunc is a proxy type for Decoder.
type DecoderFunc func(data []byte, width, height int) (image.Image, error)

// Decode implements Decoder.
func (f DecoderFunc) Decode(data []byte, width, height int) (image.Image, error) {
	return f(data, width, height)
}

// NewDecoder returns a Decoder for the given raw pixel format.
func NewDecoder(f Format) (Decoder, error) {
	switch f {
	case FormatI420:
		return DecoderFunc(decodeI420), nil
	case FormatI444:
		return DecoderFunc(decodeI444), nil
	case FormatRGBA:
		return DecoderFunc(decodeRGBA), nil
	default:
		return nil, fmt.Errorf("frame: format %q: %w", f, status.ErrNotSupported)
	}
}

func short(got, want int) error {
	return fmt.Errorf("frame length (%d) less than expected (%d): %w", got, want, status.ErrInvalidArgument)
}

func decodeI420(frame []byte, width, height int) (image.Image, error) {
	cw, ch := (width+1)/2, (height+1)/2
	yi := width * height
	cbi := yi + cw*ch
	cri := cbi + cw*ch

	if cri > len(frame) {
		return nil, short(len(frame), cri)
	}

	return &image.YCbCr{
		Y:              frame[:yi],
		YStride:        width,
		Cb:             frame[yi:cbi],
		Cr:             frame[cbi:cri],
		CStride:        cw,
		SubsampleRatio: image.YCbCrSubsampleRatio420,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

func decodeI444(frame []byte, width, height int) (image.Image, error) {
	yi := width * height
	cbi := 2 * yi
	cri := 3 * yi

	if cri > len(frame) {
		return nil, short(len(frame), cri)
	}

	return &image.YCbCr{
		Y:              frame[:yi],
		YStride:        width,
		Cb:             frame[yi:cbi],
		Cr:             frame[cbi:cri],
		CStride:        width,
		SubsampleRatio: image.YCbCrSubsampleRatio444,
		Rect:           image.Rect(0, 0, width, height),
	}, nil
}

func decodeRGBA(frame []byte, width, height int) (image.Image, error) {
	size := 4 * width * height
	if size > len(frame) {
		return nil, short(len(frame), size)
	}

	return &image.RGBA{
		Pix:    frame[:size:size],
		Stride: 4 * width,
		Rect:   image.Rect(0, 0, width, height),
	}, nil
}

const rawHeaderSize = 5

var rawFormats = []Format{FormatI420, FormatI444, FormatRGBA}

// MarshalRaw serializes img into a self-describing raw buffer: a format tag,
// the dimensions and the planes. 4:2:0 and 4:4:4 YCbCr images keep their
// layout, anything else is converted to RGBA.
func MarshalRaw(img image.Image) ([]byte, Format, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || w > 0xffff || h > 0xffff {
		return nil, "", fmt.Errorf("frame: image size %dx%d: %w", w, h, status.ErrInvalidArgument)
	}

	var (
		format Format
		planes [][]byte
	)
	switch src := img.(type) {
	case *image.YCbCr:
		switch src.SubsampleRatio {
		case image.YCbCrSubsampleRatio420:
			format = FormatI420
			planes = ycbcrPlanes(src, (w+1)/2, (h+1)/2)
		case image.YCbCrSubsampleRatio444:
			format = FormatI444
			planes = ycbcrPlanes(src, w, h)
		}
	case *image.RGBA:
		format = FormatRGBA
		planes = [][]byte{packRows(src.Pix[src.PixOffset(b.Min.X, b.Min.Y):], src.Stride, 4*w, h)}
	}
	if format == "" {
		rgba := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(rgba, rgba.Rect, img, b.Min, draw.Src)
		format = FormatRGBA
		planes = [][]byte{rgba.Pix}
	}

	out := make([]byte, rawHeaderSize, rawHeaderSize+w*h*4)
	for i, f := range rawFormats {
		if f == format {
			out[0] = byte(i)
		}
	}
	binary.BigEndian.PutUint16(out[1:], uint16(w))
	binary.BigEndian.PutUint16(out[3:], uint16(h))
	for _, p := range planes {
		out = append(out, p...)
	}

	return out, format, nil
}

// UnmarshalRaw decodes a buffer produced by MarshalRaw. The returned image
// aliases data.
func UnmarshalRaw(data []byte) (image.Image, Format, error) {
	if len(data) < rawHeaderSize {
		return nil, "", short(len(data), rawHeaderSize)
	}
	if int(data[0]) >= len(rawFormats) {
		return nil, "", fmt.Errorf("frame: raw format tag %d: %w", data[0], status.ErrNotSupported)
	}

	format := rawFormats[data[0]]
	w := int(binary.BigEndian.Uint16(data[1:]))
	h := int(binary.BigEndian.Uint16(data[3:]))

	d, err := NewDecoder(format)
	if err != nil {
		return nil, "", err
	}
	img, err := d.Decode(data[rawHeaderSize:], w, h)
	if err != nil {
		return nil, "", err
	}
	return img, format, nil
}

func ycbcrPlanes(src *image.YCbCr, cw, ch int) [][]byte {
	b := src.Rect
	yo := src.YOffset(b.Min.X, b.Min.Y)
	co := src.COffset(b.Min.X, b.Min.Y)
	return [][]byte{
		packRows(src.Y[yo:], src.YStride, b.Dx(), b.Dy()),
		packRows(src.Cb[co:], src.CStride, cw, ch),
		packRows(src.Cr[co:], src.CStride, cw, ch),
	}
}

// packRows copies rows of n bytes spaced stride apart into a dense slice.
func packRows(pix []byte, stride, n, rows int) []byte {
	if stride == n {
		return append([]byte(nil), pix[:n*rows]...)
	}

	out := make([]byte, 0, n*rows)
	for y := 0; y < rows; y++ {
		out = append(out, pix[y*stride:y*stride+n]...)
	}
	return out
}
