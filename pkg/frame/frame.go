// Package frame holds the unit of media that travels through a track's filter
// chain and binding.
package frame

import (
	"image"
	"time"
)

// Kind tells whether a frame carries audio or video.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Frame is a single unit of media. Raw video carries Image, raw audio carries
// PCM, encoded media carries Data. Filters may replace any of them.
type Frame struct {
	Kind Kind
	// Seq is assigned by the track when the frame enters the pipeline.
	Seq       uint64
	Timestamp time.Time
	// Samples is the media duration in RTP clock ticks, as consumed by the
	// packetizer on the outbound side.
	Samples  uint32
	KeyFrame bool

	Data []byte

	Image  image.Image
	Format Format

	PCM        []int16
	SampleRate int
	Channels   int
}

// Size reports the payload size in bytes, used for bitrate accounting.
func (f *Frame) Size() int {
	if f == nil {
		return 0
	}

	switch {
	case len(f.Data) > 0:
		return len(f.Data)
	case len(f.PCM) > 0:
		return len(f.PCM) * 2
	case f.Image != nil:
		b := f.Image.Bounds()
		return b.Dx() * b.Dy()
	}

	return 0
}

// Clone returns a shallow copy with its own Data and PCM slices. Image is
// shared since filters are expected to produce new images rather than
// mutating the input.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}

	c := *f
	if f.Data != nil {
		c.Data = append([]byte(nil), f.Data...)
	}
	if f.PCM != nil {
		c.PCM = append([]int16(nil), f.PCM...)
	}

	return &c
}
