// Package video provides built-in filters for raw video frames.
package video

import (
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/pion/mediatrack/pkg/frame"
	"golang.org/x/image/draw"
)

// Scaler represents scaling algorithm
type Scaler draw.Scaler

// List of scaling algorithms
var (
	ScalerNearestNeighbor = Scaler(draw.NearestNeighbor)
	ScalerApproxBiLinear  = Scaler(draw.ApproxBiLinear)
	ScalerBiLinear        = Scaler(draw.BiLinear)
	ScalerCatmullRom      = Scaler(draw.CatmullRom)
)

var scalerNames = map[string]Scaler{
	"nearest":         ScalerNearestNeighbor,
	"approx-bilinear": ScalerApproxBiLinear,
	"bilinear":        ScalerBiLinear,
	"catmull-rom":     ScalerCatmullRom,
}

var errInvalidSize = errors.New("scale: width and height can't both be non-positive")

// Scale resizes raw video frames. Non-positive width or height keeps the
// aspect ratio of the incoming image. Output frames are RGBA.
//
// Properties: "width", "height" (numbers) and "scaler" (one of "nearest",
// "approx-bilinear", "bilinear", "catmull-rom").
type Scale struct {
	mu         sync.Mutex
	width      int
	height     int
	scaler     Scaler
	scalerName string
}

// NewScale creates a Scale filter. A nil scaler means nearest neighbor.
func NewScale(width, height int, scaler Scaler) (*Scale, error) {
	if width <= 0 && height <= 0 {
		return nil, errInvalidSize
	}

	name := "nearest"
	if scaler == nil {
		scaler = ScalerNearestNeighbor
	} else {
		name = ""
		for n, s := range scalerNames {
			if s == scaler {
				name = n
			}
		}
	}

	return &Scale{width: width, height: height, scaler: scaler, scalerName: name}, nil
}

func (s *Scale) target(src image.Rectangle) image.Rectangle {
	switch {
	case s.height <= 0:
		return image.Rect(0, 0, s.width, src.Dy()*s.width/src.Dx())
	case s.width <= 0:
		return image.Rect(0, 0, src.Dx()*s.height/src.Dy(), s.height)
	}
	return image.Rect(0, 0, s.width, s.height)
}

// Process implements filter.Filter. Frames without an image pass unchanged.
func (s *Scale) Process(f *frame.Frame) (*frame.Frame, error) {
	if f.Image == nil {
		return f, nil
	}

	src := f.Image.Bounds()
	if src.Empty() {
		return f, nil
	}

	s.mu.Lock()
	rect := s.target(src)
	scaler := s.scaler
	s.mu.Unlock()

	if rect == src.Sub(src.Min) {
		return f, nil
	}

	dst := image.NewRGBA(rect)
	scaler.Scale(dst, rect, f.Image, src, draw.Src, nil)

	out := *f
	out.Image = dst
	out.Format = frame.FormatRGBA
	return &out, nil
}

// SetProperty implements filter.PropertyFilter.
func (s *Scale) SetProperty(key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "width", "height":
		var v int
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		w, h := s.width, s.height
		if key == "width" {
			w = v
		} else {
			h = v
		}
		if w <= 0 && h <= 0 {
			return errInvalidSize
		}
		s.width, s.height = w, h
	case "scaler":
		var name string
		if err := json.Unmarshal(value, &name); err != nil {
			return err
		}
		scaler, ok := scalerNames[name]
		if !ok {
			return fmt.Errorf("scale: unknown scaler %q", name)
		}
		s.scaler, s.scalerName = scaler, name
	default:
		return fmt.Errorf("scale: unknown property %q", key)
	}

	return nil
}

// Property implements filter.PropertyFilter.
func (s *Scale) Property(key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch key {
	case "width":
		return json.Marshal(s.width)
	case "height":
		return json.Marshal(s.height)
	case "scaler":
		return json.Marshal(s.scalerName)
	}
	return nil, fmt.Errorf("scale: unknown property %q", key)
}
