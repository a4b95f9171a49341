// Package filter implements the position keyed chain of processing stages a
// frame passes through between capture and the network, or between the
// network and a renderer.
package filter

import (
	"fmt"
	"reflect"

	"github.com/pion/mediatrack/pkg/frame"
)

// Position identifies where in the pipeline a filter runs.
type Position int

const (
	// PositionPostCapturerOrigin runs on the frame exactly as captured.
	PositionPostCapturerOrigin Position = iota + 1
	// PositionPostCapturer runs after capture adaptation (rotation, cropping).
	PositionPostCapturer
	// PositionPreEncoder runs right before the frame is handed to the binding.
	PositionPreEncoder
	// PositionPostDecoder runs on frames coming out of the network source.
	PositionPostDecoder
	// PositionPreRenderer runs right before the frame reaches renderers.
	PositionPreRenderer
)

var positionNames = map[Position]string{
	PositionPostCapturerOrigin: "post-capturer-origin",
	PositionPostCapturer:       "post-capturer",
	PositionPreEncoder:         "pre-encoder",
	PositionPostDecoder:        "post-decoder",
	PositionPreRenderer:        "pre-renderer",
}

func (p Position) String() string {
	if name, ok := positionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("position(%d)", int(p))
}

// Valid reports whether p is one of the known positions.
func (p Position) Valid() bool {
	_, ok := positionNames[p]
	return ok
}

// ParsePosition is the inverse of Position.String.
func ParsePosition(s string) (Position, bool) {
	for p, name := range positionNames {
		if name == s {
			return p, true
		}
	}
	return 0, false
}

// Traversal order of positions for each direction.
var (
	LocalPositions  = []Position{PositionPostCapturerOrigin, PositionPostCapturer, PositionPreEncoder}
	RemotePositions = []Position{PositionPostDecoder, PositionPreRenderer}
)

// Filter processes one frame at a time. Returning a nil frame drops it, and no
// filter after this one sees it. Process may be called from any goroutine
// pushing frames into the track, and must not mutate the chain it belongs to.
type Filter interface {
	Process(f *frame.Frame) (*frame.Frame, error)
}

// PropertyFilter is implemented by filters that expose runtime properties.
// Values are JSON encoded.
type PropertyFilter interface {
	Filter
	SetProperty(key string, value []byte) error
	Property(key string) ([]byte, error)
}

// Func is a proxy type to make it easier to implement Filter. Func values are
// not comparable, so they can only be removed by id.
type Func func(f *frame.Frame) (*frame.Frame, error)

// Process calls fn(f).
func (fn Func) Process(f *frame.Frame) (*frame.Frame, error) {
	return fn(f)
}

// sameFilter compares two filters by identity without panicking on
// non-comparable dynamic types.
func sameFilter(a, b Filter) bool {
	ta := reflect.TypeOf(a)
	if ta == nil || ta != reflect.TypeOf(b) || !ta.Comparable() {
		return false
	}
	return a == b
}
