package mediatrack

import (
	"fmt"
	"sync"
	"time"

	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/network"
)

// Reason explains a state transition. Attach and enable transitions carry
// ReasonNone; the others name why the binding went away.
type Reason int

const (
	// ReasonNone marks transitions that are not part of a detach.
	ReasonNone Reason = iota
	// DetachManual is an application initiated detach.
	DetachManual
	// DetachTrackDestroy is used when the track itself is being destroyed.
	DetachTrackDestroy
	// DetachNetworkDestroy is used when the endpoint went away first.
	DetachNetworkDestroy
	// DetachCodecChange is used by Reattach.
	DetachCodecChange
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case DetachManual:
		return "manual"
	case DetachTrackDestroy:
		return "track-destroy"
	case DetachNetworkDestroy:
		return "network-destroy"
	case DetachCodecChange:
		return "codec-change"
	}
	return fmt.Sprintf("reason(%d)", int(r))
}

// StateEvent is delivered to observers on every state transition.
type StateEvent struct {
	TrackID   int
	Old       State
	New       State
	Reason    Reason
	Timestamp time.Time
}

// Observer receives track state transitions. Callbacks run on a dispatcher
// goroutine, never on the goroutine that changed the state, so they may call
// back into the track.
type Observer interface {
	OnStateChange(ev StateEvent)
}

// ObserverFunc is a proxy type to make it easier to implement Observer.
type ObserverFunc func(ev StateEvent)

// OnStateChange calls fn(ev).
func (fn ObserverFunc) OnStateChange(ev StateEvent) {
	fn(ev)
}

// FilterObserver is optionally implemented by an Observer that wants to hear
// about filter chain changes.
type FilterObserver interface {
	OnFilterChange(trackID int, c filter.Change)
}

// KeyFrameObserver is optionally implemented by an Observer of a local track
// that wants to hear about key frame requests from the remote side.
type KeyFrameObserver interface {
	OnKeyFrameRequest(trackID int, req network.KeyFrameRequest)
}

const defaultHistorySize = 32

// history is a bounded log of the most recent state events.
type history struct {
	mu     sync.Mutex
	events []StateEvent
	next   int
	full   bool
}

func newHistory(size int) *history {
	if size <= 0 {
		size = defaultHistorySize
	}
	return &history{events: make([]StateEvent, size)}
}

func (h *history) add(ev StateEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.events[h.next] = ev
	h.next = (h.next + 1) % len(h.events)
	if h.next == 0 {
		h.full = true
	}
}

// list returns the events oldest first.
func (h *history) list() []StateEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.full {
		return append([]StateEvent(nil), h.events[:h.next]...)
	}

	out := make([]StateEvent, 0, len(h.events))
	out = append(out, h.events[h.next:]...)
	return append(out, h.events[:h.next]...)
}
