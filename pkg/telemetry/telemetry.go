// Package telemetry is the narrow contract between bindings and the stats
// subsystem: a binding attaches its opaque stats-space handle when it is
// created and detaches it when it goes away, exactly once each.
package telemetry

import (
	"fmt"
	"sync"

	"github.com/pion/mediatrack/pkg/status"
)

// Space identifies the telemetry counters of one binding.
type Space struct {
	Handle  uint64
	TrackID int
	SSRC    uint32
}

// Telemetry receives stats-space attach/detach notifications.
type Telemetry interface {
	AttachStatsSpace(space Space) error
	DetachStatsSpace(handle uint64) error
}

// Transport holds transport level counters for a stats space.
type Transport struct {
	PacketsSent     uint64
	BytesSent       uint64
	PacketsReceived uint64
	BytesReceived   uint64
	PacketsLost     int64
	Jitter          float64
	NACKCount       uint32
	PLICount        uint32
}

// Source is optionally implemented by a Telemetry that can report transport
// counters for an attached space.
type Source interface {
	TransportStats(handle uint64) (Transport, bool)
}

type nop struct{}

func (nop) AttachStatsSpace(Space) error  { return nil }
func (nop) DetachStatsSpace(uint64) error { return nil }

// Nop returns a Telemetry that accepts everything and records nothing.
func Nop() Telemetry {
	return nop{}
}

// Registry is an in-memory Telemetry that keeps track of attached spaces. A
// handle can only be attached once at a time.
type Registry struct {
	mu       sync.Mutex
	spaces   map[uint64]Space
	attaches map[uint64]int
	detaches map[uint64]int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		spaces:   make(map[uint64]Space),
		attaches: make(map[uint64]int),
		detaches: make(map[uint64]int),
	}
}

// AttachStatsSpace implements Telemetry.
func (r *Registry) AttachStatsSpace(space Space) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.spaces[space.Handle]; ok {
		return fmt.Errorf("telemetry: space %d: %w", space.Handle, status.ErrDuplicateID)
	}

	r.spaces[space.Handle] = space
	r.attaches[space.Handle]++
	return nil
}

// DetachStatsSpace implements Telemetry.
func (r *Registry) DetachStatsSpace(handle uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.spaces[handle]; !ok {
		return fmt.Errorf("telemetry: space %d: %w", handle, status.ErrNotFound)
	}

	delete(r.spaces, handle)
	r.detaches[handle]++
	return nil
}

// Space returns the attached space for handle.
func (r *Registry) Space(handle uint64) (Space, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.spaces[handle]
	return s, ok
}

// Counts returns how many times handle was attached and detached.
func (r *Registry) Counts(handle uint64) (attached, detached int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attaches[handle], r.detaches[handle]
}

// Len returns the number of currently attached spaces.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.spaces)
}
