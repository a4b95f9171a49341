package mediatrack

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"
	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/network"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/mediatrack/pkg/telemetry"
)

const bitrateWindow = 2 * time.Second

// Binding is the live association between a track and a network endpoint,
// created by a successful attach and closed by detach. It never owns the
// endpoint: once the endpoint is closed or collected every call fails with
// status.ErrStaleReference.
type Binding struct {
	id         uuid.UUID
	trackID    int
	endpoint   network.Ref
	statsSpace uint64
	createdAt  time.Time

	cfg atomic.Pointer[config.Config]

	telemetry  telemetry.Telemetry
	detachOnce sync.Once

	// read-held by every frame passing through, write-held by close
	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	frames  atomic.Uint64
	bytes   atomic.Uint64
	errors  atomic.Uint64
	bitrate *telemetry.BitrateTracker

	log logging.LeveledLogger
}

// BindingStats is a point in time view of a binding.
type BindingStats struct {
	ID         uuid.UUID
	StatsSpace uint64
	Since      time.Time
	// Frames and Bytes count what went to the sink on a local track, or
	// what came from the source on a remote track.
	Frames uint64
	Bytes  uint64
	Errors uint64
	// Bitrate in bits per second over the last couple of seconds.
	Bitrate float64

	// Transport is only filled when the telemetry can report it.
	Transport    telemetry.Transport
	HasTransport bool
}

func newBinding(trackID int, ep *network.Endpoint, cfg *config.Config, space uint64, tel telemetry.Telemetry, log logging.LeveledLogger) (*Binding, error) {
	b := &Binding{
		id:         uuid.New(),
		trackID:    trackID,
		endpoint:   network.MakeRef(ep),
		statsSpace: space,
		createdAt:  time.Now(),
		telemetry:  tel,
		bitrate:    telemetry.NewBitrateTracker(bitrateWindow),
		done:       make(chan struct{}),
		log:        log,
	}
	b.cfg.Store(cfg)

	err := tel.AttachStatsSpace(telemetry.Space{
		Handle:  space,
		TrackID: trackID,
		SSRC:    uint32(cfg.SSRC),
	})
	if err != nil {
		return nil, fmt.Errorf("binding: attach stats space %d: %w", space, err)
	}

	return b, nil
}

// ID returns the unique identity of this binding.
func (b *Binding) ID() uuid.UUID {
	return b.id
}

// TrackID returns the id of the owning track.
func (b *Binding) TrackID() int {
	return b.trackID
}

// StatsSpace returns the telemetry handle attached for this binding.
func (b *Binding) StatsSpace() uint64 {
	return b.statsSpace
}

// Config returns the active configuration snapshot. It must not be modified.
func (b *Binding) Config() *config.Config {
	return b.cfg.Load()
}

// Endpoint returns the bound endpoint if it is still alive.
func (b *Binding) Endpoint() (*network.Endpoint, error) {
	return b.endpoint.Get()
}

// Done is closed when the binding is detached.
func (b *Binding) Done() <-chan struct{} {
	return b.done
}

// Closed reports whether the binding was detached.
func (b *Binding) Closed() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.closed
}

// Reconfigure replaces the configuration snapshot as a whole. Frames already
// handed to the sink keep the snapshot they entered with.
func (b *Binding) Reconfigure(cfg config.Config) error {
	if _, err := b.endpoint.Get(); err != nil {
		return err
	}
	if b.Closed() {
		return fmt.Errorf("binding %s: reconfigure after detach: %w", b.id, status.ErrInvalidState)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cur := b.cfg.Load(); cfg.Kind() != cur.Kind() {
		return fmt.Errorf("binding %s: cannot switch from %s to %s: %w", b.id, cur.Kind(), cfg.Kind(), status.ErrInvalidArgument)
	}

	b.cfg.Store(cfg.Clone())
	b.log.Debugf("binding %s reconfigured to %s", b.id, cfg.Codec.MimeType)
	return nil
}

// send hands f to the endpoint's sink along with the snapshot active at
// entry.
func (b *Binding) send(f *frame.Frame) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("binding %s: detached: %w", b.id, status.ErrInvalidState)
	}

	cfg := b.cfg.Load()
	ep, err := b.endpoint.Get()
	if err != nil {
		return err
	}
	sink := ep.Sink()
	if sink == nil {
		return fmt.Errorf("binding %s: %s has no sink: %w", b.id, ep, status.ErrNotSupported)
	}

	if err := sink.Send(f, cfg); err != nil {
		b.errors.Add(1)
		return err
	}

	b.account(f)
	return nil
}

// receive passes f to deliver unless the binding has been closed. Closing
// waits for a running deliver to return.
func (b *Binding) receive(f *frame.Frame, deliver func(*frame.Frame)) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return false
	}

	b.account(f)
	deliver(f)
	return true
}

func (b *Binding) account(f *frame.Frame) {
	size := f.Size()
	b.frames.Add(1)
	b.bytes.Add(uint64(size))
	b.bitrate.Add(size, time.Now())
}

// close stops all traffic, waiting for frames already inside the binding, and
// detaches the stats space.
func (b *Binding) close() error {
	b.mu.Lock()
	if !b.closed {
		b.closed = true
		close(b.done)
	}
	b.mu.Unlock()

	var err error
	b.detachOnce.Do(func() {
		if derr := b.telemetry.DetachStatsSpace(b.statsSpace); derr != nil {
			err = fmt.Errorf("binding: detach stats space %d: %w", b.statsSpace, derr)
		}
	})
	return err
}

// Stats returns the binding counters.
func (b *Binding) Stats() BindingStats {
	st := BindingStats{
		ID:         b.id,
		StatsSpace: b.statsSpace,
		Since:      b.createdAt,
		Frames:     b.frames.Load(),
		Bytes:      b.bytes.Load(),
		Errors:     b.errors.Load(),
		Bitrate:    b.bitrate.Bitrate(),
	}

	if src, ok := b.telemetry.(telemetry.Source); ok {
		st.Transport, st.HasTransport = src.TransportStats(b.statsSpace)
	}
	return st
}
