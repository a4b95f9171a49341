package mediatrack

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"
	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/network"
	"github.com/pion/mediatrack/pkg/observer"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/mediatrack/pkg/telemetry"
)

// Track is the lifecycle surface shared by local and remote tracks.
type Track interface {
	ID() int
	Kind() frame.Kind
	UserID() string
	SetUserID(id string)
	State() State
	Stats() Stats
	Destroy() error
}

// Attachable is implemented by tracks that can be bound to a network
// endpoint.
type Attachable interface {
	Attach(info AttachInfo) error
	Detach(info DetachInfo) error
	Reattach(info AttachInfo) error
	SetEnabled(enabled bool) error
	Binding() *Binding
}

// Filterable is implemented by tracks that run frames through a filter chain.
type Filterable interface {
	Filters() *filter.Chain
}

// Observable is implemented by tracks that report state transitions.
// RegisterObserver returns the only strong reference to the subscription;
// callers must keep it for as long as they want events.
type Observable interface {
	RegisterObserver(o Observer) *observer.Subscription[Observer]
	UnregisterObserver(o Observer) bool
}

type statsSpacer interface {
	statsSpace() (uint64, bool)
}

// StatsSpace returns the telemetry handle of t's current binding, if t is a
// track created by this package and is attached.
func StatsSpace(t Track) (uint64, bool) {
	s, ok := t.(statsSpacer)
	if !ok {
		return 0, false
	}
	return s.statsSpace()
}

// AttachInfo describes the endpoint and configuration of an attach.
type AttachInfo struct {
	// Endpoint is held weakly by the binding. The transport layer keeps
	// ownership.
	Endpoint *network.Endpoint
	Config   config.Config
	// StatsSpace is the telemetry handle for this binding. Zero lets the
	// session allocate one.
	StatsSpace uint64
	// StartDisabled attaches in StateAttachedDisabled.
	StartDisabled bool
}

// DetachInfo describes a detach.
type DetachInfo struct {
	// Endpoint, when set, must be the bound endpoint.
	Endpoint *network.Endpoint
	// Reason defaults to DetachManual.
	Reason Reason
}

// Stats is a point in time view of a track.
type Stats struct {
	TrackID int
	State   State
	// FramesIn counts frames handed to the track.
	FramesIn uint64
	// FramesSuppressed counts frames discarded because the track was not
	// attached and enabled.
	FramesSuppressed uint64
	// FramesDropped counts frames dropped by a filter.
	FramesDropped uint64
	FilterErrors  uint64
	FramesOut     uint64
	// Binding is nil while the track is not attached.
	Binding *BindingStats
	Filters []filter.Stats
}

type counters struct {
	in, suppressed, dropped, filterErrors, out atomic.Uint64
}

// environment carries what a session shares with its tracks.
type environment struct {
	loggerFactory logging.LoggerFactory
	telemetry     telemetry.Telemetry
	nextSpace     func() uint64
	chainOpts     []filter.Option
	historySize   int
	onDestroy     func(id int)
}

// trackHooks let a variant start and stop its frame loops around a binding.
// They run with the track lock held.
type trackHooks interface {
	accepts(ep *network.Endpoint) error
	bound(b *Binding, ep *network.Endpoint) error
	unbound(b *Binding)
}

type baseTrack struct {
	id        int
	kind      frame.Kind
	positions []filter.Position
	userID    atomic.Pointer[string]

	env   *environment
	hooks trackHooks
	log   logging.LeveledLogger

	// mu serialises attach, detach, enable and destroy
	mu      sync.Mutex
	state   atomic.Value
	binding atomic.Pointer[Binding]

	chain     *filter.Chain
	observers *observer.Registry[Observer]
	history   *history
	counters  counters
}

func newBaseTrack(id int, kind frame.Kind, positions []filter.Position, env *environment, scope string) *baseTrack {
	t := &baseTrack{
		id:        id,
		kind:      kind,
		positions: positions,
		env:       env,
		log:       env.loggerFactory.NewLogger(scope),
		history:   newHistory(env.historySize),
		observers: observer.NewRegistry[Observer](observer.WithLoggerFactory(env.loggerFactory)),
	}
	t.state.Store(StateIdle)

	opts := append([]filter.Option{
		filter.WithLoggerFactory(env.loggerFactory),
		filter.WithOnChange(t.filterChanged),
	}, env.chainOpts...)
	t.chain = filter.NewChain(opts...)

	empty := ""
	t.userID.Store(&empty)
	return t
}

// ID returns the process unique track id.
func (t *baseTrack) ID() int {
	return t.id
}

// Kind returns the media kind.
func (t *baseTrack) Kind() frame.Kind {
	return t.kind
}

// UserID returns the user the track belongs to.
func (t *baseTrack) UserID() string {
	return *t.userID.Load()
}

// SetUserID sets the user the track belongs to.
func (t *baseTrack) SetUserID(id string) {
	t.userID.Store(&id)
}

// State returns the current state without taking the track lock.
func (t *baseTrack) State() State {
	return t.state.Load().(State)
}

// Binding returns the current binding, or nil when not attached.
func (t *baseTrack) Binding() *Binding {
	return t.binding.Load()
}

// Filters returns the track's filter chain. Filters persist across attach
// and detach.
func (t *baseTrack) Filters() *filter.Chain {
	return t.chain
}

// RegisterObserver subscribes o to state transitions. The track holds the
// returned subscription weakly: keeping o alive is not enough, discarding
// the subscription unsubscribes o at the next garbage collection.
func (t *baseTrack) RegisterObserver(o Observer) *observer.Subscription[Observer] {
	return t.observers.Register(o)
}

// UnregisterObserver unsubscribes o. It is safe to call from inside a
// callback.
func (t *baseTrack) UnregisterObserver(o Observer) bool {
	return t.observers.Unregister(o)
}

// StateHistory returns the most recent state events, oldest first.
func (t *baseTrack) StateHistory() []StateEvent {
	return t.history.list()
}

func (t *baseTrack) statsSpace() (uint64, bool) {
	b := t.binding.Load()
	if b == nil {
		return 0, false
	}
	return b.StatsSpace(), true
}

func (t *baseTrack) filterChanged(c filter.Change) {
	id := t.id
	t.observers.Notify(func(o Observer) {
		if fo, ok := o.(FilterObserver); ok {
			fo.OnFilterChange(id, c)
		}
	})
}

// transition moves the track to next and queues the event. Must be called
// with mu held.
func (t *baseTrack) transition(next State, reason Reason) error {
	old := t.State()
	cur := old
	if err := cur.Update(next, nil); err != nil {
		return err
	}
	t.state.Store(cur)

	ev := StateEvent{
		TrackID:   t.id,
		Old:       old,
		New:       next,
		Reason:    reason,
		Timestamp: time.Now(),
	}
	t.history.add(ev)
	t.observers.Notify(func(o Observer) {
		o.OnStateChange(ev)
	})
	t.log.Debugf("track %d: %s -> %s (%s)", t.id, old, next, reason)
	return nil
}

func (t *baseTrack) validate(info *AttachInfo) (*config.Config, error) {
	if info.Endpoint == nil {
		return nil, fmt.Errorf("track %d: attach without endpoint: %w", t.id, status.ErrInvalidArgument)
	}
	if info.Endpoint.Closed() {
		return nil, fmt.Errorf("track %d: %s closed: %w", t.id, info.Endpoint, status.ErrStaleReference)
	}
	if err := t.hooks.accepts(info.Endpoint); err != nil {
		return nil, err
	}
	if err := info.Config.Validate(); err != nil {
		return nil, err
	}
	if k := info.Config.Kind(); k != t.kind {
		return nil, fmt.Errorf("track %d: %s codec on %s track: %w", t.id, k, t.kind, status.ErrInvalidArgument)
	}
	return info.Config.Clone(), nil
}

// Attach binds the track to info.Endpoint. It only succeeds from StateIdle;
// attaching an attached track fails with status.ErrInvalidState, use
// Reattach to switch endpoints or codecs.
func (t *baseTrack) Attach(info AttachInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attachLocked(info)
}

func (t *baseTrack) attachLocked(info AttachInfo) error {
	if s := t.State(); s != StateIdle {
		return fmt.Errorf("track %d: attach while %s: %w", t.id, s, status.ErrInvalidState)
	}

	cfg, err := t.validate(&info)
	if err != nil {
		return err
	}

	space := info.StatsSpace
	if space == 0 {
		space = t.env.nextSpace()
	}

	if err := t.transition(StateAttaching, ReasonNone); err != nil {
		return err
	}

	b, err := newBinding(t.id, info.Endpoint, cfg, space, t.env.telemetry, t.log)
	if err == nil {
		if err = t.hooks.bound(b, info.Endpoint); err != nil {
			if cerr := b.close(); cerr != nil {
				t.log.Warnf("track %d: %v", t.id, cerr)
			}
		}
	}
	if err != nil {
		if terr := t.transition(StateIdle, ReasonNone); terr != nil {
			t.log.Errorf("track %d: %v", t.id, terr)
		}
		return err
	}

	t.binding.Store(b)
	go t.watchEndpoint(b, info.Endpoint.Done())

	next := StateAttachedEnabled
	if info.StartDisabled {
		next = StateAttachedDisabled
	}
	return t.transition(next, ReasonNone)
}

// Detach unbinds the track. Detaching an idle or destroyed track is a no-op.
// Once Detach returns no further frame reaches the endpoint.
func (t *baseTrack) Detach(info DetachInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.detachLocked(info)
}

func (t *baseTrack) detachLocked(info DetachInfo) error {
	if !t.State().Attached() {
		return nil
	}
	if info.Reason == ReasonNone {
		info.Reason = DetachManual
	}

	b := t.binding.Load()
	if info.Endpoint != nil && !b.endpoint.Is(info.Endpoint) {
		return fmt.Errorf("track %d: not attached to %s: %w", t.id, info.Endpoint, status.ErrNotFound)
	}

	if err := t.transition(StateDetaching, info.Reason); err != nil {
		return err
	}

	t.binding.Store(nil)
	if err := b.close(); err != nil {
		t.log.Warnf("track %d: %v", t.id, err)
	}
	t.hooks.unbound(b)

	return t.transition(StateIdle, info.Reason)
}

// detachBinding detaches only if b is still the current binding. Used by
// frame loops that noticed their endpoint went away.
func (t *baseTrack) detachBinding(b *Binding, reason Reason) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.binding.Load() != b {
		return
	}
	if err := t.detachLocked(DetachInfo{Reason: reason}); err != nil {
		t.log.Warnf("track %d: %v", t.id, err)
	}
}

// watchEndpoint detaches with DetachNetworkDestroy when the endpoint owner
// closes it first. Only the done channel is captured so the endpoint itself
// stays collectable.
func (t *baseTrack) watchEndpoint(b *Binding, closed <-chan struct{}) {
	select {
	case <-closed:
		t.detachBinding(b, DetachNetworkDestroy)
	case <-b.Done():
	}
}

// Reattach atomically detaches with DetachCodecChange and attaches with info.
// The enabled state carries over. If the new attach fails the track is left
// idle.
func (t *baseTrack) Reattach(info AttachInfo) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.State()
	if !s.Attached() {
		return fmt.Errorf("track %d: reattach while %s: %w", t.id, s, status.ErrInvalidState)
	}
	if _, err := t.validate(&info); err != nil {
		return err
	}

	if s == StateAttachedDisabled {
		info.StartDisabled = true
	}
	if err := t.detachLocked(DetachInfo{Reason: DetachCodecChange}); err != nil {
		return err
	}
	return t.attachLocked(info)
}

// SetEnabled toggles between StateAttachedEnabled and StateAttachedDisabled.
// The binding is kept as is.
func (t *baseTrack) SetEnabled(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	s := t.State()
	if !s.Attached() {
		return fmt.Errorf("track %d: set enabled while %s: %w", t.id, s, status.ErrInvalidState)
	}

	next := StateAttachedDisabled
	if enabled {
		next = StateAttachedEnabled
	}
	if s == next {
		return nil
	}
	return t.transition(next, ReasonNone)
}

// Enabled reports whether frames currently flow.
func (t *baseTrack) Enabled() bool {
	return t.State() == StateAttachedEnabled
}

// Published reports whether the track is attached, enabled or not.
func (t *baseTrack) Published() bool {
	return t.State().Attached()
}

// Destroy detaches the track with DetachTrackDestroy and moves it to the
// terminal StateDestroyed. Observers receive the pending events, then the
// registry is shut down.
func (t *baseTrack) Destroy() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.State() == StateDestroyed {
		return nil
	}
	if err := t.detachLocked(DetachInfo{Reason: DetachTrackDestroy}); err != nil {
		return err
	}
	if err := t.transition(StateDestroyed, DetachTrackDestroy); err != nil {
		return err
	}

	t.chain.Clear()
	t.observers.Shutdown()
	if t.env.onDestroy != nil {
		t.env.onDestroy(t.id)
	}
	return nil
}

// process runs f through the track's filter positions and keeps the
// counters. It returns nil when a filter dropped the frame.
func (t *baseTrack) process(f *frame.Frame) (*frame.Frame, error) {
	res := t.chain.Process(f, t.positions...)
	if res.Err != nil {
		t.counters.filterErrors.Add(1)
		t.log.Warnf("track %d: filter %s at %s: %v", t.id, res.DroppedBy, res.Position, res.Err)
		return nil, res.Err
	}
	if res.Dropped() {
		t.counters.dropped.Add(1)
		return nil, nil
	}
	return res.Frame, nil
}

func (t *baseTrack) stats() Stats {
	st := Stats{
		TrackID:          t.id,
		State:            t.State(),
		FramesIn:         t.counters.in.Load(),
		FramesSuppressed: t.counters.suppressed.Load(),
		FramesDropped:    t.counters.dropped.Load(),
		FilterErrors:     t.counters.filterErrors.Load(),
		FramesOut:        t.counters.out.Load(),
		Filters:          t.chain.Stats(t.positions...),
	}
	if b := t.binding.Load(); b != nil {
		bs := b.Stats()
		st.Binding = &bs
	}
	return st
}
