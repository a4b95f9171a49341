// Package mediatrack manages the lifecycle of local and remote media tracks:
// their filter chains, their bindings to network endpoints and the observers
// watching them.
//
// All state is owned by a Session. There are no process wide registries or
// id generators, so independent sessions never interfere.
package mediatrack

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/logging"
	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/mediatrack/pkg/telemetry"
	"golang.org/x/sync/errgroup"
)

// IDAllocator hands out track ids. Ids must be unique within a session.
type IDAllocator interface {
	NextID() int
}

// SequentialIDs allocates increasing ids starting at 1.
type SequentialIDs struct {
	last atomic.Int64
}

// NextID implements IDAllocator.
func (s *SequentialIDs) NextID() int {
	return int(s.last.Add(1))
}

// SessionOptions stores parameters used by Session.
type SessionOptions struct {
	ids               IDAllocator
	loggerFactory     logging.LoggerFactory
	telemetry         telemetry.Telemetry
	replaceDuplicates bool
	historySize       int
}

// SessionOption is a type of Session functional option.
type SessionOption func(*SessionOptions)

// WithIDAllocator replaces the default sequential track id allocator.
func WithIDAllocator(a IDAllocator) SessionOption {
	return func(o *SessionOptions) {
		o.ids = a
	}
}

// WithLoggerFactory sets the logger factory for the session and its tracks.
func WithLoggerFactory(f logging.LoggerFactory) SessionOption {
	return func(o *SessionOptions) {
		o.loggerFactory = f
	}
}

// WithTelemetry sets where bindings attach their stats spaces.
func WithTelemetry(t telemetry.Telemetry) SessionOption {
	return func(o *SessionOptions) {
		o.telemetry = t
	}
}

// WithFilterReplaceOnDuplicate makes every track's filter chain replace a
// filter added twice under the same id and position instead of failing with
// status.ErrDuplicateID.
func WithFilterReplaceOnDuplicate() SessionOption {
	return func(o *SessionOptions) {
		o.replaceDuplicates = true
	}
}

// WithStateHistory sets how many state events each track remembers.
func WithStateHistory(size int) SessionOption {
	return func(o *SessionOptions) {
		o.historySize = size
	}
}

// TrackOption configures a single track.
type TrackOption func(*trackOptions)

type trackOptions struct {
	userID    string
	keyFrames KeyFrameController
}

// WithUserID sets the user the track belongs to.
func WithUserID(id string) TrackOption {
	return func(o *trackOptions) {
		o.userID = id
	}
}

// WithKeyFrameController is called on a local track whenever the remote side
// asks for a key frame.
func WithKeyFrameController(c KeyFrameController) TrackOption {
	return func(o *trackOptions) {
		o.keyFrames = c
	}
}

// Session owns a set of tracks and everything they share.
type Session struct {
	ids    IDAllocator
	env    *environment
	log    logging.LeveledLogger
	spaces atomic.Uint64

	mu     sync.RWMutex
	tracks map[int]Track
	closed bool
}

// NewSession creates an empty session.
func NewSession(opts ...SessionOption) *Session {
	o := SessionOptions{
		ids:           &SequentialIDs{},
		loggerFactory: logging.NewDefaultLoggerFactory(),
		telemetry:     telemetry.Nop(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		ids:    o.ids,
		log:    o.loggerFactory.NewLogger("mediatrack"),
		tracks: make(map[int]Track),
	}

	var chainOpts []filter.Option
	if o.replaceDuplicates {
		chainOpts = append(chainOpts, filter.WithReplaceOnDuplicate())
	}

	s.env = &environment{
		loggerFactory: o.loggerFactory,
		telemetry:     o.telemetry,
		nextSpace:     func() uint64 { return s.spaces.Add(1) },
		chainOpts:     chainOpts,
		historySize:   o.historySize,
		onDestroy:     s.forget,
	}
	return s
}

func (s *Session) add(id int, newTrack func() Track) (Track, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("session closed: %w", status.ErrInvalidState)
	}
	if _, ok := s.tracks[id]; ok {
		return nil, fmt.Errorf("track %d: %w", id, status.ErrDuplicateID)
	}

	t := newTrack()
	s.tracks[id] = t
	return t, nil
}

func validKind(kind frame.Kind) error {
	if kind != frame.KindAudio && kind != frame.KindVideo {
		return fmt.Errorf("unknown media kind %q: %w", kind, status.ErrInvalidArgument)
	}
	return nil
}

func newTrackOptions(opts []TrackOption) *trackOptions {
	var o trackOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &o
}

// NewLocalTrack creates an idle outbound track.
func (s *Session) NewLocalTrack(kind frame.Kind, opts ...TrackOption) (*LocalTrack, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}

	o := newTrackOptions(opts)
	id := s.ids.NextID()
	t, err := s.add(id, func() Track { return newLocalTrack(id, kind, s.env, o) })
	if err != nil {
		return nil, err
	}

	s.log.Infof("created local %s track %d", kind, id)
	return t.(*LocalTrack), nil
}

// NewRemoteTrack creates an idle inbound track for userID.
func (s *Session) NewRemoteTrack(kind frame.Kind, userID string, opts ...TrackOption) (*RemoteTrack, error) {
	if err := validKind(kind); err != nil {
		return nil, err
	}

	o := newTrackOptions(append([]TrackOption{WithUserID(userID)}, opts...))
	id := s.ids.NextID()
	t, err := s.add(id, func() Track { return newRemoteTrack(id, kind, s.env, o) })
	if err != nil {
		return nil, err
	}

	s.log.Infof("created remote %s track %d for %q", kind, id, userID)
	return t.(*RemoteTrack), nil
}

// Track returns the track with id.
func (s *Session) Track(id int) (Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tracks[id]
	if !ok {
		return nil, fmt.Errorf("track %d: %w", id, status.ErrNotFound)
	}
	return t, nil
}

// Tracks returns all live tracks ordered by id.
func (s *Session) Tracks() []Track {
	s.mu.RLock()
	result := make([]Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		result = append(result, t)
	}
	s.mu.RUnlock()

	slices.SortFunc(result, func(a, b Track) int { return a.ID() - b.ID() })
	return result
}

// DestroyTrack destroys the track with id.
func (s *Session) DestroyTrack(id int) error {
	t, err := s.Track(id)
	if err != nil {
		return err
	}
	return t.Destroy()
}

func (s *Session) forget(id int) {
	s.mu.Lock()
	delete(s.tracks, id)
	s.mu.Unlock()
}

// Close destroys every track concurrently and rejects new ones.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var g errgroup.Group
	for _, t := range s.Tracks() {
		g.Go(t.Destroy)
	}
	return g.Wait()
}
