package mediatrack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/network"
	"github.com/pion/mediatrack/pkg/status"
)

// Renderer consumes frames that came out of a remote track's filters.
type Renderer interface {
	RenderFrame(f *frame.Frame) error
}

// RendererFunc is a proxy type to make it easier to implement Renderer.
type RendererFunc func(f *frame.Frame) error

// RenderFrame calls fn(f).
func (fn RendererFunc) RenderFrame(f *frame.Frame) error {
	return fn(f)
}

type namedRenderer struct {
	id string
	r  Renderer
}

// RemoteTrack is an inbound track. While attached, a receive loop reads
// frames from the endpoint's source, runs them through the PostDecoder and
// PreRenderer filters and hands them to every renderer.
type RemoteTrack struct {
	*baseTrack

	rmu       sync.Mutex
	renderers atomic.Pointer[[]namedRenderer]

	// cancel and loopDone belong to the running receive loop, guarded by
	// the track lock
	cancel       context.CancelFunc
	loopDone     chan struct{}
	renderErrors atomic.Uint64
}

var (
	_ Track      = (*RemoteTrack)(nil)
	_ Attachable = (*RemoteTrack)(nil)
	_ Filterable = (*RemoteTrack)(nil)
	_ Observable = (*RemoteTrack)(nil)
)

func newRemoteTrack(id int, kind frame.Kind, env *environment, o *trackOptions) *RemoteTrack {
	t := &RemoteTrack{
		baseTrack: newBaseTrack(id, kind, filter.RemotePositions, env, "mediatrack"),
	}
	t.hooks = t
	t.renderers.Store(&[]namedRenderer{})
	if o.userID != "" {
		t.SetUserID(o.userID)
	}
	return t
}

// AddRenderer installs r under id. Renderers run on the receive goroutine
// with the binding held, so they must not call the track's attach, detach,
// enable or destroy methods themselves.
func (t *RemoteTrack) AddRenderer(id string, r Renderer) error {
	if id == "" || r == nil {
		return fmt.Errorf("track %d: renderer needs an id: %w", t.id, status.ErrInvalidArgument)
	}

	t.rmu.Lock()
	defer t.rmu.Unlock()

	cur := *t.renderers.Load()
	if slices.ContainsFunc(cur, func(n namedRenderer) bool { return n.id == id }) {
		return fmt.Errorf("track %d: renderer %q: %w", t.id, id, status.ErrDuplicateID)
	}

	next := append(slices.Clip(cur), namedRenderer{id: id, r: r})
	t.renderers.Store(&next)
	return nil
}

// RemoveRenderer uninstalls the renderer registered under id.
func (t *RemoteTrack) RemoveRenderer(id string) error {
	t.rmu.Lock()
	defer t.rmu.Unlock()

	cur := *t.renderers.Load()
	i := slices.IndexFunc(cur, func(n namedRenderer) bool { return n.id == id })
	if i < 0 {
		return fmt.Errorf("track %d: renderer %q: %w", t.id, id, status.ErrNotFound)
	}

	next := slices.Delete(slices.Clone(cur), i, i+1)
	t.renderers.Store(&next)
	return nil
}

// Renderers returns the installed renderer ids in installation order.
func (t *RemoteTrack) Renderers() []string {
	cur := *t.renderers.Load()
	ids := make([]string, len(cur))
	for i, n := range cur {
		ids[i] = n.id
	}
	return ids
}

// RequestKeyFrame sends a PLI for the bound stream through the endpoint's
// RTCP writer.
func (t *RemoteTrack) RequestKeyFrame() error {
	if t.kind != frame.KindVideo {
		return fmt.Errorf("track %d: key frames on %s: %w", t.id, t.kind, status.ErrNotSupported)
	}

	b := t.binding.Load()
	if b == nil {
		return fmt.Errorf("track %d: key frame request while %s: %w", t.id, t.State(), status.ErrInvalidState)
	}

	ep, err := b.Endpoint()
	if err != nil {
		return err
	}
	w := ep.RTCPWriter()
	if w == nil {
		return fmt.Errorf("track %d: %s has no rtcp writer: %w", t.id, ep, status.ErrNotSupported)
	}

	return w.WriteRTCP(network.PictureLoss(uint32(b.Config().SSRC)))
}

// RenderErrors returns how many renderer calls failed.
func (t *RemoteTrack) RenderErrors() uint64 {
	return t.renderErrors.Load()
}

// Stats returns a snapshot of the track counters.
func (t *RemoteTrack) Stats() Stats {
	return t.stats()
}

func (t *RemoteTrack) accepts(ep *network.Endpoint) error {
	if ep.Source() == nil {
		return fmt.Errorf("track %d: %s has no source: %w", t.id, ep, status.ErrInvalidArgument)
	}
	return nil
}

func (t *RemoteTrack) bound(b *Binding, ep *network.Endpoint) error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	t.cancel, t.loopDone = cancel, done

	src := ep.Source()
	go func() {
		defer close(done)
		t.receiveLoop(ctx, b, src)
	}()
	return nil
}

// unbound stops the receive loop and waits for it, so a later attach to the
// same source never reads concurrently with it.
func (t *RemoteTrack) unbound(*Binding) {
	if t.cancel == nil {
		return
	}
	t.cancel()
	<-t.loopDone
	t.cancel, t.loopDone = nil, nil
}

func (t *RemoteTrack) receiveLoop(ctx context.Context, b *Binding, src network.Source) {
	for {
		f, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if !errors.Is(err, io.EOF) {
				t.log.Warnf("track %d: receive failed: %v", t.id, err)
			}
			// unbound waits for this loop with the track lock held
			go t.detachBinding(b, DetachNetworkDestroy)
			return
		}

		t.counters.in.Add(1)
		if t.State() != StateAttachedEnabled {
			t.counters.suppressed.Add(1)
			continue
		}

		f.Kind = t.kind
		if !b.receive(f, t.render) {
			return
		}
	}
}

func (t *RemoteTrack) render(f *frame.Frame) {
	out, err := t.process(f)
	if err != nil || out == nil {
		return
	}

	for _, n := range *t.renderers.Load() {
		if err := n.r.RenderFrame(out); err != nil {
			t.renderErrors.Add(1)
			t.log.Warnf("track %d: renderer %s: %v", t.id, n.id, err)
		}
	}
	t.counters.out.Add(1)
}
