package mediatrack

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/network"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/rtcp"
)

const rtcpInboundMTU = 1500

// KeyFrameController is implemented by encoders that can be asked for an
// intra frame.
type KeyFrameController interface {
	ForceKeyFrame() error
}

// LocalTrack is an outbound track. Frames pushed into it run through the
// PostCapturerOrigin, PostCapturer and PreEncoder filters and are then handed
// to the bound endpoint's sink.
type LocalTrack struct {
	*baseTrack

	keyFrames        KeyFrameController
	seq              atomic.Uint64
	keyFrameRequests atomic.Uint64
}

var (
	_ Track      = (*LocalTrack)(nil)
	_ Attachable = (*LocalTrack)(nil)
	_ Filterable = (*LocalTrack)(nil)
	_ Observable = (*LocalTrack)(nil)
)

func newLocalTrack(id int, kind frame.Kind, env *environment, o *trackOptions) *LocalTrack {
	t := &LocalTrack{
		baseTrack: newBaseTrack(id, kind, filter.LocalPositions, env, "mediatrack"),
		keyFrames: o.keyFrames,
	}
	t.hooks = t
	if o.userID != "" {
		t.SetUserID(o.userID)
	}
	return t
}

func (t *LocalTrack) accepts(ep *network.Endpoint) error {
	if ep.Sink() == nil {
		return fmt.Errorf("track %d: %s has no sink: %w", t.id, ep, status.ErrInvalidArgument)
	}
	return nil
}

func (t *LocalTrack) bound(b *Binding, ep *network.Endpoint) error {
	if r := ep.RTCPReader(); r != nil {
		go t.rtcpReadLoop(r, b)
	}
	return nil
}

func (t *LocalTrack) unbound(*Binding) {}

// PushFrame feeds a captured frame into the track. f.Seq is overwritten.
// Frames pushed while the track is not attached and enabled are counted and
// discarded. A frame dropped by a filter is not an error.
func (t *LocalTrack) PushFrame(f *frame.Frame) error {
	if f == nil {
		return fmt.Errorf("track %d: nil frame: %w", t.id, status.ErrInvalidArgument)
	}
	if f.Kind == "" {
		f.Kind = t.kind
	}
	if f.Kind != t.kind {
		return fmt.Errorf("track %d: %s frame on %s track: %w", t.id, f.Kind, t.kind, status.ErrInvalidArgument)
	}

	if t.State() == StateDestroyed {
		return fmt.Errorf("track %d: push after destroy: %w", t.id, status.ErrInvalidState)
	}

	t.counters.in.Add(1)
	b := t.binding.Load()
	if b == nil || t.State() != StateAttachedEnabled {
		t.counters.suppressed.Add(1)
		return nil
	}

	f.Seq = t.seq.Add(1)

	out, err := t.process(f)
	if err != nil || out == nil {
		return err
	}

	if err := b.send(out); err != nil {
		return err
	}
	t.counters.out.Add(1)
	return nil
}

// KeyFrameRequests returns how many PLI/FIR requests arrived for this track.
func (t *LocalTrack) KeyFrameRequests() uint64 {
	return t.keyFrameRequests.Load()
}

// Stats returns a snapshot of the track counters.
func (t *LocalTrack) Stats() Stats {
	return t.stats()
}

func (t *LocalTrack) rtcpReadLoop(reader network.RTCPReader, b *Binding) {
	readerBuffer := make([]byte, rtcpInboundMTU)

	for {
		select {
		case <-b.Done():
			return
		default:
		}

		readLength, _, err := reader.Read(readerBuffer)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				t.log.Warnf("track %d: failed to read rtcp: %v", t.id, err)
			}
			return
		}
		if b.Closed() {
			return
		}

		pkts, err := rtcp.Unmarshal(readerBuffer[:readLength])
		if err != nil {
			t.log.Warnf("track %d: failed to unmarshal rtcp: %v", t.id, err)
			continue
		}

		ssrc := uint32(b.Config().SSRC)
		for _, req := range network.KeyFrameRequests(pkts) {
			if ssrc != 0 && req.MediaSSRC != 0 && req.MediaSSRC != ssrc {
				continue
			}
			t.keyFrameRequested(req)
		}
	}
}

func (t *LocalTrack) keyFrameRequested(req network.KeyFrameRequest) {
	t.keyFrameRequests.Add(1)

	id := t.id
	t.observers.Notify(func(o Observer) {
		if ko, ok := o.(KeyFrameObserver); ok {
			ko.OnKeyFrameRequest(id, req)
		}
	})

	if t.keyFrames != nil {
		if err := t.keyFrames.ForceKeyFrame(); err != nil {
			t.log.Warnf("track %d: failed to force key frame: %v", t.id, err)
		}
	}
}
