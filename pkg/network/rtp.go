package network

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/samplebuilder"
)

const (
	maxVideoLate = 256
	maxAudioLate = 32
)

// RTPWriter accepts packetized media. *webrtc.TrackLocalStaticRTP implements
// it.
type RTPWriter interface {
	WriteRTP(pkt *rtp.Packet) error
}

// RTPReader yields inbound packets. *webrtc.TrackRemote implements it.
type RTPReader interface {
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

// MultiRTPWriter writes every packet to all of ws, stopping at the first
// error.
func MultiRTPWriter(ws ...RTPWriter) RTPWriter {
	return multiWriter(ws)
}

type multiWriter []RTPWriter

func (m multiWriter) WriteRTP(pkt *rtp.Packet) error {
	for _, w := range m {
		if err := w.WriteRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

func payloaderFor(codec webrtc.RTPCodecCapability) (rtp.Payloader, error) {
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		return &codecs.OpusPayloader{}, nil
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Payloader{EnablePictureID: true}, nil
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Payloader{}, nil
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Payloader{}, nil
	case strings.ToLower(webrtc.MimeTypeAV1):
		return &codecs.AV1Payloader{}, nil
	case strings.ToLower(webrtc.MimeTypeG722):
		return &codecs.G722Payloader{}, nil
	case strings.ToLower(webrtc.MimeTypePCMU), strings.ToLower(webrtc.MimeTypePCMA):
		return &codecs.G711Payloader{}, nil
	}
	return nil, fmt.Errorf("network: no payloader for %s: %w", codec.MimeType, status.ErrNotSupported)
}

func depacketizerFor(codec webrtc.RTPCodecCapability) (rtp.Depacketizer, uint16, error) {
	switch strings.ToLower(codec.MimeType) {
	case strings.ToLower(webrtc.MimeTypeOpus):
		return &codecs.OpusPacket{}, maxAudioLate, nil
	case strings.ToLower(webrtc.MimeTypeVP8):
		return &codecs.VP8Packet{}, maxVideoLate, nil
	case strings.ToLower(webrtc.MimeTypeVP9):
		return &codecs.VP9Packet{}, maxVideoLate, nil
	case strings.ToLower(webrtc.MimeTypeH264):
		return &codecs.H264Packet{}, maxVideoLate, nil
	}
	return nil, 0, fmt.Errorf("network: no depacketizer for %s: %w", codec.MimeType, status.ErrNotSupported)
}

// RTPSink packetizes outbound frames. The packetizer is rebuilt whenever the
// binding hands in a different configuration snapshot; the sequence number
// space survives reconfiguration.
type RTPSink struct {
	w RTPWriter

	mu         sync.Mutex
	cfg        *config.Config
	packetizer rtp.Packetizer
	sequencer  rtp.Sequencer
}

// NewRTPSink creates a sink writing to w.
func NewRTPSink(w RTPWriter) *RTPSink {
	return &RTPSink{
		w:         w,
		sequencer: rtp.NewRandomSequencer(),
	}
}

// Send implements Sink. Frames must carry encoded Data.
func (s *RTPSink) Send(f *frame.Frame, cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("network: send without config: %w", status.ErrInvalidArgument)
	}
	if len(f.Data) == 0 {
		return fmt.Errorf("network: frame %d has no encoded payload: %w", f.Seq, status.ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg != cfg {
		payloader, err := payloaderFor(cfg.Codec)
		if err != nil {
			return err
		}
		mtu := cfg.MTU
		if mtu == 0 {
			mtu = config.DefaultMTU
		}
		s.packetizer = rtp.NewPacketizer(
			mtu,
			uint8(cfg.PayloadType),
			uint32(cfg.SSRC),
			payloader,
			s.sequencer,
			cfg.Codec.ClockRate,
		)
		s.cfg = cfg
	}

	samples := f.Samples
	if samples == 0 {
		// 20ms is the conventional packet time for both audio and video
		samples = cfg.Codec.ClockRate / 50
	}

	for _, pkt := range s.packetizer.Packetize(f.Data, samples) {
		if err := s.w.WriteRTP(pkt); err != nil {
			return err
		}
	}
	return nil
}

// RTPSource reassembles inbound packets into frames. A feeder goroutine owns
// the RTPReader, so ReadFrame returns as soon as ctx is done without losing
// the packet being read.
type RTPSource struct {
	r       RTPReader
	kind    frame.Kind
	clock   uint32
	builder *samplebuilder.SampleBuilder
	seq     uint64

	onPacketDropped func()
	lastSN          uint16
	haveSN          bool
	lost            atomic.Uint64

	feedOnce  sync.Once
	packets   chan *rtp.Packet
	err       error
	closeOnce sync.Once
	done      chan struct{}
}

// RTPSourceOption configures an RTPSource.
type RTPSourceOption func(*rtpSourceOptions)

type rtpSourceOptions struct {
	onPacketDropped func()
}

// WithPacketDroppedHandler is called from ReadFrame whenever a gap in the
// RTP sequence numbers shows that packets were lost. Video receivers
// typically request a key frame here.
func WithPacketDroppedHandler(fn func()) RTPSourceOption {
	return func(o *rtpSourceOptions) {
		o.onPacketDropped = fn
	}
}

// NewRTPSource creates a source depacketizing codec from r.
func NewRTPSource(r RTPReader, codec webrtc.RTPCodecCapability, opts ...RTPSourceOption) (*RTPSource, error) {
	var o rtpSourceOptions
	for _, opt := range opts {
		opt(&o)
	}

	depacketizer, maxLate, err := depacketizerFor(codec)
	if err != nil {
		return nil, err
	}

	kind := frame.KindAudio
	if strings.HasPrefix(strings.ToLower(codec.MimeType), "video/") {
		kind = frame.KindVideo
	}

	return &RTPSource{
		r:               r,
		kind:            kind,
		clock:           codec.ClockRate,
		builder:         samplebuilder.New(maxLate, depacketizer, codec.ClockRate),
		onPacketDropped: o.onPacketDropped,
		packets:         make(chan *rtp.Packet),
		done:            make(chan struct{}),
	}, nil
}

// ReadFrame implements Source. Calls must not overlap, but a new caller may
// take over once a previous call has returned.
func (s *RTPSource) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	s.feedOnce.Do(func() { go s.feed() })

	for {
		if sample := s.builder.Pop(); sample != nil {
			s.seq++
			ts := sample.Timestamp
			if ts.IsZero() {
				ts = time.Now()
			}
			return &frame.Frame{
				Kind:      s.kind,
				Seq:       s.seq,
				Timestamp: ts,
				Samples:   uint32(sample.Duration.Seconds() * float64(s.clock)),
				Data:      sample.Data,
			}, nil
		}

		select {
		case pkt, ok := <-s.packets:
			if !ok {
				return nil, s.err
			}
			s.checkSequence(pkt.SequenceNumber)
			s.builder.Push(pkt)
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.done:
			return nil, io.ErrClosedPipe
		}
	}
}

// PacketsLost returns how many packets were missing from the sequence so far.
func (s *RTPSource) PacketsLost() uint64 {
	return s.lost.Load()
}

// Close stops the feeder. It does not close the underlying reader; a feeder
// blocked in ReadRTP exits once that call returns.
func (s *RTPSource) Close() error {
	s.closeOnce.Do(func() { close(s.done) })
	return nil
}

func (s *RTPSource) feed() {
	defer close(s.packets)

	for {
		pkt, _, err := s.r.ReadRTP()
		if err != nil {
			s.err = err
			return
		}

		select {
		case s.packets <- pkt:
		case <-s.done:
			s.err = io.ErrClosedPipe
			return
		}
	}
}

// checkSequence counts forward gaps. Late and duplicate packets are left to
// the sample builder.
func (s *RTPSource) checkSequence(sn uint16) {
	if s.haveSN {
		gap := sn - s.lastSN - 1
		if gap >= 0x8000 {
			return
		}
		if gap > 0 {
			s.lost.Add(uint64(gap))
			if s.onPacketDropped != nil {
				s.onPacketDropped()
			}
		}
	}
	s.lastSN, s.haveSN = sn, true
}
