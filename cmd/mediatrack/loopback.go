package main

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/logging"
	"github.com/pion/mediatrack"
	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/filter"
	"github.com/pion/mediatrack/pkg/filter/audio"
	"github.com/pion/mediatrack/pkg/filter/video"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/network"
	"github.com/pion/mediatrack/pkg/telemetry"
	"github.com/pion/webrtc/v4"
	"github.com/spf13/cobra"
)

var (
	kind      string
	frames    int
	interval  time.Duration
	width     int
	height    int
	fps       float64
	gain      float64
	gate      float64
	withPeer  bool
	statsTick time.Duration
)

func init() {
	loopbackCmd.Flags().StringVarP(&kind, "kind", "k", "video", "Media kind: audio or video")
	loopbackCmd.Flags().IntVarP(&frames, "frames", "n", 100, "Number of frames to send, 0 runs until interrupted")
	loopbackCmd.Flags().DurationVar(&interval, "interval", 20*time.Millisecond, "Time between captured frames")
	loopbackCmd.Flags().IntVar(&width, "width", 160, "Video: scaled width, 0 keeps the aspect ratio")
	loopbackCmd.Flags().IntVar(&height, "height", 0, "Video: scaled height, 0 keeps the aspect ratio")
	loopbackCmd.Flags().Float64Var(&fps, "fps", 0, "Video: throttle to this frame rate, 0 disables")
	loopbackCmd.Flags().Float64Var(&gain, "gain", 1, "Audio: linear gain")
	loopbackCmd.Flags().Float64Var(&gate, "gate", -60, "Audio: noise gate threshold in dBFS")
	loopbackCmd.Flags().BoolVar(&withPeer, "peer", false, "Also write packets to a webrtc track with the stats interceptor")
	loopbackCmd.Flags().DurationVar(&statsTick, "stats", time.Second, "Stats log interval")
	rootCmd.AddCommand(loopbackCmd)
}

var loopbackCmd = &cobra.Command{
	Use:   "loopback",
	Short: "Send synthetic media from a local track to a remote track over an in-memory RTP link",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runLoopback(ctx)
	},
}

func runLoopback(ctx context.Context) error {
	loggerFactory, err := newLoggerFactory()
	if err != nil {
		return err
	}
	log := loggerFactory.NewLogger("loopback")

	mediaKind := frame.Kind(kind)
	cfg := config.Default(mediaKind)
	cfg.SSRC = 0x4d54

	tel, pcClose, writers, err := setupTelemetry(cfg)
	if err != nil {
		return err
	}
	defer pcClose()

	session := mediatrack.NewSession(
		mediatrack.WithLoggerFactory(loggerFactory),
		mediatrack.WithTelemetry(tel),
	)
	defer func() {
		if err := session.Close(); err != nil {
			log.Errorf("close session: %v", err)
		}
	}()

	local, err := session.NewLocalTrack(mediaKind)
	if err != nil {
		return err
	}
	remote, err := session.NewRemoteTrack(mediaKind, "loopback")
	if err != nil {
		return err
	}

	if err := installFilters(local); err != nil {
		return err
	}

	sub := local.RegisterObserver(logObserver{log})
	defer sub.Unsubscribe()
	remoteSub := remote.RegisterObserver(logObserver{log})
	defer remoteSub.Unsubscribe()

	var received atomic.Uint64
	if err := remote.Filters().Add(filter.Func(unpack), filter.PositionPostDecoder, "unpack"); err != nil {
		return err
	}
	if err := remote.AddRenderer("log", mediatrack.RendererFunc(func(f *frame.Frame) error {
		received.Add(1)
		if f.Image != nil {
			log.Tracef("rendered frame %d, %s %v", f.Seq, f.Format, f.Image.Bounds().Size())
		} else {
			log.Tracef("rendered frame %d, %d samples", f.Seq, len(f.PCM)/channels)
		}
		return nil
	})); err != nil {
		return err
	}

	pipe := network.NewPipe(256)
	defer pipe.Close()

	src, err := network.NewRTPSource(pipe, cfg.Codec, network.WithPacketDroppedHandler(func() {
		if err := remote.RequestKeyFrame(); err != nil {
			log.Debugf("key frame request: %v", err)
		}
	}))
	if err != nil {
		return err
	}
	defer src.Close()

	out := network.NewSinkEndpoint("loopback-out",
		network.NewRTPSink(network.MultiRTPWriter(append(writers, pipe)...)),
		network.WithRTCPReader(pipe),
	)
	defer out.Close()
	in := network.NewSourceEndpoint("loopback-in", src, network.WithRTCPWriter(pipe))
	defer in.Close()

	if err := remote.Attach(mediatrack.AttachInfo{Endpoint: in, Config: cfg}); err != nil {
		return err
	}
	if err := local.Attach(mediatrack.AttachInfo{Endpoint: out, Config: cfg}); err != nil {
		return err
	}

	capture := time.NewTicker(interval)
	defer capture.Stop()
	report := time.NewTicker(statsTick)
	defer report.Stop()

	for sent := 0; frames == 0 || sent < frames; {
		select {
		case <-ctx.Done():
			return nil
		case <-report.C:
			logStats(log, local, remote)
		case now := <-capture.C:
			if err := local.PushFrame(synthesize(mediaKind, sent, now)); err != nil {
				return fmt.Errorf("push frame %d: %w", sent, err)
			}
			sent++
		}
	}

	logStats(log, local, remote)
	log.Infof("done: %d frames rendered", received.Load())
	return nil
}

// setupTelemetry returns the stats interceptor telemetry and, with --peer,
// extra RTP writers backed by a webrtc track on a peer connection that
// carries the interceptor.
func setupTelemetry(cfg config.Config) (telemetry.Telemetry, func(), []network.RTPWriter, error) {
	tel, err := telemetry.NewInterceptorStats()
	if err != nil {
		return nil, nil, nil, err
	}
	if !withPeer {
		return tel, func() {}, nil, nil
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, nil, nil, err
	}
	registry := &interceptor.Registry{}
	registry.Add(tel.Factory())

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(registry))
	pc, err := api.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		return nil, nil, nil, err
	}

	track, err := webrtc.NewTrackLocalStaticRTP(cfg.Codec, string(cfg.Kind()), "mediatrack")
	if err != nil {
		_ = pc.Close()
		return nil, nil, nil, err
	}
	if _, err := pc.AddTrack(track); err != nil {
		_ = pc.Close()
		return nil, nil, nil, err
	}

	return tel, func() { _ = pc.Close() }, []network.RTPWriter{track}, nil
}

func installFilters(t *mediatrack.LocalTrack) error {
	chain := t.Filters()

	if t.Kind() == frame.KindVideo {
		if fps > 0 {
			throttle, err := video.NewThrottle(fps)
			if err != nil {
				return err
			}
			if err := chain.Add(throttle, filter.PositionPostCapturerOrigin, "throttle"); err != nil {
				return err
			}
		}
		if width > 0 || height > 0 {
			scale, err := video.NewScale(width, height, video.ScalerApproxBiLinear)
			if err != nil {
				return err
			}
			if err := chain.Add(scale, filter.PositionPostCapturer, "scale"); err != nil {
				return err
			}
		}
	} else {
		g, err := audio.NewGain(gain)
		if err != nil {
			return err
		}
		if err := chain.Add(g, filter.PositionPostCapturer, "gain"); err != nil {
			return err
		}
		ng, err := audio.NewGate(gate)
		if err != nil {
			return err
		}
		if err := chain.Add(ng, filter.PositionPostCapturer, "gate"); err != nil {
			return err
		}
	}

	return chain.Add(filter.Func(pack), filter.PositionPreEncoder, "pack")
}

// pack serializes raw media into Data so it can be packetized. It stands in
// for an encoder.
func pack(f *frame.Frame) (*frame.Frame, error) {
	switch {
	case f.Image != nil:
		data, format, err := frame.MarshalRaw(f.Image)
		if err != nil {
			return nil, err
		}
		f.Data, f.Format = data, format
	case f.PCM != nil:
		f.Data = make([]byte, 2*len(f.PCM))
		for i, s := range f.PCM {
			binary.LittleEndian.PutUint16(f.Data[2*i:], uint16(s))
		}
	default:
		return nil, errors.New("pack: frame has no raw media")
	}
	return f, nil
}

// unpack is the receiving counterpart of pack.
func unpack(f *frame.Frame) (*frame.Frame, error) {
	if f.Kind == frame.KindVideo {
		img, format, err := frame.UnmarshalRaw(f.Data)
		if err != nil {
			return nil, err
		}
		f.Image, f.Format = img, format
		return f, nil
	}

	if len(f.Data)%2 != 0 {
		return nil, fmt.Errorf("unpack: odd pcm payload of %d bytes", len(f.Data))
	}
	f.PCM = make([]int16, len(f.Data)/2)
	for i := range f.PCM {
		f.PCM[i] = int16(binary.LittleEndian.Uint16(f.Data[2*i:]))
	}
	f.SampleRate, f.Channels = sampleRate, channels
	return f, nil
}

const (
	sampleRate = 48000
	channels   = 2
)

func synthesize(kind frame.Kind, n int, now time.Time) *frame.Frame {
	if kind == frame.KindVideo {
		img := image.NewYCbCr(image.Rect(0, 0, 640, 480), image.YCbCrSubsampleRatio420)
		for y := 0; y < 480; y++ {
			for x := 0; x < 640; x++ {
				img.Y[img.YOffset(x, y)] = uint8(x + y + n*4)
			}
		}
		for i := range img.Cb {
			img.Cb[i], img.Cr[i] = 128, uint8(n)
		}
		return &frame.Frame{
			Kind:      frame.KindVideo,
			Timestamp: now,
			Samples:   uint32(90000 * interval.Seconds()),
			KeyFrame:  n%30 == 0,
			Image:     img,
			Format:    frame.FormatI420,
		}
	}

	samples := int(float64(sampleRate) * interval.Seconds())
	pcm := make([]int16, samples*channels)
	for i := 0; i < samples; i++ {
		v := int16(math.Sin(2*math.Pi*440*float64(n*samples+i)/sampleRate) * 8000)
		pcm[2*i] = v
		pcm[2*i+1] = v
	}
	return &frame.Frame{
		Kind:       frame.KindAudio,
		Timestamp:  now,
		Samples:    uint32(samples),
		PCM:        pcm,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

type logObserver struct {
	log logging.LeveledLogger
}

func (o logObserver) OnStateChange(ev mediatrack.StateEvent) {
	o.log.Infof("track %d: %s -> %s (%s)", ev.TrackID, ev.Old, ev.New, ev.Reason)
}

func (o logObserver) OnKeyFrameRequest(trackID int, req network.KeyFrameRequest) {
	o.log.Infof("track %d: key frame requested for ssrc %d", trackID, req.MediaSSRC)
}

func logStats(log logging.LeveledLogger, local *mediatrack.LocalTrack, remote *mediatrack.RemoteTrack) {
	ls, rs := local.Stats(), remote.Stats()
	var bitrate float64
	if ls.Binding != nil {
		bitrate = ls.Binding.Bitrate
	}
	log.Infof("local in=%d out=%d dropped=%d %.0fbps, remote in=%d rendered=%d",
		ls.FramesIn, ls.FramesOut, ls.FramesDropped, bitrate, rs.FramesIn, rs.FramesOut)
}
