// Package config describes the per-attach configuration snapshot held by a
// binding: codec parameters, FEC and simulcast settings.
package config

import (
	"fmt"
	"strings"

	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/webrtc/v4"
)

// DefaultMTU is the payload budget of a single RTP packet.
const DefaultMTU = 1200

// SimulcastMode selects whether a low quality stream is sent alongside the
// main one.
type SimulcastMode int

const (
	SimulcastAuto SimulcastMode = iota - 1
	SimulcastDisabled
	SimulcastEnabled
)

func (m SimulcastMode) String() string {
	switch m {
	case SimulcastAuto:
		return "auto"
	case SimulcastDisabled:
		return "disabled"
	case SimulcastEnabled:
		return "enabled"
	}
	return fmt.Sprintf("simulcast(%d)", int(m))
}

// FEC configures forward error correction for the outbound stream.
type FEC struct {
	Enabled bool
	Method  int
	// ProtectionFactor and RTTThresholds are parallel tables: the n-th
	// factor applies while the RTT is below the n-th threshold (ms).
	ProtectionFactor []int
	RTTThresholds    []int
	MinimumLevel     int
	// OutsideBandwidthRatio is the share of bandwidth (percent) FEC may use
	// on top of the media target.
	OutsideBandwidthRatio int
}

// Config is an immutable snapshot once handed to a binding. Replace it as a
// whole through Reconfigure; never mutate a Config that was passed in.
type Config struct {
	Codec       webrtc.RTPCodecCapability
	PayloadType webrtc.PayloadType
	SSRC        webrtc.SSRC
	MTU         uint16
	// TargetBitrate in bits per second, 0 lets the encoder decide.
	TargetBitrate int

	FEC       FEC
	Simulcast SimulcastMode

	TwoByteExtensions bool
}

// Default returns a usable configuration for kind.
func Default(kind frame.Kind) Config {
	if kind == frame.KindVideo {
		return Config{
			Codec:       webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			PayloadType: 96,
			MTU:         DefaultMTU,
			Simulcast:   SimulcastAuto,
		}
	}

	return Config{
		Codec:       webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		PayloadType: 111,
		MTU:         DefaultMTU,
		Simulcast:   SimulcastDisabled,
	}
}

// Kind returns the media kind of the configured codec.
func (c *Config) Kind() frame.Kind {
	if strings.HasPrefix(strings.ToLower(c.Codec.MimeType), "video/") {
		return frame.KindVideo
	}
	return frame.KindAudio
}

// Validate checks that c can be used to send or receive media.
func (c *Config) Validate() error {
	if c.Codec.MimeType == "" {
		return fmt.Errorf("config: missing codec: %w", status.ErrInvalidArgument)
	}
	if c.Codec.ClockRate == 0 {
		return fmt.Errorf("config: %s has no clock rate: %w", c.Codec.MimeType, status.ErrInvalidArgument)
	}
	if c.PayloadType > 127 {
		return fmt.Errorf("config: payload type %d out of range: %w", c.PayloadType, status.ErrInvalidArgument)
	}
	if c.MTU != 0 && c.MTU < 100 {
		return fmt.Errorf("config: mtu %d too small: %w", c.MTU, status.ErrInvalidArgument)
	}
	if c.TargetBitrate < 0 {
		return fmt.Errorf("config: negative bitrate: %w", status.ErrInvalidArgument)
	}
	if len(c.FEC.ProtectionFactor) != len(c.FEC.RTTThresholds) {
		return fmt.Errorf("config: fec tables differ in length: %w", status.ErrInvalidArgument)
	}
	if c.Simulcast < SimulcastAuto || c.Simulcast > SimulcastEnabled {
		return fmt.Errorf("config: %s: %w", c.Simulcast, status.ErrInvalidArgument)
	}
	return nil
}

// Clone returns a deep copy of c with defaults applied, suitable to be held
// as a snapshot.
func (c *Config) Clone() *Config {
	out := *c
	if out.MTU == 0 {
		out.MTU = DefaultMTU
	}
	out.Codec.RTCPFeedback = append([]webrtc.RTCPFeedback(nil), c.Codec.RTCPFeedback...)
	out.FEC.ProtectionFactor = append([]int(nil), c.FEC.ProtectionFactor...)
	out.FEC.RTTThresholds = append([]int(nil), c.FEC.RTTThresholds...)
	return &out
}
