package config

import (
	"testing"

	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	for _, kind := range []frame.Kind{frame.KindAudio, frame.KindVideo} {
		c := Default(kind)
		require.NoError(t, c.Validate())
		assert.Equal(t, kind, c.Kind())
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"NoCodec":     func(c *Config) { c.Codec.MimeType = "" },
		"NoClock":     func(c *Config) { c.Codec.ClockRate = 0 },
		"PayloadType": func(c *Config) { c.PayloadType = 200 },
		"MTU":         func(c *Config) { c.MTU = 10 },
		"Bitrate":     func(c *Config) { c.TargetBitrate = -1 },
		"FECTables":   func(c *Config) { c.FEC.ProtectionFactor = []int{1} },
		"Simulcast":   func(c *Config) { c.Simulcast = 5 },
	}

	for name, mutate := range cases {
		mutate := mutate
		t.Run(name, func(t *testing.T) {
			c := Default(frame.KindVideo)
			mutate(&c)
			assert.ErrorIs(t, c.Validate(), status.ErrInvalidArgument)
		})
	}
}

func TestClone(t *testing.T) {
	c := Default(frame.KindVideo)
	c.MTU = 0
	c.FEC.ProtectionFactor = []int{10}
	c.FEC.RTTThresholds = []int{100}
	c.Codec.RTCPFeedback = []webrtc.RTCPFeedback{{Type: "nack"}}

	snap := c.Clone()
	c.FEC.ProtectionFactor[0] = 99
	c.Codec.RTCPFeedback[0].Type = "pli"

	assert.Equal(t, uint16(DefaultMTU), snap.MTU)
	assert.Equal(t, []int{10}, snap.FEC.ProtectionFactor)
	assert.Equal(t, "nack", snap.Codec.RTCPFeedback[0].Type)
}

func TestSimulcastString(t *testing.T) {
	assert.Equal(t, "auto", SimulcastAuto.String())
	assert.Equal(t, "enabled", SimulcastEnabled.String())
	assert.Equal(t, "simulcast(7)", SimulcastMode(7).String())
}
