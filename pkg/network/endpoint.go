// Package network models the transport endpoints tracks attach to. Endpoints
// are owned by the transport layer; tracks only hold a Ref, a weak reference
// that reports status.ErrStaleReference once the owner closed or dropped the
// endpoint.
package network

import (
	"context"
	"fmt"
	"sync"
	"weak"

	"github.com/pion/mediatrack/pkg/config"
	"github.com/pion/mediatrack/pkg/frame"
	"github.com/pion/mediatrack/pkg/status"
)

// Sink consumes outbound frames. cfg is the configuration snapshot that was
// active when the frame entered the binding.
type Sink interface {
	Send(f *frame.Frame, cfg *config.Config) error
}

// SinkFunc is a proxy type to make it easier to implement Sink.
type SinkFunc func(f *frame.Frame, cfg *config.Config) error

// Send calls fn(f, cfg).
func (fn SinkFunc) Send(f *frame.Frame, cfg *config.Config) error {
	return fn(f, cfg)
}

// Source produces inbound frames. ReadFrame blocks until a frame is ready,
// ctx is done, or the source fails, and must return promptly once ctx is
// done: detaching a track waits for its pending ReadFrame. Calls never
// overlap.
type Source interface {
	ReadFrame(ctx context.Context) (*frame.Frame, error)
}

// SourceFunc is a proxy type to make it easier to implement Source.
type SourceFunc func(ctx context.Context) (*frame.Frame, error)

// ReadFrame calls fn(ctx).
func (fn SourceFunc) ReadFrame(ctx context.Context) (*frame.Frame, error) {
	return fn(ctx)
}

// Endpoint is a network sink and/or source together with its RTCP side
// channels.
type Endpoint struct {
	name    string
	sink    Sink
	source  Source
	rtcpIn  RTCPReader
	rtcpOut RTCPWriter

	closeOnce sync.Once
	done      chan struct{}
}

// EndpointOption configures an Endpoint.
type EndpointOption func(*Endpoint)

// WithRTCPReader attaches the channel inbound RTCP for an outbound stream is
// read from, e.g. a *webrtc.RTPSender.
func WithRTCPReader(r RTCPReader) EndpointOption {
	return func(e *Endpoint) {
		e.rtcpIn = r
	}
}

// WithRTCPWriter attaches the channel used to send RTCP feedback for an
// inbound stream, e.g. a *webrtc.PeerConnection.
func WithRTCPWriter(w RTCPWriter) EndpointOption {
	return func(e *Endpoint) {
		e.rtcpOut = w
	}
}

func newEndpoint(name string, opts []EndpointOption) *Endpoint {
	e := &Endpoint{name: name, done: make(chan struct{})}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewSinkEndpoint creates an outbound endpoint.
func NewSinkEndpoint(name string, s Sink, opts ...EndpointOption) *Endpoint {
	e := newEndpoint(name, opts)
	e.sink = s
	return e
}

// NewSourceEndpoint creates an inbound endpoint.
func NewSourceEndpoint(name string, s Source, opts ...EndpointOption) *Endpoint {
	e := newEndpoint(name, opts)
	e.source = s
	return e
}

// Name returns the endpoint name.
func (e *Endpoint) Name() string {
	return e.name
}

// Sink returns the outbound side, nil for source endpoints.
func (e *Endpoint) Sink() Sink {
	return e.sink
}

// Source returns the inbound side, nil for sink endpoints.
func (e *Endpoint) Source() Source {
	return e.source
}

// RTCPReader returns the inbound RTCP channel, if any.
func (e *Endpoint) RTCPReader() RTCPReader {
	return e.rtcpIn
}

// RTCPWriter returns the outbound RTCP channel, if any.
func (e *Endpoint) RTCPWriter() RTCPWriter {
	return e.rtcpOut
}

// Close destroys the endpoint. Tracks still referencing it get
// status.ErrStaleReference on their next use.
func (e *Endpoint) Close() error {
	e.closeOnce.Do(func() {
		close(e.done)
	})
	return nil
}

// Done is closed when the endpoint is closed.
func (e *Endpoint) Done() <-chan struct{} {
	return e.done
}

// Closed reports whether Close was called.
func (e *Endpoint) Closed() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

func (e *Endpoint) String() string {
	return fmt.Sprintf("endpoint(%s)", e.name)
}

// Ref is a non-owning reference to an Endpoint.
type Ref struct {
	wp weak.Pointer[Endpoint]
}

// MakeRef creates a weak reference to e.
func MakeRef(e *Endpoint) Ref {
	return Ref{wp: weak.Make(e)}
}

// Get returns the endpoint if it is still alive and open.
func (r Ref) Get() (*Endpoint, error) {
	e := r.wp.Value()
	if e == nil {
		return nil, fmt.Errorf("network: endpoint collected: %w", status.ErrStaleReference)
	}
	if e.Closed() {
		return nil, fmt.Errorf("network: %s closed: %w", e, status.ErrStaleReference)
	}
	return e, nil
}

// Is reports whether r refers to e.
func (r Ref) Is(e *Endpoint) bool {
	return e != nil && r.wp == weak.Make(e)
}
