package network

import (
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
)

// Pipe is an in-memory RTP and RTCP link. Packets written on one side are
// read on the other, which lets a local and a remote track be wired back to
// back without a peer connection.
type Pipe struct {
	rtp  chan *rtp.Packet
	rtcp chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// NewPipe creates a pipe buffering up to size packets in each direction.
func NewPipe(size int) *Pipe {
	return &Pipe{
		rtp:  make(chan *rtp.Packet, size),
		rtcp: make(chan []byte, size),
		done: make(chan struct{}),
	}
}

// WriteRTP queues a copy of pkt, blocking while the buffer is full.
func (p *Pipe) WriteRTP(pkt *rtp.Packet) error {
	select {
	case <-p.done:
		return io.ErrClosedPipe
	default:
	}

	select {
	case p.rtp <- pkt.Clone():
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// ReadRTP returns the next packet, or io.EOF once the pipe is closed.
func (p *Pipe) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case pkt := <-p.rtp:
		return pkt, interceptor.Attributes{}, nil
	case <-p.done:
		return nil, nil, io.EOF
	}
}

// WriteRTCP marshals pkts and queues them for Read.
func (p *Pipe) WriteRTCP(pkts []rtcp.Packet) error {
	raw, err := rtcp.Marshal(pkts)
	if err != nil {
		return err
	}

	select {
	case p.rtcp <- raw:
		return nil
	case <-p.done:
		return io.ErrClosedPipe
	}
}

// Read returns the next raw RTCP compound packet.
func (p *Pipe) Read(b []byte) (int, interceptor.Attributes, error) {
	select {
	case raw := <-p.rtcp:
		if len(b) < len(raw) {
			return 0, nil, io.ErrShortBuffer
		}
		return copy(b, raw), interceptor.Attributes{}, nil
	case <-p.done:
		return 0, nil, io.EOF
	}
}

// Close unblocks all readers and writers.
func (p *Pipe) Close() error {
	p.closeOnce.Do(func() {
		close(p.done)
	})
	return nil
}
