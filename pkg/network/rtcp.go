package network

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
)

// RTCPReader reads raw RTCP for an outbound stream. *webrtc.RTPSender
// implements it.
type RTCPReader interface {
	Read(b []byte) (int, interceptor.Attributes, error)
}

// RTCPWriter sends RTCP packets. *webrtc.PeerConnection implements it.
type RTCPWriter interface {
	WriteRTCP(pkts []rtcp.Packet) error
}

// KeyFrameRequest describes a PLI or FIR found in an RTCP compound packet.
type KeyFrameRequest struct {
	MediaSSRC  uint32
	SenderSSRC uint32
	FIR        bool
}

// KeyFrameRequests extracts key frame requests from pkts.
func KeyFrameRequests(pkts []rtcp.Packet) []KeyFrameRequest {
	var reqs []KeyFrameRequest
	for _, pkt := range pkts {
		switch p := pkt.(type) {
		case *rtcp.PictureLossIndication:
			reqs = append(reqs, KeyFrameRequest{MediaSSRC: p.MediaSSRC, SenderSSRC: p.SenderSSRC})
		case *rtcp.FullIntraRequest:
			reqs = append(reqs, KeyFrameRequest{MediaSSRC: p.MediaSSRC, SenderSSRC: p.SenderSSRC, FIR: true})
		}
	}
	return reqs
}

// PictureLoss builds the PLI sent to ask mediaSSRC for a key frame.
func PictureLoss(mediaSSRC uint32) []rtcp.Packet {
	return []rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: mediaSSRC}}
}
