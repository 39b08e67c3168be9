// Package netpacket defines the simulator's frame and packet payload
// types: the simplified wire formats carried between interfaces.
//
// These are plain data, not shared mutable state: Clone is an explicit
// O(n) operation performed whenever a frame crosses a simulated link, per
// spec.md §9 ("Deep copy on link send").
package netpacket

import "fmt"

// FrameType tags the payload carried by an Ethernet-equivalent Frame.
type FrameType uint16

const (
	FrameCLNS      FrameType = 0x001
	FrameIPv4      FrameType = 0x0800
	FrameARP       FrameType = 0x0806
	FrameMPLSUcast FrameType = 0x8847
	FrameMPLSMcast FrameType = 0x8848
)

func (t FrameType) String() string {
	switch t {
	case FrameCLNS:
		return "CLNS"
	case FrameIPv4:
		return "IPv4"
	case FrameARP:
		return "ARP"
	case FrameMPLSUcast:
		return "MPLS-U"
	case FrameMPLSMcast:
		return "MPLS-M"
	default:
		return fmt.Sprintf("FrameType(0x%x)", uint16(t))
	}
}

// ImplicitNullLabel is the well-known penultimate-hop-pop label.
const ImplicitNullLabel = 3

// PDU is any payload a Frame or IPv4Packet can carry. Implementations must
// be safe to deep-copy via Clone, since frames are cloned at send time.
type PDU interface {
	Clone() PDU
}

// Frame is the Ethernet-equivalent envelope exchanged between physical
// interfaces.
type Frame struct {
	Src  [6]byte
	Dst  [6]byte
	Type FrameType
	PDU  PDU
}

// Clone deep-copies the frame, including its PDU.
func (f Frame) Clone() Frame {
	cp := f
	if f.PDU != nil {
		cp.PDU = f.PDU.Clone()
	}
	return cp
}

// BroadcastMAC is the layer-2 broadcast address.
var BroadcastMAC = [6]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
