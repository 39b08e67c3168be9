// Package icmp provides the simulator's ICMP payloads: the Unreachable
// constructor the forwarding engine uses to report FIB misses and REJECT
// routes (an ARP miss queues the packet instead of reporting it), and
// the Echo request/reply pair internal/driver's Router.Ping uses for
// end-to-end reachability checks. There is no rate limiting, checksum,
// or wire encoding — these are plain data carried by IPv4Packet.Payload.
package icmp

import (
	"net/netip"

	"github.com/routersimlab/netsim/internal/netpacket"
)

// Kind tags the unreachable variant being reported.
type Kind int

const (
	NetworkUnreachable Kind = iota
	DestinationUnreachable
)

func (k Kind) String() string {
	if k == NetworkUnreachable {
		return "NetworkUnreachable"
	}
	return "DestinationUnreachable"
}

// Message is the simulator's simplified ICMP error payload: the kind of
// unreachability and a copy of the offending packet's header fields,
// standing in for the "first 8 bytes" spec.md calls for.
type Message struct {
	Kind        Kind
	OrigSrc     netip.Addr
	OrigDst     netip.Addr
	OrigPayload netpacket.PDU
}

func (m Message) Clone() netpacket.PDU {
	cp := m
	if m.OrigPayload != nil {
		cp.OrigPayload = m.OrigPayload.Clone()
	}
	return cp
}

// Unreachable builds the IPv4 packet carrying an unreachable report for
// orig, to be sent from localAddr back toward orig's source.
func Unreachable(orig netpacket.IPv4Packet, localAddr netip.Addr, kind Kind) netpacket.IPv4Packet {
	return netpacket.IPv4Packet{
		Src:      localAddr,
		Dst:      orig.Src,
		TTL:      64,
		Protocol: netpacket.ProtoICMP,
		Payload: Message{
			Kind:        kind,
			OrigSrc:     orig.Src,
			OrigDst:     orig.Dst,
			OrigPayload: orig.Payload,
		},
	}
}

// EchoRequest is a ping probe. ID identifies one Ping call's sequence of
// probes; Seq distinguishes probes within it.
type EchoRequest struct {
	ID  int
	Seq int
}

func (e EchoRequest) Clone() netpacket.PDU { return e }

// EchoReply mirrors the request that prompted it.
type EchoReply struct {
	ID  int
	Seq int
}

func (e EchoReply) Clone() netpacket.PDU { return e }

// Echo builds the IPv4 echo request packet for one probe.
func Echo(src, dst netip.Addr, id, seq int) netpacket.IPv4Packet {
	return netpacket.IPv4Packet{
		Src: src, Dst: dst, TTL: 64,
		Protocol: netpacket.ProtoICMP,
		Payload:  EchoRequest{ID: id, Seq: seq},
	}
}

// EchoAck builds the IPv4 echo reply packet answering req, sent from
// localAddr back toward req's source.
func EchoAck(req EchoRequest, localAddr, dst netip.Addr) netpacket.IPv4Packet {
	return netpacket.IPv4Packet{
		Src: localAddr, Dst: dst, TTL: 64,
		Protocol: netpacket.ProtoICMP,
		Payload:  EchoReply{ID: req.ID, Seq: req.Seq},
	}
}
