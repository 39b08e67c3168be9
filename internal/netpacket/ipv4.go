package netpacket

import "net/netip"

// IPv4Packet is the simulator's simplified IPv4 representation: no
// wire-accurate encoding, just the fields the forwarding engine and its
// collaborators need to reason about.
type IPv4Packet struct {
	Src, Dst    netip.Addr
	TTL         uint8
	RouterAlert bool
	Protocol    IPProtocol
	Payload     PDU
}

// IPProtocol tags the payload an IPv4Packet carries.
type IPProtocol int

const (
	ProtoICMP IPProtocol = iota
	ProtoOpaque
	ProtoRSVP
)

func (p IPv4Packet) Clone() PDU {
	cp := p
	if p.Payload != nil {
		cp.Payload = p.Payload.Clone()
	}
	return cp
}

// OpaquePayload is an uninterpreted application payload carried for
// end-to-end reachability tests (e.g. ping).
type OpaquePayload struct {
	Data []byte
}

func (o OpaquePayload) Clone() PDU {
	return OpaquePayload{Data: append([]byte(nil), o.Data...)}
}
