package netpacket

// ClnsPacket carries an IS-IS PDU. The PDU itself is opaque to this
// package: internal/isis defines the concrete Hello/LSP/CSNP/PSNP types
// and implements PDU.Clone for each.
type ClnsPacket struct {
	PDU PDU
}

func (p ClnsPacket) Clone() PDU {
	cp := p
	if p.PDU != nil {
		cp.PDU = p.PDU.Clone()
	}
	return cp
}
