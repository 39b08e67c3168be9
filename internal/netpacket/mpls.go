package netpacket

import "github.com/routersimlab/netsim/internal/mplsop"

// MPLSPacket carries a label stack over an inner payload, which becomes
// an IPv4Packet once the stack is fully popped.
type MPLSPacket struct {
	Labels []mplsop.Label
	Inner  PDU
}

func (p MPLSPacket) Clone() PDU {
	cp := p
	cp.Labels = append([]mplsop.Label(nil), p.Labels...)
	if p.Inner != nil {
		cp.Inner = p.Inner.Clone()
	}
	return cp
}

// TopLabel returns the outermost label and whether the stack is
// non-empty.
func (p MPLSPacket) TopLabel() (mplsop.Label, bool) {
	if len(p.Labels) == 0 {
		return 0, false
	}
	return p.Labels[0], true
}
