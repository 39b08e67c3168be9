package isis

import (
	"net/netip"

	"github.com/routersimlab/netsim/internal/netpacket"
)

// NeighborReach is the ExtendedISReachability TLV: a neighboring system
// and the metric to reach it, plus the sub-TLVs carrying each side's
// interface address.
type NeighborReach struct {
	SystemID   string
	Metric     int
	OurIP      netip.Addr
	NeighborIP netip.Addr
}

// AddrReach is the ExtendedIPReachability TLV: a directly-advertised
// prefix and its metric/state.
type AddrReach struct {
	Prefix netip.Prefix
	Metric int
	Up     bool
}

// LSPContent is a link-state PDU's payload: DynamicHostname,
// TE-IP-Router-ID, and the reachability TLVs, represented directly as
// Go fields rather than an encoded TLV stream (no wire-accurate
// encoding is required of this simulator).
type LSPContent struct {
	SourceID  string
	LSPID     string
	SeqNo     int
	Hostname  string
	RouterID  netip.Addr
	Neighbors []NeighborReach
	Addresses []AddrReach
}

func (c LSPContent) Clone() netpacket.PDU {
	cp := c
	cp.Neighbors = append([]NeighborReach(nil), c.Neighbors...)
	cp.Addresses = append([]AddrReach(nil), c.Addresses...)
	return cp
}

// HelloContent is a P2P Hello PDU's payload: our system id, area, the
// loopback address carried by the IPAddress TLV, and our view of every
// neighbor's adjacency state via P2PAdjacency TLVs.
type HelloContent struct {
	SourceID    string
	AreaID      string
	SourceIP    netip.Addr
	Adjacencies map[string]NeighborState
}

func (c HelloContent) Clone() netpacket.PDU {
	cp := c
	cp.Adjacencies = make(map[string]NeighborState, len(c.Adjacencies))
	for k, v := range c.Adjacencies {
		cp.Adjacencies[k] = v
	}
	return cp
}

// LSPSummary is one LSPEntry TLV carried in a CSNP or PSNP.
type LSPSummary struct {
	LSPID             string
	SeqNo             int
	RemainingLifetime int
	Hostname          string
}

// CSNPContent lists the full database: used to synchronize after an
// adjacency comes up.
type CSNPContent struct {
	SourceID string
	Entries  []LSPSummary
}

func (c CSNPContent) Clone() netpacket.PDU {
	cp := c
	cp.Entries = append([]LSPSummary(nil), c.Entries...)
	return cp
}

// PSNPContent lists LSPs whose receipt is being acknowledged or
// requested.
type PSNPContent struct {
	SourceID string
	Entries  []LSPSummary
}

func (c PSNPContent) Clone() netpacket.PDU {
	cp := c
	cp.Entries = append([]LSPSummary(nil), c.Entries...)
	return cp
}
