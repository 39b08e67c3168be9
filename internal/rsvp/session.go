package rsvp

import (
	"net/netip"

	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/routing"
)

// session is a locally-originated LSP tunnel request: one Path message,
// sent once; it is neither refreshed nor torn down.
type session struct {
	destIP      netip.Addr
	sourceIP    netip.Addr
	name        string
	tunnelID    int
	lspID       int
	localRepair bool

	// protectedIP is set for a bypass session: the SPF computing this
	// session's ERO excludes this address.
	protectedIP netip.Addr
}

func (s *session) isBypass() bool { return s.protectedIP.IsValid() }

// psb is a Path State Block: what we remember about a Path message
// we've sent or forwarded.
type psb struct {
	hop           netip.Addr
	destIP        netip.Addr
	sourceIP      netip.Addr
	tunnelID      int
	senderAddress netip.Addr
	senderLSPID   int
	name          string
	localRepair   bool

	bypass     bool
	bypassedIP netip.Addr

	label mplsop.Label
	route *routing.Route
}

func (p *psb) key() string { return pathKey(p.destIP, p.tunnelID, p.senderAddress, p.senderLSPID) }

// rsb is a Resv State Block: what we remember about a Resv message
// we've received.
type rsb struct {
	destIP        netip.Addr
	tunnelID      int
	filterAddress netip.Addr
	filterLSPID   int
	hop           netip.Addr
}
