package rsvp

import (
	"fmt"
	"net/netip"

	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/netpacket"
)

// Session identifies an LSP tunnel: destination, source, and a
// process-local tunnel id.
type Session struct {
	DestIP   netip.Addr
	SourceIP netip.Addr
	TunnelID int
}

// PathMessage is an RSVP Path PDU: the explicit route to signal along,
// the sender template, and the record-route accumulated so far.
type PathMessage struct {
	Session       Session
	SenderAddress netip.Addr
	SenderLSPID   int
	Name          string
	LocalRepair   bool

	ERO         []netip.Addr
	Hop         netip.Addr
	RecordRoute []netip.Addr
}

func (p PathMessage) Clone() netpacket.PDU {
	cp := p
	cp.ERO = append([]netip.Addr(nil), p.ERO...)
	cp.RecordRoute = append([]netip.Addr(nil), p.RecordRoute...)
	return cp
}

// Key identifies the PSB this Path message belongs to.
func (p PathMessage) Key() string {
	return pathKey(p.Session.DestIP, p.Session.TunnelID, p.SenderAddress, p.SenderLSPID)
}

// ResvMessage is an RSVP Resv PDU: the reserved label and the filter
// spec identifying which Path it reserves for.
type ResvMessage struct {
	Session       Session
	FilterAddress netip.Addr
	FilterLSPID   int
	Label         mplsop.Label

	Hop         netip.Addr
	RecordRoute []netip.Addr
}

func (r ResvMessage) Clone() netpacket.PDU {
	cp := r
	cp.RecordRoute = append([]netip.Addr(nil), r.RecordRoute...)
	return cp
}

// Key identifies the PSB this Resv message reserves for. Filter fields
// mirror the originating Path's sender fields, so a Resv's key matches
// its PSB's key directly rather than requiring a linear scan.
func (r ResvMessage) Key() string {
	return pathKey(r.Session.DestIP, r.Session.TunnelID, r.FilterAddress, r.FilterLSPID)
}

func pathKey(destIP netip.Addr, tunnelID int, senderAddr netip.Addr, lspID int) string {
	return fmt.Sprintf("%s|%d|%s|%d", destIP, tunnelID, senderAddr, lspID)
}
