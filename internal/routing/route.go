// Package routing implements the simulator's per-protocol route stores,
// the composed inet/inet3/recursive views, and FIB derivation.
package routing

import (
	"net/netip"
	"strconv"

	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/topology"
)

// Kind tags a route's owning protocol. Lower values are more preferred
// when multiple protocols contend for the same prefix across a composed
// view's member tables (a table-ordering concern, not the per-table
// metric sort).
type Kind int

const (
	Local     Kind = 1
	Connected Kind = 2
	Static    Kind = 5
	Rsvp      Kind = 7
	Isis      Kind = 15
	Bgp       Kind = 170
)

func (k Kind) String() string {
	switch k {
	case Local:
		return "Local"
	case Connected:
		return "Connected"
	case Static:
		return "Static"
	case Rsvp:
		return "Rsvp"
	case Isis:
		return "Isis"
	case Bgp:
		return "Bgp"
	default:
		return "Unknown"
	}
}

// Route is a single routing table entry. Not every field applies to
// every Kind; BGP and RSVP specializations carry additional fields that
// are simply unset on other kinds.
type Route struct {
	Prefix    netip.Prefix
	Kind      Kind
	Interface *topology.LogicalInterface
	NextHopIP netip.Addr
	Metric    int
	AdminCost int
	Action    mplsop.Action
	Recursive bool
	Bypass    *Route

	// MPLS-table routes are keyed by label rather than prefix.
	Label mplsop.Label

	// BGP specialization.
	ASPath          []uint32
	ProtocolNextHop netip.Addr

	// RSVP specialization.
	LSPName     string
	LabelAction mplsop.Action
}

// Clone returns a shallow copy of the route, safe to hand to callers that
// must not observe subsequent table mutations. Bypass is copied by
// reference: bypass routes are themselves immutable once installed.
func (r *Route) Clone() *Route {
	cp := *r
	cp.ASPath = append([]uint32(nil), r.ASPath...)
	return &cp
}

// key returns the table key for this route: the label (as decimal text)
// for MPLS-table routes, the masked prefix otherwise — masked so it
// matches the normalization the routing MapTrie applies to every key it
// stores under.
func (r *Route) key(table Name) string {
	if table == MPLS {
		return strconv.Itoa(int(r.Label))
	}
	return r.Prefix.Masked().String()
}

// Equivalent reports whether two routes are interchangeable for the
// purposes of set_routes's idempotent replace: same key, same next hop,
// same interface, same metric/admin cost and action.
func (r *Route) Equivalent(other *Route) bool {
	if other == nil {
		return false
	}
	return r.Prefix == other.Prefix &&
		r.Label == other.Label &&
		r.Kind == other.Kind &&
		r.Metric == other.Metric &&
		r.AdminCost == other.AdminCost &&
		r.NextHopIP == other.NextHopIP &&
		r.Interface == other.Interface &&
		r.Action.Kind == other.Action.Kind &&
		r.Action.Label == other.Action.Label
}
