package routing

import (
	"net/netip"
	"sort"
)

// Chain is a composed, ordered list of tables searched together by
// LookupIP: inet, inet3, and recursive, per spec.md §4.C.
type Chain []Name

var (
	Inet      = Chain{Direct, StaticT, IsisT, BgpT}
	Inet3     = Chain{RsvpT}
	Recursive = Chain{RsvpT, Direct, StaticT, IsisT}
)

// candidate pairs a route with the position of its table in the chain,
// used as the final tie-break. MPLS table entries (which have no
// meaningful prefix) are never collected as candidates.
type candidate struct {
	route *Route
	order int
}

// LookupIP performs longest-prefix match for addr across every table in
// chain. Per table, only the best (lowest-metric) route per key
// participates; ties in specificity are broken by descending network
// address as spec.md §4.C specifies, then by chain-declaration order.
//
// Per spec.md's own clarification, recursive substitution of a matched
// route's interface is NOT performed here: it happens only when building
// the FIB, since forwarding_table() is where bypass/backup interfaces
// must be known regardless of how the caller reached the route.
func (t *Tables) LookupIP(addr netip.Addr, chain Chain) (*Route, bool) {
	if chain == nil {
		chain = Inet
	}

	var candidates []candidate
	for order, name := range chain {
		if name == MPLS {
			continue
		}
		t.ip[name].LookupTraverseRev(addrQuery(addr), func(_ netip.Prefix, list []*Route) bool {
			if len(list) > 0 {
				candidates = append(candidates, candidate{route: list[0], order: order})
			}
			return true
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		pi, pj := candidates[i].route.Prefix, candidates[j].route.Prefix
		if pi.Bits() != pj.Bits() {
			return pi.Bits() > pj.Bits()
		}
		if pi.Addr() != pj.Addr() {
			return compareAddr(pi.Addr(), pj.Addr()) > 0
		}
		return candidates[i].order < candidates[j].order
	})

	for _, c := range candidates {
		if c.route.Prefix.Contains(addr) {
			return c.route.Clone(), true
		}
	}
	return nil, false
}

func compareAddr(a, b netip.Addr) int {
	ab, bb := a.As4(), b.As4()
	for i := range ab {
		if ab[i] != bb[i] {
			return int(ab[i]) - int(bb[i])
		}
	}
	return 0
}
