package routing

import (
	"net/netip"
	"sort"
	"strconv"

	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/topology"
)

// FIBEntry is one installed IPv4 forwarding decision.
type FIBEntry struct {
	Prefix    netip.Prefix
	Interface *topology.LogicalInterface
	NextHopIP netip.Addr
	Action    mplsop.Action
}

// MPLSFIBEntry is one installed MPLS forwarding decision.
type MPLSFIBEntry struct {
	Label     mplsop.Label
	Interface *topology.LogicalInterface
	NextHopIP netip.Addr
	Action    mplsop.Action
}

// FIB is the two-layer forwarding information base the engine consults
// on every packet: an IPv4 table kept as a MapTrie for longest-prefix
// match, and an MPLS table keyed by label.
type FIB struct {
	IPv4 *MapTrie[netip.Prefix, addrQuery, *FIBEntry]
	MPLS map[mplsop.Label]*MPLSFIBEntry
}

// NewFIB returns an empty FIB, safe to install via SetFIB or extend with
// MPLS entries before any route has ever been built. Callers outside this
// package cannot construct a populated IPv4 trie directly (addrQuery is
// unexported), so this is the only supported way to get a non-nil FIB
// without going through BuildFIB.
func NewFIB() *FIB {
	trie := NewMapTrie[netip.Prefix, addrQuery, *FIBEntry](0)
	return &FIB{IPv4: &trie, MPLS: make(map[mplsop.Label]*MPLSFIBEntry)}
}

// LookupIPv4 performs longest-prefix match: an O(1) map lookup per
// candidate bit length, stopping at the first (longest) hit.
func (f *FIB) LookupIPv4(addr netip.Addr) (*FIBEntry, bool) {
	_, entry, ok := f.IPv4.Lookup(addrQuery(addr))
	return entry, ok
}

// LookupMPLS resolves a top label.
func (f *FIB) LookupMPLS(label mplsop.Label) (*MPLSFIBEntry, bool) {
	e, ok := f.MPLS[label]
	return e, ok
}

// BuildFIB rebuilds the FIB deterministically from the current table
// state, per spec.md §4.C. Callers should rebuild on every RouteChange
// or LinkState transition.
func (t *Tables) BuildFIB() *FIB {
	fib := &FIB{MPLS: make(map[mplsop.Label]*MPLSFIBEntry)}

	trie := NewMapTrie[netip.Prefix, addrQuery, *FIBEntry](0)
	fib.IPv4 = &trie
	t.buildIPv4(fib.IPv4)

	defaultRoute := netip.MustParsePrefix("0.0.0.0/0")
	if _, ok := fib.IPv4.Get(defaultRoute); !ok {
		fib.IPv4.Set(defaultRoute, &FIBEntry{Prefix: defaultRoute, Action: mplsop.NewReject()})
	}

	for _, r := range routesByLabelBestMetric(t.mpls) {
		entry := &MPLSFIBEntry{Label: r.Label, Interface: r.Interface, NextHopIP: r.NextHopIP, Action: r.Action}
		if r.Interface != nil && !r.Interface.IsUp() && r.Bypass != nil && r.Bypass.Interface != nil && r.Bypass.Interface.IsUp() {
			entry.Interface = r.Bypass.Interface
			entry.Action = mplsop.NewCombined(r.Action, r.Bypass.Action)
		}
		fib.MPLS[r.Label] = entry
	}

	return fib
}

func routesByLabelBestMetric(bucket map[string][]*Route) []*Route {
	out := make([]*Route, 0, len(bucket))
	for _, list := range bucket {
		if len(list) > 0 {
			out = append(out, list[0])
		}
	}
	return out
}

func (t *Tables) buildIPv4(trie *MapTrie[netip.Prefix, addrQuery, *FIBEntry]) {
	type keyed struct {
		prefix netip.Prefix
		route  *Route
		order  int
	}

	seen := map[netip.Prefix]bool{}
	var all []keyed
	for order, name := range Inet {
		for _, list := range t.dump(name) {
			if len(list) == 0 {
				continue
			}
			r := list[0]
			if !r.Prefix.IsValid() {
				continue
			}
			prefix := r.Prefix.Masked()
			if seen[prefix] {
				continue
			}
			seen[prefix] = true
			all = append(all, keyed{prefix: prefix, route: r, order: order})
		}
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].prefix.Bits() != all[j].prefix.Bits() {
			return all[i].prefix.Bits() > all[j].prefix.Bits()
		}
		if all[i].prefix.Addr() != all[j].prefix.Addr() {
			return compareAddr(all[i].prefix.Addr(), all[j].prefix.Addr()) > 0
		}
		return all[i].order < all[j].order
	})

	for _, k := range all {
		entry, ok := t.installIPv4(k.route)
		if !ok {
			continue
		}
		trie.Set(k.prefix, entry)
	}
}

func (t *Tables) installIPv4(r *Route) (*FIBEntry, bool) {
	switch r.Kind {
	case Local:
		return &FIBEntry{Prefix: r.Prefix, Interface: r.Interface, Action: mplsop.NewControl()}, true
	case Bgp:
		resolved, ok := t.LookupIP(r.ProtocolNextHop, Recursive)
		if !ok {
			return nil, false
		}
		if resolved.Interface != nil && resolved.Interface.IsUp() {
			return &FIBEntry{Prefix: r.Prefix, Interface: resolved.Interface, NextHopIP: resolved.NextHopIP, Action: resolved.Action}, true
		}
		if resolved.Bypass != nil && resolved.Bypass.Interface != nil && resolved.Bypass.Interface.IsUp() {
			return &FIBEntry{
				Prefix:    r.Prefix,
				Interface: resolved.Bypass.Interface,
				NextHopIP: resolved.Bypass.NextHopIP,
				Action:    mplsop.NewCombined(resolved.Action, resolved.Bypass.Action),
			}, true
		}
		return nil, false
	default:
		return &FIBEntry{Prefix: r.Prefix, Interface: r.Interface, NextHopIP: r.NextHopIP, Action: mplsop.NewForward()}, true
	}
}

// LabelString renders a label in the MPLS table's string-keyed form,
// matching the convention set by spec.md §9 ("mpls is keyed by label,
// string of integer").
func LabelString(l mplsop.Label) string {
	return strconv.Itoa(int(l))
}
