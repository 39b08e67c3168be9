package routing

import (
	"net/netip"
	"sort"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/eventbus"
)

// Name identifies one of the six fixed per-protocol tables.
type Name string

const (
	Direct  Name = "direct"
	StaticT Name = "static"
	IsisT   Name = "isis"
	BgpT    Name = "bgp"
	RsvpT   Name = "rsvp"
	MPLS    Name = "mpls"
)

// ipTrie is the concrete MapTrie instantiation every prefix-keyed table
// uses: netip.Prefix keys (already a MapTrieKey), netip.Addr queries,
// and a per-prefix route bucket sorted ascending by metric.
type ipTrie = MapTrie[netip.Prefix, addrQuery, []*Route]

// Tables is the full set of per-protocol route stores plus the composed
// views built over them. The five prefix-keyed tables are stored in a
// MapTrie per spec.md §4.C's DOMAIN STACK wiring; the mpls table is
// keyed by label string, for which a trie's bit-length indexing has no
// meaning, so it stays a plain map.
type Tables struct {
	bus *eventbus.Bus
	log *zap.SugaredLogger

	ip   map[Name]*ipTrie
	mpls map[string][]*Route
}

// NewTables constructs the six fixed tables, empty.
func NewTables(bus *eventbus.Bus, log *zap.SugaredLogger) *Tables {
	t := &Tables{
		bus:  bus,
		log:  log,
		ip:   make(map[Name]*ipTrie),
		mpls: make(map[string][]*Route),
	}
	for _, name := range []Name{Direct, StaticT, IsisT, BgpT, RsvpT} {
		trie := NewMapTrie[netip.Prefix, addrQuery, []*Route](0)
		t.ip[name] = &trie
	}
	return t
}

// bucket returns the route list stored at key (a prefix's String() form
// for IP tables, a label's decimal string for the mpls table).
func (t *Tables) bucket(table Name, key string) ([]*Route, bool) {
	if table == MPLS {
		list, ok := t.mpls[key]
		return list, ok
	}
	prefix, err := netip.ParsePrefix(key)
	if err != nil {
		return nil, false
	}
	return t.ip[table].Get(prefix)
}

// dump returns every key/route-list pair currently stored in table.
func (t *Tables) dump(table Name) map[string][]*Route {
	if table == MPLS {
		out := make(map[string][]*Route, len(t.mpls))
		for k, v := range t.mpls {
			out[k] = v
		}
		return out
	}
	flat := t.ip[table].Dump()
	out := make(map[string][]*Route, len(flat))
	for prefix, list := range flat {
		out[prefix.String()] = list
	}
	return out
}

// AddRoute inserts route into table, keeping the per-key list sorted by
// ascending metric, and emits RouteChange{RouteAdded}.
func (t *Tables) AddRoute(route *Route, table Name, src string) {
	key := route.key(table)

	if table == MPLS {
		t.mpls[key] = insertSorted(t.mpls[key], route)
	} else {
		t.ip[table].InsertOrUpdate(route.Prefix,
			func() []*Route { return insertSorted(nil, route) },
			func(cur []*Route) []*Route { return insertSorted(cur, route) },
		)
	}

	t.bus.Observe(eventbus.Event{
		Kind:    eventbus.RouteChange,
		Source:  src,
		SubKind: eventbus.RouteAdded,
		Object:  route,
		Message: string(table) + ":" + key,
	})
}

func insertSorted(list []*Route, route *Route) []*Route {
	i := sort.Search(len(list), func(i int) bool { return list[i].Metric >= route.Metric })
	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = route
	return list
}

func findRoute(list []*Route, route *Route) int {
	for i, r := range list {
		if r == route || (r.Prefix == route.Prefix && r.Label == route.Label && r.NextHopIP == route.NextHopIP) {
			return i
		}
	}
	return -1
}

// DelRoute removes route from table. If the key's list empties, the key
// is dropped entirely. A route absent from the table is a warning, not a
// fatal error.
func (t *Tables) DelRoute(route *Route, table Name, src string) {
	key := route.key(table)

	list, ok := t.bucket(table, key)
	if !ok {
		t.log.Warnw("del_route: no such key", "table", table, "key", key)
		return
	}

	idx := findRoute(list, route)
	if idx == -1 {
		t.log.Warnw("del_route: route not found in key", "table", table, "key", key)
		return
	}
	list = append(list[:idx], list[idx+1:]...)

	if table == MPLS {
		if len(list) == 0 {
			delete(t.mpls, key)
		} else {
			t.mpls[key] = list
		}
	} else {
		masked := route.Prefix.Masked()
		if len(list) == 0 {
			t.ip[table].Delete(masked)
		} else {
			t.ip[table].Set(masked, list)
		}
	}

	t.bus.Observe(eventbus.Event{
		Kind:    eventbus.RouteChange,
		Source:  src,
		SubKind: eventbus.RouteDeleted,
		Object:  route,
		Message: string(table) + ":" + key,
	})
}

// SetRoutes idempotently replaces every route in table with routes: adds
// new keys, replaces keys whose installed route differs, deletes keys
// absent from the new set. A key whose installed route is Equivalent to
// the incoming one is left untouched, avoiding a spurious
// delete-then-add RouteChange pair on every unrelated re-publish.
func (t *Tables) SetRoutes(routes []*Route, table Name, src string) {
	current := t.dump(table)

	incoming := make(map[string]*Route, len(routes))
	for _, r := range routes {
		incoming[r.key(table)] = r
	}

	for key := range current {
		if _, ok := incoming[key]; !ok {
			for _, r := range append([]*Route(nil), current[key]...) {
				t.DelRoute(r, table, src)
			}
		}
	}

	for key, r := range incoming {
		existing := current[key]
		if len(existing) == 1 && existing[0].Equivalent(r) {
			continue
		}
		for _, old := range append([]*Route(nil), existing...) {
			t.DelRoute(old, table, src)
		}
		t.AddRoute(r, table, src)
	}
}

// SetBypass attaches bypass to every route in table whose next hop is
// protectedIP: an O(n) scan over the table, sanctioned at simulator
// scale by spec.md §9. Returns the number of routes updated.
func (t *Tables) SetBypass(table Name, protectedIP netip.Addr, bypass *Route) int {
	n := 0
	for _, list := range t.dump(table) {
		for _, r := range list {
			if r.NextHopIP == protectedIP {
				r.Bypass = bypass
				n++
			}
		}
	}
	return n
}

// All returns every route currently installed in table, across all keys.
func (t *Tables) All(table Name) []*Route {
	var out []*Route
	for _, list := range t.dump(table) {
		out = append(out, list...)
	}
	return out
}
