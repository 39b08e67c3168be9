package routing

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/scheduler"
)

func newTestTables(t *testing.T) (*Tables, *eventbus.Bus) {
	t.Helper()
	s := scheduler.New(scheduler.WithSeed(1))
	bus := eventbus.NewBus(s)
	return NewTables(bus, zap.NewNop().Sugar()), bus
}

func TestAddRouteKeepsPerKeyListSortedByMetric(t *testing.T) {
	tabs, _ := newTestTables(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")

	r10 := &Route{Prefix: prefix, Kind: Isis, Metric: 10}
	r5 := &Route{Prefix: prefix, Kind: Isis, Metric: 5}
	r20 := &Route{Prefix: prefix, Kind: Isis, Metric: 20}

	tabs.AddRoute(r10, IsisT, "isis")
	tabs.AddRoute(r5, IsisT, "isis")
	tabs.AddRoute(r20, IsisT, "isis")

	list, _ := tabs.bucket(IsisT, prefix.String())
	require.Equal(t, []*Route{r5, r10, r20}, list)
}

func TestAddRouteEmitsRouteChangeAdded(t *testing.T) {
	tabs, bus := newTestTables(t)
	var got eventbus.Event
	bus.Listen(eventbus.RouteChange, func(e eventbus.Event) { got = e })

	r := &Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Kind: Static}
	tabs.AddRoute(r, StaticT, "cli")

	require.Equal(t, eventbus.RouteAdded, got.SubKind)
}

func TestDelRouteDropsEmptyKey(t *testing.T) {
	tabs, _ := newTestTables(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	r := &Route{Prefix: prefix, Kind: Static}

	tabs.AddRoute(r, StaticT, "cli")
	tabs.DelRoute(r, StaticT, "cli")

	_, ok := tabs.bucket(StaticT, prefix.String())
	require.False(t, ok)
}

func TestDelRouteMissingIsWarnedNotFatal(t *testing.T) {
	tabs, _ := newTestTables(t)
	r := &Route{Prefix: netip.MustParsePrefix("10.0.0.0/24"), Kind: Static}
	require.NotPanics(t, func() { tabs.DelRoute(r, StaticT, "cli") })
}

func TestSetRoutesSkipsChurnOnIdenticalReplacement(t *testing.T) {
	tabs, bus := newTestTables(t)
	prefix := netip.MustParsePrefix("10.0.0.0/24")
	r := &Route{Prefix: prefix, Kind: Isis, Metric: 10}
	tabs.AddRoute(r, IsisT, "isis")

	var events int
	bus.Listen(eventbus.RouteChange, func(eventbus.Event) { events++ })

	same := &Route{Prefix: prefix, Kind: Isis, Metric: 10}
	tabs.SetRoutes([]*Route{same}, IsisT, "isis")

	require.Equal(t, 0, events, "re-publishing an equivalent route must not churn RouteChange")
}

func TestSetRoutesReplacesDifferingRouteAndDeletesAbsent(t *testing.T) {
	tabs, _ := newTestTables(t)
	p1 := netip.MustParsePrefix("10.0.0.0/24")
	p2 := netip.MustParsePrefix("10.0.1.0/24")

	tabs.AddRoute(&Route{Prefix: p1, Kind: Isis, Metric: 10}, IsisT, "isis")
	tabs.AddRoute(&Route{Prefix: p2, Kind: Isis, Metric: 10}, IsisT, "isis")

	tabs.SetRoutes([]*Route{
		{Prefix: p1, Kind: Isis, Metric: 20},
	}, IsisT, "isis")

	list1, _ := tabs.bucket(IsisT, p1.String())
	require.Len(t, list1, 1)
	require.Equal(t, 20, list1[0].Metric)

	_, ok := tabs.bucket(IsisT, p2.String())
	require.False(t, ok, "prefix absent from the new set must be deleted")
}

func TestMPLSTableKeyedByLabelString(t *testing.T) {
	tabs, _ := newTestTables(t)
	r := &Route{Label: 105, Kind: Rsvp}
	tabs.AddRoute(r, MPLS, "rsvp")

	_, ok := tabs.bucket(MPLS, "105")
	require.True(t, ok)
}
