package rsvp

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/arp"
	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/forwarding"
	"github.com/routersimlab/netsim/internal/isis"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/scheduler"
	"github.com/routersimlab/netsim/internal/topology"
)

func TestCreateSessionIsIdempotentByName(t *testing.T) {
	p := &Process{pathState: make(map[string]*psb), resvState: make(map[string]*rsb)}

	a := p.CreateSession(netip.MustParseAddr("192.168.50.2"), "tunnel-a", false, netip.Addr{})
	b := p.CreateSession(netip.MustParseAddr("192.168.50.2"), "tunnel-a", false, netip.Addr{})

	require.Same(t, a, b)
	require.Len(t, p.sessions, 1)
}

// controlPlane dispatches CLNS nowhere (no IS-IS in these tests) and
// IPv4 control traffic to the router's RSVP process.
type controlPlane struct {
	rsvp *Process
}

func (c *controlPlane) HandleCLNS(*topology.LogicalInterface, netpacket.PDU) {}
func (c *controlPlane) HandleIPv4Control(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet) {
	c.rsvp.HandleIPv4Control(sourceIface, pkt)
}

type testRouter struct {
	device  *topology.Device
	tables  *routing.Tables
	engine  *forwarding.Engine
	process *Process
}

// wireIPv4 makes PacketRecv events reach the engine's ordinary dispatch,
// resolving the receiving logical interface by the "<phys>.0" convention
// used throughout this package's tests.
func wireIPv4(r *testRouter) {
	r.device.Bus.Listen(eventbus.PacketRecv, func(evt eventbus.Event) {
		frame, ok := evt.Object.(netpacket.Frame)
		if !ok {
			return
		}
		physName, _ := evt.Source.(string)
		iface, ok := r.device.Logical(physName + ".0")
		if !ok {
			return
		}
		r.engine.ProcessFrame(frame, iface, false, nil)
	})
}

func newTestRouter(t *testing.T, s *scheduler.Scheduler, reg *topology.Registry, hostname string, sourceIP netip.Addr, ted fakeIsisSource) *testRouter {
	t.Helper()
	dev := topology.NewDevice(reg, hostname, s)
	tables := routing.NewTables(dev.Bus, zap.NewNop().Sugar())
	control := &controlPlane{}
	engine := forwarding.NewEngine(dev, arp.NewCache(), control, zap.NewNop().Sugar())

	proc := NewProcess(dev, engine, s, tables, ted, sourceIP, zap.NewNop().Sugar(), 1)
	control.rsvp = proc

	r := &testRouter{device: dev, tables: tables, engine: engine, process: proc}
	wireIPv4(r)
	return r
}

// linkRouters connects a and b over a fresh /31, installs a connected
// route on each side so ordinary FIB forwarding (used for Resv messages)
// can reach the adjacent interface, and resolves ARP statically (this
// package tests RSVP signaling, not neighbor discovery).
func linkRouters(t *testing.T, s *scheduler.Scheduler, a, b *testRouter, aAddr, bAddr netip.Addr, latency int64) (*topology.LogicalInterface, *topology.LogicalInterface) {
	t.Helper()
	pa := a.device.AddPhysical("et1", false)
	pb := b.device.AddPhysical("et1", false)
	link := topology.NewLink(s, pa, pb, a.device.Bus, b.device.Bus, latency)
	link.Up()

	la := pa.AddLogical("0")
	la.IPv4Address = netip.PrefixFrom(aAddr, 31)
	lb := pb.AddLogical("0")
	lb.IPv4Address = netip.PrefixFrom(bAddr, 31)

	subnet := netip.PrefixFrom(aAddr, 31).Masked()
	a.tables.AddRoute(&routing.Route{Prefix: subnet, Kind: routing.Connected, Interface: la}, routing.Direct, "kernel")
	b.tables.AddRoute(&routing.Route{Prefix: subnet, Kind: routing.Connected, Interface: lb}, routing.Direct, "kernel")

	a.engine.Arp.Set(bAddr, pb.HWAddress)
	b.engine.Arp.Set(aAddr, pa.HWAddress)

	return la, lb
}

func twoRouterTED(aIP, bIP, aLinkIP, bLinkIP netip.Addr) fakeIsisSource {
	return fakeIsisSource{lsps: []isis.LSPContent{
		{
			SourceID: "sysA",
			RouterID: aIP,
			Neighbors: []isis.NeighborReach{
				{SystemID: "sysB", Metric: 10, OurIP: aLinkIP, NeighborIP: bLinkIP},
			},
		},
		{
			SourceID: "sysB",
			RouterID: bIP,
			Neighbors: []isis.NeighborReach{
				{SystemID: "sysA", Metric: 10, OurIP: bLinkIP, NeighborIP: aLinkIP},
			},
		},
	}}
}

func TestTwoRouterPathAndResvInstallsIngressRoute(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := topology.NewRegistry()

	aIP := netip.MustParseAddr("192.168.50.1")
	bIP := netip.MustParseAddr("192.168.50.2")
	aLinkIP := netip.MustParseAddr("100.64.0.0")
	bLinkIP := netip.MustParseAddr("100.64.0.1")

	ted := twoRouterTED(aIP, bIP, aLinkIP, bLinkIP)
	a := newTestRouter(t, s, reg, "r1", aIP, ted)
	b := newTestRouter(t, s, reg, "r2", bIP, ted)

	linkRouters(t, s, a, b, aLinkIP, bLinkIP, 10)

	// The Resv reply travels back via ordinary FIB forwarding (the Path
	// message instead follows the ERO explicitly); both routers need a
	// FIB built from their connected routes for it to be deliverable.
	a.engine.SetFIB(a.tables.BuildFIB())
	b.engine.SetFIB(b.tables.BuildFIB())

	a.process.Start()
	b.process.Start()
	// The link's endpoints come up latency/2 ticks after Up(), and a Path
	// message is sent only once, so signal only after they are up.
	s.RunUntil(10)
	a.process.CreateSession(bIP, "tunnel-a-b", false, netip.Addr{})

	s.RunUntil(100)

	routes := a.tables.All(routing.RsvpT)
	require.Len(t, routes, 1)
	require.Equal(t, netip.PrefixFrom(bIP, 32), routes[0].Prefix)
	require.Equal(t, mplsop.Push, routes[0].Action.Kind)
	require.Equal(t, mplsop.ImplicitNull, routes[0].Action.Label)
	require.Equal(t, int(routing.Rsvp), routes[0].Metric)

	require.Empty(t, b.tables.All(routing.RsvpT), "egress router installs no RSVP route for its own session")
}

func TestMaybeCreateBypassSchedulesWhenNotDirectlyAttached(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := topology.NewRegistry()
	dev := topology.NewDevice(reg, "r1", s)

	p := &Process{device: dev, sched: s, pathState: make(map[string]*psb), resvState: make(map[string]*rsb), log: zap.NewNop().Sugar(), isis: fakeIsisSource{}}

	far := netip.MustParseAddr("100.64.0.5")
	p.maybeCreateBypass(nil, far)
	s.RunUntil(1)

	// createBypassLSP runs inside the scheduled callback; with no
	// matching LSP in the database it logs a warning and returns
	// without creating a session.
	require.Empty(t, p.sessions)
}

func TestMaybeCreateBypassSkipsWhenLocallyAttached(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := topology.NewRegistry()
	dev := topology.NewDevice(reg, "r1", s)

	attached := netip.MustParseAddr("100.64.0.5")
	phys := dev.AddPhysical("et1", false)
	iface := phys.AddLogical("0")
	iface.IPv4Address = netip.PrefixFrom(attached, 31)

	calls := 0
	p := &Process{device: dev, sched: countingScheduler{s: s, calls: &calls}, pathState: make(map[string]*psb), resvState: make(map[string]*rsb), log: zap.NewNop().Sugar()}

	p.maybeCreateBypass(nil, attached)

	require.Equal(t, 0, calls, "must not schedule bypass creation when already directly attached")
}

type countingScheduler struct {
	s     *scheduler.Scheduler
	calls *int
}

func (c countingScheduler) Enqueue(delay int64, cb func()) {
	*c.calls++
	c.s.Enqueue(delay, cb)
}

func TestCreateBypassLSPFindsProtectedRouterViaTED(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := topology.NewRegistry()
	dev := topology.NewDevice(reg, "r1", s)

	protectedIP := netip.MustParseAddr("100.64.0.1")
	ted := fakeIsisSource{lsps: []isis.LSPContent{
		{
			SourceID: "sysB",
			RouterID: netip.MustParseAddr("192.168.50.2"),
			Neighbors: []isis.NeighborReach{
				{SystemID: "sysA", Metric: 10, OurIP: protectedIP, NeighborIP: netip.MustParseAddr("100.64.0.0")},
			},
		},
	}}

	p := &Process{
		hostname:  "r1",
		device:    dev,
		sched:     s,
		isis:      ted,
		log:       zap.NewNop().Sugar(),
		pathState: make(map[string]*psb),
		resvState: make(map[string]*rsb),
	}

	p.createBypassLSP(nil, protectedIP)

	require.Len(t, p.sessions, 1)
	require.Equal(t, netip.MustParseAddr("192.168.50.2"), p.sessions[0].destIP)
	require.True(t, p.sessions[0].isBypass())
	require.Equal(t, protectedIP, p.sessions[0].protectedIP)
}
