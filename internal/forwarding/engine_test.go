package forwarding

import (
	"net/netip"
	"testing"

	"github.com/gopacket/gopacket/layers"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/arp"
	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/netpacket/pkttest"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/scheduler"
	"github.com/routersimlab/netsim/internal/topology"
)

type nopControl struct {
	ipv4Calls int
	clnsCalls int
}

func (c *nopControl) HandleCLNS(*topology.LogicalInterface, netpacket.PDU)                 { c.clnsCalls++ }
func (c *nopControl) HandleIPv4Control(*topology.LogicalInterface, netpacket.IPv4Packet) { c.ipv4Calls++ }

func newTestEngine(t *testing.T) (*Engine, *topology.Device, *nopControl) {
	t.Helper()
	s := scheduler.New(scheduler.WithSeed(1))
	reg := topology.NewRegistry()
	dev := topology.NewDevice(reg, "r1", s)
	control := &nopControl{}
	return NewEngine(dev, arp.NewCache(), control, zap.NewNop().Sugar()), dev, control
}

func TestProcessIPv4ControlActionInvokesControlPlane(t *testing.T) {
	e, _, control := newTestEngine(t)
	tabs := routing.NewTables(eventbus.NewBus(&fakeClock{}), zap.NewNop().Sugar())

	phys := topology.NewPhysicalInterface(1, "lo0", true)
	iface := phys.AddLogical("0")
	iface.IPv4Address = netip.MustParsePrefix("192.168.50.1/32")

	tabs.AddRoute(&routing.Route{Prefix: netip.MustParsePrefix("192.168.50.1/32"), Kind: routing.Local, Interface: iface}, routing.Direct, "kernel")
	e.SetFIB(tabs.BuildFIB())

	pkt := netpacket.IPv4Packet{Src: netip.MustParseAddr("10.0.0.2"), Dst: netip.MustParseAddr("192.168.50.1"), TTL: 64}
	e.ProcessFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}, iface, false, nil)

	require.Equal(t, 1, control.ipv4Calls)
}

func TestProcessIPv4InspectableRouterAlertGoesToControlPlane(t *testing.T) {
	e, _, control := newTestEngine(t)
	e.SetFIB(routing.NewFIB())

	pkt := netpacket.IPv4Packet{
		Src: netip.MustParseAddr("10.0.0.1"), Dst: netip.MustParseAddr("10.0.0.2"),
		TTL: 64, RouterAlert: true,
	}
	e.ProcessFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}, nil, false, nil)

	require.Equal(t, 1, control.ipv4Calls)
}

// TestProcessIPv4RouterAlertFromWireAccurateFixtureGoesToControlPlane
// builds a real, gopacket-serialized Ethernet+IPv4 frame carrying the RFC
// 2113 Router Alert option and decodes it back, instead of hand-rolling
// the IPv4Packet's RouterAlert/TTL fields, the same way
// modules/balancer/tests/go/utils/packet.go builds TCP/UDP fixtures for
// the teacher's dataplane tests.
func TestProcessIPv4RouterAlertFromWireAccurateFixtureGoesToControlPlane(t *testing.T) {
	e, _, control := newTestEngine(t)
	e.SetFIB(routing.NewFIB())

	srcMAC := [6]byte{0x02, 0, 0, 0, 0, 1}
	dstMAC := [6]byte{0x02, 0, 0, 0, 0, 2}
	src := netip.MustParseAddr("10.0.0.1")
	dst := netip.MustParseAddr("10.0.0.2")

	_, decoded := pkttest.EthernetIPv4RouterAlert(srcMAC, dstMAC, src, dst, 64, layers.IPProtocolUDP, []byte("hello"))
	ipLayer := decoded.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	require.Len(t, ipLayer.Options, 1, "fixture must carry the Router Alert option")

	pkt := netpacket.IPv4Packet{
		Src: src, Dst: dst, TTL: ipLayer.TTL, RouterAlert: true,
	}
	e.ProcessFrame(netpacket.Frame{Src: srcMAC, Dst: dstMAC, Type: netpacket.FrameIPv4, PDU: pkt}, nil, false, nil)

	require.Equal(t, 1, control.ipv4Calls)
}

func TestProcessIPv4RejectGeneratesICMPViaResolution(t *testing.T) {
	e, dev, _ := newTestEngine(t)
	tabs := routing.NewTables(eventbus.NewBus(&fakeClock{}), zap.NewNop().Sugar())
	fib := tabs.BuildFIB() // only the default REJECT
	e.SetFIB(fib)

	unreachables := 0
	dev.Bus.Listen(eventbus.Icmp, func(evt eventbus.Event) {
		if evt.SubKind == eventbus.IcmpUnreachableSent {
			unreachables++
		}
	})

	pkt := netpacket.IPv4Packet{Src: netip.MustParseAddr("10.0.0.1"), Dst: netip.MustParseAddr("203.0.113.1"), TTL: 64}
	require.NotPanics(t, func() {
		e.ProcessFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}, nil, false, nil)
	})
	require.Equal(t, 1, unreachables)
}

func TestProcessMPLSImplicitNullPopsAndRecursesAsIPv4(t *testing.T) {
	e, _, control := newTestEngine(t)
	e.SetFIB(routing.NewFIB())

	inner := netpacket.IPv4Packet{Src: netip.MustParseAddr("10.0.0.1"), Dst: netip.MustParseAddr("10.0.0.2"), TTL: 64, RouterAlert: true}
	mpls := netpacket.MPLSPacket{Labels: []mplsop.Label{mplsop.ImplicitNull}, Inner: inner}

	e.ProcessFrame(netpacket.Frame{Type: netpacket.FrameMPLSUcast, PDU: mpls}, nil, false, nil)
	require.Equal(t, 1, control.ipv4Calls)
}

func TestProcessMPLSSwapForwardsWithNewLabel(t *testing.T) {
	e, _, _ := newTestEngine(t)

	phys := topology.NewPhysicalInterface(1, "et1", false)
	phys.Link = &topology.Link{State: topology.Up}
	phys.OperState = topology.Up
	iface := phys.AddLogical("0")
	iface.IPv4Address = netip.MustParsePrefix("10.0.0.1/31")

	fib := routing.NewFIB()
	fib.MPLS[100] = &routing.MPLSFIBEntry{Label: 100, Interface: iface, NextHopIP: netip.MustParseAddr("10.0.0.0"), Action: mplsop.NewSwap(200)}
	e.SetFIB(fib)

	mpls := netpacket.MPLSPacket{Labels: []mplsop.Label{100}, Inner: netpacket.IPv4Packet{}}
	require.NotPanics(t, func() {
		e.ProcessFrame(netpacket.Frame{Type: netpacket.FrameMPLSUcast, PDU: mpls}, nil, false, nil)
	})
}

type fakeClock struct{}

func (fakeClock) Now() int64 { return 0 }
