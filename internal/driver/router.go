package driver

import (
	"fmt"
	"net/netip"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/arp"
	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/forwarding"
	"github.com/routersimlab/netsim/internal/icmp"
	"github.com/routersimlab/netsim/internal/iso"
	"github.com/routersimlab/netsim/internal/isis"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/rsvp"
	"github.com/routersimlab/netsim/internal/scheduler"
	"github.com/routersimlab/netsim/internal/topology"
)

// loopbackTEMetric matches the Python original's lo.0 IS-IS metric: high
// enough that the loopback is never preferred as a transit hop.
const loopbackTEMetric = 500

// Router is one device's full control plane: the topology.Device plus
// its routing tables, forwarding engine, ARP cache, and protocol
// processes. It implements forwarding.ControlPlane, dispatching
// control-destined traffic to whichever process owns it.
type Router struct {
	hostname string
	loopback netip.Addr

	device   *topology.Device
	tables   *routing.Tables
	engine   *forwarding.Engine
	arpCache *arp.Cache
	isisProc *isis.Process
	rsvpProc *rsvp.Process

	sched *scheduler.Scheduler
	log   *zap.SugaredLogger

	physOrder []string

	pingSeq int
	pings   map[int]*pingTracker
}

func newRouter(registry *topology.Registry, sched *scheduler.Scheduler, hostname string, loopback netip.Addr, areaID string, log *zap.SugaredLogger, seed int64) (*Router, error) {
	dev := topology.NewDevice(registry, hostname, sched)
	named := log.Named(hostname)
	tables := routing.NewTables(dev.Bus, named)
	cache := arp.NewCache()

	r := &Router{
		hostname: hostname,
		loopback: loopback,
		device:   dev,
		tables:   tables,
		arpCache: cache,
		sched:    sched,
		log:      named,
		pings:    make(map[int]*pingTracker),
	}
	r.engine = forwarding.NewEngine(dev, cache, r, named)
	r.isisProc = isis.NewProcess(dev, sched, tables, named, seed)
	r.rsvpProc = rsvp.NewProcess(dev, r.engine, sched, tables, r.isisProc, loopback, named, seed)

	if err := r.addLoopback(areaID); err != nil {
		return nil, err
	}

	dev.Bus.Listen(eventbus.InterfaceState, r.onInterfaceState)
	dev.Bus.Listen(eventbus.RouteChange, r.onRouteChange)
	dev.Bus.Listen(eventbus.PacketRecv, func(evt eventbus.Event) {
		frame, ok := evt.Object.(netpacket.Frame)
		if !ok {
			return
		}
		physName, _ := evt.Source.(string)
		iface, ok := dev.Logical(physName + ".0")
		if !ok {
			return
		}
		r.engine.ProcessFrame(frame, iface, false, nil)
	})

	return r, nil
}

func (r *Router) Hostname() string         { return r.hostname }
func (r *Router) Loopback() netip.Addr     { return r.loopback }
func (r *Router) Device() *topology.Device { return r.device }
func (r *Router) Tables() *routing.Tables  { return r.tables }

func (r *Router) addLoopback(areaID string) error {
	phys := r.device.AddPhysical("lo", true)
	lo := phys.AddLogical("0")
	lo.IPv4Address = netip.PrefixFrom(r.loopback, 32)
	lo.TEMetric = loopbackTEMetric

	net, err := iso.BuildNET(areaID, r.loopback)
	if err != nil {
		return fmt.Errorf("driver: %s: %w", r.hostname, err)
	}
	lo.ISOAddress = net

	r.tables.AddRoute(&routing.Route{
		Prefix: netip.PrefixFrom(r.loopback, 32), Kind: routing.Local, Interface: lo, Metric: 1,
	}, routing.Direct, r.hostname)
	return nil
}

// AddPhysicalInterface creates and attaches a new physical interface,
// available afterward for LinkRouters or AddLogicalInterface.
func (r *Router) AddPhysicalInterface(name string) *topology.PhysicalInterface {
	p := r.device.AddPhysical(name, false)
	r.physOrder = append(r.physOrder, name)
	return p
}

// AddLogicalInterface attaches a logical interface to an existing
// physical interface and assigns it an IPv4 address.
func (r *Router) AddLogicalInterface(physName, logicalName string, ipv4 netip.Prefix) (*topology.LogicalInterface, error) {
	phys, ok := r.device.Physical[physName]
	if !ok {
		return nil, fmt.Errorf("driver: %s: no such physical interface %q", r.hostname, physName)
	}
	l := phys.AddLogical(logicalName)
	l.IPv4Address = ipv4
	if l.IsUp() {
		r.installConnectedRoutes(l)
	}
	return l, nil
}

func (r *Router) firstFreePhysical() *topology.PhysicalInterface {
	for _, name := range r.physOrder {
		p := r.device.Physical[name]
		if p != nil && !p.IsLoopback && p.Link == nil {
			return p
		}
	}
	return nil
}

func (r *Router) installConnectedRoutes(l *topology.LogicalInterface) {
	if !l.IPv4Address.IsValid() {
		return
	}
	r.tables.AddRoute(&routing.Route{
		Prefix: l.IPv4Address.Masked(), Kind: routing.Connected, Interface: l, Metric: 1,
	}, routing.Direct, r.hostname)
	r.tables.AddRoute(&routing.Route{
		Prefix: netip.PrefixFrom(l.IPv4Address.Addr(), l.IPv4Address.Addr().BitLen()), Kind: routing.Local, Interface: l, Metric: 1,
	}, routing.Direct, r.hostname)
}

func (r *Router) removeConnectedRoutes(l *topology.LogicalInterface) {
	if !l.IPv4Address.IsValid() {
		return
	}
	r.tables.DelRoute(&routing.Route{Prefix: l.IPv4Address.Masked(), Kind: routing.Connected}, routing.Direct, r.hostname)
	r.tables.DelRoute(&routing.Route{Prefix: netip.PrefixFrom(l.IPv4Address.Addr(), l.IPv4Address.Addr().BitLen()), Kind: routing.Local}, routing.Direct, r.hostname)
}

// onInterfaceState installs or withdraws connected/local routes as a
// physical interface's operational state flips, mirroring the Python
// original's RouteTableUpdater listening on LINK_STATE.
func (r *Router) onInterfaceState(evt eventbus.Event) {
	name, _ := evt.Source.(string)
	phys, ok := r.device.Physical[name]
	if !ok {
		return
	}
	state, _ := evt.Object.(topology.State)
	for _, l := range phys.Children {
		if state == topology.Up {
			r.installConnectedRoutes(l)
		} else {
			r.removeConnectedRoutes(l)
		}
	}
}

func (r *Router) onRouteChange(eventbus.Event) {
	r.engine.SetFIB(r.tables.BuildFIB())
}

// EnableIsis enables IS-IS on the named logical interface ("et1.0").
func (r *Router) EnableIsis(ifaceName string, passive bool, metric int) error {
	iface, ok := r.device.Logical(ifaceName)
	if !ok {
		return fmt.Errorf("driver: %s: no such interface %q", r.hostname, ifaceName)
	}
	r.isisProc.EnableInterface(iface, passive, metric, true)
	return nil
}

func (r *Router) enableIsisOnAllInterfaces() {
	for _, phys := range r.device.Physical {
		for _, l := range phys.Children {
			r.isisProc.EnableInterface(l, phys.IsLoopback, l.TEMetric, true)
		}
	}
}

func (r *Router) StartIsis() { r.isisProc.Start() }
func (r *Router) StartRsvp() { r.rsvpProc.Start() }

// CreateLsp kicks off RSVP Path signaling toward destIP. When
// linkProtection is set, every protected hop along the ERO schedules a
// bypass LSP once its Resv arrives.
func (r *Router) CreateLsp(name string, destIP netip.Addr, linkProtection bool) {
	r.rsvpProc.CreateSession(destIP, name, linkProtection, netip.Addr{})
}

// StaticRoute installs a static route toward prefix out the named
// gateway interface.
func (r *Router) StaticRoute(prefix netip.Prefix, gatewayIfaceName string) error {
	gw, ok := r.device.Logical(gatewayIfaceName)
	if !ok {
		return fmt.Errorf("driver: %s: no such interface %q", r.hostname, gatewayIfaceName)
	}
	r.tables.AddRoute(&routing.Route{
		Prefix: prefix, Kind: routing.Static, Interface: gw, Metric: int(routing.Static),
	}, routing.StaticT, r.hostname)
	return nil
}

// HandleCLNS implements forwarding.ControlPlane by delegating to IS-IS,
// the only protocol that speaks CLNS in this simulator.
func (r *Router) HandleCLNS(sourceIface *topology.LogicalInterface, pdu netpacket.PDU) {
	r.isisProc.HandleCLNS(sourceIface, pdu)
}

// HandleIPv4Control implements forwarding.ControlPlane by dispatching on
// payload type: RSVP signaling goes to the RSVP process, echo
// request/reply drive Ping.
func (r *Router) HandleIPv4Control(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet) {
	switch payload := pkt.Payload.(type) {
	case rsvp.PathMessage, rsvp.ResvMessage:
		r.rsvpProc.HandleIPv4Control(sourceIface, pkt)
	case icmp.EchoRequest:
		r.replyEcho(pkt, payload)
	case icmp.EchoReply:
		r.recvEchoReply(payload)
	default:
		r.log.Warnw("handle_ipv4_control: unrecognized control payload", "type", fmt.Sprintf("%T", pkt.Payload))
	}
}

func (r *Router) replyEcho(pkt netpacket.IPv4Packet, req icmp.EchoRequest) {
	reply := icmp.EchoAck(req, pkt.Dst, pkt.Src)
	r.device.Bus.Observe(eventbus.Event{Kind: eventbus.Icmp, Source: r.hostname, SubKind: eventbus.IcmpEchoReplySent, Object: reply})
	r.engine.AcceptFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: reply}, nil)
}

func (r *Router) recvEchoReply(reply icmp.EchoReply) {
	tr, ok := r.pings[reply.ID]
	if !ok {
		return
	}
	tr.received[reply.Seq] = r.sched.Now()
	r.device.Bus.Observe(eventbus.Event{Kind: eventbus.Icmp, Source: r.hostname, SubKind: eventbus.IcmpEchoReplyRecv, Object: reply})
}

// pingTracker accumulates one Ping call's send/receive timestamps.
type pingTracker struct {
	sentAt   map[int]int64
	received map[int]int64
}

// PingStats summarizes one Ping call once its timeout has elapsed. It
// is filled in asynchronously as the
// simulation runs; inspect it only after advancing the scheduler past
// the Ping call's deadline (sent + count probes + timeout).
type PingStats struct {
	Dest     netip.Addr
	Sent     int
	Received int
	RTT      []int64
}

// Ping sends count echo requests spaced 1000 ticks apart toward dst and
// returns a handle whose Received and RTT fields are filled in
// timeoutTicks after the last probe is sent, whether or not every probe
// has been answered by then.
func (r *Router) Ping(dst netip.Addr, count int, timeoutTicks int64) *PingStats {
	r.pingSeq++
	id := r.pingSeq
	tr := &pingTracker{sentAt: make(map[int]int64), received: make(map[int]int64)}
	r.pings[id] = tr

	const probeSpacing = 1000
	for seq := 0; seq < count; seq++ {
		seq := seq
		r.sched.Enqueue(int64(seq)*probeSpacing, func() {
			tr.sentAt[seq] = r.sched.Now()
			pkt := icmp.Echo(r.loopback, dst, id, seq)
			r.device.Bus.Observe(eventbus.Event{Kind: eventbus.Icmp, Source: r.hostname, SubKind: eventbus.IcmpEchoRequestSent, Object: pkt, Message: dst.String()})
			r.engine.AcceptFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}, nil)
		})
	}

	stats := &PingStats{Dest: dst, Sent: count}
	r.sched.Enqueue(int64(count-1)*probeSpacing+timeoutTicks, func() {
		stats.Received = len(tr.received)
		for seq := range count {
			if recvAt, ok := tr.received[seq]; ok {
				stats.RTT = append(stats.RTT, recvAt-tr.sentAt[seq])
			}
		}
		delete(r.pings, id)
	})
	return stats
}
