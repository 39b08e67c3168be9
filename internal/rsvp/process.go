// Package rsvp implements the simulator's RSVP-TE control plane: Path/Resv
// signaling over a constrained IS-IS-derived TED, label allocation, and
// link-protection bypass LSP creation.
package rsvp

import (
	"fmt"
	"math/rand"
	"net/netip"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/forwarding"
	"github.com/routersimlab/netsim/internal/isis"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/topology"
)

// IsisSource is the TED this process computes constrained paths over. It
// is satisfied structurally by *isis.Process, keeping this package
// decoupled from IS-IS's flooding-state internals.
type IsisSource interface {
	Database() []isis.LSPContent
	SystemID() string
}

// Scheduler is the narrow scheduling dependency this process requires,
// satisfied by *scheduler.Scheduler.
type Scheduler interface {
	Enqueue(delay int64, callback func())
}

// Process is one router's RSVP-TE control plane instance.
type Process struct {
	hostname string
	sourceIP netip.Addr

	device *topology.Device
	bus    *eventbus.Bus
	sched  Scheduler
	engine *forwarding.Engine
	tables *routing.Tables
	isis   IsisSource
	log    *zap.SugaredLogger
	rng    *rand.Rand

	started      bool
	nextID       int
	currentLabel mplsop.Label

	sessions  []*session
	pathState map[string]*psb
	resvState map[string]*rsb
}

// NewProcess constructs an RSVP-TE process for device, signaling from
// sourceIP and computing paths over isisSrc's link-state database. seed
// fixes the label-allocation and startup-jitter source.
func NewProcess(device *topology.Device, engine *forwarding.Engine, sched Scheduler, tables *routing.Tables, isisSrc IsisSource, sourceIP netip.Addr, log *zap.SugaredLogger, seed int64) *Process {
	rng := rand.New(rand.NewSource(seed))
	return &Process{
		hostname:     device.Hostname,
		sourceIP:     sourceIP,
		device:       device,
		bus:          device.Bus,
		sched:        sched,
		engine:       engine,
		tables:       tables,
		isis:         isisSrc,
		log:          log.Named("rsvp"),
		rng:          rng,
		currentLabel: mplsop.Label(100 + rng.Intn(401)),
		pathState:    make(map[string]*psb),
		resvState:    make(map[string]*rsb),
	}
}

// Start schedules the one-shot initial path refresh. Per spec.md, this
// process never periodically refreshes a Path once its PSB exists; the
// first send is the only send.
func (p *Process) Start() {
	if p.started {
		return
	}
	p.started = true
	p.sched.Enqueue(int64(p.rng.Intn(6)), p.refreshPaths)
}

// CreateSession creates (or returns the existing) session named name.
// protectedIP, when valid, marks this as a bypass session: its ERO
// computation excludes that address.
func (p *Process) CreateSession(destIP netip.Addr, name string, linkProtection bool, protectedIP netip.Addr) *session {
	for _, s := range p.sessions {
		if s.name == name {
			p.log.Infow("create_session: already have session, reusing", "name", name)
			return s
		}
	}

	p.nextID++
	s := &session{
		destIP:      destIP,
		sourceIP:    p.sourceIP,
		name:        name,
		tunnelID:    p.nextID,
		lspID:       p.nextID,
		localRepair: linkProtection,
		protectedIP: protectedIP,
	}
	p.sessions = append(p.sessions, s)

	p.refreshPaths()
	return s
}

func (p *Process) refreshPaths() {
	if !p.started {
		return
	}
	for _, s := range p.sessions {
		p.refreshSessionPath(s)
	}
}

// refreshSessionPath sends the initial Path message for s, once. This
// process doesn't yet implement periodic Path refresh: if a PSB already
// exists for this session, there is nothing to do.
func (p *Process) refreshSessionPath(s *session) {
	key := pathKey(s.destIP, s.tunnelID, s.sourceIP, s.lspID)
	if _, exists := p.pathState[key]; exists {
		return
	}

	ero := p.shortestPath(s.destIP, s.protectedIP)
	if len(ero) == 0 {
		p.log.Warnw("refresh_paths: no path available", "name", s.name, "dest", s.destIP)
		return
	}

	route, ok := p.tables.LookupIP(ero[0], routing.Inet)
	if !ok || route.Interface == nil {
		p.log.Warnw("refresh_paths: no route to first hop", "name", s.name, "hop", ero[0])
		return
	}
	ourIP := route.Interface.IPv4Address.Addr()

	msg := PathMessage{
		Session:       Session{DestIP: s.destIP, SourceIP: s.sourceIP, TunnelID: s.tunnelID},
		SenderAddress: s.sourceIP,
		SenderLSPID:   s.lspID,
		Name:          s.name,
		LocalRepair:   s.localRepair,
		ERO:           append([]netip.Addr(nil), ero...),
		Hop:           ourIP,
		RecordRoute:   []netip.Addr{ourIP},
	}

	p.bus.Observe(eventbus.Event{
		Kind:    eventbus.Rsvp,
		Source:  p.hostname,
		SubKind: eventbus.RsvpSendPath,
		Object:  msg,
		Message: "send path: " + s.name,
	})

	p.pathState[key] = &psb{
		hop:           ourIP,
		destIP:        s.destIP,
		sourceIP:      s.sourceIP,
		tunnelID:      s.tunnelID,
		senderAddress: s.sourceIP,
		senderLSPID:   s.lspID,
		name:          s.name,
		localRepair:   s.localRepair,
		bypass:        s.isBypass(),
		bypassedIP:    s.protectedIP,
	}

	p.sendExplicit(netpacket.IPv4Packet{
		Src:         s.sourceIP,
		Dst:         s.destIP,
		TTL:         64,
		RouterAlert: true,
		Protocol:    netpacket.ProtoRSVP,
		Payload:     msg,
	}, route.Interface, ero[0])
}

// HandleIPv4Control implements forwarding.ControlPlane's RSVP half: a
// router-alert IPv4 packet carrying a Path or Resv payload.
func (p *Process) HandleIPv4Control(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet) {
	switch msg := pkt.Payload.(type) {
	case PathMessage:
		p.processPath(sourceIface, pkt, msg)
	case ResvMessage:
		p.processResv(sourceIface, pkt, msg)
	default:
		p.log.Warnw("handle_ipv4_control: unrecognized RSVP payload")
	}
}

func (p *Process) processPath(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet, msg PathMessage) {
	p.bus.Observe(eventbus.Event{
		Kind:    eventbus.Rsvp,
		Source:  p.hostname,
		SubKind: eventbus.RsvpProcessPath,
		Object:  msg,
		Message: "process path: " + msg.Name,
	})

	if pkt.Dst == p.sourceIP {
		p.respondResv(msg)
		return
	}

	p.pathState[msg.Key()] = &psb{
		hop:           msg.Hop,
		destIP:        msg.Session.DestIP,
		sourceIP:      msg.Session.SourceIP,
		tunnelID:      msg.Session.TunnelID,
		senderAddress: msg.SenderAddress,
		senderLSPID:   msg.SenderLSPID,
		name:          msg.Name,
		localRepair:   msg.LocalRepair,
	}

	if len(msg.ERO) == 0 {
		p.log.Warnw("process_path: empty ERO", "name", msg.Name)
		return
	}

	head, rest := msg.ERO[0], msg.ERO[1:]
	if sourceIface == nil || !sourceIface.IPv4Address.IsValid() || sourceIface.IPv4Address.Addr() != head {
		p.log.Warnw("process_path: did not find ourselves in the ERO", "name", msg.Name, "expected", head)
		return
	}

	var route *routing.Route
	var ok bool
	if len(rest) > 0 {
		route, ok = p.tables.LookupIP(rest[0], routing.Inet)
	} else {
		route, ok = p.tables.LookupIP(pkt.Dst, routing.Inet)
	}
	if !ok || route.Interface == nil {
		p.log.Warnw("process_path: no downstream route", "name", msg.Name)
		return
	}

	ourIP := route.Interface.IPv4Address.Addr()
	nextHop := pkt.Dst
	if len(rest) > 0 {
		nextHop = rest[0]
	}
	msg.ERO = rest
	msg.Hop = ourIP
	msg.RecordRoute = append(append([]netip.Addr(nil), msg.RecordRoute...), ourIP)

	p.sendExplicit(netpacket.IPv4Packet{
		Src:         pkt.Src,
		Dst:         pkt.Dst,
		TTL:         pkt.TTL,
		RouterAlert: true,
		Protocol:    netpacket.ProtoRSVP,
		Payload:     msg,
	}, route.Interface, nextHop)
}

func (p *Process) respondResv(msg PathMessage) {
	hop := p.sourceIP
	if route, ok := p.tables.LookupIP(msg.Hop, routing.Inet); ok && route.Interface != nil && route.Interface.IPv4Address.IsValid() {
		hop = route.Interface.IPv4Address.Addr()
	}
	resv := ResvMessage{
		Session:       msg.Session,
		FilterAddress: msg.SenderAddress,
		FilterLSPID:   msg.SenderLSPID,
		Label:         mplsop.ImplicitNull,
		Hop:           hop,
	}

	p.sendRouted(netpacket.IPv4Packet{
		Src:         p.sourceIP,
		Dst:         msg.Hop,
		TTL:         64,
		RouterAlert: true,
		Protocol:    netpacket.ProtoRSVP,
		Payload:     resv,
	})
}

func (p *Process) processResv(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet, msg ResvMessage) {
	rsbEntry, ok := p.resvState[msg.Key()]
	if !ok {
		rsbEntry = &rsb{
			destIP:        msg.Session.DestIP,
			tunnelID:      msg.Session.TunnelID,
			filterAddress: msg.FilterAddress,
			filterLSPID:   msg.FilterLSPID,
			hop:           msg.Hop,
		}
		p.resvState[msg.Key()] = rsbEntry
	}

	p.bus.Observe(eventbus.Event{
		Kind:    eventbus.Rsvp,
		Source:  p.hostname,
		SubKind: eventbus.RsvpProcessResv,
		Object:  msg,
		Message: "process resv",
	})

	psbEntry, ok := p.pathState[msg.Key()]
	if !ok {
		p.log.Infow("process_resv: no corresponding PSB", "key", msg.Key())
		return
	}
	psbEntry.label = msg.Label

	var action mplsop.Action
	if msg.Label == mplsop.ImplicitNull {
		action = mplsop.NewPop()
	} else {
		action = mplsop.NewSwap(msg.Label)
	}

	route, ok := p.tables.LookupIP(psbEntry.hop, routing.Inet)
	if !ok || route.Interface == nil {
		p.log.Warnw("process_resv: no route to upstream hop", "hop", psbEntry.hop)
		return
	}
	ourIP := route.Interface.IPv4Address.Addr()
	if sourceIface != nil && sourceIface.IPv4Address.IsValid() {
		msg.RecordRoute = append(append([]netip.Addr(nil), msg.RecordRoute...), sourceIface.IPv4Address.Addr())
	}

	if msg.FilterAddress == p.sourceIP {
		p.installIngressRoute(psbEntry, msg, route)
	} else {
		if ourIP == psbEntry.hop {
			p.log.Errorw("process_resv: routing loop detected", "name", psbEntry.name, "hop", psbEntry.hop)
			return
		}
		p.forwardResv(psbEntry, msg, route, ourIP, action)
	}

	if psbEntry.localRepair {
		p.maybeCreateBypass(route.Interface, rsbEntry.hop)
	}
}

func (p *Process) installIngressRoute(psbEntry *psb, msg ResvMessage, route *routing.Route) {
	metric := int(routing.Rsvp)
	if psbEntry.bypass {
		metric++
	}

	newRoute := &routing.Route{
		Prefix:    netip.PrefixFrom(psbEntry.destIP, psbEntry.destIP.BitLen()),
		Kind:      routing.Rsvp,
		Interface: route.Interface,
		NextHopIP: msg.Hop,
		Metric:    metric,
		Action:    mplsop.NewPush(msg.Label),
		LSPName:   psbEntry.name,
	}
	psbEntry.route = newRoute

	if !psbEntry.bypass {
		p.tables.AddRoute(newRoute, routing.RsvpT, p.hostname)
		return
	}

	n := p.tables.SetBypass(routing.RsvpT, psbEntry.bypassedIP, newRoute)
	n += p.tables.SetBypass(routing.MPLS, psbEntry.bypassedIP, newRoute)
	if n > 0 {
		p.bus.Observe(eventbus.Event{
			Kind:    eventbus.Rsvp,
			Source:  p.hostname,
			SubKind: eventbus.RsvpBypassInstalled,
			Object:  newRoute,
			Message: "bypass installed: " + psbEntry.name,
		})
	}
	for _, other := range p.pathState {
		if other.bypass && newRoute.NextHopIP == other.bypassedIP {
			newRoute.Bypass = other.route
		}
	}
}

func (p *Process) forwardResv(psbEntry *psb, msg ResvMessage, route *routing.Route, ourIP netip.Addr, action mplsop.Action) {
	nextLabel := p.currentLabel
	p.currentLabel += 10

	out := route.Interface
	if down, ok := p.tables.LookupIP(msg.Hop, routing.Inet); ok && down.Interface != nil {
		out = down.Interface
	}
	mplsRoute := &routing.Route{
		Label:     nextLabel,
		Kind:      routing.Rsvp,
		Interface: out,
		NextHopIP: msg.Hop,
		Action:    action,
		LSPName:   psbEntry.name,
	}
	for _, other := range p.pathState {
		if other.bypass && mplsRoute.NextHopIP == other.bypassedIP {
			mplsRoute.Bypass = other.route
		}
	}
	p.tables.AddRoute(mplsRoute, routing.MPLS, p.hostname)

	p.bus.Observe(eventbus.Event{
		Kind:    eventbus.Rsvp,
		Source:  p.hostname,
		SubKind: eventbus.RsvpReservedLabel,
		Object:  nextLabel,
		Message: "reserved label: " + psbEntry.name,
	})

	msg.Label = nextLabel
	msg.Hop = ourIP

	if psbEntry.hop == ourIP {
		p.log.Warnw("process_resv: invalid self-resv", "name", psbEntry.name)
		return
	}

	p.sendExplicit(netpacket.IPv4Packet{
		Src:         ourIP,
		Dst:         psbEntry.hop,
		TTL:         64,
		RouterAlert: true,
		Protocol:    netpacket.ProtoRSVP,
		Payload:     msg,
	}, route.Interface, psbEntry.hop)
}

// maybeCreateBypass schedules bypass-LSP creation around nextHopIP,
// unless we are already directly attached to it (in which case there is
// no link left to protect from here).
func (p *Process) maybeCreateBypass(protectedIface *topology.LogicalInterface, nextHopIP netip.Addr) {
	for _, phys := range p.device.Physical {
		for _, logical := range phys.Children {
			if logical.IPv4Address.IsValid() && logical.IPv4Address.Addr() == nextHopIP {
				return
			}
		}
	}
	p.sched.Enqueue(0, func() { p.createBypassLSP(protectedIface, nextHopIP) })
}

// createBypassLSP finds the router whose own interface carries
// protectedIP and starts a link-protection session around it.
func (p *Process) createBypassLSP(protectedIface *topology.LogicalInterface, protectedIP netip.Addr) {
	var routerID netip.Addr
	for _, lsp := range p.isis.Database() {
		for _, nr := range lsp.Neighbors {
			if nr.OurIP == protectedIP {
				routerID = lsp.RouterID
			}
		}
	}
	if !routerID.IsValid() {
		p.log.Warnw("create_bypass_lsp: unable to find router for protected ip", "ip", protectedIP)
		return
	}

	name := fmt.Sprintf("bypass->%s (%s)", protectedIP, p.hostname)
	p.CreateSession(routerID, name, true, protectedIP)
}

// sendExplicit sends pkt out iface toward nextHop directly, following an
// explicitly computed route (the ERO, or the reverse hop-by-hop path a
// Path message's sender recorded) rather than the ordinary FIB.
func (p *Process) sendExplicit(pkt netpacket.IPv4Packet, iface *topology.LogicalInterface, nextHop netip.Addr) {
	p.engine.SendVia(iface, nextHop, pkt)
}

// sendRouted hands pkt to the ordinary FIB: used for Resv messages, which
// always travel to a directly-connected previous hop and so need no
// explicit route of their own.
func (p *Process) sendRouted(pkt netpacket.IPv4Packet) {
	p.engine.AcceptFrame(netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}, nil)
}
