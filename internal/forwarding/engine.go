// Package forwarding implements the packet forwarding engine: frame
// ingress/dispatch, FIB-driven IPv4 and MPLS forwarding, and handoff to
// the ARP and control-plane collaborators.
package forwarding

import (
	"net/netip"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/arp"
	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/icmp"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/topology"
)

// ControlPlane is the device-level collaborator the engine hands
// inspectable and control-destined traffic to. internal/isis and
// internal/rsvp implement the pieces of it that concern them; a device
// with neither enabled can pass a no-op implementation.
type ControlPlane interface {
	HandleCLNS(sourceIface *topology.LogicalInterface, pdu netpacket.PDU)
	HandleIPv4Control(sourceIface *topology.LogicalInterface, pkt netpacket.IPv4Packet)
}

// Engine is the per-device packet forwarding engine. It holds no routes
// itself: FIB is rebuilt externally (routing.Tables.BuildFIB, called by
// internal/driver on every RouteChange) and handed in via SetFIB.
type Engine struct {
	Device   *topology.Device
	Arp      *arp.Cache
	Control  ControlPlane
	log      *zap.SugaredLogger

	fib *routing.FIB

	pendingARP map[netip.Addr][]func(mac [6]byte)
}

// NewEngine constructs a forwarding engine for device.
func NewEngine(device *topology.Device, cache *arp.Cache, control ControlPlane, log *zap.SugaredLogger) *Engine {
	return &Engine{
		Device:     device,
		Arp:        cache,
		Control:    control,
		log:        log,
		fib:        routing.NewFIB(),
		pendingARP: make(map[netip.Addr][]func(mac [6]byte)),
	}
}

// SetFIB installs a freshly rebuilt FIB, replacing whatever was there.
func (e *Engine) SetFIB(fib *routing.FIB) {
	e.fib = fib
}

// AcceptFrame is the ingress point for frames originated by the local
// control plane (not received over a link).
func (e *Engine) AcceptFrame(frame netpacket.Frame, destIface *topology.LogicalInterface) {
	e.Device.Bus.Observe(eventbus.Event{
		Kind:    eventbus.PacketSend,
		Source:  e.Device.Hostname,
		SubKind: localSendSubKind,
		Object:  frame,
	})
	e.ProcessFrame(frame, nil, true, destIface)
}

type localSend struct{}

var localSendSubKind = localSend{}

// SendVia sends pkt out iface toward nextHop directly, bypassing the
// FIB's longest-prefix match entirely. internal/rsvp uses this to follow
// an explicitly computed route (the ERO, or a bypass detour around a
// protected link) that the ordinary FIB's best path would not take.
func (e *Engine) SendVia(iface *topology.LogicalInterface, nextHop netip.Addr, pkt netpacket.IPv4Packet) {
	e.Device.Bus.Observe(eventbus.Event{
		Kind:    eventbus.PacketSend,
		Source:  e.Device.Hostname,
		SubKind: localSendSubKind,
		Object:  pkt,
	})
	frame := netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}
	e.sendWithResolution(nextHop, netpacket.FrameIPv4, frame, iface)
}

// ProcessFrame dispatches frame by type, per spec.md §4.D.
func (e *Engine) ProcessFrame(frame netpacket.Frame, sourceIface *topology.LogicalInterface, fromSelf bool, destIface *topology.LogicalInterface) {
	switch frame.Type {
	case netpacket.FrameIPv4:
		e.processIPv4(frame.PDU.(netpacket.IPv4Packet), sourceIface, fromSelf)
	case netpacket.FrameMPLSUcast:
		e.processMPLS(frame.PDU.(netpacket.MPLSPacket), sourceIface)
	case netpacket.FrameARP:
		e.processARP(frame.PDU.(netpacket.ArpPacket), sourceIface)
	case netpacket.FrameCLNS:
		if e.Control != nil {
			pdu := frame.PDU
			if cl, ok := pdu.(netpacket.ClnsPacket); ok {
				pdu = cl.PDU
			}
			e.Control.HandleCLNS(sourceIface, pdu)
		}
	default:
		e.log.Warnw("process_frame: unhandled frame type", "type", frame.Type)
	}
}

func (e *Engine) processIPv4(pkt netpacket.IPv4Packet, sourceIface *topology.LogicalInterface, fromSelf bool) {
	if pkt.RouterAlert && !fromSelf {
		if e.Control != nil {
			e.Control.HandleIPv4Control(sourceIface, pkt)
		}
		return
	}

	entry, ok := e.fib.LookupIPv4(pkt.Dst)
	if !ok {
		e.log.Warnw("process_frame: IPv4 FIB miss", "dst", pkt.Dst)
		e.sendUnreachable(pkt, icmp.NetworkUnreachable)
		return
	}

	if pkt.TTL > 0 {
		pkt.TTL--
	}

	e.applyIPv4Action(entry, pkt, fromSelf)
}

func (e *Engine) applyIPv4Action(entry *routing.FIBEntry, pkt netpacket.IPv4Packet, fromSelf bool) {
	switch entry.Action.Kind {
	case mplsop.Push, mplsop.Swap, mplsop.Pop, mplsop.Combined:
		stack := entry.Action.Apply(nil)
		mplsFrame := netpacket.Frame{Type: netpacket.FrameMPLSUcast, PDU: netpacket.MPLSPacket{Labels: stack, Inner: pkt}}
		e.sendWithResolution(resolveNextHop(entry.NextHopIP, pkt.Dst, entry.Interface), netpacket.FrameMPLSUcast, mplsFrame, entry.Interface)

	case mplsop.Forward:
		nextHop := resolveNextHop(entry.NextHopIP, pkt.Dst, entry.Interface)
		frame := netpacket.Frame{Type: netpacket.FrameIPv4, PDU: pkt}
		e.sendWithResolution(nextHop, netpacket.FrameIPv4, frame, entry.Interface)

	case mplsop.Control:
		if fromSelf {
			panic("forwarding: CONTROL action reached from a self-originated packet")
		}
		if e.Control != nil {
			e.Control.HandleIPv4Control(entry.Interface, pkt)
		}

	case mplsop.Reject:
		e.sendUnreachable(pkt, icmp.DestinationUnreachable)

	default:
		e.log.Warnw("process_frame: unhandled FIB action", "kind", entry.Action.Kind)
	}
}

// resolveNextHop prefers the route's explicit next hop; otherwise, if
// dst falls within the egress interface's own subnet, the destination
// itself is the next hop (directly connected).
func resolveNextHop(explicit, dst netip.Addr, iface *topology.LogicalInterface) netip.Addr {
	if explicit.IsValid() {
		return explicit
	}
	if iface != nil && iface.IPv4Address.IsValid() && iface.IPv4Address.Contains(dst) {
		return dst
	}
	return netip.Addr{}
}

func (e *Engine) processMPLS(pkt netpacket.MPLSPacket, sourceIface *topology.LogicalInterface) {
	top, ok := pkt.TopLabel()
	if !ok {
		e.log.Warnw("process_frame: MPLS packet with empty label stack")
		return
	}

	entry, hit := e.fib.LookupMPLS(top)
	if !hit {
		if top == mplsop.ImplicitNull {
			e.popAndRecurseIPv4(pkt, sourceIface)
			return
		}
		e.log.Warnw("process_frame: MPLS FIB miss", "label", top)
		return
	}

	newStack := entry.Action.Apply(pkt.Labels)
	if len(newStack) > 0 {
		frame := netpacket.Frame{Type: netpacket.FrameMPLSUcast, PDU: netpacket.MPLSPacket{Labels: newStack, Inner: pkt.Inner}}
		nextHop := resolveNextHop(entry.NextHopIP, netip.Addr{}, entry.Interface)
		e.sendWithResolution(nextHop, netpacket.FrameMPLSUcast, frame, entry.Interface)
		return
	}

	if inner, ok := pkt.Inner.(netpacket.IPv4Packet); ok {
		nextHop := resolveNextHop(entry.NextHopIP, inner.Dst, entry.Interface)
		frame := netpacket.Frame{Type: netpacket.FrameIPv4, PDU: inner}
		e.sendWithResolution(nextHop, netpacket.FrameIPv4, frame, entry.Interface)
	}
}

func (e *Engine) popAndRecurseIPv4(pkt netpacket.MPLSPacket, sourceIface *topology.LogicalInterface) {
	remaining := netpacket.MPLSPacket{Labels: pkt.Labels[1:], Inner: pkt.Inner}
	if len(remaining.Labels) > 0 {
		e.processMPLS(remaining, sourceIface)
		return
	}
	if inner, ok := pkt.Inner.(netpacket.IPv4Packet); ok {
		e.processIPv4(inner, sourceIface, false)
	}
}

func (e *Engine) processARP(pkt netpacket.ArpPacket, sourceIface *topology.LogicalInterface) {
	switch pkt.Op {
	case netpacket.ArpRequest:
		if sourceIface == nil || !sourceIface.IPv4Address.IsValid() || sourceIface.IPv4Address.Addr() != pkt.TargetIP {
			return
		}
		e.Arp.Set(pkt.SenderIP, pkt.SenderMAC)
		reply := netpacket.Frame{
			Src:  sourceIface.HWAddress(),
			Dst:  pkt.SenderMAC,
			Type: netpacket.FrameARP,
			PDU: netpacket.ArpPacket{
				Op:        netpacket.ArpReply,
				SenderMAC: sourceIface.HWAddress(),
				SenderIP:  pkt.TargetIP,
				TargetMAC: pkt.SenderMAC,
				TargetIP:  pkt.SenderIP,
			},
		}
		if sourceIface.Parent.Link != nil {
			sourceIface.Parent.Link.Send(sourceIface.Parent, reply)
		}
	case netpacket.ArpReply:
		e.Arp.Set(pkt.SenderIP, pkt.SenderMAC)
		e.resolveARP(pkt.SenderIP, pkt.SenderMAC)
	}
}

// sendWithResolution implements spec.md §4.D's "send with next-hop
// resolution": resolve nextHop's MAC via the ARP cache, queuing the send
// and issuing a request on miss.
func (e *Engine) sendWithResolution(nextHop netip.Addr, frameType netpacket.FrameType, frame netpacket.Frame, iface *topology.LogicalInterface) {
	if iface == nil || !nextHop.IsValid() {
		e.log.Warnw("send_with_resolution: no usable next hop", "next_hop", nextHop)
		return
	}

	if mac, ok := e.Arp.Lookup(nextHop); ok {
		frame.Src = iface.HWAddress()
		frame.Dst = mac
		if iface.Parent.Link != nil {
			iface.Parent.Link.Send(iface.Parent, frame)
		}
		return
	}

	e.pendingARP[nextHop] = append(e.pendingARP[nextHop], func(mac [6]byte) {
		frame.Src = iface.HWAddress()
		frame.Dst = mac
		if iface.Parent.Link != nil {
			iface.Parent.Link.Send(iface.Parent, frame)
		}
	})
	arp.Request(e.Arp, iface, nextHop)
}

func (e *Engine) resolveARP(addr netip.Addr, mac [6]byte) {
	pending := e.pendingARP[addr]
	delete(e.pendingARP, addr)
	for _, send := range pending {
		send(mac)
	}
}

func (e *Engine) sendUnreachable(orig netpacket.IPv4Packet, kind icmp.Kind) {
	local := orig.Dst
	entry, ok := e.fib.LookupIPv4(orig.Src)
	if !ok {
		return
	}
	msg := icmp.Unreachable(orig, local, kind)
	e.Device.Bus.Observe(eventbus.Event{
		Kind:    eventbus.Icmp,
		Source:  e.Device.Hostname,
		SubKind: eventbus.IcmpUnreachableSent,
		Object:  msg,
		Message: kind.String(),
	})
	nextHop := resolveNextHop(entry.NextHopIP, orig.Src, entry.Interface)
	frame := netpacket.Frame{Type: netpacket.FrameIPv4, PDU: msg}
	e.sendWithResolution(nextHop, netpacket.FrameIPv4, frame, entry.Interface)
}
