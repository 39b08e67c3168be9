package arp

import (
	"net/netip"

	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/topology"
)

// Request emits an ARP request for target out iface, and marks the
// address pending in cache so repeated lookups don't re-issue it.
func Request(cache *Cache, iface *topology.LogicalInterface, target netip.Addr) {
	if cache.Pending(target) {
		return
	}
	cache.MarkPending(target)

	phys := iface.Parent
	if phys.Link == nil {
		return
	}

	var local netip.Addr
	if iface.IPv4Address.IsValid() {
		local = iface.IPv4Address.Addr()
	}

	frame := netpacket.Frame{
		Src:  phys.HWAddress,
		Dst:  netpacket.BroadcastMAC,
		Type: netpacket.FrameARP,
		PDU: netpacket.ArpPacket{
			Op:        netpacket.ArpRequest,
			SenderMAC: phys.HWAddress,
			SenderIP:  local,
			TargetIP:  target,
		},
	}
	phys.Link.Send(phys, frame)
}
