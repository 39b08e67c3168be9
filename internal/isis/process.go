// Package isis implements the simulator's IS-IS control plane: P2P
// Level-1 adjacencies, LSP flooding via SRM/SSN pacing, CSNP/PSNP
// database synchronization, and a modified Dijkstra SPF.
package isis

import (
	"math/rand"
	"net/netip"
	"reflect"
	"sort"

	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/iso"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/topology"
)

const (
	helloInterval      = 3000
	partialSNPInterval = 100
	lspInterval        = 100
	spfDebounce        = 200
)

type ifaceConfig struct {
	iface  *topology.LogicalInterface
	active bool
	metric int
	p2p    bool
	bitIdx uint32
}

// Process is one device's IS-IS control plane instance.
type Process struct {
	hostname string
	systemID string
	areaID   string

	bus    *eventbus.Bus
	sched  topology.Scheduler
	tables *routing.Tables
	log    *zap.SugaredLogger
	rng    *rand.Rand

	interfaces map[string]*ifaceConfig
	nextBitIdx uint32

	neighbors map[string]map[string]*Neighbor // iface name -> system id -> neighbor

	db *database

	started    bool
	spfPending bool
}

// NewProcess constructs an IS-IS process for device. seed fixes the
// jitter source so runs remain reproducible.
func NewProcess(device *topology.Device, sched topology.Scheduler, tables *routing.Tables, log *zap.SugaredLogger, seed int64) *Process {
	return &Process{
		hostname:   device.Hostname,
		bus:        device.Bus,
		sched:      sched,
		tables:     tables,
		log:        log.Named("isis"),
		rng:        rand.New(rand.NewSource(seed)),
		interfaces: make(map[string]*ifaceConfig),
		neighbors:  make(map[string]map[string]*Neighbor),
		db:         newDatabase(),
	}
}

// EnableInterface enables IS-IS on iface. A passive interface is
// advertised into the LSP but never forms an adjacency.
func (p *Process) EnableInterface(iface *topology.LogicalInterface, passive bool, metric int, p2p bool) {
	name := iface.FullName()
	p.interfaces[name] = &ifaceConfig{
		iface:  iface,
		active: !passive,
		metric: metric,
		p2p:    p2p,
		bitIdx: p.nextBitIdx,
	}
	p.nextBitIdx++
	p.neighbors[name] = make(map[string]*Neighbor)

	p.bus.Observe(eventbus.Event{
		Kind:    eventbus.Isis,
		Source:  p.hostname,
		Message: "interface enabled: " + name,
	})
}

// Start derives this system's area/system id from any ISO-addressed
// interface (preferring the loopback) and begins the periodic timers.
func (p *Process) Start() {
	if p.started {
		return
	}

	var net iso.Address
	for _, cfg := range p.interfaces {
		if cfg.iface.ISOAddress != "" {
			net = cfg.iface.ISOAddress
			if cfg.iface.Parent.IsLoopback {
				break
			}
		}
	}
	p.areaID = net.AreaID()
	p.systemID = net.SystemID()

	p.refreshLocal()

	p.scheduleHello()
	p.schedulePartialSNP()
	p.scheduleLSP()

	p.bus.Listen(eventbus.LinkState, func(eventbus.Event) {
		p.sched.Enqueue(10, p.refreshLocal)
	})
	p.bus.Listen(eventbus.InterfaceState, func(eventbus.Event) {
		p.sched.Enqueue(10, p.refreshLocal)
	})

	p.started = true
}

// Database returns a snapshot of every known LSP's content, for
// consumption by other processes (RSVP's router-id-indexed TED) that
// need the link-state database without coupling to its flooding
// internals.
func (p *Process) Database() []LSPContent {
	out := make([]LSPContent, 0, len(p.db.entries))
	for _, e := range p.db.entries {
		out = append(out, e.content)
	}
	return out
}

// SystemID returns this process's derived IS-IS system id, once Start
// has run.
func (p *Process) SystemID() string { return p.systemID }

func (p *Process) jitter(base int64) int64 {
	return base - 1 + int64(p.rng.Intn(3))
}

func (p *Process) scheduleHello() {
	p.sendHello()
	p.sched.Enqueue(p.jitter(helloInterval), p.scheduleHello)
}

func (p *Process) schedulePartialSNP() {
	p.sendPartialSNPs()
	p.sched.Enqueue(p.jitter(partialSNPInterval), p.schedulePartialSNP)
}

func (p *Process) scheduleLSP() {
	p.sendLSPs()
	p.sched.Enqueue(p.jitter(lspInterval), p.scheduleLSP)
}

func (p *Process) sendHello() {
	for name, cfg := range p.interfaces {
		if !cfg.active || !cfg.p2p || !cfg.iface.IsUp() {
			continue
		}

		adj := make(map[string]NeighborState, len(p.neighbors[name]))
		for sysID, n := range p.neighbors[name] {
			if n.State == New || n.State == Down {
				n.State = Initializing
			}
			adj[sysID] = n.State
		}

		hello := HelloContent{
			SourceID:    p.systemID,
			AreaID:      p.areaID,
			SourceIP:    cfg.iface.IPv4Address.Addr(),
			Adjacencies: adj,
		}
		p.sendCLNS(cfg.iface, hello)
	}
}

func (p *Process) sendCLNS(iface *topology.LogicalInterface, pdu netpacket.PDU) {
	phys := iface.Parent
	if phys.Link == nil {
		return
	}
	frame := netpacket.Frame{
		Src:  phys.HWAddress,
		Dst:  netpacket.BroadcastMAC,
		Type: netpacket.FrameCLNS,
		PDU:  netpacket.ClnsPacket{PDU: pdu},
	}
	phys.Link.Send(phys, frame)
}

// HandleCLNS implements forwarding.ControlPlane.
func (p *Process) HandleCLNS(sourceIface *topology.LogicalInterface, pdu netpacket.PDU) {
	if sourceIface == nil {
		return
	}
	ifaceName := sourceIface.FullName()

	switch content := pdu.(type) {
	case HelloContent:
		p.processHello(ifaceName, content)
	case CSNPContent:
		p.processCSNP(ifaceName, content)
	case PSNPContent:
		p.processPSNP(ifaceName, content)
	case LSPContent:
		p.processLSP(ifaceName, content)
	default:
		p.log.Warnw("HandleCLNS: unknown PDU type", "iface", ifaceName)
	}
}

func (p *Process) neighbor(ifaceName, systemID string) *Neighbor {
	bucket, ok := p.neighbors[ifaceName]
	if !ok {
		return nil
	}
	n, ok := bucket[systemID]
	if !ok {
		n = &Neighbor{SystemID: systemID, IfaceName: ifaceName, State: New}
		bucket[systemID] = n
	}
	return n
}

func (p *Process) processHello(ifaceName string, hello HelloContent) {
	n := p.neighbor(ifaceName, hello.SourceID)
	if n == nil {
		return
	}
	n.Address = hello.SourceIP

	state, sawUs := hello.Adjacencies[p.systemID]
	if !sawUs || (state != Up && state != Initializing) {
		return
	}

	switch n.State {
	case New:
		n.State = Initializing
	case Initializing:
		n.State = Up
		n.IfaceName = ifaceName
		p.bus.Observe(eventbus.Event{
			Kind:    eventbus.Isis,
			SubKind: eventbus.IsisAdjChange,
			Source:  p.hostname,
			Message: "adjacency up: " + n.SystemID,
			Object:  n,
		})
		p.refreshLocal()
		p.sched.Enqueue(1, func() { p.sendCSNPOn(ifaceName) })
	}
}

func (p *Process) sendCSNPOn(ifaceName string) {
	cfg, ok := p.interfaces[ifaceName]
	if !ok || !cfg.iface.IsUp() {
		return
	}
	p.sendCLNS(cfg.iface, p.buildCSNP())
}

func (p *Process) sendPartialSNPs() {
	for name, cfg := range p.interfaces {
		if !p.hasUpNeighbor(name) {
			continue
		}
		var entries []LSPSummary
		idx := cfg.bitIdx
		for lspID, e := range p.db.index {
			entry := p.db.entries[e]
			if entry.ssn.Has(idx) {
				entries = append(entries, summarize(lspID, entry))
				entry.clearSSN(idx)
			}
		}
		if len(entries) == 0 {
			continue
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].LSPID < entries[j].LSPID })
		if cfg.iface.IsUp() {
			p.sendCLNS(cfg.iface, PSNPContent{SourceID: p.systemID, Entries: entries})
		}
	}
}

func (p *Process) sendLSPs() {
	for _, idx := range p.db.index {
		entry := p.db.entries[idx]
		if entry.srm.Count() == 0 {
			continue
		}
		entry.srm.Traverse(func(bit uint32) bool {
			ifaceName := p.ifaceForBit(bit)
			if ifaceName == "" || !p.hasUpNeighbor(ifaceName) {
				return true
			}
			cfg := p.interfaces[ifaceName]
			if cfg.iface.IsUp() {
				p.sendCLNS(cfg.iface, entry.content)
			}
			return true
		})
	}
}

func (p *Process) ifaceForBit(bit uint32) string {
	for name, cfg := range p.interfaces {
		if cfg.bitIdx == bit {
			return name
		}
	}
	return ""
}

func (p *Process) hasUpNeighbor(ifaceName string) bool {
	for _, n := range p.neighbors[ifaceName] {
		if n.State == Up {
			return true
		}
	}
	return false
}

func summarize(lspID string, e *lspEntry) LSPSummary {
	return LSPSummary{
		LSPID:             lspID,
		SeqNo:             e.content.SeqNo,
		RemainingLifetime: e.remainingLifetime,
		Hostname:          e.content.Hostname,
	}
}

func (p *Process) buildCSNP() CSNPContent {
	var entries []LSPSummary
	for lspID, idx := range p.db.index {
		entries = append(entries, summarize(lspID, p.db.entries[idx]))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].LSPID < entries[j].LSPID })
	return CSNPContent{SourceID: p.systemID, Entries: entries}
}

// processCSNP applies the per-entry CSNP rules, then sets SRM on any LSP
// we hold that the sender did not mention (unless it's an empty
// placeholder with seq 0).
func (p *Process) processCSNP(ifaceName string, csnp CSNPContent) {
	idx := p.interfaces[ifaceName].bitIdx
	seen := make(map[string]bool, len(csnp.Entries))
	for _, entry := range csnp.Entries {
		seen[entry.LSPID] = true
		p.processSNPEntry(idx, entry)
	}

	for lspID, slot := range p.db.index {
		if seen[lspID] {
			continue
		}
		entry := p.db.entries[slot]
		if entry.content.SeqNo > 0 {
			entry.setSRM(idx)
		}
	}
}

func (p *Process) processPSNP(ifaceName string, psnp PSNPContent) {
	idx := p.interfaces[ifaceName].bitIdx
	for _, entry := range psnp.Entries {
		p.processSNPEntry(idx, entry)
	}
}

func (p *Process) processSNPEntry(ifaceIdx uint32, summary LSPSummary) {
	entry, ok := p.db.get(summary.LSPID)
	if !ok {
		placeholder := &lspEntry{content: LSPContent{LSPID: summary.LSPID, SeqNo: 0}}
		p.db.put(summary.LSPID, placeholder)
		placeholder.setSSN(ifaceIdx)
		placeholder.clearSRM(ifaceIdx)
		return
	}

	switch {
	case entry.content.SeqNo == summary.SeqNo:
		entry.clearSRM(ifaceIdx)
	case entry.content.SeqNo > summary.SeqNo:
		entry.setSRM(ifaceIdx)
		entry.clearSSN(ifaceIdx)
	default:
		entry.setSSN(ifaceIdx)
		entry.clearSRM(ifaceIdx)
	}
}

func (p *Process) processLSP(ifaceName string, content LSPContent) {
	if !p.hasUpNeighbor(ifaceName) {
		return
	}
	idx := p.interfaces[ifaceName].bitIdx

	existing, ok := p.db.get(content.LSPID)
	switch {
	case !ok || existing.content.SeqNo < content.SeqNo:
		entry := &lspEntry{content: content, remainingLifetime: defaultLifetime}
		p.db.put(content.LSPID, entry)

		p.bus.Observe(eventbus.Event{
			Kind:    eventbus.Isis,
			SubKind: eventbus.IsisLSPAdded,
			Source:  p.hostname,
			Object:  entry,
			Message: content.LSPID,
		})
		p.scheduleSPF()

		for name, cfg := range p.interfaces {
			if !cfg.active {
				continue
			}
			entry.setSRM(cfg.bitIdx)
			if name != ifaceName {
				entry.clearSSN(cfg.bitIdx)
			}
		}
		entry.clearSRM(idx)
		entry.setSSN(idx)

	case existing.content.SeqNo == content.SeqNo:
		existing.clearSRM(idx)
		existing.setSSN(idx)

	default:
		existing.setSRM(idx)
		existing.clearSSN(idx)
	}
}

func (p *Process) scheduleSPF() {
	if p.spfPending {
		return
	}
	p.spfPending = true
	p.bus.Observe(eventbus.Event{Kind: eventbus.Isis, SubKind: eventbus.IsisSPFPending, Source: p.hostname})
	p.sched.Enqueue(spfDebounce, func() {
		p.spfPending = false
		p.runFullDijkstra()
	})
}

// refreshLocal regenerates this system's self-originated LSP, per
// spec.md §4.E's TLV list, and floods it if anything changed.
func (p *Process) refreshLocal() {
	if !p.started && p.systemID == "" {
		return
	}

	var loopback netip.Addr
	neighbors := make([]NeighborReach, 0)
	addresses := make([]AddrReach, 0)

	for name, cfg := range p.interfaces {
		if cfg.iface.Parent.IsLoopback && cfg.iface.IPv4Address.IsValid() {
			loopback = cfg.iface.IPv4Address.Addr()
		}

		for _, n := range p.neighbors[name] {
			if !cfg.iface.IsUp() {
				if n.State != Down {
					n.State = Down
					p.bus.Observe(eventbus.Event{
						Kind:    eventbus.Isis,
						SubKind: eventbus.IsisAdjChange,
						Source:  p.hostname,
						Message: "adjacency down: " + n.SystemID,
						Object:  n,
					})
				}
				continue
			}
			if n.State != Up {
				continue
			}
			ourIP := cfg.iface.IPv4Address.Addr()
			neighIP := n.Address
			if !neighIP.IsValid() && cfg.iface.IPv4Address.IsValid() {
				neighIP = otherHostOfSlash31(cfg.iface.IPv4Address)
			}
			neighbors = append(neighbors, NeighborReach{
				SystemID:   n.SystemID,
				Metric:     cfg.metric,
				OurIP:      ourIP,
				NeighborIP: neighIP,
			})
		}

		if cfg.iface.IPv4Address.IsValid() {
			network := cfg.iface.IPv4Address.Masked()
			addresses = append(addresses, AddrReach{
				Prefix: network,
				Metric: cfg.metric,
				Up:     cfg.iface.IsUp(),
			})
		}
	}

	sort.Slice(neighbors, func(i, j int) bool { return neighbors[i].SystemID < neighbors[j].SystemID })
	sort.Slice(addresses, func(i, j int) bool { return addresses[i].Prefix.String() < addresses[j].Prefix.String() })

	existing, ok := p.db.get(p.systemID)
	seqNo := 1
	if ok {
		seqNo = existing.content.SeqNo
	}

	newContent := LSPContent{
		SourceID:  p.systemID,
		LSPID:     p.systemID,
		SeqNo:     seqNo,
		Hostname:  p.hostname,
		RouterID:  loopback,
		Neighbors: neighbors,
		Addresses: addresses,
	}

	changed := !ok || contentChanged(existing.content, newContent)
	if !changed {
		return
	}
	newContent.SeqNo = seqNo + 1

	entry := &lspEntry{content: newContent, remainingLifetime: defaultLifetime}
	if ok {
		entry.srm = existing.srm
		entry.ssn = existing.ssn
	}
	p.db.put(p.systemID, entry)

	for _, cfg := range p.interfaces {
		if cfg.active && cfg.iface.IsUp() {
			entry.setSRM(cfg.bitIdx)
		}
	}

	p.scheduleSPF()
}

func contentChanged(a, b LSPContent) bool {
	a.SeqNo, b.SeqNo = 0, 0
	return !reflect.DeepEqual(a, b)
}

func otherHostOfSlash31(p netip.Prefix) netip.Addr {
	addr := p.Addr()
	a4 := addr.As4()
	a4[3] ^= 1
	return netip.AddrFrom4(a4)
}
