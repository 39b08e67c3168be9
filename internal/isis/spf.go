package isis

import (
	"container/heap"
	"net/netip"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/routing"
	"github.com/routersimlab/netsim/internal/topology"
)

type prefixWinner struct {
	dist     int
	firstHop string
}

type pqItem struct {
	systemID string
	dist     int
}

type priorityQueue []*pqItem

func (pq priorityQueue) Len() int            { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool  { return pq[i].dist < pq[j].dist }
func (pq priorityQueue) Swap(i, j int)       { pq[i], pq[j] = pq[j], pq[i] }
func (pq *priorityQueue) Push(x any)         { *pq = append(*pq, x.(*pqItem)) }
func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// runFullDijkstra recomputes shortest paths over the LSP database and
// publishes the resulting next hops into the IS-IS routing table.
//
// This is a standard priority-queue Dijkstra rather than a literal port
// of the reference implementation's sort-by-source-address sweep: it
// converges in one pass, so there's no need for that version's
// abort-and-retry-next-tick behavior when a neighbor hasn't been
// visited yet.
func (p *Process) runFullDijkstra() {
	p.bus.Observe(eventbus.Event{Kind: eventbus.Isis, SubKind: eventbus.IsisSPFRun, Source: p.hostname})

	dist := map[string]int{p.systemID: 0}
	prev := map[string]string{}
	visited := map[string]bool{}

	pq := &priorityQueue{{systemID: p.systemID, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*pqItem)
		if visited[cur.systemID] {
			continue
		}
		visited[cur.systemID] = true

		entry, ok := p.db.get(cur.systemID)
		if !ok {
			continue
		}
		for _, nr := range entry.content.Neighbors {
			alt := cur.dist + nr.Metric
			if existing, ok := dist[nr.SystemID]; !ok || alt < existing {
				dist[nr.SystemID] = alt
				prev[nr.SystemID] = cur.systemID
				heap.Push(pq, &pqItem{systemID: nr.SystemID, dist: alt})
			}
		}
	}

	firstHop := make(map[string]string, len(dist))
	for sys := range dist {
		if sys == p.systemID {
			continue
		}
		node := sys
		for prev[node] != p.systemID {
			parent, ok := prev[node]
			if !ok {
				break
			}
			node = parent
		}
		firstHop[sys] = node
	}

	best := make(map[netip.Prefix]prefixWinner)

	for sys, d := range dist {
		if sys == p.systemID {
			continue
		}
		entry, ok := p.db.get(sys)
		if !ok {
			continue
		}
		for _, ar := range entry.content.Addresses {
			if !ar.Up {
				continue
			}
			total := d + ar.Metric
			if w, ok := best[ar.Prefix]; !ok || total < w.dist {
				best[ar.Prefix] = prefixWinner{dist: total, firstHop: firstHop[sys]}
			}
		}
	}

	p.updateRoutingTable(best)
}

func (p *Process) updateRoutingTable(best map[netip.Prefix]prefixWinner) {
	selfEntry, ok := p.db.get(p.systemID)
	if !ok {
		return
	}

	routes := make([]*routing.Route, 0, len(best))
	for prefix, w := range best {
		iface, nextHop, ok := p.resolveFirstHop(selfEntry.content, w.firstHop)
		if !ok {
			continue
		}
		routes = append(routes, &routing.Route{
			Prefix:    prefix,
			Kind:      routing.Isis,
			Interface: iface,
			NextHopIP: nextHop,
			Metric:    w.dist,
			AdminCost: 115,
			Action:    mplsop.NewForward(),
		})
	}

	p.tables.SetRoutes(routes, routing.IsisT, p.hostname)
}

// resolveFirstHop finds the local interface and next-hop IP for a
// direct neighbor, via the entry our own LSP carries for it.
func (p *Process) resolveFirstHop(self LSPContent, firstHopSystemID string) (iface *topology.LogicalInterface, nextHop netip.Addr, ok bool) {
	for _, nr := range self.Neighbors {
		if nr.SystemID != firstHopSystemID {
			continue
		}
		for _, cfg := range p.interfaces {
			if cfg.iface.IPv4Address.IsValid() && cfg.iface.IPv4Address.Addr() == nr.OurIP {
				return cfg.iface, nr.NeighborIP, true
			}
		}
	}
	return nil, netip.Addr{}, false
}
