package rsvp

import (
	"container/heap"
	"net/netip"

	"github.com/routersimlab/netsim/internal/isis"
)

type addrPQItem struct {
	addr netip.Addr
	dist int
}

type addrPQ []*addrPQItem

func (pq addrPQ) Len() int           { return len(pq) }
func (pq addrPQ) Less(i, j int) bool { return pq[i].dist < pq[j].dist }
func (pq addrPQ) Swap(i, j int)      { pq[i], pq[j] = pq[j], pq[i] }
func (pq *addrPQ) Push(x any)        { *pq = append(*pq, x.(*addrPQItem)) }
func (pq *addrPQ) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	*pq = old[:n-1]
	return item
}

// shortestPath runs a constrained Dijkstra over the IS-IS link-state
// database, indexed by TE-IP-Router-ID (loopback) rather than system id,
// and returns the ERO as a sequence of per-hop next-hop addresses.
//
// excludeIP, when valid, prunes any edge whose local or neighbor address
// matches it (used to route a bypass LSP around a protected link). A nil
// result means destIP is unreachable or the database hasn't converged
// (a neighbor TLV references a system we don't yet hold an LSP for).
func (p *Process) shortestPath(destIP, excludeIP netip.Addr) []netip.Addr {
	lsps := p.isis.Database()
	bySystemID := make(map[string]isis.LSPContent, len(lsps))
	byRouterID := make(map[netip.Addr]isis.LSPContent, len(lsps))
	for _, lsp := range lsps {
		bySystemID[lsp.SourceID] = lsp
		if lsp.RouterID.IsValid() {
			byRouterID[lsp.RouterID] = lsp
		}
	}

	dist := map[netip.Addr]int{p.sourceIP: 0}
	prev := map[netip.Addr]netip.Addr{}
	visited := map[netip.Addr]bool{}
	converged := true

	pq := &addrPQ{{addr: p.sourceIP, dist: 0}}
	heap.Init(pq)

	for pq.Len() > 0 {
		cur := heap.Pop(pq).(*addrPQItem)
		if visited[cur.addr] {
			continue
		}
		visited[cur.addr] = true

		lsp, ok := byRouterID[cur.addr]
		if !ok {
			continue
		}

		for _, nr := range lsp.Neighbors {
			neighLSP, ok := bySystemID[nr.SystemID]
			if !ok {
				converged = false
				continue
			}
			neighRouterID := neighLSP.RouterID
			if neighRouterID == p.sourceIP {
				continue
			}
			if excludeIP.IsValid() && (nr.NeighborIP == excludeIP || nr.OurIP == excludeIP) {
				continue
			}

			alt := cur.dist + nr.Metric
			if existing, ok := dist[neighRouterID]; !ok || alt < existing {
				dist[neighRouterID] = alt
				prev[neighRouterID] = cur.addr
				heap.Push(pq, &addrPQItem{addr: neighRouterID, dist: alt})
			}
		}
	}

	if !converged {
		return nil
	}
	if _, ok := dist[destIP]; !ok {
		return nil
	}

	var systemPath []netip.Addr
	for at := destIP; at != p.sourceIP; {
		systemPath = append(systemPath, at)
		parent, ok := prev[at]
		if !ok {
			return nil
		}
		at = parent
	}
	for i, j := 0, len(systemPath)-1; i < j; i, j = i+1, j-1 {
		systemPath[i], systemPath[j] = systemPath[j], systemPath[i]
	}

	ero := make([]netip.Addr, 0, len(systemPath))
	from := p.sourceIP
	for _, hopRouterID := range systemPath {
		fromLSP, ok := byRouterID[from]
		if !ok {
			return nil
		}
		found := false
		for _, nr := range fromLSP.Neighbors {
			neighLSP, ok := bySystemID[nr.SystemID]
			if ok && neighLSP.RouterID == hopRouterID {
				ero = append(ero, nr.NeighborIP)
				found = true
				break
			}
		}
		if !found {
			return nil
		}
		from = hopRouterID
	}
	return ero
}
