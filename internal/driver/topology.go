// Package driver composes the lower-level packages (topology, routing,
// forwarding, arp, isis, rsvp) into the two types a scenario author
// actually touches: Topology, which builds the simulated network, and
// Router, one device's full control plane.
package driver

import (
	"fmt"
	"net/netip"

	"github.com/gobwas/glob"
	"go.uber.org/zap"

	"github.com/routersimlab/netsim/internal/scheduler"
	"github.com/routersimlab/netsim/internal/topology"
)

const defaultCluster = "default"

// Topology owns every device in a simulation run, the shared scheduler,
// and the pools used for automatic loopback/point-to-point addressing.
type Topology struct {
	Name   string
	AreaID string

	registry *topology.Registry
	sched    *scheduler.Scheduler
	log      *zap.SugaredLogger
	seed     int64

	clusters map[string][]*Router

	nextLoopback netip.Addr
	nextP2P      netip.Addr
}

// NewTopology constructs an empty topology. seed fixes the jitter source
// every device's protocol processes draw from, so repeated runs of the
// same scenario produce identical event traces.
func NewTopology(name, areaID string, log *zap.SugaredLogger, seed int64) *Topology {
	return &Topology{
		Name:         name,
		AreaID:       areaID,
		registry:     topology.NewRegistry(),
		sched:        scheduler.New(scheduler.WithSeed(seed), scheduler.WithLog(log)),
		log:          log,
		seed:         seed,
		clusters:     map[string][]*Router{defaultCluster: nil},
		nextLoopback: netip.MustParseAddr("192.168.50.1"),
		nextP2P:      netip.MustParseAddr("100.65.0.0"),
	}
}

// Scheduler returns the shared scheduler, for callers that need to
// enqueue scenario-level callbacks alongside protocol timers.
func (t *Topology) Scheduler() *scheduler.Scheduler { return t.sched }

func (t *Topology) allocLoopback() netip.Addr {
	addr := t.nextLoopback
	t.nextLoopback = t.nextLoopback.Next()
	return addr
}

// allocP2P returns the two host addresses of the next free /31.
func (t *Topology) allocP2P() (a, b netip.Addr) {
	a = t.nextP2P
	b = a.Next()
	t.nextP2P = b.Next()
	return a, b
}

// AddRouter constructs a router with an auto-allocated loopback address
// and the given physical interfaces pre-created, and registers it under
// clusterName (creating the cluster if needed).
func (t *Topology) AddRouter(hostname, clusterName string, interfaceNames ...string) (*Router, error) {
	if clusterName == "" {
		clusterName = defaultCluster
	}
	loopback := t.allocLoopback()
	r, err := newRouter(t.registry, t.sched, hostname, loopback, t.AreaID, t.log, t.seed)
	if err != nil {
		return nil, fmt.Errorf("driver: add router %s: %w", hostname, err)
	}
	for _, name := range interfaceNames {
		r.AddPhysicalInterface(name)
	}
	t.clusters[clusterName] = append(t.clusters[clusterName], r)
	t.log.Infow("added router", "hostname", hostname, "cluster", clusterName, "loopback", loopback)
	return r, nil
}

// LinkRouters connects the first free, non-loopback physical interface
// on each router with a fresh auto-allocated /31, and gives each side a
// logical interface named "<phys>.0". The returned Link lets a caller
// schedule a later topology change (e.g. Down, for a mid-run failure).
func (t *Topology) LinkRouters(r1, r2 *Router, latencyMs int64, teMetric int) (*topology.Link, error) {
	p1 := r1.firstFreePhysical()
	if p1 == nil {
		return nil, fmt.Errorf("driver: %s has no free physical interface", r1.Hostname())
	}
	p2 := r2.firstFreePhysical()
	if p2 == nil {
		return nil, fmt.Errorf("driver: %s has no free physical interface", r2.Hostname())
	}

	addr1, addr2 := t.allocP2P()
	link := topology.NewLink(t.sched, p1, p2, r1.device.Bus, r2.device.Bus, latencyMs)
	link.Up()

	l1 := p1.AddLogical("0")
	l1.IPv4Address = netip.PrefixFrom(addr1, 31)
	l1.TEMetric = teMetric
	l2 := p2.AddLogical("0")
	l2.IPv4Address = netip.PrefixFrom(addr2, 31)
	l2.TEMetric = teMetric

	t.log.Infow("linked routers", "r1", r1.Hostname(), "r2", r2.Hostname(), "latency_ms", latencyMs)
	return link, nil
}

// clusterMembers returns every router in clusters whose name matches
// pattern (a glob, e.g. "pop-*"), or every known router if pattern is
// empty.
func (t *Topology) clusterMembers(pattern string) ([]*Router, error) {
	if pattern == "" {
		var all []*Router
		for _, members := range t.clusters {
			all = append(all, members...)
		}
		return all, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("driver: bad cluster pattern %q: %w", pattern, err)
	}
	var out []*Router
	for name, members := range t.clusters {
		if g.Match(name) {
			out = append(out, members...)
		}
	}
	return out, nil
}

// IsisEnableAll enables IS-IS (passive on loopbacks) on every interface
// of every router in clusters matching pattern.
func (t *Topology) IsisEnableAll(pattern string) error {
	members, err := t.clusterMembers(pattern)
	if err != nil {
		return err
	}
	for _, r := range members {
		r.enableIsisOnAllInterfaces()
	}
	return nil
}

// IsisStartAll starts the IS-IS process on every router in clusters
// matching pattern.
func (t *Topology) IsisStartAll(pattern string) error {
	members, err := t.clusterMembers(pattern)
	if err != nil {
		return err
	}
	for _, r := range members {
		r.StartIsis()
	}
	return nil
}

// RsvpStartAll starts the RSVP process on every router in clusters
// matching pattern.
func (t *Topology) RsvpStartAll(pattern string) error {
	members, err := t.clusterMembers(pattern)
	if err != nil {
		return err
	}
	for _, r := range members {
		r.StartRsvp()
	}
	return nil
}

// RunUntil advances the simulation to tick.
func (t *Topology) RunUntil(tick int64) { t.sched.RunUntil(tick) }

// RunAnother advances the simulation by delta ticks from wherever it
// currently stands.
func (t *Topology) RunAnother(delta int64) { t.sched.RunAnother(delta) }

// Schedule enqueues fn to run after delay ticks, for scenario-level
// orchestration (bringing a link down mid-run, issuing a ping at a
// specific tick).
func (t *Topology) Schedule(delay int64, fn func()) { t.sched.Enqueue(delay, fn) }

// Now returns the simulation's current virtual time.
func (t *Topology) Now() int64 { return t.sched.Now() }
