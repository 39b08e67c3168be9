package driver

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/mplsop"
	"github.com/routersimlab/netsim/internal/routing"
)

// selfNeighbors returns the system IDs r's own self-originated LSP lists
// as reachable neighbors.
func selfNeighbors(t *testing.T, r *Router) []string {
	t.Helper()
	self := r.isisProc.SystemID()
	for _, lsp := range r.isisProc.Database() {
		if lsp.SourceID != self {
			continue
		}
		var out []string
		for _, nr := range lsp.Neighbors {
			out = append(out, nr.SystemID)
		}
		return out
	}
	return nil
}

func contains(ids []string, want string) bool {
	for _, id := range ids {
		if id == want {
			return true
		}
	}
	return false
}

// TestLinkDownDropsDeadNeighborAndActivatesRsvpBypass builds a triangle
// of three routers, signals a link-protected LSP across the cheap r1-r2-r3
// path, brings the protected r2-r3 link down mid-run, and asserts both
// that r2's self-LSP drops r3 as a neighbor and that the bypass LSP
// r2 pre-built around r1 takes over MPLS forwarding for the protected
// label, per spec.md §8 scenario 6.
func TestLinkDownDropsDeadNeighborAndActivatesRsvpBypass(t *testing.T) {
	topo := newTestTopology(t)

	r1, err := topo.AddRouter("r1", "", "et1", "et2")
	require.NoError(t, err)
	r2, err := topo.AddRouter("r2", "", "et1", "et2")
	require.NoError(t, err)
	r3, err := topo.AddRouter("r3", "", "et1", "et2")
	require.NoError(t, err)

	_, err = topo.LinkRouters(r1, r2, 10, 10)
	require.NoError(t, err)
	protected, err := topo.LinkRouters(r2, r3, 10, 10)
	require.NoError(t, err)
	// Expensive enough that r1-r2-r3 (cost 20) beats the direct r1-r3
	// hop (cost 100), so both the primary and the constrained bypass
	// SPF have a real alternate path to route around the protected link.
	_, err = topo.LinkRouters(r1, r3, 10, 100)
	require.NoError(t, err)

	require.NoError(t, topo.IsisEnableAll(""))
	require.NoError(t, topo.IsisStartAll(""))
	require.NoError(t, topo.RsvpStartAll(""))

	var bypassInstalled bool
	r2.Device().Bus.Listen(eventbus.Rsvp, func(evt eventbus.Event) {
		if evt.SubKind == eventbus.RsvpBypassInstalled {
			bypassInstalled = true
		}
	})

	// A Path message is sent once, when the session is created or RSVP
	// starts, and only if the TED already has a path; let IS-IS converge
	// first so the LSP can be signaled.
	topo.RunUntil(60000)
	r1.CreateLsp("protected-r1-r3", r3.Loopback(), true)

	// IS-IS adjacencies, Path/Resv signaling, and the bypass session's
	// own signaling round all need to settle before the failure.
	topo.RunUntil(70000)

	require.True(t, bypassInstalled, "r2 should have pre-built a bypass LSP around the protected r2-r3 link before any failure")
	require.Contains(t, selfNeighbors(t, r2), r3.isisProc.SystemID(), "r2 and r3 should be adjacent before the link goes down")

	var protectedMPLS *routing.Route
	for _, route := range r2.Tables().All(routing.MPLS) {
		if route.LSPName == "protected-r1-r3" && route.Bypass != nil {
			protectedMPLS = route
			break
		}
	}
	require.NotNil(t, protectedMPLS, "r2's transit MPLS route for the protected session should have a bypass route attached")

	protected.Down()
	topo.RunAnother(20000)

	require.False(t, contains(selfNeighbors(t, r2), r3.isisProc.SystemID()),
		"r2's self-LSP must drop r3 as a neighbor once their link goes down")
	require.Contains(t, selfNeighbors(t, r3), r1.isisProc.SystemID(),
		"r3 keeps its unaffected adjacency to r1")

	fib := r2.Tables().BuildFIB()
	entry, ok := fib.LookupMPLS(protectedMPLS.Label)
	require.True(t, ok)
	require.Equal(t, protectedMPLS.Bypass.Interface, entry.Interface,
		"the protected label must now resolve through the bypass interface")
	require.Equal(t, mplsop.Combined, entry.Action.Kind)
}
