package isis

import "net/netip"

// NeighborState is a P2P adjacency's FSM state.
type NeighborState int

const (
	New NeighborState = iota
	Initializing
	Up
	Down
)

func (s NeighborState) String() string {
	switch s {
	case New:
		return "New"
	case Initializing:
		return "Initializing"
	case Up:
		return "Up"
	case Down:
		return "Down"
	default:
		return "Unknown"
	}
}

// Neighbor is a discovered P2P adjacency.
type Neighbor struct {
	SystemID  string
	IfaceName string
	State     NeighborState
	Address   netip.Addr
	Metric    int
	Hostname  string
}
