package topology

import (
	"net/netip"

	"github.com/routersimlab/netsim/internal/iso"
)

// State is the administrative or operational state of an interface.
type State int

const (
	Down State = iota
	Up
)

func (s State) String() string {
	if s == Up {
		return "up"
	}
	return "down"
}

// PhysicalInterface is a device's network-facing port. It owns zero or
// more logical children and, once connected, a Link.
type PhysicalInterface struct {
	Name       string
	HWAddress  MAC
	AdminState State
	OperState  State
	IsLoopback bool

	Device DeviceID

	Link     *Link
	Children map[string]*LogicalInterface
}

// NewPhysicalInterface constructs a physical interface with a freshly
// generated hardware address, administratively up, operationally down
// until a link is attached.
func NewPhysicalInterface(owner DeviceID, name string, loopback bool) *PhysicalInterface {
	return &PhysicalInterface{
		Name:       name,
		HWAddress:  randomMAC(),
		AdminState: Up,
		OperState:  boolState(loopback),
		IsLoopback: loopback,
		Device:     owner,
		Children:   make(map[string]*LogicalInterface),
	}
}

func boolState(up bool) State {
	if up {
		return Up
	}
	return Down
}

// IsUp reports whether the interface is usable: a link must be present
// (unless it is a loopback) and both admin and oper state must be Up.
func (p *PhysicalInterface) IsUp() bool {
	if p.AdminState != Up || p.OperState != Up {
		return false
	}
	if p.IsLoopback {
		return true
	}
	return p.Link != nil
}

// AddLogical creates and attaches a logical interface to this physical
// interface, inheriting its hardware address.
func (p *PhysicalInterface) AddLogical(name string) *LogicalInterface {
	l := &LogicalInterface{
		Name:       name,
		Parent:     p,
		AdminState: Up,
		OperState:  Up,
	}
	p.Children[name] = l
	return l
}

// LogicalInterface carries layer-3 addressing above a physical port.
type LogicalInterface struct {
	Name       string
	Parent     *PhysicalInterface
	AdminState State
	OperState  State

	IPv4Address netip.Prefix
	ISOAddress  iso.Address
	TEMetric    int
}

// IsUp reports whether the logical interface and its parent are both up.
func (l *LogicalInterface) IsUp() bool {
	if l.AdminState != Up || l.OperState != Up {
		return false
	}
	return l.Parent.IsUp()
}

// HWAddress returns the hardware address inherited from the parent
// physical interface.
func (l *LogicalInterface) HWAddress() MAC {
	return l.Parent.HWAddress
}

// FullName returns the conventional "physical.logical" name, e.g. "et1.0".
func (l *LogicalInterface) FullName() string {
	return l.Parent.Name + "." + l.Name
}
