package topology

import "github.com/routersimlab/netsim/internal/eventbus"

// Device is a router, switch, or server participating in the simulation.
// It exclusively owns its interfaces; routing tables, the forwarding
// engine, and protocol processes are attached by higher-level packages
// (internal/driver) once they are constructed, since those depend on
// Device rather than the other way around.
type Device struct {
	ID       DeviceID
	Hostname string
	Bus      *eventbus.Bus

	Physical map[string]*PhysicalInterface
}

// NewDevice constructs an empty device and registers it.
func NewDevice(registry *Registry, hostname string, clock eventbus.Clock) *Device {
	d := &Device{
		ID:       newDeviceID(),
		Hostname: hostname,
		Bus:      eventbus.NewBus(clock),
		Physical: make(map[string]*PhysicalInterface),
	}
	registry.Register(d)
	return d
}

// AddPhysical creates and attaches a physical interface to the device.
func (d *Device) AddPhysical(name string, loopback bool) *PhysicalInterface {
	p := NewPhysicalInterface(d.ID, name, loopback)
	d.Physical[name] = p
	return p
}

// Logical resolves a "phys.logical"-named interface, e.g. "et1.0".
func (d *Device) Logical(fullName string) (*LogicalInterface, bool) {
	physName, logName, ok := splitFullName(fullName)
	if !ok {
		return nil, false
	}
	phys, ok := d.Physical[physName]
	if !ok {
		return nil, false
	}
	l, ok := phys.Children[logName]
	return l, ok
}

func splitFullName(fullName string) (phys, logical string, ok bool) {
	for i := len(fullName) - 1; i >= 0; i-- {
		if fullName[i] == '.' {
			return fullName[:i], fullName[i+1:], true
		}
	}
	return "", "", false
}
