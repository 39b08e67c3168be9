package topology

import (
	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/netpacket"
)

// Scheduler is the subset of scheduler.Scheduler a Link needs to defer
// state transitions and frame delivery.
type Scheduler interface {
	Enqueue(delay int64, callback func())
}

// Link exclusively owns two physical interface endpoints and models a
// bidirectional, latency-bearing connection between them.
type Link struct {
	A, B       *PhysicalInterface
	ABus, BBus *eventbus.Bus
	LatencyMs  int64
	State      State

	sched Scheduler
}

// NewLink connects a and b. The link starts Down; call Up to bring it
// into service.
func NewLink(sched Scheduler, a, b *PhysicalInterface, aBus, bBus *eventbus.Bus, latencyMs int64) *Link {
	l := &Link{
		A: a, B: b,
		ABus: aBus, BBus: bBus,
		LatencyMs: latencyMs,
		State:     Down,
		sched:     sched,
	}
	a.Link = l
	b.Link = l
	return l
}

// other returns the endpoint and bus opposite the given physical
// interface.
func (l *Link) other(from *PhysicalInterface) (*PhysicalInterface, *eventbus.Bus) {
	if from == l.A {
		return l.B, l.BBus
	}
	return l.A, l.ABus
}

func (l *Link) endpointBus(iface *PhysicalInterface) *eventbus.Bus {
	if iface == l.A {
		return l.ABus
	}
	return l.BBus
}

// Up brings the link into service: the link's own state flips
// immediately, but each endpoint's operational state transitions only
// after latency/2, modeling propagation delay.
func (l *Link) Up() {
	l.State = Up
	l.scheduleEndpointState(l.A, l.ABus, Up)
	l.scheduleEndpointState(l.B, l.BBus, Up)
}

// Down symmetrically takes the link out of service.
func (l *Link) Down() {
	l.State = Down
	l.scheduleEndpointState(l.A, l.ABus, Down)
	l.scheduleEndpointState(l.B, l.BBus, Down)
}

func (l *Link) scheduleEndpointState(iface *PhysicalInterface, bus *eventbus.Bus, state State) {
	delay := l.LatencyMs / 2
	l.sched.Enqueue(delay, func() {
		iface.OperState = state
		bus.Observe(eventbus.Event{
			Kind:    eventbus.InterfaceState,
			Source:  iface.Name,
			Message: state.String(),
			Object:  state,
		})
	})
}

// Send delivers frame from sender to the opposite endpoint, enforcing
// spec.md's four-step send protocol: drop if the link or sender is down,
// emit PacketSend on the sender's bus at the current tick, then deliver a
// clone to the opposite endpoint after the link's latency.
func (l *Link) Send(sender *PhysicalInterface, frame netpacket.Frame) {
	if l.State != Up {
		return
	}
	if !sender.IsUp() {
		return
	}

	senderBus := l.endpointBus(sender)
	receiver, receiverBus := l.other(sender)

	l.sched.Enqueue(0, func() {
		senderBus.Observe(eventbus.Event{
			Kind:   eventbus.PacketSend,
			Source: sender.Name,
			Object: frame,
		})
	})

	l.sched.Enqueue(l.LatencyMs, func() {
		receiverBus.Observe(eventbus.Event{
			Kind:   eventbus.PacketRecv,
			Source: receiver.Name,
			Object: frame.Clone(),
		})
	})
}
