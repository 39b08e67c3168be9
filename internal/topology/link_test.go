package topology

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/routersimlab/netsim/internal/eventbus"
	"github.com/routersimlab/netsim/internal/netpacket"
	"github.com/routersimlab/netsim/internal/scheduler"
)

func newTestDevice(t *testing.T, s *scheduler.Scheduler, reg *Registry, name string) *Device {
	t.Helper()
	return NewDevice(reg, name, s)
}

func TestLinkUpPropagatesAfterHalfLatency(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := NewRegistry()
	r1 := newTestDevice(t, s, reg, "r1")
	r2 := newTestDevice(t, s, reg, "r2")

	p1 := r1.AddPhysical("et1", false)
	p2 := r2.AddPhysical("et1", false)
	link := NewLink(s, p1, p2, r1.Bus, r2.Bus, 10)

	link.Up()
	require.Equal(t, Up, link.State, "link state flips immediately")
	require.False(t, p1.IsUp(), "oper state has not propagated yet")

	s.RunUntil(4)
	require.False(t, p1.IsUp())

	s.RunUntil(5000)
	require.True(t, p1.IsUp())
	require.True(t, p2.IsUp())
}

func TestLinkDropsWhenDown(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := NewRegistry()
	r1 := newTestDevice(t, s, reg, "r1")
	r2 := newTestDevice(t, s, reg, "r2")

	p1 := r1.AddPhysical("et1", false)
	p2 := r2.AddPhysical("et1", false)
	link := NewLink(s, p1, p2, r1.Bus, r2.Bus, 10)

	var recv int
	r2.Bus.Listen(eventbus.PacketRecv, func(eventbus.Event) { recv++ })

	link.Send(p1, netpacket.Frame{Type: netpacket.FrameIPv4})
	s.RunUntil(1000)
	require.Equal(t, 0, recv, "link is down, frame must be dropped")
}

func TestLinkDeliversFrameAfterLatency(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := NewRegistry()
	r1 := newTestDevice(t, s, reg, "r1")
	r2 := newTestDevice(t, s, reg, "r2")

	p1 := r1.AddPhysical("et1", false)
	p2 := r2.AddPhysical("et1", false)
	link := NewLink(s, p1, p2, r1.Bus, r2.Bus, 10)
	link.Up()
	s.RunUntil(5000)

	var sendSeen, recvSeen bool
	var recvAt int64
	r1.Bus.Listen(eventbus.PacketSend, func(eventbus.Event) { sendSeen = true })
	r2.Bus.Listen(eventbus.PacketRecv, func(e eventbus.Event) { recvSeen = true; recvAt = e.When })

	base := s.Now()
	link.Send(p1, netpacket.Frame{Type: netpacket.FrameIPv4})
	s.RunUntil(base + 20)

	require.True(t, sendSeen)
	require.True(t, recvSeen)
	require.Equal(t, base+10, recvAt)
}

func TestSendDropsWhenSenderDown(t *testing.T) {
	s := scheduler.New(scheduler.WithSeed(1))
	reg := NewRegistry()
	r1 := newTestDevice(t, s, reg, "r1")
	r2 := newTestDevice(t, s, reg, "r2")

	p1 := r1.AddPhysical("et1", false)
	p2 := r2.AddPhysical("et1", false)
	link := NewLink(s, p1, p2, r1.Bus, r2.Bus, 10)
	link.Up()
	s.RunUntil(5000)

	p1.AdminState = Down

	var recv int
	r2.Bus.Listen(eventbus.PacketRecv, func(eventbus.Event) { recv++ })
	link.Send(p1, netpacket.Frame{Type: netpacket.FrameIPv4})
	s.RunUntil(5020)

	require.Equal(t, 0, recv)
}
