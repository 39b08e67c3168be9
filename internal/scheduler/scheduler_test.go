package scheduler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEnqueueFiresAtDelay(t *testing.T) {
	s := New(WithSeed(1))

	var fired int64 = -1
	s.Enqueue(10, func() { fired = s.Now() })

	s.RunUntil(5)
	require.Equal(t, int64(-1), fired, "should not have fired yet")

	s.RunUntil(10)
	require.Equal(t, int64(10), fired)
}

func TestRunReturnsDelayToNextEvent(t *testing.T) {
	s := New(WithSeed(1))
	s.Enqueue(50, func() {})

	delay := s.Run()
	require.Equal(t, int64(50), delay)
}

func TestRunReturnsNoMoreEventsWhenEmpty(t *testing.T) {
	s := New(WithSeed(1))
	require.Equal(t, NoMoreEvents, s.Run())
}

func TestSameTickOrderingIsReproducibleUnderFixedSeed(t *testing.T) {
	run := func() []int {
		s := New(WithSeed(42))
		var order []int
		for i := 0; i < 20; i++ {
			i := i
			s.Enqueue(0, func() { order = append(order, i) })
		}
		s.Run()
		return order
	}

	first := run()
	second := run()
	require.Equal(t, first, second, "identical seed must produce identical interleaving")
}

func TestPanicInCallbackDoesNotHaltLoop(t *testing.T) {
	s := New(WithSeed(1))

	var ran bool
	s.Enqueue(0, func() { panic("boom") })
	s.Enqueue(0, func() { ran = true })

	require.NotPanics(t, func() { s.Run() })
	require.True(t, ran, "subsequent callback must still run")
}

func TestRunUntilAdvancesMonotonically(t *testing.T) {
	s := New(WithSeed(1))

	var ticks []int64
	var reschedule func()
	reschedule = func() {
		ticks = append(ticks, s.Now())
		if s.Now() < 30 {
			s.Enqueue(10, reschedule)
		}
	}
	s.Enqueue(0, reschedule)

	s.RunUntil(30)
	require.Equal(t, []int64{0, 10, 20, 30}, ticks)
}
