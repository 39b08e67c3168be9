// Package scheduler implements the simulator's single-threaded, cooperative
// virtual-clock event loop: a priority queue of deferred callbacks ordered
// by (when, random tie-break priority).
package scheduler

import (
	"container/heap"
	"math/rand"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Callback is deferred work enqueued to run at a future virtual tick.
type Callback func()

// NoMoreEvents is returned by Run when the queue is empty.
const NoMoreEvents int64 = -1

type pendingEvent struct {
	when     int64
	priority int
	seq      uint64
	callback Callback
}

type eventHeap []*pendingEvent

func (h eventHeap) Len() int { return len(h) }
func (h eventHeap) Less(i, j int) bool {
	if h[i].when != h[j].when {
		return h[i].when < h[j].when
	}
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}
func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x any)   { *h = append(*h, x.(*pendingEvent)) }
func (h *eventHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Scheduler is the virtual-time priority queue driving the simulation.
//
// It is not safe for concurrent use: the model is strictly single-threaded
// and cooperative, matching spec.md §5.
type Scheduler struct {
	now   int64
	heap  eventHeap
	seq   uint64
	rng   *rand.Rand
	log   *zap.SugaredLogger
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLog attaches a logger used to report callback panics recovered at the
// Run() boundary.
func WithLog(log *zap.SugaredLogger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithSeed fixes the random source used to break same-tick ties, so that
// runs are reproducible.
func WithSeed(seed int64) Option {
	return func(s *Scheduler) { s.rng = rand.New(rand.NewSource(seed)) }
}

// New constructs a Scheduler at virtual time 0.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		log: zap.NewNop().Sugar(),
		rng: rand.New(rand.NewSource(1)),
	}
	for _, o := range opts {
		o(s)
	}
	heap.Init(&s.heap)
	return s
}

// Now returns the current virtual time in milliseconds. Implements
// eventbus.Clock.
func (s *Scheduler) Now() int64 { return s.now }

// Enqueue schedules callback to fire at now+delay. Negative delay is
// treated as zero. Ties at the same tick are broken by a uniformly drawn
// priority in [0,100], so simultaneous events interleave nondeterministically
// but reproducibly under a fixed seed.
func (s *Scheduler) Enqueue(delay int64, callback Callback) {
	if delay < 0 {
		delay = 0
	}
	s.seq++
	heap.Push(&s.heap, &pendingEvent{
		when:     s.now + delay,
		priority: s.rng.Intn(101),
		seq:      s.seq,
		callback: callback,
	})
}

// Run executes every event with when <= now, in priority order. Callbacks
// that enqueue further work scheduled at or before now are also executed
// within the same Run call. It returns the delay until the next pending
// event, or NoMoreEvents if the queue is empty.
//
// Panics raised by callbacks are recovered, logged, and do not halt the
// loop: per spec.md §7, an InvariantViolation aborts only the offending
// callback.
func (s *Scheduler) Run() int64 {
	var errs error

	for s.heap.Len() > 0 && s.heap[0].when <= s.now {
		ev := heap.Pop(&s.heap).(*pendingEvent)
		errs = multierr.Append(errs, s.runOne(ev))
	}

	if errs != nil {
		s.log.Errorw("callback panics recovered during tick", "now", s.now, "error", errs)
	}

	if s.heap.Len() == 0 {
		return NoMoreEvents
	}
	return s.heap[0].when - s.now
}

func (s *Scheduler) runOne(ev *pendingEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Recovered: r}
		}
	}()
	ev.callback()
	return nil
}

// Advance sets now <- now+delta. Only the driver loop should call this.
func (s *Scheduler) Advance(delta int64) {
	s.now += delta
}

// PanicError wraps a value recovered from a callback panic.
type PanicError struct {
	Recovered any
}

func (e *PanicError) Error() string {
	return "scheduler: recovered callback panic"
}
