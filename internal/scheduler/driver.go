package scheduler

// RunUntil drives the scheduler forward until now reaches target, following
// the canonical driver loop: run the due callbacks, then advance by at
// least 1ms toward the next pending event (never past target), repeating
// until target is reached.
func (s *Scheduler) RunUntil(target int64) {
	delay := s.Run()
	for s.now < target {
		step := delay
		if step < 1 {
			step = 1
		}
		if s.now+step > target {
			step = target - s.now
		}
		s.Advance(step)
		delay = s.Run()
	}
}

// RunAnother advances the scheduler by delta ticks from wherever it
// currently is.
func (s *Scheduler) RunAnother(delta int64) {
	s.RunUntil(s.now + delta)
}
