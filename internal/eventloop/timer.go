package eventloop

import "time"

// Timer fires its callback periodically on the loop goroutine.
//
// The timer period is fixed at construction. Reset re-arms the current
// period without firing, which is how the session engine treats inbound
// traffic as proof of liveness.
type Timer struct {
	loop       *Loop
	period     time.Duration
	deadline   time.Time
	enabled    bool
	registered bool
	expired    func()
}

// NewTimer registers a periodic timer. The timer starts enabled, with its
// first expiry one period from now.
func (loop *Loop) NewTimer(period time.Duration, expired func()) *Timer {
	timer := &Timer{
		loop:       loop,
		period:     period,
		deadline:   time.Now().Add(period),
		enabled:    true,
		registered: true,
		expired:    expired,
	}
	loop.timers[timer] = struct{}{}
	return timer
}

// SetEnabled starts or stops the timer. Enabling schedules the next expiry
// one full period from now.
func (timer *Timer) SetEnabled(enabled bool) {
	if enabled && !timer.enabled {
		timer.deadline = time.Now().Add(timer.period)
	}
	timer.enabled = enabled
}

// Reset pushes the next expiry back to one full period from now.
func (timer *Timer) Reset() {
	timer.deadline = time.Now().Add(timer.period)
}

// Close unregisters the timer. No callback fires after Close returns.
func (timer *Timer) Close() {
	if !timer.registered {
		return
	}
	timer.registered = false
	timer.enabled = false
	delete(timer.loop.timers, timer)
}

// nextTimerTimeoutMs returns the poll timeout needed to honour the earliest
// enabled timer, or -1 when no timer is enabled.
func (loop *Loop) nextTimerTimeoutMs() int {
	earliest := time.Time{}
	for timer := range loop.timers {
		if !timer.enabled {
			continue
		}
		if earliest.IsZero() || timer.deadline.Before(earliest) {
			earliest = timer.deadline
		}
	}
	if earliest.IsZero() {
		return -1
	}
	remaining := time.Until(earliest)
	if remaining <= 0 {
		return 0
	}
	// Round up so we never wake just before the deadline.
	return int((remaining + time.Millisecond - 1) / time.Millisecond)
}

func (loop *Loop) dispatchTimers() {
	now := time.Now()
	// Collect first: a callback may close or re-arm other timers.
	due := make([]*Timer, 0, len(loop.timers))
	for timer := range loop.timers {
		if timer.enabled && !timer.deadline.After(now) {
			due = append(due, timer)
		}
	}
	for _, timer := range due {
		if !timer.enabled || !timer.registered {
			continue
		}
		timer.deadline = now.Add(timer.period)
		timer.expired()
	}
}
