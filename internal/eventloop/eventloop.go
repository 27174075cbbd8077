// Package eventloop implements the single-threaded dispatcher everything in
// this program runs on: descriptor-readiness watches, periodic timers, and
// callbacks posted from other goroutines.
//
// All watch and timer callbacks are invoked from the goroutine that called
// Run, so code driven purely by the loop needs no locking. The only safe
// entry point from another goroutine is Post.
package eventloop

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

var errLoopClosed = errors.New("event loop is closed")

// Loop multiplexes descriptor readiness and timer expiry onto one goroutine.
type Loop struct {
	watches map[*FdWatch]struct{}
	timers  map[*Timer]struct{}

	// wakePipe[0] is polled alongside the watches; writing a byte to
	// wakePipe[1] interrupts a sleeping poll so posted callbacks and Stop
	// requests are picked up promptly.
	wakePipe [2]int

	postedMu sync.Mutex
	posted   []func()

	stopRequested bool
	closed        bool
}

// New creates a Loop ready to accept watches and timers.
func New() (*Loop, error) {
	loop := &Loop{
		watches: make(map[*FdWatch]struct{}),
		timers:  make(map[*Timer]struct{}),
	}
	if err := unix.Pipe2(loop.wakePipe[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, fmt.Errorf("failed to create wakeup pipe: %w", err)
	}
	return loop, nil
}

// Post schedules fn to run on the loop goroutine. Safe to call from any
// goroutine. Callbacks run in the order they were posted.
func (loop *Loop) Post(fn func()) {
	loop.postedMu.Lock()
	loop.posted = append(loop.posted, fn)
	loop.postedMu.Unlock()
	loop.wake()
}

// Run dispatches events until Stop is called.
func (loop *Loop) Run() {
	loop.stopRequested = false
	for !loop.stopRequested {
		loop.iterate(-1)
	}
}

// Stop makes Run return after the current dispatch cycle. Safe to call from
// any goroutine.
func (loop *Loop) Stop() {
	loop.Post(func() { loop.stopRequested = true })
}

// RunOnce performs a single poll-and-dispatch cycle, waiting at most timeout
// for activity. Used by tests to step the loop deterministically.
func (loop *Loop) RunOnce(timeout time.Duration) {
	loop.iterate(int(timeout / time.Millisecond))
}

// Close releases the wakeup pipe. The loop must not be running.
func (loop *Loop) Close() {
	if loop.closed {
		return
	}
	loop.closed = true
	unix.Close(loop.wakePipe[0])
	unix.Close(loop.wakePipe[1])
}

func (loop *Loop) wake() {
	// A full pipe already guarantees a pending wakeup.
	_, _ = unix.Write(loop.wakePipe[1], []byte{0})
}

func (loop *Loop) iterate(maxWaitMs int) {
	pollfds := make([]unix.PollFd, 1, len(loop.watches)+1)
	pollfds[0] = unix.PollFd{Fd: int32(loop.wakePipe[0]), Events: unix.POLLIN}

	polled := make([]*FdWatch, 0, len(loop.watches))
	for watch := range loop.watches {
		if !watch.enabled {
			continue
		}
		pollfds = append(pollfds, unix.PollFd{Fd: int32(watch.fd), Events: watch.events})
		polled = append(polled, watch)
	}

	timeout := loop.nextTimerTimeoutMs()
	if timeout < 0 || (maxWaitMs >= 0 && maxWaitMs < timeout) {
		timeout = maxWaitMs
	}

	n, err := unix.Poll(pollfds, timeout)
	if err != nil && err != unix.EINTR {
		// Nothing sensible to do beyond trying again next cycle.
		return
	}

	loop.dispatchTimers()

	if n > 0 {
		if pollfds[0].Revents != 0 {
			loop.drainWakePipe()
		}
		for i, watch := range polled {
			revents := pollfds[i+1].Revents
			if revents == 0 || !watch.enabled || !watch.registered {
				continue
			}
			watch.activity(watch, revents)
		}
	}

	loop.runPosted()
}

func (loop *Loop) drainWakePipe() {
	var buf [64]byte
	for {
		n, err := unix.Read(loop.wakePipe[0], buf[:])
		if n < len(buf) || err != nil {
			return
		}
	}
}

func (loop *Loop) runPosted() {
	for {
		loop.postedMu.Lock()
		pending := loop.posted
		loop.posted = nil
		loop.postedMu.Unlock()
		if len(pending) == 0 {
			return
		}
		for _, fn := range pending {
			fn()
		}
	}
}
