package eventloop

import "golang.org/x/sys/unix"

// WatchDirection selects which readiness condition an FdWatch reports.
type WatchDirection int

const (
	WatchRead WatchDirection = iota
	WatchWrite
)

// FdWatch reports readiness of a single file descriptor for a single
// direction. The activity callback receives the raw poll revents so callers
// that need to (the sound card layer does) can post-process them.
type FdWatch struct {
	loop       *Loop
	fd         int
	events     int16
	enabled    bool
	registered bool
	activity   func(watch *FdWatch, revents int16)
}

// NewFdWatch registers a watch on fd for the given direction. The watch
// starts enabled. The callback runs on the loop goroutine.
func (loop *Loop) NewFdWatch(fd int, dir WatchDirection, activity func(watch *FdWatch, revents int16)) *FdWatch {
	events := int16(unix.POLLIN)
	if dir == WatchWrite {
		events = unix.POLLOUT
	}
	watch := &FdWatch{
		loop:       loop,
		fd:         fd,
		events:     events,
		enabled:    true,
		registered: true,
		activity:   activity,
	}
	loop.watches[watch] = struct{}{}
	return watch
}

// Fd returns the watched descriptor.
func (watch *FdWatch) Fd() int {
	return watch.fd
}

// Enabled reports whether the watch currently participates in polling.
func (watch *FdWatch) Enabled() bool {
	return watch.enabled
}

// SetEnabled includes or excludes the watch from polling. A disabled watch
// stays registered and can be re-enabled at any time.
func (watch *FdWatch) SetEnabled(enabled bool) {
	watch.enabled = enabled
}

// Close unregisters the watch. No callback fires after Close returns.
func (watch *FdWatch) Close() {
	if !watch.registered {
		return
	}
	watch.registered = false
	watch.enabled = false
	delete(watch.loop.watches, watch)
}
