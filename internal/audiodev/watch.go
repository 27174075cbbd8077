package audiodev

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/frnlink/frnlink/internal/alsa"
	"github.com/frnlink/frnlink/internal/eventloop"
)

// watchGroup presents the poll descriptors of a single PCM handle as one
// unified activity stream.
//
// A handle may expose any number of descriptors, each with its own event
// interest. One event-loop watch is registered per descriptor per interest
// bit. Raw OS readiness on an ALSA descriptor does not necessarily mean the
// ring buffer is ready, so every raw event is run through the handle's
// revents translation before the activity callback sees it.
//
// The group owns its watches but never the handle; closing the group
// releases the watches only.
type watchGroup struct {
	pcm      pcmHandle
	watches  []*eventloop.FdWatch
	pollFds  map[int]alsa.PollFd
	activity func(watch *eventloop.FdWatch, revents int16)
}

func newWatchGroup(
	loop *eventloop.Loop,
	pcm pcmHandle,
	activity func(watch *eventloop.FdWatch, revents int16),
) (*watchGroup, error) {
	pollFds, err := pcm.PollDescriptors()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate pcm poll descriptors: %w", err)
	}

	group := &watchGroup{
		pcm:      pcm,
		pollFds:  make(map[int]alsa.PollFd, len(pollFds)),
		activity: activity,
	}
	for _, pollFd := range pollFds {
		if pollFd.Events&unix.POLLOUT != 0 {
			group.watches = append(group.watches,
				loop.NewFdWatch(pollFd.Fd, eventloop.WatchWrite, group.writeEvent))
		}
		if pollFd.Events&unix.POLLIN != 0 {
			group.watches = append(group.watches,
				loop.NewFdWatch(pollFd.Fd, eventloop.WatchRead, group.readEvent))
		}
		group.pollFds[pollFd.Fd] = pollFd
	}
	return group, nil
}

// setEnabled flips every underlying watch as a group. Disabling the group is
// how the engine expresses "nothing to do" without busy polling.
func (group *watchGroup) setEnabled(enabled bool) {
	for _, watch := range group.watches {
		watch.SetEnabled(enabled)
	}
}

func (group *watchGroup) close() {
	for _, watch := range group.watches {
		watch.Close()
	}
	group.watches = nil
}

func (group *watchGroup) writeEvent(watch *eventloop.FdWatch, _ int16) {
	group.translate(watch, unix.POLLOUT)
}

func (group *watchGroup) readEvent(watch *eventloop.FdWatch, _ int16) {
	group.translate(watch, unix.POLLIN)
}

func (group *watchGroup) translate(watch *eventloop.FdWatch, raw int16) {
	translated, err := group.pcm.ReventsTranslate(group.pollFds[watch.Fd()], raw)
	if err != nil {
		// Treat a failed translation as not-ready; the next real readiness
		// event will retry it.
		return
	}
	group.activity(watch, translated)
}
