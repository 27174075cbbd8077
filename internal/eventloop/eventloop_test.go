package eventloop

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	loop, err := New()
	require.NoError(t, err)
	t.Cleanup(loop.Close)
	return loop
}

func newTestPipe(t *testing.T) (readFd, writeFd int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, unix.Pipe2(fds[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestFdWatchFiresOnReadable(t *testing.T) {
	loop := newTestLoop(t)
	readFd, writeFd := newTestPipe(t)

	var fired int
	var gotRevents int16
	watch := loop.NewFdWatch(readFd, WatchRead, func(w *FdWatch, revents int16) {
		fired++
		gotRevents = revents
	})
	defer watch.Close()

	loop.RunOnce(10 * time.Millisecond)
	assert.Zero(t, fired, "watch fired with nothing to read")

	_, err := unix.Write(writeFd, []byte("x"))
	require.NoError(t, err)

	loop.RunOnce(100 * time.Millisecond)
	assert.Equal(t, 1, fired)
	assert.NotZero(t, gotRevents&unix.POLLIN)
}

func TestFdWatchDisabledDoesNotFire(t *testing.T) {
	loop := newTestLoop(t)
	readFd, writeFd := newTestPipe(t)

	var fired int
	watch := loop.NewFdWatch(readFd, WatchRead, func(w *FdWatch, revents int16) {
		fired++
	})
	defer watch.Close()

	_, err := unix.Write(writeFd, []byte("x"))
	require.NoError(t, err)

	watch.SetEnabled(false)
	loop.RunOnce(10 * time.Millisecond)
	assert.Zero(t, fired)

	watch.SetEnabled(true)
	loop.RunOnce(100 * time.Millisecond)
	assert.Equal(t, 1, fired)
}

func TestFdWatchClosedNeverFires(t *testing.T) {
	loop := newTestLoop(t)
	readFd, writeFd := newTestPipe(t)

	var fired int
	watch := loop.NewFdWatch(readFd, WatchRead, func(w *FdWatch, revents int16) {
		fired++
	})

	_, err := unix.Write(writeFd, []byte("x"))
	require.NoError(t, err)

	watch.Close()
	loop.RunOnce(10 * time.Millisecond)
	assert.Zero(t, fired)
}

func TestTimerFiresPeriodically(t *testing.T) {
	loop := newTestLoop(t)

	var fired int
	timer := loop.NewTimer(5*time.Millisecond, func() { fired++ })
	defer timer.Close()

	deadline := time.Now().Add(time.Second)
	for fired < 2 && time.Now().Before(deadline) {
		loop.RunOnce(20 * time.Millisecond)
	}
	assert.GreaterOrEqual(t, fired, 2)
}

func TestTimerResetDefersExpiry(t *testing.T) {
	loop := newTestLoop(t)

	var fired int
	timer := loop.NewTimer(50*time.Millisecond, func() { fired++ })
	defer timer.Close()

	// Keep resetting well within the period; the timer must never expire.
	for i := 0; i < 5; i++ {
		time.Sleep(10 * time.Millisecond)
		timer.Reset()
		loop.RunOnce(0)
	}
	assert.Zero(t, fired)

	deadline := time.Now().Add(time.Second)
	for fired == 0 && time.Now().Before(deadline) {
		loop.RunOnce(60 * time.Millisecond)
	}
	assert.Equal(t, 1, fired)
}

func TestTimerDisabledDoesNotFire(t *testing.T) {
	loop := newTestLoop(t)

	var fired int
	timer := loop.NewTimer(time.Millisecond, func() { fired++ })
	defer timer.Close()

	timer.SetEnabled(false)
	time.Sleep(5 * time.Millisecond)
	loop.RunOnce(0)
	assert.Zero(t, fired)
}

func TestPostRunsOnLoop(t *testing.T) {
	loop := newTestLoop(t)

	done := make(chan struct{})
	go loop.Post(func() { close(done) })

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		loop.RunOnce(10 * time.Millisecond)
		select {
		case <-done:
			return
		default:
		}
	}
	t.Fatal("posted callback never ran")
}

func TestStopEndsRun(t *testing.T) {
	loop := newTestLoop(t)

	finished := make(chan struct{})
	go func() {
		loop.Run()
		close(finished)
	}()

	loop.Stop()
	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}
}
