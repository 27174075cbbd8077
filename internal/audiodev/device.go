// Package audiodev drives a sound card through a non-blocking, event-driven
// read/write loop.
//
// The engine owns up to two PCM handles (playback and capture), negotiates
// their buffer geometry on open, and moves audio in whole blocks between the
// hardware and the pipeline's BlockSource/BlockSink. All I/O happens in
// readiness callbacks on the event loop; waiting is expressed by enabling
// and disabling the poll watches, never by blocking.
package audiodev

import (
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/frnlink/frnlink/internal/alsa"
	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

// Mode selects which directions an Open call acquires.
type Mode int

const (
	ModePlayback Mode = iota
	ModeCapture
	ModeDuplex
)

// pcmHandle is the slice of the ALSA binding the engine drives. Tests
// substitute a scripted fake; production uses *alsa.PCM.
type pcmHandle interface {
	Negotiate(params alsa.StreamParams) (alsa.Geometry, error)
	AvailUpdate() (int, error)
	ReadInterleaved(buf []int16, frames int) (int, error)
	WriteInterleaved(buf []int16, frames int) (int, error)
	Prepare() error
	Start() error
	PollDescriptors() ([]alsa.PollFd, error)
	ReventsTranslate(pollFd alsa.PollFd, revents int16) (int16, error)
	Close()
}

// openPCMFunc acquires a hardware handle for one direction.
type openPCMFunc func(device string, stream alsa.StreamType) (pcmHandle, error)

// Config holds the negotiation surface of the device engine. The hints are
// passed to the hardware, which may round them; the negotiated geometry is
// reported by BlockSize and BlockCount after a successful Open.
type Config struct {
	DeviceName     string
	SampleRate     int
	Channels       int
	BlockSizeHint  int
	BlockCountHint int
}

// Device is the audio device engine. A Device is driven entirely from the
// event loop goroutine and must not be touched from any other goroutine.
//
// Source is pulled for playback audio and Sink receives captured audio; both
// may be left nil for the unused direction.
type Device struct {
	logger  *slog.Logger
	loop    *eventloop.Loop
	cfg     Config
	openPCM openPCMFunc

	Source audio.BlockSource
	Sink   audio.BlockSink

	playHandle pcmHandle
	recHandle  pcmHandle
	playWatch  *watchGroup
	recWatch   *watchGroup

	blockSize  int
	blockCount int
	playBuf    frame.PCM16Frame
	recBuf     frame.PCM16Frame
}

// New creates a closed Device bound to the given event loop. Call Open to
// acquire the hardware. If logger is nil, slog.Default() is used.
func New(loop *eventloop.Loop, cfg Config, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		logger: logger.With(
			"audio device uuid", uuid.New(),
			"device", cfg.DeviceName,
		),
		loop:    loop,
		cfg:     cfg,
		openPCM: openSystemPCM,
	}
}

// Open acquires and negotiates the hardware for the requested mode. Any
// failure releases everything acquired during this call and leaves the
// Device closed. A Device that is already open is closed and reopened.
func (device *Device) Open(mode Mode) error {
	device.Close()

	if mode == ModePlayback || mode == ModeDuplex {
		if err := device.openDirection(alsa.StreamPlayback); err != nil {
			device.Close()
			return err
		}
	}
	if mode == ModeCapture || mode == ModeDuplex {
		if err := device.openDirection(alsa.StreamCapture); err != nil {
			device.Close()
			return err
		}
	}

	device.logger.Info(
		"audio device open",
		"blockSize", device.blockSize,
		"blockCount", device.blockCount,
		"sampleRate", device.cfg.SampleRate,
		"channels", device.cfg.Channels,
	)
	return nil
}

func (device *Device) openDirection(stream alsa.StreamType) error {
	handle, err := device.openPCM(device.cfg.DeviceName, stream)
	if err != nil {
		device.logger.Error("failed to open pcm stream", "stream", stream, "err", err)
		return fmt.Errorf("failed to open pcm stream: %w", err)
	}

	geometry, err := handle.Negotiate(alsa.StreamParams{
		SampleRate:     device.cfg.SampleRate,
		Channels:       device.cfg.Channels,
		BlockSizeHint:  device.cfg.BlockSizeHint,
		BlockCountHint: device.cfg.BlockCountHint,
	})
	if err != nil {
		handle.Close()
		device.logger.Error("pcm parameter negotiation failed", "stream", stream, "err", err)
		return fmt.Errorf("pcm parameter negotiation failed: %w", err)
	}
	device.blockSize = geometry.BlockSize
	device.blockCount = geometry.BlockCount

	bufSamples := geometry.BlockSize * geometry.BlockCount * device.cfg.Channels

	switch stream {
	case alsa.StreamPlayback:
		watch, err := newWatchGroup(device.loop, handle, device.onWriteActivity)
		if err != nil {
			handle.Close()
			return err
		}
		// Nothing to play yet; polling resumes on AudioToWriteAvailable.
		watch.setEnabled(false)
		if err := handle.Prepare(); err != nil {
			watch.close()
			handle.Close()
			device.logger.Error("failed to prime playback stream", "err", err)
			return fmt.Errorf("failed to prime playback stream: %w", err)
		}
		device.playHandle = handle
		device.playWatch = watch
		device.playBuf = make(frame.PCM16Frame, bufSamples)

	case alsa.StreamCapture:
		watch, err := newWatchGroup(device.loop, handle, device.onReadActivity)
		if err != nil {
			handle.Close()
			return err
		}
		// Capture must run unconditionally or input is dropped.
		if err := startCapture(handle); err != nil {
			watch.close()
			handle.Close()
			device.logger.Error("failed to start capture stream", "err", err)
			return fmt.Errorf("failed to start capture stream: %w", err)
		}
		device.recHandle = handle
		device.recWatch = watch
		device.recBuf = make(frame.PCM16Frame, bufSamples)
	}
	return nil
}

// Close releases both directions. Watches are torn down before the handles
// close, so no activity callback runs after Close returns.
func (device *Device) Close() {
	if device.playHandle != nil {
		device.playWatch.close()
		device.playHandle.Close()
		device.playHandle = nil
		device.playWatch = nil
	}
	if device.recHandle != nil {
		device.recWatch.close()
		device.recHandle.Close()
		device.recHandle = nil
		device.recWatch = nil
	}
}

// BlockSize returns the hardware-negotiated frames per block. Valid only
// while open.
func (device *Device) BlockSize() int {
	return device.blockSize
}

// BlockCount returns the negotiated number of blocks in the hardware buffer.
func (device *Device) BlockCount() int {
	return device.blockCount
}

// SamplesToWrite reports how many frames are queued in the playback buffer.
func (device *Device) SamplesToWrite() int {
	if device.playHandle == nil {
		return 0
	}
	spaceAvail, err := device.playHandle.AvailUpdate()
	if err != nil {
		return 0
	}
	return device.blockCount*device.blockSize - spaceAvail
}

// AudioToWriteAvailable tells the engine the playback source has data again,
// re-enabling write polling.
func (device *Device) AudioToWriteAvailable() {
	if device.playWatch != nil {
		device.playWatch.setEnabled(true)
	}
}

// FlushSamples asks the engine to drain whatever the source still holds.
// The remedial action is the same as for new data: make sure write polling
// is on so the drain loop runs.
func (device *Device) FlushSamples() {
	if device.playWatch != nil {
		device.playWatch.setEnabled(true)
	}
}

func (device *Device) onReadActivity(_ *eventloop.FdWatch, revents int16) {
	if revents&unix.POLLIN == 0 {
		return
	}

	framesAvail, err := device.recHandle.AvailUpdate()
	if err != nil {
		device.logger.Warn("capture avail query failed, restarting stream", "err", err)
		if restartErr := startCapture(device.recHandle); restartErr != nil {
			device.logger.Error("capture restart failed, stopping capture polling", "err", restartErr)
			device.recWatch.setEnabled(false)
		}
		return
	}

	// Only whole blocks; the remainder stays in the hardware buffer.
	framesAvail -= framesAvail % device.blockSize
	if framesAvail == 0 {
		return
	}

	buf := device.recBuf[:framesAvail*device.cfg.Channels]
	framesRead, err := device.recHandle.ReadInterleaved(buf, framesAvail)
	if err != nil {
		device.logger.Warn("capture read failed, restarting stream", "err", err)
		if restartErr := startCapture(device.recHandle); restartErr != nil {
			device.logger.Error("capture restart failed, stopping capture polling", "err", restartErr)
			device.recWatch.setEnabled(false)
		}
		return
	}

	// A short read can leave a partial block; the sink contract is whole
	// blocks only, so the tail is dropped.
	if partial := framesRead % device.blockSize; partial != 0 {
		device.logger.Warn("capture returned a partial block, dropping the tail", "frames", partial)
		framesRead -= partial
	}
	if framesRead > 0 && device.Sink != nil {
		device.Sink.PutBlocks(buf[:framesRead*device.cfg.Channels], framesRead)
	}
}

func (device *Device) onWriteActivity(_ *eventloop.FdWatch, revents int16) {
	if revents&unix.POLLOUT == 0 {
		return
	}

	for {
		spaceAvail, err := device.playHandle.AvailUpdate()
		if err != nil {
			device.logger.Warn("playback avail query failed, restarting stream", "err", err)
			if restartErr := device.playHandle.Prepare(); restartErr != nil {
				device.logger.Error("playback restart failed, stopping playback polling", "err", restartErr)
				device.playWatch.setEnabled(false)
				return
			}
			continue
		}

		blocksToWrite := spaceAvail / device.blockSize
		if blocksToWrite == 0 {
			// Hardware buffer is full; the next readiness event resumes us.
			return
		}

		// Whole blocks only: sources derive their block size from
		// len(buf)/maxBlocks, so the buffer must not carry the sub-block
		// remainder of the free space.
		buf := device.playBuf[:blocksToWrite*device.blockSize*device.cfg.Channels]
		blocksAvail := 0
		if device.Source != nil {
			blocksAvail = device.Source.GetBlocks(buf, blocksToWrite)
		}
		if blocksAvail == 0 {
			// Source is drained; stop polling until new data is signalled.
			device.playWatch.setEnabled(false)
			return
		}

		framesToWrite := blocksAvail * device.blockSize
		if _, err := device.playHandle.WriteInterleaved(buf[:framesToWrite*device.cfg.Channels], framesToWrite); err != nil {
			device.logger.Warn("playback write failed, restarting stream", "err", err)
			if restartErr := device.playHandle.Prepare(); restartErr != nil {
				device.logger.Error("playback restart failed, stopping playback polling", "err", restartErr)
				device.playWatch.setEnabled(false)
				return
			}
			continue
		}

		if blocksAvail < blocksToWrite {
			// The source under-filled; looping again immediately would
			// just busy-loop on a short buffer.
			return
		}
	}
}

// startCapture primes and starts a capture stream. Playback is never started
// explicitly: it starts on its own once the start threshold is reached.
func startCapture(handle pcmHandle) error {
	if err := handle.Prepare(); err != nil {
		return err
	}
	return handle.Start()
}
