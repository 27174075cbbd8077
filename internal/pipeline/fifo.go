// Package pipeline contains the audio plumbing between the sound card, the
// network session, and WAV files: a bounded sample FIFO, a format conversion
// device, and file-backed sources and sinks.
//
// Everything here runs on the event loop goroutine; nothing takes a lock.
package pipeline

import (
	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

// SampleFifo buffers decoded network audio on its way to the playback
// device. The session pushes normalized samples in; the device pulls whole
// 16-bit blocks out. When data arrives into an empty FIFO, OnDataAvailable
// tells the device to resume draining.
type SampleFifo struct {
	buf   frame.PCMFrame
	head  int
	count int

	// OnDataAvailable fires when a write lands in a previously empty FIFO.
	OnDataAvailable func()
}

// NewSampleFifo creates a FIFO holding at most capacity samples.
func NewSampleFifo(capacity int) *SampleFifo {
	return &SampleFifo{buf: make(frame.PCMFrame, capacity)}
}

// Len returns the number of buffered samples.
func (fifo *SampleFifo) Len() int {
	return fifo.count
}

// Free returns how many more samples fit.
func (fifo *SampleFifo) Free() int {
	return len(fifo.buf) - fifo.count
}

// WriteSamples buffers as many samples as fit and returns how many were
// accepted. The remainder backpressures the producer.
func (fifo *SampleFifo) WriteSamples(samples frame.PCMFrame) int {
	wasEmpty := fifo.count == 0

	written := 0
	for written < len(samples) && fifo.count < len(fifo.buf) {
		tail := (fifo.head + fifo.count) % len(fifo.buf)
		chunk := min(len(fifo.buf)-tail, len(fifo.buf)-fifo.count, len(samples)-written)
		copy(fifo.buf[tail:tail+chunk], samples[written:written+chunk])
		fifo.count += chunk
		written += chunk
	}

	if wasEmpty && written > 0 && fifo.OnDataAvailable != nil {
		fifo.OnDataAvailable()
	}
	return written
}

// FlushSamples is a no-op; buffered samples stay available to the consumer.
func (fifo *SampleFifo) FlushSamples() {}

// GetBlocks fills buf with up to maxBlocks whole blocks of 16-bit samples
// and returns how many blocks it produced. Partial blocks stay buffered.
func (fifo *SampleFifo) GetBlocks(buf frame.PCM16Frame, maxBlocks int) int {
	if maxBlocks <= 0 {
		return 0
	}
	blockSize := len(buf) / maxBlocks
	if blockSize <= 0 {
		return 0
	}

	blocks := min(fifo.count/blockSize, maxBlocks)
	for i := 0; i < blocks*blockSize; i++ {
		sample := fifo.buf[fifo.head]
		fifo.head = (fifo.head + 1) % len(fifo.buf)
		fifo.count--

		switch {
		case sample > 1:
			buf[i] = 32767
		case sample < -1:
			buf[i] = -32767
		default:
			buf[i] = int16(32767.0 * sample)
		}
	}
	return blocks
}

var _ audio.SampleSink = (*SampleFifo)(nil)
var _ audio.BlockSource = (*SampleFifo)(nil)
