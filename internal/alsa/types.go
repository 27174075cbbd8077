// Package alsa binds the small slice of libasound this program needs: open a
// PCM stream, negotiate hardware parameters, move interleaved S16_LE frames,
// and expose the stream's poll descriptors for the event loop.
//
// The binding itself is cgo and Linux-only; the types in this file are plain
// Go so the device engine (and its tests) compile everywhere.
package alsa

// StreamType selects the direction of a PCM stream.
type StreamType int

const (
	StreamPlayback StreamType = iota
	StreamCapture
)

// StreamParams is the negotiation request. The hints are suggestions; the
// hardware rounds them to supported values and the negotiated result is
// reported back in Geometry.
type StreamParams struct {
	SampleRate     int
	Channels       int
	BlockSizeHint  int
	BlockCountHint int
}

// Geometry is the hardware's answer to a negotiation: the period size in
// frames and the number of periods in the ring buffer.
type Geometry struct {
	BlockSize  int
	BlockCount int
}

// PollFd is one pollable descriptor of a PCM stream together with the event
// mask the hardware expects to be polled with.
type PollFd struct {
	Fd     int
	Events int16
}

// rateTolerance is the maximum acceptable deviation, in Hz, between the
// requested sample rate and the rate the driver actually delivers.
const rateTolerance = 100
