package pipeline

import (
	"log/slog"

	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

// CaptureBridge adapts the capture side of the device engine, which pushes
// 16-bit blocks, to a sample sink. Samples the sink refuses are dropped;
// holding on to live microphone audio would only grow latency without
// bound.
type CaptureBridge struct {
	logger     *slog.Logger
	downstream audio.SampleSink
	buf        frame.PCMFrame
}

// NewCaptureBridge wires captured blocks into downstream. If logger is nil,
// slog.Default() is used.
func NewCaptureBridge(downstream audio.SampleSink, logger *slog.Logger) *CaptureBridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &CaptureBridge{
		logger:     logger,
		downstream: downstream,
	}
}

// PutBlocks converts captured interleaved samples to normalized form and
// pushes them downstream. buf holds frames whole hardware frames.
func (bridge *CaptureBridge) PutBlocks(buf frame.PCM16Frame, frames int) {
	if cap(bridge.buf) < len(buf) {
		bridge.buf = make(frame.PCMFrame, len(buf))
	}
	samples := bridge.buf[:len(buf)]
	buf.ToPCM(samples)

	written := bridge.downstream.WriteSamples(samples)
	if written < len(samples) {
		bridge.logger.Debug("dropping captured audio", "samples", len(samples)-written)
	}
}

var _ audio.BlockSink = (*CaptureBridge)(nil)
