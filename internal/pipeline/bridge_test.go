package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/frnlink/frnlink/pkg/frame"
)

func TestCaptureBridgeConvertsBlocks(t *testing.T) {
	sink := &limitedSink{capacity: 1 << 20}
	bridge := NewCaptureBridge(sink, nil)

	bridge.PutBlocks(frame.PCM16Frame{16384, -16384, 32767, 0}, 2)

	assert.Equal(t, frame.PCMFrame{0.5, -0.5, 32767.0 / 32768.0, 0}, sink.data)
}

func TestCaptureBridgeDropsRefusedSamples(t *testing.T) {
	sink := &limitedSink{capacity: 3}
	bridge := NewCaptureBridge(sink, nil)

	bridge.PutBlocks(make(frame.PCM16Frame, 8), 8)
	assert.Len(t, sink.data, 3)

	// Dropped audio is gone; the next block is delivered fresh.
	sink.capacity = 100
	bridge.PutBlocks(frame.PCM16Frame{8192, 8192}, 2)
	assert.Len(t, sink.data, 5)
}
