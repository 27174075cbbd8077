// Package audio defines the capability interfaces composed by the pipeline
// to connect the sound card engine and the network session engine.
//
// The two engines never reference each other. Each one only sees these
// interfaces, and the pipeline decides how (and whether) to chain them.
package audio

import "github.com/frnlink/frnlink/pkg/frame"

// DeviceProperties describes the stream format of a pipeline component.
type DeviceProperties struct {
	SampleRate  int
	NumChannels int
}

// BlockSource supplies audio for playback.
//
// The device engine pulls whole blocks at the hardware-negotiated block size.
// A source that has less data than requested returns fewer blocks (possibly
// zero); it must never return a partial block.
type BlockSource interface {
	// GetBlocks fills buf with up to maxBlocks whole blocks of interleaved
	// 16-bit samples and returns the number of blocks actually produced.
	GetBlocks(buf frame.PCM16Frame, maxBlocks int) int
}

// BlockSink consumes captured audio.
//
// The device engine pushes exactly the given number of frames, always a
// whole multiple of the hardware-negotiated block size.
type BlockSink interface {
	PutBlocks(buf frame.PCM16Frame, frames int)
}

// SampleSink accepts normalized samples pushed by an upstream producer.
//
// WriteSamples returns the number of samples consumed. A sink exerting
// backpressure consumes fewer than len(samples); the producer must retry
// the remainder once the sink signals it is ready again. FlushSamples tells
// the sink no more audio is coming for now, forcing out anything buffered.
type SampleSink interface {
	WriteSamples(samples frame.PCMFrame) int
	FlushSamples()
}
