package pipeline

import (
	"github.com/oov/audio/resampler"

	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

const (
	// Worst case per conversion step: 48000 Hz stereo at 120 ms latency is
	// 11520 samples, so 2**14 covers anything the devices produce.
	conversionBufferSize = 16384

	resampleQuality = 10
)

type conversionFunc func(src frame.PCMFrame) frame.PCMFrame

// Resampler sits between two sample-stream endpoints with different
// formats, converting channel count and sample rate on the way through. It
// is itself a SampleSink; converted audio is pushed into the downstream
// sink.
//
// Downstream backpressure is honored: samples the sink refuses are held in
// a pending buffer and retried before anything new is converted, and while
// the pending buffer is occupied no new input is consumed.
type Resampler struct {
	downstream  audio.SampleSink
	conversions []conversionFunc
	pending     frame.PCMFrame
}

// NewResampler builds the conversion chain from the source format to the
// sink format. Equal formats produce a pass-through device.
func NewResampler(
	source audio.DeviceProperties,
	sink audio.DeviceProperties,
	downstream audio.SampleSink,
) *Resampler {
	conversions := make([]conversionFunc, 0)
	if source.NumChannels == 1 && sink.NumChannels == 2 {
		conversions = append(conversions, monoToStereo())
	}
	if source.NumChannels == 2 && sink.NumChannels == 1 {
		conversions = append(conversions, stereoToMono())
	}
	if source.SampleRate != sink.SampleRate {
		conversions = append(conversions, resample(source.SampleRate, sink.SampleRate, sink.NumChannels))
	}

	return &Resampler{
		downstream:  downstream,
		conversions: conversions,
	}
}

// WriteSamples converts one frame and pushes it downstream. A frame is
// consumed whole; when a previous frame's remainder is still waiting on the
// downstream sink, nothing is consumed.
func (device *Resampler) WriteSamples(samples frame.PCMFrame) int {
	if !device.flushPending() {
		return 0
	}

	converted := samples
	for _, convert := range device.conversions {
		converted = convert(converted)
	}

	written := device.downstream.WriteSamples(converted)
	if written < len(converted) {
		device.pending = append(device.pending[:0], converted[written:]...)
	}
	return len(samples)
}

// FlushSamples pushes any held remainder and forwards the flush downstream.
func (device *Resampler) FlushSamples() {
	device.flushPending()
	device.downstream.FlushSamples()
}

// flushPending reports whether the pending buffer is empty afterwards.
func (device *Resampler) flushPending() bool {
	if len(device.pending) == 0 {
		return true
	}
	written := device.downstream.WriteSamples(device.pending)
	device.pending = append(device.pending[:0:0], device.pending[written:]...)
	return len(device.pending) == 0
}

func monoToStereo() conversionFunc {
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(src frame.PCMFrame) frame.PCMFrame {
		for i, sample := range src {
			buf[2*i] = sample
			buf[2*i+1] = sample
		}
		return buf[:2*len(src)]
	}
}

func stereoToMono() conversionFunc {
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(src frame.PCMFrame) frame.PCMFrame {
		if len(src)%2 == 1 {
			src = src[:len(src)-1]
		}
		for i := 0; i < len(src)/2; i++ {
			buf[i] = (src[2*i] + src[2*i+1]) / 2
		}
		return buf[:len(src)/2]
	}
}

func resample(sourceRate, sinkRate, channels int) conversionFunc {
	if channels == 1 {
		r := resampler.New(1, sourceRate, sinkRate, resampleQuality)
		buf := make(frame.PCMFrame, conversionBufferSize)
		return func(src frame.PCMFrame) frame.PCMFrame {
			_, written := r.ProcessFloat32(0, src, buf)
			return buf[:written]
		}
	}

	r := resampler.New(2, sourceRate, sinkRate, resampleQuality)
	left := make(frame.PCMFrame, conversionBufferSize/2)
	right := make(frame.PCMFrame, conversionBufferSize/2)
	leftOut := make(frame.PCMFrame, conversionBufferSize/2)
	rightOut := make(frame.PCMFrame, conversionBufferSize/2)
	buf := make(frame.PCMFrame, conversionBufferSize)
	return func(src frame.PCMFrame) frame.PCMFrame {
		if len(src)%2 == 1 {
			src = src[:len(src)-1]
		}
		for i := 0; i < len(src)/2; i++ {
			left[i] = src[2*i]
			right[i] = src[2*i+1]
		}

		_, writtenLeft := r.ProcessFloat32(0, left[:len(src)/2], leftOut)
		_, writtenRight := r.ProcessFloat32(1, right[:len(src)/2], rightOut)
		written := min(writtenLeft, writtenRight)
		for i := 0; i < written; i++ {
			buf[2*i] = leftOut[i]
			buf[2*i+1] = rightOut[i]
		}
		return buf[:2*written]
	}
}

var _ audio.SampleSink = (*Resampler)(nil)
