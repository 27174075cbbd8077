// Package frame defines the sample containers passed between audio devices,
// the pipeline, and the network session.
package frame

// PCMFrame is a run of interleaved, normalized audio samples in [-1, 1].
type PCMFrame []float32

// PCM16Frame is a run of interleaved signed 16-bit samples, the native
// format of the sound card and of the network codec.
type PCM16Frame []int16

// ToPCM16 converts normalized samples to signed 16-bit samples, clamping
// anything outside [-1, 1] to full scale. dst must be at least len(src).
func (src PCMFrame) ToPCM16(dst PCM16Frame) {
	for i, sample := range src {
		switch {
		case sample > 1:
			dst[i] = 32767
		case sample < -1:
			dst[i] = -32767
		default:
			dst[i] = int16(32767.0 * sample)
		}
	}
}

// ToPCM converts signed 16-bit samples to normalized samples.
// dst must be at least len(src).
func (src PCM16Frame) ToPCM(dst PCMFrame) {
	for i, sample := range src {
		dst[i] = float32(sample) / 32768.0
	}
}
