package pipeline

import (
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"

	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

// FileSource plays a .WAV file into a sample sink, paced by the event loop.
// Useful for announcements and for feeding the session without a sound card.
type FileSource struct {
	logger *slog.Logger

	samples    frame.PCMFrame
	properties audio.DeviceProperties

	timer    *eventloop.Timer
	sink     audio.SampleSink
	position int
	onDone   func()
}

// NewFileSource loads the whole file into memory. The sample rate and
// channel count come from the file header.
func NewFileSource(audioFilePath string) (*FileSource, error) {
	logger := slog.Default().With("file source uuid", uuid.New())

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error("could not open audio file", "audioFile", audioFilePath, "err", err)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error("could not decode audio file", "audioFile", audioFilePath, "err", decoder.Err())
		return nil, errors.New("error while decoding audio file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error("could not read audio file", "audioFile", audioFilePath, "err", err)
		return nil, err
	}

	samples := make(frame.PCMFrame, len(buf.Data))
	for i, sample := range buf.Data {
		samples[i] = float32(sample) / 32768.0
	}

	logger.Debug("loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samples", len(samples),
	)
	return &FileSource{
		logger:  logger,
		samples: samples,
		properties: audio.DeviceProperties{
			SampleRate:  int(decoder.SampleRate),
			NumChannels: int(decoder.NumChans),
		},
	}, nil
}

// Properties returns the file's audio format.
func (source *FileSource) Properties() audio.DeviceProperties {
	return source.properties
}

// Samples returns the decoded audio, normalized to [-1, 1].
func (source *FileSource) Samples() frame.PCMFrame {
	return source.samples
}

// StartStreaming pushes the file into sink one blockDuration worth of
// samples per loop tick, honoring sink backpressure. When the last sample
// has been accepted the sink is flushed and onDone, if set, is called.
func (source *FileSource) StartStreaming(
	loop *eventloop.Loop,
	sink audio.SampleSink,
	blockDuration time.Duration,
	onDone func(),
) error {
	if source.timer != nil {
		return errors.New("file source is already streaming")
	}
	blockSize := source.properties.NumChannels *
		int(float64(source.properties.SampleRate)*blockDuration.Seconds())
	if blockSize <= 0 {
		return errors.New("non-positive samples per block")
	}

	source.sink = sink
	source.position = 0
	source.onDone = onDone
	source.timer = loop.NewTimer(blockDuration, func() {
		source.streamBlock(blockSize)
	})
	return nil
}

// StopStreaming cancels an in-progress stream without flushing the sink.
func (source *FileSource) StopStreaming() {
	if source.timer == nil {
		return
	}
	source.timer.Close()
	source.timer = nil
	source.sink = nil
	source.onDone = nil
}

func (source *FileSource) streamBlock(blockSize int) {
	end := min(source.position+blockSize, len(source.samples))
	source.position += source.sink.WriteSamples(source.samples[source.position:end])

	if source.position == len(source.samples) {
		sink, onDone := source.sink, source.onDone
		source.StopStreaming()
		sink.FlushSamples()
		if onDone != nil {
			onDone()
		}
	}
}

// FileSink records a sample stream into a .WAV file, 16 bits per sample.
type FileSink struct {
	logger *slog.Logger

	fileHandle *os.File
	encoder    *wav.Encoder
	properties audio.DeviceProperties

	shutdownOnce sync.Once
	closeErr     error
}

// NewFileSink creates or truncates the file and writes a WAV header for the
// given format. Close finalizes the header and must be called.
func NewFileSink(audioFilePath string, properties audio.DeviceProperties) (*FileSink, error) {
	logger := slog.Default().With("file sink uuid", uuid.New())

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error("could not create audio file", "audioFile", audioFilePath, "err", err)
		return nil, err
	}

	return &FileSink{
		logger:     logger,
		fileHandle: f,
		encoder:    wav.NewEncoder(f, properties.SampleRate, 16, properties.NumChannels, 1),
		properties: properties,
	}, nil
}

// WriteSamples appends samples to the file. The full frame is always
// consumed; encoding errors are logged and surfaced on Close.
func (sink *FileSink) WriteSamples(samples frame.PCMFrame) int {
	pcm := make(frame.PCM16Frame, len(samples))
	samples.ToPCM16(pcm)

	buf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: sink.properties.NumChannels,
			SampleRate:  sink.properties.SampleRate,
		},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, sample := range pcm {
		buf.Data[i] = int(sample)
	}

	if err := sink.encoder.Write(buf); err != nil {
		sink.logger.Error("could not write audio samples", "err", err)
	}
	return len(samples)
}

// FlushSamples is a no-op; samples are written as they arrive.
func (sink *FileSink) FlushSamples() {}

// Close finalizes the WAV header and closes the file.
func (sink *FileSink) Close() error {
	sink.shutdownOnce.Do(func() {
		if err := sink.encoder.Close(); err != nil {
			sink.closeErr = err
		}
		if err := sink.fileHandle.Close(); err != nil && sink.closeErr == nil {
			sink.closeErr = err
		}
	})
	return sink.closeErr
}

var _ audio.SampleSink = (*FileSink)(nil)
