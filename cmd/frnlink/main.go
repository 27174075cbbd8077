package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/frnlink/frnlink/cmd/frnlink/config"
	"github.com/frnlink/frnlink/internal/audiodev"
	"github.com/frnlink/frnlink/internal/eventloop"
	"github.com/frnlink/frnlink/internal/frn"
	"github.com/frnlink/frnlink/internal/gsm"
	"github.com/frnlink/frnlink/internal/pipeline"
	"github.com/frnlink/frnlink/internal/tcpclient"
	"github.com/frnlink/frnlink/internal/utils"
	"github.com/frnlink/frnlink/pkg/audio"
	"github.com/frnlink/frnlink/pkg/frame"
)

// The FRN network carries 8 kHz mono audio; the sound card runs at whatever
// rate it negotiates and the pipeline converts in between.
var networkFormat = audio.DeviceProperties{SampleRate: 8000, NumChannels: 1}

const (
	// Roughly two seconds of decoded network audio before backpressure.
	playbackFifoCapacity = 16000

	announcementBlockDuration = 20 * time.Millisecond
)

// fanoutSink copies a sample stream into several sinks. Consumption is
// paced by the first sink; the others are best-effort taps.
type fanoutSink struct {
	primary audio.SampleSink
	taps    []audio.SampleSink
}

func (sink *fanoutSink) WriteSamples(samples frame.PCMFrame) int {
	written := sink.primary.WriteSamples(samples)
	for _, tap := range sink.taps {
		tap.WriteSamples(samples[:written])
	}
	return written
}

func (sink *fanoutSink) FlushSamples() {
	sink.primary.FlushSamples()
	for _, tap := range sink.taps {
		tap.FlushSamples()
	}
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	config.LoadConfig(*configFilePath)
	logFilePointer, err := utils.ConfigureDefaultLogger(
		viper.GetString("loglevel"),
		viper.GetString("logfile"),
		slog.HandlerOptions{},
	)
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}

	loop, err := eventloop.New()
	if err != nil {
		slog.Error("could not create event loop", "err", err)
		os.Exit(1)
	}
	defer loop.Close()

	codec, err := gsm.New()
	if err != nil {
		slog.Error("could not create voice codec", "err", err)
		os.Exit(1)
	}
	defer codec.Close()

	transport := tcpclient.New(loop, nil)
	session := frn.NewSession(viper.GetViper(), loop, transport, codec, nil)
	if !session.InitOk() {
		slog.Error("incomplete account configuration, see the config section of the README")
		os.Exit(1)
	}
	defer session.Close()

	cardFormat := audio.DeviceProperties{
		SampleRate:  viper.GetInt("CARD_SAMPLE_RATE"),
		NumChannels: viper.GetInt("CARD_CHANNELS"),
	}
	device := audiodev.New(loop, audiodev.Config{
		DeviceName:     viper.GetString("AUDIO_DEV"),
		SampleRate:     cardFormat.SampleRate,
		Channels:       cardFormat.NumChannels,
		BlockSizeHint:  viper.GetInt("BLOCK_SIZE"),
		BlockCountHint: viper.GetInt("BLOCK_COUNT"),
	}, nil)

	// Receive direction: session -> resampler -> FIFO -> playback.
	playbackFifo := pipeline.NewSampleFifo(playbackFifoCapacity)
	playbackFifo.OnDataAvailable = device.AudioToWriteAvailable
	device.Source = playbackFifo

	var rxSink audio.SampleSink = pipeline.NewResampler(networkFormat, cardFormat, playbackFifo)
	if recordPath := viper.GetString("RX_RECORD_FILE"); recordPath != "" {
		recorder, err := pipeline.NewFileSink(recordPath, networkFormat)
		if err != nil {
			slog.Error("could not open receive recording file", "err", err)
			os.Exit(1)
		}
		defer recorder.Close()
		rxSink = &fanoutSink{primary: rxSink, taps: []audio.SampleSink{recorder}}
	}
	session.Sink = rxSink

	// Transmit direction: capture -> resampler -> session.
	device.Sink = pipeline.NewCaptureBridge(
		pipeline.NewResampler(cardFormat, networkFormat, session), nil)

	if err := device.Open(audiodev.ModeDuplex); err != nil {
		slog.Error("could not open audio device", "err", err)
		os.Exit(1)
	}
	defer device.Close()

	session.OnStateChange = func(state frn.State) {
		if state == frn.StateError {
			slog.Error("session entered terminal error state, shutting down")
			loop.Stop()
		}
	}
	wireAnnouncement(loop, session)

	session.Connect()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-interrupts
		loop.Post(func() {
			session.Disconnect()
			loop.Stop()
		})
	}()

	loop.Run()
}

// wireAnnouncement streams the configured WAV file into the session once
// the login completes.
func wireAnnouncement(loop *eventloop.Loop, session *frn.Session) {
	path := viper.GetString("ANNOUNCEMENT_FILE")
	if path == "" {
		return
	}
	source, err := pipeline.NewFileSource(path)
	if err != nil {
		slog.Error("could not load announcement file", "err", err)
		os.Exit(1)
	}

	txSink := pipeline.NewResampler(source.Properties(), networkFormat, session)
	previous := session.OnStateChange
	session.OnStateChange = func(state frn.State) {
		if previous != nil {
			previous(state)
		}
		if state == frn.StateLoggedIn {
			if err := source.StartStreaming(loop, txSink, announcementBlockDuration, nil); err != nil {
				slog.Warn("could not start announcement", "err", err)
			}
		}
	}
}
