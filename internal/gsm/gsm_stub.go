//go:build !cgo

package gsm

import "errors"

const (
	FrameSamples = 320
	FrameBytes   = 65
)

var errNoCgo = errors.New("gsm codec requires cgo")

// Codec is unavailable without cgo; every operation fails.
type Codec struct{}

func New() (*Codec, error) { return nil, errNoCgo }

func (codec *Codec) Close() {}

func (codec *Codec) EncodeFrame(pcm []int16, dst []byte) error { return errNoCgo }

func (codec *Codec) DecodeFrame(src []byte, pcm []int16) error { return errNoCgo }
