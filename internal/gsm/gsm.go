//go:build cgo

// Package gsm wraps libgsm in WAV49 mode, the voice codec of the FRN
// protocol.
//
// In WAV49 mode the codec packs two GSM 06.10 half-frames of 160 samples
// each into one 65-byte frame: the first half encodes to 32 bytes, the
// second to 33. The codec keeps history across calls, so frames must be
// encoded and decoded in strict transmission order, and an encoder/decoder
// pair must never be shared between logical streams.
package gsm

/*
#cgo LDFLAGS: -lgsm
#include <gsm.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"runtime"
	"unsafe"
)

const (
	// FrameSamples is the number of 16-bit PCM samples per codec frame.
	FrameSamples = 320
	// FrameBytes is the compressed size of one codec frame.
	FrameBytes = 65
	// halfFrameBytes is where the second WAV49 half-frame starts when
	// encoding; decoding reads the second half one byte later because the
	// halves alternate 32/33.
	halfFrameBytes = 32
)

var (
	errBadPCMLength  = fmt.Errorf("pcm frame must hold exactly %d samples", FrameSamples)
	errBadDataLength = fmt.Errorf("compressed frame must hold exactly %d bytes", FrameBytes)
	errClosed        = errors.New("codec is closed")
)

// Codec is a stateful GSM 06.10 WAV49 encoder/decoder.
type Codec struct {
	handle C.gsm
}

// New creates a codec with WAV49 framing enabled.
func New() (*Codec, error) {
	handle := C.gsm_create()
	if handle == nil {
		return nil, errors.New("gsm_create failed")
	}
	wav49 := C.int(1)
	if C.gsm_option(handle, C.GSM_OPT_WAV49, &wav49) == -1 {
		C.gsm_destroy(handle)
		return nil, errors.New("gsm codec does not support WAV49 framing")
	}
	codec := &Codec{handle: handle}
	runtime.SetFinalizer(codec, (*Codec).Close)
	return codec, nil
}

// Close releases the codec state. The codec must not be used afterwards.
func (codec *Codec) Close() {
	if codec.handle != nil {
		C.gsm_destroy(codec.handle)
		codec.handle = nil
	}
}

// EncodeFrame compresses one frame of PCM samples into dst.
// len(pcm) must be FrameSamples and len(dst) must be FrameBytes.
func (codec *Codec) EncodeFrame(pcm []int16, dst []byte) error {
	if codec.handle == nil {
		return errClosed
	}
	if len(pcm) != FrameSamples {
		return errBadPCMLength
	}
	if len(dst) != FrameBytes {
		return errBadDataLength
	}

	// WAV49 produces alternating half-frames of 32 and 33 bytes.
	C.gsm_encode(codec.handle,
		(*C.gsm_signal)(unsafe.Pointer(&pcm[0])),
		(*C.gsm_byte)(unsafe.Pointer(&dst[0])))
	C.gsm_encode(codec.handle,
		(*C.gsm_signal)(unsafe.Pointer(&pcm[FrameSamples/2])),
		(*C.gsm_byte)(unsafe.Pointer(&dst[halfFrameBytes])))
	return nil
}

// DecodeFrame expands one compressed frame into pcm.
// len(src) must be FrameBytes and len(pcm) must be FrameSamples.
func (codec *Codec) DecodeFrame(src []byte, pcm []int16) error {
	if codec.handle == nil {
		return errClosed
	}
	if len(src) != FrameBytes {
		return errBadDataLength
	}
	if len(pcm) != FrameSamples {
		return errBadPCMLength
	}

	// WAV49 consumes alternating half-frames of 33 and 32 bytes.
	if C.gsm_decode(codec.handle,
		(*C.gsm_byte)(unsafe.Pointer(&src[0])),
		(*C.gsm_signal)(unsafe.Pointer(&pcm[0]))) != 0 {
		return errors.New("gsm_decode rejected first half-frame")
	}
	if C.gsm_decode(codec.handle,
		(*C.gsm_byte)(unsafe.Pointer(&src[halfFrameBytes+1])),
		(*C.gsm_signal)(unsafe.Pointer(&pcm[FrameSamples/2]))) != 0 {
		return errors.New("gsm_decode rejected second half-frame")
	}
	return nil
}
