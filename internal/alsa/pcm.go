//go:build linux && cgo

package alsa

/*
#cgo LDFLAGS: -lasound
#include <alsa/asoundlib.h>
#include <poll.h>
#include <stdlib.h>
*/
import "C"

import (
	"errors"
	"fmt"
	"unsafe"
)

// PCM is an open ALSA stream handle. A PCM is single-owner and is not safe
// for concurrent use.
type PCM struct {
	handle *C.snd_pcm_t
	device string
}

func alsaError(op string, code C.int) error {
	return fmt.Errorf("%s: %s", op, C.GoString(C.snd_strerror(code)))
}

// Open opens the named ALSA device for one direction. The returned handle
// carries no negotiated geometry yet; call Negotiate before any I/O.
func Open(device string, stream StreamType) (*PCM, error) {
	direction := C.snd_pcm_stream_t(C.SND_PCM_STREAM_PLAYBACK)
	if stream == StreamCapture {
		direction = C.SND_PCM_STREAM_CAPTURE
	}

	cDevice := C.CString(device)
	defer C.free(unsafe.Pointer(cDevice))

	var handle *C.snd_pcm_t
	if code := C.snd_pcm_open(&handle, cDevice, direction, 0); code < 0 {
		return nil, alsaError("snd_pcm_open", code)
	}
	return &PCM{handle: handle, device: device}, nil
}

// Close releases the stream. The PCM must not be used afterwards.
func (pcm *PCM) Close() {
	if pcm.handle != nil {
		C.snd_pcm_close(pcm.handle)
		pcm.handle = nil
	}
}

// Negotiate applies hardware and software parameters: interleaved access,
// S16_LE samples, the requested rate (within tolerance), and period/buffer
// sizes near the given hints. Returns the geometry the hardware settled on.
func (pcm *PCM) Negotiate(params StreamParams) (Geometry, error) {
	var hwParams *C.snd_pcm_hw_params_t
	if code := C.snd_pcm_hw_params_malloc(&hwParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_malloc", code)
	}
	defer C.snd_pcm_hw_params_free(hwParams)

	if code := C.snd_pcm_hw_params_any(pcm.handle, hwParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_any", code)
	}
	if code := C.snd_pcm_hw_params_set_access(pcm.handle, hwParams, C.SND_PCM_ACCESS_RW_INTERLEAVED); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_access", code)
	}
	if code := C.snd_pcm_hw_params_set_format(pcm.handle, hwParams, C.SND_PCM_FORMAT_S16_LE); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_format", code)
	}

	realRate := C.uint(params.SampleRate)
	if code := C.snd_pcm_hw_params_set_rate_near(pcm.handle, hwParams, &realRate, nil); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_rate_near", code)
	}
	if delta := int(realRate) - params.SampleRate; delta > rateTolerance || delta < -rateTolerance {
		return Geometry{}, fmt.Errorf(
			"sample rate %d Hz not supported by %q, closest rate offered was %d Hz",
			params.SampleRate, pcm.device, int(realRate))
	}

	if code := C.snd_pcm_hw_params_set_channels(pcm.handle, hwParams, C.uint(params.Channels)); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_channels", code)
	}

	periodSize := C.snd_pcm_uframes_t(params.BlockSizeHint)
	if code := C.snd_pcm_hw_params_set_period_size_near(pcm.handle, hwParams, &periodSize, nil); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_period_size_near", code)
	}
	bufferSize := C.snd_pcm_uframes_t(params.BlockSizeHint * params.BlockCountHint)
	if code := C.snd_pcm_hw_params_set_buffer_size_near(pcm.handle, hwParams, &bufferSize); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params_set_buffer_size_near", code)
	}
	if code := C.snd_pcm_hw_params(pcm.handle, hwParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_hw_params", code)
	}

	var retPeriodSize, retBufferSize C.snd_pcm_uframes_t
	C.snd_pcm_hw_params_get_period_size(hwParams, &retPeriodSize, nil)
	C.snd_pcm_hw_params_get_buffer_size(hwParams, &retBufferSize)
	geometry := Geometry{
		BlockSize:  int(retPeriodSize),
		BlockCount: int(retBufferSize / retPeriodSize),
	}

	var swParams *C.snd_pcm_sw_params_t
	if code := C.snd_pcm_sw_params_malloc(&swParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_sw_params_malloc", code)
	}
	defer C.snd_pcm_sw_params_free(swParams)

	if code := C.snd_pcm_sw_params_current(pcm.handle, swParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_sw_params_current", code)
	}
	startThreshold := C.snd_pcm_uframes_t((geometry.BlockCount - 1) * geometry.BlockSize)
	if code := C.snd_pcm_sw_params_set_start_threshold(pcm.handle, swParams, startThreshold); code < 0 {
		return Geometry{}, alsaError("snd_pcm_sw_params_set_start_threshold", code)
	}
	if code := C.snd_pcm_sw_params_set_avail_min(pcm.handle, swParams, C.snd_pcm_uframes_t(geometry.BlockSize)); code < 0 {
		return Geometry{}, alsaError("snd_pcm_sw_params_set_avail_min", code)
	}
	if code := C.snd_pcm_sw_params(pcm.handle, swParams); code < 0 {
		return Geometry{}, alsaError("snd_pcm_sw_params", code)
	}

	return geometry, nil
}

// AvailUpdate reports, for capture, the number of frames ready to read and,
// for playback, the free space in frames. An error means the stream is in a
// failed state (typically an overrun or underrun) and needs a restart.
func (pcm *PCM) AvailUpdate() (int, error) {
	avail := C.snd_pcm_avail_update(pcm.handle)
	if avail < 0 {
		return 0, alsaError("snd_pcm_avail_update", C.int(avail))
	}
	return int(avail), nil
}

// ReadInterleaved reads exactly frames frames of interleaved samples.
func (pcm *PCM) ReadInterleaved(buf []int16, frames int) (int, error) {
	n := C.snd_pcm_readi(pcm.handle, unsafe.Pointer(&buf[0]), C.snd_pcm_uframes_t(frames))
	if n < 0 {
		return 0, alsaError("snd_pcm_readi", C.int(n))
	}
	return int(n), nil
}

// WriteInterleaved writes exactly frames frames of interleaved samples.
func (pcm *PCM) WriteInterleaved(buf []int16, frames int) (int, error) {
	n := C.snd_pcm_writei(pcm.handle, unsafe.Pointer(&buf[0]), C.snd_pcm_uframes_t(frames))
	if n < 0 {
		return 0, alsaError("snd_pcm_writei", C.int(n))
	}
	return int(n), nil
}

// Prepare moves the stream to the prepared state, recovering from xruns.
func (pcm *PCM) Prepare() error {
	if code := C.snd_pcm_prepare(pcm.handle); code < 0 {
		return alsaError("snd_pcm_prepare", code)
	}
	return nil
}

// Start begins streaming. Only capture streams are started explicitly;
// playback starts on its own once the start threshold is reached.
func (pcm *PCM) Start() error {
	if code := C.snd_pcm_start(pcm.handle); code < 0 {
		return alsaError("snd_pcm_start", code)
	}
	return nil
}

// PollDescriptors enumerates the stream's pollable descriptors and the
// event masks they must be polled with. The set is fixed for the lifetime
// of the handle.
func (pcm *PCM) PollDescriptors() ([]PollFd, error) {
	count := C.snd_pcm_poll_descriptors_count(pcm.handle)
	if count < 0 {
		return nil, alsaError("snd_pcm_poll_descriptors_count", count)
	}
	if count == 0 {
		return nil, errors.New("pcm stream exposes no poll descriptors")
	}

	cFds := make([]C.struct_pollfd, count)
	filled := C.snd_pcm_poll_descriptors(pcm.handle, &cFds[0], C.uint(count))
	if filled < 0 {
		return nil, alsaError("snd_pcm_poll_descriptors", filled)
	}

	pollFds := make([]PollFd, filled)
	for i := range pollFds {
		pollFds[i] = PollFd{Fd: int(cFds[i].fd), Events: int16(cFds[i].events)}
	}
	return pollFds, nil
}

// ReventsTranslate maps raw poll revents for one descriptor to the
// hardware's notion of readiness. Raw OS readiness on an ALSA descriptor
// does not necessarily mean the ring buffer is ready; the driver owns the
// translation.
func (pcm *PCM) ReventsTranslate(pollFd PollFd, revents int16) (int16, error) {
	cFd := C.struct_pollfd{
		fd:      C.int(pollFd.Fd),
		events:  C.short(pollFd.Events),
		revents: C.short(revents),
	}
	var translated C.ushort
	if code := C.snd_pcm_poll_descriptors_revents(pcm.handle, &cFd, 1, &translated); code < 0 {
		return 0, alsaError("snd_pcm_poll_descriptors_revents", code)
	}
	return int16(translated), nil
}
