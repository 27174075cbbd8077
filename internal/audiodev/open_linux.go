//go:build linux && cgo

package audiodev

import "github.com/frnlink/frnlink/internal/alsa"

func openSystemPCM(device string, stream alsa.StreamType) (pcmHandle, error) {
	pcm, err := alsa.Open(device, stream)
	if err != nil {
		return nil, err
	}
	return pcm, nil
}
