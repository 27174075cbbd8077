//go:build !linux || !cgo

package audiodev

import (
	"errors"

	"github.com/frnlink/frnlink/internal/alsa"
)

func openSystemPCM(device string, stream alsa.StreamType) (pcmHandle, error) {
	return nil, errors.New("alsa audio devices require linux and cgo")
}
