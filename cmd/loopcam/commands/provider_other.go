//go:build !linux

package commands

import (
	"errors"

	"github.com/bryanchriswhite/LoopCam/internal/device"
)

func newProvider(string) (device.Provider, error) {
	return nil, errors.New("video devices are only supported on linux")
}
