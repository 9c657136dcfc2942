//go:build linux

package commands

import (
	"fmt"
	"sort"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/device/v4l2"
)

// backends maps --backend values to device providers
var backends = map[string]device.Provider{
	"v4l2": v4l2.Provider{},
}

func newProvider(name string) (device.Provider, error) {
	p, ok := backends[name]
	if !ok {
		names := make([]string, 0, len(backends))
		for n := range backends {
			names = append(names, n)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("unknown backend %q (available: %v)", name, names)
	}
	return p, nil
}
