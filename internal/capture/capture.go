// Package capture grabs the desktop so it can stand in for the camera
// picture.
package capture

import (
	"image"
)

// Grabber captures the whole screen
type Grabber interface {
	// Grab returns the current screen contents
	Grab() (*image.RGBA, error)

	// Name returns a human-readable name for this grabber
	Name() string

	Close() error
}
