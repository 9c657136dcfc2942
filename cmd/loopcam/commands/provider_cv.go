//go:build with_cv && linux

package commands

import (
	"github.com/bryanchriswhite/LoopCam/internal/device/opencv"
)

func init() {
	backends["opencv"] = opencv.Provider{}
}
