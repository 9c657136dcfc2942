package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertBGRX(t *testing.T) {
	data := []byte{
		1, 2, 3, 0,
		10, 20, 30, 0,
	}
	img := convertBGRX(data, 2, 1)
	require.Equal(t, []uint8{3, 2, 1, 255, 30, 20, 10, 255}, img.Pix)
}

func TestConvertBGRXShortData(t *testing.T) {
	img := convertBGRX([]byte{1, 2, 3, 0}, 2, 1)
	require.Equal(t, []uint8{3, 2, 1, 255, 0, 0, 0, 0}, img.Pix)
}
