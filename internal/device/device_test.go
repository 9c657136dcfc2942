package device

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPixelFormatFourCC(t *testing.T) {
	require.Equal(t, PixelFormat(0x56595559), YUYV)
	require.Equal(t, "YUYV", YUYV.String())
	require.Equal(t, "MJPG", MJPEG.String())
	require.Equal(t, "RGB3", RGB24.String())
}

func TestParsePixelFormat(t *testing.T) {
	for in, want := range map[string]PixelFormat{
		"yuyv":  YUYV,
		"YUY2":  YUYV,
		"MJPG":  MJPEG,
		"mjpeg": MJPEG,
		"RGB24": RGB24,
	} {
		got, err := ParsePixelFormat(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParsePixelFormat("H264")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestResolution(t *testing.T) {
	require.Equal(t, "640x480", Resolution{Width: 640, Height: 480}.String())
	require.False(t, Resolution{Width: 640}.Valid())
	require.Equal(t, "/dev/video20", OutputPath(20))
	require.Equal(t, "MJPG 1280x720", Format{PixelFormat: MJPEG, Resolution: Resolution{1280, 720}}.String())
}

func TestPixelFormatText(t *testing.T) {
	data, err := json.Marshal(Format{PixelFormat: MJPEG, Resolution: Resolution{Width: 2, Height: 1}})
	require.NoError(t, err)
	require.JSONEq(t, `{"pixel_format":"MJPG","width":2,"height":1}`, string(data))

	var f Format
	require.NoError(t, json.Unmarshal([]byte(`{"pixel_format":"yuyv","width":4,"height":3}`), &f))
	require.Equal(t, YUYV, f.PixelFormat)
	require.Error(t, json.Unmarshal([]byte(`{"pixel_format":"H264"}`), &f))
}
