package recorder

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/stretchr/testify/require"
)

func catCommand(path string, _, _, _ int) *exec.Cmd {
	return exec.Command("sh", "-c", `cat > "$0"`, path)
}

func TestRecorderPipesFrames(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	path := filepath.Join(t.TempDir(), "record", "clip.raw")
	r := New(catCommand, 30)

	require.NoError(t, r.Start(path, 4, 2))
	require.True(t, r.Recording())
	require.Error(t, r.Start(path, 4, 2))

	f := frame.New(4, 2)
	for i := 0; i < 3; i++ {
		f.Fill(uint8(i), 0, 0)
		require.NoError(t, r.Write(f))
		// Keep the queue from overflowing
		time.Sleep(5 * time.Millisecond)
	}
	require.Error(t, r.Write(frame.New(2, 2)))

	require.NoError(t, r.Stop())
	require.False(t, r.Recording())
	require.NoError(t, r.Stop())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Len(t, data, 3*4*2*frame.Channels)
	require.EqualValues(t, 3, r.Written())
	require.EqualValues(t, 2, data[len(data)-frame.Channels])
}

func TestWriteWhenIdle(t *testing.T) {
	r := New(catCommand, 0)
	require.ErrorIs(t, r.Write(frame.New(1, 1)), ErrNotRecording)
}

func TestGStreamerCommand(t *testing.T) {
	cmd := GStreamerCommand("/tmp/out.mp4", 640, 480, 25)
	args := strings.Join(cmd.Args, " ")
	require.Contains(t, args, "width=640")
	require.Contains(t, args, "height=480")
	require.Contains(t, args, "framerate=25/1")
	require.Contains(t, args, "location=/tmp/out.mp4")
}

func stalledCommand(string, int, int, int) *exec.Cmd {
	return exec.Command("sh", "-c", "sleep 30")
}

func TestStopKillsStalledEncoder(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	r := New(stalledCommand, 30)
	r.SetStopTimeout(200 * time.Millisecond)
	require.NoError(t, r.Start(filepath.Join(t.TempDir(), "clip.raw"), 128, 128))

	// Enough frames to fill the pipe and leave the writer blocked
	f := frame.New(128, 128)
	for i := 0; i < 20; i++ {
		require.NoError(t, r.Write(f))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop() }()

	require.Eventually(t, func() bool { return !r.Recording() }, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, r.Write(f), ErrNotRecording)

	select {
	case err := <-stopped:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return after killing the encoder")
	}
}
