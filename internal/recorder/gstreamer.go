// Package recorder encodes frames to a video file through a gst-launch-1.0
// subprocess, which keeps codecs out of this binary.
package recorder

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

// ErrNotRecording is returned by Write when no recording is active
var ErrNotRecording = errors.New("not recording")

// CommandFunc builds the encoder process for one recording. The process
// reads packed RGB24 frames of the given size from stdin.
type CommandFunc func(path string, width, height, fps int) *exec.Cmd

// GStreamerCommand encodes RGB24 from stdin to H.264 in an MP4 file
func GStreamerCommand(path string, width, height, fps int) *exec.Cmd {
	pipeline := []string{
		"-q", "-e",
		"fdsrc", "fd=0", "!",
		"rawvideoparse", "format=rgb",
		fmt.Sprintf("width=%d", width),
		fmt.Sprintf("height=%d", height),
		fmt.Sprintf("framerate=%d/1", fps), "!",
		"videoconvert", "!",
		"x264enc", "tune=zerolatency", "speed-preset=veryfast", "!",
		"mp4mux", "!",
		"filesink", "location=" + path,
	}
	return exec.Command("gst-launch-1.0", pipeline...)
}

// queueDepth is the number of frames buffered for a slow encoder
const queueDepth = 8

// stopTimeout bounds how long Stop waits for the encoder to finalize
const stopTimeout = 5 * time.Second

// session is one running encoder
type session struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	frames  chan []byte
	done    chan struct{}
	path    string
	width   int
	height  int
	started time.Time
}

// kill terminates the encoder and unblocks a pending stdin write
func (s *session) kill() {
	s.cmd.Process.Kill()
	s.stdin.Close()
}

// Recorder manages one encoder subprocess at a time
type Recorder struct {
	command     CommandFunc
	fps         int
	stopTimeout time.Duration

	mu   sync.Mutex
	cur  *session
	path string

	recording atomic.Bool
	written   atomic.Uint64
	dropped   atomic.Uint64
}

// New creates a recorder. A nil command uses GStreamerCommand.
func New(command CommandFunc, fps int) *Recorder {
	if command == nil {
		command = GStreamerCommand
	}
	if fps <= 0 {
		fps = 30
	}
	return &Recorder{command: command, fps: fps, stopTimeout: stopTimeout}
}

// SetStopTimeout changes how long Stop waits before killing the encoder
func (r *Recorder) SetStopTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopTimeout = d
}

// Start launches the encoder writing to path for frames of the given size
func (r *Recorder) Start(path string, width, height int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.cur != nil {
		return fmt.Errorf("recording to %s already running", r.cur.path)
	}

	log := logger.WithComponent("recorder")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create recording directory: %w", err)
	}

	cmd := r.command(path, width, height, r.fps)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdin pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to get stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start encoder: %w", err)
	}

	s := &session{
		cmd:     cmd,
		stdin:   stdin,
		frames:  make(chan []byte, queueDepth),
		done:    make(chan struct{}),
		path:    path,
		width:   width,
		height:  height,
		started: time.Now(),
	}
	r.cur = s
	r.path = path
	r.written.Store(0)
	r.dropped.Store(0)
	r.recording.Store(true)

	go r.writeFrames(s.frames, stdin, s.done)
	go logStderr(stderr)

	log.Info().
		Str("path", path).
		Int("width", width).
		Int("height", height).
		Int("pid", cmd.Process.Pid).
		Msg("Recording started")
	return nil
}

// Recording reports whether an encoder is accepting frames. It never
// blocks, even while a recording is being finalized.
func (r *Recorder) Recording() bool {
	return r.recording.Load()
}

// Path returns the file of the current or last recording
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Write queues a copy of f for the encoder. Frames are dropped rather than
// blocking when the encoder falls behind.
func (r *Recorder) Write(f *frame.Frame) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.cur
	if s == nil {
		return ErrNotRecording
	}
	if f.Width != s.width || f.Height != s.height {
		return fmt.Errorf("frame %s does not match recording size %dx%d", f, s.width, s.height)
	}

	buf := make([]byte, len(f.Pix))
	copy(buf, f.Pix)
	select {
	case s.frames <- buf:
	default:
		r.dropped.Inc()
	}
	return nil
}

// writeFrames pipes queued frames into the encoder until frames is closed
func (r *Recorder) writeFrames(frames <-chan []byte, stdin io.WriteCloser, done chan<- struct{}) {
	defer close(done)
	log := logger.WithComponent("recorder")

	broken := false
	for buf := range frames {
		if broken {
			continue
		}
		if _, err := stdin.Write(buf); err != nil {
			log.Error().Err(err).Msg("Encoder stopped accepting frames")
			broken = true
			continue
		}
		r.written.Inc()
	}
	stdin.Close()
}

// detach takes the running session out of the recorder so no further
// frames are queued to it
func (r *Recorder) detach() (*session, time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := r.cur
	r.cur = nil
	r.recording.Store(false)
	return s, r.stopTimeout
}

// Stop flushes queued frames, lets the encoder finalize the file and waits
// for it to exit. An encoder that has not finished within the stop timeout
// is killed. It is a no-op when not recording.
func (r *Recorder) Stop() error {
	s, timeout := r.detach()
	if s == nil {
		return nil
	}
	log := logger.WithComponent("recorder")

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	killed := false
	kill := func() {
		log.Warn().Int("pid", s.cmd.Process.Pid).Msg("Encoder did not exit, killing it")
		s.kill()
		killed = true
	}

	close(s.frames)
	select {
	case <-s.done:
	case <-deadline.C:
		kill()
		<-s.done
	}

	waitErr := make(chan error, 1)
	go func() { waitErr <- s.cmd.Wait() }()

	var err error
	if killed {
		err = <-waitErr
	} else {
		select {
		case err = <-waitErr:
		case <-deadline.C:
			kill()
			err = <-waitErr
		}
	}

	log.Info().
		Str("path", s.path).
		Str("frames", humanize.Comma(int64(r.written.Load()))).
		Str("dropped", humanize.Comma(int64(r.dropped.Load()))).
		Bool("killed", killed).
		Dur("duration", time.Since(s.started)).
		Msg("Recording stopped")

	if err != nil {
		return fmt.Errorf("encoder exited with error: %w", err)
	}
	return nil
}

// Written returns the number of frames handed to the encoder
func (r *Recorder) Written() uint64 {
	return r.written.Load()
}

// logStderr logs any output from the encoder subprocess
func logStderr(stderr io.Reader) {
	log := logger.WithComponent("recorder")
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.Contains(line, "ERROR") || strings.Contains(line, "WARN") {
			log.Warn().Str("gst", line).Msg("Encoder message")
		} else {
			log.Debug().Str("gst", line).Msg("Encoder output")
		}
	}
}
