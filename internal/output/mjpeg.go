package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/jpeg"
	"net/http"
	"sync"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/frame"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/dustin/go-humanize"
	"go.uber.org/atomic"
)

// MJPEGPreview streams published frames as Motion JPEG over HTTP so the
// virtual camera can be watched in a browser
type MJPEGPreview struct {
	quality int
	running atomic.Bool

	// Connected clients
	clientsMu sync.RWMutex
	clients   map[chan []byte]struct{}

	frameMu    sync.RWMutex
	lastUpdate time.Time
	lastSize   int

	// Stats
	frameCount atomic.Uint64
	byteCount  atomic.Uint64
	startTime  time.Time
}

var _ Sink = (*MJPEGPreview)(nil)

// NewMJPEGPreview creates a stopped preview. quality is the JPEG quality.
func NewMJPEGPreview(quality int) *MJPEGPreview {
	if quality <= 0 || quality > 100 {
		quality = 80
	}
	return &MJPEGPreview{
		quality: quality,
		clients: make(map[chan []byte]struct{}),
	}
}

// Start enables the preview
func (m *MJPEGPreview) Start() error {
	if !m.running.CompareAndSwap(false, true) {
		return fmt.Errorf("MJPEG preview already running")
	}
	m.frameMu.Lock()
	m.startTime = time.Now()
	m.frameMu.Unlock()
	m.frameCount.Store(0)
	m.byteCount.Store(0)

	logger.WithComponent("preview").Info().Int("quality", m.quality).Msg("MJPEG preview started")
	return nil
}

// Stop disconnects every client
func (m *MJPEGPreview) Stop() error {
	if !m.running.CompareAndSwap(true, false) {
		return nil
	}

	m.clientsMu.Lock()
	for ch := range m.clients {
		close(ch)
	}
	m.clients = make(map[chan []byte]struct{})
	m.clientsMu.Unlock()

	logger.WithComponent("preview").Info().
		Str("frames", humanize.Comma(int64(m.frameCount.Load()))).
		Msg("MJPEG preview stopped")
	return nil
}

// Name implements Sink
func (m *MJPEGPreview) Name() string {
	return "MJPEG HTTP preview"
}

// IsRunning returns true if the preview is active
func (m *MJPEGPreview) IsRunning() bool {
	return m.running.Load()
}

// Clients returns the number of connected viewers
func (m *MJPEGPreview) Clients() int {
	m.clientsMu.RLock()
	defer m.clientsMu.RUnlock()
	return len(m.clients)
}

// WriteFrame encodes f and hands it to every connected client. Frames are
// not encoded while nobody is watching.
func (m *MJPEGPreview) WriteFrame(f *frame.Frame) error {
	if !m.IsRunning() {
		return fmt.Errorf("MJPEG preview not running")
	}
	if m.Clients() == 0 {
		return nil
	}

	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, f, &jpeg.Options{Quality: m.quality}); err != nil {
		return fmt.Errorf("failed to encode JPEG: %w", err)
	}
	jpegData := buf.Bytes()

	m.frameMu.Lock()
	m.lastUpdate = time.Now()
	m.lastSize = len(jpegData)
	m.frameMu.Unlock()

	m.frameCount.Inc()
	m.byteCount.Add(uint64(len(jpegData)))

	m.clientsMu.RLock()
	for ch := range m.clients {
		select {
		case ch <- jpegData:
		default:
			// Client is slow, skip this frame
		}
	}
	m.clientsMu.RUnlock()
	return nil
}

// StreamHandler serves the multipart MJPEG stream
func (m *MJPEGPreview) StreamHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !m.IsRunning() {
			http.Error(w, "preview disabled", http.StatusServiceUnavailable)
			return
		}

		w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
		w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
		w.Header().Set("Pragma", "no-cache")
		w.Header().Set("Expires", "0")
		w.Header().Set("Connection", "close")

		frameChan := make(chan []byte, 2)

		m.clientsMu.Lock()
		m.clients[frameChan] = struct{}{}
		clientCount := len(m.clients)
		m.clientsMu.Unlock()

		log := logger.WithComponent("preview")
		log.Info().Int("clients", clientCount).Msg("Preview client connected")

		defer func() {
			m.clientsMu.Lock()
			delete(m.clients, frameChan)
			clientCount := len(m.clients)
			m.clientsMu.Unlock()
			log.Info().Int("clients", clientCount).Msg("Preview client disconnected")
		}()

		for {
			select {
			case <-r.Context().Done():
				return
			case jpegData, ok := <-frameChan:
				if !ok {
					return
				}
				if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(jpegData)); err != nil {
					return
				}
				if _, err := w.Write(jpegData); err != nil {
					return
				}
				if _, err := fmt.Fprintf(w, "\r\n"); err != nil {
					return
				}
				if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
			}
		}
	}
}

// ViewerHandler serves a bare page showing the stream
func (m *MJPEGPreview) ViewerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>LoopCam</title>
    <style>
        body { margin: 0; background: #000; display: flex; justify-content: center; align-items: center; min-height: 100vh; }
        img { width: 100vw; height: 100vh; object-fit: contain; }
    </style>
</head>
<body>
    <img src="/stream" alt="LoopCam preview">
</body>
</html>`))
	}
}

// PreviewStats is reported by StatsHandler
type PreviewStats struct {
	Running    bool    `json:"running"`
	Clients    int     `json:"clients"`
	Frames     uint64  `json:"frames"`
	Sent       string  `json:"sent"`
	FPS        float64 `json:"fps"`
	LastFrame  string  `json:"last_frame"`
	LastUpdate string  `json:"last_update"`
}

// Stats returns the current preview statistics
func (m *MJPEGPreview) Stats() PreviewStats {
	m.frameMu.RLock()
	lastUpdate, lastSize, startTime := m.lastUpdate, m.lastSize, m.startTime
	m.frameMu.RUnlock()

	s := PreviewStats{
		Running:    m.IsRunning(),
		Clients:    m.Clients(),
		Frames:     m.frameCount.Load(),
		Sent:       humanize.Bytes(m.byteCount.Load()),
		LastFrame:  humanize.Bytes(uint64(lastSize)),
		LastUpdate: "never",
	}
	if s.Running && !startTime.IsZero() {
		if elapsed := time.Since(startTime).Seconds(); elapsed > 0 {
			s.FPS = float64(s.Frames) / elapsed
		}
	}
	if !lastUpdate.IsZero() {
		s.LastUpdate = humanize.Time(lastUpdate)
	}
	return s
}

// StatsHandler serves Stats as JSON
func (m *MJPEGPreview) StatsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(m.Stats())
	}
}
