// Package api is the HTTP control surface of LoopCam. It lists units and
// their actions, invokes handlers, saves and loads unit state, starts and
// stops the stream and pushes toggle changes over a websocket.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/config"
	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/engine"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/output"
	"github.com/bryanchriswhite/LoopCam/internal/state"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server represents the HTTP API server
type Server struct {
	router    *mux.Router
	units     *unit.Discovery
	engine    *engine.Engine
	store     *state.Store
	configMgr *config.Manager
	preview   *output.MJPEGPreview
	upgrader  websocket.Upgrader
}

// NewServer creates a new API server. preview may be nil.
func NewServer(units *unit.Discovery, eng *engine.Engine, store *state.Store, configMgr *config.Manager, preview *output.MJPEGPreview) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		units:     units,
		engine:    eng,
		store:     store,
		configMgr: configMgr,
		preview:   preview,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api").Subrouter()

	// Units
	api.HandleFunc("/units", s.handleListUnits).Methods("GET")
	api.HandleFunc("/units/{id}/actions/{index:[0-9]+}", s.handleInvokeAction).Methods("POST")
	api.HandleFunc("/units/{id}/state", s.handleGetUnitState).Methods("GET")
	api.HandleFunc("/units/{id}/state", s.handlePutUnitState).Methods("PUT")
	api.HandleFunc("/toggles/ws", s.handleToggleFeed)

	// Whole-blob state
	api.HandleFunc("/state/save", s.handleSaveState).Methods("POST")
	api.HandleFunc("/state/load", s.handleLoadState).Methods("POST")

	// Stream
	api.HandleFunc("/stream/status", s.handleStreamStatus).Methods("GET")
	api.HandleFunc("/stream/start", s.handleStreamStart).Methods("POST")
	api.HandleFunc("/stream/stop", s.handleStreamStop).Methods("POST")

	api.HandleFunc("/config", s.handleGetConfig).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	if s.preview != nil {
		s.router.HandleFunc("/stream", s.preview.StreamHandler())
		s.router.HandleFunc("/view", s.preview.ViewerHandler())
		api.HandleFunc("/preview/stats", s.preview.StatsHandler()).Methods("GET")
	}

	s.router.HandleFunc("/", s.handleIndex)
}

// Handler returns the router wrapped with CORS headers
func (s *Server) Handler() http.Handler {
	return s.enableCORS(s.router)
}

// Start serves on port until ctx is cancelled
func (s *Server) Start(ctx context.Context, port int) error {
	log := logger.WithComponent("api")
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown did not complete")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// enableCORS adds CORS headers
func (s *Server) enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// decodeOptional decodes a JSON body into v, accepting an empty body
func decodeOptional(r *http.Request, v interface{}) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.configMgr.Get())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"stream": s.engine.State().String(),
	})
}

func (s *Server) handleStreamStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

// StartRequest overrides the configured device settings for one start
type StartRequest struct {
	Input  string `json:"input,omitempty"`
	Port   *int   `json:"port,omitempty"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
	Format string `json:"format,omitempty"`
}

func (s *Server) handleStreamStart(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := decodeOptional(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	opts, err := s.configMgr.Get().EngineOptions()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if req.Input != "" {
		opts.Input = req.Input
	}
	if req.Port != nil {
		opts.Port = *req.Port
	}
	if req.Width > 0 && req.Height > 0 {
		opts.Preferred = device.Resolution{Width: req.Width, Height: req.Height}
	}
	if req.Format != "" {
		if opts.PixelFormat, err = device.ParsePixelFormat(req.Format); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	if err := s.engine.Start(opts); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrDeviceUnavailable) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleStreamStop(w http.ResponseWriter, r *http.Request) {
	s.engine.Stop()
	writeJSON(w, http.StatusOK, s.engine.Stats())
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	html := `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>LoopCam</title>
</head>
<body>
    <h1>LoopCam</h1>
    <ul>
        <li><a href="/api/health">/api/health</a></li>
        <li><a href="/api/units">/api/units</a></li>
        <li><a href="/api/stream/status">/api/stream/status</a></li>
        <li><a href="/view">/view</a> (when the preview is enabled)</li>
    </ul>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}

func pathIndex(r *http.Request) (int, error) {
	return strconv.Atoi(mux.Vars(r)["index"])
}
