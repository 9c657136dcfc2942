package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bryanchriswhite/LoopCam/internal/api"
	"github.com/bryanchriswhite/LoopCam/internal/engine"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/bryanchriswhite/LoopCam/internal/output"
	"github.com/bryanchriswhite/LoopCam/internal/state"
	"github.com/bryanchriswhite/LoopCam/internal/unit"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Stream the camera through the unit chain",
	Long: `Open the capture device, install the unit chain and publish every frame on
the v4l2loopback device, then serve the control API until interrupted.

The loopback module must already be loaded, for example:
  sudo modprobe v4l2loopback video_nr=20 card_label=LoopCam exclusive_caps=1`,
	Example: `  # Stream /dev/video0 to /dev/video20
  loopcam serve

  # Restore the unit settings saved last time
  loopcam serve --state recent

  # Another camera and loopback device, with a browser preview
  loopcam serve --input /dev/video2 --output-port 10 --preview`,
	RunE: runServe,
}

var (
	serveState   string
	servePreview bool
	serveBackend string
	serveNoSave  bool
	serveWindow  bool
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveState, "state", "", `saved unit state to load before streaming ("recent" for the last session)`)
	serveCmd.Flags().BoolVar(&servePreview, "preview", false, "serve an MJPEG preview of the published picture at /view")
	serveCmd.Flags().StringVar(&serveBackend, "backend", "v4l2", "capture backend (v4l2, or opencv when built with_cv)")
	serveCmd.Flags().BoolVar(&serveWindow, "window", false, "show the published picture in a local X11 window")
	serveCmd.Flags().BoolVar(&serveNoSave, "no-save", false, "do not save unit state to the recent slot on exit")
}

func runServe(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("serve")

	configMgr, err := loadConfig()
	if err != nil {
		return err
	}
	cfg := configMgr.Get()
	log.Info().Str("path", configMgr.GetConfigPath()).Msg("Configuration loaded")

	provider, err := newProvider(serveBackend)
	if err != nil {
		return err
	}

	discovery := unit.Discover(cfg.BlockList, unit.Env{DataDir: cfg.DataDir})
	defer discovery.Close()
	log.Info().Stringer("chain", discovery.Chain).Msg("Units ready")

	store := state.NewStore(cfg.StateDir)
	if serveState != "" {
		path := serveState
		if path == "recent" {
			path = ""
		}
		mismatches, err := store.Restore(path, discovery.Units)
		switch {
		case errors.Is(err, state.ErrSlotNotFound) && path == "":
			log.Info().Msg("No recent state yet, starting with defaults")
		case err != nil:
			return fmt.Errorf("failed to load state: %w", err)
		default:
			log.Info().Int("rejected", len(mismatches)).Msg("Unit state restored")
		}
	}

	var sinks []output.Sink
	var preview *output.MJPEGPreview
	if servePreview || cfg.Preview {
		preview = output.NewMJPEGPreview(80)
		if err := preview.Start(); err != nil {
			return err
		}
		defer preview.Stop()
		sinks = append(sinks, preview)
	}

	if serveWindow {
		win, err := output.NewWindow("LoopCam preview")
		if err != nil {
			return fmt.Errorf("failed to open preview window: %w", err)
		}
		defer win.Close()
		sinks = append(sinks, win)
	}

	eng := engine.New(provider, sinks...)
	eng.SetMapping(engine.Mapping(discovery.Chain.Mapping()))
	defer eng.Stop()

	opts, err := cfg.EngineOptions()
	if err != nil {
		return err
	}
	if err := eng.Start(opts); err != nil {
		// The API can retry once the device is back
		log.Error().Err(err).Msg("Streaming not started")
	} else {
		log.Info().Stringer("stats", eng.Stats()).Msg("Streaming")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server := api.NewServer(discovery, eng, store, configMgr, preview)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx, cfg.ServerPort)
	}()

	log.Info().
		Int("port", cfg.ServerPort).
		Msgf("LoopCam is running, control API on http://localhost:%d/api, press Ctrl+C to stop", cfg.ServerPort)

	select {
	case <-ctx.Done():
	case err = <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("Control server failed")
		}
	}

	log.Info().Msg("Shutting down gracefully...")
	eng.Stop()
	if !serveNoSave {
		if perr := store.Persist("", discovery.Units); perr != nil {
			log.Warn().Err(perr).Msg("Failed to save unit state")
		}
	}
	log.Info().Stringer("stats", eng.Stats()).Msg("Stopped")
	return err
}
