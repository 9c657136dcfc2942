package commands

import (
	"fmt"
	"os"

	"github.com/bryanchriswhite/LoopCam/internal/config"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	// Registers the shipped transform units
	_ "github.com/bryanchriswhite/LoopCam/internal/unit/units"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "loopcam",
		Short: "LoopCam - a virtual camera with live filters and overlays",
		Long: `LoopCam reads a physical camera, runs every frame through a chain of
transform units and publishes the result on a v4l2loopback device that
video-call applications can open like any other webcam.

Features:
  • Mirror, colour adjustments and an edge filter
  • Text captions, reaction icons and an FPS counter
  • Screen sharing through the camera feed
  • Recording to MP4 through GStreamer
  • Save and restore unit settings
  • REST API and websocket toggle feed`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Init(viper.GetString("log_level"), viper.GetBool("pretty"))
		},
	}
)

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/loopcam/config.yaml)")
	rootCmd.PersistentFlags().Int("port", 0, "control server port (default is 8080)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("pretty", true, "human readable console logs")
	rootCmd.PersistentFlags().String("input", "", "capture device (default is /dev/video0)")
	rootCmd.PersistentFlags().Int("output-port", -1, "v4l2loopback device number (default is 20)")

	viper.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("pretty", rootCmd.PersistentFlags().Lookup("pretty"))
	viper.BindPFlag("input_device", rootCmd.PersistentFlags().Lookup("input"))
	viper.BindPFlag("output_port", rootCmd.PersistentFlags().Lookup("output-port"))

	viper.SetEnvPrefix("loopcam")
	viper.AutomaticEnv()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// GetConfigFile returns the config file path
func GetConfigFile() string {
	return cfgFile
}

// loadConfig reads the config file and layers flag and environment
// overrides on top. Overrides are never written back to the file.
func loadConfig() (*config.Manager, error) {
	configMgr, err := config.NewManager(GetConfigFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize config manager: %w", err)
	}

	err = configMgr.Apply(func(c *config.Config) {
		if port := viper.GetInt("server_port"); port > 0 {
			c.ServerPort = port
		}
		if viper.IsSet("log_level") && rootCmd.PersistentFlags().Changed("log-level") {
			c.LogLevel = viper.GetString("log_level")
		}
		if input := viper.GetString("input_device"); input != "" {
			c.InputDevice = input
		}
		if port := viper.GetInt("output_port"); port >= 0 {
			c.OutputPort = port
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid override: %w", err)
	}

	// The file's level applies unless the flag was given
	if !rootCmd.PersistentFlags().Changed("log-level") {
		logger.Init(configMgr.GetLogLevel(), viper.GetBool("pretty"))
	}
	return configMgr, nil
}
