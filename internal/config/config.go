// Package config holds LoopCam's application settings: which devices to
// stream between, where state and data live, and how the control server
// runs. Unit state is not stored here; see package state.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bryanchriswhite/LoopCam/internal/device"
	"github.com/bryanchriswhite/LoopCam/internal/engine"
	"github.com/bryanchriswhite/LoopCam/internal/logger"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	InputDevice         string            `json:"input_device" yaml:"input_device"`
	OutputPort          int               `json:"output_port" yaml:"output_port"`
	PreferredResolution device.Resolution `json:"preferred_resolution" yaml:"preferred_resolution"`
	PixelFormat         string            `json:"pixel_format" yaml:"pixel_format"`
	OutputFormat        string            `json:"output_format" yaml:"output_format"`
	ReadTimeoutMS       int               `json:"read_timeout_ms" yaml:"read_timeout_ms"`

	// BlockList names units that are never instantiated
	BlockList []string `json:"block_list" yaml:"block_list"`

	StateDir string `json:"state_dir" yaml:"state_dir"`
	DataDir  string `json:"data_dir" yaml:"data_dir"`

	ServerPort int    `json:"server_port" yaml:"server_port"`
	LogLevel   string `json:"log_level" yaml:"log_level"`
	Preview    bool   `json:"preview" yaml:"preview"`
}

// Validate checks values a hand-edited file may get wrong
func (c *Config) Validate() error {
	if c.InputDevice == "" {
		return fmt.Errorf("input_device is empty")
	}
	if c.OutputPort < 0 {
		return fmt.Errorf("output_port %d is negative", c.OutputPort)
	}
	if !c.PreferredResolution.Valid() {
		return fmt.Errorf("preferred_resolution %s is invalid", c.PreferredResolution)
	}
	if _, err := device.ParsePixelFormat(c.PixelFormat); err != nil {
		return fmt.Errorf("pixel_format: %w", err)
	}
	out, err := device.ParsePixelFormat(c.OutputFormat)
	if err != nil {
		return fmt.Errorf("output_format: %w", err)
	}
	if out != device.YUYV && out != device.RGB24 {
		return fmt.Errorf("output_format %s is not YUYV or RGB24", out)
	}
	if c.ReadTimeoutMS <= 0 {
		return fmt.Errorf("read_timeout_ms must be positive")
	}
	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("server_port %d out of range", c.ServerPort)
	}
	return nil
}

// EngineOptions converts the device settings into engine start options
func (c *Config) EngineOptions() (engine.Options, error) {
	in, err := device.ParsePixelFormat(c.PixelFormat)
	if err != nil {
		return engine.Options{}, err
	}
	out, err := device.ParsePixelFormat(c.OutputFormat)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Input:        c.InputDevice,
		Port:         c.OutputPort,
		Preferred:    c.PreferredResolution,
		PixelFormat:  in,
		OutputFormat: out,
		ReadTimeout:  time.Duration(c.ReadTimeoutMS) * time.Millisecond,
	}, nil
}

// Manager handles configuration
type Manager struct {
	configPath string
	home       string
	config     *Config
	mu         sync.RWMutex
}

// DefaultPath returns ~/.config/loopcam/config.yaml
func DefaultPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "loopcam", "config.yaml"), nil
}

// NewManager loads configFile, or the default path when it is empty. A
// missing file is created with defaults.
func NewManager(configFile string) (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	path := configFile
	if path == "" {
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	m := &Manager{
		configPath: path,
		home:       homeDir,
	}

	if err := m.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		logger.WithComponent("config").Info().
			Str("path", m.configPath).
			Msg("Config file not found, creating new config")
		m.config = m.getDefaults()
		if err := m.Save(); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	}

	logger.WithComponent("config").Info().
		Str("path", m.configPath).
		Str("input", m.config.InputDevice).
		Int("output_port", m.config.OutputPort).
		Msg("Config loaded")

	return m, nil
}

// getDefaults returns default configuration
func (m *Manager) getDefaults() *Config {
	d := engine.DefaultOptions()
	return &Config{
		InputDevice:         d.Input,
		OutputPort:          d.Port,
		PreferredResolution: d.Preferred,
		PixelFormat:         d.PixelFormat.String(),
		OutputFormat:        d.OutputFormat.String(),
		ReadTimeoutMS:       int(d.ReadTimeout / time.Millisecond),
		BlockList:           []string{},
		StateDir:            filepath.Join(m.home, ".config", "loopcam", "state"),
		DataDir:             filepath.Join(m.home, ".local", "share", "loopcam"),
		ServerPort:          8080,
		LogLevel:            "info",
	}
}

// load reads the configuration from disk. Keys missing from the file keep
// their defaults.
func (m *Manager) load() error {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	cfg := m.getDefaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.BlockList == nil {
		cfg.BlockList = []string{}
	}
	cfg.StateDir = m.expand(cfg.StateDir)
	cfg.DataDir = m.expand(cfg.DataDir)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config %s: %w", m.configPath, err)
	}

	m.mu.Lock()
	m.config = cfg
	m.mu.Unlock()
	return nil
}

func (m *Manager) expand(path string) string {
	if path == "~" {
		return m.home
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(m.home, path[2:])
	}
	return path
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.config == nil {
		return m.getDefaults()
	}

	cfg := *m.config
	cfg.BlockList = append([]string{}, m.config.BlockList...)
	return &cfg
}

// Save saves the current configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	cfg := m.config
	m.mu.RUnlock()

	if cfg == nil {
		cfg = m.getDefaults()
	}
	log := logger.WithComponent("config")

	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		log.Error().Err(err).Str("config_dir", configDir).Msg("Failed to create config directory")
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal config")
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0644); err != nil {
		log.Error().Err(err).Str("path", m.configPath).Msg("Failed to write config")
		return err
	}

	log.Debug().Str("path", m.configPath).Msg("Config saved")
	return nil
}

// Update validates and replaces the entire configuration
func (m *Manager) Update(cfg *Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	c := *cfg
	m.config = &c
	m.mu.Unlock()
	return m.Save()
}

// Apply runs fn on the live configuration without saving. Command-line
// overrides go through here so they never end up in the file.
func (m *Manager) Apply(fn func(*Config)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *m.config
	fn(&c)
	if err := c.Validate(); err != nil {
		return err
	}
	m.config = &c
	return nil
}

// SetPort sets the server port
func (m *Manager) SetPort(port int) error {
	m.mu.Lock()
	m.config.ServerPort = port
	m.mu.Unlock()
	return m.Save()
}

// GetPort gets the server port
func (m *Manager) GetPort() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.ServerPort
}

// SetLogLevel sets the log level
func (m *Manager) SetLogLevel(level string) error {
	m.mu.Lock()
	m.config.LogLevel = level
	m.mu.Unlock()
	return m.Save()
}

// GetLogLevel gets the log level
func (m *Manager) GetLogLevel() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.LogLevel
}

// GetConfigPath returns the path to the config file
func (m *Manager) GetConfigPath() string {
	return m.configPath
}

// GetConfigDir returns the config directory path
func (m *Manager) GetConfigDir() string {
	return filepath.Dir(m.configPath)
}
