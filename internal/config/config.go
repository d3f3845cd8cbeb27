package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	Socket SocketConfig `yaml:"socket"`
	Sweep  SweepConfig  `yaml:"sweep"`
	WS     WSConfig     `yaml:"ws"`
}

type ServerConfig struct {
	Port      int      `yaml:"port"`
	Host      string   `yaml:"host"`
	Origins   []string `yaml:"origins"`
	AuthToken string   `yaml:"auth_token"`
}

type SocketConfig struct {
	Path string `yaml:"path"`
}

type SweepConfig struct {
	// Interval between pruning sweeps.
	Interval time.Duration `yaml:"interval"`
	// Grace is how long an ended session is retained so a late resume
	// can still be merged instead of treated as new.
	Grace time.Duration `yaml:"grace"`
}

type WSConfig struct {
	BroadcastThrottle time.Duration `yaml:"broadcast_throttle"`
	SnapshotInterval  time.Duration `yaml:"snapshot_interval"`
	// ReadyWindow is the recency window for the "ready for input" flag.
	ReadyWindow time.Duration `yaml:"ready_window"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: 8199,
			Host: "127.0.0.1",
		},
		Socket: SocketConfig{
			Path: defaultSocketPath(),
		},
		Sweep: SweepConfig{
			Interval: 10 * time.Second,
			Grace:    30 * time.Second,
		},
		WS: WSConfig{
			BroadcastThrottle: 100 * time.Millisecond,
			SnapshotInterval:  5 * time.Second,
			ReadyWindow:       2 * time.Minute,
		},
	}
}

// Load reads the config at path on top of the defaults. An empty path
// returns the defaults unchanged so the daemon runs without a file.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Sweep.Interval <= 0 {
		return fmt.Errorf("sweep.interval must be positive, got %s", c.Sweep.Interval)
	}
	if c.Sweep.Grace < 0 {
		return fmt.Errorf("sweep.grace must not be negative, got %s", c.Sweep.Grace)
	}
	if c.WS.BroadcastThrottle <= 0 {
		return fmt.Errorf("ws.broadcast_throttle must be positive, got %s", c.WS.BroadcastThrottle)
	}
	if c.WS.SnapshotInterval <= 0 {
		return fmt.Errorf("ws.snapshot_interval must be positive, got %s", c.WS.SnapshotInterval)
	}
	if c.Socket.Path == "" {
		return fmt.Errorf("socket.path must not be empty")
	}
	return nil
}

func defaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "agent-pulse", "hooks.sock")
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "agent-pulse", "hooks.sock")
	}
	return filepath.Join(homeDir, ".agent-pulse", "hooks.sock")
}
