// Package config loads hub configuration from an optional YAML file and
// environment variables, following the same override order as the
// teacher's config package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config defines hub process configuration.
type Config struct {
	API       APIConfig       `yaml:"api"`
	Peer      PeerConfig      `yaml:"peer"`
	Log       LogConfig       `yaml:"log"`
	Sweep     SweepConfig     `yaml:"sweep"`
	Lock      LockConfig      `yaml:"lock"`
	Presence  PresenceConfig  `yaml:"presence"`
	Converge  ConvergeConfig  `yaml:"converge"`
	DocGC     DocGCConfig     `yaml:"doc_gc"`
	Heartbeat HeartbeatConfig `yaml:"heartbeat"`
}

// APIConfig controls the control-plane HTTP listener.
type APIConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// PeerConfig carries peer-relative URLs advertised to adapters.
type PeerConfig struct {
	HubURL        string `yaml:"hub_url"`
	DashboardURL  string `yaml:"dashboard_url"`
	AlternatePort int    `yaml:"alternate_port"`
}

// LogConfig controls the slog handler level.
type LogConfig struct {
	Level string `yaml:"level"`
}

// SweepConfig controls the lock sweeper period (spec §4.2).
type SweepConfig struct {
	LockPeriod time.Duration `yaml:"lock_period"`
}

// LockConfig controls the default lock TTL (spec §3).
type LockConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// PresenceConfig controls the presence sweeper thresholds (spec §4.3).
type PresenceConfig struct {
	Period          time.Duration `yaml:"period"`
	DisconnectAfter time.Duration `yaml:"disconnect_after"`
	RemoveAfter     time.Duration `yaml:"remove_after"`
}

// ConvergeConfig controls the world-state convergence tick (spec §4.6).
// Only TickPeriod is read; the tick's stale-work (30s) and
// completed-work (60s) thresholds are fixed in worldstate and do not
// come from WorkStaleAfter or CompletedKeepFor.
type ConvergeConfig struct {
	TickPeriod       time.Duration `yaml:"tick_period"`
	WorkStaleAfter   time.Duration `yaml:"work_stale_after"`
	CompletedKeepFor time.Duration `yaml:"completed_keep_for"`
}

// DocGCConfig controls the doc session GC grace period (spec §4.4).
type DocGCConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

// HeartbeatConfig holds a collab channel ping interval (spec §4.5). It
// is not read: internal/collab pings on its own fixed 30-second period.
type HeartbeatConfig struct {
	Period time.Duration `yaml:"period"`
}

// Load reads configuration from an optional YAML file and environment
// variables, in that order, with environment variables taking
// precedence — mirroring the teacher's config.Load.
func Load() (Config, error) {
	cfg := Config{
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 3200,
		},
		Peer: PeerConfig{
			AlternatePort: 3201,
		},
		Log: LogConfig{
			Level: "info",
		},
		Sweep: SweepConfig{
			LockPeriod: 5 * time.Second,
		},
		Lock: LockConfig{
			DefaultTTL: 30 * time.Second,
		},
		Presence: PresenceConfig{
			Period:          30 * time.Second,
			DisconnectAfter: 5 * time.Minute,
			RemoveAfter:     15 * time.Minute,
		},
		Converge: ConvergeConfig{
			TickPeriod:       2 * time.Second,
			WorkStaleAfter:   30 * time.Second,
			CompletedKeepFor: 60 * time.Second,
		},
		DocGC: DocGCConfig{
			GracePeriod: 60 * time.Second,
		},
		Heartbeat: HeartbeatConfig{
			Period: 30 * time.Second,
		},
	}

	if path := os.Getenv("SYNAPSE_CONFIG_PATH"); path != "" {
		if err := loadFromFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if portStr := os.Getenv("API_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid API_PORT: %w", err)
		}
		cfg.API.Port = port
	}
	if portStr := os.Getenv("MCP_PORT"); portStr != "" {
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid MCP_PORT: %w", err)
		}
		cfg.Peer.AlternatePort = port
	}
	if hubURL := os.Getenv("HUB_URL"); hubURL != "" {
		cfg.Peer.HubURL = hubURL
	}
	if dashboardURL := os.Getenv("SYNAPSE_DASHBOARD_URL"); dashboardURL != "" {
		cfg.Peer.DashboardURL = dashboardURL
	}
	if level := os.Getenv("SYNAPSE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}

	return cfg, nil
}

func loadFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}
	return nil
}
