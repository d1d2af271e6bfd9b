package broker

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"tfsbroker/internal/artifacts"
	"tfsbroker/internal/tfs"
)

// Config holds broker settings.
type Config struct {
	RegisterPipe string     `yaml:"register_pipe"`
	MaxSessions  int        `yaml:"max_sessions"`
	MaxBoxes     int        `yaml:"max_boxes"`
	LogLevel     string     `yaml:"log_level"` // trace, debug, info, warn, none
	LogFile      string     `yaml:"log_file"`  // empty means stderr
	FS           tfs.Params `yaml:"fs"`
}

// DefaultConfig parses the embedded default settings.
func DefaultConfig() Config {
	var cfg Config
	if err := yaml.Unmarshal(artifacts.BrokerConfig, &cfg); err != nil {
		panic("failed to parse embedded broker config: " + err.Error())
	}
	return cfg
}

// ApplyDefaults fills zero-value fields with their defaults.
func (cfg *Config) ApplyDefaults() {
	d := DefaultConfig()
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.MaxBoxes == 0 {
		cfg.MaxBoxes = d.MaxBoxes
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = d.LogLevel
	}
	cfg.FS.ApplyDefaults()
}

// Validate checks that the config can start a broker.
func (cfg *Config) Validate() error {
	if cfg.RegisterPipe == "" {
		return fmt.Errorf("register pipe is required")
	}
	if cfg.MaxSessions < 1 {
		return fmt.Errorf("max_sessions must be positive, got %d", cfg.MaxSessions)
	}
	if cfg.MaxBoxes < 1 {
		return fmt.Errorf("max_boxes must be positive, got %d", cfg.MaxBoxes)
	}
	switch strings.ToLower(cfg.LogLevel) {
	case "", "none", "trace", "debug", "info", "warn":
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}
	return cfg.FS.Validate()
}

// LoadConfig reads settings from path on top of the embedded defaults.
// An empty path or a missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return &cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// Marshal renders the config as YAML.
func (cfg *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(cfg)
}
