package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultFile is the config file looked up in the working directory when no
// explicit path is given.
const DefaultFile = "rfscan.yaml"

// Load resolves the configuration: defaults, then RFSCAN_* environment
// overrides, then the optional YAML file, then validation. An empty path
// means "use rfscan.yaml if it exists".
func Load(path string) (*Config, error) {
	cfg := Default()
	applyEnvOverrides(cfg)

	explicit := path != ""
	if path == "" {
		path = DefaultFile
	}
	if _, err := os.Stat(path); err == nil {
		fileCfg, err := loadFromFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: load %s: %w", path, err)
		}
		cfg = merge(cfg, fileCfg)
	} else if explicit {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnvOverrides applies RFSCAN_* environment variables.
func applyEnvOverrides(cfg *Config) {
	cfg.Port = getEnv("RFSCAN_PORT", cfg.Port)
	cfg.Baud = getEnvInt("RFSCAN_BAUD", cfg.Baud)
	cfg.StabilizeDelay = getEnvDuration("RFSCAN_STABILIZE_DELAY", cfg.StabilizeDelay)
	cfg.ConfigWait = getEnvDuration("RFSCAN_CONFIG_WAIT", cfg.ConfigWait)
	cfg.CommandTimeout = getEnvDuration("RFSCAN_COMMAND_TIMEOUT", cfg.CommandTimeout)
	cfg.RBWMHz = getEnvFloat("RFSCAN_RBW_MHZ", cfg.RBWMHz)
	cfg.Dwell = getEnvDuration("RFSCAN_DWELL", cfg.Dwell)
	cfg.Calculator = getEnv("RFSCAN_CALCULATOR", cfg.Calculator)
	cfg.StorePath = getEnv("RFSCAN_STORE_PATH", cfg.StorePath)
	cfg.ServeAddr = getEnv("RFSCAN_SERVE_ADDR", cfg.ServeAddr)
	cfg.HeartbeatInterval = getEnvDuration("RFSCAN_HEARTBEAT_INTERVAL", cfg.HeartbeatInterval)
	cfg.EventBufferSize = getEnvInt("RFSCAN_EVENT_BUFFER_SIZE", cfg.EventBufferSize)
	cfg.Auth.Algorithm = getEnv("RFSCAN_AUTH_ALGORITHM", cfg.Auth.Algorithm)
	cfg.Auth.SecretKey = getEnv("RFSCAN_AUTH_SECRET", cfg.Auth.SecretKey)
	cfg.Auth.PublicKeyPEMFile = getEnv("RFSCAN_AUTH_PUBLIC_KEY_FILE", cfg.Auth.PublicKeyPEMFile)
}

func loadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// merge overlays non-zero file values on the current configuration.
func merge(current, file *Config) *Config {
	merged := *current

	if file.Port != "" {
		merged.Port = file.Port
	}
	if file.Baud != 0 {
		merged.Baud = file.Baud
	}
	if file.StabilizeDelay != 0 {
		merged.StabilizeDelay = file.StabilizeDelay
	}
	if file.ConfigWait != 0 {
		merged.ConfigWait = file.ConfigWait
	}
	if file.CommandTimeout != 0 {
		merged.CommandTimeout = file.CommandTimeout
	}
	if file.RBWMHz != 0 {
		merged.RBWMHz = file.RBWMHz
	}
	if file.Dwell != 0 {
		merged.Dwell = file.Dwell
	}
	if file.Calculator != "" {
		merged.Calculator = file.Calculator
	}
	// Amplitude span fields are overlaid together so a file cannot end up
	// combining its top with the default bottom by accident.
	if file.AmpTopDBm != 0 || file.AmpBottomDBm != 0 {
		merged.AmpTopDBm = file.AmpTopDBm
		merged.AmpBottomDBm = file.AmpBottomDBm
	}
	if file.StorePath != "" {
		merged.StorePath = file.StorePath
	}
	if file.ServeAddr != "" {
		merged.ServeAddr = file.ServeAddr
	}
	if file.HeartbeatInterval != 0 {
		merged.HeartbeatInterval = file.HeartbeatInterval
	}
	if file.EventBufferSize != 0 {
		merged.EventBufferSize = file.EventBufferSize
	}
	if file.Auth.Algorithm != "" {
		merged.Auth = file.Auth
	}

	return &merged
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
