// Package config holds runtime configuration for rfscan.
//
// Configuration is resolved in three layers: built-in defaults, RFSCAN_*
// environment overrides, then an optional rfscan.yaml file whose non-zero
// values win. The final result is validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spectrum-scan/rfscan/internal/protocol"
	"github.com/spectrum-scan/rfscan/internal/sweep"
)

// Config is the resolved rfscan configuration.
type Config struct {
	// Serial transport
	Port string `yaml:"port"` // empty selects the first detected port
	Baud int    `yaml:"baud"`

	// Device session timing
	StabilizeDelay time.Duration `yaml:"stabilizeDelay"` // wait after reset
	ConfigWait     time.Duration `yaml:"configWait"`     // wait for config/model replies
	CommandTimeout time.Duration `yaml:"commandTimeout"` // limit per window change

	// Scan defaults
	RBWMHz     float64       `yaml:"rbwMhz"`
	Dwell      time.Duration `yaml:"dwell"` // collection time per subrange
	Calculator string        `yaml:"calculator"`

	// Amplitude span sent with window changes
	AmpTopDBm    int `yaml:"ampTopDbm"`
	AmpBottomDBm int `yaml:"ampBottomDbm"`

	// Scan history
	StorePath string `yaml:"storePath"` // empty disables the history store

	// Serve mode
	ServeAddr         string        `yaml:"serveAddr"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval"`
	EventBufferSize   int           `yaml:"eventBufferSize"`

	Auth AuthConfig `yaml:"auth"`
}

// AuthConfig configures bearer-token verification for serve mode. With no
// algorithm set, authentication is disabled (local use).
type AuthConfig struct {
	Algorithm        string `yaml:"algorithm"` // "", "HS256" or "RS256"
	SecretKey        string `yaml:"secretKey"` // HS256
	PublicKeyPEMFile string `yaml:"publicKeyPemFile"` // RS256
}

// Default returns the built-in baseline configuration.
func Default() *Config {
	return &Config{
		Baud:              protocol.Baud,
		StabilizeDelay:    3 * time.Second,
		ConfigWait:        10 * time.Second,
		CommandTimeout:    30 * time.Second,
		RBWMHz:            0.025,
		Dwell:             3 * time.Second,
		Calculator:        "MAX",
		AmpTopDBm:         -10,
		AmpBottomDBm:      -120,
		StorePath:         defaultStorePath(),
		ServeAddr:         ":8080",
		HeartbeatInterval: 15 * time.Second,
		EventBufferSize:   50,
	}
}

// defaultStorePath places the history database under the user's home
// directory, falling back to the working directory.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "rfscan-history.db"
	}
	return filepath.Join(home, ".rfscan", "history.db")
}

// Validate checks the resolved configuration.
func (c *Config) Validate() error {
	if c.Baud <= 0 {
		return fmt.Errorf("config: baud must be positive, got %d", c.Baud)
	}
	if c.RBWMHz <= 0 {
		return fmt.Errorf("config: rbw must be positive, got %g", c.RBWMHz)
	}
	if c.Dwell <= 0 {
		return fmt.Errorf("config: dwell must be positive, got %v", c.Dwell)
	}
	if c.CommandTimeout <= 0 {
		return fmt.Errorf("config: command timeout must be positive, got %v", c.CommandTimeout)
	}
	if c.EventBufferSize <= 0 {
		return fmt.Errorf("config: event buffer size must be positive, got %d", c.EventBufferSize)
	}
	if c.AmpTopDBm <= c.AmpBottomDBm {
		return fmt.Errorf("config: amplitude top (%d) must be above bottom (%d)",
			c.AmpTopDBm, c.AmpBottomDBm)
	}
	if _, err := sweep.CalculatorByName(c.Calculator); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Auth.Algorithm {
	case "", "HS256", "RS256":
	default:
		return fmt.Errorf("config: unsupported auth algorithm %q", c.Auth.Algorithm)
	}
	if c.Auth.Algorithm == "HS256" && c.Auth.SecretKey == "" {
		return fmt.Errorf("config: HS256 requires a secret key")
	}
	if c.Auth.Algorithm == "RS256" && c.Auth.PublicKeyPEMFile == "" {
		return fmt.Errorf("config: RS256 requires a public key PEM file")
	}
	return nil
}
