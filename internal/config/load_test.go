package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 500000, cfg.Baud)
	assert.Equal(t, 0.025, cfg.RBWMHz)
	assert.Equal(t, 3*time.Second, cfg.Dwell)
	assert.Equal(t, "MAX", cfg.Calculator)
}

func TestLoadWithoutFile(t *testing.T) {
	withWorkDir(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Baud, cfg.Baud)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoadFileOverrides(t *testing.T) {
	dir := withWorkDir(t)

	yaml := `
port: /dev/ttyUSB1
rbwMhz: 0.1
dwell: 5s
calculator: AVG
serveAddr: ":9000"
auth:
  algorithm: HS256
  secretKey: hunter2
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte(yaml), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", cfg.Port)
	assert.Equal(t, 0.1, cfg.RBWMHz)
	assert.Equal(t, 5*time.Second, cfg.Dwell)
	assert.Equal(t, "AVG", cfg.Calculator)
	assert.Equal(t, ":9000", cfg.ServeAddr)
	assert.Equal(t, "HS256", cfg.Auth.Algorithm)

	// Untouched fields keep their defaults.
	assert.Equal(t, Default().Baud, cfg.Baud)
	assert.Equal(t, Default().CommandTimeout, cfg.CommandTimeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	withWorkDir(t)
	t.Setenv("RFSCAN_PORT", "/dev/ttyUSB7")
	t.Setenv("RFSCAN_DWELL", "10s")
	t.Setenv("RFSCAN_RBW_MHZ", "0.05")
	t.Setenv("RFSCAN_CALCULATOR", "min")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB7", cfg.Port)
	assert.Equal(t, 10*time.Second, cfg.Dwell)
	assert.Equal(t, 0.05, cfg.RBWMHz)
	assert.Equal(t, "min", cfg.Calculator)
}

func TestLoadFileWinsOverEnv(t *testing.T) {
	dir := withWorkDir(t)
	t.Setenv("RFSCAN_DWELL", "10s")
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("dwell: 7s\n"), 0o644))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 7*time.Second, cfg.Dwell)
}

func TestLoadInvalidEnvIgnored(t *testing.T) {
	withWorkDir(t)
	t.Setenv("RFSCAN_DWELL", "not-a-duration")
	t.Setenv("RFSCAN_BAUD", "fast")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default().Dwell, cfg.Dwell)
	assert.Equal(t, Default().Baud, cfg.Baud)
}

func TestLoadMalformedFile(t *testing.T) {
	dir := withWorkDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, DefaultFile), []byte("dwell: [oops\n"), 0o644))

	_, err := Load("")
	assert.Error(t, err)
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero baud", func(c *Config) { c.Baud = 0 }},
		{"negative rbw", func(c *Config) { c.RBWMHz = -0.025 }},
		{"zero dwell", func(c *Config) { c.Dwell = 0 }},
		{"zero command timeout", func(c *Config) { c.CommandTimeout = 0 }},
		{"zero buffer", func(c *Config) { c.EventBufferSize = 0 }},
		{"inverted amplitude span", func(c *Config) { c.AmpTopDBm = -120; c.AmpBottomDBm = -10 }},
		{"unknown calculator", func(c *Config) { c.Calculator = "MEDIAN" }},
		{"unknown auth algorithm", func(c *Config) { c.Auth.Algorithm = "ES512" }},
		{"HS256 without secret", func(c *Config) { c.Auth.Algorithm = "HS256" }},
		{"RS256 without key file", func(c *Config) { c.Auth.Algorithm = "RS256" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

// withWorkDir runs the test in a fresh directory so a developer's rfscan.yaml
// cannot leak into assertions.
func withWorkDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	old, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(old) })
	return dir
}
