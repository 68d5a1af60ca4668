package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestValidate(t *testing.T) {
	valid := Config{ShipURL: "https://zod.tlon.network", ShipName: "~zod", Timeout: time.Second, LogLevel: "info"}
	require.NoError(t, valid.Validate())

	cases := map[string]func(c *Config){
		"missing url":    func(c *Config) { c.ShipURL = "" },
		"trailing slash": func(c *Config) { c.ShipURL = "https://zod.tlon.network/" },
		"bad scheme":     func(c *Config) { c.ShipURL = "zod.tlon.network" },
		"bad ship":       func(c *Config) { c.ShipName = "~zod/x" },
		"zero timeout":   func(c *Config) { c.Timeout = 0 },
		"negative rate":  func(c *Config) { c.RateLimit = -1 },
		"bad log level":  func(c *Config) { c.LogLevel = "loud" },
		"bad webhook":    func(c *Config) { c.WebhookURL = "ftp://hooks" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			c := valid
			mutate(&c)
			assert.Error(t, c.Validate())
		})
	}
}

func TestValidateForPoke(t *testing.T) {
	c := Config{ShipURL: "https://zod.tlon.network", Timeout: time.Second}
	require.NoError(t, c.Validate())
	assert.Error(t, c.ValidateForPoke())

	c.ShipCode = "lidlut-tabwed-pillex-ridrup"
	assert.NoError(t, c.ValidateForPoke())
}

func TestLoad_fileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir) // keep godotenv away from any real .env

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("ship_url: https://zod.tlon.network\ntimeout: 3s\n"), 0o600))
	t.Setenv("SHIP_NAME", "~zod")
	t.Setenv("SHIP_URL", "") // empty env does not override the file

	cfg, err := Load(viper.New(), cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "https://zod.tlon.network", cfg.ShipURL)
	assert.Equal(t, "~zod", cfg.ShipName)
	assert.Equal(t, 3*time.Second, cfg.Timeout)
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestLoad_dotenv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", dir)
	os.Unsetenv("SHIP_URL")
	os.Unsetenv("SHIP_CODE")
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("SHIP_URL=http://localhost:8080\nSHIP_CODE=abc\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("SHIP_URL")
		os.Unsetenv("SHIP_CODE")
	})

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ShipURL)
	assert.Equal(t, "abc", cfg.ShipCode)
	assert.Equal(t, 10*time.Second, cfg.Timeout)
}

func TestLoad_missingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(viper.New(), "/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestBindFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("SHIP_NAME", "~nec")

	v := viper.New()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(v, fs)
	require.NoError(t, fs.Parse([]string{"--url", "http://localhost:8080", "--ship", "~zod", "--timeout", "2s"}))

	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.ShipURL)
	assert.Equal(t, "~zod", cfg.ShipName, "flag wins over env")
	assert.Equal(t, 2*time.Second, cfg.Timeout)
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger("debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zapcore.DebugLevel))

	l, err = NewLogger("")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))

	_, err = NewLogger("loud")
	assert.Error(t, err)
}
