// Package config loads CLI settings from flags, environment, .env and
// ~/.expose/config.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Keys, also readable from the environment in upper case (SHIP_URL, ...).
const (
	KeyShipURL   = "ship_url"
	KeyShipName  = "ship_name"
	KeyShipCode  = "ship_code"
	KeyCookie    = "ship_cookie"
	KeyTimeout   = "timeout"
	KeyRateLimit = "rate_limit"
	KeyInsecure  = "insecure"
	KeyLogLevel  = "log_level"

	KeyWebhookURL    = "webhook_url"
	KeyWebhookSecret = "webhook_secret"
)

// Config is the resolved client configuration.
type Config struct {
	ShipURL   string        `mapstructure:"ship_url"`
	ShipName  string        `mapstructure:"ship_name"`
	ShipCode  string        `mapstructure:"ship_code"`
	Cookie    string        `mapstructure:"ship_cookie"`
	Timeout   time.Duration `mapstructure:"timeout"`
	RateLimit float64       `mapstructure:"rate_limit"`
	Insecure  bool          `mapstructure:"insecure"`
	LogLevel  string        `mapstructure:"log_level"`

	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
}

// Validate checks the settings needed to reach a ship.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ShipURL, validation.Required, validation.By(httpURL), validation.By(noTrailingSlash)),
		validation.Field(&c.ShipName, validation.By(shipName)),
		validation.Field(&c.Timeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.RateLimit, validation.Min(0.0)),
		validation.Field(&c.LogLevel, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.WebhookURL, validation.By(httpURL)),
	)
}

// ValidateForPoke additionally requires something that identifies the ship:
// a name, a code (the ship is learned at login) or a cookie.
func (c *Config) ValidateForPoke() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.ShipName == "" && c.ShipCode == "" && c.Cookie == "" {
		return errors.New("ship_name: required to send commands (or provide ship_code / ship_cookie)")
	}
	return nil
}

func httpURL(v any) error {
	s, _ := v.(string)
	if s == "" {
		return nil
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("must be an http(s) URL")
	}
	return nil
}

func noTrailingSlash(v any) error {
	if s, _ := v.(string); strings.HasSuffix(s, "/") {
		return errors.New("must not end with /")
	}
	return nil
}

func shipName(v any) error {
	s, _ := v.(string)
	s = strings.TrimPrefix(s, "~")
	if strings.ContainsAny(s, "/ ~") {
		return errors.New("must be a bare @p such as ~zod")
	}
	return nil
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeout, 10*time.Second)
	v.SetDefault(KeyRateLimit, 0)
	v.SetDefault(KeyInsecure, false)
	v.SetDefault(KeyLogLevel, "warn")
}

// Load reads .env (when present) from the working directory, then the config
// file, then the environment into v, and decodes the result. cfgFile may be
// empty, in which case ~/.expose/config.yaml is used if it exists.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read .env: %w", err)
	}

	SetDefaults(v)
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".expose"))
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	v.AutomaticEnv()
	for _, k := range []string{
		KeyShipURL, KeyShipName, KeyShipCode, KeyCookie, KeyTimeout, KeyRateLimit, KeyInsecure, KeyLogLevel,
		KeyWebhookURL, KeyWebhookSecret,
	} {
		// Unmarshal only sees keys viper already knows about.
		_ = v.BindEnv(k)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// BindFlags registers the connection flags on fs and binds them to v.
func BindFlags(v *viper.Viper, fs *pflag.FlagSet) {
	fs.String("url", "", "Ship URL, e.g. https://zod.tlon.network (env SHIP_URL)")
	fs.String("ship", "", "Ship name, e.g. ~zod (env SHIP_NAME)")
	fs.String("code", "", "Ship access code (env SHIP_CODE)")
	fs.String("cookie", "", "Auth cookie urbauth-~ship=... instead of a code (env SHIP_COOKIE)")
	fs.Duration("timeout", 0, "Per-request timeout (default 10s)")
	fs.Float64("rate-limit", 0, "Max requests per second to the ship; 0 disables")
	fs.Bool("insecure", false, "Skip TLS certificate verification (development only)")
	fs.String("log-level", "", "Log level: debug, info, warn, error")

	for key, flag := range map[string]string{
		KeyShipURL:   "url",
		KeyShipName:  "ship",
		KeyShipCode:  "code",
		KeyCookie:    "cookie",
		KeyTimeout:   "timeout",
		KeyRateLimit: "rate-limit",
		KeyInsecure:  "insecure",
		KeyLogLevel:  "log-level",
	} {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

// NewLogger builds a console logger on stderr. stdout is reserved for
// command output and the MCP protocol.
func NewLogger(level string) (*zap.Logger, error) {
	lvl := zapcore.WarnLevel
	if level != "" {
		if err := lvl.Set(level); err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}
