// Package config loads the service configuration from YAML with environment
// overrides and builds the digit source it names.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/danielpatrickdp/equilibrium/internal/digits"
	"github.com/danielpatrickdp/equilibrium/internal/eval"
	"github.com/danielpatrickdp/equilibrium/internal/subject"
)

// Environment overrides.
const (
	EnvDB     = "EQUILIBRIUM_DB"
	EnvListen = "EQUILIBRIUM_LISTEN"
	EnvSecret = "EQUILIBRIUM_SECRET"
	EnvDigits = "EQUILIBRIUM_DIGITS"
)

// Digit source kinds.
const (
	SourcePi    = "pi"
	SourceKeyed = "keyed"
)

// #region types
// Config is the full service configuration.
type Config struct {
	subject.Config `yaml:",inline"`

	DB     string          `yaml:"db"`
	Listen string          `yaml:"listen"`
	Digits DigitsConfig    `yaml:"digits"`
	Eval   eval.EvalConfig `yaml:"eval"`
	Log    LogConfig       `yaml:"log"`
}

// DigitsConfig selects the digit source. Secret is normally supplied through
// EQUILIBRIUM_SECRET rather than the file.
type DigitsConfig struct {
	Source string `yaml:"source"` // "pi" | "keyed"
	Secret string `yaml:"secret"`
	Salt   string `yaml:"salt"`
	Info   string `yaml:"info"`
	Length int    `yaml:"length"`
}

// LogConfig controls the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// #endregion types

// #region defaults
// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Config: subject.DefaultConfig(),
		DB:     "equilibrium.db",
		Listen: "localhost:50061",
		Digits: DigitsConfig{
			Source: SourcePi,
			Info:   "equilibrium/digits/v1",
			Length: 10000,
		},
		Eval: eval.DefaultEvalConfig(),
		Log:  LogConfig{Level: "info", Format: "text"},
	}
}

// #endregion defaults

// #region load
// Load reads path over Default and applies environment overrides. An empty
// path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := Decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode parses YAML into cfg, rejecting unknown fields.
func Decode(data []byte, cfg *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	c.DB = envOr(EnvDB, c.DB)
	c.Listen = envOr(EnvListen, c.Listen)
	c.Digits.Secret = envOr(EnvSecret, c.Digits.Secret)
	c.Digits.Source = envOr(EnvDigits, c.Digits.Source)
}

// Validate checks the digit source selection and every component config.
func (c Config) Validate() error {
	switch c.Digits.Source {
	case SourcePi:
	case SourceKeyed:
		if c.Digits.Secret == "" {
			return fmt.Errorf("config: keyed digit source needs a secret (%s)", EnvSecret)
		}
		if c.Digits.Length < digits.MinLength {
			return fmt.Errorf("config: digit length %d below %d", c.Digits.Length, digits.MinLength)
		}
	default:
		return fmt.Errorf("config: unknown digit source %q", c.Digits.Source)
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return c.Config.Validate()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region builders
// Source builds the configured digit source.
func (c Config) Source() (digits.Source, error) {
	switch c.Digits.Source {
	case SourceKeyed:
		return digits.NewKeyed([]byte(c.Digits.Secret), []byte(c.Digits.Salt), c.Digits.Info, c.Digits.Length)
	case SourcePi:
		return digits.Pi(), nil
	default:
		return nil, fmt.Errorf("config: unknown digit source %q", c.Digits.Source)
	}
}

// ParseLevel maps a level name onto slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("config: log level %q: %w", s, err)
	}
	return level, nil
}

// Logger builds a slog logger writing to w. verbose forces debug level.
func (c Config) Logger(w io.Writer, verbose bool) *slog.Logger {
	level, err := ParseLevel(c.Log.Level)
	if err != nil || verbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// #endregion builders
