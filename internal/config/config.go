// Package config loads the server configuration.
//
// Configuration is read from a single YAML file named by the --config
// flag or, failing that, the AUTHCORE_CONFIG environment variable. With
// neither set, Default() is used unchanged. Unknown keys are rejected so
// typos fail loudly instead of silently falling back to defaults.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/avaropoint/authcore/internal/security"
)

// EnvVar names the environment variable consulted when no --config flag is given.
const EnvVar = "AUTHCORE_CONFIG"

// Config is the master configuration for the server.
type Config struct {
	// Listen is the HTTP(S) listen address.
	Listen string `yaml:"listen"`

	// DataDir holds the signing key, the database and TLS material.
	DataDir string `yaml:"data_dir"`

	// Database is the SQLite file path. Relative paths resolve against DataDir.
	Database string `yaml:"database"`

	Log      LogConfig      `yaml:"log"`
	TLS      TLSConfig      `yaml:"tls"`
	Password PasswordConfig `yaml:"password"`
	Token    TokenConfig    `yaml:"token"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`
}

// TLSConfig configures transport security.
type TLSConfig struct {
	// Mode is off, self-signed, acme or custom.
	Mode string `yaml:"mode"`

	// Domains is the ACME whitelist, and extra SANs in self-signed mode.
	Domains []string `yaml:"domains"`

	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// PasswordConfig selects the Argon2 parameters for new hashes. Existing
// hashes keep verifying under whatever parameters they were created with.
type PasswordConfig struct {
	// Preset is high, interactive or custom. Custom uses the fields below.
	Preset string `yaml:"preset"`

	Memory      uint32 `yaml:"memory_kib"`
	Time        uint32 `yaml:"time"`
	Parallelism uint8  `yaml:"parallelism"`
	SaltLength  uint32 `yaml:"salt_length"`
	KeyLength   uint32 `yaml:"key_length"`

	// MinLength is the shortest password accepted at signup.
	MinLength int `yaml:"min_length"`

	// MaxConcurrent bounds how many hashes run at once. Each one holds
	// Memory KiB for its duration.
	MaxConcurrent int `yaml:"max_concurrent"`
}

// TokenConfig configures the session claims the server issues.
type TokenConfig struct {
	// Issuer is written to the iss claim and required on verification.
	Issuer string `yaml:"issuer"`

	// Lifetime is how long an issued token is accepted.
	Lifetime time.Duration `yaml:"lifetime"`

	// Leeway tolerates clock skew between issuer and verifier.
	Leeway time.Duration `yaml:"leeway"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Listen:   ":8443",
		DataDir:  "data",
		Database: "authcore.db",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		TLS: TLSConfig{
			Mode: "self-signed",
		},
		Password: PasswordConfig{
			Preset:        "high",
			MinLength:     8,
			MaxConcurrent: 4,
		},
		Token: TokenConfig{
			Issuer:   "authcore",
			Lifetime: 15 * time.Minute,
			Leeway:   30 * time.Second,
		},
	}
}

// Load reads the configuration file at path, or the file named by
// AUTHCORE_CONFIG when path is empty, on top of Default().
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(EnvVar)
	}

	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("listen address is required")
	}
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := security.ParseTLSMode(c.TLS.Mode); err != nil {
		return err
	}
	if c.TLS.Mode == "custom" && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls mode custom requires cert_file and key_file")
	}
	if _, err := c.Password.Params(); err != nil {
		return err
	}
	if c.Password.MaxConcurrent < 1 {
		return errors.New("password.max_concurrent must be at least 1")
	}
	if c.Token.Lifetime <= 0 {
		return errors.New("token.lifetime must be positive")
	}
	if c.Token.Leeway < 0 {
		return errors.New("token.leeway must not be negative")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Log.Format)
	}
	if _, err := c.Log.SlogLevel(); err != nil {
		return err
	}
	return nil
}

// SlogLevel parses Level.
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if l.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return level, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

// DatabasePath returns the database path, resolved against DataDir.
func (c *Config) DatabasePath() string {
	if filepath.IsAbs(c.Database) {
		return c.Database
	}
	return filepath.Join(c.DataDir, c.Database)
}

// Params returns the Argon2 parameters selected by the preset.
func (p PasswordConfig) Params() (security.Params, error) {
	var params security.Params
	switch p.Preset {
	case "", "high":
		params = security.HighSecurityParams
	case "interactive":
		params = security.InteractiveParams
	case "custom":
		params = security.Params{
			Memory:      p.Memory,
			Time:        p.Time,
			Parallelism: p.Parallelism,
			SaltLength:  p.SaltLength,
			KeyLength:   p.KeyLength,
		}
		if params.SaltLength == 0 {
			params.SaltLength = security.MinSaltLength
		}
		if params.KeyLength == 0 {
			params.KeyLength = 32
		}
	default:
		return params, fmt.Errorf("unknown password preset %q", p.Preset)
	}

	if err := params.Validate(); err != nil {
		return params, fmt.Errorf("password: %w", err)
	}
	return params, nil
}
