package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// ProjectFile is the per-directory config file name.
const ProjectFile = ".kintoadm.toml"

// Config holds all configurable kintoadm settings.
type Config struct {
	Server       string        `toml:"server" validate:"omitempty,url"`        // default server for login
	AuthType     string        `toml:"auth_type"`                              // default auth method, "openid-<provider>" allowed
	PageSize     int           `toml:"page_size" validate:"gte=0,lte=10000"`   // history entries per request
	HistoryLimit int           `toml:"history_limit" validate:"gte=0,lte=100"` // remembered servers
	Timeout      string        `toml:"timeout"`                                // Go duration, e.g. "30s"
	RateLimit    *int          `toml:"rate_limit" validate:"omitempty,gte=0"`  // requests per second, 0 = unlimited
	CallbackAddr string        `toml:"callback_addr"`                          // loopback listener for OpenID callbacks
	Logging      LoggingConfig `toml:"logging"`
}

// LoggingConfig controls the log file.
type LoggingConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	File  string `toml:"file"` // empty: kintoadm.log in the state directory
}

// Defaults returns sensible default configuration values.
func Defaults() Config {
	return Config{
		PageSize:     200,
		HistoryLimit: 10,
		Timeout:      "30s",
		RateLimit:    intPtr(10),
		CallbackAddr: "127.0.0.1:0",
		Logging:      LoggingConfig{Level: "info"},
	}
}

// TimeoutDuration parses Timeout, falling back to the default on bad input.
func (c Config) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RequestsPerSecond is the configured rate limit, 0 meaning unlimited.
func (c Config) RequestsPerSecond() int {
	if c.RateLimit == nil {
		return 0
	}
	return *c.RateLimit
}

func intPtr(n int) *int {
	return &n
}

var validate = validator.New()

// Validate checks field ranges and formats.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Timeout != "" {
		if _, err := time.ParseDuration(c.Timeout); err != nil {
			return fmt.Errorf("invalid timeout %q: %w", c.Timeout, err)
		}
	}
	return nil
}

// GlobalPath is ~/.config/kintoadm/config.toml, honouring XDG_CONFIG_HOME.
func GlobalPath() (string, error) {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "kintoadm", "config.toml"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "kintoadm", "config.toml"), nil
}

// LoadGlobal reads the global config file.
// Returns defaults if the file is absent.
func LoadGlobal() (*Config, error) {
	path, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return loadFile(path, true)
}

// LoadProject reads .kintoadm.toml in the current working directory.
// Returns nil (no error) if the file is absent.
func LoadProject() (*Config, error) {
	return loadFile(ProjectFile, false)
}

// Load reads both files, merges them and applies environment overrides.
func Load() (Config, error) {
	global, err := LoadGlobal()
	if err != nil {
		return Config{}, err
	}
	project, err := LoadProject()
	if err != nil {
		return Config{}, err
	}
	cfg := Merge(global, project)
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadFile reads and parses a TOML config file at path.
// If returnDefaults is true, returns defaults when the file is absent.
// If returnDefaults is false, returns nil when the file is absent.
func loadFile(path string, returnDefaults bool) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if returnDefaults {
				d := Defaults()
				return &d, nil
			}
			return nil, nil
		}
		return nil, err
	}
	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}
	return &cfg, nil
}

// Merge combines global and project configs, with project taking precedence.
// Missing keys fall back to global, then defaults.
func Merge(global, project *Config) Config {
	result := Defaults()
	if global != nil {
		overlay(&result, global)
	}
	if project != nil {
		overlay(&result, project)
	}
	return result
}

func overlay(dst, src *Config) {
	if src.Server != "" {
		dst.Server = src.Server
	}
	if src.AuthType != "" {
		dst.AuthType = src.AuthType
	}
	if src.PageSize > 0 {
		dst.PageSize = src.PageSize
	}
	if src.HistoryLimit > 0 {
		dst.HistoryLimit = src.HistoryLimit
	}
	if src.Timeout != "" {
		dst.Timeout = src.Timeout
	}
	// Set but zero disables limiting, so presence decides.
	if src.RateLimit != nil {
		dst.RateLimit = intPtr(*src.RateLimit)
	}
	if src.CallbackAddr != "" {
		dst.CallbackAddr = src.CallbackAddr
	}
	if src.Logging.Level != "" {
		dst.Logging.Level = src.Logging.Level
	}
	if src.Logging.File != "" {
		dst.Logging.File = src.Logging.File
	}
}

// applyEnvOverrides applies KINTOADM_* environment variables over file values.
func applyEnvOverrides(cfg *Config) {
	if server := os.Getenv("KINTOADM_SERVER"); server != "" {
		cfg.Server = server
	}
	if authType := os.Getenv("KINTOADM_AUTH_TYPE"); authType != "" {
		cfg.AuthType = authType
	}
	if level := os.Getenv("KINTOADM_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = strings.ToLower(level)
	}
	if timeout := os.Getenv("KINTOADM_TIMEOUT"); timeout != "" {
		cfg.Timeout = timeout
	}
	if rateLimit := os.Getenv("KINTOADM_RATE_LIMIT"); rateLimit != "" {
		if n, err := strconv.Atoi(rateLimit); err == nil && n >= 0 {
			cfg.RateLimit = intPtr(n)
		}
	}
}

// Encode renders cfg as TOML.
func Encode(cfg Config) ([]byte, error) {
	return toml.Marshal(cfg)
}

// ParseError is returned when a config file exists but cannot be parsed.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	return "failed to parse config file " + e.Path + ": " + e.Err.Error()
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
