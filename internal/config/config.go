// Package config loads and persists the server configuration.
//
// Values are layered: built-in defaults, then the JSON config file, then
// HOSTMCP_* environment variables. Only defaults, file contents and explicit
// Set calls are written back by Save; environment overrides stay transient.
package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Keys.
const (
	KeyEnabled        = "enabled"
	KeyPort           = "port"
	KeyAPIKey         = "api-key"
	KeyPath           = "path"
	KeyCallTimeout    = "call-timeout"
	KeySessionTTL     = "session-ttl"
	KeySweepInterval  = "sweep-interval"
	KeyAllowedOrigins = "allowed-origins"
)

// EnvPrefix prefixes environment overrides, e.g. HOSTMCP_CALL_TIMEOUT.
const EnvPrefix = "HOSTMCP_"

// Defaults.
const (
	DefaultPort          = 8765
	DefaultPath          = "/mcp"
	DefaultCallTimeout   = 60 * time.Second
	DefaultSessionTTL    = 24 * time.Hour
	DefaultSweepInterval = 30 * time.Second
)

// ErrInvalidValue is returned when a value fails validation.
var ErrInvalidValue = errors.New("invalid configuration value")

// ErrUnknownKey is returned by Set for a key that does not exist.
var ErrUnknownKey = errors.New("unknown configuration key")

// Config is a snapshot of the effective configuration.
type Config struct {
	Enabled        bool          `koanf:"enabled"`
	Port           int           `koanf:"port"`
	APIKey         string        `koanf:"api-key"`
	Path           string        `koanf:"path"`
	CallTimeout    time.Duration `koanf:"call-timeout"`
	SessionTTL     time.Duration `koanf:"session-ttl"`
	SweepInterval  time.Duration `koanf:"sweep-interval"`
	AllowedOrigins []string      `koanf:"allowed-origins"`
}

// Addr returns the loopback listen address.
func (c Config) Addr() string {
	return net.JoinHostPort("127.0.0.1", strconv.Itoa(c.Port))
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidValue, c.Port)
	}
	if !strings.HasPrefix(c.Path, "/") {
		return fmt.Errorf("%w: path %q must start with /", ErrInvalidValue, c.Path)
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("%w: call-timeout must be positive", ErrInvalidValue)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("%w: session-ttl must be positive", ErrInvalidValue)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: sweep-interval must be positive", ErrInvalidValue)
	}
	return nil
}

func defaults() map[string]any {
	return map[string]any{
		KeyEnabled:        true,
		KeyPort:           DefaultPort,
		KeyAPIKey:         "",
		KeyPath:           DefaultPath,
		KeyCallTimeout:    DefaultCallTimeout.String(),
		KeySessionTTL:     DefaultSessionTTL.String(),
		KeySweepInterval:  DefaultSweepInterval.String(),
		KeyAllowedOrigins: []string{},
	}
}

// DefaultFile returns ~/.config/hostmcp/config.json.
func DefaultFile() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %w", err)
	}
	return filepath.Join(home, ".config", "hostmcp", "config.json"), nil
}

// Store holds the layered configuration.
type Store struct {
	mu        sync.RWMutex
	path      string
	persisted *koanf.Koanf
	overrides *koanf.Koanf
}

// NewStore creates a store backed by path. Call Load before reading.
func NewStore(path string) *Store {
	s := &Store{
		path:      path,
		persisted: koanf.New("."),
		overrides: koanf.New("."),
	}
	for k, v := range defaults() {
		_ = s.persisted.Set(k, v)
	}
	return s
}

// Path returns the backing file.
func (s *Store) Path() string {
	return s.path
}

// Load reads the file, if it exists, and the environment.
func (s *Store) Load() error {
	persisted := koanf.New(".")
	for k, v := range defaults() {
		_ = persisted.Set(k, v)
	}

	if s.path != "" {
		if _, err := os.Stat(s.path); err == nil {
			if err := persisted.Load(file.Provider(s.path), json.Parser()); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", s.path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to stat config file %s: %w", s.path, err)
		}
	}

	overrides := koanf.New(".")
	if err := overrides.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment overrides: %w", err)
	}

	s.mu.Lock()
	s.persisted = persisted
	s.overrides = overrides
	s.mu.Unlock()

	cfg, err := s.Config()
	if err != nil {
		return err
	}
	return cfg.Validate()
}

// envKey maps HOSTMCP_CALL_TIMEOUT to call-timeout.
func envKey(key, value string) (string, any) {
	name := strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "_", "-"))
	if name == KeyAllowedOrigins {
		return name, splitList(value)
	}
	return name, value
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Config returns the effective configuration.
func (s *Store) Config() (Config, error) {
	s.mu.RLock()
	merged := s.persisted.Copy()
	if err := merged.Merge(s.overrides); err != nil {
		s.mu.RUnlock()
		return Config{}, fmt.Errorf("failed to merge overrides: %w", err)
	}
	s.mu.RUnlock()

	var cfg Config
	if err := merged.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to decode configuration: %w", err)
	}
	return cfg, nil
}

// Enabled reports whether the server should start.
func (s *Store) Enabled() bool {
	cfg, _ := s.Config()
	return cfg.Enabled
}

// Port returns the listen port.
func (s *Store) Port() int {
	cfg, _ := s.Config()
	return cfg.Port
}

// APIKey returns the configured key, empty when none.
func (s *Store) APIKey() string {
	cfg, _ := s.Config()
	return cfg.APIKey
}

// SetEnabled records whether the server should start.
func (s *Store) SetEnabled(enabled bool) error {
	return s.Set(KeyEnabled, strconv.FormatBool(enabled))
}

// SetPort records the listen port.
func (s *Store) SetPort(port int) error {
	return s.Set(KeyPort, strconv.Itoa(port))
}

// SetAPIKey records the API key. An empty key disables the check.
func (s *Store) SetAPIKey(key string) error {
	return s.Set(KeyAPIKey, key)
}

// Set parses value for key and stores it. Changes are kept in memory until
// Save is called.
func (s *Store) Set(key, value string) error {
	parsed, err := parseValue(key, value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	candidate := s.persisted.Copy()
	if err := candidate.Set(key, parsed); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	var cfg Config
	if err := candidate.Unmarshal("", &cfg); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidValue, key, err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.persisted = candidate
	return nil
}

func parseValue(key, value string) (any, error) {
	switch key {
	case KeyEnabled:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be true or false", ErrInvalidValue, key)
		}
		return b, nil
	case KeyPort:
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidValue, key)
		}
		return n, nil
	case KeyCallTimeout, KeySessionTTL, KeySweepInterval:
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be a duration like 30s", ErrInvalidValue, key)
		}
		return d.String(), nil
	case KeyAllowedOrigins:
		list := splitList(value)
		if list == nil {
			list = []string{}
		}
		return list, nil
	case KeyAPIKey, KeyPath:
		return value, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Keys lists the settable keys.
func Keys() []string {
	return []string{
		KeyEnabled, KeyPort, KeyAPIKey, KeyPath,
		KeyCallTimeout, KeySessionTTL, KeySweepInterval, KeyAllowedOrigins,
	}
}

// Save writes the persisted layer to the config file atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return fmt.Errorf("no config file configured")
	}

	s.mu.RLock()
	data, err := s.persisted.Marshal(json.Parser())
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to set config permissions: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}
	return nil
}
