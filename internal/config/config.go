// Package config loads organizer settings from a YAML file, ORGANIZER_*
// environment variables and built-in defaults, in that order of
// precedence (environment first).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, e.g. ORGANIZER_SYNC_DEBOUNCE.
const EnvPrefix = "ORGANIZER"

// FileName is the config file name inside the config directory.
const FileName = "config.yaml"

// Config is the full set of settings.
type Config struct {
	DataDir   string          `mapstructure:"data_dir" validate:"required"`
	Remote    RemoteConfig    `mapstructure:"remote"`
	Sync      SyncConfig      `mapstructure:"sync"`
	Dashboard DashboardConfig `mapstructure:"dashboard"`
	Log       LogConfig       `mapstructure:"log"`
	User      UserConfig      `mapstructure:"user"`
}

// RemoteConfig configures the remote document API.
type RemoteConfig struct {
	BaseURL string        `mapstructure:"base_url" validate:"required,url"`
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`
}

// SyncConfig configures the orchestrator.
type SyncConfig struct {
	Debounce time.Duration `mapstructure:"debounce" validate:"gt=0"`
}

// DashboardConfig configures the live dashboard server.
type DashboardConfig struct {
	Port int `mapstructure:"port" validate:"gte=0,lte=65535"`
}

// LogConfig configures log output. An empty File logs to stderr only.
type LogConfig struct {
	File      string `mapstructure:"file"`
	MaxSizeMB int    `mapstructure:"max_size_mb" validate:"gte=0"`
}

// UserConfig holds the device user's defaults.
type UserConfig struct {
	Name string `mapstructure:"name"`
}

// DefaultDir returns the directory holding the config file and, by
// default, the data.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".organizer"
	}
	return filepath.Join(home, ".organizer")
}

// DefaultPath returns the default config file path.
func DefaultPath() string {
	return filepath.Join(DefaultDir(), FileName)
}

func defaults() map[string]any {
	return map[string]any{
		"data_dir":        DefaultDir(),
		"remote.base_url": "https://api.github.com",
		"remote.timeout":  "15s",
		"sync.debounce":   "3s",
		"dashboard.port":  8080,
		"log.file":        "",
		"log.max_size_mb": 10,
		"user.name":       "",
	}
}

// Keys returns every recognized key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(defaults()))
	for k := range defaults() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// IsKey reports whether key is a recognized setting.
func IsKey(key string) bool {
	_, ok := defaults()[key]
	return ok
}

func newViper(path string) (*viper.Viper, error) {
	v := viper.New()
	for k, val := range defaults() {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}
	return v, nil
}

// Load reads settings from path (DefaultPath when empty). A missing file
// is not an error.
func Load(path string) (*Config, error) {
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every field constraint.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Get returns the effective value of key as a string.
func Get(path, key string) (string, error) {
	if !IsKey(key) {
		return "", fmt.Errorf("unknown config key %q", key)
	}
	v, err := newViper(path)
	if err != nil {
		return "", err
	}
	return v.GetString(key), nil
}

// Set validates and persists one setting to the file at path.
func Set(path, key, value string) (*Config, error) {
	if !IsKey(key) {
		return nil, fmt.Errorf("unknown config key %q (known: %s)", key, strings.Join(Keys(), ", "))
	}
	if path == "" {
		path = DefaultPath()
	}

	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	v.Set(key, value)

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	if err := Save(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes cfg to path as YAML, atomically.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(toFile(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// fileConfig is the on-disk layout; durations are written as strings.
type fileConfig struct {
	DataDir string `yaml:"data_dir"`
	Remote  struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"remote"`
	Sync struct {
		Debounce string `yaml:"debounce"`
	} `yaml:"sync"`
	Dashboard struct {
		Port int `yaml:"port"`
	} `yaml:"dashboard"`
	Log struct {
		File      string `yaml:"file,omitempty"`
		MaxSizeMB int    `yaml:"max_size_mb"`
	} `yaml:"log"`
	User struct {
		Name string `yaml:"name,omitempty"`
	} `yaml:"user"`
}

func toFile(cfg *Config) fileConfig {
	var f fileConfig
	f.DataDir = cfg.DataDir
	f.Remote.BaseURL = cfg.Remote.BaseURL
	f.Remote.Timeout = cfg.Remote.Timeout.String()
	f.Sync.Debounce = cfg.Sync.Debounce.String()
	f.Dashboard.Port = cfg.Dashboard.Port
	f.Log.File = cfg.Log.File
	f.Log.MaxSizeMB = cfg.Log.MaxSizeMB
	f.User.Name = cfg.User.Name
	return f
}

// DatabasePath returns the local store path inside DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "organizer.db")
}

// LockPath returns the cross-process sync lock path inside DataDir.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "sync.lock")
}
