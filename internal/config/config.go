// Package config loads the menu's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the full menu configuration written to config.yml.
type Config struct {
	QubesdSocket    string          `yaml:"qubesd_socket"`
	LocalDomain     string          `yaml:"local_domain"`
	ApplicationsDir string          `yaml:"applications_dir"`
	IconThemeDir    string          `yaml:"icon_theme_dir"`
	Favorites       FavoritesConfig `yaml:"favorites"`
	Bridge          BridgeConfig    `yaml:"bridge"`
	Launch          LaunchConfig    `yaml:"launch"`
	Events          EventsConfig    `yaml:"events"`
	StoreTimeout    time.Duration   `yaml:"store_timeout"`
	Log             LogConfig       `yaml:"log"`
	Menu            MenuConfig      `yaml:"menu"`
}

type FavoritesConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type BridgeConfig struct {
	Socket string `yaml:"socket"`
}

type LaunchConfig struct {
	Debounce     time.Duration `yaml:"debounce"`
	Timeout      time.Duration `yaml:"timeout"`
	StartTimeout time.Duration `yaml:"start_timeout"`
}

type EventsConfig struct {
	QueueSize    int           `yaml:"queue_size"`
	ReconnectMin time.Duration `yaml:"reconnect_min"`
	ReconnectMax time.Duration `yaml:"reconnect_max"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type MenuConfig struct {
	KeepVisible       bool `yaml:"keep_visible"`
	InitialPage       int  `yaml:"initial_page"`
	StartInBackground bool `yaml:"start_in_background"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		QubesdSocket:    DefaultQubesdSocket,
		LocalDomain:     DefaultLocalDomain,
		ApplicationsDir: DefaultAppsDir,
		IconThemeDir:    DefaultIconThemeDir,
		Favorites: FavoritesConfig{
			Backend: FavoritesFile,
			Path:    filepath.Join(Dir(), "favorites.yml"),
		},
		Bridge: BridgeConfig{
			Socket: filepath.Join(RuntimeDir(), "menu.sock"),
		},
		Launch: LaunchConfig{
			Debounce:     DefaultDebounce,
			Timeout:      DefaultLaunchTime,
			StartTimeout: DefaultStartTimeout,
		},
		Events: EventsConfig{
			QueueSize:    DefaultQueueSize,
			ReconnectMin: DefaultReconnectMin,
			ReconnectMax: DefaultReconnectMax,
		},
		StoreTimeout: DefaultStoreTimeout,
		Log: LogConfig{
			Level:  "info",
			Format: LogFormatText,
		},
		Menu: MenuConfig{
			InitialPage: 1,
		},
	}
}

// Load reads and parses a config file from the given path. Keys missing
// from the file keep their defaults; a missing file yields Default().
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	// An sqlite backend without an explicit path gets its own file name.
	if cfg.Favorites.Backend == FavoritesSQLite && !hasFavoritesPath(data) {
		cfg.Favorites.Path = filepath.Join(Dir(), "favorites.db")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func hasFavoritesPath(data []byte) bool {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return false
	}
	favs, ok := raw["favorites"].(map[string]interface{})
	if !ok {
		return false
	}
	_, ok = favs["path"]
	return ok
}

// Validate checks that all required fields are present and values are in range.
func (c *Config) Validate() error {
	if c.QubesdSocket == "" {
		return fmt.Errorf("qubesd_socket is required")
	}
	if c.LocalDomain == "" {
		return fmt.Errorf("local_domain is required")
	}
	if c.ApplicationsDir == "" {
		return fmt.Errorf("applications_dir is required")
	}

	// Favorites
	switch c.Favorites.Backend {
	case FavoritesFile, FavoritesSQLite:
		// ok
	default:
		return fmt.Errorf("favorites.backend must be %q or %q", FavoritesFile, FavoritesSQLite)
	}
	if c.Favorites.Path == "" {
		return fmt.Errorf("favorites.path is required")
	}

	if c.Bridge.Socket == "" {
		return fmt.Errorf("bridge.socket is required")
	}

	// Launch
	if c.Launch.Debounce < 0 {
		return fmt.Errorf("launch.debounce must be >= 0")
	}
	if c.Launch.Timeout <= 0 {
		return fmt.Errorf("launch.timeout must be > 0")
	}
	if c.Launch.StartTimeout <= 0 {
		return fmt.Errorf("launch.start_timeout must be > 0")
	}

	// Events
	if c.Events.QueueSize < 1 {
		return fmt.Errorf("events.queue_size must be >= 1")
	}
	if c.Events.ReconnectMin <= 0 {
		return fmt.Errorf("events.reconnect_min must be > 0")
	}
	if c.Events.ReconnectMax < c.Events.ReconnectMin {
		return fmt.Errorf("events.reconnect_max must be >= events.reconnect_min")
	}

	if c.StoreTimeout <= 0 {
		return fmt.Errorf("store_timeout must be > 0")
	}

	// Logging
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
		// ok
	default:
		return fmt.Errorf("log.level must be one of debug, info, warn, error")
	}
	switch c.Log.Format {
	case LogFormatText, LogFormatJSON:
		// ok
	default:
		return fmt.Errorf("log.format must be %q or %q", LogFormatText, LogFormatJSON)
	}

	if c.Menu.InitialPage < 0 {
		return fmt.Errorf("menu.initial_page must be >= 0")
	}

	return nil
}

// Save writes the config to the given path, creating parent directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	return nil
}
