package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.QubesdSocket != DefaultQubesdSocket {
		t.Errorf("qubesd_socket = %q, want %q", cfg.QubesdSocket, DefaultQubesdSocket)
	}
	if cfg.Launch.Debounce != DefaultDebounce {
		t.Errorf("launch.debounce = %v, want %v", cfg.Launch.Debounce, DefaultDebounce)
	}
	if cfg.Favorites.Backend != FavoritesFile {
		t.Errorf("favorites.backend = %q", cfg.Favorites.Backend)
	}
}

func TestLoadOverridesKeepOtherDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	data := `
launch:
  debounce: 250ms
events:
  queue_size: 64
log:
  level: debug
  format: json
menu:
  keep_visible: true
  initial_page: 2
`
	if err := os.WriteFile(path, []byte(data), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Launch.Debounce != 250*time.Millisecond {
		t.Errorf("launch.debounce = %v, want 250ms", cfg.Launch.Debounce)
	}
	if cfg.Launch.Timeout != DefaultLaunchTime {
		t.Errorf("launch.timeout = %v, want default", cfg.Launch.Timeout)
	}
	if cfg.Events.QueueSize != 64 || cfg.Events.ReconnectMax != DefaultReconnectMax {
		t.Errorf("events = %+v", cfg.Events)
	}
	if cfg.Log.Format != LogFormatJSON || cfg.Log.Level != "debug" {
		t.Errorf("log = %+v", cfg.Log)
	}
	if !cfg.Menu.KeepVisible || cfg.Menu.InitialPage != 2 || cfg.Menu.StartInBackground {
		t.Errorf("menu = %+v", cfg.Menu)
	}
}

func TestLoadSQLiteBackendPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path := filepath.Join(dir, "config.yml")
	os.WriteFile(path, []byte("favorites:\n  backend: sqlite\n"), 0644)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := filepath.Join(dir, AppName, "favorites.db")
	if cfg.Favorites.Path != want {
		t.Errorf("favorites.path = %q, want %q", cfg.Favorites.Path, want)
	}

	os.WriteFile(path, []byte("favorites:\n  backend: sqlite\n  path: /tmp/favs.db\n"), 0644)
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Favorites.Path != "/tmp/favs.db" {
		t.Errorf("favorites.path = %q, want explicit path", cfg.Favorites.Path)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	os.WriteFile(path, []byte("{{{{not yaml"), 0644)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"empty socket", func(c *Config) { c.QubesdSocket = "" }},
		{"empty local domain", func(c *Config) { c.LocalDomain = "" }},
		{"empty applications dir", func(c *Config) { c.ApplicationsDir = "" }},
		{"unknown favorites backend", func(c *Config) { c.Favorites.Backend = "redis" }},
		{"empty favorites path", func(c *Config) { c.Favorites.Path = "" }},
		{"empty bridge socket", func(c *Config) { c.Bridge.Socket = "" }},
		{"negative debounce", func(c *Config) { c.Launch.Debounce = -time.Second }},
		{"zero launch timeout", func(c *Config) { c.Launch.Timeout = 0 }},
		{"zero start timeout", func(c *Config) { c.Launch.StartTimeout = 0 }},
		{"zero queue", func(c *Config) { c.Events.QueueSize = 0 }},
		{"reconnect max below min", func(c *Config) { c.Events.ReconnectMax = c.Events.ReconnectMin / 2 }},
		{"zero store timeout", func(c *Config) { c.StoreTimeout = 0 }},
		{"bad log level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad log format", func(c *Config) { c.Log.Format = "xml" }},
		{"negative initial page", func(c *Config) { c.Menu.InitialPage = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestZeroDebounceAllowed(t *testing.T) {
	cfg := Default()
	cfg.Launch.Debounce = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("zero debounce should be valid: %v", err)
	}
}

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yml")
	cfg := Default()
	cfg.Launch.Debounce = 750 * time.Millisecond
	cfg.Menu.StartInBackground = true

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Launch.Debounce != 750*time.Millisecond || !loaded.Menu.StartInBackground {
		t.Errorf("round trip lost values: %+v", loaded)
	}
}

func TestDirsHonourXDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/xdg/config")
	if got := DefaultPath(); got != filepath.Join("/xdg/config", AppName, "config.yml") {
		t.Errorf("DefaultPath() = %q", got)
	}
	if got := Default().Favorites.Path; got != filepath.Join("/xdg/config", AppName, "favorites.yml") {
		t.Errorf("favorites.path = %q", got)
	}
	t.Setenv("XDG_RUNTIME_DIR", "/run/user/1000")
	if got := RuntimeDir(); got != filepath.Join("/run/user/1000", AppName) {
		t.Errorf("RuntimeDir() = %q", got)
	}
}
