package config

import (
	"os"
	"path/filepath"
	"time"
)

const (
	// Filesystem paths
	AppName             = "qubes-appmenu"
	DefaultQubesdSocket = "/var/run/qubesd.sock"
	DefaultAppsDir      = "~/.local/share/applications"
	DefaultIconThemeDir = "/usr/share/icons/hicolor/scalable/apps"
	DefaultLocalDomain  = "dom0"

	// Favorites backends
	FavoritesFile   = "file"
	FavoritesSQLite = "sqlite"

	// Launch defaults
	DefaultDebounce     = 1 * time.Second
	DefaultLaunchTime   = 30 * time.Second
	DefaultStartTimeout = 60 * time.Second

	// Event stream defaults
	DefaultQueueSize    = 256
	DefaultReconnectMin = 1 * time.Second
	DefaultReconnectMax = 30 * time.Second
	DefaultStoreTimeout = 5 * time.Second

	// Log formats
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Dir returns the menu's directory under the user's XDG config dir. The
// config file and favorites live there.
func Dir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = filepath.Join(homeDir(), ".config")
	}
	return filepath.Join(dir, AppName)
}

// DefaultPath returns the config file location.
func DefaultPath() string {
	return filepath.Join(Dir(), "config.yml")
}

// RuntimeDir returns the directory for the bridge socket.
func RuntimeDir() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, AppName)
	}
	return filepath.Join(os.TempDir(), AppName+"-"+os.Getenv("USER"))
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
