package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/muesli/termenv"

	"github.com/qubesos/qubes-appmenu/internal/bridge"
	"github.com/qubesos/qubes-appmenu/internal/config"
	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/favorites"
	"github.com/qubesos/qubes-appmenu/internal/launch"
	"github.com/qubesos/qubes-appmenu/internal/logging"
	"github.com/qubesos/qubes-appmenu/internal/menu"
	"github.com/qubesos/qubes-appmenu/internal/qubesd"
	"github.com/qubesos/qubes-appmenu/internal/registry"
	"github.com/qubesos/qubes-appmenu/internal/ui"
)

// menuRef lets the bridge be built before the menu it forwards to.
type menuRef struct {
	m *menu.Menu
}

func (r *menuRef) Model() display.Model { return r.m.Model() }

func (r *menuRef) Submit(ctx context.Context, in menu.Intent) error { return r.m.Submit(ctx, in) }

func run(ctx context.Context) error {
	configPath := config.DefaultPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)

	appsDir := qubesd.ExpandHome(cfg.ApplicationsDir)
	fmt.Printf("Qubes App Menu starting...\n")
	fmt.Printf("  config:    %s\n", configPath)
	fmt.Printf("  qubesd:    %s (as %s)\n", cfg.QubesdSocket, cfg.LocalDomain)
	fmt.Printf("  apps:      %s\n", appsDir)
	fmt.Printf("  favorites: %s (%s)\n", cfg.Favorites.Path, cfg.Favorites.Backend)
	fmt.Printf("  bridge:    %s\n", cfg.Bridge.Socket)

	store := openFavorites(cfg, logger)
	favs := favorites.NewAdapter(store, logger)
	defer favs.Close()

	client := qubesd.NewClient(qubesd.ClientConfig{Socket: cfg.QubesdSocket, Source: cfg.LocalDomain})
	mgr := qubesd.NewManager(client, appsDir, logger)
	defaults := registry.DefaultSettings()
	defaults.InitialPage = cfg.Menu.InitialPage
	mgr.SetDefaults(defaults)

	if err := os.MkdirAll(filepath.Dir(cfg.Bridge.Socket), 0700); err != nil {
		return fmt.Errorf("creating socket directory: %w", err)
	}
	ref := &menuRef{}
	br := bridge.New(ref, bridge.Options{Socket: cfg.Bridge.Socket, Logger: logger})
	term := ui.NewTerminal(os.Stdout, termenv.EnvColorProfile())

	m := menu.New(mgr, favs, menu.Fanout{br, term}, menu.Options{
		LocalDomain:  cfg.LocalDomain,
		QueueSize:    cfg.Events.QueueSize,
		ReconnectMin: cfg.Events.ReconnectMin,
		ReconnectMax: cfg.Events.ReconnectMax,
		StoreTimeout: cfg.StoreTimeout,
		Launch: launch.Options{
			Debounce:      cfg.Launch.Debounce,
			StartTimeout:  cfg.Launch.StartTimeout,
			LaunchTimeout: cfg.Launch.Timeout,
		},
		Display: display.Options{
			IconTheme:         cfg.IconThemeDir,
			KeepVisible:       cfg.Menu.KeepVisible,
			StartInBackground: cfg.Menu.StartInBackground,
		},
		Settings: &defaults,
		Logger:   logger,
	})
	ref.m = m

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bridgeErr := make(chan error, 1)
	go func() { bridgeErr <- br.Serve(ctx) }()

	err = m.Run(ctx)
	stop()
	fmt.Println("\nShutting down...")
	if berr := <-bridgeErr; berr != nil && !errors.Is(berr, context.Canceled) {
		return fmt.Errorf("bridge: %w", berr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// openFavorites opens the configured backend. An sqlite database that
// cannot be opened leaves favorites in memory for the session, with the
// usual persistence warning.
func openFavorites(cfg *config.Config, logger *slog.Logger) favorites.Store {
	if err := os.MkdirAll(filepath.Dir(cfg.Favorites.Path), 0750); err != nil {
		logger.Warn("creating favorites directory failed", "error", err)
	}
	if cfg.Favorites.Backend != config.FavoritesSQLite {
		return favorites.NewFileStore(cfg.Favorites.Path)
	}
	store, err := favorites.NewSQLiteStore(cfg.Favorites.Path)
	if err != nil {
		return favorites.Unavailable(err)
	}
	return store
}
