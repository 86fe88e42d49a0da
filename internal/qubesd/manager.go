package qubesd

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"

	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/menu"
	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Manager adapts the Admin API Client and the applications dir to the
// menu.Manager interface.
type Manager struct {
	client   *Client
	appsDir  string
	defaults registry.Settings
	logger   *slog.Logger
}

// compile-time check that Manager implements menu.Manager
var _ menu.Manager = (*Manager)(nil)

// NewManager creates a new Manager wrapping the given Client.
func NewManager(client *Client, appsDir string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		client:   client,
		appsDir:  appsDir,
		defaults: registry.DefaultSettings(),
		logger:   logger.With("component", "qubesd"),
	}
}

// SetDefaults sets the settings reported when the admin domain has no menu
// features set.
func (m *Manager) SetDefaults(s registry.Settings) {
	m.defaults = s
}

// ListQubes returns the descriptors of every qube except the admin domain.
func (m *Manager) ListQubes(ctx context.Context) ([]qube.Descriptor, error) {
	vms, err := m.client.ListVMs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]qube.Descriptor, 0, len(vms))
	for _, vm := range vms {
		if vm.Class == "AdminVM" {
			continue
		}
		d, err := m.client.Descriptor(ctx, vm)
		if errors.Is(err, qube.ErrUnknownEntity) {
			// Removed between the list and the property read.
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func (m *Manager) GetQube(ctx context.Context, name string) (qube.Descriptor, error) {
	vms, err := m.client.ListVMs(ctx)
	if err != nil {
		return qube.Descriptor{}, err
	}
	for _, vm := range vms {
		if vm.Name == name {
			return m.client.Descriptor(ctx, vm)
		}
	}
	return qube.Descriptor{}, qube.Unknown("get qube", name)
}

func (m *Manager) QubeState(ctx context.Context, name string) (qube.RunState, error) {
	return m.client.CurrentState(ctx, name)
}

func (m *Manager) ListApplications(ctx context.Context, name string) ([]qube.AppDescriptor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return ReadQubeApplications(m.appsDir, name)
}

func (m *Manager) StartQube(ctx context.Context, name string) error {
	return m.client.Start(ctx, name)
}

func (m *Manager) RunApplication(ctx context.Context, id qube.AppID) error {
	return RunApplication(ctx, id.Qube, id.App)
}

// Settings reads the menu features of the admin domain.
func (m *Manager) Settings(ctx context.Context) (registry.Settings, error) {
	s := m.defaults
	v, ok, err := m.client.GetFeature(ctx, m.client.source, events.FeatureInitialPage)
	if err != nil {
		return s, err
	}
	if n, convErr := strconv.Atoi(v); ok && convErr == nil {
		s.InitialPage = n
	}
	v, ok, err = m.client.GetFeature(ctx, m.client.source, events.FeatureSortRunning)
	if err != nil {
		return s, err
	}
	if ok {
		s.SortRunning = v != ""
	}
	return s, nil
}

// Subscribe streams qubesd events and application dir changes into fn
// until the event stream ends.
func (m *Manager) Subscribe(ctx context.Context, fn func(events.Raw)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		w := NewWatcher(m.appsDir, m.logger)
		if err := w.Run(ctx, fn); err != nil && ctx.Err() == nil {
			m.logger.Warn("application watcher stopped", "error", err)
		}
	}()

	err := m.client.Events(ctx, fn)
	cancel()
	wg.Wait()
	return err
}
