// Package registry holds the authoritative in-memory table of qubes and
// their applications.
//
// A Registry has exactly one writer, the reconciler running on the menu's
// event loop. It takes no locks. Every other component works on a Snapshot,
// which shares no memory with the registry.
package registry

import (
	"sort"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// Settings are menu-wide preferences read from the local domain.
type Settings struct {
	InitialPage int  `json:"initial_page"`
	SortRunning bool `json:"sort_running"`
}

// DefaultSettings matches the menu's behaviour when no feature is set.
func DefaultSettings() Settings {
	return Settings{InitialPage: 1}
}

// Registry is the mutable table of known qubes and applications.
type Registry struct {
	qubes    map[string]qube.Qube
	apps     map[string]map[string]qube.Application
	settings Settings
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		qubes:    make(map[string]qube.Qube),
		apps:     make(map[string]map[string]qube.Application),
		settings: DefaultSettings(),
	}
}

// Qube returns the named qube.
func (r *Registry) Qube(name string) (qube.Qube, bool) {
	q, ok := r.qubes[name]
	return q, ok
}

// Names returns all qube names in sorted order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.qubes))
	for name := range r.qubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Settings returns the current menu settings.
func (r *Registry) Settings() Settings {
	return r.settings
}

// SetSettings replaces the menu settings and reports whether they changed.
func (r *Registry) SetSettings(s Settings) bool {
	if s == r.settings {
		return false
	}
	r.settings = s
	return true
}

// UpsertQube inserts q or updates the existing entry of the same name in
// place. The returned diff is empty when nothing structurally changed.
func (r *Registry) UpsertQube(q qube.Qube) Diff {
	var d Diff
	old, ok := r.qubes[q.Name]
	r.qubes[q.Name] = q
	switch {
	case !ok:
		d.AddedQubes = append(d.AddedQubes, q)
	case !old.Equal(q):
		d.UpdatedQubes = append(d.UpdatedQubes, q)
	}
	return d
}

// RemoveQube deletes a qube and cascades to its applications, dropping
// their cached favorite flags with them.
func (r *Registry) RemoveQube(name string) Diff {
	var d Diff
	if _, ok := r.qubes[name]; !ok {
		return d
	}
	delete(r.qubes, name)
	d.RemovedQubes = append(d.RemovedQubes, name)
	for _, app := range sortedApps(r.apps[name]) {
		d.RemovedApps = append(d.RemovedApps, app.ID)
	}
	delete(r.apps, name)
	return d
}

// Application returns one application.
func (r *Registry) Application(id qube.AppID) (qube.Application, bool) {
	app, ok := r.apps[id.Qube][id.App]
	return app, ok
}

// Applications returns the applications of a qube sorted by app id.
func (r *Registry) Applications(name string) []qube.Application {
	return sortedApps(r.apps[name])
}

// UpsertApplications replaces the full application list of a qube. Entries
// absent from full are removed. The qube must be present.
func (r *Registry) UpsertApplications(name string, full []qube.Application) (Diff, error) {
	var d Diff
	if _, ok := r.qubes[name]; !ok {
		return d, qube.Unknown("upsert applications", name)
	}

	old := r.apps[name]
	next := make(map[string]qube.Application, len(full))
	for _, app := range full {
		app.ID.Qube = name
		next[app.ID.App] = app
	}

	for _, app := range sortedApps(next) {
		prev, ok := old[app.ID.App]
		switch {
		case !ok:
			d.AddedApps = append(d.AddedApps, app)
		case !prev.Equal(app):
			d.UpdatedApps = append(d.UpdatedApps, app)
		}
	}
	for _, app := range sortedApps(old) {
		if _, ok := next[app.ID.App]; !ok {
			d.RemovedApps = append(d.RemovedApps, app.ID)
		}
	}

	r.apps[name] = next
	return d, nil
}

// SetFavorite updates the cached favorite flag of one application.
func (r *Registry) SetFavorite(id qube.AppID, favorite bool) (Diff, error) {
	var d Diff
	app, ok := r.apps[id.Qube][id.App]
	if !ok {
		return d, qube.Unknown("set favorite", id.String())
	}
	if app.Favorite == favorite {
		return d, nil
	}
	app.Favorite = favorite
	r.apps[id.Qube][id.App] = app
	d.UpdatedApps = append(d.UpdatedApps, app)
	return d, nil
}

// Snapshot returns a deep copy of the registry.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		Qubes:    make([]qube.Qube, 0, len(r.qubes)),
		Apps:     make(map[string][]qube.Application, len(r.apps)),
		Settings: r.settings,
	}
	for _, name := range r.Names() {
		s.Qubes = append(s.Qubes, r.qubes[name])
		if apps := r.apps[name]; len(apps) > 0 {
			s.Apps[name] = sortedApps(apps)
		}
	}
	return s
}

func sortedApps(m map[string]qube.Application) []qube.Application {
	if len(m) == 0 {
		return nil
	}
	out := make([]qube.Application, 0, len(m))
	for _, app := range m {
		out = append(out, app)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.App < out[j].ID.App })
	return out
}
