package display

import (
	"sort"
	"strings"

	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Options are the projector's configuration-level inputs.
type Options struct {
	IconTheme         string
	KeepVisible       bool
	StartInBackground bool
}

// Projector builds render models. It remembers the last projected groups so
// ProjectDiff can emit only what changed. Like the registry, it belongs to
// the event loop goroutine.
type Projector struct {
	opts     Options
	groups   map[string]Group
	order    []string
	settings Settings
	primed   bool
}

// NewProjector returns a projector with an empty cache.
func NewProjector(opts Options) *Projector {
	return &Projector{opts: opts, groups: make(map[string]Group)}
}

// Project builds the full model for snap and resets the incremental cache to
// it. The same snapshot always yields the same model.
func (p *Projector) Project(snap registry.Snapshot) Model {
	m := Build(snap, p.opts)
	p.groups = make(map[string]Group, len(m.Groups))
	p.order = make([]string, 0, len(m.Groups))
	for _, g := range m.Groups {
		p.groups[g.ID] = g
		p.order = append(p.order, g.ID)
	}
	p.settings = m.Settings
	p.primed = true
	return m
}

// ProjectDiff rebuilds only the groups diff touches and returns the groups
// that differ structurally from the last projection.
func (p *Projector) ProjectDiff(snap registry.Snapshot, d registry.Diff) ModelDiff {
	if !p.primed {
		m := p.Project(snap)
		out := ModelDiff{Upserted: m.Groups, Order: p.order, Settings: &m.Settings}
		return out
	}

	var out ModelDiff
	settings := settingsOf(snap, p.opts)
	if settings != p.settings {
		p.settings = settings
		out.Settings = &settings
	}

	touched := d.Touched()
	if out.Settings != nil {
		// Settings can reorder the whole menu; re-check every group.
		touched = append(touched, p.cachedQubes()...)
		for _, q := range snap.Qubes {
			touched = append(touched, q.Name)
		}
	}

	seen := make(map[string]bool, len(touched))
	for _, name := range touched {
		if seen[name] {
			continue
		}
		seen[name] = true
		q, ok := snap.Qube(name)
		if !ok {
			if _, cached := p.groups[name]; cached {
				delete(p.groups, name)
				out.Removed = append(out.Removed, name)
			}
			continue
		}
		p.put(&out, qubeGroup(q, snap.Apps[name]))
	}

	if appsTouched(d) || out.Settings != nil {
		if fav, ok := favoritesGroup(snap); ok {
			p.put(&out, fav)
		} else if _, cached := p.groups[FavoritesGroup]; cached {
			delete(p.groups, FavoritesGroup)
			out.Removed = append(out.Removed, FavoritesGroup)
		}
	}

	sort.Strings(out.Removed)
	if order := groupOrder(snap); !equalStrings(order, p.order) {
		p.order = order
		out.Order = order
	}
	return out
}

func (p *Projector) put(out *ModelDiff, g Group) {
	if old, ok := p.groups[g.ID]; ok && old.equal(g) {
		return
	}
	p.groups[g.ID] = g
	out.Upserted = append(out.Upserted, g)
}

func (p *Projector) cachedQubes() []string {
	names := make([]string, 0, len(p.groups))
	for id := range p.groups {
		if id != FavoritesGroup {
			names = append(names, id)
		}
	}
	sort.Strings(names)
	return names
}

// Build is the pure full projection used by Project.
func Build(snap registry.Snapshot, opts Options) Model {
	m := Model{
		IconTheme: opts.IconTheme,
		Settings:  settingsOf(snap, opts),
		Groups:    make([]Group, 0, len(snap.Qubes)+1),
	}
	byName := make(map[string]qube.Qube, len(snap.Qubes))
	for _, q := range snap.Qubes {
		byName[q.Name] = q
	}
	for _, id := range groupOrder(snap) {
		if id == FavoritesGroup {
			fav, _ := favoritesGroup(snap)
			m.Groups = append(m.Groups, fav)
			continue
		}
		m.Groups = append(m.Groups, qubeGroup(byName[id], snap.Apps[id]))
	}
	return m
}

func settingsOf(snap registry.Snapshot, opts Options) Settings {
	return Settings{
		InitialPage:       snap.Settings.InitialPage,
		SortRunning:       snap.Settings.SortRunning,
		KeepVisible:       opts.KeepVisible,
		StartInBackground: opts.StartInBackground,
	}
}

// groupOrder puts the favorites group first when it has entries, then the
// qubes by name, running qubes first when the sort-running setting is on.
func groupOrder(snap registry.Snapshot) []string {
	qubes := append([]qube.Qube(nil), snap.Qubes...)
	sort.SliceStable(qubes, func(i, j int) bool {
		if snap.Settings.SortRunning {
			ri, rj := qubes[i].State == qube.StateRunning, qubes[j].State == qube.StateRunning
			if ri != rj {
				return ri
			}
		}
		return qubes[i].Name < qubes[j].Name
	})

	order := make([]string, 0, len(qubes)+1)
	if hasFavorites(snap) {
		order = append(order, FavoritesGroup)
	}
	for _, q := range qubes {
		order = append(order, q.Name)
	}
	return order
}

func qubeGroup(q qube.Qube, apps []qube.Application) Group {
	entries := make([]Entry, 0, len(apps))
	for _, a := range apps {
		entries = append(entries, entryOf(a))
	}
	SortEntries(entries)
	return Group{
		ID:    q.Name,
		Title: q.Name,
		Icon:  QubeIcon(q.Kind, q.Exposure, q.State),
		Qube: &QubeInfo{
			Name:     q.Name,
			Kind:     q.Kind,
			State:    q.State,
			Exposure: q.Exposure,
			Label:    q.Label,
			Template: q.Template,
			Removing: q.Removing,
		},
		Entries: entries,
	}
}

func favoritesGroup(snap registry.Snapshot) (Group, bool) {
	var entries []Entry
	for _, q := range snap.Qubes {
		for _, a := range snap.Apps[q.Name] {
			if a.Favorite {
				entries = append(entries, entryOf(a))
			}
		}
	}
	if len(entries) == 0 {
		return Group{}, false
	}
	SortEntries(entries)
	return Group{ID: FavoritesGroup, Title: "Favorites", Icon: FavoritesIcon, Entries: entries}, true
}

func hasFavorites(snap registry.Snapshot) bool {
	for _, apps := range snap.Apps {
		for _, a := range apps {
			if a.Favorite {
				return true
			}
		}
	}
	return false
}

func entryOf(a qube.Application) Entry {
	icon := a.Icon
	if icon == "" {
		icon = DefaultAppIcon
	}
	return Entry{Qube: a.ID.Qube, App: a.ID.App, Name: a.DisplayName, Icon: icon, Favorite: a.Favorite}
}

// SortEntries orders favorites first, then by display name
// (case-insensitive), breaking ties by name, qube and app id.
func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entryLess(entries[i], entries[j])
	})
}

func entryLess(a, b Entry) bool {
	if a.Favorite != b.Favorite {
		return a.Favorite
	}
	la, lb := strings.ToLower(a.Name), strings.ToLower(b.Name)
	if la != lb {
		return la < lb
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Qube != b.Qube {
		return a.Qube < b.Qube
	}
	return a.App < b.App
}

func appsTouched(d registry.Diff) bool {
	return len(d.AddedApps) > 0 || len(d.UpdatedApps) > 0 || len(d.RemovedApps) > 0 || len(d.RemovedQubes) > 0
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
