package registry

import (
	"sort"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// Snapshot is an immutable view of the registry. Qubes are sorted by name,
// applications by app id.
type Snapshot struct {
	Qubes    []qube.Qube
	Apps     map[string][]qube.Application
	Settings Settings
}

// Qube looks up a qube by name.
func (s Snapshot) Qube(name string) (qube.Qube, bool) {
	i := sort.Search(len(s.Qubes), func(i int) bool { return s.Qubes[i].Name >= name })
	if i < len(s.Qubes) && s.Qubes[i].Name == name {
		return s.Qubes[i], true
	}
	return qube.Qube{}, false
}

// Application looks up an application by id.
func (s Snapshot) Application(id qube.AppID) (qube.Application, bool) {
	apps := s.Apps[id.Qube]
	i := sort.Search(len(apps), func(i int) bool { return apps[i].ID.App >= id.App })
	if i < len(apps) && apps[i].ID.App == id.App {
		return apps[i], true
	}
	return qube.Application{}, false
}

// Diff lists what one reconciler step changed.
type Diff struct {
	AddedQubes   []qube.Qube
	UpdatedQubes []qube.Qube
	RemovedQubes []string
	AddedApps    []qube.Application
	UpdatedApps  []qube.Application
	RemovedApps  []qube.AppID
	Settings     bool
}

// Empty reports whether the diff changes nothing.
func (d Diff) Empty() bool {
	return len(d.AddedQubes) == 0 && len(d.UpdatedQubes) == 0 && len(d.RemovedQubes) == 0 &&
		len(d.AddedApps) == 0 && len(d.UpdatedApps) == 0 && len(d.RemovedApps) == 0 &&
		!d.Settings
}

// Merge appends o to d.
func (d *Diff) Merge(o Diff) {
	d.AddedQubes = append(d.AddedQubes, o.AddedQubes...)
	d.UpdatedQubes = append(d.UpdatedQubes, o.UpdatedQubes...)
	d.RemovedQubes = append(d.RemovedQubes, o.RemovedQubes...)
	d.AddedApps = append(d.AddedApps, o.AddedApps...)
	d.UpdatedApps = append(d.UpdatedApps, o.UpdatedApps...)
	d.RemovedApps = append(d.RemovedApps, o.RemovedApps...)
	d.Settings = d.Settings || o.Settings
}

// Touched returns the sorted, de-duplicated names of qubes whose group in
// the menu is affected by the diff.
func (d Diff) Touched() []string {
	seen := make(map[string]struct{})
	for _, q := range d.AddedQubes {
		seen[q.Name] = struct{}{}
	}
	for _, q := range d.UpdatedQubes {
		seen[q.Name] = struct{}{}
	}
	for _, name := range d.RemovedQubes {
		seen[name] = struct{}{}
	}
	for _, a := range d.AddedApps {
		seen[a.ID.Qube] = struct{}{}
	}
	for _, a := range d.UpdatedApps {
		seen[a.ID.Qube] = struct{}{}
	}
	for _, id := range d.RemovedApps {
		seen[id.Qube] = struct{}{}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
