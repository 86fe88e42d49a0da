// Package display turns registry snapshots into the toolkit-agnostic render
// model consumed by menu renderers.
package display

import "github.com/qubesos/qubes-appmenu/internal/qube"

// FavoritesGroup is the id of the virtual group collecting every favorite.
// Qube names cannot contain a colon, so it never collides with a qube group.
const FavoritesGroup = ":favorites"

// Settings travel with every full model so renderers can honour them.
type Settings struct {
	InitialPage       int  `json:"initial_page"`
	SortRunning       bool `json:"sort_running"`
	KeepVisible       bool `json:"keep_visible"`
	StartInBackground bool `json:"start_in_background"`
}

// Model is a full render tree.
type Model struct {
	IconTheme string   `json:"icon_theme,omitempty"`
	Settings  Settings `json:"settings"`
	Groups    []Group  `json:"groups"`
}

// Group is one section of the menu: a qube, or the favorites group.
type Group struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Icon    string    `json:"icon"`
	Qube    *QubeInfo `json:"qube,omitempty"`
	Entries []Entry   `json:"entries"`
}

// QubeInfo is the status line of a qube group.
type QubeInfo struct {
	Name     string        `json:"name"`
	Kind     qube.Kind     `json:"kind"`
	State    qube.RunState `json:"state"`
	Exposure qube.Exposure `json:"exposure"`
	Label    string        `json:"label,omitempty"`
	Template string        `json:"template,omitempty"`
	Removing bool          `json:"removing,omitempty"`
}

// Entry is one launchable application.
type Entry struct {
	Qube     string `json:"qube"`
	App      string `json:"app"`
	Name     string `json:"name"`
	Icon     string `json:"icon"`
	Favorite bool   `json:"favorite"`
}

// ID returns the application id of the entry.
func (e Entry) ID() qube.AppID {
	return qube.AppID{Qube: e.Qube, App: e.App}
}

// ModelDiff is an incremental update. Upserted groups replace groups of the
// same id; Order, when non-nil, is the new complete group order.
type ModelDiff struct {
	Upserted []Group   `json:"upserted,omitempty"`
	Removed  []string  `json:"removed,omitempty"`
	Order    []string  `json:"order,omitempty"`
	Settings *Settings `json:"settings,omitempty"`
}

// Empty reports whether the diff changes nothing.
func (d ModelDiff) Empty() bool {
	return len(d.Upserted) == 0 && len(d.Removed) == 0 && d.Order == nil && d.Settings == nil
}

func (g Group) equal(o Group) bool {
	if g.ID != o.ID || g.Title != o.Title || g.Icon != o.Icon || len(g.Entries) != len(o.Entries) {
		return false
	}
	if (g.Qube == nil) != (o.Qube == nil) {
		return false
	}
	if g.Qube != nil && *g.Qube != *o.Qube {
		return false
	}
	for i := range g.Entries {
		if g.Entries[i] != o.Entries[i] {
			return false
		}
	}
	return true
}
