// Package reconcile applies normalized events to the registry and computes
// the structural diff of every step.
package reconcile

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Favorites is the durable favorites source the reconciler merges from.
type Favorites interface {
	IsFavorite(id qube.AppID) bool
}

// Reconciler is the registry's only writer. It must be driven from a
// single goroutine.
type Reconciler struct {
	reg         *registry.Registry
	favs        Favorites
	localDomain string
	defaults    registry.Settings
	logger      *slog.Logger

	// Sequence of the last event that set each descriptor field, per qube.
	touched map[string]map[string]uint64
}

// Descriptor fields tracked for last-write-wins merging.
const (
	fieldState           = "state"
	fieldLabel           = events.PropLabel
	fieldNetVM           = events.PropNetVM
	fieldTemplate        = events.PropTemplate
	fieldProvidesNetwork = events.PropProvidesNetwork
)

// New returns a reconciler writing to reg.
func New(reg *registry.Registry, favs Favorites, localDomain string, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	if localDomain == "" {
		localDomain = "dom0"
	}
	return &Reconciler{
		reg:         reg,
		favs:        favs,
		localDomain: localDomain,
		defaults:    registry.DefaultSettings(),
		logger:      logger.With("component", "reconcile"),
		touched:     make(map[string]map[string]uint64),
	}
}

// SetDefaults sets the menu settings used while a dom0 feature is unset
// and applies them to the registry.
func (r *Reconciler) SetDefaults(s registry.Settings) registry.Diff {
	r.defaults = s
	return registry.Diff{Settings: r.reg.SetSettings(s)}
}

// Snapshot returns a copy of the current registry state.
func (r *Reconciler) Snapshot() registry.Snapshot {
	return r.reg.Snapshot()
}

// Apply applies one event. Applying the same event twice leaves the
// registry as after the first application, with an empty second diff.
func (r *Reconciler) Apply(ev events.Event) (registry.Diff, error) {
	if r.stale(ev) {
		r.logger.Debug("ignoring stale event", "qube", ev.Qube(), "seq", ev.Sequence())
		return registry.Diff{}, nil
	}

	switch e := ev.(type) {
	case events.QubeAdded:
		return r.applyAdded(e), nil
	case events.QubeRemoved:
		return r.applyRemoved(e)
	case events.QubeStateChanged:
		return r.applyState(e)
	case events.PropertyChanged:
		return r.applyProperty(e)
	case events.AppListChanged:
		return r.applyAppList(e)
	}
	return registry.Diff{}, fmt.Errorf("unsupported event %T", ev)
}

// stale reports whether ev carries a sequence older than the last one
// applied to its qube. Application lists are full replacements and always
// apply in arrival order. Descriptors are merged by applyAdded instead.
func (r *Reconciler) stale(ev events.Event) bool {
	seq := ev.Sequence()
	switch ev.(type) {
	case events.AppListChanged, events.QubeAdded:
		return false
	}
	if seq == 0 {
		return false
	}
	q, ok := r.reg.Qube(ev.Qube())
	return ok && seq < q.Revision
}

func (r *Reconciler) applyAdded(e events.QubeAdded) registry.Diff {
	old, exists := r.reg.Qube(e.Descriptor.Name)
	if e.Partial {
		if exists {
			return registry.Diff{}
		}
		return r.upsert(qube.Qube{
			Name:     e.Descriptor.Name,
			Kind:     qube.KindStandalone,
			State:    qube.StateHalted,
			Exposure: qube.ExposureNone,
			Revision: e.Seq,
		})
	}

	d := e.Descriptor
	q := qube.Qube{
		Name:            d.Name,
		Class:           d.Class,
		State:           d.State,
		Template:        d.Template,
		NetVM:           d.NetVM,
		Label:           d.Label,
		ProvidesNetwork: d.ProvidesNetwork,
		Revision:        maxRevision(old.Revision, e.Seq),
	}
	if q.State == "" {
		q.State = qube.StateHalted
	}
	if exists {
		q.Removing = old.Removing
		// Fields set by events newer than the descriptor keep their value.
		if e.Seq != 0 {
			newer := func(field string) bool { return r.touched[d.Name][field] > e.Seq }
			if newer(fieldState) {
				q.State = old.State
			}
			if newer(fieldLabel) {
				q.Label = old.Label
			}
			if newer(fieldNetVM) {
				q.NetVM = old.NetVM
			}
			if newer(fieldTemplate) {
				q.Template = old.Template
			}
			if newer(fieldProvidesNetwork) {
				q.ProvidesNetwork = old.ProvidesNetwork
			}
		}
	}
	q.Kind = qube.Classify(q.Class, q.ProvidesNetwork, q.NetVM)
	return r.upsert(q)
}

// touch records that field of qube name was set by the event at seq.
func (r *Reconciler) touch(name, field string, seq uint64) {
	if seq == 0 {
		return
	}
	fields, ok := r.touched[name]
	if !ok {
		fields = make(map[string]uint64)
		r.touched[name] = fields
	}
	fields[field] = maxRevision(fields[field], seq)
}

func (r *Reconciler) applyRemoved(e events.QubeRemoved) (registry.Diff, error) {
	if _, ok := r.reg.Qube(e.Name); !ok {
		return registry.Diff{}, qube.Unknown("remove qube", e.Name)
	}
	delete(r.touched, e.Name)
	d := r.reg.RemoveQube(e.Name)
	d.Merge(r.recomputeExposure())
	return d, nil
}

func (r *Reconciler) applyState(e events.QubeStateChanged) (registry.Diff, error) {
	q, ok := r.reg.Qube(e.Name)
	if !ok {
		return registry.Diff{}, qube.Unknown("state change", e.Name)
	}
	if e.Removing {
		q.Removing = true
	}
	if e.State != "" {
		q.State = e.State
		r.touch(e.Name, fieldState, e.Seq)
	}
	q.Revision = maxRevision(q.Revision, e.Seq)
	return r.reg.UpsertQube(q), nil
}

func (r *Reconciler) applyProperty(e events.PropertyChanged) (registry.Diff, error) {
	if feature, ok := strings.CutPrefix(e.Property, "feature:"); ok {
		if e.Name != r.localDomain {
			return registry.Diff{}, qube.Unknown("feature change", e.Name)
		}
		return r.applySetting(feature, e.Value, e.Deleted), nil
	}

	q, ok := r.reg.Qube(e.Name)
	if !ok {
		return registry.Diff{}, qube.Unknown("property change", e.Name)
	}
	switch e.Property {
	case events.PropLabel:
		q.Label = e.Value
	case events.PropNetVM:
		q.NetVM = e.Value
	case events.PropTemplate:
		q.Template = e.Value
	case events.PropProvidesNetwork:
		q.ProvidesNetwork = ParseBool(e.Value)
	default:
		return registry.Diff{}, nil
	}
	r.touch(e.Name, e.Property, e.Seq)
	q.Kind = qube.Classify(q.Class, q.ProvidesNetwork, q.NetVM)
	q.Revision = maxRevision(q.Revision, e.Seq)
	return r.upsert(q), nil
}

func (r *Reconciler) applySetting(feature, value string, deleted bool) registry.Diff {
	s := r.reg.Settings()
	switch feature {
	case events.FeatureInitialPage:
		s.InitialPage = r.defaults.InitialPage
		if n, err := strconv.Atoi(value); err == nil && !deleted {
			s.InitialPage = n
		}
	case events.FeatureSortRunning:
		s.SortRunning = !deleted && value != ""
	}
	return registry.Diff{Settings: r.reg.SetSettings(s)}
}

func (r *Reconciler) applyAppList(e events.AppListChanged) (registry.Diff, error) {
	if _, ok := r.reg.Qube(e.Name); !ok {
		return registry.Diff{}, qube.Unknown("application list", e.Name)
	}
	apps := make([]qube.Application, 0, len(e.Apps))
	for _, a := range e.Apps {
		if a.App == "" {
			continue
		}
		id := qube.AppID{Qube: e.Name, App: a.App}
		name := a.DisplayName
		if name == "" {
			name = a.App
		}
		apps = append(apps, qube.Application{
			ID:          id,
			DisplayName: name,
			Icon:        a.Icon,
			Favorite:    r.favs.IsFavorite(id),
		})
	}
	return r.reg.UpsertApplications(e.Name, apps)
}

// SetFavorite records a favorite flag that was already persisted.
func (r *Reconciler) SetFavorite(id qube.AppID, favorite bool) (registry.Diff, error) {
	return r.reg.SetFavorite(id, favorite)
}

// RefreshFavorites re-merges every cached favorite flag from the durable
// source.
func (r *Reconciler) RefreshFavorites() registry.Diff {
	var d registry.Diff
	for _, name := range r.reg.Names() {
		for _, app := range r.reg.Applications(name) {
			step, _ := r.reg.SetFavorite(app.ID, r.favs.IsFavorite(app.ID))
			d.Merge(step)
		}
	}
	return d
}

// Listing is a full view of the management API taken at sequence Seq.
// Apps holds only the qubes whose application listing succeeded.
type Listing struct {
	Seq      uint64
	Qubes    []qube.Descriptor
	Apps     map[string][]qube.AppDescriptor
	Settings *registry.Settings
}

// Resync applies a full listing. Qubes missing from it are removed unless
// an event newer than the listing has touched them.
func (r *Reconciler) Resync(l Listing) registry.Diff {
	var d registry.Diff
	present := make(map[string]bool, len(l.Qubes))
	for _, desc := range l.Qubes {
		present[desc.Name] = true
		step, _ := r.Apply(events.QubeAdded{Seq: l.Seq, Descriptor: desc})
		d.Merge(step)
	}
	for _, name := range r.reg.Names() {
		if present[name] {
			continue
		}
		if q, _ := r.reg.Qube(name); l.Seq != 0 && q.Revision > l.Seq {
			continue
		}
		step, _ := r.Apply(events.QubeRemoved{Name: name})
		d.Merge(step)
	}
	for _, desc := range l.Qubes {
		apps, ok := l.Apps[desc.Name]
		if !ok {
			continue
		}
		step, err := r.Apply(events.AppListChanged{Seq: l.Seq, Name: desc.Name, Apps: apps})
		if err != nil {
			r.logger.Debug("resync application list skipped", "qube", desc.Name, "error", err)
		}
		d.Merge(step)
	}
	if l.Settings != nil {
		d.Settings = r.reg.SetSettings(*l.Settings) || d.Settings
	}
	d.Merge(r.RefreshFavorites())
	return d
}

// upsert stores q with its exposure recomputed, then refreshes the exposure
// of every qube whose netvm chain runs through it.
func (r *Reconciler) upsert(q qube.Qube) registry.Diff {
	q.Exposure = r.exposure(q)
	d := r.reg.UpsertQube(q)
	d.Merge(r.recomputeExposure())
	return d
}

func (r *Reconciler) recomputeExposure() registry.Diff {
	var d registry.Diff
	for _, name := range r.reg.Names() {
		q, _ := r.reg.Qube(name)
		if e := r.exposure(q); e != q.Exposure {
			q.Exposure = e
			d.Merge(r.reg.UpsertQube(q))
		}
	}
	return d
}

// exposure derives network exposure from the netvm chain: no netvm is none,
// a netvm at the network edge is direct, anything further upstream or
// unknown is via-proxy.
func (r *Reconciler) exposure(q qube.Qube) qube.Exposure {
	if q.NetVM == "" {
		return qube.ExposureNone
	}
	upstream, ok := r.reg.Qube(q.NetVM)
	if ok && upstream.NetVM == "" {
		return qube.ExposureDirect
	}
	return qube.ExposureViaProxy
}

// ParseBool reads a qubesd boolean property value.
func ParseBool(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		return true
	}
	return false
}

func maxRevision(a, b uint64) uint64 {
	if a > b {
		return a
	}
	return b
}
