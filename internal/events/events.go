// Package events translates raw qubesd event records into the menu's
// closed event vocabulary.
package events

import "github.com/qubesos/qubes-appmenu/internal/qube"

// Raw is a record as delivered by the subscription channel. Records
// synthesized inside the menu (descriptor fetches, desktop-file rescans)
// carry their typed data in Payload.
type Raw struct {
	Subject string
	Name    string
	Args    map[string]string
	Payload any
	Seq     uint64
}

// Synthesized raw event names.
const (
	NameDescriptor = "qube-descriptor"
	NameAppList    = "appmenus-changed"
)

// NameConnected opens every event stream. The menu resyncs on it.
const NameConnected = "connection-established"

// Event is one of QubeAdded, QubeRemoved, QubeStateChanged, PropertyChanged
// or AppListChanged.
type Event interface {
	Qube() string
	Sequence() uint64
	event()
}

// QubeAdded upserts a qube. A Partial add only knows the name; the menu
// fetches the full descriptor afterwards.
type QubeAdded struct {
	Seq        uint64
	Descriptor qube.Descriptor
	Partial    bool
}

// QubeRemoved deletes a qube and its applications.
type QubeRemoved struct {
	Seq  uint64
	Name string
}

// QubeStateChanged moves a qube between power states, or marks it as
// pending removal.
type QubeStateChanged struct {
	Seq      uint64
	Name     string
	State    qube.RunState
	Removing bool
}

// PropertyChanged carries a new property value. Feature properties of the
// local domain are named "feature:<name>".
type PropertyChanged struct {
	Seq      uint64
	Name     string
	Property string
	Value    string
	Deleted  bool
}

// AppListChanged is a full replacement of a qube's applications.
type AppListChanged struct {
	Seq  uint64
	Name string
	Apps []qube.AppDescriptor
}

func (e QubeAdded) Qube() string        { return e.Descriptor.Name }
func (e QubeRemoved) Qube() string      { return e.Name }
func (e QubeStateChanged) Qube() string { return e.Name }
func (e PropertyChanged) Qube() string  { return e.Name }
func (e AppListChanged) Qube() string   { return e.Name }

func (e QubeAdded) Sequence() uint64        { return e.Seq }
func (e QubeRemoved) Sequence() uint64      { return e.Seq }
func (e QubeStateChanged) Sequence() uint64 { return e.Seq }
func (e PropertyChanged) Sequence() uint64  { return e.Seq }
func (e AppListChanged) Sequence() uint64   { return e.Seq }

func (QubeAdded) event()        {}
func (QubeRemoved) event()      {}
func (QubeStateChanged) event() {}
func (PropertyChanged) event()  {}
func (AppListChanged) event()   {}

// Tracked properties. Anything else is dropped by the normalizer.
const (
	PropLabel           = "label"
	PropNetVM           = "netvm"
	PropTemplate        = "template"
	PropProvidesNetwork = "provides_network"
)

// Menu settings stored as features on the local domain.
const (
	FeatureInitialPage = "menu-initial-page"
	FeatureSortRunning = "menu-sort-running"
)

// FeatureProperty is the PropertyChanged.Property name of a feature.
func FeatureProperty(feature string) string {
	return "feature:" + feature
}
