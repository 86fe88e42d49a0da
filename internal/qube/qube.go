// Package qube defines the menu's domain model: qubes, their applications,
// and the identifiers that tie applications to favorites.
package qube

import (
	"fmt"
	"strings"
)

// Kind classifies a qube for icon selection and grouping.
type Kind string

const (
	KindStandalone       Kind = "standalone"
	KindTemplateBased    Kind = "template-based"
	KindDisposable       Kind = "disposable-template-child"
	KindNetworkProviding Kind = "network-providing"
	KindNetworkConsuming Kind = "network-consuming"
)

// RunState is the coarse power state shown in the menu.
type RunState string

const (
	StateHalted    RunState = "halted"
	StateTransient RunState = "transient"
	StateRunning   RunState = "running"
)

// Exposure describes how a qube reaches the network.
type Exposure string

const (
	ExposureNone     Exposure = "none"
	ExposureDirect   Exposure = "direct"
	ExposureViaProxy Exposure = "via-proxy"
)

// Qube is one isolated execution environment known to the menu.
// Template and NetVM are weak references by name; the referenced qube may
// be missing from the registry at any time.
type Qube struct {
	Name            string   `json:"name"`
	Class           string   `json:"class,omitempty"`
	Kind            Kind     `json:"kind"`
	State           RunState `json:"state"`
	Exposure        Exposure `json:"exposure"`
	Template        string   `json:"template,omitempty"`
	NetVM           string   `json:"netvm,omitempty"`
	Label           string   `json:"label,omitempty"`
	ProvidesNetwork bool     `json:"provides_network,omitempty"`
	Removing        bool     `json:"removing,omitempty"`
	Revision        uint64   `json:"-"`
}

// Equal reports structural equality, ignoring Revision.
func (q Qube) Equal(o Qube) bool {
	return q.Name == o.Name &&
		q.Class == o.Class &&
		q.Kind == o.Kind &&
		q.State == o.State &&
		q.Exposure == o.Exposure &&
		q.Template == o.Template &&
		q.NetVM == o.NetVM &&
		q.Label == o.Label &&
		q.ProvidesNetwork == o.ProvidesNetwork &&
		q.Removing == o.Removing
}

// AppID is the composite key of an application: the qube it lives in plus
// its desktop id inside that qube.
type AppID struct {
	Qube string `json:"qube"`
	App  string `json:"app"`
}

// String returns the favorites key, "<qube>:<app>".
func (id AppID) String() string {
	return id.Qube + ":" + id.App
}

// ParseAppID is the inverse of AppID.String. Qube names never contain a
// colon, so the first colon separates the two parts.
func ParseAppID(s string) (AppID, error) {
	qubeName, app, ok := strings.Cut(s, ":")
	if !ok || qubeName == "" || app == "" {
		return AppID{}, fmt.Errorf("invalid application id %q", s)
	}
	return AppID{Qube: qubeName, App: app}, nil
}

// Application is a launchable menu entry inside a qube.
type Application struct {
	ID          AppID  `json:"id"`
	DisplayName string `json:"display_name"`
	Icon        string `json:"icon,omitempty"`
	Favorite    bool   `json:"favorite"`
}

// Equal reports structural equality.
func (a Application) Equal(o Application) bool {
	return a == o
}

// Descriptor is what the management API reports about a qube before the
// menu derives exposure from the netvm chain.
type Descriptor struct {
	Name            string
	Class           string
	State           RunState
	Template        string
	NetVM           string
	Label           string
	ProvidesNetwork bool
}

// Classify maps a management-API class and properties onto a menu Kind.
// Unknown classes fall back to standalone, or network-consuming when the
// qube has a netvm.
func Classify(class string, providesNetwork bool, netvm string) Kind {
	if providesNetwork {
		return KindNetworkProviding
	}
	switch class {
	case "DispVM":
		return KindDisposable
	case "AppVM":
		return KindTemplateBased
	case "StandaloneVM", "TemplateVM":
		return KindStandalone
	}
	if netvm != "" {
		return KindNetworkConsuming
	}
	return KindStandalone
}

// ParseRunState maps a qubesd power state onto the menu's three states.
func ParseRunState(s string) RunState {
	switch strings.ToLower(s) {
	case "running":
		return StateRunning
	case "transient", "paused", "suspended", "halting", "dying":
		return StateTransient
	default:
		return StateHalted
	}
}

// AppDescriptor is what the management API reports about one application.
type AppDescriptor struct {
	App         string
	DisplayName string
	Icon        string
}
