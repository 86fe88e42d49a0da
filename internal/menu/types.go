package menu

import (
	"context"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/events"
	"github.com/qubesos/qubes-appmenu/internal/qube"
	"github.com/qubesos/qubes-appmenu/internal/registry"
)

// Manager is the qube management API the menu drives.
type Manager interface {
	ListQubes(ctx context.Context) ([]qube.Descriptor, error)
	GetQube(ctx context.Context, name string) (qube.Descriptor, error)
	QubeState(ctx context.Context, name string) (qube.RunState, error)
	ListApplications(ctx context.Context, name string) ([]qube.AppDescriptor, error)
	StartQube(ctx context.Context, name string) error
	RunApplication(ctx context.Context, id qube.AppID) error
	// Settings reads the menu-wide settings kept by the admin domain.
	Settings(ctx context.Context) (registry.Settings, error)
	// Subscribe delivers raw events to fn until the stream ends. fn may be
	// called from several goroutines.
	Subscribe(ctx context.Context, fn func(events.Raw)) error
}

// Sink receives everything the menu renders. Calls come from the menu's
// event loop and must not block.
type Sink interface {
	PublishModel(display.Model)
	PublishDiff(display.ModelDiff)
	PublishSearch(query string, results []display.SearchResult)
	Notify(Notification)
	LaunchStatus(LaunchStatus)
}

// Severity of a notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a user-visible message. Persistent notifications stay
// until the user dismisses them.
type Notification struct {
	Severity   Severity `json:"severity"`
	Message    string   `json:"message"`
	Persistent bool     `json:"persistent,omitempty"`
}

// LaunchStatus reports progress of a launch request. Status is either the
// immediate answer (accepted, in-flight, rejected) or a terminal outcome.
type LaunchStatus struct {
	Ticket string `json:"ticket,omitempty"`
	Qube   string `json:"qube"`
	App    string `json:"app"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Intent is a user request from a renderer.
type Intent interface {
	intent()
}

// LaunchIntent asks to run App in Qube.
type LaunchIntent struct {
	Qube string
	App  string
}

// CancelLaunchIntent revokes a launch that was not acknowledged yet.
type CancelLaunchIntent struct {
	Ticket string
}

// ToggleFavoriteIntent flips the favorite flag of one application.
type ToggleFavoriteIntent struct {
	Qube string
	App  string
}

// SearchIntent asks for ranked search results.
type SearchIntent struct {
	Text string
}

// ResyncIntent forces a full reload from the management API.
type ResyncIntent struct{}

func (LaunchIntent) intent()         {}
func (CancelLaunchIntent) intent()   {}
func (ToggleFavoriteIntent) intent() {}
func (SearchIntent) intent()         {}
func (ResyncIntent) intent()         {}

// Fanout is a Sink that forwards to several sinks in order.
type Fanout []Sink

func (f Fanout) PublishModel(m display.Model) {
	for _, s := range f {
		s.PublishModel(m)
	}
}

func (f Fanout) PublishDiff(d display.ModelDiff) {
	for _, s := range f {
		s.PublishDiff(d)
	}
}

func (f Fanout) PublishSearch(query string, results []display.SearchResult) {
	for _, s := range f {
		s.PublishSearch(query, results)
	}
}

func (f Fanout) Notify(n Notification) {
	for _, s := range f {
		s.Notify(n)
	}
}

func (f Fanout) LaunchStatus(st LaunchStatus) {
	for _, s := range f {
		s.LaunchStatus(st)
	}
}
