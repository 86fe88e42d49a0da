package events

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/qubesos/qubes-appmenu/internal/qube"
)

// ErrDropped marks a raw event the menu does not care about. It is never
// fatal.
var ErrDropped = errors.New("event dropped")

func dropped(name, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrDropped, name, reason)
}

// Normalizer maps raw records to events. It keeps no ordering state and
// forwards in arrival order.
type Normalizer struct {
	localDomain string
	dropped     atomic.Uint64
}

// NewNormalizer returns a normalizer that treats feature events on
// localDomain as menu settings.
func NewNormalizer(localDomain string) *Normalizer {
	if localDomain == "" {
		localDomain = "dom0"
	}
	return &Normalizer{localDomain: localDomain}
}

// Dropped returns the number of raw events dropped so far.
func (n *Normalizer) Dropped() uint64 {
	return n.dropped.Load()
}

// Normalize translates one raw record. The error wraps ErrDropped when the
// record maps to no event.
func (n *Normalizer) Normalize(raw Raw) (Event, error) {
	ev, err := n.normalize(raw)
	if err != nil {
		n.dropped.Add(1)
	}
	return ev, err
}

func (n *Normalizer) normalize(raw Raw) (Event, error) {
	name, arg, _ := strings.Cut(raw.Name, ":")
	target := raw.Subject
	if v := raw.Args["vm"]; v != "" {
		target = v
	}

	switch name {
	case NameDescriptor:
		d, ok := raw.Payload.(qube.Descriptor)
		if !ok || d.Name == "" {
			return nil, dropped(raw.Name, "missing descriptor payload")
		}
		return QubeAdded{Seq: raw.Seq, Descriptor: d}, nil

	case NameAppList:
		apps, ok := raw.Payload.([]qube.AppDescriptor)
		if !ok || target == "" {
			return nil, dropped(raw.Name, "missing application list payload")
		}
		return AppListChanged{Seq: raw.Seq, Name: target, Apps: apps}, nil
	}

	if target == "" {
		return nil, dropped(raw.Name, "no subject")
	}

	switch name {
	case "domain-add":
		return QubeAdded{Seq: raw.Seq, Descriptor: qube.Descriptor{Name: target}, Partial: true}, nil
	case "domain-delete":
		return QubeRemoved{Seq: raw.Seq, Name: target}, nil
	case "domain-pre-delete":
		return QubeStateChanged{Seq: raw.Seq, Name: target, Removing: true}, nil
	case "domain-pre-start", "domain-pre-shutdown", "domain-pre-paused", "domain-paused":
		return QubeStateChanged{Seq: raw.Seq, Name: target, State: qube.StateTransient}, nil
	case "domain-start", "domain-unpaused":
		return QubeStateChanged{Seq: raw.Seq, Name: target, State: qube.StateRunning}, nil
	case "domain-start-failed", "domain-shutdown":
		return QubeStateChanged{Seq: raw.Seq, Name: target, State: qube.StateHalted}, nil

	case "property-set":
		if !tracked(arg) {
			return nil, dropped(raw.Name, "untracked property")
		}
		return PropertyChanged{Seq: raw.Seq, Name: target, Property: arg, Value: raw.Args["newvalue"]}, nil
	case "property-reset", "property-del":
		if !tracked(arg) {
			return nil, dropped(raw.Name, "untracked property")
		}
		// The default value is not part of the event; refetch the qube.
		return QubeAdded{Seq: raw.Seq, Descriptor: qube.Descriptor{Name: target}, Partial: true}, nil

	case "domain-feature-set", "domain-feature-delete":
		if target != n.localDomain || (arg != FeatureInitialPage && arg != FeatureSortRunning) {
			return nil, dropped(raw.Name, "not a menu setting")
		}
		return PropertyChanged{
			Seq:      raw.Seq,
			Name:     target,
			Property: FeatureProperty(arg),
			Value:    raw.Args["value"],
			Deleted:  name == "domain-feature-delete",
		}, nil
	}

	return nil, dropped(raw.Name, "unknown event")
}

func tracked(prop string) bool {
	switch prop {
	case PropLabel, PropNetVM, PropTemplate, PropProvidesNetwork:
		return true
	}
	return false
}
