package display

import "github.com/qubesos/qubes-appmenu/internal/qube"

// DefaultAppIcon is used for entries whose desktop file names no icon.
const DefaultAppIcon = "application-x-executable"

// FavoritesIcon is the icon key of the favorites group.
const FavoritesIcon = "qubes-favorites"

// QubeIcon returns the icon key for a qube status. It depends on nothing
// but its arguments.
func QubeIcon(kind qube.Kind, exposure qube.Exposure, state qube.RunState) string {
	return "qubes-" + kindIcon(kind) + "-" + exposureIcon(exposure) + "-" + stateIcon(state)
}

func kindIcon(k qube.Kind) string {
	switch k {
	case qube.KindTemplateBased:
		return "appvm"
	case qube.KindDisposable:
		return "dispvm"
	case qube.KindNetworkProviding:
		return "netvm"
	case qube.KindNetworkConsuming:
		return "netclient"
	default:
		return "standalone"
	}
}

func exposureIcon(e qube.Exposure) string {
	switch e {
	case qube.ExposureDirect:
		return "direct"
	case qube.ExposureViaProxy:
		return "proxied"
	default:
		return "offline"
	}
}

func stateIcon(s qube.RunState) string {
	switch s {
	case qube.StateRunning:
		return "running"
	case qube.StateTransient:
		return "transient"
	default:
		return "halted"
	}
}
