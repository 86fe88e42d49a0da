package bridge

import (
	"encoding/json"
	"fmt"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/menu"
)

// Message types sent to renderers.
const (
	typeModel        = "model"
	typeDiff         = "diff"
	typeSearch       = "search"
	typeNotification = "notification"
	typeLaunchStatus = "launch-status"
	typeError        = "error"
)

type message struct {
	Type         string                 `json:"type"`
	Model        *display.Model         `json:"model,omitempty"`
	Diff         *display.ModelDiff     `json:"diff,omitempty"`
	Query        string                 `json:"query,omitempty"`
	Results      []display.SearchResult `json:"results,omitempty"`
	Notification *menu.Notification     `json:"notification,omitempty"`
	Launch       *menu.LaunchStatus     `json:"launch,omitempty"`
	Error        string                 `json:"error,omitempty"`
}

// request is a renderer message. Which fields matter depends on Type.
type request struct {
	Type   string `json:"type"`
	Qube   string `json:"qube,omitempty"`
	App    string `json:"app,omitempty"`
	Ticket string `json:"ticket,omitempty"`
	Text   string `json:"text,omitempty"`
}

func encode(m message) []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Only plain data types reach here.
		panic(fmt.Sprintf("encoding %s message: %v", m.Type, err))
	}
	return data
}

func decodeRequest(data []byte) (menu.Intent, error) {
	var req request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("invalid message: %w", err)
	}
	switch req.Type {
	case "launch":
		if req.Qube == "" || req.App == "" {
			return nil, fmt.Errorf("launch needs qube and app")
		}
		return menu.LaunchIntent{Qube: req.Qube, App: req.App}, nil
	case "cancel-launch":
		if req.Ticket == "" {
			return nil, fmt.Errorf("cancel-launch needs ticket")
		}
		return menu.CancelLaunchIntent{Ticket: req.Ticket}, nil
	case "toggle-favorite":
		if req.Qube == "" || req.App == "" {
			return nil, fmt.Errorf("toggle-favorite needs qube and app")
		}
		return menu.ToggleFavoriteIntent{Qube: req.Qube, App: req.App}, nil
	case "search":
		return menu.SearchIntent{Text: req.Text}, nil
	case "resync":
		return menu.ResyncIntent{}, nil
	default:
		return nil, fmt.Errorf("unknown message type %q", req.Type)
	}
}
