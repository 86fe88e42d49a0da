package ui

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/muesli/termenv"

	"github.com/qubesos/qubes-appmenu/internal/display"
	"github.com/qubesos/qubes-appmenu/internal/menu"
)

func newTestTerminal() (*Terminal, *bytes.Buffer) {
	var buf bytes.Buffer
	term := NewTerminal(&buf, termenv.Ascii)
	term.now = func() time.Time { return time.Date(2024, 1, 2, 15, 4, 5, 0, time.UTC) }
	return term, &buf
}

func TestTerminalNotify(t *testing.T) {
	term, buf := newTestTerminal()
	term.Notify(menu.Notification{Severity: menu.SeverityWarning, Message: "Lost connection to qubesd"})
	term.Notify(menu.Notification{Severity: menu.SeverityError, Message: "boom"})

	want := "15:04:05 warning Lost connection to qubesd\n15:04:05 error boom\n"
	if got := buf.String(); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}
}

func TestTerminalLaunchStatus(t *testing.T) {
	tests := []struct {
		status menu.LaunchStatus
		want   string
	}{
		{menu.LaunchStatus{Qube: "work", App: "firefox", Status: "launched"}, "launched work:firefox"},
		{menu.LaunchStatus{Qube: "work", App: "firefox", Status: "failed", Error: "no such app"}, "failed work:firefox: no such app"},
		{menu.LaunchStatus{Qube: "work", App: "firefox", Status: "timed-out", Error: "deadline"}, "timed-out work:firefox: deadline"},
		{menu.LaunchStatus{Qube: "work", App: "firefox", Status: "cancelled"}, "cancelled work:firefox"},
		{menu.LaunchStatus{Qube: "work", App: "x", Status: "rejected", Error: "unknown"}, "rejected work:x: unknown"},
		{menu.LaunchStatus{Qube: "work", App: "firefox", Status: "accepted"}, ""},
	}
	for _, tt := range tests {
		term, buf := newTestTerminal()
		term.LaunchStatus(tt.status)
		got := strings.TrimPrefix(strings.TrimSuffix(buf.String(), "\n"), "15:04:05 ")
		if got != tt.want {
			t.Errorf("%s: output = %q, want %q", tt.status.Status, got, tt.want)
		}
	}
}

func TestTerminalModelSummary(t *testing.T) {
	term, buf := newTestTerminal()
	term.PublishModel(display.Model{Groups: []display.Group{
		{ID: display.FavoritesGroup, Entries: make([]display.Entry, 1)},
		{ID: "work", Entries: make([]display.Entry, 2)},
		{ID: "personal", Entries: make([]display.Entry, 1)},
	}})
	if got := buf.String(); !strings.Contains(got, "3 groups, 3 applications") {
		t.Errorf("output = %q", got)
	}
}
