// Package ui holds the terminal styles of the menu daemon: the startup
// banner and the console echo of notifications.
package ui

import (
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

// Renderer is the lipgloss renderer bound to stdout.
// lipgloss v1.x auto-detects TrueColor but doesn't apply it without
// an explicit SetColorProfile call on some terminals.
var Renderer = NewRenderer(os.Stdout, termenv.TrueColor)

// NewRenderer binds a renderer to w with a fixed colour profile.
func NewRenderer(w io.Writer, profile termenv.Profile) *lipgloss.Renderer {
	r := lipgloss.NewRenderer(w)
	r.SetColorProfile(profile)
	return r
}

// Styles is the palette used for console output.
type Styles struct {
	Green  lipgloss.Style
	Cyan   lipgloss.Style
	Yellow lipgloss.Style
	Red    lipgloss.Style
	White  lipgloss.Style
	Dim    lipgloss.Style
}

// NewStyles builds the palette on r.
func NewStyles(r *lipgloss.Renderer) Styles {
	return Styles{
		Green:  r.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
		Cyan:   r.NewStyle().Foreground(lipgloss.Color("14")),
		Yellow: r.NewStyle().Foreground(lipgloss.Color("11")).Bold(true),
		Red:    r.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
		White:  r.NewStyle().Foreground(lipgloss.Color("15")),
		Dim:    r.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

// Predefined styles for consistent CLI output.
var (
	std   = NewStyles(Renderer)
	Green = std.Green
	Cyan  = std.Cyan
	Red   = std.Red
	White = std.White
	Dim   = std.Dim
)
