// Package ui renders the plain reports printed by the wcs command.
package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"
)

var (
	accentColor = lipgloss.AdaptiveColor{Light: "#1F6FEB", Dark: "#58A6FF"}
	passColor   = lipgloss.AdaptiveColor{Light: "#1A7F37", Dark: "#3FB950"}
	warnColor   = lipgloss.AdaptiveColor{Light: "#9A6700", Dark: "#D29922"}
	failColor   = lipgloss.AdaptiveColor{Light: "#CF222E", Dark: "#F85149"}
	mutedColor  = lipgloss.AdaptiveColor{Light: "#6E7781", Dark: "#8B949E"}

	accentStyle = lipgloss.NewStyle().Foreground(accentColor).Bold(true)
	passStyle   = lipgloss.NewStyle().Foreground(passColor)
	warnStyle   = lipgloss.NewStyle().Foreground(warnColor)
	failStyle   = lipgloss.NewStyle().Foreground(failColor).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(mutedColor)
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
)

func init() {
	if !IsTerminal() || os.Getenv("NO_COLOR") != "" {
		DisableColor()
	}
}

// IsTerminal reports whether stdout is a terminal
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// DisableColor renders every style as plain text
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}

// Width returns the terminal width, 80 when unknown
func Width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 80
	}
	return w
}

func RenderAccent(s string) string { return accentStyle.Render(s) }
func RenderPass(s string) string   { return passStyle.Render(s) }
func RenderWarn(s string) string   { return warnStyle.Render(s) }
func RenderFail(s string) string   { return failStyle.Render(s) }
func RenderMuted(s string) string  { return mutedStyle.Render(s) }

// RenderHeader renders a section title
func RenderHeader(s string) string {
	return headerStyle.Render(s)
}

// Rule returns a horizontal separator of the terminal width
func Rule() string {
	return mutedStyle.Render(strings.Repeat("─", min(Width(), 100)))
}
