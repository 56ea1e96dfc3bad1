// ABOUTME: Implements a single-line status bar for the bottom of the chat view.
// ABOUTME: Displays the selected application, generation state, elapsed time and the preview link.
package tui

import (
	"fmt"
	"time"

	"github.com/2389-research/kiwi/orchestrator"
	"github.com/charmbracelet/lipgloss"
)

// StatusBarModel displays session status in a single line.
type StatusBarModel struct {
	appName   string
	state     orchestrator.State
	startTime time.Time
	notice    string
	width     int
}

// NewStatusBarModel creates a StatusBarModel for the given application name.
func NewStatusBarModel(appName string) StatusBarModel {
	return StatusBarModel{appName: appName}
}

// SetAppName updates the application label.
func (m *StatusBarModel) SetAppName(name string) {
	m.appName = name
}

// SetState records s, starting the timer when a generation begins.
func (m *StatusBarModel) SetState(s orchestrator.State, now time.Time) {
	if s.Generating && !m.state.Generating {
		m.startTime = now
	}
	if !s.Generating {
		m.startTime = time.Time{}
	}
	m.state = s
}

// SetNotice shows a transient message such as a failed command.
func (m *StatusBarModel) SetNotice(notice string) {
	m.notice = notice
}

// SetWidth sets the bar width for rendering.
func (m *StatusBarModel) SetWidth(w int) {
	m.width = w
}

// Elapsed returns the time since the current generation started, or zero.
func (m StatusBarModel) Elapsed(now time.Time) time.Duration {
	if m.startTime.IsZero() {
		return 0
	}
	return now.Sub(m.startTime)
}

// formatElapsed formats a duration as a human-readable string.
// Durations under a minute show as seconds (e.g. "12s").
// Durations of a minute or more show as minutes and seconds (e.g. "2m30s").
func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	minutes := int(d.Minutes())
	seconds := int(d.Seconds()) - minutes*60
	return fmt.Sprintf("%dm%ds", minutes, seconds)
}

// View renders the status bar as a single styled line.
func (m StatusBarModel) View(now time.Time) string {
	app := m.appName
	if app == "" {
		app = "new application"
	}

	activity := "idle"
	switch {
	case m.state.Reverting:
		activity = "reverting"
	case m.state.Generating:
		activity = "generating " + formatElapsed(m.Elapsed(now))
	}

	content := fmt.Sprintf("App: %s | %s", app, activity)
	if m.state.PreviewEnabled && m.state.ProductURL != "" {
		content += " | Preview: " + m.state.ProductURL
	} else if !m.state.PreviewEnabled {
		content += " | Preview: off"
	}
	if m.notice != "" {
		content += " | " + m.notice
	} else if m.state.Err != "" {
		content += " | " + m.state.Err
	}

	style := StatusBarStyle.Width(m.width)
	return lipgloss.PlaceHorizontal(m.width, lipgloss.Left, style.Render(content))
}
