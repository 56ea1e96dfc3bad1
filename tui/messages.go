// ABOUTME: Bubble Tea message types used in the TUI message loop.
// ABOUTME: Each type wraps orchestrator output or command results for the tea.Msg interface.
package tui

import (
	"time"

	"github.com/2389-research/kiwi/orchestrator"
)

// StateMsg carries a new orchestrator state snapshot.
type StateMsg struct {
	State orchestrator.State
}

// StateClosedMsg signals that the state subscription ended.
type StateClosedMsg struct{}

// CommandResultMsg reports the outcome of a blocking command such as revert.
type CommandResultMsg struct {
	Action string
	Err    error
}

// TickMsg is sent periodically to update the elapsed timer.
type TickMsg struct {
	Time time.Time
}
