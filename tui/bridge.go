// ABOUTME: Bridge connecting the orchestrator to the Bubble Tea message loop.
// ABOUTME: Provides tea.Cmd factories for state subscription, blocking commands and ticks.
package tui

import (
	"context"
	"time"

	"github.com/2389-research/kiwi/orchestrator"
	tea "github.com/charmbracelet/bubbletea"
)

// Controller is the orchestrator surface the chat view drives.
type Controller interface {
	State() orchestrator.State
	SendMessage(prompt string, opts ...orchestrator.SendOption)
	RetryGeneration(exchangeID string)
	CancelGeneration(ctx context.Context, exchangeID string)
	RevertGeneration(ctx context.Context, exchangeID string) error
	CanRevert(exchangeID string) bool
	TogglePreviewEnabled() bool
}

// WaitForStateCmd blocks on the subscription channel and delivers the next
// snapshot. The model re-issues it after every StateMsg.
func WaitForStateCmd(ch <-chan orchestrator.State) tea.Cmd {
	return func() tea.Msg {
		s, ok := <-ch
		if !ok {
			return StateClosedMsg{}
		}
		return StateMsg{State: s}
	}
}

// CancelCmd cancels exchangeID off the UI goroutine.
func CancelCmd(ctx context.Context, c Controller, exchangeID string) tea.Cmd {
	return func() tea.Msg {
		c.CancelGeneration(ctx, exchangeID)
		return CommandResultMsg{Action: "cancel"}
	}
}

// RevertCmd reverts exchangeID off the UI goroutine.
func RevertCmd(ctx context.Context, c Controller, exchangeID string) tea.Cmd {
	return func() tea.Msg {
		return CommandResultMsg{Action: "revert", Err: c.RevertGeneration(ctx, exchangeID)}
	}
}

// TickCmd returns a tea.Cmd that sends a TickMsg after the given interval.
func TickCmd(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return TickMsg{Time: t}
	})
}
