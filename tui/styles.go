// ABOUTME: Defines lipgloss styles for the chat transcript, stage progress, input box and status bar.
// ABOUTME: Provides StyleForStatus and StyleForStage to map exchange and stage states to display styles.
package tui

import (
	"github.com/2389-research/kiwi/exchange"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Panel borders
	BorderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62"))

	// Title styling
	TitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("170"))

	// Status colors
	PendingStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	RunningStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	CompletedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	FailedStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	RevertedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Strikethrough(true)

	// Transcript
	PromptStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("75")).Bold(true)
	StageStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("252")).PaddingLeft(2)
	URLStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Underline(true)
	HintStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)

	// Status bar
	StatusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("236")).
			Foreground(lipgloss.Color("252")).
			Padding(0, 1)

	// Input box
	InputStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder(), true, false, false, false).
			BorderForeground(lipgloss.Color("238"))
)

// StyleForStatus returns the style for an exchange status.
func StyleForStatus(status exchange.Status) lipgloss.Style {
	switch status {
	case exchange.StatusPlanning:
		return PendingStyle
	case exchange.StatusGenerating:
		return RunningStyle
	case exchange.StatusSuccessful:
		return CompletedStyle
	case exchange.StatusFailed, exchange.StatusCancelled:
		return FailedStyle
	case exchange.StatusReverted:
		return RevertedStyle
	default:
		return PendingStyle
	}
}

// StyleForStage returns the style for a stage status.
func StyleForStage(status exchange.StageStatus) lipgloss.Style {
	switch status {
	case exchange.StageGenerating, exchange.StageCommitting:
		return RunningStyle
	case exchange.StageSuccessful:
		return CompletedStyle
	case exchange.StageFailed:
		return FailedStyle
	default:
		return PendingStyle
	}
}
