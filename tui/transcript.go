// ABOUTME: Renders exchange history and the active exchange as a chat transcript.
// ABOUTME: Each exchange shows its prompt, per-stage progress and the outcome line.
package tui

import (
	"fmt"
	"strings"

	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/orchestrator"
	"github.com/charmbracelet/lipgloss"
)

// renderTranscript formats every exchange in s, oldest first. spinner is
// shown next to the active exchange.
func renderTranscript(s orchestrator.State, width int, spinner string) string {
	if len(s.History) == 0 && s.ActiveExchange == nil {
		return HintStyle.Render("Describe the application you want to build and press enter.")
	}

	wrap := lipgloss.NewStyle().Width(max(width, 10))
	var blocks []string
	for _, ex := range s.History {
		blocks = append(blocks, wrap.Render(renderExchange(ex, "")))
	}
	if s.ActiveExchange != nil {
		blocks = append(blocks, wrap.Render(renderExchange(*s.ActiveExchange, spinner)))
	}
	return strings.Join(blocks, "\n\n")
}

func renderExchange(ex exchange.Exchange, spinner string) string {
	var b strings.Builder
	b.WriteString(PromptStyle.Render("› " + flattenMarkdown(ex.Prompt)))

	for _, st := range ex.Stages {
		line := fmt.Sprintf("%-9s %s", strings.ToLower(st.Type), StyleForStage(st.Status).Render(string(st.Status)))
		if n := len(st.Attempts); n > 1 {
			line += PendingStyle.Render(fmt.Sprintf(" (attempt %d)", n))
		}
		b.WriteString("\n")
		b.WriteString(StageStyle.Render(line))
	}

	b.WriteString("\n")
	b.WriteString(outcomeLine(ex, spinner))
	return b.String()
}

func outcomeLine(ex exchange.Exchange, spinner string) string {
	style := StyleForStatus(ex.Status)
	switch ex.Status {
	case exchange.StatusPlanning, exchange.StatusGenerating:
		label := "planning"
		if ex.Status == exchange.StatusGenerating {
			label = "generating"
		}
		return style.Render(strings.TrimSpace(spinner + " " + label + "..."))
	case exchange.StatusSuccessful:
		line := style.Render("✓ done")
		if url := exchange.Deref(ex.ProductURL); url != "" {
			line += " " + URLStyle.Render(url)
		}
		return line
	case exchange.StatusFailed:
		line := style.Render("✗ failed")
		if msg := exchange.Deref(ex.ErrorMessage); msg != "" {
			line += ": " + flattenMarkdown(msg)
		}
		return line + HintStyle.Render("  (ctrl+r to retry)")
	case exchange.StatusCancelled:
		return style.Render("✗ cancelled")
	case exchange.StatusReverted:
		return style.Render("↺ reverted")
	default:
		return style.Render(string(ex.Status))
	}
}
