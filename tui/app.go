// ABOUTME: Top-level Bubble Tea ChatModel: transcript viewport, prompt input and status bar over one orchestrator.
// ABOUTME: Implements tea.Model (Init, Update, View) and maps key bindings to orchestrator commands.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/kiwi/exchange"
	"github.com/2389-research/kiwi/orchestrator"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Selection reports the application the chat is about.
type Selection interface {
	Selected() *exchange.Application
}

// ChatModel is the interactive chat view.
type ChatModel struct {
	ctx     context.Context
	ctrl    Controller
	apps    Selection
	updates <-chan orchestrator.State
	now     func() time.Time

	input     textinput.Model
	viewport  viewport.Model
	spinner   spinner.Model
	statusBar StatusBarModel

	state  orchestrator.State
	width  int
	height int
}

// NewChatModel builds the chat view. updates is a subscription obtained from
// the orchestrator; the caller releases it after the program exits.
func NewChatModel(ctx context.Context, ctrl Controller, apps Selection, updates <-chan orchestrator.State) ChatModel {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe what to build..."
	ti.CharLimit = 4000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = RunningStyle

	m := ChatModel{
		ctx:       ctx,
		ctrl:      ctrl,
		apps:      apps,
		updates:   updates,
		now:       time.Now,
		input:     ti,
		viewport:  viewport.New(80, 10),
		spinner:   sp,
		statusBar: NewStatusBarModel(""),
		state:     ctrl.State(),
	}
	m.refreshAppName()
	m.syncViewport()
	return m
}

// Init implements tea.Model.
func (m ChatModel) Init() tea.Cmd {
	return tea.Batch(
		textinput.Blink,
		WaitForStateCmd(m.updates),
		m.spinner.Tick,
		TickCmd(time.Second),
	)
}

// Update implements tea.Model.
func (m ChatModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.layout()
		return m, nil

	case StateMsg:
		m.state = msg.State
		m.statusBar.SetState(msg.State, m.now())
		m.refreshAppName()
		m.syncViewport()
		return m, WaitForStateCmd(m.updates)

	case StateClosedMsg:
		return m, nil

	case CommandResultMsg:
		if msg.Err != nil {
			m.statusBar.SetNotice(fmt.Sprintf("%s failed: %v", msg.Action, msg.Err))
		} else {
			m.statusBar.SetNotice("")
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		if m.state.ActiveExchange != nil {
			m.syncViewport()
		}
		return m, cmd

	case TickMsg:
		return m, TickCmd(time.Second)

	case tea.KeyMsg:
		return m.handleKeyMsg(msg)
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m ChatModel) handleKeyMsg(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return m, tea.Quit

	case "enter":
		prompt := strings.TrimSpace(m.input.Value())
		if prompt == "" {
			return m, nil
		}
		m.ctrl.SendMessage(prompt)
		m.input.Reset()
		m.statusBar.SetNotice("")
		return m, nil

	case "ctrl+x":
		if m.state.ActiveExchange == nil {
			return m, nil
		}
		return m, CancelCmd(m.ctx, m.ctrl, m.state.ActiveExchange.ID)

	case "ctrl+r":
		if id := latestFailed(m.state.History); id != "" {
			m.ctrl.RetryGeneration(id)
		}
		return m, nil

	case "ctrl+z":
		if n := len(m.state.History); n > 0 {
			id := m.state.History[n-1].ID
			if m.ctrl.CanRevert(id) {
				return m, RevertCmd(m.ctx, m.ctrl, id)
			}
		}
		m.statusBar.SetNotice("nothing to revert")
		return m, nil

	case "ctrl+p":
		m.ctrl.TogglePreviewEnabled()
		return m, nil

	case "pgup", "pgdown", "up", "down":
		var cmd tea.Cmd
		m.viewport, cmd = m.viewport.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// View implements tea.Model.
func (m ChatModel) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 10 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x10.", m.width, m.height)
	}

	m.statusBar.SetWidth(m.width)
	title := TitleStyle.Render("kiwi") + HintStyle.Render("  enter send · ctrl+x cancel · ctrl+r retry · ctrl+z revert · ctrl+p preview")
	transcript := BorderStyle.Width(m.width - 2).Render(m.viewport.View())
	input := InputStyle.Width(m.width).Render(m.input.View())

	return lipgloss.JoinVertical(lipgloss.Left, title, transcript, input, m.statusBar.View(m.now()))
}

// layout sizes the viewport: title, borders, input and status bar take 6 lines.
func (m *ChatModel) layout() {
	m.viewport.Width = max(m.width-4, 1)
	m.viewport.Height = max(m.height-6, 1)
	m.input.Width = max(m.width-4, 1)
	m.syncViewport()
}

func (m *ChatModel) syncViewport() {
	m.viewport.SetContent(renderTranscript(m.state, m.viewport.Width, m.spinner.View()))
	m.viewport.GotoBottom()
}

func (m *ChatModel) refreshAppName() {
	if m.apps == nil {
		return
	}
	if sel := m.apps.Selected(); sel != nil {
		m.statusBar.SetAppName(sel.Name)
		return
	}
	m.statusBar.SetAppName("")
}

// latestFailed returns the newest FAILED history entry's id.
func latestFailed(history []exchange.Exchange) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Status == exchange.StatusFailed {
			return history[i].ID
		}
	}
	return ""
}
