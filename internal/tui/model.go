package tui

import (
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/subagents/internal/events"
)

// PaneID identifies which pane is focused.
type PaneID int

const (
	PaneTasks PaneID = iota
	PaneSummary
	paneCount
)

// CancelFunc cancels a background task by ID.
type CancelFunc func(id string) error

// cancelResultMsg reports the outcome of a cancel key press.
type cancelResultMsg struct {
	id  string
	err error
}

// Model is the root Bubble Tea model of the task monitor.
type Model struct {
	taskPane    TaskPaneModel
	summaryPane SummaryPaneModel
	focusedPane PaneID
	eventSub    <-chan events.Event
	cancel      CancelFunc
	notice      string
	width       int
	height      int
	quitting    bool
}

// New creates a new TUI model subscribed to every topic of eventBus.
// cancel may be nil, which disables the cancel key.
func New(eventBus *events.EventBus, cancel CancelFunc) Model {
	return Model{
		taskPane:    NewTaskPaneModel(),
		summaryPane: NewSummaryPaneModel(),
		focusedPane: PaneTasks,
		eventSub:    eventBus.SubscribeAll(256),
		cancel:      cancel,
	}
}

// Init initializes the model and returns the initial command.
func (m Model) Init() tea.Cmd {
	return waitForEvent(m.eventSub)
}

// waitForEvent returns a command that waits for the next event from the event bus.
func waitForEvent(sub <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		event, ok := <-sub
		if !ok {
			return nil // bus closed
		}
		return event
	}
}

// Update handles messages and updates the model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case KeyQuit, KeyCtrlC:
			m.quitting = true
			return m, tea.Quit

		case KeyTab, KeyShiftTab:
			m.focusedPane = (m.focusedPane + 1) % paneCount
			m.updateFocusStates()

		case KeyPane1:
			m.focusedPane = PaneTasks
			m.updateFocusStates()

		case KeyPane2:
			m.focusedPane = PaneSummary
			m.updateFocusStates()

		case KeyCancel:
			if cmd := m.cancelSelected(); cmd != nil {
				cmds = append(cmds, cmd)
			}

		default:
			if m.focusedPane == PaneTasks {
				var cmd tea.Cmd
				m.taskPane, cmd = m.taskPane.Update(msg)
				cmds = append(cmds, cmd)
			}
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.computeLayout()

	case cancelResultMsg:
		if msg.err != nil {
			m.notice = fmt.Sprintf("cancel %s: %v", msg.id, msg.err)
		} else {
			m.notice = "cancelled " + msg.id
		}

	case events.ProgressEvent:
		m.summaryPane, _ = m.summaryPane.Update(msg)
		cmds = append(cmds, waitForEvent(m.eventSub))

	case events.Event:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd, waitForEvent(m.eventSub))

	case tickMsg:
		var cmd tea.Cmd
		m.taskPane, cmd = m.taskPane.Update(msg)
		cmds = append(cmds, cmd)
	}

	return m, tea.Batch(cmds...)
}

// cancelSelected returns a command cancelling the selected task.
func (m Model) cancelSelected() tea.Cmd {
	id := m.taskPane.SelectedTaskID()
	if id == "" || m.cancel == nil {
		return nil
	}
	cancel := m.cancel
	return func() tea.Msg {
		return cancelResultMsg{id: id, err: cancel(id)}
	}
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return "Goodbye!\n"
	}
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}

	main := lipgloss.JoinHorizontal(lipgloss.Top, m.taskPane.View(), m.summaryPane.View())

	help := HelpView()
	if m.notice != "" {
		help += StyleHelp.Render("  ·  " + m.notice)
	}
	return lipgloss.JoinVertical(lipgloss.Left, main, help)
}

// computeLayout calculates pane dimensions and updates all child models.
func (m *Model) computeLayout() {
	summaryWidth := (m.width * 30) / 100
	taskWidth := m.width - summaryWidth
	availableHeight := m.height - 1 // help bar

	m.taskPane.SetSize(taskWidth, availableHeight)
	m.summaryPane.SetSize(summaryWidth, availableHeight)
	m.updateFocusStates()
}

func (m *Model) updateFocusStates() {
	m.taskPane.SetFocused(m.focusedPane == PaneTasks)
	m.summaryPane.SetFocused(m.focusedPane == PaneSummary)
}
