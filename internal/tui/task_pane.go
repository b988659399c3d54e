package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/task"
)

const listWidth = 28

// TaskState is what the monitor knows about one background task.
type TaskState struct {
	TaskID      string
	Description string
	Agent       string
	Status      task.Status
	Output      []string
	Duration    time.Duration
}

// TaskPaneModel is the task list with the output viewport of the selected
// task.
type TaskPaneModel struct {
	tasks       map[string]*TaskState // taskID -> state
	taskOrder   []string              // launch order for display
	selectedIdx int
	viewport    viewport.Model
	width       int
	height      int
	focused     bool
	updateTag   int // for debouncing
}

// NewTaskPaneModel creates a new task pane model.
func NewTaskPaneModel() TaskPaneModel {
	return TaskPaneModel{
		tasks:    make(map[string]*TaskState),
		viewport: viewport.New(0, 0),
	}
}

// tickMsg is used for debouncing viewport updates.
type tickMsg struct {
	tag int
}

// Update handles messages for the task pane.
func (m TaskPaneModel) Update(msg tea.Msg) (TaskPaneModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		if !m.focused {
			break
		}
		switch msg.String() {
		case KeyJ, KeyDown:
			if m.selectedIdx < len(m.taskOrder)-1 {
				m.selectedIdx++
				m.updateViewportContent()
			}
		case KeyK, KeyUp:
			if m.selectedIdx > 0 {
				m.selectedIdx--
				m.updateViewportContent()
			}
		default:
			m.viewport, cmd = m.viewport.Update(msg)
		}

	case events.TaskOutputEvent:
		if state, ok := m.tasks[msg.ID]; ok {
			state.Output = append(state.Output, msg.Chunk)
			if m.SelectedTaskID() == msg.ID {
				m.updateTag++
				tag := m.updateTag
				return m, tea.Tick(50*time.Millisecond, func(time.Time) tea.Msg {
					return tickMsg{tag: tag}
				})
			}
		}

	case events.StateEvent:
		m.applyTransition(msg)

	case tickMsg:
		if msg.tag == m.updateTag {
			m.updateViewportContent()
		}
	}

	return m, cmd
}

// applyTransition records the snapshot carried by a lifecycle event.
func (m *TaskPaneModel) applyTransition(ev events.StateEvent) {
	snap := ev.Snapshot()
	state, ok := m.tasks[snap.ID]
	if !ok {
		state = &TaskState{TaskID: snap.ID}
		m.tasks[snap.ID] = state
		m.taskOrder = append(m.taskOrder, snap.ID)
	}
	state.Description = snap.Description
	state.Agent = snap.Agent
	state.Status = snap.Status

	switch ev := ev.(type) {
	case events.TaskCompletedEvent:
		state.Duration = ev.Duration
		state.Output = append(state.Output, fmt.Sprintf("[Completed in %v]", ev.Duration.Round(time.Millisecond)))
	case events.TaskFailedEvent:
		state.Duration = ev.Duration
		state.Output = append(state.Output, fmt.Sprintf("[Failed: %v]", ev.Err))
	case events.TaskCancelledEvent:
		state.Output = append(state.Output, "[Cancelled]")
	case events.TaskTimedOutEvent:
		state.Output = append(state.Output, fmt.Sprintf("[Timed out after %d polls]", ev.Polls))
	case events.TaskResumedEvent:
		state.Output = append(state.Output, "[Resumed: "+snap.Prompt+"]")
	}

	if m.SelectedTaskID() == snap.ID {
		m.updateViewportContent()
	}
}

// View renders the task pane.
func (m TaskPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	viewportWidth := m.width - listWidth - 4
	content := lipgloss.JoinHorizontal(
		lipgloss.Top,
		m.renderTaskList(listWidth),
		lipgloss.NewStyle().
			Width(viewportWidth).
			Height(m.height-2).
			Render(m.viewport.View()),
	)

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m TaskPaneModel) renderTaskList(width int) string {
	var b strings.Builder

	title := StyleTitle.Render("Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", min(width, lipgloss.Width(title))))
	b.WriteString("\n\n")

	if len(m.taskOrder) == 0 {
		b.WriteString(StyleStatusPending.Render("Waiting..."))
	}
	for i, id := range m.taskOrder {
		state := m.tasks[id]
		name := state.Description
		if name == "" {
			name = id
		}
		name = truncateName(name, width-6)

		line := fmt.Sprintf("%s %s", StatusIcon(state.Status), name)
		if i == m.selectedIdx {
			line = StyleSelected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}

	return lipgloss.NewStyle().
		Width(width).
		Height(m.height - 2).
		Render(b.String())
}

// truncateName shortens name to at most width terminal cells, marking the
// cut with an ellipsis.
func truncateName(name string, width int) string {
	return runewidth.Truncate(name, width, "...")
}

// StatusIcon returns a styled status indicator.
func StatusIcon(status task.Status) string {
	switch status {
	case task.StatusRunning:
		return StyleStatusRunning.Render("●")
	case task.StatusCompleted:
		return StyleStatusComplete.Render("✓")
	case task.StatusFailed:
		return StyleStatusFailed.Render("✗")
	case task.StatusCancelled:
		return StyleStatusCancelled.Render("⊘")
	case task.StatusTimedOut:
		return StyleStatusFailed.Render("⧗")
	default:
		return StyleStatusPending.Render("○")
	}
}

// SelectedTaskID returns the ID of the selected task, or "".
func (m TaskPaneModel) SelectedTaskID() string {
	if m.selectedIdx >= 0 && m.selectedIdx < len(m.taskOrder) {
		return m.taskOrder[m.selectedIdx]
	}
	return ""
}

// Task returns the monitor state of a task.
func (m TaskPaneModel) Task(id string) (TaskState, bool) {
	state, ok := m.tasks[id]
	if !ok {
		return TaskState{}, false
	}
	return *state, true
}

func (m *TaskPaneModel) updateViewportContent() {
	state, ok := m.tasks[m.SelectedTaskID()]
	if !ok {
		m.viewport.SetContent("Waiting for tasks...")
		return
	}
	m.viewport.SetContent(strings.Join(state.Output, "\n\n"))
	m.viewport.GotoBottom()
}

func (m *TaskPaneModel) resizeViewport() {
	m.viewport.Width = max(m.width-listWidth-4, 10)
	m.viewport.Height = max(m.height-4, 5)
}

// SetSize updates the pane dimensions.
func (m *TaskPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
	m.resizeViewport()
}

// SetFocused updates the focus state.
func (m *TaskPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
