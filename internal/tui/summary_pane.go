package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/aristath/subagents/internal/events"
)

// SummaryPaneModel shows how many tasks are in each status.
type SummaryPaneModel struct {
	progress events.ProgressEvent
	width    int
	height   int
	focused  bool
}

// NewSummaryPaneModel creates a new summary pane model.
func NewSummaryPaneModel() SummaryPaneModel {
	return SummaryPaneModel{}
}

// Update handles messages for the summary pane.
func (m SummaryPaneModel) Update(msg tea.Msg) (SummaryPaneModel, tea.Cmd) {
	if p, ok := msg.(events.ProgressEvent); ok {
		m.progress = p
	}
	return m, nil
}

// View renders the summary pane.
func (m SummaryPaneModel) View() string {
	if m.width == 0 || m.height == 0 {
		return ""
	}

	p := m.progress
	var b strings.Builder

	title := StyleTitle.Render("Background Tasks")
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", lipgloss.Width(title)))
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Total:     %d\n", p.Total)
	fmt.Fprintf(&b, "Running:   %s\n", StyleStatusRunning.Render(fmt.Sprint(p.Running)))
	fmt.Fprintf(&b, "Pending:   %s\n", StyleStatusPending.Render(fmt.Sprint(p.Pending)))
	fmt.Fprintf(&b, "Completed: %s\n", StyleStatusComplete.Render(fmt.Sprint(p.Completed)))
	fmt.Fprintf(&b, "Failed:    %s\n", StyleStatusFailed.Render(fmt.Sprint(p.Failed)))
	fmt.Fprintf(&b, "Cancelled: %s\n", StyleStatusCancelled.Render(fmt.Sprint(p.Cancelled)))
	fmt.Fprintf(&b, "Timed out: %s\n", StyleStatusFailed.Render(fmt.Sprint(p.TimedOut)))
	b.WriteString("\n")

	if p.Total > 0 {
		barWidth := min(m.width-4, 40)
		doneWidth := (p.Completed * barWidth) / p.Total
		badWidth := ((p.Failed + p.TimedOut) * barWidth) / p.Total
		cancelWidth := (p.Cancelled * barWidth) / p.Total
		runningWidth := (p.Running * barWidth) / p.Total
		pendingWidth := barWidth - doneWidth - badWidth - cancelWidth - runningWidth

		bar := StyleStatusComplete.Render(strings.Repeat("=", max(0, doneWidth)))
		bar += StyleStatusFailed.Render(strings.Repeat("!", max(0, badWidth)))
		bar += StyleStatusCancelled.Render(strings.Repeat("x", max(0, cancelWidth)))
		bar += StyleStatusRunning.Render(strings.Repeat("-", max(0, runningWidth)))
		bar += StyleStatusPending.Render(strings.Repeat(".", max(0, pendingWidth)))

		settled := p.Completed + p.Failed + p.Cancelled + p.TimedOut
		fmt.Fprintf(&b, "[%s]  %d/%d\n", bar, settled, p.Total)
	}

	style := StyleUnfocusedBorder
	if m.focused {
		style = StyleFocusedBorder
	}
	return style.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(b.String())
}

// Progress returns the latest status counts.
func (m SummaryPaneModel) Progress() events.ProgressEvent {
	return m.progress
}

// SetSize updates the pane dimensions.
func (m *SummaryPaneModel) SetSize(w, h int) {
	m.width = w
	m.height = h
}

// SetFocused updates the focus state.
func (m *SummaryPaneModel) SetFocused(focused bool) {
	m.focused = focused
}
