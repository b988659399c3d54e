package tui

import (
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattn/go-runewidth"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/task"
)

func newTestModel(t *testing.T, cancel CancelFunc) Model {
	t.Helper()
	bus := events.NewEventBus()
	t.Cleanup(bus.Close)

	m := New(bus, cancel)
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	return updated.(Model)
}

func send(m Model, msgs ...tea.Msg) Model {
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		m = updated.(Model)
	}
	return m
}

func snapshot(id string, status task.Status) task.Task {
	return task.Task{ID: id, Description: "check build", Agent: "general", Status: status}
}

func TestTaskPaneTracksLifecycle(t *testing.T) {
	m := newTestModel(t, nil)
	now := time.Now()

	m = send(m,
		events.TaskLaunchedEvent{Task: snapshot("bg_1", task.StatusPending), Timestamp: now},
		events.TaskStartedEvent{Task: snapshot("bg_1", task.StatusRunning), Timestamp: now},
		events.TaskOutputEvent{ID: "bg_1", From: 0, To: 1, Chunk: "## assistant\n\nbuilding", Timestamp: now},
		events.TaskCompletedEvent{Task: snapshot("bg_1", task.StatusCompleted), Duration: 2 * time.Second, Timestamp: now},
	)

	state, ok := m.taskPane.Task("bg_1")
	if !ok {
		t.Fatal("task not tracked")
	}
	if state.Status != task.StatusCompleted {
		t.Errorf("Status = %q, want completed", state.Status)
	}
	if state.Duration != 2*time.Second {
		t.Errorf("Duration = %v", state.Duration)
	}
	if len(state.Output) != 2 || state.Output[0] != "## assistant\n\nbuilding" {
		t.Errorf("Output = %q", state.Output)
	}
	if m.taskPane.SelectedTaskID() != "bg_1" {
		t.Errorf("first task not selected: %q", m.taskPane.SelectedTaskID())
	}
}

func TestTaskPaneIgnoresOutputOfUnknownTask(t *testing.T) {
	m := newTestModel(t, nil)

	m = send(m, events.TaskOutputEvent{ID: "bg_unknown", Chunk: "x", Timestamp: time.Now()})

	if _, ok := m.taskPane.Task("bg_unknown"); ok {
		t.Error("output alone should not create a task entry")
	}
}

func TestSelectionMovesWithKeys(t *testing.T) {
	m := newTestModel(t, nil)
	now := time.Now()
	m = send(m,
		events.TaskLaunchedEvent{Task: snapshot("bg_1", task.StatusPending), Timestamp: now},
		events.TaskLaunchedEvent{Task: snapshot("bg_2", task.StatusPending), Timestamp: now},
	)

	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if got := m.taskPane.SelectedTaskID(); got != "bg_2" {
		t.Errorf("after j: selected %q, want bg_2", got)
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("j")})
	if got := m.taskPane.SelectedTaskID(); got != "bg_2" {
		t.Errorf("selection ran past the end: %q", got)
	}
	m = send(m, tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("k")})
	if got := m.taskPane.SelectedTaskID(); got != "bg_1" {
		t.Errorf("after k: selected %q, want bg_1", got)
	}
}

func TestCancelKeyCancelsSelectedTask(t *testing.T) {
	var cancelled []string
	m := newTestModel(t, func(id string) error {
		cancelled = append(cancelled, id)
		return nil
	})
	m = send(m, events.TaskStartedEvent{Task: snapshot("bg_1", task.StatusRunning), Timestamp: time.Now()})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyCancel)})
	if cmd == nil {
		t.Fatal("expected a cancel command")
	}
	msg := findCancelResult(t, cmd)
	if len(cancelled) != 1 || cancelled[0] != "bg_1" {
		t.Fatalf("cancelled = %v", cancelled)
	}

	m = send(m, msg)
	if !strings.Contains(m.notice, "cancelled bg_1") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestCancelKeyReportsError(t *testing.T) {
	m := newTestModel(t, func(string) error { return errors.New("abort failed") })
	m = send(m, events.TaskStartedEvent{Task: snapshot("bg_1", task.StatusRunning), Timestamp: time.Now()})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyCancel)})
	m = send(m, findCancelResult(t, cmd))

	if !strings.Contains(m.notice, "abort failed") {
		t.Errorf("notice = %q", m.notice)
	}
}

func TestCancelKeyWithoutTasks(t *testing.T) {
	m := newTestModel(t, func(string) error {
		t.Error("cancel called without a selected task")
		return nil
	})

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyCancel)})
	if cmd != nil {
		if msg := cmd(); msg != nil {
			t.Errorf("unexpected message %#v", msg)
		}
	}
}

// findCancelResult runs cmd, unwrapping batches, and returns the cancel
// result it produced.
func findCancelResult(t *testing.T, cmd tea.Cmd) cancelResultMsg {
	t.Helper()
	switch msg := cmd().(type) {
	case cancelResultMsg:
		return msg
	case tea.BatchMsg:
		for _, c := range msg {
			if c == nil {
				continue
			}
			if res, ok := c().(cancelResultMsg); ok {
				return res
			}
		}
	}
	t.Fatal("no cancel result produced")
	return cancelResultMsg{}
}

func TestSummaryPaneTracksProgress(t *testing.T) {
	m := newTestModel(t, nil)

	m = send(m, events.NewProgressEvent(map[task.Status]int{
		task.StatusRunning:   2,
		task.StatusCompleted: 1,
		task.StatusCancelled: 1,
	}, time.Now()))

	p := m.summaryPane.Progress()
	if p.Total != 4 || p.Running != 2 || p.Completed != 1 || p.Cancelled != 1 {
		t.Errorf("progress = %+v", p)
	}
	if view := m.View(); !strings.Contains(view, "Background Tasks") {
		t.Error("summary pane not rendered")
	}
}

func TestQuit(t *testing.T) {
	m := newTestModel(t, nil)

	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(KeyQuit)})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
	if got := updated.(Model).View(); got != "Goodbye!\n" {
		t.Errorf("View after quit = %q", got)
	}
}

func TestStatusIcon(t *testing.T) {
	seen := map[string]task.Status{}
	for _, s := range []task.Status{
		task.StatusPending, task.StatusRunning, task.StatusCompleted,
		task.StatusFailed, task.StatusCancelled, task.StatusTimedOut,
	} {
		icon := StatusIcon(s)
		if icon == "" {
			t.Errorf("no icon for %q", s)
		}
		if prev, dup := seen[icon]; dup {
			t.Errorf("%q and %q share icon %q", prev, s, icon)
		}
		seen[icon] = s
	}
}

func TestTruncateName(t *testing.T) {
	tests := []struct {
		name  string
		width int
		want  string
	}{
		{"short", 10, "short"},
		{"check the build", 10, "check t..."},
		{"ビルドを確認してください", 10, "ビルド..."},
	}
	for _, tt := range tests {
		got := truncateName(tt.name, tt.width)
		if got != tt.want {
			t.Errorf("truncateName(%q, %d) = %q, want %q", tt.name, tt.width, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncateName(%q, %d) produced invalid UTF-8", tt.name, tt.width)
		}
		if w := runewidth.StringWidth(got); w > tt.width {
			t.Errorf("truncateName(%q, %d) is %d cells wide", tt.name, tt.width, w)
		}
	}
}

func TestTaskListKeepsMultibyteDescriptionsValid(t *testing.T) {
	m := newTestModel(t, nil)
	tk := snapshot("bg_1", task.StatusRunning)
	tk.Description = "ビルドを確認して、失敗したテストをすべて報告してください"
	m = send(m, events.TaskStartedEvent{Task: tk, Timestamp: time.Now()})

	if view := m.View(); !utf8.ValidString(view) {
		t.Error("task list rendered invalid UTF-8")
	}
}
