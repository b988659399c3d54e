package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aristath/subagents/internal/events"
	"github.com/aristath/subagents/internal/session"
	"github.com/aristath/subagents/internal/task"
)

// defaultRole titles messages whose transcript entry carries no role.
const defaultRole = "assistant"

// consumeNewMessages returns the formatted transcript messages beyond the
// task's watermark and advances the watermark past them. It returns "" when
// the task has no session, when nothing new arrived, or when a concurrent
// caller already claimed the new messages.
func (e *Engine) consumeNewMessages(ctx context.Context, t task.Task) (string, error) {
	if t.SessionID == "" {
		return "", nil
	}

	messages, err := e.transport.Messages(ctx, t.SessionID)
	if err != nil {
		return "", fmt.Errorf("fetching transcript of task %s: %w", t.ID, err)
	}

	from := t.LastMessageCount
	if len(messages) <= from {
		return "", nil
	}
	if !e.registry.AdvanceWatermark(t.ID, from, len(messages)) {
		e.logger.Debug("new messages claimed by a concurrent result query", "task_id", t.ID)
		return "", nil
	}

	output := formatMessages(messages[from:])
	if output != "" {
		e.publish(events.TaskOutputEvent{
			ID:        t.ID,
			From:      from,
			To:        len(messages),
			Chunk:     output,
			Timestamp: time.Now(),
		})
	}
	return output, nil
}

// formatMessages renders each message with text as a "## role" block.
// Messages without text produce no block.
func formatMessages(messages []session.Message) string {
	var blocks []string
	for _, m := range messages {
		parts := m.TextParts()
		if len(parts) == 0 {
			continue
		}
		role := m.Role
		if role == "" {
			role = defaultRole
		}
		blocks = append(blocks, "## "+role+"\n\n"+strings.Join(parts, "\n\n"))
	}
	return strings.Join(blocks, "\n\n")
}
