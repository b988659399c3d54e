package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/subagents/internal/task"
)

// AppendOutput records a delivered output chunk. The task must already be
// journaled.
func (s *SQLiteStore) AppendOutput(ctx context.Context, taskID string, chunk OutputChunk) error {
	if chunk.RecordedAt.IsZero() {
		chunk.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_output (task_id, from_index, to_index, chunk, recorded_at)
		VALUES (?, ?, ?, ?, ?)
	`, taskID, chunk.From, chunk.To, chunk.Text, toMillis(chunk.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to append output for task %s: %w", taskID, err)
	}
	return nil
}

// GetOutput returns the output chunks of a task in delivery order.
func (s *SQLiteStore) GetOutput(ctx context.Context, taskID string) ([]OutputChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT from_index, to_index, chunk, recorded_at
		FROM task_output
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query output: %w", err)
	}
	defer rows.Close()

	chunks := []OutputChunk{}
	for rows.Next() {
		var (
			c  OutputChunk
			at int64
		)
		if err := rows.Scan(&c.From, &c.To, &c.Text, &at); err != nil {
			return nil, fmt.Errorf("failed to scan output: %w", err)
		}
		c.RecordedAt = fromMillis(at)
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating output: %w", err)
	}
	return chunks, nil
}

// RecordEvent notes a lifecycle event of a journaled task.
func (s *SQLiteStore) RecordEvent(ctx context.Context, taskID string, ev EventRecord) error {
	if ev.RecordedAt.IsZero() {
		ev.RecordedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_events (task_id, event_type, status, recorded_at)
		VALUES (?, ?, ?, ?)
	`, taskID, ev.Type, string(ev.Status), toMillis(ev.RecordedAt))
	if err != nil {
		return fmt.Errorf("failed to record event for task %s: %w", taskID, err)
	}
	return nil
}

// GetEvents returns the lifecycle events of a task in order.
func (s *SQLiteStore) GetEvents(ctx context.Context, taskID string) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT event_type, status, recorded_at
		FROM task_events
		WHERE task_id = ?
		ORDER BY id ASC
	`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	records := []EventRecord{}
	for rows.Next() {
		var (
			r      EventRecord
			status string
			at     int64
		)
		if err := rows.Scan(&r.Type, &status, &at); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		r.Status = task.Status(status)
		r.RecordedAt = fromMillis(at)
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return records, nil
}
