package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aristath/subagents/internal/task"
)

// SaveTask inserts or replaces the snapshot of a task.
func (s *SQLiteStore) SaveTask(ctx context.Context, t task.Task) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, description, prompt, agent, parent_session_id, parent_message_id,
			session_id, status, error, last_message_count, created_at, started_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			prompt = excluded.prompt,
			agent = excluded.agent,
			session_id = excluded.session_id,
			status = excluded.status,
			error = excluded.error,
			last_message_count = MAX(tasks.last_message_count, excluded.last_message_count),
			started_at = excluded.started_at,
			completed_at = excluded.completed_at,
			updated_at = CURRENT_TIMESTAMP
	`, t.ID, t.Description, t.Prompt, t.Agent, t.ParentSessionID, t.ParentMessageID,
		t.SessionID, string(t.Status), t.Error, t.LastMessageCount,
		toMillis(t.CreatedAt), toMillis(t.StartedAt), toMillis(t.CompletedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert task %s: %w", t.ID, err)
	}
	return nil
}

const taskColumns = `id, description, prompt, agent, parent_session_id, parent_message_id,
	session_id, status, error, last_message_count, created_at, started_at, completed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (task.Task, error) {
	var (
		t                               task.Task
		status                          string
		createdAt, startedAt, completed int64
	)
	err := row.Scan(&t.ID, &t.Description, &t.Prompt, &t.Agent, &t.ParentSessionID, &t.ParentMessageID,
		&t.SessionID, &status, &t.Error, &t.LastMessageCount, &createdAt, &startedAt, &completed)
	if err != nil {
		return task.Task{}, err
	}
	t.Status = task.Status(status)
	t.CreatedAt = fromMillis(createdAt)
	t.StartedAt = fromMillis(startedAt)
	t.CompletedAt = fromMillis(completed)
	return t, nil
}

// GetTask returns the last saved snapshot of a task.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return task.Task{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return task.Task{}, fmt.Errorf("failed to query task: %w", err)
	}
	return t, nil
}

// ListTasks returns every journaled task, oldest first.
func (s *SQLiteStore) ListTasks(ctx context.Context) ([]task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	tasks := []task.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}
	return tasks, nil
}
