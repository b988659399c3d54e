package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/aristath/subagents/internal/task"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a task is not in the journal.
var ErrNotFound = errors.New("task not in journal")

// OutputChunk is one piece of output delivered to a result query.
type OutputChunk struct {
	From       int // First transcript message index covered
	To         int // One past the last covered index
	Text       string
	RecordedAt time.Time
}

// EventRecord is one lifecycle event noted in the journal.
type EventRecord struct {
	Type       string
	Status     task.Status
	RecordedAt time.Time
}

// Store is a write-mostly journal of background tasks. It is an audit
// trail: the engine never reloads tasks from it.
type Store interface {
	// Task snapshots
	SaveTask(ctx context.Context, t task.Task) error
	GetTask(ctx context.Context, id string) (task.Task, error)
	ListTasks(ctx context.Context) ([]task.Task, error)

	// Delivered output
	AppendOutput(ctx context.Context, taskID string, chunk OutputChunk) error
	GetOutput(ctx context.Context, taskID string) ([]OutputChunk, error)

	// Lifecycle events
	RecordEvent(ctx context.Context, taskID string, ev EventRecord) error
	GetEvents(ctx context.Context, taskID string) ([]EventRecord, error)

	Close() error
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the journal at dbPath. Creates parent
// directories if needed. Enables WAL mode, foreign keys, and busy timeout.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	// modernc.org/sqlite doesn't support _foreign_keys in the connection string
	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return openStore(ctx, connStr)
}

var memoryStores atomic.Uint64

// NewMemoryStore creates an in-memory store. Each call gets its own
// database, shared by the connections of that store only.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	connStr := fmt.Sprintf("file:journal-%d?mode=memory&cache=shared", memoryStores.Add(1))
	return openStore(ctx, connStr)
}

func openStore(ctx context.Context, connStr string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// A single connection keeps the shared-cache memory database alive and
	// serialises writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Timestamps are stored as Unix milliseconds; 0 stands for the zero time.
func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}
