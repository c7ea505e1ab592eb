package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryStore keeps short user-remembered snippets.
type MemoryStore interface {
	// Memories returns all snippets, oldest first.
	Memories(ctx context.Context) ([]string, error)
	Remember(ctx context.Context, text string) error
}

// JoinMemories renders memories as a single context string.
func JoinMemories(memories []string) string {
	return strings.Join(memories, ". ")
}

// MemoryList is an in-process MemoryStore.
type MemoryList struct {
	mu    sync.Mutex
	items []string
}

func (l *MemoryList) Memories(context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.items...), nil
}

func (l *MemoryList) Remember(_ context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	l.mu.Lock()
	l.items = append(l.items, text)
	l.mu.Unlock()
	return nil
}

const memorySchema = `CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	created_at INTEGER NOT NULL,
	memory TEXT NOT NULL
)`

// SQLiteMemories persists memories in a SQLite database.
type SQLiteMemories struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLiteMemories opens (creating if needed) the memory database at path.
func OpenSQLiteMemories(path string) (*SQLiteMemories, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create memory dir: %w", err)
	}
	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory db: %w", err)
	}
	// SQLite serializes writers anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(memorySchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create memory schema: %w", err)
	}
	return &SQLiteMemories{db: db, now: time.Now}, nil
}

func (s *SQLiteMemories) Memories(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT memory FROM memories ORDER BY created_at, rowid`)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteMemories) Remember(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO memories (id, created_at, memory) VALUES (?, ?, ?)`,
		uuid.NewString(), s.now().UnixNano(), text)
	if err != nil {
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteMemories) Close() error {
	return s.db.Close()
}
