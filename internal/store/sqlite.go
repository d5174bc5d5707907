package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/containerd/errdefs"
	_ "modernc.org/sqlite"

	"github.com/ashureev/ttakmal/internal/domain"
	"github.com/ashureev/ttakmal/internal/identity"
)

// SQLiteStore implements ConversationStore using SQLite. The conversation
// record is kept as a JSON payload next to its indexed timestamps.
type SQLiteStore struct {
	db      *sql.DB
	writeMu sync.Mutex // serializes writers to avoid SQLITE_BUSY
}

// NewSQLite creates a new SQLite-backed conversation store.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS conversations (
		conv_key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		thread_num TEXT NOT NULL,
		status TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get retrieves a conversation by userId/threadNum.
func (s *SQLiteStore) Get(ctx context.Context, userID, threadNum string) (*domain.Conversation, error) {
	query := `SELECT payload FROM conversations WHERE conv_key = ?`
	row := s.db.QueryRowContext(ctx, query, identity.ConversationKey(userID, threadNum))

	var payload string
	err := row.Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("conversation %s/%s: %w", userID, threadNum, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("scan conversation row: %w", err)
	}

	var conv domain.Conversation
	if err := json.Unmarshal([]byte(payload), &conv); err != nil {
		return nil, fmt.Errorf("decode conversation payload: %w", err)
	}
	return &conv, nil
}

// Save creates or updates a conversation record.
func (s *SQLiteStore) Save(ctx context.Context, conv *domain.Conversation) error {
	if conv == nil {
		return fmt.Errorf("save conversation: %w", errdefs.ErrInvalidArgument)
	}
	payload, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation payload: %w", err)
	}

	query := `
	INSERT INTO conversations (conv_key, user_id, thread_num, status, payload, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(conv_key) DO UPDATE SET
		status = excluded.status,
		payload = excluded.payload,
		updated_at = excluded.updated_at`

	return retryBusy(ctx, "save conversation", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		_, err := s.db.ExecContext(ctx, query,
			identity.ConversationKey(conv.UserID, conv.ThreadNum),
			conv.UserID, conv.ThreadNum, string(conv.Status), string(payload),
			conv.CreatedAt.UnixMilli(), conv.UpdatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("upsert conversation: %w", err)
		}
		return nil
	})
}

// Delete removes a conversation record.
func (s *SQLiteStore) Delete(ctx context.Context, userID, threadNum string) error {
	var rows int64
	err := retryBusy(ctx, "delete conversation", func() error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()

		result, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE conv_key = ?`,
			identity.ConversationKey(userID, threadNum))
		if err != nil {
			return fmt.Errorf("delete conversation: %w", err)
		}
		rows, err = result.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("conversation %s/%s: %w", userID, threadNum, errdefs.ErrNotFound)
	}
	return nil
}

// Count returns the number of stored conversations.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count conversations: %w", err)
	}
	return n, nil
}

// DeleteExpired removes conversations idle since before cutoff.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin expiry transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	threshold := cutoff.UnixMilli()
	rows, err := tx.QueryContext(ctx,
		`SELECT conv_key FROM conversations WHERE updated_at < ? ORDER BY conv_key`, threshold)
	if err != nil {
		return nil, fmt.Errorf("query expired conversations: %w", err)
	}

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan expired conversation row: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate expired conversations: %w", err)
	}
	if closeErr := rows.Close(); closeErr != nil {
		slog.Warn("failed to close expired conversation rows", "error", closeErr)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM conversations WHERE updated_at < ?`, threshold); err != nil {
		return nil, fmt.Errorf("delete expired conversations: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit expiry transaction: %w", err)
	}
	return keys, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
