package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"
)

// DefaultQueryTimeout bounds every SQLite operation.
const DefaultQueryTimeout = 5 * time.Second

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	value       BLOB NOT NULL,
	created_ms  INTEGER NOT NULL,
	accessed_ms INTEGER NOT NULL,
	expires_ms  INTEGER NOT NULL,
	size_bytes  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_ms);
`

// SQLiteConfig configures the file-backed adapter.
type SQLiteConfig struct {
	// Path is the database file. Required.
	Path string

	// QueryTimeout bounds each operation. Defaults to
	// DefaultQueryTimeout.
	QueryTimeout time.Duration
}

// SQLite is the persistent storage adapter: entries live in a local
// SQLite database (pure Go driver, no cgo) with values encoded as
// msgpack. Because values round-trip through serialization, they come
// back as generic types: maps as map[string]any, integers in the
// narrowest width the wire form used, and so on. The database runs in
// WAL mode so readers never block the writer.
type SQLite struct {
	db           *sql.DB
	queryTimeout time.Duration
}

// NewSQLite opens (creating if needed) the database at cfg.Path and
// prepares the entry table.
func NewSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, errors.New("database path is required")
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLite{db: db, queryTimeout: cfg.QueryTimeout}, nil
}

func (a *SQLite) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, a.queryTimeout)
}

func (a *SQLite) Get(ctx context.Context, key string) (*Entry, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var (
		blob []byte
		e    Entry
	)
	err := a.db.QueryRowContext(ctx,
		`SELECT value, created_ms, accessed_ms, expires_ms, size_bytes
		 FROM cache_entries WHERE key = ?`, key,
	).Scan(&blob, &e.CreatedMs, &e.AccessedMs, &e.ExpiresMs, &e.SizeBytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select entry: %w", err)
	}

	if err := msgpack.Unmarshal(blob, &e.Value); err != nil {
		return nil, fmt.Errorf("decode value: %w", err)
	}
	return &e, nil
}

func (a *SQLite) Set(ctx context.Context, key string, e *Entry) error {
	blob, err := msgpack.Marshal(e.Value)
	if err != nil {
		return fmt.Errorf("encode value: %w", err)
	}

	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	_, err = a.db.ExecContext(ctx,
		`INSERT INTO cache_entries (key, value, created_ms, accessed_ms, expires_ms, size_bytes)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			created_ms = excluded.created_ms,
			accessed_ms = excluded.accessed_ms,
			expires_ms = excluded.expires_ms,
			size_bytes = excluded.size_bytes`,
		key, blob, e.CreatedMs, e.AccessedMs, e.ExpiresMs, e.SizeBytes,
	)
	if err != nil {
		return fmt.Errorf("upsert entry: %w", err)
	}
	return nil
}

func (a *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	res, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func (a *SQLite) Keys(ctx context.Context) ([]string, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, `SELECT key FROM cache_entries`)
	if err != nil {
		return nil, fmt.Errorf("select keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

func (a *SQLite) Len(ctx context.Context) (int, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	var n int
	err := a.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache_entries`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count entries: %w", err)
	}
	return n, nil
}

func (a *SQLite) Clear(ctx context.Context) (int, error) {
	ctx, cancel := a.opCtx(ctx)
	defer cancel()

	res, err := a.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("clear entries: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return int(n), nil
}

// Close closes the underlying database.
func (a *SQLite) Close() error {
	return a.db.Close()
}
