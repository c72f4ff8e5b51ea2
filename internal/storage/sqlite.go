package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"

	"listwatch/pkg/logx"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS listings (
	source        TEXT NOT NULL,
	item          TEXT NOT NULL,
	first_seen_ms INTEGER NOT NULL,
	PRIMARY KEY (source, item)
);
`

// sqliteStore keeps every source's records in one database file. Append
// idempotency comes from INSERT OR IGNORE on the (source, item) primary key;
// durability from the transaction commit.
type sqliteStore struct {
	db     *sql.DB
	log    logx.Logger
	source string
}

func openSQLite(cfg Config, source string, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("storage.path is required for sqlite driver")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &sqliteStore{db: db, log: log, source: source}, nil
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) Exists(ctx context.Context) (bool, error) {
	n, err := s.Count(ctx)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sqliteStore) Bootstrap(ctx context.Context, items []string, at int64) error {
	ok, err := s.Exists(ctx)
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("source %s: %w", s.source, ErrAlreadyExists)
	}
	return s.insert(ctx, items, at)
}

func (s *sqliteStore) Append(ctx context.Context, items []string, at int64) error {
	if len(items) == 0 {
		return nil
	}
	return s.insert(ctx, items, at)
}

func (s *sqliteStore) insert(ctx context.Context, items []string, at int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, it := range items {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO listings(source, item, first_seen_ms) VALUES(?,?,?)`,
			s.source, it, at,
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *sqliteStore) Load(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT item FROM listings WHERE source = ?`, s.source)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]struct{}{}
	for rows.Next() {
		var item string
		if err := rows.Scan(&item); err != nil {
			return nil, err
		}
		out[item] = struct{}{}
	}
	return out, rows.Err()
}

func (s *sqliteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings WHERE source = ?`, s.source).Scan(&n)
	return n, err
}
