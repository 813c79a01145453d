package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sitecache/internal/domain"
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS entries (
	generation TEXT NOT NULL,
	key        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	header     TEXT NOT NULL,
	body       BLOB,
	stored_at  INTEGER NOT NULL,
	PRIMARY KEY (generation, key)
)`

// SQLiteStore はSQLiteのキャッシュストア. 世代は entries テーブルの列で区別する.
type SQLiteStore struct {
	db *sql.DB
}

var _ domain.CacheStore = (*SQLiteStore)(nil)

// OpenSQLiteStore は指定パスのSQLiteデータベースを開き、スキーマを作成する
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// 書き込みの競合を避けるため接続は1本
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Match(ctx context.Context, generation, key string) (*domain.Snapshot, bool, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT status, header, body, stored_at FROM entries WHERE generation = ? AND key = ?",
		generation, key)

	var (
		snap     domain.Snapshot
		header   string
		storedAt int64
	)
	if err := row.Scan(&snap.Status, &header, &snap.Body, &storedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}

	snap.Header = http.Header{}
	if err := json.Unmarshal([]byte(header), &snap.Header); err != nil {
		return nil, false, fmt.Errorf("%w: %v", errCorruptEntry, err)
	}
	if snap.Body == nil {
		snap.Body = []byte{}
	}
	snap.StoredAt = time.Unix(0, storedAt).UTC()
	return &snap, true, nil
}

func (s *SQLiteStore) Put(ctx context.Context, generation, key string, snap *domain.Snapshot) error {
	header, err := json.Marshal(snap.Header)
	if err != nil {
		return err
	}
	body := snap.Body
	if body == nil {
		body = []byte{}
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO entries (generation, key, status, header, body, stored_at)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT (generation, key) DO UPDATE SET
	status = excluded.status,
	header = excluded.header,
	body = excluded.body,
	stored_at = excluded.stored_at`,
		generation, key, snap.Status, string(header), body, snap.StoredAt.UnixNano())
	return err
}

func (s *SQLiteStore) Generations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT generation FROM entries")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStore) DeleteGeneration(ctx context.Context, generation string) (bool, error) {
	res, err := s.db.ExecContext(ctx, "DELETE FROM entries WHERE generation = ?", generation)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
