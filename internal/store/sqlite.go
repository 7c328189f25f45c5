package store

import (
	"context"
	"encoding/base64"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	_ "github.com/mattn/go-sqlite3"

	"github.com/astromechza/roomsync/internal/room"
)

// SQLiteStore keeps each room as a row of the rooms table keyed by its sanitized token. Change histories live in the
// histories table, base64 encoded.
type SQLiteStore struct {
	database *sql.DB
}

// OpenSQLite opens (or creates) the database at path and ensures the schema exists. Use ":memory:" for a throwaway
// database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	slog.Info("Opening database", "path", path)
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// a single connection keeps ":memory:" databases shared and sqlite writers serialized
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{database: db}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init() error {
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS rooms (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create rooms table: %w", err)
	}
	if _, err := s.database.Exec(
		`CREATE TABLE IF NOT EXISTS histories (
		id text not null primary key,
		content text not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create histories table: %w", err)
	}
	slog.Info("Ensured initial tables exist")
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, roomID string) (room.Document, error) {
	token := room.Sanitize(roomID)
	raw, err := s.lookup(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return make(room.Document), nil
	} else if err != nil {
		return nil, err
	}
	return decode(token, raw), nil
}

func (s *SQLiteStore) lookup(ctx context.Context, token string) ([]byte, error) {
	var content string
	if err := s.database.QueryRowContext(ctx, `SELECT content FROM rooms WHERE id = ?`, token).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query room: %w", err)
	}
	return []byte(content), nil
}

func (s *SQLiteStore) Save(ctx context.Context, roomID string, doc room.Document) error {
	raw, err := encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO rooms (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content`,
		room.Sanitize(roomID),
		string(raw),
	); err != nil {
		return fmt.Errorf("failed to persist room: %w", err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	res, err := s.database.QueryContext(ctx, `SELECT id FROM rooms ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(res *sql.Rows) {
		if err := res.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(res)
	out := make([]string, 0)
	for res.Next() {
		var id string
		if err := res.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		out = append(out, id)
	}
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate rooms: %w", err)
	}
	return out, nil
}

func (s *SQLiteStore) LoadHistory(ctx context.Context, roomID string) ([]byte, error) {
	var content string
	if err := s.database.QueryRowContext(ctx, `SELECT content FROM histories WHERE id = ?`, room.Sanitize(roomID)).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode history: %w", err)
	}
	return raw, nil
}

func (s *SQLiteStore) SaveHistory(ctx context.Context, roomID string, raw []byte) error {
	if _, err := s.database.ExecContext(
		ctx, `INSERT INTO histories (id, content) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET content = excluded.content`,
		room.Sanitize(roomID),
		base64.StdEncoding.EncodeToString(raw),
	); err != nil {
		return fmt.Errorf("failed to persist history: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.database.Close()
}
