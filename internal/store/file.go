package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/astromechza/roomsync/internal/room"
)

const (
	fileSuffix    = ".json"
	historySuffix = ".automerge"
)

// FileStore keeps each room as <dir>/<token>.json with its change history next to it in <dir>/<token>.automerge.
type FileStore struct {
	dir string
}

// NewFileStore creates the data directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (s *FileStore) path(roomID string) string {
	return filepath.Join(s.dir, room.Sanitize(roomID)+fileSuffix)
}

func (s *FileStore) historyPath(roomID string) string {
	return filepath.Join(s.dir, room.Sanitize(roomID)+historySuffix)
}

func (s *FileStore) Load(_ context.Context, roomID string) (room.Document, error) {
	raw, err := os.ReadFile(s.path(roomID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return make(room.Document), nil
		}
		return nil, fmt.Errorf("failed to read room: %w", err)
	}
	return decode(room.Sanitize(roomID), raw), nil
}

func (s *FileStore) Save(_ context.Context, roomID string, doc room.Document) error {
	raw, err := encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode room: %w", err)
	}
	return s.replace(s.path(roomID), raw)
}

func (s *FileStore) LoadHistory(_ context.Context, roomID string) ([]byte, error) {
	raw, err := os.ReadFile(s.historyPath(roomID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return raw, nil
}

func (s *FileStore) SaveHistory(_ context.Context, roomID string, raw []byte) error {
	return s.replace(s.historyPath(roomID), raw)
}

// replace writes to a temporary file in the data directory and renames it over target so readers never see a torn
// write.
func (s *FileStore) replace(target string, raw []byte) error {
	f, err := os.CreateTemp(s.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(f.Name())
	if err := f.Chmod(0o644); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to chmod %s: %w", filepath.Base(target), err)
	}
	if _, err := f.Write(raw); err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to write %s: %w", filepath.Base(target), err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", filepath.Base(target), err)
	}
	if err := os.Rename(f.Name(), target); err != nil {
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(target), err)
	}
	return nil
}

func (s *FileStore) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, strings.TrimSuffix(name, fileSuffix))
	}
	sort.Strings(out)
	return out, nil
}

func (s *FileStore) Close() error {
	return nil
}
