package store

import (
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/astromechza/roomsync/internal/room"
)

// MemoryStore keeps encoded documents in memory. It goes through the same encode/decode path as the durable
// backends so that tests observe identical behaviour.
type MemoryStore struct {
	mu        sync.RWMutex
	records   map[string][]byte
	histories map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string][]byte), histories: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, roomID string) (room.Document, error) {
	token := room.Sanitize(roomID)
	s.mu.RLock()
	raw, ok := s.records[token]
	s.mu.RUnlock()
	if !ok {
		return make(room.Document), nil
	}
	return decode(token, raw), nil
}

func (s *MemoryStore) Save(_ context.Context, roomID string, doc room.Document) error {
	raw, err := encode(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[room.Sanitize(roomID)] = raw
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) LoadHistory(_ context.Context, roomID string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.histories[room.Sanitize(roomID)]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(raw), nil
}

func (s *MemoryStore) SaveHistory(_ context.Context, roomID string, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.histories[room.Sanitize(roomID)] = bytes.Clone(raw)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
