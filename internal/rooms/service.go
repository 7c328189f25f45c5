// Package rooms runs every read-modify-write of a room document under a per room lock so that the realtime and REST
// paths never interleave and lose each other's writes.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/automerge/automerge-go"
	"github.com/moby/locker"

	"github.com/astromechza/roomsync/internal/history"
	"github.com/astromechza/roomsync/internal/room"
	"github.com/astromechza/roomsync/internal/store"
)

// ErrInvalidRoom is returned for an empty room id.
var ErrInvalidRoom = errors.New("room id must not be empty")

// Service couples a store with the merge engine and the per room lock. When a recorder is set, every admitted write
// is also committed to the room history.
type Service struct {
	store   store.Store
	history *history.Recorder
	locks   *locker.Locker
}

// NewService builds a service over the store. recorder may be nil to skip history recording.
func NewService(s store.Store, recorder *history.Recorder) *Service {
	return &Service{store: s, history: recorder, locks: locker.New()}
}

// lock serializes on the sanitized token since that is the unit of storage: ids that collide share a record and
// therefore a lock.
func (s *Service) lock(roomID string) func() {
	token := room.Sanitize(roomID)
	s.locks.Lock(token)
	return func() {
		_ = s.locks.Unlock(token)
	}
}

// Snapshot returns the persisted document of the room.
func (s *Service) Snapshot(ctx context.Context, roomID string) (room.Document, error) {
	return s.View(ctx, roomID, nil)
}

// View loads the document and calls fn while the room is still locked, so no update can be applied between the read
// and whatever fn does with it (the realtime join uses this to subscribe atomically).
func (s *Service) View(ctx context.Context, roomID string, fn func(room.Document)) (room.Document, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	defer s.lock(roomID)()
	doc, err := s.store.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	if fn != nil {
		fn(doc)
	}
	return doc, nil
}

// Apply merges the incoming partial document into the room and persists the result. If the save succeeds, after is
// called with the merged document before the lock is released; this is where realtime fan-out happens so members see
// deltas in the order they were admitted.
func (s *Service) Apply(ctx context.Context, roomID string, incoming room.Document, after func(merged room.Document)) (room.Document, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	defer s.lock(roomID)()
	current, err := s.store.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load room: %w", err)
	}
	admitted := room.Admitted(current, incoming)
	merged := room.Merge(current, incoming)
	if err := s.store.Save(ctx, roomID, merged); err != nil {
		return nil, fmt.Errorf("failed to persist room: %w", err)
	}
	if s.history != nil {
		if err := s.history.Record(ctx, roomID, admitted); err != nil {
			slog.Warn("failed to record history", "room", roomID, "err", err)
		}
	}
	if after != nil {
		after(merged)
	}
	return merged, nil
}

// History returns the change history of the room. Rooms without a recorder or without writes have an empty history.
func (s *Service) History(ctx context.Context, roomID string) (*automerge.Doc, error) {
	if roomID == "" {
		return nil, ErrInvalidRoom
	}
	if s.history == nil {
		return automerge.New(), nil
	}
	defer s.lock(roomID)()
	doc, err := s.history.Load(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return doc, nil
}

// List returns the tokens of every persisted room.
func (s *Service) List(ctx context.Context) ([]string, error) {
	return s.store.List(ctx)
}
