// Package store persists one room document per record. All backends share the same contract: a missing or corrupt
// record loads as an empty document and a save replaces the whole document.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/astromechza/roomsync/internal/room"
)

// ErrNotFound is returned by backend lookups when a room has no record. Store.Load converts it into an empty document.
var ErrNotFound = errors.New("room record not found")

// Store is the persistence contract the gateways depend on.
type Store interface {
	// Load returns the persisted document for the room, or an empty document if none exists or it cannot be parsed.
	Load(ctx context.Context, roomID string) (room.Document, error)
	// Save replaces the persisted document for the room.
	Save(ctx context.Context, roomID string, doc room.Document) error
	// List returns the sorted sanitized tokens of every persisted room.
	List(ctx context.Context) ([]string, error)
	// LoadHistory returns the saved change history of the room, or ErrNotFound if none has been recorded yet.
	LoadHistory(ctx context.Context, roomID string) ([]byte, error)
	// SaveHistory replaces the saved change history of the room. It is kept beside the room record but never read
	// back into the document.
	SaveHistory(ctx context.Context, roomID string, raw []byte) error
	Close() error
}

// decode parses a stored record, swallowing corruption so that a broken record never takes a room offline.
func decode(token string, raw []byte) room.Document {
	doc := make(room.Document)
	if len(raw) == 0 {
		return doc
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		slog.Warn("discarding unreadable room record", "room", token, "err", err)
		return make(room.Document)
	}
	if doc == nil {
		doc = make(room.Document)
	}
	return doc
}

func encode(doc room.Document) ([]byte, error) {
	if doc == nil {
		doc = make(room.Document)
	}
	return json.MarshalIndent(doc, "", "  ")
}
