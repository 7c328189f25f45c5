// Package history records every admitted room write as a commit in a per room automerge document. The document is an
// audit trail for rendering and inspection only; the last-write-wins room record stays authoritative.
package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/automerge/automerge-go"

	"github.com/astromechza/roomsync/internal/room"
	"github.com/astromechza/roomsync/internal/store"
)

// Recorder loads, extends and saves room histories through the store.
type Recorder struct {
	store store.Store
	actor string
	now   func() time.Time
}

// NewRecorder returns a recorder that commits as the given server name, hex encoded into an automerge actor id.
func NewRecorder(s store.Store, serverName string) *Recorder {
	actor := hex.EncodeToString([]byte(serverName))
	if actor == "" {
		actor = automerge.NewActorID()
	}
	return &Recorder{store: s, actor: actor, now: time.Now}
}

// Load returns the history of the room, or a new empty document when nothing has been recorded.
func (r *Recorder) Load(ctx context.Context, roomID string) (*automerge.Doc, error) {
	raw, err := r.store.LoadHistory(ctx, roomID)
	if errors.Is(err, store.ErrNotFound) {
		return automerge.New(), nil
	} else if err != nil {
		return nil, err
	}
	doc, err := automerge.Load(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	return doc, nil
}

// Record writes the admitted entries into the room history as one commit whose message lists the written keys.
// Callers must hold the room lock.
func (r *Recorder) Record(ctx context.Context, roomID string, admitted room.Document) error {
	if len(admitted) == 0 {
		return nil
	}
	doc, err := r.Load(ctx, roomID)
	if err != nil {
		return err
	}
	if err := doc.SetActorID(r.actor); err != nil {
		return fmt.Errorf("failed to set actor: %w", err)
	}

	keys := make([]string, 0, len(admitted))
	for k := range admitted {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v, err := toValue(admitted[k])
		if err != nil {
			return fmt.Errorf("failed to convert %q: %w", k, err)
		}
		if err := doc.Path(k).Set(v); err != nil {
			return fmt.Errorf("failed to set %q: %w", k, err)
		}
	}

	now := r.now()
	if _, err := doc.Commit(strings.Join(keys, ","), automerge.CommitOptions{Time: &now, AllowEmpty: true}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	if err := r.store.SaveHistory(ctx, roomID, doc.Save()); err != nil {
		return fmt.Errorf("failed to save history: %w", err)
	}
	return nil
}

// toValue turns an entry into the map form automerge stores, with ts kept as an integer.
func toValue(e room.Entry) (map[string]interface{}, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if e.TS != 0 {
		out["ts"] = e.TS
	}
	return out, nil
}
