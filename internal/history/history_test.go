package history

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"testing"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomsync/internal/room"
	"github.com/astromechza/roomsync/internal/store"
)

func TestRecorder_loadEmpty(t *testing.T) {
	r := NewRecorder(store.NewMemoryStore(), "srv")
	doc, err := r.Load(context.Background(), "r1")
	require.NoError(t, err)
	changes, err := doc.Changes()
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestRecorder_commitsEachWrite(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	r := NewRecorder(s, "srv")
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return at }

	require.NoError(t, r.Record(ctx, "r1", room.Document{
		"title": {Type: "text", Value: json.RawMessage(`"hello"`), TS: 7, Extra: map[string]json.RawMessage{"author": json.RawMessage(`"ana"`)}},
	}))
	require.NoError(t, r.Record(ctx, "r1", room.Document{
		"count": {Type: "number", Value: json.RawMessage(`3`), TS: 8},
		"title": {Type: "text", Value: json.RawMessage(`"bye"`), TS: 9},
	}))
	require.NoError(t, r.Record(ctx, "r1", room.Document{}), "nothing admitted, nothing committed")

	doc, err := r.Load(ctx, "r1")
	require.NoError(t, err)
	changes, err := doc.Changes()
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, "title", changes[0].Message())
	assert.Equal(t, "count,title", changes[1].Message())
	assert.Equal(t, hex.EncodeToString([]byte("srv")), changes[1].ActorID())
	assert.EqualValues(t, 2, changes[1].ActorSeq())
	assert.Equal(t, []automerge.ChangeHash{changes[0].Hash()}, changes[1].Dependencies())
	assert.True(t, at.Equal(changes[1].Timestamp()))

	value, err := doc.Path("title", "value").Get()
	require.NoError(t, err)
	assert.Equal(t, "bye", value.Str())
	ts, err := doc.Path("title", "ts").Get()
	require.NoError(t, err)
	assert.EqualValues(t, 9, ts.Int64())
}

func TestRecorder_keepsExtraMembers(t *testing.T) {
	ctx := context.Background()
	r := NewRecorder(store.NewMemoryStore(), "srv")
	require.NoError(t, r.Record(ctx, "r1", room.Document{
		"title": {Value: json.RawMessage(`"hello"`), Extra: map[string]json.RawMessage{"author": json.RawMessage(`"ana"`)}},
	}))
	doc, err := r.Load(ctx, "r1")
	require.NoError(t, err)
	author, err := doc.Path("title", "author").Get()
	require.NoError(t, err)
	assert.Equal(t, "ana", author.Str())
}

func TestRecorder_corruptHistory(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	require.NoError(t, s.SaveHistory(ctx, "r1", []byte("not automerge")))
	r := NewRecorder(s, "srv")
	_, err := r.Load(ctx, "r1")
	assert.Error(t, err)
	assert.Error(t, r.Record(ctx, "r1", room.Document{"a": {TS: 1}}))
}
