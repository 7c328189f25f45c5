package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomsync/internal/room"
)

func backends(t *testing.T) map[string]Store {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, err)
	sqliteStore, err := OpenSQLite(filepath.Join(t.TempDir(), "rooms.sqlite3"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })
	return map[string]Store{
		BackendFile:   fileStore,
		BackendSQLite: sqliteStore,
		BackendMemory: NewMemoryStore(),
	}
}

func sampleDoc() room.Document {
	return room.Document{
		"a": {Type: "text", Value: json.RawMessage(`"x"`), TS: 10},
		"b": {Type: "json", Value: json.RawMessage(`{"nested":[1,2,3]}`), TS: 2},
		"c": {Value: json.RawMessage(`1`)},
		"d": {Type: "text", Value: json.RawMessage(`"y"`), TS: 3, Extra: map[string]json.RawMessage{"author": json.RawMessage(`"ana"`)}},
	}
}

func assertSameDocument(t *testing.T, want, got room.Document) {
	t.Helper()
	wantRaw, err := json.Marshal(want)
	require.NoError(t, err)
	gotRaw, err := json.Marshal(got)
	require.NoError(t, err)
	assert.JSONEq(t, string(wantRaw), string(gotRaw))
}

func TestStore_loadMissingIsEmpty(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			doc, err := s.Load(context.Background(), "nobody-here")
			require.NoError(t, err)
			assert.NotNil(t, doc)
			assert.Empty(t, doc)
		})
	}
}

func TestStore_roundTrip(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "r1", sampleDoc()))
			doc, err := s.Load(ctx, "r1")
			require.NoError(t, err)
			assertSameDocument(t, sampleDoc(), doc)

			require.NoError(t, s.Save(ctx, "r1", room.Document{"z": {Value: json.RawMessage(`true`), TS: 1}}))
			doc, err = s.Load(ctx, "r1")
			require.NoError(t, err)
			assert.Len(t, doc, 1, "save replaces the whole document")
		})
	}
}

func TestStore_list(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rooms, err := s.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, rooms)

			require.NoError(t, s.Save(ctx, "r2", sampleDoc()))
			require.NoError(t, s.Save(ctx, "r1", sampleDoc()))
			require.NoError(t, s.Save(ctx, "team/alpha", sampleDoc()))
			rooms, err = s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1", "r2", "team_alpha"}, rooms)
		})
	}
}

func TestStore_keepsExtraEntryMembers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "r1", sampleDoc()))
			doc, err := s.Load(ctx, "r1")
			require.NoError(t, err)
			assert.JSONEq(t, `"ana"`, string(doc["d"].Extra["author"]))
		})
	}
}

func TestStore_history(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, err := s.LoadHistory(ctx, "r1")
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Save(ctx, "r1", sampleDoc()))
			require.NoError(t, s.SaveHistory(ctx, "r1", []byte{0x85, 0x6f, 0x4a, 0x83, 0x00}))
			require.NoError(t, s.SaveHistory(ctx, "r1", []byte{0x85, 0x6f, 0x4a, 0x83, 0x01}))
			raw, err := s.LoadHistory(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, []byte{0x85, 0x6f, 0x4a, 0x83, 0x01}, raw)

			raw, err = s.LoadHistory(ctx, "r:1")
			require.NoError(t, err, "histories share the sanitized token")
			assert.NotEmpty(t, raw)

			rooms, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"r1"}, rooms, "history is not a room")

			doc, err := s.Load(ctx, "r1")
			require.NoError(t, err)
			assertSameDocument(t, sampleDoc(), doc)
		})
	}
}

func TestStore_sanitizedIdsCollide(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, "a/b", room.Document{"k": {Value: json.RawMessage(`"slash"`), TS: 1}}))
			doc, err := s.Load(ctx, "a:b")
			require.NoError(t, err)
			assert.JSONEq(t, `"slash"`, string(doc["k"].Value))

			rooms, err := s.List(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a_b"}, rooms)
		})
	}
}

func TestFileStore_corruptRecordLoadsEmpty(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte(`{"a": {"value": `), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "blank.json"), nil, 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "array.json"), []byte(`[1,2]`), 0o644))

	for _, id := range []string{"broken", "blank", "array"} {
		doc, err := s.Load(context.Background(), id)
		require.NoError(t, err, id)
		assert.Empty(t, doc, id)
	}
}

func TestFileStore_prettyPrintedRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), "r1", room.Document{"a": {Type: "text", Value: json.RawMessage(`"hi"`), TS: 1}}))

	raw, err := os.ReadFile(filepath.Join(dir, "r1.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\n  \"a\": {\n    \"type\": \"text\",\n    \"value\": \"hi\",\n    \"ts\": 1\n  }\n}", string(raw))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestFileStore_historyBesideRecord(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, s.SaveHistory(context.Background(), "team/alpha", []byte("raw")))

	raw, err := os.ReadFile(filepath.Join(dir, "team_alpha.automerge"))
	require.NoError(t, err)
	assert.Equal(t, "raw", string(raw))
}

func TestFileStore_saveFailure(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	s, err := NewFileStore(dir)
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(dir))
	assert.Error(t, s.Save(context.Background(), "r1", sampleDoc()))
}

func TestSQLiteStore_corruptRecordLoadsEmpty(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	_, err = s.database.Exec(`INSERT INTO rooms (id, content) VALUES (?, ?)`, "broken", "not json")
	require.NoError(t, err)
	doc, err := s.Load(context.Background(), "broken")
	require.NoError(t, err)
	assert.Empty(t, doc)
}

func TestOpen(t *testing.T) {
	s, err := Open(BackendMemory, "", "")
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("etcd", "", "")
	assert.EqualError(t, err, `unknown store backend "etcd"`)
}
