package viz

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/astromechza/roomsync/internal/room"
)

func TestLastWriteOrder(t *testing.T) {
	doc := room.Document{
		"late":   {TS: 30},
		"b":      {TS: 10},
		"a":      {TS: 10},
		"oldest": {},
	}
	assert.Equal(t, []string{"oldest", "a", "b", "late"}, LastWriteOrder(doc))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcdefg...", truncate("abcdefghijklmnop", 10))

	long := "a" + strings.Repeat("é", 60)
	cut := truncate(long, maxMessage)
	assert.True(t, utf8.ValidString(cut))
	assert.Equal(t, maxMessage, utf8.RuneCountInString(cut))
	assert.True(t, strings.HasSuffix(cut, "..."))
}

func history(t *testing.T, messages ...string) *automerge.Doc {
	t.Helper()
	doc := automerge.New()
	require.NoError(t, doc.SetActorID("0a0b"))
	for i, m := range messages {
		require.NoError(t, doc.Path(m).Set(int64(i)))
		_, err := doc.Commit(m)
		require.NoError(t, err)
	}
	return doc
}

func TestLabel(t *testing.T) {
	doc := history(t, "title,"+strings.Repeat("ü", 80))
	changes, err := doc.Changes()
	require.NoError(t, err)
	l := label(changes[0])
	assert.True(t, utf8.ValidString(l))
	assert.Contains(t, l, "0a0b@1")
	assert.Contains(t, l, "title,")
	assert.Contains(t, l, "...")
}

func TestRenderDoc_svg(t *testing.T) {
	doc := history(t, "title", "count,title")
	changes, err := doc.Changes()
	require.NoError(t, err)

	var buff bytes.Buffer
	require.NoError(t, RenderDoc(context.Background(), "r1", doc, graphviz.SVG, &buff))
	assert.Contains(t, buff.String(), "<svg")
	assert.Contains(t, buff.String(), changes[0].Hash().String()[:8])
	assert.Contains(t, buff.String(), "count,title")
}

func TestRenderToTemp(t *testing.T) {
	path, err := RenderToTemp(context.Background(), "a/b", automerge.New())
	require.NoError(t, err)
	defer os.Remove(path)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "<svg")
}
