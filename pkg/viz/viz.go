// Package viz renders room histories with graphviz.
package viz

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/astromechza/roomsync/internal/room"
)

const maxMessage = 48

// LastWriteOrder returns the document keys in the order their winning writes were stamped: timestamp first, key as
// the tie break.
func LastWriteOrder(doc room.Document) []string {
	keys := make([]string, 0, len(doc))
	for k := range doc {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if doc[keys[i]].TS != doc[keys[j]].TS {
			return doc[keys[i]].TS < doc[keys[j]].TS
		}
		return keys[i] < keys[j]
	})
	return keys
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-3]) + "..."
}

func label(change *automerge.Change) string {
	// \n is a graphviz line break
	return fmt.Sprintf(`%s %s@%d\n%s`, change.Hash().String()[:8], change.ActorID(), change.ActorSeq(), truncate(change.Message(), maxMessage))
}

// RenderDoc writes the change graph of a room history: the room node points at every root change and each change
// points at the changes that depend on it.
func RenderDoc(ctx context.Context, roomID string, doc *automerge.Doc, format graphviz.Format, w io.Writer) error {
	g, err := graphviz.New(ctx)
	if err != nil {
		return fmt.Errorf("failed to setup graphviz: %w", err)
	}
	defer g.Close()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}
	defer graph.Close()

	changes, err := doc.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}

	root, err := graph.CreateNodeByName("room")
	if err != nil {
		return fmt.Errorf("failed to create node: %w", err)
	}
	root.SetLabel(truncate(roomID, maxMessage)).SetShape(graphviz.BoxShape)

	nodeMap := make(map[string]*cgraph.Node, len(changes))
	var edgeCounter int
	edge := func(from, to *cgraph.Node) error {
		edgeCounter++
		if _, err := graph.CreateEdgeByName(strconv.Itoa(edgeCounter), from, to); err != nil {
			return fmt.Errorf("failed to create edge: %w", err)
		}
		return nil
	}
	for _, change := range changes {
		n, err := graph.CreateNodeByName(change.Hash().String())
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(label(change))
		nodeMap[change.Hash().String()] = n

		deps := change.Dependencies()
		if len(deps) == 0 {
			if err := edge(root, n); err != nil {
				return err
			}
		}
		for _, hash := range deps {
			parent, ok := nodeMap[hash.String()]
			if !ok {
				return fmt.Errorf("change %s depends on unknown change %s", change.Hash(), hash)
			}
			if err := edge(parent, n); err != nil {
				return err
			}
		}
	}

	if err := g.Render(ctx, graph, format, w); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}
	return nil
}

// RenderDocToSvg renders the room history into an svg file at outputPath.
func RenderDocToSvg(ctx context.Context, roomID string, doc *automerge.Doc, outputPath string) error {
	var buff bytes.Buffer
	if err := RenderDoc(ctx, roomID, doc, graphviz.SVG, &buff); err != nil {
		return err
	}
	if err := os.WriteFile(outputPath, buff.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write: %w", err)
	}
	return nil
}

// RenderToTemp renders into a fresh file under the temp dir and returns its path.
func RenderToTemp(ctx context.Context, roomID string, doc *automerge.Doc) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%s-%d.svg", room.Sanitize(roomID), time.Now().UnixNano()))
	if err := RenderDocToSvg(ctx, roomID, doc, tf); err != nil {
		return "", err
	}
	return tf, nil
}
