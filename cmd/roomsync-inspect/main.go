package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"

	"github.com/astromechza/roomsync/internal/history"
	"github.com/astromechza/roomsync/internal/store"
	"github.com/astromechza/roomsync/pkg/viz"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

// mainInner reads a room record written by the file backend, prints its entries in last write order and then the
// change history stored beside it.
func mainInner() error {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{})))

	flags := pflag.NewFlagSet("roomsync-inspect", pflag.ContinueOnError)
	renderVar := flags.Bool("svg", false, "also render the room history to an svg in the temp dir")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	if flags.NArg() != 1 {
		return fmt.Errorf("expected one position argument: the room file to read")
	}
	path := flags.Arg(0)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("failed to read input file: %w", err)
	}
	fileStore, err := store.NewFileStore(filepath.Dir(path))
	if err != nil {
		return err
	}
	ctx := context.Background()
	roomID := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	doc, err := fileStore.Load(ctx, roomID)
	if err != nil {
		return err
	}
	slog.Info("loaded room", "room", roomID, "fields", len(doc))
	for i, key := range viz.LastWriteOrder(doc) {
		e := doc[key]
		slog.Info("entry", "i", fmt.Sprintf("%4d", i), "key", key, "type", e.Type, "ts", e.TS, "value", string(e.Value))
	}

	if _, err := fileStore.LoadHistory(ctx, roomID); errors.Is(err, store.ErrNotFound) {
		slog.Info("no history recorded", "room", roomID)
		return nil
	}
	hist, err := history.NewRecorder(fileStore, "").Load(ctx, roomID)
	if err != nil {
		return err
	}
	changes, err := hist.Changes()
	if err != nil {
		return fmt.Errorf("failed to generate changes: %w", err)
	}
	slog.Info("loaded history", "heads", hist.Heads(), "changes", len(changes))
	for i, change := range changes {
		slog.Info("change", "i", fmt.Sprintf("%4d", i), "hash", change.Hash(), "actor", change.ActorID(), "seq", change.ActorSeq(), "keys", change.Message(), "at", change.Timestamp(), "dep", change.Dependencies())
	}

	if *renderVar {
		svgPath, err := viz.RenderToTemp(ctx, roomID, hist)
		if err != nil {
			return fmt.Errorf("failed to render: %w", err)
		}
		slog.Info("rendered", "room", roomID, "path", "file://"+svgPath)
	}
	return nil
}
