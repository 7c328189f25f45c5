package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/astromechza/roomsync/internal/realtime"
	"github.com/astromechza/roomsync/internal/room"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	flags := pflag.NewFlagSet("roomsync-client", pflag.ContinueOnError)
	addrVar := flags.String("addr", "127.0.0.1:3000", "the address to connect to")
	roomVar := flags.String("room", "default", "the room to join")
	fieldsVar := flags.Int("fields", 4, "number of distinct fields to write randomly")
	if err := flags.Parse(os.Args[1:]); err != nil {
		return err
	}
	u := url.URL{Scheme: "ws", Host: *addrVar, Path: "/ws"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := realtime.Dial(ctx, u.String())
	if err != nil {
		return err
	}
	defer c.Close()
	if err := c.Join(*roomVar); err != nil {
		return err
	}

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		receiveContinuously(ctx, c)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		writeRandomlyContinuously(ctx, c, *roomVar, *fieldsVar)
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case <-ctx.Done():
	}
	cancel()
	_ = c.Close()
	wg.Wait()
	return nil
}

func receiveContinuously(ctx context.Context, c *realtime.Client) {
	for {
		msg, err := c.Recv(ctx)
		if err != nil {
			slog.Info("stopping receive", "err", err)
			return
		}
		switch msg.Event {
		case realtime.EventInit, realtime.EventRemoteUpdate:
			var doc room.Document
			if err := json.Unmarshal(msg.Data, &doc); err != nil {
				slog.Error("failed to decode document", "event", msg.Event, "err", err)
				continue
			}
			slog.Info("received", "event", msg.Event, "fields", len(doc))
		default:
			slog.Info("received", "event", msg.Event, "data", string(msg.Data))
		}
	}
}

func writeRandomlyContinuously(ctx context.Context, c *realtime.Client, roomID string, fields int) {
	for {
		t := time.NewTimer(time.Second + time.Second*time.Duration(rand.Intn(5)))
		select {
		case <-t.C:
			key := fmt.Sprintf("field-%d", rand.Intn(fields))
			value, _ := json.Marshal(rand.Intn(1000))
			if err := c.Update(roomID, room.Document{key: {Type: "number", Value: value, TS: time.Now().UnixMilli()}}); err != nil {
				slog.Error("failed to send update", "err", err)
				return
			}
			slog.Info("wrote", "key", key, "value", string(value))
		case <-ctx.Done():
			t.Stop()
			slog.Info("stopping scheduled writes")
			return
		}
	}
}
