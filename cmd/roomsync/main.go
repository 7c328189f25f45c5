package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/astromechza/roomsync/internal/api"
	"github.com/astromechza/roomsync/internal/config"
	"github.com/astromechza/roomsync/internal/history"
	"github.com/astromechza/roomsync/internal/realtime"
	"github.com/astromechza/roomsync/internal/rooms"
	"github.com/astromechza/roomsync/internal/store"
)

func main() {
	if err := mainInner(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func mainInner() error {
	cfg, err := config.Load("roomsync", os.Args[1:])
	if err != nil {
		return err
	}
	slog.SetDefault(cfg.Log.NewLogger())

	slog.Info("Opening room store", "backend", cfg.Store.Backend)
	roomStore, err := store.Open(cfg.Store.Backend, cfg.Store.DataDir, cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	defer roomStore.Close()

	service := rooms.NewService(roomStore, history.NewRecorder(roomStore, cfg.ServerName))
	hub := realtime.NewHub(service, realtime.Options{
		SendBuffer:      cfg.Realtime.SendBuffer,
		PingInterval:    cfg.Realtime.PingInterval,
		MaxMessageBytes: cfg.MaxBodyBytes,
	})
	s := &api.Server{
		Service:      service,
		Realtime:     hub,
		Name:         cfg.ServerName,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}

	httpServer := &http.Server{Addr: cfg.Addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}

	listenErr := make(chan error, 1)
	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("listening", "addr", cfg.Addr, "server", cfg.ServerName)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErr <- fmt.Errorf("server listen failed: %w", err)
		}
	}()

	exit := make(chan os.Signal, 1) // we need to reserve to buffer size 1, so the notifier are not blocked
	signal.Notify(exit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-exit:
		slog.Info("Signal caught", "sig", sig)
	case err := <-listenErr:
		wg.Wait()
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down cleanly", "err", err)
	}
	// websocket handlers are hijacked so Shutdown does not wait for them; the hub does, before the store closes
	hub.Close()
	wg.Wait()
	return nil
}
