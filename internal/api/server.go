// Package api is the REST side of room synchronization for clients that cannot hold a websocket. It reads and writes
// the same room documents as the realtime gateway but never fans updates out to realtime members.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/goccy/go-graphviz"
	"github.com/gorilla/mux"

	"github.com/astromechza/roomsync/internal/room"
	"github.com/astromechza/roomsync/internal/rooms"
	"github.com/astromechza/roomsync/pkg/viz"
)

const isoMillis = "2006-01-02T15:04:05.000Z"

// DefaultMaxBodyBytes bounds POST bodies when no limit is configured.
const DefaultMaxBodyBytes = 5 << 20

type Server struct {
	Service *rooms.Service
	// Realtime is mounted at /ws when set.
	Realtime     http.Handler
	Name         string
	MaxBodyBytes int64
	now          func() time.Time
}

// Router builds the routes, wrapped in the access log middleware.
func (s *Server) Router() http.Handler {
	if s.now == nil {
		s.now = time.Now
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	r := mux.NewRouter()
	// room ids may contain escaped slashes
	r.UseEncodedPath()
	r.Use(accessLog)

	r.Methods(http.MethodGet).Path("/").HandlerFunc(s.health)
	r.Methods(http.MethodGet).Path("/rooms").HandlerFunc(s.listRooms)
	r.Methods(http.MethodGet).Path("/data/{roomId}").HandlerFunc(s.getRoom)
	r.Methods(http.MethodPost).Path("/data/{roomId}").HandlerFunc(s.postRoom)
	r.Methods(http.MethodGet).Path("/data/{roomId}/graph.svg").HandlerFunc(s.renderRoom)
	if s.Realtime != nil {
		r.Methods(http.MethodGet).Path("/ws").Handler(s.Realtime)
	}
	return r
}

func accessLog(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		m := httpsnoop.CaptureMetrics(handler, writer, request)
		slog.Info("handled", "method", request.Method, "url", request.URL, "duration", m.Duration, "status", m.Code)
	})
}

func writeJSON(writer http.ResponseWriter, status int, body interface{}) {
	writer.Header().Set("Content-Type", "application/json; charset=utf-8")
	writer.WriteHeader(status)
	if err := json.NewEncoder(writer).Encode(body); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}

func roomID(request *http.Request) (string, error) {
	return url.PathUnescape(mux.Vars(request)["roomId"])
}

func (s *Server) health(writer http.ResponseWriter, _ *http.Request) {
	writeJSON(writer, http.StatusOK, map[string]interface{}{
		"ok":     true,
		"server": s.Name,
		"ts":     s.now().UTC().Format(isoMillis),
	})
}

func (s *Server) listRooms(writer http.ResponseWriter, request *http.Request) {
	ids, err := s.Service.List(request.Context())
	if err != nil {
		slog.Error("failed to list rooms", "err", err)
		writeJSON(writer, http.StatusInternalServerError, map[string]interface{}{"ok": false, "error": err.Error()})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]interface{}{"ok": true, "rooms": ids})
}

func (s *Server) getRoom(writer http.ResponseWriter, request *http.Request) {
	id, err := roomID(request)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": "invalid room id"})
		return
	}
	doc, err := s.Service.Snapshot(request.Context(), id)
	if err != nil {
		slog.Error("failed to load room", "room", id, "err", err)
		writeJSON(writer, http.StatusInternalServerError, map[string]interface{}{"ok": false, "message": "Could not load data"})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]interface{}{"roomId": id, "data": doc})
}

func (s *Server) postRoom(writer http.ResponseWriter, request *http.Request) {
	id, err := roomID(request)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": "invalid room id"})
		return
	}
	var incoming room.Document
	body := http.MaxBytesReader(writer, request.Body, s.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(&incoming); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(writer, http.StatusRequestEntityTooLarge, map[string]interface{}{"ok": false, "message": "payload too large"})
			return
		}
		slog.Warn("failed to decode body", "room", id, "err", err)
		writeJSON(writer, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": "body must be a JSON object of entries"})
		return
	}
	merged, err := s.Service.Apply(request.Context(), id, incoming, nil)
	if err != nil {
		slog.Error("failed to apply update", "room", id, "err", err)
		writeJSON(writer, http.StatusInternalServerError, map[string]interface{}{"ok": false, "message": "Could not persist data"})
		return
	}
	writeJSON(writer, http.StatusOK, map[string]interface{}{"ok": true, "roomId": id, "merged": merged})
}

func (s *Server) renderRoom(writer http.ResponseWriter, request *http.Request) {
	id, err := roomID(request)
	if err != nil {
		writeJSON(writer, http.StatusBadRequest, map[string]interface{}{"ok": false, "message": "invalid room id"})
		return
	}
	doc, err := s.Service.History(request.Context(), id)
	if err != nil {
		slog.Error("failed to load history", "room", id, "err", err)
		writeJSON(writer, http.StatusInternalServerError, map[string]interface{}{"ok": false, "message": "Could not load history"})
		return
	}
	var buff bytes.Buffer
	if err := viz.RenderDoc(request.Context(), id, doc, graphviz.SVG, &buff); err != nil {
		slog.Error("failed to render", "room", id, "err", err)
		writeJSON(writer, http.StatusInternalServerError, map[string]interface{}{"ok": false, "message": "Could not render data"})
		return
	}
	writer.Header().Set("Content-Type", "image/svg+xml")
	if _, err := writer.Write(buff.Bytes()); err != nil {
		slog.Error("failed to write out", "err", err)
	}
}
