package realtime

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/roomsync/internal/room"
	"github.com/astromechza/roomsync/internal/rooms"
)

// Options tune the per connection resources of the hub.
type Options struct {
	// SendBuffer is the number of outbound frames queued per connection before it is considered too slow and dropped.
	SendBuffer int
	// PingInterval is how often the server pings; a connection that does not answer within two intervals is closed.
	PingInterval time.Duration
	// MaxMessageBytes bounds inbound frames.
	MaxMessageBytes int64
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 25 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 5 << 20
	}
	return o
}

// Hub owns room membership of every live connection. Membership is ephemeral and never persisted.
type Hub struct {
	service  *rooms.Service
	options  Options
	upgrader websocket.Upgrader

	// wg counts running handlers so Close can wait for in flight updates to finish.
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	members map[string]map[*Conn]struct{}
	conns   map[*Conn]struct{}
}

func NewHub(service *rooms.Service, options Options) *Hub {
	return &Hub{
		service: service,
		options: options.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// room access is not authenticated so any origin may connect
			CheckOrigin: func(*http.Request) bool { return true },
		},
		members: make(map[string]map[*Conn]struct{}),
		conns:   make(map[*Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes. Once the hub is closed new requests get
// a 503.
func (h *Hub) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(writer, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	ws, err := h.upgrader.Upgrade(writer, request, nil)
	if err != nil {
		slog.Error("failed to upgrade", "err", err)
		return
	}
	c := newConn(h, ws)
	h.mu.Lock()
	closed := h.closed
	h.conns[c] = struct{}{}
	h.mu.Unlock()
	if closed {
		// Close ran during the upgrade and could not see this connection
		c.close()
	}
	slog.Info("connected", "conn", c.id, "remote", request.RemoteAddr)
	c.serve()
}

// join moves the connection into roomID and sends it the room snapshot. Membership and snapshot are taken under the
// room lock so that every delta the connection later receives was applied after its snapshot.
func (h *Hub) join(ctx context.Context, c *Conn, roomID string) error {
	_, err := h.service.View(ctx, roomID, func(doc room.Document) {
		h.mu.Lock()
		h.removeLocked(c)
		members, ok := h.members[roomID]
		if !ok {
			members = make(map[*Conn]struct{})
			h.members[roomID] = members
		}
		members[c] = struct{}{}
		c.room = roomID
		h.mu.Unlock()

		c.emit(EventInit, doc)
	})
	if err != nil {
		return err
	}
	slog.Info("joined", "conn", c.id, "room", roomID)
	return nil
}

// update applies a delta and fans it out to the other members of the room. The originator always receives exactly
// one update-ack.
func (h *Hub) update(ctx context.Context, c *Conn, data []byte) {
	roomID, incoming, err := decodeUpdate(data)
	if err != nil {
		slog.Warn("rejected update", "conn", c.id, "err", err)
		c.emit(EventUpdateAck, UpdateAck{OK: false, Error: err.Error()})
		return
	}
	if _, err := h.service.Apply(ctx, roomID, incoming, func(room.Document) {
		h.broadcast(roomID, c, EventRemoteUpdate, incoming)
	}); err != nil {
		slog.Error("failed to apply update", "conn", c.id, "room", roomID, "err", err)
		c.emit(EventUpdateAck, UpdateAck{OK: false, Error: err.Error()})
		return
	}
	slog.Debug("applied update", "conn", c.id, "room", roomID, "fields", len(incoming))
	c.emit(EventUpdateAck, UpdateAck{OK: true, RoomID: roomID})
}

func (h *Hub) broadcast(roomID string, except *Conn, event string, data interface{}) {
	frame, err := encodeMessage(event, data)
	if err != nil {
		slog.Error("failed to encode broadcast", "room", roomID, "err", err)
		return
	}
	h.mu.Lock()
	targets := make([]*Conn, 0, len(h.members[roomID]))
	for m := range h.members[roomID] {
		if m != except {
			targets = append(targets, m)
		}
	}
	h.mu.Unlock()
	for _, m := range targets {
		m.enqueue(frame)
	}
}

// leave drops every trace of the connection. Persisted state is untouched.
func (h *Hub) leave(c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
	delete(h.conns, c)
}

func (h *Hub) removeLocked(c *Conn) {
	if c.room == "" {
		return
	}
	if members, ok := h.members[c.room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.members, c.room)
		}
	}
	c.room = ""
}

// Members returns the number of connections joined to the room.
func (h *Hub) Members(roomID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.members[roomID])
}

// Close refuses new connections, disconnects every live one and waits until all handlers have returned, so no update
// is still running against the store afterwards.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	conns := make([]*Conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()
	for _, c := range conns {
		c.close()
	}
	h.wg.Wait()
}
