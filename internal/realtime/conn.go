package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const writeWait = 10 * time.Second

// Conn is one websocket client. Its state is either unjoined (room == "") or joined to exactly one room; room is
// guarded by the hub mutex.
type Conn struct {
	id   string
	hub  *Hub
	ws   *websocket.Conn
	room string

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(h *Hub, ws *websocket.Conn) *Conn {
	return &Conn{
		id:   uuid.NewString(),
		hub:  h,
		ws:   ws,
		send: make(chan []byte, h.options.SendBuffer),
		done: make(chan struct{}),
	}
}

// serve runs the read and write loops and returns once both have stopped.
func (c *Conn) serve() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wg := new(sync.WaitGroup)
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop()
	}()

	reason := c.readLoop(ctx)
	c.close()
	wg.Wait()
	c.hub.leave(c)
	slog.Info("disconnected", "conn", c.id, "reason", reason)
}

func (c *Conn) readLoop(ctx context.Context) string {
	pongWait := 2 * c.hub.options.PingInterval
	c.ws.SetReadLimit(c.hub.options.MaxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return "client closed"
			}
			if isDecodeError(err) {
				slog.Warn("dropping malformed frame", "conn", c.id, "err", err)
				c.emit(EventError, errorEvent{Error: err.Error()})
				continue
			}
			return err.Error()
		}
		c.dispatch(ctx, msg)
	}
}

// isDecodeError reports whether a read failed on the frame's content rather than the connection; the rest of the
// frame is discarded by the next read so the connection stays usable.
func isDecodeError(err error) bool {
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	return errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF)
}

func (c *Conn) dispatch(ctx context.Context, msg Message) {
	switch msg.Event {
	case EventJoin:
		roomID, err := decodeJoin(msg.Data)
		if err == nil {
			err = c.hub.join(ctx, c, roomID)
		}
		if err != nil {
			slog.Warn("failed to join", "conn", c.id, "err", err)
			c.emit(EventError, errorEvent{Error: err.Error()})
		}
	case EventUpdate:
		c.hub.update(ctx, c, msg.Data)
	default:
		c.emit(EventError, errorEvent{Error: fmt.Sprintf("unknown event %q", msg.Event)})
	}
}

func (c *Conn) writeLoop() {
	defer c.ws.Close()
	t := time.NewTicker(c.hub.options.PingInterval)
	defer t.Stop()
	for {
		select {
		case frame := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				slog.Error("failed to write message", "conn", c.id, "err", err)
				return
			}
		case <-t.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				slog.Error("failed to ping", "conn", c.id, "err", err)
				return
			}
		case <-c.done:
			// flush whatever is already queued, then say goodbye
			for {
				select {
				case frame := <-c.send:
					_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
						return
					}
				default:
					_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
					return
				}
			}
		}
	}
}

// emit encodes and queues a frame for this connection only.
func (c *Conn) emit(event string, data interface{}) {
	frame, err := encodeMessage(event, data)
	if err != nil {
		slog.Error("failed to encode message", "conn", c.id, "event", event, "err", err)
		return
	}
	c.enqueue(frame)
}

// enqueue never blocks: a connection that cannot keep up is closed instead of stalling its room.
func (c *Conn) enqueue(frame []byte) {
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- frame:
	default:
		slog.Warn("send buffer full, dropping connection", "conn", c.id)
		c.close()
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}
