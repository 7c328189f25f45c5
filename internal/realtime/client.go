package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/astromechza/roomsync/internal/room"
)

// Client is a minimal realtime client, used by the roomsync-client command and by tests.
type Client struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex
	messages chan Message
	readErr  error
}

// Dial connects to a websocket url such as ws://localhost:3000/ws.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial: %w", err)
	}
	c := &Client{conn: conn, messages: make(chan Message, 64)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	defer close(c.messages)
	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				slog.Debug("client read stopped", "err", err)
			}
			c.readErr = err
			return
		}
		c.messages <- msg
	}
}

func (c *Client) send(event string, data interface{}) error {
	frame, err := encodeMessage(event, data)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	return nil
}

// SendRaw writes a frame as is.
func (c *Client) SendRaw(frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, frame)
}

func (c *Client) Join(roomID string) error {
	return c.send(EventJoin, roomID)
}

func (c *Client) Update(roomID string, payload room.Document) error {
	return c.send(EventUpdate, UpdateRequest{RoomID: roomID, Payload: payload})
}

// Recv returns the next frame from the server.
func (c *Client) Recv(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.messages:
		if !ok {
			return Message{}, fmt.Errorf("connection closed: %w", c.readErr)
		}
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Expect receives the next frame, checks its event name and decodes its data into out.
func (c *Client) Expect(ctx context.Context, event string, out interface{}) error {
	msg, err := c.Recv(ctx)
	if err != nil {
		return err
	}
	if msg.Event != event {
		return fmt.Errorf("expected %s event but got %s: %s", event, msg.Event, string(msg.Data))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", event, err)
	}
	return nil
}

func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	c.writeMu.Unlock()
	return c.conn.Close()
}
