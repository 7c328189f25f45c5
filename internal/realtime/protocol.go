// Package realtime is the push side of room synchronization: websocket connections join a room, receive its snapshot,
// and exchange deltas with the other members.
//
// Every frame is a JSON text message of the form {"event": "...", "data": ...}.
package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/astromechza/roomsync/internal/room"
)

const (
	// client to server
	EventJoin   = "join"
	EventUpdate = "update"

	// server to client
	EventInit         = "init"
	EventRemoteUpdate = "remote-update"
	EventUpdateAck    = "update-ack"
	EventError        = "error"
)

// Message is the envelope of every frame in either direction.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UpdateRequest is the data of an update event. Room is accepted as an alias of RoomID.
type UpdateRequest struct {
	RoomID  string        `json:"roomId,omitempty"`
	Room    string        `json:"room,omitempty"`
	Payload room.Document `json:"payload"`
}

// UpdateAck is sent to the originator of an update only.
type UpdateAck struct {
	OK     bool   `json:"ok"`
	RoomID string `json:"roomId,omitempty"`
	Error  string `json:"error,omitempty"`
}

type errorEvent struct {
	Error string `json:"error"`
}

func encodeMessage(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s data: %w", event, err)
	}
	return json.Marshal(Message{Event: event, Data: raw})
}

func decodeJoin(data json.RawMessage) (string, error) {
	var roomID string
	if err := json.Unmarshal(data, &roomID); err != nil {
		return "", fmt.Errorf("join expects a room id string: %w", err)
	}
	if roomID == "" {
		return "", fmt.Errorf("join expects a non-empty room id")
	}
	return roomID, nil
}

func decodeUpdate(data json.RawMessage) (string, room.Document, error) {
	var req UpdateRequest
	if len(data) == 0 {
		return "", nil, fmt.Errorf("update is missing its data")
	}
	if err := json.Unmarshal(data, &req); err != nil {
		return "", nil, fmt.Errorf("failed to decode update: %w", err)
	}
	roomID := req.RoomID
	if roomID == "" {
		roomID = req.Room
	}
	if roomID == "" {
		return "", nil, fmt.Errorf("update is missing roomId")
	}
	if req.Payload == nil {
		return "", nil, fmt.Errorf("update is missing payload")
	}
	return roomID, req.Payload, nil
}
