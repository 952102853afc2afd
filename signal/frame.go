package signal

import (
	"encoding/json"

	"groupcall/database"
)

// Frame ops.
const (
	OpJoin  = "join"
	OpEvent = "event"
)

// Frame is one websocket message on the relay protocol. A client's first
// frame must be a join; every later frame carries a state event.
type Frame struct {
	Op     string      `json:"op"`
	RoomID string      `json:"room_id"`
	Event  *EventFrame `json:"event,omitempty"`
}

// EventFrame is the wire form of a state event.
type EventFrame struct {
	Type           string          `json:"type"`
	StateKey       string          `json:"state_key"`
	Sender         string          `json:"sender"`
	Content        json.RawMessage `json:"content"`
	OriginServerTS int64           `json:"origin_server_ts"`
}

// ToStateEvent converts the frame to a store event for roomID.
func (f *EventFrame) ToStateEvent(roomID string) *database.StateEvent {
	return &database.StateEvent{
		RoomID:         roomID,
		Type:           f.Type,
		StateKey:       f.StateKey,
		Sender:         f.Sender,
		Content:        f.Content,
		OriginServerTS: f.OriginServerTS,
	}
}

// FromStateEvent converts a store event to its wire form.
func FromStateEvent(event *database.StateEvent) *EventFrame {
	return &EventFrame{
		Type:           event.Type,
		StateKey:       event.StateKey,
		Sender:         event.Sender,
		Content:        event.Content,
		OriginServerTS: event.OriginServerTS,
	}
}
