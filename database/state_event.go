package database

import "encoding/json"

// StateEvent is one room state event. Content is kept as raw JSON; callers
// decode into their own schema types.
type StateEvent struct {
	RoomID         string
	Type           string
	StateKey       string
	Sender         string
	Content        json.RawMessage
	OriginServerTS int64
}

// DecodeContent unmarshals the event content into v.
func (e *StateEvent) DecodeContent(v any) error {
	return json.Unmarshal(e.Content, v)
}

// DeepCopy creates a deep copy of the given StateEvent.
func (e *StateEvent) DeepCopy() *StateEvent {
	content := make(json.RawMessage, len(e.Content))
	copy(content, e.Content)
	return &StateEvent{
		RoomID:         e.RoomID,
		Type:           e.Type,
		StateKey:       e.StateKey,
		Sender:         e.Sender,
		Content:        content,
		OriginServerTS: e.OriginServerTS,
	}
}
