// Package database provides an interface for room state storage.
package database

import (
	"errors"
)

var (
	// ErrEventNotFound is returned when no state event matches the query.
	ErrEventNotFound = errors.New("state event not found")
)

// Database is an interface for room state storage. It stores the current
// state of each room: at most one event per (room, type, state key).
type Database interface {
	UpsertStateEvent(event *StateEvent) error
	FindStateEvent(roomID, eventType, stateKey string) (*StateEvent, error)
	FindStateEvents(roomID, eventType string) ([]*StateEvent, error)
}
