package memory

import (
	"fmt"
	"sort"

	"github.com/hashicorp/go-memdb"

	"groupcall/database"
)

// DB is a memory-backed room state store.
type DB struct {
	db *memdb.MemDB
}

// New creates a new memory-backed room state store.
func New() *DB {
	db, err := memdb.NewMemDB(schema)
	if err != nil {
		panic(err)
	}
	return &DB{
		db: db,
	}
}

// UpsertStateEvent inserts or replaces the state event for the event's
// (room, type, state key).
func (d *DB) UpsertStateEvent(event *database.StateEvent) error {
	txn := d.db.Txn(true)
	defer txn.Abort()
	existing, err := txn.First(tblStateEvents, idxStateKey, event.RoomID, event.Type, event.StateKey)
	if err != nil {
		return fmt.Errorf("find state event: %w", err)
	}
	if existing != nil {
		if err := txn.Delete(tblStateEvents, existing); err != nil {
			return fmt.Errorf("delete state event: %w", err)
		}
	}
	if err := txn.Insert(tblStateEvents, event.DeepCopy()); err != nil {
		return fmt.Errorf("insert state event: %w", err)
	}
	txn.Commit()
	return nil
}

// FindStateEvent finds the state event for (room, type, state key).
func (d *DB) FindStateEvent(roomID, eventType, stateKey string) (*database.StateEvent, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	raw, err := txn.First(tblStateEvents, idxStateKey, roomID, eventType, stateKey)
	if err != nil {
		return nil, fmt.Errorf("find state event: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%s/%s/%s: %w", roomID, eventType, stateKey, database.ErrEventNotFound)
	}
	return raw.(*database.StateEvent).DeepCopy(), nil
}

// FindStateEvents finds all state events of eventType in the room, ordered
// by state key.
func (d *DB) FindStateEvents(roomID, eventType string) ([]*database.StateEvent, error) {
	txn := d.db.Txn(false)
	defer txn.Abort()
	it, err := txn.Get(tblStateEvents, idxRoomType, roomID, eventType)
	if err != nil {
		return nil, fmt.Errorf("find state events: %w", err)
	}
	var events []*database.StateEvent
	for raw := it.Next(); raw != nil; raw = it.Next() {
		events = append(events, raw.(*database.StateEvent).DeepCopy())
	}
	sort.Slice(events, func(i, j int) bool {
		return events[i].StateKey < events[j].StateKey
	})
	return events, nil
}
