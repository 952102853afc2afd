// Package memory provides an in-memory room state store.
package memory

import "github.com/hashicorp/go-memdb"

const (
	tblStateEvents = "state_events"
)

const (
	idxStateKey = "id"
	idxRoomType = "room_type"
)

// schema is the schema of the memory database.
var schema = &memdb.DBSchema{
	Tables: map[string]*memdb.TableSchema{
		tblStateEvents: {
			Name: tblStateEvents,
			Indexes: map[string]*memdb.IndexSchema{
				idxStateKey: {
					Name:   idxStateKey,
					Unique: true,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "RoomID"},
							&memdb.StringFieldIndex{Field: "Type"},
							&memdb.StringFieldIndex{Field: "StateKey"},
						},
						AllowMissing: true,
					},
				},
				idxRoomType: {
					Name:   idxRoomType,
					Unique: false,
					Indexer: &memdb.CompoundIndex{
						Indexes: []memdb.Indexer{
							&memdb.StringFieldIndex{Field: "RoomID"},
							&memdb.StringFieldIndex{Field: "Type"},
						},
					},
				},
			},
		},
	},
}
