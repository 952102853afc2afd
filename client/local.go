package client

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"groupcall/database"
	"groupcall/types"
)

// LocalHub is an in-memory homeserver-less client backend: state events go
// straight into the store and room-update listeners fire synchronously.
// Several LocalClients can share one hub, which makes a whole group call
// runnable inside a single process.
type LocalHub struct {
	db database.Database

	mu         sync.Mutex
	members    map[types.RoomID]map[types.UserID]Membership
	devices    map[types.UserID][]types.DeviceID
	updateSubs map[types.RoomID]map[int]func()
	nextSubID  int
	onEvent    []func(*database.StateEvent)
}

// NewLocalHub creates a hub over the given store.
func NewLocalHub(db database.Database) *LocalHub {
	return &LocalHub{
		db:         db,
		members:    make(map[types.RoomID]map[types.UserID]Membership),
		devices:    make(map[types.UserID][]types.DeviceID),
		updateSubs: make(map[types.RoomID]map[int]func()),
	}
}

// SetMembership records a user's membership in a room and notifies the
// room's update listeners.
func (h *LocalHub) SetMembership(roomID types.RoomID, userID types.UserID, membership Membership) {
	h.mu.Lock()
	if h.members[roomID] == nil {
		h.members[roomID] = make(map[types.UserID]Membership)
	}
	h.members[roomID][userID] = membership
	h.mu.Unlock()
	h.notifyRoom(roomID)
}

// NewClient registers a device for userID and returns its client. The
// session id is regenerated per call, like a process restart would.
func (h *LocalHub) NewClient(userID types.UserID, deviceID types.DeviceID) *LocalClient {
	h.mu.Lock()
	h.devices[userID] = append(h.devices[userID], deviceID)
	h.mu.Unlock()
	return &LocalClient{
		hub:       h,
		userID:    userID,
		deviceID:  deviceID,
		sessionID: types.SessionID(uuid.NewString()),
	}
}

// Apply upserts an externally received state event and notifies the room.
// Unlike a local send it does not run the outbound hooks, so a sync bridge
// cannot echo events back to itself.
func (h *LocalHub) Apply(event *database.StateEvent) error {
	if err := h.db.UpsertStateEvent(event); err != nil {
		return fmt.Errorf("apply state event: %w", err)
	}
	h.notifyRoom(types.RoomID(event.RoomID))
	return nil
}

// OnStateEvent registers a hook invoked for every locally sent state event.
// The sync bridge uses it to forward writes to the relay.
func (h *LocalHub) OnStateEvent(fn func(*database.StateEvent)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.onEvent = append(h.onEvent, fn)
}

func (h *LocalHub) send(event *database.StateEvent) error {
	if err := h.db.UpsertStateEvent(event); err != nil {
		return fmt.Errorf("send state event: %w", err)
	}
	h.mu.Lock()
	hooks := make([]func(*database.StateEvent), len(h.onEvent))
	copy(hooks, h.onEvent)
	h.mu.Unlock()
	for _, fn := range hooks {
		fn(event)
	}
	h.notifyRoom(types.RoomID(event.RoomID))
	return nil
}

func (h *LocalHub) notifyRoom(roomID types.RoomID) {
	h.mu.Lock()
	subs := make([]func(), 0, len(h.updateSubs[roomID]))
	for _, fn := range h.updateSubs[roomID] {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (h *LocalHub) subscribe(roomID types.RoomID, fn func()) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.updateSubs[roomID] == nil {
		h.updateSubs[roomID] = make(map[int]func())
	}
	id := h.nextSubID
	h.nextSubID++
	h.updateSubs[roomID][id] = fn
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.updateSubs[roomID], id)
	}
}

// LocalClient is one device's client on a LocalHub.
type LocalClient struct {
	hub       *LocalHub
	userID    types.UserID
	deviceID  types.DeviceID
	sessionID types.SessionID
}

// UserID returns the client's user id.
func (c *LocalClient) UserID() types.UserID { return c.userID }

// DeviceID returns the client's device id.
func (c *LocalClient) DeviceID() types.DeviceID { return c.deviceID }

// SessionID returns this run's session id.
func (c *LocalClient) SessionID() types.SessionID { return c.sessionID }

// Room returns the client's view of roomID.
func (c *LocalClient) Room(roomID types.RoomID) Room {
	return &localRoom{hub: c.hub, roomID: roomID}
}

// SendStateEvent writes a state event into the room.
func (c *LocalClient) SendStateEvent(_ context.Context, roomID types.RoomID, eventType string, content any, stateKey string, _ SendStateOpts) error {
	raw, err := json.Marshal(content)
	if err != nil {
		return fmt.Errorf("marshal state event content: %w", err)
	}
	return c.hub.send(&database.StateEvent{
		RoomID:         string(roomID),
		Type:           eventType,
		StateKey:       stateKey,
		Sender:         string(c.userID),
		Content:        raw,
		OriginServerTS: time.Now().UnixMilli(),
	})
}

// Devices returns the user's devices known to the hub.
func (c *LocalClient) Devices(_ context.Context) ([]types.DeviceID, error) {
	c.hub.mu.Lock()
	defer c.hub.mu.Unlock()
	out := make([]types.DeviceID, len(c.hub.devices[c.userID]))
	copy(out, c.hub.devices[c.userID])
	return out, nil
}

// localRoom is a LocalHub-backed Room.
type localRoom struct {
	hub    *LocalHub
	roomID types.RoomID
}

func (r *localRoom) ID() types.RoomID { return r.roomID }

func (r *localRoom) StateEvents(eventType string) []*database.StateEvent {
	events, err := r.hub.db.FindStateEvents(string(r.roomID), eventType)
	if err != nil {
		return nil
	}
	return events
}

func (r *localRoom) StateEvent(eventType, stateKey string) *database.StateEvent {
	event, err := r.hub.db.FindStateEvent(string(r.roomID), eventType, stateKey)
	if err != nil {
		return nil
	}
	return event
}

func (r *localRoom) Member(userID types.UserID) *Member {
	r.hub.mu.Lock()
	defer r.hub.mu.Unlock()
	membership, ok := r.hub.members[r.roomID][userID]
	if !ok {
		return nil
	}
	return &Member{UserID: userID, Membership: membership}
}

func (r *localRoom) OnUpdate(fn func()) func() {
	return r.hub.subscribe(r.roomID, fn)
}
