package signal

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"groupcall/database"
	"groupcall/types"
)

// Relay is the state-event relay server. It keeps the latest state per
// (room, type, state key), replays it to joining clients and fans every
// event out to the room's other clients.
type Relay struct {
	server *http.Server
	conf   Config
	db     database.Database

	mu    sync.Mutex
	rooms map[string]map[*relayConn]bool
}

// NewRelay creates a new Relay backed by db.
func NewRelay(config Config, db database.Database) *Relay {
	r := &Relay{
		conf:  config,
		db:    db,
		rooms: make(map[string]map[*relayConn]bool),
	}
	r.server = &http.Server{
		Addr:        fmt.Sprintf(":%d", config.Port),
		ReadTimeout: 2 * time.Second,
		Handler:     r,
	}
	return r
}

// Start runs the relay server.
func (r *Relay) Start() error {
	if r.conf.CertFile == "" || r.conf.KeyFile == "" {
		log.Info().Str("module", "signal").Int("port", r.conf.Port).Msg("starting relay without TLS")
		if err := r.server.ListenAndServe(); err != nil {
			return fmt.Errorf("failed to start relay: %w", err)
		}
		return nil
	}

	log.Info().Str("module", "signal").Int("port", r.conf.Port).Msg("starting relay with TLS")
	if err := r.server.ListenAndServeTLS(r.conf.CertFile, r.conf.KeyFile); err != nil {
		return fmt.Errorf("failed to start relay: %w", err)
	}
	return nil
}

// Stop closes the relay server.
func (r *Relay) Stop() error {
	return r.server.Close()
}

// ServeHTTP upgrades the request and serves the relay protocol on it.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(_ *http.Request) bool {
			return true
		},
	}
	ws, err := upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	conn := &relayConn{ws: ws}
	defer func() {
		r.detach(conn)
		if err := ws.Close(); err != nil {
			log.Debug().Str("module", "signal").Err(err).Msg("close failed")
		}
	}()
	if err := r.process(conn); err != nil {
		log.Debug().Str("module", "signal").Err(err).Msg("relay connection ended")
	}
}

// process runs one connection: expect a join, replay the room's state,
// then pump events.
func (r *Relay) process(conn *relayConn) error {
	var join Frame
	if err := conn.ws.ReadJSON(&join); err != nil {
		return fmt.Errorf("read join frame: %w", err)
	}
	if join.Op != OpJoin || join.RoomID == "" {
		return fmt.Errorf("expected join frame, got op %q", join.Op)
	}
	conn.roomID = join.RoomID
	r.attach(conn)

	if err := r.replay(conn); err != nil {
		return err
	}

	for {
		var frame Frame
		if err := conn.ws.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Op != OpEvent || frame.Event == nil {
			continue
		}
		event := frame.Event.ToStateEvent(conn.roomID)
		if err := r.db.UpsertStateEvent(event); err != nil {
			log.Error().Str("module", "signal").Err(err).Msg("failed to store relayed event")
			continue
		}
		r.broadcast(conn, &frame)
	}
}

// replay sends the room's current state to a newly joined connection.
func (r *Relay) replay(conn *relayConn) error {
	for _, eventType := range replayedTypes {
		events, err := r.db.FindStateEvents(conn.roomID, eventType)
		if err != nil {
			return fmt.Errorf("load room state: %w", err)
		}
		for _, event := range events {
			frame := &Frame{Op: OpEvent, RoomID: conn.roomID, Event: FromStateEvent(event)}
			if err := conn.writeJSON(frame); err != nil {
				return fmt.Errorf("replay state: %w", err)
			}
		}
	}
	return nil
}

func (r *Relay) attach(conn *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rooms[conn.roomID] == nil {
		r.rooms[conn.roomID] = make(map[*relayConn]bool)
	}
	r.rooms[conn.roomID][conn] = true
}

func (r *Relay) detach(conn *relayConn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms[conn.roomID], conn)
	if len(r.rooms[conn.roomID]) == 0 {
		delete(r.rooms, conn.roomID)
	}
}

func (r *Relay) broadcast(from *relayConn, frame *Frame) {
	r.mu.Lock()
	conns := make([]*relayConn, 0, len(r.rooms[from.roomID]))
	for conn := range r.rooms[from.roomID] {
		if conn != from {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range conns {
		if err := conn.writeJSON(frame); err != nil {
			log.Debug().Str("module", "signal").Err(err).Msg("broadcast write failed")
		}
	}
}

// relayConn pairs a websocket with its room and a write lock.
type relayConn struct {
	ws      *websocket.Conn
	roomID  string
	writeMu sync.Mutex
}

func (c *relayConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(v)
}

// replayedTypes are the state event types the relay replays on join.
var replayedTypes = []string{
	types.EventGroupCall,
	types.EventGroupCallMember,
}
