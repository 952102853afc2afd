package signal

import (
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"groupcall/client"
	"groupcall/database"
	"groupcall/types"
)

// Bridge connects a local hub to a relay: local state event writes are
// forwarded to the relay, relayed events are applied to the hub.
type Bridge struct {
	hub    *client.LocalHub
	roomID types.RoomID

	writeMu sync.Mutex
	ws      *websocket.Conn
	done    chan struct{}
}

// Dial connects to the relay at addr (host:port), joins roomID and starts
// bridging both directions.
func Dial(addr string, roomID types.RoomID, hub *client.LocalHub) (*Bridge, error) {
	u := url.URL{Scheme: "ws", Host: addr, Path: "/"}
	ws, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay: %w", err)
	}

	b := &Bridge{
		hub:    hub,
		roomID: roomID,
		ws:     ws,
		done:   make(chan struct{}),
	}
	if err := b.writeJSON(Frame{Op: OpJoin, RoomID: string(roomID)}); err != nil {
		_ = ws.Close()
		return nil, fmt.Errorf("failed to join room: %w", err)
	}

	hub.OnStateEvent(b.forward)
	go b.readLoop()
	return b, nil
}

// Close disconnects the bridge.
func (b *Bridge) Close() error {
	select {
	case <-b.done:
		return nil
	default:
		close(b.done)
	}
	return b.ws.Close()
}

// forward ships one locally written state event to the relay.
func (b *Bridge) forward(event *database.StateEvent) {
	if types.RoomID(event.RoomID) != b.roomID {
		return
	}
	frame := Frame{Op: OpEvent, RoomID: event.RoomID, Event: FromStateEvent(event)}
	if err := b.writeJSON(frame); err != nil {
		log.Error().Str("module", "signal").Err(err).Msg("failed to forward state event")
	}
}

// readLoop applies relayed events to the hub until the connection ends.
func (b *Bridge) readLoop() {
	for {
		var frame Frame
		if err := b.ws.ReadJSON(&frame); err != nil {
			select {
			case <-b.done:
			default:
				log.Debug().Str("module", "signal").Err(err).Msg("bridge read ended")
			}
			return
		}
		if frame.Op != OpEvent || frame.Event == nil {
			continue
		}
		if err := b.hub.Apply(frame.Event.ToStateEvent(string(b.roomID))); err != nil {
			log.Error().Str("module", "signal").Err(err).Msg("failed to apply relayed event")
		}
	}
}

func (b *Bridge) writeJSON(v any) error {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	return b.ws.WriteJSON(v)
}
