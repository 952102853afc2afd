package groupcall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"groupcall/broker"
	"groupcall/client"
	"groupcall/database/memory"
	"groupcall/media"
	"groupcall/types"
	"groupcall/types/wire"
)

const testCallID = types.GroupCallID("G")

// testEnv wires a GroupCall against the in-memory hub with a fake
// single-call layer.
type testEnv struct {
	t        *testing.T
	hub      *client.LocalHub
	client   *client.LocalClient
	bus      *broker.Broker
	factory  *fakeFactory
	incoming *fakeIncoming
	media    *media.StaticHandler
	g        *GroupCall
}

type envOpts struct {
	user     types.UserID
	device   types.DeviceID
	ptt      bool
	video    bool
	media    media.Handler
	config   Config
	metadata *opLog
}

func newTestEnv(t *testing.T, opts envOpts) *testEnv {
	t.Helper()
	if opts.user == "" {
		opts.user = "@a:h"
	}
	if opts.device == "" {
		opts.device = "DA"
	}

	hub := client.NewLocalHub(memory.New())
	hub.SetMembership("!room", opts.user, client.MembershipJoin)
	c := hub.NewClient(opts.user, opts.device)

	factory := &fakeFactory{roomID: "!room", log: opts.metadata}
	incoming := &fakeIncoming{}
	bus := broker.New()
	handler := opts.media
	var static *media.StaticHandler
	if handler == nil {
		static = media.NewStaticHandler(true, true)
		handler = static
	}

	callType := wire.CallTypeVoice
	if opts.video {
		callType = wire.CallTypeVideo
	}

	g, err := New(Opts{
		Client:   c,
		Room:     c.Room("!room"),
		Factory:  factory.factory(),
		Incoming: incoming,
		Media:    handler,
		Broker:   bus,
		ID:       testCallID,
		Type:     callType,
		Intent:   wire.IntentRoom,
		PTT:      opts.ptt,
		Config:   opts.config,
	})
	require.NoError(t, err)

	return &testEnv{
		t:        t,
		hub:      hub,
		client:   c,
		bus:      bus,
		factory:  factory,
		incoming: incoming,
		media:    static,
		g:        g,
	}
}

func (e *testEnv) cleanup() {
	_ = e.g.Terminate(context.Background(), false)
}

// advertise writes a member-state event declaring the given devices of user
// for the test call.
func (e *testEnv) advertise(user types.UserID, devices ...wire.DeviceAdvertisement) {
	e.t.Helper()
	e.hub.SetMembership("!room", user, client.MembershipJoin)
	sender := e.hub.NewClient(user, "SENDER")
	entry := wire.MemberCallEntry{CallID: string(testCallID)}
	require.NoError(e.t, entry.SetDevices(devices))
	content := wire.MemberContent{Calls: []wire.MemberCallEntry{entry}}
	require.NoError(e.t, sender.SendStateEvent(context.Background(), "!room",
		types.EventGroupCallMember, content, string(user), client.SendStateOpts{}))
}

// advert builds a valid device advertisement expiring in an hour.
func advert(device, session string, purposes ...wire.FeedPurpose) wire.DeviceAdvertisement {
	if len(purposes) == 0 {
		purposes = []wire.FeedPurpose{wire.PurposeUsermedia}
	}
	feeds := make([]wire.FeedEntry, 0, len(purposes))
	for _, p := range purposes {
		feeds = append(feeds, wire.FeedEntry{Purpose: p})
	}
	return wire.DeviceAdvertisement{
		DeviceID:  device,
		SessionID: session,
		ExpiresTS: time.Now().Add(time.Hour).UnixMilli(),
		Feeds:     feeds,
	}
}

func (e *testEnv) enter() {
	e.t.Helper()
	require.NoError(e.t, e.g.Enter(context.Background()))
}

// countEvents subscribes a counter to a topic.
func (e *testEnv) countEvents(topic broker.Topic) *int {
	n := new(int)
	e.bus.Subscribe(topic, func(any) { *n++ })
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached")
}
