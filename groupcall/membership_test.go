package groupcall

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"groupcall/client"
	"groupcall/database"
	"groupcall/types"
	"groupcall/types/wire"
)

// readMemberContent decodes the local user's member-state event.
func (e *testEnv) readMemberContent(user types.UserID) wire.MemberContent {
	e.t.Helper()
	event := e.client.Room("!room").StateEvent(types.EventGroupCallMember, string(user))
	require.NotNil(e.t, event)
	var content wire.MemberContent
	require.NoError(e.t, event.DecodeContent(&content))
	return content
}

func TestPublishLocalDeviceOnEnter(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()

	e.enter()
	after := time.Now()

	content := e.readMemberContent("@a:h")
	require.Len(t, content.Calls, 1)
	assert.Equal(t, string(testCallID), content.Calls[0].CallID)

	devices := content.Calls[0].ValidDevices(time.Now())
	require.Len(t, devices, 1)
	assert.Equal(t, "DA", devices[0].DeviceID)
	assert.Equal(t, string(e.client.SessionID()), devices[0].SessionID)
	require.Len(t, devices[0].Feeds, 1)
	assert.Equal(t, wire.PurposeUsermedia, devices[0].Feeds[0].Purpose)

	// expires_ts - now within (DEVICE_TIMEOUT - epsilon, DEVICE_TIMEOUT].
	remaining := devices[0].ExpiresTS - after.UnixMilli()
	assert.LessOrEqual(t, remaining, DefaultDeviceTimeout.Milliseconds())
	assert.Greater(t, remaining, (DefaultDeviceTimeout - time.Minute).Milliseconds())
}

func TestPublishReplacesOwnDeviceOnly(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()

	// A sibling device of the same user is already advertised.
	e.advertise("@a:h", advert("DA", "stale"), advert("D2", "sibling"))
	e.enter()

	devices := e.readMemberContent("@a:h").Calls[0].ValidDevices(time.Now())
	require.Len(t, devices, 2)
	byID := map[string]wire.DeviceAdvertisement{}
	for _, d := range devices {
		byID[d.DeviceID] = d
	}
	assert.Equal(t, "sibling", byID["D2"].SessionID)
	assert.Equal(t, string(e.client.SessionID()), byID["DA"].SessionID)
}

func TestPublishPreservesForeignCallEntries(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()

	// Our user also participates in another group call H.
	other := wire.MemberCallEntry{CallID: "H", Foci: []string{"focus"}}
	require.NoError(t, other.SetDevices([]wire.DeviceAdvertisement{advert("DA", "sH")}))
	content := wire.MemberContent{Calls: []wire.MemberCallEntry{other}}
	require.NoError(t, e.client.SendStateEvent(context.Background(), "!room",
		types.EventGroupCallMember, content, "@a:h", client.SendStateOpts{}))

	e.enter()

	got := e.readMemberContent("@a:h")
	require.Len(t, got.Calls, 2)
	byCall := map[string]wire.MemberCallEntry{}
	for _, entry := range got.Calls {
		byCall[entry.CallID] = entry
	}
	require.Contains(t, byCall, "H")
	assert.Equal(t, []string{"focus"}, byCall["H"].Foci)
	hDevices := byCall["H"].ValidDevices(time.Now())
	require.Len(t, hDevices, 1)
	assert.Equal(t, "sH", hDevices[0].SessionID)
}

func TestLeaveRemovesAdvertisement(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.enter()

	e.g.Leave(context.Background())

	content := e.readMemberContent("@a:h")
	for _, entry := range content.Calls {
		if entry.CallID == string(testCallID) {
			assert.Empty(t, entry.ValidDevices(time.Now()))
		}
	}
}

func TestCleanMemberStateDropsUnknownDevices(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.enter()

	// An advertisement for a device the identity service does not know.
	ghost := advert("GHOST", "sG")
	mine := e.readMemberContent("@a:h").Calls[0].ValidDevices(time.Now())[0]
	entry := wire.MemberCallEntry{CallID: string(testCallID)}
	require.NoError(t, entry.SetDevices([]wire.DeviceAdvertisement{mine, ghost}))
	require.NoError(t, e.client.SendStateEvent(context.Background(), "!room",
		types.EventGroupCallMember, wire.MemberContent{Calls: []wire.MemberCallEntry{entry}}, "@a:h", client.SendStateOpts{}))

	require.NoError(t, e.g.CleanMemberState(context.Background()))

	devices := e.readMemberContent("@a:h").Calls[0].ValidDevices(time.Now())
	require.Len(t, devices, 1)
	assert.Equal(t, "DA", devices[0].DeviceID)
}

func TestCleanMemberStateDropsOwnDeviceWhenNotEntered(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()

	e.advertise("@a:h", advert("DA", "stale"))
	// advertise() used client device "SENDER"; DA is already registered by
	// newTestEnv, so only the entered check decides.
	require.NoError(t, e.g.CleanMemberState(context.Background()))

	content := e.readMemberContent("@a:h")
	for _, entry := range content.Calls {
		if entry.CallID == string(testCallID) {
			assert.Empty(t, entry.ValidDevices(time.Now()))
		}
	}
}

func TestCleanMemberStateIsNoopWhenClean(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.enter()

	writes := 0
	e.hub.OnStateEvent(func(*database.StateEvent) { writes++ })

	require.NoError(t, e.g.CleanMemberState(context.Background()))

	assert.Zero(t, writes, "a clean member state must not be rewritten")
}

func TestUpdateMemberStateRepublishes(t *testing.T) {
	e := newTestEnv(t, envOpts{})
	defer e.cleanup()
	e.enter()

	writes := 0
	e.hub.OnStateEvent(func(*database.StateEvent) { writes++ })

	require.NoError(t, e.g.UpdateMemberState(context.Background()))

	assert.Equal(t, 1, writes)
	devices := e.readMemberContent("@a:h").Calls[0].ValidDevices(time.Now())
	require.Len(t, devices, 1)
	assert.Equal(t, string(e.client.SessionID()), devices[0].SessionID)
}
