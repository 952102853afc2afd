// Package wire provides the room-state schemas read and written by the
// coordinator. Field names are wire-visible and must be preserved verbatim.
package wire

import (
	"encoding/json"
	"time"
)

// FeedPurpose declares what a feed carries.
type FeedPurpose string

// Feed purposes.
const (
	PurposeUsermedia   FeedPurpose = "m.usermedia"
	PurposeScreenshare FeedPurpose = "m.screenshare"
)

// CallType is the media type of a group call.
type CallType string

// CallIntent is the declared intent of a group call.
type CallIntent string

// Group call types and intents.
const (
	CallTypeVoice CallType = "m.voice"
	CallTypeVideo CallType = "m.video"

	IntentRing   CallIntent = "m.ring"
	IntentPrompt CallIntent = "m.prompt"
	IntentRoom   CallIntent = "m.room"
)

// TerminatedCallEnded is the value written to "m.terminated" when a group
// call is ended for everyone.
const TerminatedCallEnded = "call_ended"

// FeedEntry is one advertised feed of a device.
type FeedEntry struct {
	Purpose FeedPurpose `json:"purpose"`
}

// DeviceAdvertisement is the per-device record a participant writes into
// room state declaring its presence and feeds.
type DeviceAdvertisement struct {
	DeviceID  string      `json:"device_id"`
	SessionID string      `json:"session_id"`
	ExpiresTS int64       `json:"expires_ts"`
	Feeds     []FeedEntry `json:"feeds"`
}

// Valid reports whether the advertisement is structurally complete and not
// yet expired at now.
func (d *DeviceAdvertisement) Valid(now time.Time) bool {
	return d.DeviceID != "" &&
		d.SessionID != "" &&
		d.ExpiresTS > now.UnixMilli() &&
		d.Feeds != nil
}

// MemberCallEntry is one group call's entry in a member-state event. Devices
// are kept raw so a malformed device cannot poison the surrounding document;
// ValidDevices decodes and filters them one by one.
type MemberCallEntry struct {
	CallID  string            `json:"m.call_id"`
	Foci    []string          `json:"m.foci,omitempty"`
	Devices []json.RawMessage `json:"m.devices"`
}

// ValidDevices decodes each raw device, discarding entries that fail to
// decode, are structurally incomplete, or have expired.
func (e *MemberCallEntry) ValidDevices(now time.Time) []DeviceAdvertisement {
	out := make([]DeviceAdvertisement, 0, len(e.Devices))
	for _, raw := range e.Devices {
		var d DeviceAdvertisement
		if err := json.Unmarshal(raw, &d); err != nil {
			continue
		}
		if !d.Valid(now) {
			continue
		}
		out = append(out, d)
	}
	return out
}

// SetDevices replaces the entry's device list.
func (e *MemberCallEntry) SetDevices(devices []DeviceAdvertisement) error {
	raw := make([]json.RawMessage, 0, len(devices))
	for _, d := range devices {
		b, err := json.Marshal(d)
		if err != nil {
			return err
		}
		raw = append(raw, b)
	}
	e.Devices = raw
	return nil
}

// MemberContent is the content of a group-call member-state event. It may
// carry entries for several group calls; the coordinator touches only the
// entry whose call id matches its own and preserves the rest verbatim.
type MemberContent struct {
	Calls []MemberCallEntry `json:"m.calls"`
}

// DataChannelOptions mirrors the negotiated data-channel configuration of a
// group call.
type DataChannelOptions struct {
	Ordered           *bool   `json:"ordered,omitempty"`
	MaxPacketLifeTime *uint16 `json:"maxPacketLifeTime,omitempty"`
	MaxRetransmits    *uint16 `json:"maxRetransmits,omitempty"`
	Protocol          string  `json:"protocol,omitempty"`
}

// GroupCallContent is the content of a group-call state event. The state key
// is the group call id.
type GroupCallContent struct {
	Intent              CallIntent          `json:"m.intent"`
	Type                CallType            `json:"m.type"`
	PTT                 bool                `json:"io.element.ptt,omitempty"`
	DataChannelsEnabled bool                `json:"dataChannelsEnabled,omitempty"`
	DataChannelOptions  *DataChannelOptions `json:"dataChannelOptions,omitempty"`
	Terminated          string              `json:"m.terminated,omitempty"`
}
