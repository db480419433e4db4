// Copyright 2024-2026 Aiku AI

package bridge

import (
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// EventKind identifies a supported Matrix message class in webhook payloads.
type EventKind string

const (
	KindText  EventKind = "text"
	KindImage EventKind = "image"
	KindAudio EventKind = "audio"
	KindFile  EventKind = "file"
)

// kindFromMsgType maps a Matrix msgtype to a payload kind. The second
// return is false for msgtypes the relay does not forward (notices, emotes,
// video, location).
func kindFromMsgType(msgType event.MessageType) (EventKind, bool) {
	switch msgType {
	case event.MsgText:
		return KindText, true
	case event.MsgImage:
		return KindImage, true
	case event.MsgAudio:
		return KindAudio, true
	case event.MsgFile:
		return KindFile, true
	default:
		return "", false
	}
}

// Payload is the canonical JSON document POSTed to the webhook. Message is
// only present on text events. URL and MediaID are only present on media
// kinds with a locatable content URI, and Data only when inline download is
// enabled for the kind and the download succeeded.
type Payload struct {
	Kind    EventKind  `json:"type"`
	Sender  id.UserID  `json:"sender"`
	Message string     `json:"message,omitempty"`
	EventID id.EventID `json:"event_id"`
	RoomID  id.RoomID  `json:"room_id"`
	URL     string     `json:"url,omitempty"`
	MediaID string     `json:"media_id,omitempty"`
	Data    string     `json:"data,omitempty"`
}
