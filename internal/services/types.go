// Package services – canonical event structures.
package services

import "time"

// WazoMessage is the canonical inbound message derived from one webhook
// delivery.
type WazoMessage struct {
	// UUID is the Wazo message identifier (dedup anchor).
	UUID string
	// RoomUUID is the Wazo room the message was posted in.
	RoomUUID string
	// SenderUUID is the Wazo user who sent the message.
	SenderUUID string
	// Content is the raw markdown body.
	Content string
	// Alias is the sender's display alias, when the payload carries one.
	Alias string
	// Participants lists the Wazo user UUIDs in the room.
	Participants []string
	// CreatedAt is the origin timestamp.
	CreatedAt time.Time
}

// MatrixMessageContent is the subset of an m.room.message event content
// the outbound relay inspects.
type MatrixMessageContent struct {
	// MsgType is the Matrix msgtype, e.g. "m.text".
	MsgType string
	// Body is the plain-text body.
	Body string
	// RelatesTo carries the edit relation when the event replaces an
	// earlier one.
	RelatesTo *RelatesTo
}

// RelatesTo is the m.relates_to relation of a message event.
type RelatesTo struct {
	RelType string
	EventID string
}

// IsEdit reports whether the content is a message edit (m.replace).
func (c MatrixMessageContent) IsEdit() bool {
	return c.RelatesTo != nil && c.RelatesTo.RelType == "m.replace"
}
