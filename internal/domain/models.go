// Package domain defines the persistence models of the bridge's entity
// directory: room mappings (portals), Matrix user links, ghost puppets,
// and relayed-message audit records. These types are mapped with GORM
// and form the data layer shared by the repository and service packages.
package domain

// Portal correlates one Wazo room with at most one Matrix room.
//
// A portal row is created on first reference to a Wazo room UUID, with
// MXID unset. MXID is written exactly once, when the Matrix room is
// first created, and is unique across portals from then on. Portal rows
// are never deleted for the lifetime of the bridge.
//
// Fields:
//   - WazoUUID: stable Wazo room identifier, primary key.
//   - MXID: Matrix room ID, nil until the room has been created.
type Portal struct {
	WazoUUID string  `json:"wazo_uuid" gorm:"column:wazo_uuid;type:TEXT;primaryKey"`
	MXID     *string `json:"mxid"      gorm:"column:mxid;type:TEXT;uniqueIndex:ux_portal_mxid"`
}

// TableName returns the database table name for Portal.
func (Portal) TableName() string { return "portals" }

// User links a real Matrix account to the Wazo identity that claims it.
//
// Rows are created when a Matrix account is first resolved against a
// Wazo participant; WazoUUID stays nil while no link is known. A Matrix
// account links to at most one Wazo identity at a time.
type User struct {
	MXID     string  `json:"mxid"      gorm:"column:mxid;type:TEXT;primaryKey"`
	WazoUUID *string `json:"wazo_uuid" gorm:"column:wazo_uuid;type:TEXT;index"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Puppet is the ghost account representing one Wazo user on the Matrix
// side. The puppet's Matrix localpart is a pure function of WazoUUID,
// so the reverse mapping never needs a table scan.
//
// Session fields (AccessToken, NextBatch, BaseURL) are populated once,
// on first registration with the homeserver, together with the
// IsRegistered flip. Name fields are refreshed opportunistically from
// webhook payloads.
type Puppet struct {
	WazoUUID     string `json:"wazo_uuid"     gorm:"column:wazo_uuid;type:TEXT;primaryKey"`
	FirstName    string `json:"first_name"    gorm:"column:first_name;type:TEXT"`
	LastName     string `json:"last_name"     gorm:"column:last_name;type:TEXT"`
	Username     string `json:"username"      gorm:"column:username;type:TEXT"`
	IsRegistered bool   `json:"is_registered" gorm:"column:is_registered;not null;default:false"`
	CustomMXID   string `json:"custom_mxid"   gorm:"column:custom_mxid;type:TEXT"`
	AccessToken  string `json:"-"             gorm:"column:access_token;type:TEXT"`
	NextBatch    string `json:"-"             gorm:"column:next_batch;type:TEXT"`
	BaseURL      string `json:"base_url"      gorm:"column:base_url;type:TEXT"`
}

// TableName returns the database table name for Puppet.
func (Puppet) TableName() string { return "puppets" }

// Message records one Wazo message relayed into a Matrix room. The row
// doubles as the dedup anchor for at-least-once webhook redeliveries:
// a delivery whose Wazo message UUID already has a row is skipped.
//
// Fields:
//   - MXID: Matrix event ID produced by the relay, primary key.
//   - MXRoom: Matrix room the event was sent into.
//   - WazoUUID / WazoRoomUUID: originating Wazo message and room, when known.
//   - Content: raw message body as received.
//   - Timestamp: origin timestamp, milliseconds since epoch.
type Message struct {
	MXID         string `json:"mxid"           gorm:"column:mxid;type:TEXT;primaryKey"`
	MXRoom       string `json:"mx_room"        gorm:"column:mx_room;type:TEXT;not null;index"`
	WazoUUID     string `json:"wazo_uuid"      gorm:"column:wazo_uuid;type:TEXT;index"`
	WazoRoomUUID string `json:"wazo_room_uuid" gorm:"column:wazo_room_uuid;type:TEXT"`
	Content      string `json:"content"        gorm:"column:content;type:TEXT"`
	Timestamp    int64  `json:"timestamp"      gorm:"column:timestamp;type:BIGINT"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }
