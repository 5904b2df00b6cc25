// Package matrix is the home-network collaborator: a thin client for
// the Matrix client-server API covering exactly the operations the
// bridge needs (ghost registration, room creation, invites, joins,
// message sends), plus the per-ghost Intent session wrapper.
package matrix

import "context"

// State event types published on bridged rooms. The half-shot
// namespace is the legacy/compat variant kept for interoperability
// with clients that predate the standardized m.bridge event.
const (
	EventTypeBridge         = "m.bridge"
	EventTypeHalfShotBridge = "uk.half-shot.bridge"
)

// Message msgtypes the bridge understands.
const (
	MsgText   = "m.text"
	MsgNotice = "m.notice"
)

// FormatHTML is the only rich-text format Matrix defines for messages.
const FormatHTML = "org.matrix.custom.html"

// StateEvent is one initial-state entry attached at room creation.
type StateEvent struct {
	Type     string         `json:"type"`
	StateKey string         `json:"state_key"`
	Content  map[string]any `json:"content"`
}

// CreateRoomRequest carries the room-creation parameters the bridge
// uses. Visibility is always private; bridged rooms are invite-only.
type CreateRoomRequest struct {
	Name         string       `json:"name,omitempty"`
	InitialState []StateEvent `json:"initial_state,omitempty"`
}

// MessageContent is the m.room.message event content. FormattedBody is
// set only when markup conversion succeeded.
type MessageContent struct {
	MsgType       string `json:"msgtype"`
	Body          string `json:"body"`
	Format        string `json:"format,omitempty"`
	FormattedBody string `json:"formatted_body,omitempty"`
}

// Credentials is the session material returned by ghost registration.
type Credentials struct {
	UserID      string
	AccessToken string
	BaseURL     string
}

// Client is the homeserver operations surface consumed by the service
// layer. Implementations must be safe for concurrent use.
type Client interface {
	// RegisterUser provisions an account with the given localpart via the
	// appservice registration flow and returns its session credentials.
	RegisterUser(ctx context.Context, localpart string) (Credentials, error)

	// SetDisplayName updates the profile display name of the session owner.
	SetDisplayName(ctx context.Context, accessToken, userID, displayName string) error

	// CreateRoom creates a room on behalf of the session owner and
	// returns the new room ID.
	CreateRoom(ctx context.Context, accessToken string, req CreateRoomRequest) (string, error)

	// InviteUser invites userID into roomID. extraContent is merged into
	// the invite payload (e.g. an auto-accept hint).
	InviteUser(ctx context.Context, accessToken, roomID, userID string, extraContent map[string]any) error

	// JoinRoom joins the session owner into roomID.
	JoinRoom(ctx context.Context, accessToken, roomID string) error

	// SendMessage sends an m.room.message event as the session owner and
	// returns the event ID.
	SendMessage(ctx context.Context, accessToken, roomID string, content MessageContent) (string, error)
}

// Intent binds a Client to one session (the appservice bot or a ghost
// puppet), mirroring how every homeserver call is made "as" somebody.
type Intent struct {
	Client      Client
	UserID      string
	AccessToken string
}

// CreateRoom creates a room as the intent owner.
func (i *Intent) CreateRoom(ctx context.Context, req CreateRoomRequest) (string, error) {
	return i.Client.CreateRoom(ctx, i.AccessToken, req)
}

// InviteUser invites userID into roomID as the intent owner.
func (i *Intent) InviteUser(ctx context.Context, roomID, userID string, extraContent map[string]any) error {
	return i.Client.InviteUser(ctx, i.AccessToken, roomID, userID, extraContent)
}

// JoinRoom joins the intent owner into roomID.
func (i *Intent) JoinRoom(ctx context.Context, roomID string) error {
	return i.Client.JoinRoom(ctx, i.AccessToken, roomID)
}

// SendMessage sends a message event as the intent owner.
func (i *Intent) SendMessage(ctx context.Context, roomID string, content MessageContent) (string, error) {
	return i.Client.SendMessage(ctx, i.AccessToken, roomID, content)
}

// SetDisplayName updates the intent owner's display name.
func (i *Intent) SetDisplayName(ctx context.Context, displayName string) error {
	return i.Client.SetDisplayName(ctx, i.AccessToken, i.UserID, displayName)
}
