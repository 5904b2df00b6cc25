// Package services – PortalService (room registry).
//
// The portal is the central bridge entity: one record per bridged room,
// correlating the Wazo room UUID with the Matrix room once it exists.
// The service owns all portal rows exclusively (it is the only writer
// of the Matrix room ID) and hands out shared handles cached by both
// identifiers. Room creation is idempotent and serialized per portal.
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/domain"
	"github.com/tbourn/go-wazo-bridge/internal/format"
	"github.com/tbourn/go-wazo-bridge/internal/matrix"
	"github.com/tbourn/go-wazo-bridge/internal/repo"
	"github.com/tbourn/go-wazo-bridge/internal/wazo"
)

// PortalRepo defines the repository contract required by PortalService.
type PortalRepo interface {
	// CreatePortal inserts a portal row with no Matrix room assigned.
	CreatePortal(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error)

	// GetPortalByWazoUUID fetches a portal row, or repo.ErrNotFound.
	GetPortalByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Portal, error)

	// GetPortalByMXID fetches a portal row by Matrix room, or repo.ErrNotFound.
	GetPortalByMXID(ctx context.Context, db *gorm.DB, mxid string) (*domain.Portal, error)

	// SetPortalMXID assigns the Matrix room ID first-wins.
	SetPortalMXID(ctx context.Context, db *gorm.DB, wazoUUID, mxid string) error
}

// MessageRepo defines the audit-record contract required by the portal
// and webhook services.
type MessageRepo interface {
	// CreateMessage records one relayed message.
	CreateMessage(ctx context.Context, db *gorm.DB, m *domain.Message) error

	// GetMessageByWazoUUID fetches the relay record for a Wazo message,
	// or repo.ErrNotFound.
	GetMessageByWazoUUID(ctx context.Context, db *gorm.DB, wazoUUID string) (*domain.Message, error)
}

// Portal is the shared room handle returned by the service. The row is
// held privately; concurrent readers see the Matrix room ID only after
// it has been fully persisted.
type Portal struct {
	mu  sync.RWMutex
	row domain.Portal
}

// WazoUUID returns the Wazo room identifier of the portal.
func (p *Portal) WazoUUID() string {
	return p.row.WazoUUID
}

// MXID returns the Matrix room ID and whether it has been set yet.
func (p *Portal) MXID() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.row.MXID == nil {
		return "", false
	}
	return *p.row.MXID, true
}

// setMXID publishes the Matrix room ID on the handle. Called by the
// owning service only, after the store write succeeded.
func (p *Portal) setMXID(mxid string) {
	p.mu.Lock()
	p.row.MXID = &mxid
	p.mu.Unlock()
}

// PortalService manages room mappings and owns the idempotent Matrix
// room creation, the inbound relay, and the outbound relay boundary.
type PortalService struct {
	// DB is the GORM handle used for persistence.
	DB *gorm.DB
	// Repo is the portal repository used by this service.
	Repo PortalRepo
	// Messages records relayed messages for audit and dedup.
	Messages MessageRepo
	// Matrix is the homeserver client used for ghost sessions.
	Matrix matrix.Client
	// Wazo is the external-network client used by the outbound relay.
	Wazo wazo.Client
	// Bot is the appservice bot session; rooms are created through it.
	Bot *matrix.Intent
	// BotAvatarURL is published in the bridge-info state events.
	BotAvatarURL string

	// Log is the service logger.
	Log zerolog.Logger

	byUUID      *keyedCache[*Portal]
	byMXID      *keyedCache[*Portal]
	ensureGroup singleflight.Group
}

// NewPortalService constructs a PortalService.
func NewPortalService(db *gorm.DB, r PortalRepo, msgs MessageRepo, mx matrix.Client, wz wazo.Client, bot *matrix.Intent, botAvatarURL string, log zerolog.Logger) *PortalService {
	return &PortalService{
		DB:           db,
		Repo:         r,
		Messages:     msgs,
		Matrix:       mx,
		Wazo:         wz,
		Bot:          bot,
		BotAvatarURL: botAvatarURL,
		Log:          log,
		byUUID:       newKeyedCache[*Portal](),
		byMXID:       newKeyedCache[*Portal](),
	}
}

// GetOrCreate returns the shared portal handle for a Wazo room. On full
// miss with allowCreate, a mapping row with no Matrix room is inserted;
// without allowCreate the call fails with ErrNotFound. Concurrent
// callers for the same UUID receive the same handle; callers for
// different UUIDs proceed in parallel.
func (s *PortalService) GetOrCreate(ctx context.Context, wazoUUID string, allowCreate bool) (*Portal, error) {
	p, err := s.byUUID.getOrLoad(wazoUUID, func() (*Portal, error) {
		row, err := s.Repo.GetPortalByWazoUUID(ctx, s.DB, wazoUUID)
		if err == nil {
			return &Portal{row: *row}, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		if !allowCreate {
			return nil, ErrNotFound
		}
		row, err = s.Repo.CreatePortal(ctx, s.DB, wazoUUID)
		if err != nil {
			// Lost an insert race against another process: re-read the
			// now-present row.
			if row, rerr := s.Repo.GetPortalByWazoUUID(ctx, s.DB, wazoUUID); rerr == nil {
				return &Portal{row: *row}, nil
			}
			return nil, err
		}
		return &Portal{row: *row}, nil
	})
	if err != nil {
		return nil, err
	}
	if mxid, ok := p.MXID(); ok {
		s.byMXID.store(mxid, p)
	}
	return p, nil
}

// GetByMXID resolves the portal for a Matrix room ID. This path never
// creates; an unbridged room yields ErrNotFound.
func (s *PortalService) GetByMXID(ctx context.Context, mxid string) (*Portal, error) {
	p, err := s.byMXID.getOrLoad(mxid, func() (*Portal, error) {
		row, err := s.Repo.GetPortalByMXID(ctx, s.DB, mxid)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, err
		}
		return &Portal{row: *row}, nil
	})
	if err != nil {
		return nil, err
	}
	s.byUUID.store(p.WazoUUID(), p)
	return p, nil
}

// bridgeInfoStateKey derives the state key for the bridge-info events.
func (s *PortalService) bridgeInfoStateKey(p *Portal) string {
	return "wazo_" + p.WazoUUID()
}

// bridgeInfo builds the bridge-metadata content published on room
// creation, identical under both event-type namespaces.
func (s *PortalService) bridgeInfo(p *Portal) map[string]any {
	return map[string]any{
		"bridgebot": s.Bot.UserID,
		"creator":   s.Bot.UserID,
		"protocol": map[string]any{
			"id":          "wazo",
			"displayname": "Wazo",
			"avatar_url":  s.BotAvatarURL,
		},
		"channel": map[string]any{
			"id":          p.WazoUUID(),
			"displayname": p.WazoUUID(),
			"avatar_url":  s.BotAvatarURL,
		},
	}
}

// EnsureMatrixRoom makes sure the portal has a Matrix room, creating it
// on first need. The initiating ghost must be part of participants (the
// full invite list of ghost MXIDs); violating that is a caller contract
// error. Exactly one homeserver room-creation call happens per portal,
// also under concurrent invocation: later callers wait on the same
// flight and reuse the persisted room ID. The initiator's post-create
// join is best effort; the room stays usable when it fails.
func (s *PortalService) EnsureMatrixRoom(ctx context.Context, p *Portal, initiator *Puppet, participants []string) (string, error) {
	if initiator == nil {
		return "", fmt.Errorf("initiator ghost is not registered")
	}
	initiatorMXID, initiatorToken := initiator.Session()
	if initiatorMXID == "" {
		return "", fmt.Errorf("initiator ghost is not registered")
	}
	found := false
	for _, mxid := range participants {
		if mxid == initiatorMXID {
			found = true
			break
		}
	}
	if !found {
		return "", ErrInitiatorNotParticipant
	}

	if mxid, ok := p.MXID(); ok {
		return mxid, nil
	}

	v, err, _ := s.ensureGroup.Do(p.WazoUUID(), func() (any, error) {
		if mxid, ok := p.MXID(); ok {
			return mxid, nil
		}
		// Another process may have created the room; adopt its result
		// before spending a homeserver call.
		if row, err := s.Repo.GetPortalByWazoUUID(ctx, s.DB, p.WazoUUID()); err == nil && row.MXID != nil {
			p.setMXID(*row.MXID)
			s.byMXID.store(*row.MXID, p)
			return *row.MXID, nil
		}

		info := s.bridgeInfo(p)
		stateKey := s.bridgeInfoStateKey(p)
		roomID, err := s.Bot.CreateRoom(ctx, matrix.CreateRoomRequest{
			InitialState: []matrix.StateEvent{
				{Type: matrix.EventTypeBridge, StateKey: stateKey, Content: info},
				{Type: matrix.EventTypeHalfShotBridge, StateKey: stateKey, Content: info},
			},
		})
		if err != nil {
			return nil, &ExternalAPIError{Network: "matrix", Op: "create_room", Err: err}
		}

		if err := s.Repo.SetPortalMXID(ctx, s.DB, p.WazoUUID(), roomID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				// A concurrent process won the assignment; our freshly
				// created room is orphaned. Keep the winner.
				if row, rerr := s.Repo.GetPortalByWazoUUID(ctx, s.DB, p.WazoUUID()); rerr == nil && row.MXID != nil {
					s.Log.Warn().
						Str("wazo_uuid", p.WazoUUID()).
						Str("orphaned_room", roomID).
						Str("winner", *row.MXID).
						Msg("lost room-creation race, orphaning room")
					p.setMXID(*row.MXID)
					s.byMXID.store(*row.MXID, p)
					return *row.MXID, nil
				}
			}
			return nil, err
		}
		p.setMXID(roomID)
		s.byMXID.store(roomID, p)

		ghost := &matrix.Intent{Client: s.Matrix, UserID: initiatorMXID, AccessToken: initiatorToken}
		if err := ghost.JoinRoom(ctx, roomID); err != nil {
			s.Log.Warn().Err(err).
				Str("room_id", roomID).
				Str("ghost", initiatorMXID).
				Msg("initiator failed to join newly created room")
		}

		for _, mxid := range participants {
			var extra map[string]any
			if mxid == initiatorMXID {
				extra = map[string]any{"fi.mau.will_auto_accept": true}
			}
			if err := s.Bot.InviteUser(ctx, roomID, mxid, extra); err != nil {
				s.Log.Warn().Err(err).
					Str("room_id", roomID).
					Str("invitee", mxid).
					Msg("failed to invite participant")
			}
		}
		return roomID, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// RelayWazoMessage relays one inbound Wazo message into the portal's
// Matrix room through the sender's ghost session. The Matrix room must
// exist already (ErrRoomNotReady otherwise). Markdown conversion
// degrades to the plain-text body on failure and never fails the relay.
func (s *PortalService) RelayWazoMessage(ctx context.Context, p *Portal, puppet *Puppet, msg WazoMessage) (string, error) {
	roomID, ok := p.MXID()
	if !ok {
		return "", ErrRoomNotReady
	}

	content := matrix.MessageContent{MsgType: matrix.MsgText, Body: msg.Content}
	if html, err := format.RenderMarkdown(msg.Content); err != nil {
		s.Log.Warn().Err(err).Str("wazo_uuid", msg.UUID).Msg("markdown conversion failed, sending plain text")
	} else if html != "" {
		content.Format = matrix.FormatHTML
		content.FormattedBody = html
	}

	ghostMXID, ghostToken := puppet.Session()
	ghost := &matrix.Intent{Client: s.Matrix, UserID: ghostMXID, AccessToken: ghostToken}
	eventID, err := ghost.SendMessage(ctx, roomID, content)
	if err != nil {
		return "", &ExternalAPIError{Network: "matrix", Op: "send_message", Err: err}
	}

	ts := msg.CreatedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	record := &domain.Message{
		MXID:         eventID,
		MXRoom:       roomID,
		WazoUUID:     msg.UUID,
		WazoRoomUUID: msg.RoomUUID,
		Content:      msg.Content,
		Timestamp:    ts.UnixMilli(),
	}
	if err := s.Messages.CreateMessage(ctx, s.DB, record); err != nil {
		// The relay itself succeeded; losing the audit row costs dedup
		// for this one message, not correctness of the mapping layer.
		s.Log.Error().Err(err).Str("event_id", eventID).Msg("failed to record relayed message")
	}
	return eventID, nil
}

// HandleMatrixMessage is the outbound-relay boundary: it translates a
// Matrix message event into a Wazo chatd call, catching every failure.
// A failed outbound relay is logged with the triggering event ID and
// never crashes the event dispatch pipeline.
func (s *PortalService) HandleMatrixMessage(ctx context.Context, p *Portal, sender *domain.User, content MatrixMessageContent, eventID string) {
	if err := s.handleMatrixMessage(ctx, p, sender, content); err != nil {
		s.Log.Error().Err(err).
			Str("event_id", eventID).
			Str("wazo_room", p.WazoUUID()).
			Msg("failed to handle matrix message")
	}
}

func (s *PortalService) handleMatrixMessage(ctx context.Context, p *Portal, sender *domain.User, content MatrixMessageContent) error {
	if content.IsEdit() {
		return ErrEditsNotSupported
	}
	switch content.MsgType {
	case matrix.MsgText, matrix.MsgNotice:
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMessage, content.MsgType)
	}
	if sender == nil || sender.WazoUUID == nil {
		return fmt.Errorf("sender has no linked wazo identity")
	}
	if err := s.Wazo.PostMessage(ctx, *sender.WazoUUID, p.WazoUUID(), content.Body); err != nil {
		return &ExternalAPIError{Network: "wazo", Op: "post_message", Err: err}
	}
	return nil
}
