// Package services – WebhookService (webhook router).
//
// One inbound Wazo message event walks a fixed pipeline: dedup check,
// audience check, room resolution, sender ghost resolution, participant
// resolution, room materialization, relay. Failures are contained per
// event: a failed delivery is logged with its Wazo message UUID and
// never aborts processing of subsequent deliveries.
package services

import (
	"context"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-wazo-bridge/internal/repo"
)

// RouteResult is the terminal state of one routed webhook event.
type RouteResult string

const (
	// ResultRelayed: the message was delivered into the Matrix room.
	ResultRelayed RouteResult = "relayed"
	// ResultDropped: no participant maps to a known Matrix account, the
	// event was ignored without side effects.
	ResultDropped RouteResult = "dropped"
	// ResultDeduped: the Wazo message UUID was already relayed; the
	// redelivery was skipped.
	ResultDeduped RouteResult = "deduped"
	// ResultFailed: a pipeline step failed; the event is logged and not
	// retried.
	ResultFailed RouteResult = "failed"
)

// webhookEvents counts routed webhook events by terminal state.
var webhookEvents = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "bridge_webhook_events_total",
		Help: "Total number of routed Wazo webhook events by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(webhookEvents)
}

// WebhookService routes inbound Wazo message events into Matrix.
type WebhookService struct {
	// DB is the GORM handle used for dedup lookups.
	DB *gorm.DB
	// Portals is the room registry.
	Portals *PortalService
	// Puppets is the ghost registry.
	Puppets *PuppetService
	// Users is the local user registry.
	Users *UserService
	// Messages answers "was this Wazo message already relayed?".
	Messages MessageRepo

	// Log is the service logger.
	Log zerolog.Logger
}

// NewWebhookService constructs a WebhookService.
func NewWebhookService(db *gorm.DB, portals *PortalService, puppets *PuppetService, users *UserService, msgs MessageRepo, log zerolog.Logger) *WebhookService {
	return &WebhookService{
		DB:       db,
		Portals:  portals,
		Puppets:  puppets,
		Users:    users,
		Messages: msgs,
		Log:      log,
	}
}

// HandleMessage routes one inbound message event to its terminal state.
// The returned error is diagnostic only: the webhook endpoint
// acknowledges the delivery regardless, so the external network does
// not redeliver a permanently failing event forever.
func (s *WebhookService) HandleMessage(ctx context.Context, msg WazoMessage) (RouteResult, error) {
	result, err := s.route(ctx, msg)
	webhookEvents.WithLabelValues(string(result)).Inc()

	log := s.Log.With().
		Str("wazo_uuid", msg.UUID).
		Str("wazo_room", msg.RoomUUID).
		Str("sender", msg.SenderUUID).
		Logger()
	switch {
	case err != nil:
		log.Error().Err(err).Str("result", string(result)).Msg("webhook event failed")
	case result == ResultRelayed:
		log.Info().Msg("webhook event relayed")
	default:
		log.Debug().Str("result", string(result)).Msg("webhook event not relayed")
	}
	return result, err
}

func (s *WebhookService) route(ctx context.Context, msg WazoMessage) (RouteResult, error) {
	// At-least-once tolerance: a message UUID with an existing relay
	// record is a redelivery.
	if msg.UUID != "" {
		if _, err := s.Messages.GetMessageByWazoUUID(ctx, s.DB, msg.UUID); err == nil {
			return ResultDeduped, nil
		} else if !errors.Is(err, repo.ErrNotFound) {
			return ResultFailed, err
		}
	}

	// Audience check before any write: resolution by Wazo UUID never
	// creates, so an event with no known Matrix participant is dropped
	// with zero side effects.
	known := make(map[string]bool, len(msg.Participants))
	for _, participant := range msg.Participants {
		u, err := s.Users.GetByWazoUUID(ctx, participant)
		if err != nil {
			return ResultFailed, err
		}
		if u != nil {
			known[participant] = true
		}
	}
	if len(known) == 0 {
		return ResultDropped, nil
	}

	portal, err := s.Portals.GetOrCreate(ctx, msg.RoomUUID, true)
	if err != nil {
		return ResultFailed, err
	}

	sender, err := s.Puppets.GetOrCreate(ctx, msg.SenderUUID)
	if err != nil {
		return ResultFailed, err
	}
	if err := s.Puppets.SyncNames(ctx, sender, msg.Alias); err != nil {
		s.Log.Warn().Err(err).Str("sender", msg.SenderUUID).Msg("failed to sync ghost names")
	}
	if err := s.Puppets.EnsureRegistered(ctx, sender); err != nil {
		return ResultFailed, err
	}

	// Materialize a ghost for every participant; they are the invite
	// list when the room has to be created.
	ghosts := make([]*Puppet, 0, len(msg.Participants))
	for _, participant := range msg.Participants {
		g, err := s.Puppets.GetOrCreate(ctx, participant)
		if err != nil {
			return ResultFailed, err
		}
		ghosts = append(ghosts, g)
	}

	if _, ok := portal.MXID(); !ok {
		var initiator *Puppet
		for _, g := range ghosts {
			if known[g.WazoUUID()] {
				initiator = g
				break
			}
		}
		if initiator == nil {
			return ResultFailed, ErrNoAdminParticipant
		}
		participants := make([]string, 0, len(ghosts))
		for _, g := range ghosts {
			if err := s.Puppets.EnsureRegistered(ctx, g); err != nil {
				return ResultFailed, err
			}
			mxid, _ := g.Session()
			participants = append(participants, mxid)
		}
		if _, err := s.Portals.EnsureMatrixRoom(ctx, portal, initiator, participants); err != nil {
			return ResultFailed, err
		}
	}

	if _, err := s.Portals.RelayWazoMessage(ctx, portal, sender, msg); err != nil {
		return ResultFailed, err
	}
	return ResultRelayed, nil
}
