// Webhook HTTP handlers.
//
// This file exposes the inbound endpoint the Wazo platform delivers
// message events to:
//   - POST /webhooks/wazo/messages
//
// The handler is transport-thin: it validates the payload, hands the
// canonical message to the webhook service, and acknowledges the
// delivery. Deliveries are acknowledged even when routing fails, since
// the external network redelivers unacknowledged events indefinitely
// (at-least-once semantics are tolerated downstream via dedup).
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-wazo-bridge/internal/services"
)

//
// Service contracts (context-aware)
//

// WebhookService routes one inbound Wazo message event to its terminal
// state.
//
// Implementations should be safe for concurrent use and must honor the
// provided context for cancellation and timeouts.
type WebhookService interface {
	// HandleMessage routes one canonical message event.
	HandleMessage(ctx context.Context, msg services.WazoMessage) (services.RouteResult, error)
}

//
// Handler wiring
//

// Handlers groups the HTTP endpoints of the bridge.
type Handlers struct {
	webhookSvc WebhookService
}

// New constructs and returns a Handlers instance bound to the given services.
func New(webhookSvc WebhookService) *Handlers {
	return &Handlers{webhookSvc: webhookSvc}
}

//
// DTOs
//

// WebhookRoom identifies the Wazo room a message belongs to.
type WebhookRoom struct {
	// UUID is the stable Wazo room identifier.
	UUID string `json:"uuid" binding:"required"`
}

// WazoMessageEvent is the JSON payload chatd delivers for each message
// created on the Wazo side.
type WazoMessageEvent struct {
	// UUID is the Wazo message identifier, used for dedup.
	UUID string `json:"uuid" binding:"required"`
	// Content is the plain-text message body (may carry markdown).
	Content string `json:"content"`
	// Alias is the sender's display name at send time.
	Alias string `json:"alias"`
	// UserUUID is the Wazo identifier of the sender.
	UserUUID string `json:"user_uuid" binding:"required"`
	// TenantUUID scopes the event to a Wazo tenant (currently unfiltered).
	TenantUUID string `json:"tenant_uuid"`
	// WazoUUID identifies the originating Wazo stack.
	WazoUUID string `json:"wazo_uuid"`
	// CreatedAt is the RFC 3339 creation timestamp.
	CreatedAt string `json:"created_at"`
	// Room is the room the message was posted in.
	Room WebhookRoom `json:"room" binding:"required"`
	// Participants lists the Wazo UUIDs of everyone in the room.
	Participants []string `json:"participants"`
}

// WebhookAck is the acknowledgement body returned for every accepted
// delivery.
type WebhookAck struct {
	// Result is the terminal routing state (relayed|dropped|deduped|failed).
	Result string `json:"result"`
	// MessageUUID echoes the Wazo message identifier.
	MessageUUID string `json:"message_uuid"`
}

//
// Endpoints
//

// ReceiveWazoMessage handles POST /webhooks/wazo/messages.
//
// Malformed payloads are rejected with 400; every structurally valid
// delivery is acknowledged with 200 and the terminal routing result,
// including routing failures, so chatd does not redeliver forever.
func (h *Handlers) ReceiveWazoMessage(c *gin.Context) {
	var req WazoMessageEvent
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid webhook payload")
		return
	}

	msg := services.WazoMessage{
		UUID:         req.UUID,
		RoomUUID:     req.Room.UUID,
		SenderUUID:   req.UserUUID,
		Content:      req.Content,
		Alias:        req.Alias,
		Participants: req.Participants,
	}
	if req.CreatedAt != "" {
		if ts, err := time.Parse(time.RFC3339, req.CreatedAt); err == nil {
			msg.CreatedAt = ts
		}
	}

	// The routing result is diagnostic; the delivery itself succeeded.
	result, _ := h.webhookSvc.HandleMessage(c.Request.Context(), msg)
	ok(c, http.StatusOK, WebhookAck{Result: string(result), MessageUUID: req.UUID})
}
