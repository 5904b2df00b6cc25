// Package services implements the bridge's core logic: the portal,
// puppet, and user registries with their idempotent get-or-create
// protocols, and the webhook router that turns one inbound Wazo event
// into the correct sequence of Matrix side effects.
//
// This file centralizes service-level error values so they can be
// consistently returned by service methods and checked by callers with
// errors.Is/As. Translation into HTTP responses happens at the handler
// layer.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates a lookup was made without creation permission
	// and no mapping exists.
	ErrNotFound = errors.New("mapping not found")

	// ErrRoomNotReady is returned when an operation requires the Matrix
	// room to exist already (call EnsureMatrixRoom first). This is an
	// ordering error in the caller, not a transient condition.
	ErrRoomNotReady = errors.New("matrix room has not been created for this portal")

	// ErrEditsNotSupported is returned for Matrix message edits, which
	// cannot be bridged to Wazo.
	ErrEditsNotSupported = errors.New("message edits are not supported")

	// ErrUnsupportedMessage is returned for Matrix message types other
	// than plain text and notices.
	ErrUnsupportedMessage = errors.New("unsupported message type")

	// ErrNoAdminParticipant is returned when a Matrix room would have to
	// be created but no participant maps to a known Matrix account that
	// could act as creator/inviter. The event is dropped and not retried.
	ErrNoAdminParticipant = errors.New("no registered matrix user among participants")

	// ErrInitiatorNotParticipant flags a caller contract violation:
	// EnsureMatrixRoom requires the initiating ghost to be part of the
	// invite list.
	ErrInitiatorNotParticipant = errors.New("initiator must be included in participants")
)

// ExternalAPIError wraps a failed home- or external-network call with
// enough context to log it usefully. Callers decide per call site
// whether the failure is fatal (message send) or swallowed (post-create
// join).
type ExternalAPIError struct {
	// Network is "matrix" or "wazo".
	Network string
	// Op names the failed operation, e.g. "create_room", "invite".
	Op string
	// Err is the underlying transport or API error.
	Err error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Network, e.Op, e.Err)
}

// Unwrap exposes the underlying cause for errors.Is/As.
func (e *ExternalAPIError) Unwrap() error { return e.Err }
