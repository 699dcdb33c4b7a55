package services

import "errors"

// Sentinel errors shared by the services and the HTTP error mapping.
var (
	// Not found
	ErrMatchNotFound       = errors.New("match not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrParticipantNotFound = errors.New("participant not found")

	// Authorization
	ErrCreatorOnly        = errors.New("only the match creator can perform this action")
	ErrCreatorOrAdminOnly = errors.New("only the match creator or a match admin can perform this action")

	// Optimistic concurrency
	ErrRevisionConflict = errors.New("match was modified concurrently, re-read and retry")

	// Blocking match state
	ErrMatchLocked   = errors.New("match is locked")
	ErrMatchCanceled = errors.New("match is canceled")

	// Domain conflicts
	ErrAlreadyParticipant   = errors.New("user is already a participant of this match")
	ErrSelfInvite           = errors.New("cannot invite yourself")
	ErrMustWithdrawInstead  = errors.New("confirmed or waitlisted participants must withdraw instead of declining")
	ErrCreatorLeaveNoAdmin  = errors.New("creator cannot leave: no match admin to transfer the match to")
	ErrCannotDemoteCreator  = errors.New("cannot demote the match creator")
	ErrNotActiveParticipant = errors.New("target user is not an active participant of this match")

	// Idempotency
	ErrIdempotencyKeyRequired = errors.New("idempotency key is required for this action")
	ErrIdempotencyKeyReuse    = errors.New("idempotency key was already used with a different request payload")

	// Validation
	ErrTitleRequired   = errors.New("match title is required")
	ErrInvalidCapacity = errors.New("match capacity must be positive")

	// Authentication
	ErrAuthInvalidCredentials = errors.New("invalid email or password")
	ErrPasswordTooShort       = errors.New("password is too short")
)
