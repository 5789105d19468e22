package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for well-known failure conditions that cross package
// boundaries. Callers should use [errors.Is] to match these.
var (
	// ErrAuthenticationRequired is returned when a session sends an event
	// before choosing a username.
	ErrAuthenticationRequired = errors.New("authentication required")

	// ErrValidation indicates a malformed or rule-breaking request.
	ErrValidation = errors.New("validation error")

	// ErrNotAMember means the actor is not a member of the guild.
	ErrNotAMember = errors.New("not a member")

	// ErrTargetNotFound means the target has no directory entry, or its
	// local session is gone.
	ErrTargetNotFound = errors.New("target not found")

	// ErrTargetUnreachable means the target lives on an instance with no
	// established peer connection.
	ErrTargetUnreachable = errors.New("target unreachable")

	// ErrPeerHandshakeFailed is returned when a dial cannot complete the
	// handshake exchange.
	ErrPeerHandshakeFailed = errors.New("peer handshake failed")

	// ErrPeerBlacklisted indicates a peer address or host matched the
	// deny-list.
	ErrPeerBlacklisted = errors.New("peer blacklisted")

	// ErrNotOwner is a validation failure for owner-only guild operations.
	ErrNotOwner = fmt.Errorf("%w: only the guild owner can do that", ErrValidation)

	// ErrInviteInvalid is a validation failure for unknown or exhausted
	// invite codes.
	ErrInviteInvalid = fmt.Errorf("%w: invalid or expired invite", ErrValidation)

	// ErrAlreadyMember is not a failure: the redeemer already belongs to
	// the guild and the invite is left untouched.
	ErrAlreadyMember = errors.New("already a member")
)

// Wire codes surfaced to sessions in error events.
const (
	CodeAuthenticationRequired = "authentication-required"
	CodeValidation             = "validation-error"
	CodeNotAMember             = "not-a-member"
	CodeTargetNotFound         = "target-not-found"
	CodeTargetUnreachable      = "target-unreachable"
	CodeInternal               = "internal-error"
)

// Code maps err to the wire code reported to a session.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return CodeAuthenticationRequired
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotAMember):
		return CodeNotAMember
	case errors.Is(err, ErrTargetNotFound):
		return CodeTargetNotFound
	case errors.Is(err, ErrTargetUnreachable):
		return CodeTargetUnreachable
	default:
		return CodeInternal
	}
}

// OpError wraps an underlying error with the operation that produced it.
type OpError struct {
	Op     string
	Target string
	Err    error
}

// Invalid returns an [OpError] wrapping [ErrValidation] with a reason.
func Invalid(op, reason string) error {
	return &OpError{Op: op, Err: fmt.Errorf("%w: %s", ErrValidation, reason)}
}

func (e *OpError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}
