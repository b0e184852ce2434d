package service

import "errors"

// User-facing error taxonomy. The router maps each of these to a short
// corrective reply; anything else is an internal error and gets a generic
// apology.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotAMember       = errors.New("sender is not a member")
	ErrNotBound         = errors.New("sender identity is not bound to a member")
	ErrNoActiveRound    = errors.New("no active round")
	ErrAlreadyActive    = errors.New("a round is already active")
	ErrMemberNotFound   = errors.New("member not found")
	ErrNameConflict     = errors.New("display name already in use")
	ErrGroupNotFound    = errors.New("group roster not created yet")
	ErrEmptyRoster      = errors.New("group has no members")
	ErrNotInRound       = errors.New("member has no entry in the active round")
	ErrEmptyText        = errors.New("empty submission text")
	ErrInvalidName      = errors.New("display name contains reserved characters")
)
