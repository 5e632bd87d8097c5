package store

import "errors"

var (
	// ErrUnknownMember is returned by a token source that has no report for a member.
	ErrUnknownMember = errors.New("no token report for member")

	// ErrNoMember is returned when a manager creates a store before its member id is set.
	ErrNoMember = errors.New("store manager has no member id")

	// ErrInvalidOwner is returned for an owner name that is not a valid KV key token.
	ErrInvalidOwner = errors.New("invalid store owner name")
)
