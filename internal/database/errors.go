package database

import "errors"

var (
	// ErrNotFound is returned by writes that target a missing row.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a uniqueness constraint is violated.
	ErrConflict = errors.New("already exists")
	// ErrNotMember is returned when a write requires a membership the user does not hold.
	ErrNotMember = errors.New("not a member of this event")
	// ErrNotOwner is returned when a user tries to author a row owned by someone else.
	ErrNotOwner = errors.New("only the owner may modify this record")
	// ErrInvalidWindow is returned when an event ends before it starts.
	ErrInvalidWindow = errors.New("event must not end before it starts")
)
