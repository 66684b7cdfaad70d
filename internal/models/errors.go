package models

import "errors"

// Domain errors returned by the storage and chat layers. Handlers map these to
// HTTP statuses; anything not in this list is treated as an internal failure.
var (
	ErrNotFound         = errors.New("not found")
	ErrSelfTarget       = errors.New("cannot send a request to yourself")
	ErrDuplicateRequest = errors.New("request already sent")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalidDecision  = errors.New("decision must be accepted or rejected")
	ErrNotMutual        = errors.New("users are not mutually matched")
	ErrEmptyContent     = errors.New("message content is empty")
)
