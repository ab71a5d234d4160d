package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrLockHeld        = errors.New("lock already held")
	ErrMalformedState  = errors.New("malformed persisted state")
	ErrPolicyViolation = errors.New("policy violation")
	ErrBookFull        = errors.New("position book full")
	ErrStaleIntel      = errors.New("intelligence data stale")
)
