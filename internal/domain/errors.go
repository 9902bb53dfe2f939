package domain

import "errors"

// Sentinel errors for the domain layer.
var (
	ErrNotFound          = errors.New("domain: not found")
	ErrConflict          = errors.New("domain: active session conflict")
	ErrInvalidTransition = errors.New("domain: invalid session transition")
	ErrState             = errors.New("domain: invalid message state")
	ErrSpawn             = errors.New("domain: spawn failed")
	ErrTimeout           = errors.New("domain: timeout")
	ErrDelivery          = errors.New("domain: delivery failed")
)
