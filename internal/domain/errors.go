package domain

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrRateLimited     = errors.New("rate limited")
	ErrSigningFailed   = errors.New("signing failed")
	ErrRPCUnavailable  = errors.New("rpc unavailable")
	ErrWSDisconnect    = errors.New("websocket disconnected")
	ErrContextDone     = errors.New("context cancelled")
	ErrLockHeld        = errors.New("lock already held")
	ErrMachineDisposed = errors.New("state machine disposed")
)
