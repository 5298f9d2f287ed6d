package hitl

import "errors"

var (
	// ErrNotFound is returned when no request exists for an id.
	ErrNotFound = errors.New("approval request not found")

	// ErrAlreadyDecided is returned when a decision targets a request that
	// has already left pending.
	ErrAlreadyDecided = errors.New("approval request already decided")

	// ErrRejected is returned to a waiting caller when the reviewer rejects.
	ErrRejected = errors.New("approval request rejected")

	// ErrExpired is returned to a waiting caller when the approval window
	// elapses without a decision.
	ErrExpired = errors.New("approval request expired")
)
