package store

import "errors"

// ErrNotFound is returned when a row lookup matches nothing. Callers map it
// to their own not-found kinds; the store never wraps it with row detail.
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when an insert violates a uniqueness
// constraint.
var ErrAlreadyExists = errors.New("already exists")
