package repo

import "errors"

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
	// ErrInvalid wraps a record the store refused before writing it.
	ErrInvalid = errors.New("invalid record")
)
