package storage

import "errors"

// ErrNotFound is returned when no snapshot has been stored yet.
var ErrNotFound = errors.New("not found")
