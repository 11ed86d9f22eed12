package store

import "errors"

// ErrNotFound is returned when a key, field, or member is absent.
var ErrNotFound = errors.New("store: not found")
