package database

import "errors"

// ErrNotFound is returned when a lookup matches no record.
var ErrNotFound = errors.New("record not found")
