package storage

import "errors"

// Common storage errors
var (
	ErrUnknownType = errors.New("unknown storage type")
	ErrEmptyID     = errors.New("record id is required")
)
