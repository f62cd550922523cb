package repository

import "errors"

// Sentinel kinds for record store errors.
var (
	ErrNotFound          = errors.New("record not found")
	ErrUnsupportedDriver = errors.New("unsupported database driver")
	ErrInvalidPage       = errors.New("invalid page")
)
