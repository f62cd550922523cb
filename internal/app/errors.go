package service

import "errors"

// Sentinel kinds for service errors. Callers map them to transport codes
// with errors.Is.
var (
	ErrNotFound         = errors.New("not found")
	ErrInvalidOperation = errors.New("invalid operation")
	ErrInvalidInput     = errors.New("invalid input")
	ErrConfigurationGap = errors.New("configuration gap")
	ErrBackpressure     = errors.New("ingestion queue is full")
	ErrNotStarted       = errors.New("service not started")
)
