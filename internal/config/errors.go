package config

import "errors"

var (
	// ErrInvalidConfig wraps every validation failure reported by Validate.
	ErrInvalidConfig = errors.New("invalid configuration")
	// ErrLoadConfig wraps file, env and unmarshal failures from Load.
	ErrLoadConfig = errors.New("cannot load configuration")
)
