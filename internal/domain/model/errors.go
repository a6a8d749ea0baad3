package model

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidValue = errors.New("invalid value")
	ErrInvalidSong  = errors.New("invalid song")
	ErrInvalidEvent = errors.New("invalid event")
)
