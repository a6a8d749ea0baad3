package repository

import "errors"

// Sentinel kinds for ranking errors.
var (
	ErrNotFound     = errors.New("song not ranked")
	ErrInvalidLimit = errors.New("invalid leaderboard limit")
	ErrEmptyID      = errors.New("empty song id")
)
