package rules

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidParams        = errors.New("invalid rule parameters")
	ErrLeaderboardViolation = errors.New("leaderboard order violated")
)
