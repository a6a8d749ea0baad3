package scenario

import "errors"

// Sentinel error kinds for this package.
var (
	ErrInvalidScenario = errors.New("invalid scenario")
	ErrStepFailed      = errors.New("step failed")
)
