package facts

import "errors"

// Fact store errors.
var (
	ErrDuplicateSong   = errors.New("song already exists")
	ErrNilFact         = errors.New("nil fact")
	ErrUnsupportedFact = errors.New("unsupported fact type")
)
