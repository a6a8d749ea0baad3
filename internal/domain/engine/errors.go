package engine

import (
	"errors"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/facts"
)

// Sentinel error kinds for this package. Callers match them with errors.Is.
var (
	// ErrUnknownSong marks an event for a song that does not exist. It is never
	// returned; SubmitEvent reports it through Outcome.Reason.
	ErrUnknownSong          = errors.New("unknown song")
	ErrInvalidTemporalOrder = errors.New("event occurs before the current logical time")
	ErrConfiguration        = errors.New("invalid engine configuration")
	ErrSongNotFound         = errors.New("song not found")
	ErrDuplicateSong        = facts.ErrDuplicateSong
	ErrInvalidSong          = errors.New("invalid song")
	ErrInvalidEvent         = errors.New("invalid event")
	ErrDerivedEvent         = errors.New("derived events cannot be submitted")
	ErrNegativeAdvance      = clock.ErrNegativeAdvance
	ErrClockOverflow        = clock.ErrOverflow
	ErrNoFixpoint           = errors.New("rule evaluation did not reach a fixpoint")
)
