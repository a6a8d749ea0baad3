package api

import (
	"context"
	"errors"
	"net/http"

	service "github.com/okian/loudsound/internal/app"
	"github.com/okian/loudsound/internal/domain/engine"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest   = errors.New("bad request")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrBackpressure = errors.New("backpressure")
	ErrUnavailable  = errors.New("service unavailable")
	ErrInternal     = errors.New("internal error")
)

// Error is an API failure tagged with the operation that produced it.
type Error struct {
	Op   string
	Kind error
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return e.Op + ": " + e.Err.Error()
	case e.Kind != nil:
		return e.Op + ": " + e.Kind.Error()
	}
	return e.Op
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	var out []error
	if e.Kind != nil {
		out = append(out, e.Kind)
	}
	if e.Err != nil {
		out = append(out, e.Err)
	}
	return out
}

// NewKind returns an error of kind for op.
func NewKind(op string, kind error) error {
	return &Error{Op: op, Kind: kind}
}

// WrapKind tags err with op and kind.
func WrapKind(op string, kind, err error) error {
	return &Error{Op: op, Kind: kind, Err: err}
}

// Wrap tags err with op and classifies it.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Kind: classify(err), Err: err}
}

// classify maps domain and service errors onto API kinds.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, engine.ErrInvalidSong),
		errors.Is(err, engine.ErrInvalidEvent),
		errors.Is(err, engine.ErrDerivedEvent),
		errors.Is(err, engine.ErrNegativeAdvance),
		errors.Is(err, engine.ErrClockOverflow):
		return ErrBadRequest
	case errors.Is(err, ErrNotFound), errors.Is(err, engine.ErrSongNotFound):
		return ErrNotFound
	case errors.Is(err, ErrConflict),
		errors.Is(err, engine.ErrDuplicateSong),
		errors.Is(err, engine.ErrInvalidTemporalOrder):
		return ErrConflict
	case errors.Is(err, ErrBackpressure), errors.Is(err, service.ErrBackpressure):
		return ErrBackpressure
	case errors.Is(err, ErrUnavailable),
		errors.Is(err, service.ErrNotStarted),
		errors.Is(err, service.ErrStopped),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return ErrUnavailable
	}
	return ErrInternal
}

// status returns the HTTP status and response code for err.
func status(err error) (int, string) {
	switch {
	case errors.Is(err, engine.ErrInvalidTemporalOrder):
		return http.StatusConflict, "temporal_order"
	case errors.Is(err, engine.ErrDuplicateSong):
		return http.StatusConflict, "duplicate_song"
	case errors.Is(err, engine.ErrNoFixpoint):
		return http.StatusInternalServerError, "no_fixpoint"
	}
	switch classify(err) {
	case ErrBadRequest:
		return http.StatusBadRequest, "bad_request"
	case ErrNotFound:
		return http.StatusNotFound, "not_found"
	case ErrConflict:
		return http.StatusConflict, "conflict"
	case ErrBackpressure:
		return http.StatusTooManyRequests, "backpressure"
	case ErrUnavailable:
		return http.StatusServiceUnavailable, "unavailable"
	}
	return http.StatusInternalServerError, "internal_error"
}
