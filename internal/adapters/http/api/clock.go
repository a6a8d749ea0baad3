package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/engine"
)

// ClockDependencies defines the interface for logical clock operations.
type ClockDependencies interface {
	AdvanceClock(ctx context.Context, d time.Duration) (engine.Outcome, error)
	Now() clock.Time
}

// advanceRequest mirrors the OpenAPI schema for POST /clock/advance. Exactly
// one of Duration ("25h") or DurationMs is set.
type advanceRequest struct {
	Duration   string `json:"duration"`
	DurationMs *int64 `json:"duration_ms"`
}

func (a advanceRequest) duration() (time.Duration, error) {
	switch {
	case a.Duration != "" && a.DurationMs != nil:
		return 0, fmt.Errorf("%w: set duration or duration_ms, not both", ErrBadRequest)
	case a.DurationMs != nil:
		if *a.DurationMs > clock.MaxMilliseconds {
			return 0, fmt.Errorf("%w: duration_ms out of range", ErrBadRequest)
		}
		return time.Duration(*a.DurationMs) * time.Millisecond, nil
	case a.Duration != "":
		d, err := time.ParseDuration(a.Duration)
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		return d, nil
	}
	return 0, fmt.Errorf("%w: missing duration", ErrBadRequest)
}

type clockResponse struct {
	NowMs int64  `json:"now_ms"`
	Now   string `json:"now"`
}

// ClockHandler handles logical clock requests.
type ClockHandler struct {
	deps ClockDependencies
}

// NewClockHandler creates a new clock handler.
func NewClockHandler(deps ClockDependencies) *ClockHandler {
	return &ClockHandler{deps: deps}
}

// HandleGetClock handles GET /clock requests.
func (h *ClockHandler) HandleGetClock(w http.ResponseWriter, _ *http.Request) {
	now := h.deps.Now()
	writeJSON(w, http.StatusOK, clockResponse{NowMs: now.Milliseconds(), Now: now.String()})
}

// HandleAdvance handles POST /clock/advance requests.
func (h *ClockHandler) HandleAdvance(w http.ResponseWriter, r *http.Request) {
	const op = "api.advance_clock"
	var req advanceRequest
	if err := decode(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	d, err := req.duration()
	if err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	out, err := h.deps.AdvanceClock(r.Context(), d)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, newOutcomeResponse(out, h.deps.Now()))
}
