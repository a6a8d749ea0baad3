package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	service "github.com/okian/loudsound/internal/app"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/types"
)

// EventDependencies defines the interface for event processing dependencies.
type EventDependencies interface {
	SubmitEvent(ctx context.Context, ev model.Event) (engine.Outcome, error)
	Events(ctx context.Context, kind model.Kind, song model.SongID, limit int) ([]types.Event, error)
	Now() clock.Time
}

// eventRequest mirrors the OpenAPI schema for POST /events.
type eventRequest struct {
	EventID  string `json:"event_id"`
	Kind     string `json:"kind"`
	SongID   string `json:"song_id"`
	UserID   string `json:"user_id"`
	CauserID string `json:"causer_id"`
	// OccurredAtMs is logical time; omitted means now.
	OccurredAtMs *int64 `json:"occurred_at_ms"`
}

func (e eventRequest) event() (model.Event, error) {
	if strings.TrimSpace(e.Kind) == "" {
		return model.Event{}, fmt.Errorf("%w: missing kind", ErrBadRequest)
	}
	kind, err := model.ParseKind(e.Kind)
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	if kind.RequiresSong() && strings.TrimSpace(e.SongID) == "" {
		return model.Event{}, fmt.Errorf("%w: missing song_id", ErrBadRequest)
	}
	ev := model.Event{
		Kind:         kind,
		ID:           strings.TrimSpace(e.EventID),
		SongID:       model.SongID(strings.TrimSpace(e.SongID)),
		SourceUserID: e.UserID,
		CauserID:     strings.TrimSpace(e.CauserID),
	}
	if e.OccurredAtMs != nil {
		if *e.OccurredAtMs < 0 || *e.OccurredAtMs > clock.MaxMilliseconds {
			return model.Event{}, fmt.Errorf("%w: occurred_at_ms out of range", ErrBadRequest)
		}
		ev = ev.WithTime(clock.FromMilliseconds(*e.OccurredAtMs))
	}
	return ev, nil
}

// outcomeResponse reports what an accepted input did.
type outcomeResponse struct {
	Status    string        `json:"status"`
	Duplicate bool          `json:"duplicate"`
	Reason    string        `json:"reason,omitempty"`
	NowMs     int64         `json:"now_ms"`
	Derived   []types.Event `json:"derived"`
}

func newOutcomeResponse(out engine.Outcome, now clock.Time) outcomeResponse {
	resp := outcomeResponse{Status: "accepted", NowMs: now.Milliseconds(), Derived: types.NewEvents(out.Derived)}
	if out.Ignored {
		resp.Status = "ignored"
		if errors.Is(out.Reason, service.ErrDuplicateEvent) {
			resp.Status = "duplicate"
			resp.Duplicate = true
		}
		if out.Reason != nil {
			resp.Reason = out.Reason.Error()
		}
	}
	return resp
}

// EventsHandler handles event requests.
type EventsHandler struct {
	deps     EventDependencies
	maxLimit int
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, maxLimit int) *EventsHandler {
	return &EventsHandler{deps: deps, maxLimit: maxLimit}
}

// HandlePostEvent handles POST /events requests.
func (h *EventsHandler) HandlePostEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_event"
	var req eventRequest
	if err := decode(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	ev, err := req.event()
	if err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	out, err := h.deps.SubmitEvent(r.Context(), ev)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	code := http.StatusAccepted
	if out.Ignored {
		code = http.StatusOK
	}
	writeJSON(w, code, newOutcomeResponse(out, h.deps.Now()))
}

// HandleGetEvents handles GET /events?kind=&song_id=&limit= requests.
func (h *EventsHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_events"
	q := r.URL.Query()

	kind := model.KindUnknown
	if name := q.Get("kind"); name != "" {
		k, err := model.ParseKind(name)
		if err != nil {
			fail(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		kind = k
	}

	limit := h.maxLimit
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", NewKind(op, ErrBadRequest))
			return
		}
		if n > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", NewKind(op, ErrBadRequest))
			return
		}
		limit = n
	}

	evs, err := h.deps.Events(r.Context(), kind, model.SongID(q.Get("song_id")), limit)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, evs)
}
