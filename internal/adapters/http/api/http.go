// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/okian/loudsound/internal/domain/types"
)

const (
	defaultMaxEventLimit = 1000
	maxBodyBytes         = 1 << 20
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	SongDependencies
	EventDependencies
	ClockDependencies
	LeaderboardDependencies
	RankDependencies
	StatsProvider
	HealthChecker
}

// Entry mirrors the read shape returned by leaderboard queries.
type Entry = types.Entry

// Server wires HTTP routes for the business API.
type Server struct {
	healthHandler      *HealthHandler
	statsHandler       *StatsHandler
	songsHandler       *SongsHandler
	eventsHandler      *EventsHandler
	clockHandler       *ClockHandler
	leaderboardHandler *LeaderboardHandler
	rankHandler        *RankHandler
}

// NewServer creates a new API server with all handlers. maxEventLimit caps
// GET /events; values below 1 use the default.
func NewServer(deps Dependencies, maxEventLimit int) *Server {
	if maxEventLimit < 1 {
		maxEventLimit = defaultMaxEventLimit
	}
	return &Server{
		healthHandler:      NewHealthHandler(deps),
		statsHandler:       NewStatsHandler(deps),
		songsHandler:       NewSongsHandler(deps),
		eventsHandler:      NewEventsHandler(deps, maxEventLimit),
		clockHandler:       NewClockHandler(deps),
		leaderboardHandler: NewLeaderboardHandler(deps),
		rankHandler:        NewRankHandler(deps),
	}
}

// Register attaches all HTTP routes to mux.
func (s *Server) Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}
	mux.HandleFunc("GET /healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.Handle("GET /metrics", s.healthHandler.MetricsHandler())
	mux.HandleFunc("GET /stats", MetricsMiddleware(s.statsHandler.HandleStats, "stats"))

	mux.HandleFunc("POST /songs", MetricsMiddleware(s.songsHandler.HandlePostSong, "songs"))
	mux.HandleFunc("GET /songs", MetricsMiddleware(s.songsHandler.HandleListSongs, "songs"))
	mux.HandleFunc("GET /songs/{id}", MetricsMiddleware(s.songsHandler.HandleGetSong, "song"))
	mux.HandleFunc("DELETE /songs/{id}", MetricsMiddleware(s.songsHandler.HandleDeleteSong, "song"))

	mux.HandleFunc("POST /events", MetricsMiddleware(s.eventsHandler.HandlePostEvent, "events"))
	mux.HandleFunc("GET /events", MetricsMiddleware(s.eventsHandler.HandleGetEvents, "events"))

	mux.HandleFunc("GET /clock", MetricsMiddleware(s.clockHandler.HandleGetClock, "clock"))
	mux.HandleFunc("POST /clock/advance", MetricsMiddleware(s.clockHandler.HandleAdvance, "clock_advance"))

	mux.HandleFunc("GET /leaderboard", MetricsMiddleware(s.leaderboardHandler.HandleGetLeaderboard, "leaderboard"))
	mux.HandleFunc("GET /rank/{id}", MetricsMiddleware(s.rankHandler.HandleGetRank, "rank"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// fail writes err with the status its kind maps to.
func fail(w http.ResponseWriter, err error) {
	code, name := status(err)
	writeError(w, code, name, err)
}

// decode reads a single JSON object from the request body into v.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrBadRequest)
		}
		return fmt.Errorf("%w: %w", ErrBadRequest, err)
	}
	return nil
}
