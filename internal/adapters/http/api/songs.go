package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/types"
)

// SongDependencies defines the interface for song catalog operations.
type SongDependencies interface {
	SubmitSong(ctx context.Context, d model.SongDraft) (model.SongID, error)
	Song(ctx context.Context, id model.SongID) (types.Song, error)
	Songs(ctx context.Context) ([]types.Song, error)
	RemoveSong(ctx context.Context, id model.SongID) error
}

// songRequest mirrors the OpenAPI schema for POST /songs.
type songRequest struct {
	ID         string `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	DurationMs int64  `json:"duration_ms"`
	Genre      string `json:"genre"`
}

func (s songRequest) draft() (model.SongDraft, error) {
	switch {
	case strings.TrimSpace(s.Artist) == "":
		return model.SongDraft{}, fmt.Errorf("%w: missing artist", ErrBadRequest)
	case strings.TrimSpace(s.Title) == "":
		return model.SongDraft{}, fmt.Errorf("%w: missing title", ErrBadRequest)
	case s.DurationMs < 0:
		return model.SongDraft{}, fmt.Errorf("%w: negative duration_ms", ErrBadRequest)
	}
	d := model.SongDraft{
		ID:       model.SongID(strings.TrimSpace(s.ID)),
		Artist:   s.Artist,
		Title:    s.Title,
		Duration: time.Duration(s.DurationMs) * time.Millisecond,
	}
	if s.Genre != "" {
		g, err := model.ParseGenre(s.Genre)
		if err != nil {
			return model.SongDraft{}, fmt.Errorf("%w: %w", ErrBadRequest, err)
		}
		d.Genre = g
	}
	return d, nil
}

type songCreatedResponse struct {
	ID model.SongID `json:"id"`
}

// SongsHandler handles song catalog requests.
type SongsHandler struct {
	deps SongDependencies
}

// NewSongsHandler creates a new songs handler.
func NewSongsHandler(deps SongDependencies) *SongsHandler {
	return &SongsHandler{deps: deps}
}

// HandlePostSong handles POST /songs requests.
func (h *SongsHandler) HandlePostSong(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_song"
	var req songRequest
	if err := decode(r, &req); err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	d, err := req.draft()
	if err != nil {
		fail(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := h.deps.SubmitSong(r.Context(), d)
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	w.Header().Set("Location", "/songs/"+string(id))
	writeJSON(w, http.StatusCreated, songCreatedResponse{ID: id})
}

// HandleListSongs handles GET /songs requests.
func (h *SongsHandler) HandleListSongs(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_songs"
	songs, err := h.deps.Songs(r.Context())
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, songs)
}

// HandleGetSong handles GET /songs/{id} requests.
func (h *SongsHandler) HandleGetSong(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_song"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		fail(w, NewKind(op, ErrBadRequest))
		return
	}
	song, err := h.deps.Song(r.Context(), model.SongID(id))
	if err != nil {
		fail(w, Wrap(op, err))
		return
	}
	writeJSON(w, http.StatusOK, song)
}

// HandleDeleteSong handles DELETE /songs/{id} requests.
func (h *SongsHandler) HandleDeleteSong(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_song"
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		fail(w, NewKind(op, ErrBadRequest))
		return
	}
	if err := h.deps.RemoveSong(r.Context(), model.SongID(id)); err != nil {
		fail(w, Wrap(op, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
