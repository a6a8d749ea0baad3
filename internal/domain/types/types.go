// Package types contains the read models shared by the service and the API.
package types

import (
	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/model"
)

// Entry is one leaderboard row.
type Entry struct {
	Rank    int          `json:"rank"`
	SongID  model.SongID `json:"song_id"`
	Artist  string       `json:"artist,omitempty"`
	Title   string       `json:"title,omitempty"`
	Listens uint64       `json:"listens"`
	Status  model.Status `json:"status"`
}

// NewEntry joins a ranking row with the song it ranks. A nil song leaves the
// descriptive fields empty.
func NewEntry(r repository.Entry, s *model.Song) Entry {
	e := Entry{Rank: r.Rank, SongID: r.SongID, Listens: r.Listens}
	if s != nil {
		e.Artist = s.Artist
		e.Title = s.Title
		e.Status = s.Status
	}
	return e
}

// Song is the public view of a song.
type Song struct {
	ID            model.SongID `json:"id"`
	Artist        string       `json:"artist"`
	Title         string       `json:"title"`
	DurationMs    int64        `json:"duration_ms,omitempty"`
	Genre         model.Genre  `json:"genre,omitempty"`
	Likes         uint64       `json:"likes"`
	TimesListened uint64       `json:"times_listened"`
	TimesSkipped  uint64       `json:"times_skipped"`
	SkipStreak    int          `json:"skip_streak"`
	Status        model.Status `json:"status"`
	CreatedAtMs   int64        `json:"created_at_ms"`
	// Rank is the song's position by listens, 0 when unranked.
	Rank int `json:"rank,omitempty"`
}

// NewSong converts a song snapshot.
func NewSong(s model.Song) Song {
	return Song{
		ID:            s.ID,
		Artist:        s.Artist,
		Title:         s.Title,
		DurationMs:    s.Duration.Milliseconds(),
		Genre:         s.Genre,
		Likes:         s.Likes,
		TimesListened: s.TimesListened,
		TimesSkipped:  s.TimesSkipped,
		SkipStreak:    s.SkipStreak,
		Status:        s.Status,
		CreatedAtMs:   s.CreatedAt.Milliseconds(),
	}
}

// Event is the public view of a stored event.
type Event struct {
	Kind         model.Kind   `json:"kind"`
	ID           string       `json:"id,omitempty"`
	SongID       model.SongID `json:"song_id,omitempty"`
	SourceUserID string       `json:"user_id,omitempty"`
	OccurredAtMs int64        `json:"occurred_at_ms"`
	StartedAtMs  int64        `json:"started_at_ms,omitempty"`
	CauserID     string       `json:"causer_id,omitempty"`
	Rank         int          `json:"rank,omitempty"`
	Revoked      bool         `json:"revoked,omitempty"`
	From         string       `json:"from,omitempty"`
	To           string       `json:"to,omitempty"`
}

// NewEvent converts an engine event.
func NewEvent(ev model.Event) Event {
	out := Event{
		Kind:         ev.Kind,
		ID:           ev.ID,
		SongID:       ev.SongID,
		SourceUserID: ev.SourceUserID,
		OccurredAtMs: ev.OccurredAt.Milliseconds(),
		CauserID:     ev.CauserID,
	}
	switch ev.Kind {
	case model.KindSkipped, model.KindListened:
		out.StartedAtMs = ev.StartedAt.Milliseconds()
	case model.KindEnteredTopN:
		out.Rank = ev.Rank
		out.Revoked = ev.Revoked
	case model.KindStatusChanged:
		out.From = ev.From.String()
		out.To = ev.To.String()
	}
	return out
}

// NewEvents converts a slice of engine events.
func NewEvents(evs []model.Event) []Event {
	out := make([]Event, len(evs))
	for i, ev := range evs {
		out[i] = NewEvent(ev)
	}
	return out
}

// Stats is a point-in-time summary of the running service.
type Stats struct {
	Started       bool              `json:"started"`
	NowMs         int64             `json:"now_ms"`
	Songs         int               `json:"songs"`
	Facts         int               `json:"facts"`
	Passes        uint64            `json:"passes"`
	Firings       uint64            `json:"firings"`
	FiringsByRule map[string]uint64 `json:"firings_by_rule,omitempty"`
	Derived       uint64            `json:"derived"`
	Ignored       uint64            `json:"ignored"`
	Expired       uint64            `json:"expired"`
	QueueLength   int               `json:"queue_length"`
	QueueSize     int               `json:"queue_size"`
	DedupeSize    int64             `json:"dedupe_size"`
	Journaled     int               `json:"journaled"`
	TopN          int               `json:"top_n"`
}
