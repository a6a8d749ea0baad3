// Package model contains the facts the rule engine reasons about: songs and
// the behavioral events recorded against them.
package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/okian/loudsound/internal/domain/clock"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// SongID identifies a song. It is immutable once assigned.
type SongID string

// Status is the derived classification of a song.
type Status uint8

// Song statuses. Every song starts ORDINARY.
const (
	StatusOrdinary Status = iota
	StatusBoring
	StatusPopular
)

var statusNames = [...]string{
	StatusOrdinary: "ORDINARY",
	StatusBoring:   "BORING",
	StatusPopular:  "POPULAR",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseStatus parses a status name case-insensitively.
// "OK" is accepted as an alias of ORDINARY.
func ParseStatus(name string) (Status, error) {
	switch upper(name) {
	case "ORDINARY", "OK":
		return StatusOrdinary, nil
	case "BORING":
		return StatusBoring, nil
	case "POPULAR":
		return StatusPopular, nil
	}
	return 0, fmt.Errorf("%w: status %q", ErrInvalidValue, name)
}

// Genre is the musical genre of a song.
type Genre string

// Known genres.
const (
	GenreRock  Genre = "ROCK"
	GenreMetal Genre = "METAL"
	GenreJazz  Genre = "JAZZ"
	GenreBlues Genre = "BLUES"
	GenreRap   Genre = "RAP"
	GenreFolk  Genre = "FOLK"
)

// Genres lists every known genre.
var Genres = []Genre{GenreRock, GenreMetal, GenreJazz, GenreBlues, GenreRap, GenreFolk}

var upperCaser = cases.Upper(language.Und)

func upper(s string) string {
	return upperCaser.String(strings.TrimSpace(s))
}

// ParseGenre parses a genre name case-insensitively.
func ParseGenre(name string) (Genre, error) {
	g := Genre(upper(name))
	for _, known := range Genres {
		if g == known {
			return g, nil
		}
	}
	return "", fmt.Errorf("%w: genre %q", ErrInvalidValue, name)
}

// SongDraft is the creation data submitted by collaborators.
type SongDraft struct {
	ID       SongID // optional; generated when empty
	Artist   string
	Title    string
	Duration time.Duration
	Genre    Genre
}

// Validate checks the draft before a song is created from it.
func (d SongDraft) Validate() error {
	switch {
	case strings.TrimSpace(d.Artist) == "":
		return fmt.Errorf("%w: missing artist", ErrInvalidSong)
	case strings.TrimSpace(d.Title) == "":
		return fmt.Errorf("%w: missing title", ErrInvalidSong)
	case d.Duration < 0:
		return fmt.Errorf("%w: negative duration", ErrInvalidSong)
	}
	if d.Genre != "" {
		if _, err := ParseGenre(string(d.Genre)); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidSong, err)
		}
	}
	return nil
}

// Song is the mutable aggregate held in working memory.
//
// Counters only grow. Status only changes through rule firing; collaborators
// receive copies and never the live value.
type Song struct {
	ID       SongID
	Artist   string
	Title    string
	Duration time.Duration
	Genre    Genre

	Likes         uint64
	TimesListened uint64
	TimesSkipped  uint64
	Status        Status

	// SkipStreak counts consecutive skip outcomes; a listen resets it.
	SkipStreak int
	CreatedAt  clock.Time

	revision uint64
}

// NewSong creates an ORDINARY song from a validated draft.
func NewSong(id SongID, d SongDraft, at clock.Time) *Song {
	genre := d.Genre
	if genre != "" {
		genre, _ = ParseGenre(string(genre))
	}
	return &Song{
		ID:        id,
		Artist:    strings.TrimSpace(d.Artist),
		Title:     strings.TrimSpace(d.Title),
		Duration:  d.Duration,
		Genre:     genre,
		Status:    StatusOrdinary,
		CreatedAt: at,
	}
}

func (*Song) isFact() {}

// Like records one like.
func (s *Song) Like() {
	s.Likes++
}

// Listen records one completed listen.
func (s *Song) Listen() {
	s.TimesListened++
	s.SkipStreak = 0
}

// Skip records one skip.
func (s *Song) Skip() {
	s.TimesSkipped++
	s.SkipStreak++
}

// Transition moves the song to status to and returns the previous status.
func (s *Song) Transition(to Status) Status {
	from := s.Status
	s.Status = to
	return from
}

// Revision counts modifications made through the fact store.
func (s *Song) Revision() uint64 { return s.revision }

// Touch bumps the revision; the fact store calls it after every modification.
func (s *Song) Touch() { s.revision++ }

// Snapshot returns a detached copy of the song.
func (s *Song) Snapshot() Song {
	return *s
}

// Completed returns the number of start/end pairs classified so far.
func (s Song) Completed() uint64 {
	return s.TimesListened + s.TimesSkipped
}
