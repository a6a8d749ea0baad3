package testevents

import (
	"time"

	"github.com/okian/loudsound/internal/domain/types"
)

// Config holds configuration for the event test.
type Config struct {
	BaseURL       string        // Base URL of the service
	Songs         int           // Number of songs to create
	Sessions      int           // Number of listening sessions to play
	Users         int           // Number of distinct listeners
	LikeRatio     float64       // Share of sessions followed by a like
	DuplicateRate float64       // Share of events submitted twice
	SkipThreshold time.Duration // Sessions shorter than this are skips
	Workers       int           // Concurrent workers for song creation and rank lookups
	Timeout       time.Duration // HTTP request timeout
	Seed          int64         // Seed for the generated plan
	OutputFile    string        // Optional JSON dump of the plan
	Verbose       bool          // Log every failed request
}

// Stats holds test statistics.
type Stats struct {
	SongsCreated      int
	EventsGenerated   int
	EventsSubmitted   int
	EventsAccepted    int
	EventsDuplicate   int
	EventsIgnored     int
	EventsRejected    int
	EventsFailed      int
	Derived           int
	RanksRetrieved    int
	LeaderboardLength int
	StartTime         time.Time
	EndTime           time.Time
	Duration          time.Duration
}

// songRequest is the POST /songs body.
type songRequest struct {
	ID         string `json:"id"`
	Artist     string `json:"artist"`
	Title      string `json:"title"`
	DurationMs int64  `json:"duration_ms"`
	Genre      string `json:"genre,omitempty"`
}

// eventRequest is the POST /events body.
type eventRequest struct {
	EventID      string `json:"event_id"`
	Kind         string `json:"kind"`
	SongID       string `json:"song_id"`
	UserID       string `json:"user_id"`
	OccurredAtMs int64  `json:"occurred_at_ms"`
}

// outcome is the POST /events response.
type outcome struct {
	Status    string        `json:"status"`
	Duplicate bool          `json:"duplicate"`
	Derived   []types.Event `json:"derived"`
}

type clockResponse struct {
	NowMs int64 `json:"now_ms"`
}

// Entry is a leaderboard row.
type Entry = types.Entry
