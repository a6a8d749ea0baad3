// Package repository implements the ranking store behind the leaderboard.
package repository

import (
	"context"

	"github.com/okian/loudsound/internal/domain/model"
)

// Entry represents a ranking row.
type Entry struct {
	Rank    int
	SongID  model.SongID
	Listens uint64
	Stamp   uint64
}

// Store provides read/write access to the ranking state.
type Store interface {
	// Upsert sets the listen count of a song, inserting it when unknown.
	// Returns true if the ordering changed.
	Upsert(ctx context.Context, id model.SongID, listens uint64) (bool, error)

	// Remove drops a song. Returns false if it was unknown.
	Remove(ctx context.Context, id model.SongID) bool

	// Rank returns the current position of a song.
	// Returns ErrNotFound if the song is unknown.
	Rank(ctx context.Context, id model.SongID) (Entry, error)

	// TopN returns the top-N entries ordered by listens desc.
	TopN(ctx context.Context, n int) ([]Entry, error)

	// Listens returns the listen count the store ranked a song by.
	Listens(ctx context.Context, id model.SongID) (uint64, bool)

	// Snapshot returns the full ordering.
	Snapshot(ctx context.Context) []Entry

	// Count returns the number of songs tracked in the ranking.
	Count(ctx context.Context) int
}

var _ Store = (*TreapStore)(nil)
