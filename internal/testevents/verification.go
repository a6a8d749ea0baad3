package testevents

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/types"
	"github.com/okian/loudsound/pkg/logger"
)

// ErrVerification reports a result inconsistent with the submitted plan.
var ErrVerification = errors.New("verification failed")

// verifyResults checks counters against the plan and the leaderboard
// against the counters.
func verifyResults(ctx context.Context, plan *Plan, songs []types.Song, rankings, leaderboard []Entry) error {
	logger.Get().Info(ctx, "verifying results")

	var errs []error
	errs = append(errs, verifyCounters(plan, songs)...)
	errs = append(errs, verifyLeaderboardConsistency(songs, rankings, leaderboard)...)
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrVerification, errors.Join(errs...))
	}
	return nil
}

// verifyCounters compares per-song counters with what the plan implies.
func verifyCounters(plan *Plan, songs []types.Song) []error {
	byID := make(map[model.SongID]types.Song, len(songs))
	for _, s := range songs {
		byID[s.ID] = s
	}

	var errs []error
	for _, req := range plan.Songs {
		s, ok := byID[model.SongID(req.ID)]
		if !ok {
			errs = append(errs, fmt.Errorf("song %s missing", req.ID))
			continue
		}
		if s.TimesListened != plan.Listens[req.ID] {
			errs = append(errs, fmt.Errorf("song %s: %d listens, want %d", req.ID, s.TimesListened, plan.Listens[req.ID]))
		}
		if s.TimesSkipped != plan.Skips[req.ID] {
			errs = append(errs, fmt.Errorf("song %s: %d skips, want %d", req.ID, s.TimesSkipped, plan.Skips[req.ID]))
		}
		if s.Likes != plan.Likes[req.ID] {
			errs = append(errs, fmt.Errorf("song %s: %d likes, want %d", req.ID, s.Likes, plan.Likes[req.ID]))
		}
	}
	return errs
}

// verifyLeaderboardConsistency checks that the leaderboard is sorted, that
// ranks are positions agreeing with /rank, and that no song outside it has
// more listens than a member.
func verifyLeaderboardConsistency(songs []types.Song, rankings, leaderboard []Entry) []error {
	var errs []error
	if len(songs) > 0 && len(leaderboard) == 0 {
		return []error{errors.New("empty leaderboard")}
	}

	members := make(map[model.SongID]struct{}, len(leaderboard))
	for i, e := range leaderboard {
		members[e.SongID] = struct{}{}
		if e.Rank != i+1 {
			errs = append(errs, fmt.Errorf("leaderboard entry %d has rank %d", i, e.Rank))
		}
		if i > 0 && e.Listens > leaderboard[i-1].Listens {
			errs = append(errs, fmt.Errorf("leaderboard not sorted: entry %d has more listens than entry %d", i, i-1))
		}
	}

	for _, r := range rankings {
		if _, ok := members[r.SongID]; !ok {
			continue
		}
		if r.Rank < 1 || r.Rank > len(leaderboard) {
			errs = append(errs, fmt.Errorf("leaderboard member %s has rank %d", r.SongID, r.Rank))
			continue
		}
		if e := leaderboard[r.Rank-1]; e.SongID != r.SongID {
			errs = append(errs, fmt.Errorf("song %s has rank %d but the leaderboard holds %s there", r.SongID, r.Rank, e.SongID))
		}
	}

	if len(leaderboard) > 0 {
		floor := leaderboard[len(leaderboard)-1].Listens
		for _, s := range songs {
			if _, ok := members[s.ID]; ok {
				continue
			}
			if s.TimesListened > floor {
				errs = append(errs, fmt.Errorf("song %s has %d listens outside a leaderboard whose floor is %d", s.ID, s.TimesListened, floor))
			}
		}
	}
	return errs
}

// displayTopSongs logs the leaderboard.
func displayTopSongs(ctx context.Context, leaderboard []Entry) {
	log := logger.Get()
	for _, e := range leaderboard {
		log.Info(ctx, "top song",
			logger.Int("rank", e.Rank),
			logger.String("song_id", string(e.SongID)),
			logger.String("artist", e.Artist),
			logger.Uint64("listens", e.Listens),
			logger.String("status", string(e.Status)))
	}
}
