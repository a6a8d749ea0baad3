package rules

import (
	"context"
	"errors"
	"fmt"

	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/facts"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

// TopN keeps the ranking store in step with working memory and announces
// every change of top-N membership.
type TopN struct{}

func (TopN) Name() string { return NameTopN }

func (r TopN) Next(env *Env) (Activation, bool) {
	if !outOfSync(env) {
		return Activation{}, false
	}
	a := Activation{Rule: r.Name(), Version: env.Store.Revision()}
	if env.Fired(a) {
		return Activation{}, false
	}
	return a, true
}

func outOfSync(env *Env) bool {
	songs := env.Store.Songs()
	if env.Ranking.Count(env.Ctx) != len(songs) {
		return true
	}
	for _, s := range songs {
		listens, ok := env.Ranking.Listens(env.Ctx, s.ID)
		if !ok || listens != s.TimesListened {
			return true
		}
	}
	return false
}

func (r TopN) Fire(env *Env, _ Activation) error {
	ctx, n := env.Ctx, env.Params.TopN

	before, err := env.Ranking.TopN(ctx, n)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	present := make(map[model.SongID]struct{})
	for _, s := range env.Store.Songs() {
		present[s.ID] = struct{}{}
		if _, err := env.Ranking.Upsert(ctx, s.ID, s.TimesListened); err != nil {
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
	}
	for _, e := range env.Ranking.Snapshot(ctx) {
		if _, ok := present[e.SongID]; !ok {
			env.Ranking.Remove(ctx, e.SongID)
		}
	}

	after, err := env.Ranking.TopN(ctx, n)
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}

	entered, left := diffMembers(before, after)
	now := env.Store.Now()
	for _, id := range left {
		rank := 0
		if e, err := env.Ranking.Rank(ctx, id); err == nil {
			rank = e.Rank
		} else if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
		if err := r.announce(env, model.Event{Kind: model.KindEnteredTopN, SongID: id, Rank: rank, Revoked: true, OccurredAt: now}); err != nil {
			return err
		}
	}
	for _, e := range entered {
		if err := r.announce(env, model.Event{Kind: model.KindEnteredTopN, SongID: e.SongID, Rank: e.Rank, OccurredAt: now}); err != nil {
			return err
		}
	}

	if err := CheckLeaderboard(ctx, env.Store, env.Ranking, n); err != nil {
		metrics.RecordLeaderboardViolation()
		env.Log.Error(ctx, "leaderboard check failed", logger.Error(err))
	}
	return nil
}

func (r TopN) announce(env *Env, ev model.Event) error {
	change := "entered"
	if ev.Revoked {
		change = "revoked"
	}
	metrics.RecordLeaderboardChange(change)
	env.Log.Info(env.Ctx, "top-n membership changed",
		logger.String("song_id", string(ev.SongID)),
		logger.String("change", change),
		logger.Int("rank", ev.Rank))
	if _, err := env.Derive(ev); err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}
	return nil
}

// diffMembers returns the entries new to after, in rank order, and the ids that
// dropped out of before, in their former rank order.
func diffMembers(before, after []repository.Entry) (entered []repository.Entry, left []model.SongID) {
	was := make(map[model.SongID]struct{}, len(before))
	for _, e := range before {
		was[e.SongID] = struct{}{}
	}
	is := make(map[model.SongID]struct{}, len(after))
	for _, e := range after {
		is[e.SongID] = struct{}{}
		if _, ok := was[e.SongID]; !ok {
			entered = append(entered, e)
		}
	}
	for _, e := range before {
		if _, ok := is[e.SongID]; !ok {
			left = append(left, e.SongID)
		}
	}
	return entered, left
}

// CheckLeaderboard verifies that no song outside the top n has more listens
// than the weakest member, using the counters held in working memory.
func CheckLeaderboard(ctx context.Context, store *facts.Store, ranking repository.Store, n int) error {
	top, err := ranking.TopN(ctx, n)
	if err != nil {
		return err
	}
	members := make(map[model.SongID]struct{}, len(top))
	var weakest uint64
	for i, e := range top {
		members[e.SongID] = struct{}{}
		s, ok := store.Song(e.SongID)
		if !ok {
			return fmt.Errorf("%w: ranked song %s is not in working memory", ErrLeaderboardViolation, e.SongID)
		}
		if i == 0 || s.TimesListened < weakest {
			weakest = s.TimesListened
		}
	}
	for _, s := range store.Songs() {
		if _, in := members[s.ID]; in {
			continue
		}
		if s.TimesListened > weakest {
			return fmt.Errorf("%w: %s has %d listens outside the top %d (weakest member has %d)",
				ErrLeaderboardViolation, s.ID, s.TimesListened, n, weakest)
		}
	}
	return nil
}
