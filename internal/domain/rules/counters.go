package rules

import (
	"fmt"

	"github.com/okian/loudsound/internal/domain/facts"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

// LikeCounter counts every live Liked event exactly once.
type LikeCounter struct{}

func (LikeCounter) Name() string { return NameLikeCounter }

func (r LikeCounter) Next(env *Env) (Activation, bool) {
	for _, e := range env.Store.Events(model.KindLiked, nil) {
		a := Activation{Rule: r.Name(), Handle: e.Handle, Song: e.Event.SongID}
		if !env.Fired(a) {
			return a, true
		}
	}
	return Activation{}, false
}

func (LikeCounter) Fire(env *Env, a Activation) error {
	if !env.Store.Modify(a.Song, (*model.Song).Like) {
		env.Log.Debug(env.Ctx, "like for a removed song", logger.String("song_id", string(a.Song)))
	}
	return nil
}

// ListeningPair classifies a ListeningEnded against the most recent matching
// ListeningStarted by the same user as a skip or a listen, and consumes both.
type ListeningPair struct{}

func (ListeningPair) Name() string { return NameListeningPair }

func (r ListeningPair) Next(env *Env) (Activation, bool) {
	for _, e := range env.Store.Events(model.KindListeningEnded, nil) {
		a := Activation{Rule: r.Name(), Handle: e.Handle, Song: e.Event.SongID}
		if !env.Fired(a) {
			return a, true
		}
	}
	return Activation{}, false
}

func (r ListeningPair) Fire(env *Env, a Activation) error {
	f, ok := env.Store.Get(a.Handle)
	if !ok {
		return nil
	}
	end, ok := f.(model.Event)
	if !ok {
		return nil
	}

	start, found := matchStart(env.Store, end)
	if !found {
		env.Store.Remove(a.Handle)
		metrics.RecordEventOrphaned()
		env.Log.Warn(env.Ctx, "listening end without a start",
			logger.String("song_id", string(end.SongID)),
			logger.String("user_id", end.SourceUserID),
			logger.Stringer("occurred_at", end.OccurredAt))
		return nil
	}
	env.Store.Remove(a.Handle)
	env.Store.Remove(start.Handle)

	if _, known := env.Store.Song(end.SongID); !known {
		env.Log.Debug(env.Ctx, "listening pair for a removed song", logger.String("song_id", string(end.SongID)))
		return nil
	}

	played := end.OccurredAt.Sub(start.Event.OccurredAt)
	outcome := model.Event{
		SongID:       end.SongID,
		SourceUserID: end.SourceUserID,
		OccurredAt:   end.OccurredAt,
		StartedAt:    start.Event.OccurredAt,
	}
	if played < env.Params.SkipThreshold {
		outcome.Kind = model.KindSkipped
		env.Store.Modify(end.SongID, (*model.Song).Skip)
	} else {
		outcome.Kind = model.KindListened
		env.Store.Modify(end.SongID, (*model.Song).Listen)
	}
	if _, err := env.Derive(outcome); err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}
	return nil
}

// matchStart finds the latest live start by the same user for the same song
// that is not after end. Among starts at the same instant the last stored wins.
func matchStart(store *facts.Store, end model.Event) (facts.EventEntry, bool) {
	starts := store.SongEvents(model.KindListeningStarted, end.SongID, func(ev model.Event) bool {
		return ev.SourceUserID == end.SourceUserID && !ev.OccurredAt.After(end.OccurredAt)
	})
	var best facts.EventEntry
	found := false
	for _, s := range starts {
		if !found || !s.Event.OccurredAt.Before(best.Event.OccurredAt) {
			best, found = s, true
		}
	}
	return best, found
}
