package rules

import (
	"fmt"

	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

// Covered reports whether a live BecamePopular applies to s.
func Covered(env *Env, s *model.Song) bool {
	return len(env.Store.Events(model.KindBecamePopular, func(ev model.Event) bool {
		return ev.Covers(s)
	})) > 0
}

// ShouldBeBoring is the ORDINARY -> BORING condition.
func ShouldBeBoring(p Params, s *model.Song) bool {
	return s.SkipStreak >= p.BoringSkipStreak &&
		float64(s.TimesSkipped) >= p.BoringSkipRatio*float64(s.TimesListened)
}

// Recovered is the BORING -> ORDINARY condition, evaluated over the trailing
// recovery window.
func Recovered(env *Env, s *model.Song) bool {
	if s.SkipStreak != 0 {
		return false
	}
	since := env.Store.Now().Add(-env.Params.RecoveryWindow)
	inWindow := func(ev model.Event) bool { return ev.OccurredAt.After(since) }
	listens := env.Store.Count(model.KindListened, s.ID, inWindow)
	skips := env.Store.Count(model.KindSkipped, s.ID, inWindow)
	return listens >= env.Params.RecoveryMinListens &&
		float64(listens) >= env.Params.RecoveryRatio*float64(skips)
}

// statusRule is a state-bound rule moving songs between two statuses.
type statusRule struct {
	name string
	from model.Status
	to   model.Status
	when func(env *Env, s *model.Song) bool
}

func (r statusRule) next(env *Env) (Activation, bool) {
	for _, s := range env.Store.Songs() {
		if s.Status != r.from || !r.when(env, s) {
			continue
		}
		a := Activation{Rule: r.name, Song: s.ID, Version: s.Revision()}
		if !env.Fired(a) {
			return a, true
		}
	}
	return Activation{}, false
}

func (r statusRule) fire(env *Env, a Activation) error {
	s, ok := env.Store.Song(a.Song)
	if !ok || s.Status != r.from || !r.when(env, s) {
		return nil
	}
	return transition(env, r.name, s, r.to)
}

func transition(env *Env, rule string, s *model.Song, to model.Status) error {
	from := s.Status
	env.Store.Modify(s.ID, func(x *model.Song) { x.Transition(to) })
	metrics.RecordStatusTransition(from.String(), to.String())
	env.Log.Info(env.Ctx, "status changed",
		logger.String("rule", rule),
		logger.String("song_id", string(s.ID)),
		logger.Stringer("from", from),
		logger.Stringer("to", to))
	_, err := env.Derive(model.Event{
		Kind:       model.KindStatusChanged,
		SongID:     s.ID,
		OccurredAt: env.Store.Now(),
		From:       from,
		To:         to,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", rule, err)
	}
	return nil
}

// PopularityExpired reverts POPULAR songs once no trigger covers them.
type PopularityExpired struct{}

func (PopularityExpired) Name() string { return NamePopularityExpired }

func (PopularityExpired) rule() statusRule {
	return statusRule{
		name: NamePopularityExpired,
		from: model.StatusPopular,
		to:   model.StatusOrdinary,
		when: func(env *Env, s *model.Song) bool { return !Covered(env, s) },
	}
}

func (r PopularityExpired) Next(env *Env) (Activation, bool)  { return r.rule().next(env) }
func (r PopularityExpired) Fire(env *Env, a Activation) error { return r.rule().fire(env, a) }

// BecamePopular promotes ORDINARY songs covered by a live trigger.
type BecamePopular struct{}

func (BecamePopular) Name() string { return NameBecamePopular }

func (BecamePopular) rule() statusRule {
	return statusRule{
		name: NameBecamePopular,
		from: model.StatusOrdinary,
		to:   model.StatusPopular,
		when: Covered,
	}
}

func (r BecamePopular) Next(env *Env) (Activation, bool)  { return r.rule().next(env) }
func (r BecamePopular) Fire(env *Env, a Activation) error { return r.rule().fire(env, a) }

// DeclaredBoring demotes ORDINARY songs that keep getting skipped.
type DeclaredBoring struct{}

func (DeclaredBoring) Name() string { return NameDeclaredBoring }

func (DeclaredBoring) rule() statusRule {
	return statusRule{
		name: NameDeclaredBoring,
		from: model.StatusOrdinary,
		to:   model.StatusBoring,
		when: func(env *Env, s *model.Song) bool { return ShouldBeBoring(env.Params, s) },
	}
}

func (r DeclaredBoring) Next(env *Env) (Activation, bool)  { return r.rule().next(env) }
func (r DeclaredBoring) Fire(env *Env, a Activation) error { return r.rule().fire(env, a) }

// RedeclaredOrdinary restores BORING songs that are listened to again.
type RedeclaredOrdinary struct{}

func (RedeclaredOrdinary) Name() string { return NameRedeclaredOrdinary }

func (RedeclaredOrdinary) rule() statusRule {
	return statusRule{
		name: NameRedeclaredOrdinary,
		from: model.StatusBoring,
		to:   model.StatusOrdinary,
		when: Recovered,
	}
}

func (r RedeclaredOrdinary) Next(env *Env) (Activation, bool)  { return r.rule().next(env) }
func (r RedeclaredOrdinary) Fire(env *Env, a Activation) error { return r.rule().fire(env, a) }

// LikeSurge raises a popularity trigger for a song liked often enough inside
// the like window. It fires once per newest like, and never while the song is
// already covered.
type LikeSurge struct{}

func (LikeSurge) Name() string { return NameLikeSurge }

func (r LikeSurge) Next(env *Env) (Activation, bool) {
	if env.Params.PopularLikeThreshold <= 0 {
		return Activation{}, false
	}
	since := env.Store.Now().Add(-env.Params.LikeWindow)
	for _, s := range env.Store.Songs() {
		likes := env.Store.SongEvents(model.KindLiked, s.ID, func(ev model.Event) bool {
			return ev.OccurredAt.After(since)
		})
		if len(likes) < env.Params.PopularLikeThreshold || Covered(env, s) {
			continue
		}
		a := Activation{Rule: r.Name(), Song: s.ID, Handle: likes[len(likes)-1].Handle}
		if !env.Fired(a) {
			return a, true
		}
	}
	return Activation{}, false
}

func (r LikeSurge) Fire(env *Env, a Activation) error {
	s, ok := env.Store.Song(a.Song)
	if !ok || Covered(env, s) {
		return nil
	}
	env.Log.Info(env.Ctx, "like surge", logger.String("song_id", string(s.ID)), logger.Uint64("likes", s.Likes))
	_, err := env.Derive(model.Event{
		Kind:       model.KindBecamePopular,
		SongID:     s.ID,
		CauserID:   string(s.ID),
		OccurredAt: env.Store.Now(),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", r.Name(), err)
	}
	return nil
}
