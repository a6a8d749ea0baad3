// Package engine drives temporal rule evaluation over songs and their events.
//
// Every ingestion (a new song, an event, a clock advance, a removal) is
// followed by one evaluation pass that fires rules until none has anything
// left to do. Given the same sequence of inputs the engine produces the same
// states and derived events.
//
// The engine is not safe for concurrent use; callers serialize access.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/facts"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/rules"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

// Outcome reports what an ingestion did.
type Outcome struct {
	// Ignored is set when the input was dropped without evaluation.
	Ignored bool
	// Reason explains an ignored input, e.g. ErrUnknownSong.
	Reason error
	// Derived lists the events produced, in firing order.
	Derived []model.Event
}

// Stats is a point-in-time summary of engine activity.
type Stats struct {
	Now           clock.Time
	Songs         int
	Facts         int
	Passes        uint64
	Firings       uint64
	FiringsByRule map[string]uint64
	Derived       uint64
	Ignored       uint64
	Expired       uint64
}

// Engine is the rule evaluation engine.
type Engine struct {
	clock      *clock.Clock
	store      *facts.Store
	ranking    repository.Store
	rules      []rules.Rule
	params     rules.Params
	ttl        model.TTLPolicy
	log        logger.Logger
	listeners  []Listener
	newID      func() string
	maxFirings int
	sweep      bool

	fired   map[rules.Activation]struct{}
	pending []model.Event
	passCtx context.Context
	stats   Stats
}

// New creates an engine with configuration options.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		params:     rules.DefaultParams(),
		ttl:        model.DefaultTTLPolicy(),
		log:        logger.Nop(),
		newID:      defaultID,
		maxFirings: DefaultMaxFirings,
		fired:      make(map[rules.Activation]struct{}),
		stats:      Stats{FiringsByRule: make(map[string]uint64)},
	}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.params.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if err := e.ttl.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	if e.maxFirings < 1 {
		return nil, fmt.Errorf("%w: max firings must be at least 1, got %d", ErrConfiguration, e.maxFirings)
	}
	if e.rules == nil {
		e.rules = rules.Default()
	}
	if len(e.rules) == 0 {
		return nil, fmt.Errorf("%w: empty rule set", ErrConfiguration)
	}
	if e.clock == nil {
		e.clock = clock.New()
	}
	if e.ranking == nil {
		e.ranking = repository.NewTreapStore()
	}
	e.store = facts.New(e.clock, e.ttl)
	return e, nil
}

// SubmitSong adds a song to working memory and evaluates. A draft without an
// id gets a generated one.
func (e *Engine) SubmitSong(ctx context.Context, d model.SongDraft) (model.SongID, error) {
	if err := d.Validate(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidSong, err)
	}
	id := d.ID
	if id == "" {
		id = model.SongID(e.newID())
	}
	if _, err := e.store.Insert(model.NewSong(id, d, e.clock.Now())); err != nil {
		return "", fmt.Errorf("submit song %s: %w", id, err)
	}
	e.log.Debug(ctx, "song submitted", logger.String("song_id", string(id)), logger.String("artist", d.Artist))

	if _, err := e.evaluate(ctx); err != nil {
		return id, err
	}
	return id, nil
}

// SubmitEvent ingests a behavioral event and evaluates.
//
// A zero OccurredAt means now unless the event is Explicit. An event earlier
// than now is rejected; a later one first advances the clock to its time.
// Events referencing an unknown song are dropped and reported as ignored.
func (e *Engine) SubmitEvent(ctx context.Context, ev model.Event) (Outcome, error) {
	if ev.Kind.Derived() {
		return Outcome{}, fmt.Errorf("submit %s: %w", ev.Kind, ErrDerivedEvent)
	}
	if err := ev.Validate(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %w", ErrInvalidEvent, err)
	}

	now := e.clock.Now()
	if ev.Timeless() {
		ev.OccurredAt = now
	}
	if ev.OccurredAt.Before(now) {
		return Outcome{}, fmt.Errorf("submit %s at %s (now %s): %w", ev.Kind, ev.OccurredAt, now, ErrInvalidTemporalOrder)
	}
	if ev.Kind.RequiresSong() {
		if _, ok := e.store.Song(ev.SongID); !ok {
			e.stats.Ignored++
			metrics.RecordEventIgnored(ev.Kind.String(), "unknown_song")
			e.log.Info(ctx, "event for unknown song ignored",
				logger.String("kind", ev.Kind.String()),
				logger.String("song_id", string(ev.SongID)))
			return Outcome{Ignored: true, Reason: ErrUnknownSong}, nil
		}
	}

	var out Outcome
	if ev.OccurredAt.After(now) {
		derived, err := e.moveTo(ctx, ev.OccurredAt)
		out.Derived = append(out.Derived, derived...)
		if err != nil {
			return out, err
		}
	}

	if _, err := e.store.Insert(ev); err != nil {
		return out, fmt.Errorf("submit %s: %w", ev.Kind, err)
	}
	metrics.RecordEventSubmitted(ev.Kind.String())

	derived, err := e.evaluate(ctx)
	out.Derived = append(out.Derived, derived...)
	return out, err
}

// AdvanceClock moves logical time forward by d and evaluates.
func (e *Engine) AdvanceClock(ctx context.Context, d time.Duration) error {
	_, err := e.Advance(ctx, d)
	return err
}

// Advance is AdvanceClock that also reports the derived events.
func (e *Engine) Advance(ctx context.Context, d time.Duration) (Outcome, error) {
	if d < 0 {
		return Outcome{}, fmt.Errorf("advance %s: %w", d, ErrNegativeAdvance)
	}
	now := e.clock.Now()
	t, ok := now.CheckedAdd(d)
	if !ok {
		return Outcome{}, fmt.Errorf("advance %s from %s: %w", d, now, ErrClockOverflow)
	}
	derived, err := e.moveTo(ctx, t)
	return Outcome{Derived: derived}, err
}

// AdvanceTo moves logical time forward to t, if later, and evaluates.
func (e *Engine) AdvanceTo(ctx context.Context, t clock.Time) (Outcome, error) {
	if t.Before(e.clock.Now()) {
		return Outcome{}, fmt.Errorf("advance to %s (now %s): %w", t, e.clock.Now(), ErrNegativeAdvance)
	}
	derived, err := e.moveTo(ctx, t)
	return Outcome{Derived: derived}, err
}

func (e *Engine) moveTo(ctx context.Context, t clock.Time) ([]model.Event, error) {
	e.clock.AdvanceTo(t)
	metrics.UpdateLogicalClock(e.clock.Now().Duration().Seconds())

	derived, err := e.evaluate(ctx)
	if e.sweep {
		if n := e.store.Sweep(); n > 0 {
			e.stats.Expired += uint64(n)
			metrics.RecordEventsExpired(n)
			e.log.Debug(ctx, "expired events swept", logger.Int("count", n))
		}
	}
	return derived, err
}

// RemoveSong deletes a song together with its pending behavioral events and
// evaluates, which revokes its leaderboard membership.
func (e *Engine) RemoveSong(ctx context.Context, id model.SongID) error {
	if !e.store.RemoveSong(id) {
		return fmt.Errorf("remove %s: %w", id, ErrSongNotFound)
	}
	for _, kind := range []model.Kind{model.KindLiked, model.KindListeningStarted, model.KindListeningEnded, model.KindBecamePopular} {
		for _, entry := range e.store.SongEvents(kind, id, nil) {
			e.store.Remove(entry.Handle)
		}
	}
	e.log.Info(ctx, "song removed", logger.String("song_id", string(id)))
	_, err := e.evaluate(ctx)
	return err
}

// evaluate runs rules until no unfired activation remains.
func (e *Engine) evaluate(ctx context.Context) ([]model.Event, error) {
	start := time.Now()
	e.pending = nil
	e.passCtx = ctx
	env := &rules.Env{
		Ctx:     ctx,
		Store:   e.store,
		Ranking: e.ranking,
		Params:  e.params,
		Log:     e.log,
		Fired:   e.hasFired,
		Derive:  e.derive,
	}

	firings := 0
	var err error
scan:
	for {
		for _, r := range e.rules {
			a, ok := r.Next(env)
			if !ok {
				continue
			}
			if firings >= e.maxFirings {
				metrics.RecordErrorByComponent("engine", "no_fixpoint")
				err = fmt.Errorf("%w: %d firings, last activation %s", ErrNoFixpoint, firings, a)
				break scan
			}
			e.fired[a] = struct{}{}
			firings++
			e.stats.Firings++
			e.stats.FiringsByRule[r.Name()]++
			metrics.RecordRuleFiring(r.Name())
			e.log.Debug(ctx, "rule fired", logger.String("activation", a.String()))
			if ferr := r.Fire(env, a); ferr != nil {
				metrics.RecordErrorByComponent("engine", "rule_failed")
				err = fmt.Errorf("fire %s: %w", a, ferr)
				break scan
			}
			continue scan
		}
		break
	}

	e.prune()
	e.stats.Passes++
	metrics.RecordEvaluationPass(float64(time.Since(start).Microseconds())/1000, firings)
	e.observe()

	derived := e.pending
	e.pending = nil
	e.passCtx = nil
	return derived, err
}

func (e *Engine) hasFired(a rules.Activation) bool {
	_, ok := e.fired[a]
	return ok
}

func (e *Engine) derive(ev model.Event) (facts.Handle, error) {
	h, err := e.store.Insert(ev)
	if err != nil {
		return 0, err
	}
	e.pending = append(e.pending, ev)
	e.stats.Derived++
	ctx := e.passCtx
	if ctx == nil {
		ctx = context.Background()
	}
	for _, l := range e.listeners {
		l(ctx, ev)
	}
	return h, nil
}

// prune forgets fired activations that can never be proposed again.
func (e *Engine) prune() {
	for a := range e.fired {
		if a.Stale(e.store) {
			delete(e.fired, a)
		}
	}
}

func (e *Engine) observe() {
	metrics.UpdateTotalSongs(e.store.SongCount())
	for _, k := range model.Kinds {
		metrics.UpdateFactCount(k.String(), e.store.Held(k))
	}
}

// Now returns the current logical time.
func (e *Engine) Now() clock.Time { return e.clock.Now() }

// TopNSize returns the configured leaderboard size.
func (e *Engine) TopNSize() int { return e.params.TopN }

// Params returns the rule tuning in use.
func (e *Engine) Params() rules.Params { return e.params }

// Song returns a snapshot of one song.
func (e *Engine) Song(id model.SongID) (model.Song, error) {
	s, ok := e.store.Song(id)
	if !ok {
		return model.Song{}, fmt.Errorf("song %s: %w", id, ErrSongNotFound)
	}
	return s.Snapshot(), nil
}

// Songs returns snapshots of all songs in creation order.
func (e *Engine) Songs() []model.Song {
	songs := e.store.Songs()
	out := make([]model.Song, len(songs))
	for i, s := range songs {
		out[i] = s.Snapshot()
	}
	return out
}

// QueryEvents returns live events of kind satisfying pred, oldest first.
// KindUnknown selects every kind; a nil pred matches everything.
func (e *Engine) QueryEvents(kind model.Kind, pred func(model.Event) bool) []model.Event {
	var out []model.Event
	if kind != model.KindUnknown {
		for _, entry := range e.store.Events(kind, pred) {
			out = append(out, entry.Event)
		}
		return out
	}
	for _, entry := range e.store.Query(nil) {
		ev, ok := entry.Fact.(model.Event)
		if ok && (pred == nil || pred(ev)) {
			out = append(out, ev)
		}
	}
	return out
}

// Leaderboard returns the current top-N song ids, best first.
func (e *Engine) Leaderboard() []model.SongID {
	entries := e.Standings()
	out := make([]model.SongID, len(entries))
	for i, s := range entries {
		out[i] = s.SongID
	}
	return out
}

// Standings returns the current top-N ranking rows.
func (e *Engine) Standings() []repository.Entry {
	entries, err := e.ranking.TopN(context.Background(), e.params.TopN)
	if err != nil {
		return nil
	}
	return entries
}

// Rank returns the ranking row of one song.
func (e *Engine) Rank(id model.SongID) (repository.Entry, error) {
	entry, err := e.ranking.Rank(context.Background(), id)
	if errors.Is(err, repository.ErrNotFound) {
		return repository.Entry{}, fmt.Errorf("rank %s: %w", id, ErrSongNotFound)
	}
	return entry, err
}

// CheckLeaderboard verifies that no song outside the top N has more listens
// than a member.
func (e *Engine) CheckLeaderboard() error {
	return rules.CheckLeaderboard(context.Background(), e.store, e.ranking, e.params.TopN)
}

// Stats returns a copy of the activity counters.
func (e *Engine) Stats() Stats {
	s := e.stats
	s.Now = e.clock.Now()
	s.Songs = len(e.store.Songs())
	s.Facts = e.store.Len()
	s.FiringsByRule = make(map[string]uint64, len(e.stats.FiringsByRule))
	for k, v := range e.stats.FiringsByRule {
		s.FiringsByRule[k] = v
	}
	return s
}
