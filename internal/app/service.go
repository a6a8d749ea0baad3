// Package service owns the engine inside a running process and implements
// the dependencies required by the HTTP API.
//
// Every mutation is turned into a command and applied by a single worker, so
// the engine sees one input at a time in acceptance order. Reads take a
// shared lock and never wait for the queue.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/okian/loudsound/internal/adapters/journal"
	eventqueue "github.com/okian/loudsound/internal/adapters/mq/queue"
	"github.com/okian/loudsound/internal/adapters/mq/worker"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/dedupe"
	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/types"
	"github.com/okian/loudsound/pkg/logger"
	"github.com/okian/loudsound/pkg/metrics"
)

const workerStopTimeout = 5 * time.Second

// Service implements the API dependencies for the song engine.
type Service struct {
	mu sync.RWMutex

	engine  *engine.Engine
	deduper dedupe.Deduper
	queue   *eventqueue.InMemoryQueue
	worker  *worker.InMemoryWorker
	journal *journal.Journal

	engineOpts  []engine.Option
	queueSize   int
	dedupeSize  int
	journalPath string

	isStarted bool
	cancel    context.CancelFunc

	logger logger.Logger
}

// New constructs a new Service with default configuration.
func New(opts ...Option) *Service {
	s := &Service{
		queueSize:  10_000,
		dedupeSize: 50_000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start builds the engine, replays the journal if one is configured and
// starts the evaluation worker.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isStarted {
		return nil
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("service")
	}
	s.logger.Info(ctx, "starting song engine service...")

	opts := append([]engine.Option{engine.WithLogger(s.logger.Named("engine"))}, s.engineOpts...)
	eng, err := engine.New(opts...)
	if err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	s.engine = eng
	s.deduper = dedupe.NewInMemoryDeduper(dedupe.WithMaxSize(s.dedupeSize))

	if s.journal == nil && s.journalPath != "" {
		j, err := journal.Open(s.journalPath)
		if err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		s.journal = j
	}
	if s.journal != nil {
		n, err := s.journal.Replay(ctx, s.apply)
		if err != nil {
			return fmt.Errorf("start service: %w", err)
		}
		s.logger.Info(ctx, "journal replayed",
			logger.Int("commands", n),
			logger.Stringer("now", s.engine.Now()))
	}

	s.queue = eventqueue.NewInMemoryQueue(
		eventqueue.WithCapacity(s.queueSize),
		eventqueue.WithBufferSize(s.queueSize),
	)
	s.worker = worker.NewInMemoryWorker(s.queue, s,
		worker.WithName("evaluator"),
		worker.WithLogger(s.logger))

	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.worker.Run(runCtx)

	s.isStarted = true
	s.logger.Info(ctx, "song engine service started",
		logger.Int("queueSize", s.queueSize),
		logger.Int("dedupeSize", s.dedupeSize),
		logger.Int("topN", s.engine.TopNSize()),
		logger.Bool("journal", s.journal != nil))
	return nil
}

// Stop drains the queue, stops the worker and closes the journal.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.isStarted {
		s.mu.Unlock()
		return
	}
	s.isStarted = false
	q, w, cancel := s.queue, s.worker, s.cancel
	s.mu.Unlock()

	ctx := context.Background()
	s.logger.Info(ctx, "stopping song engine service...")

	// The worker takes the write lock per command, so wait without holding it.
	_ = q.Close()
	select {
	case <-w.Done():
	case <-time.After(workerStopTimeout):
		shutdownCtx, done := context.WithTimeout(ctx, workerStopTimeout)
		if err := w.Shutdown(shutdownCtx); err != nil {
			s.logger.Warn(ctx, "worker did not stop", logger.Error(err))
		}
		done()
	}
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Error(ctx, "closing journal", logger.Error(err))
		}
		s.journal = nil
	}
	s.logger.Info(ctx, "song engine service stopped")
}

// Execute applies one command. It is called by the worker only.
func (s *Service) Execute(ctx context.Context, c eventqueue.Command) eventqueue.Result { //nolint:gocritic // hugeParam: Command is passed by value for channel semantics
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		res eventqueue.Result
		rec journal.Record
	)
	switch c.Kind {
	case eventqueue.KindSubmitSong:
		id, err := s.engine.SubmitSong(ctx, c.Draft)
		res.SongID, res.Err = id, err
		draft := c.Draft
		draft.ID = id
		rec = journal.Record{Op: journal.OpSubmitSong, SongID: id, Draft: &draft}
	case eventqueue.KindSubmitEvent:
		ev := c.Event
		// pin "now" so a replay sees the same time
		if ev.Timeless() {
			ev.OccurredAt = s.engine.Now()
		}
		res.SongID = ev.SongID
		res.Outcome, res.Err = s.engine.SubmitEvent(ctx, ev)
		rec = journal.Record{Op: journal.OpSubmitEvent, SongID: ev.SongID, Event: &ev}
	case eventqueue.KindAdvance:
		res.Outcome, res.Err = s.engine.Advance(ctx, c.Advance)
		rec = journal.Record{Op: journal.OpAdvance, Advance: c.Advance}
	case eventqueue.KindRemoveSong:
		res.SongID = c.SongID
		res.Err = s.engine.RemoveSong(ctx, c.SongID)
		rec = journal.Record{Op: journal.OpRemoveSong, SongID: c.SongID}
	default:
		res.Err = fmt.Errorf("unknown command %q", c.Kind)
		return res
	}

	if s.journal != nil && applied(res) {
		rec.At = s.engine.Now()
		if _, err := s.journal.Append(ctx, rec); err != nil {
			s.logger.Error(ctx, "journal append failed",
				logger.String("op", string(rec.Op)),
				logger.Error(err))
		}
	}
	return res
}

// applied reports whether a command changed engine state. A pass that hit the
// firing cap still applied its input.
func applied(r eventqueue.Result) bool {
	if r.Err != nil {
		return errors.Is(r.Err, engine.ErrNoFixpoint)
	}
	return !r.Outcome.Ignored
}

// apply re-executes a journaled command directly against the engine.
func (s *Service) apply(ctx context.Context, r journal.Record) error {
	var err error
	switch r.Op {
	case journal.OpSubmitSong:
		_, err = s.engine.SubmitSong(ctx, *r.Draft)
	case journal.OpSubmitEvent:
		if r.Event.ID != "" {
			s.deduper.SeenAndRecord(ctx, r.Event.ID)
		}
		_, err = s.engine.SubmitEvent(ctx, *r.Event)
	case journal.OpAdvance:
		err = s.engine.AdvanceClock(ctx, r.Advance)
	case journal.OpRemoveSong:
		err = s.engine.RemoveSong(ctx, r.SongID)
	}
	if errors.Is(err, engine.ErrNoFixpoint) {
		return nil
	}
	return err
}

// submit enqueues c and waits for its result.
func (s *Service) submit(ctx context.Context, c eventqueue.Command) (eventqueue.Result, error) { //nolint:gocritic // hugeParam: Command is passed by value for channel semantics
	s.mu.RLock()
	started, q := s.isStarted, s.queue
	s.mu.RUnlock()
	if !started {
		return eventqueue.Result{}, ErrNotStarted
	}

	if !q.Enqueue(ctx, c) {
		if q.IsClosed() {
			return eventqueue.Result{}, fmt.Errorf("%w: %w", ErrStopped, eventqueue.ErrClosed)
		}
		return eventqueue.Result{}, fmt.Errorf("%w: %w", ErrBackpressure, eventqueue.ErrFull)
	}
	select {
	case r := <-c.Reply:
		return r, r.Err
	case <-ctx.Done():
		return eventqueue.Result{}, ctx.Err()
	}
}

// SubmitSong adds a song and returns its id.
func (s *Service) SubmitSong(ctx context.Context, d model.SongDraft) (model.SongID, error) {
	c := eventqueue.NewCommand(eventqueue.KindSubmitSong)
	c.Draft = d
	r, err := s.submit(ctx, c)
	return r.SongID, err
}

// SubmitEvent ingests a behavioral event. An event whose id was already
// accepted is reported as ignored with ErrDuplicateEvent.
func (s *Service) SubmitEvent(ctx context.Context, ev model.Event) (engine.Outcome, error) {
	d := s.activeDeduper()
	if d == nil {
		return engine.Outcome{}, ErrNotStarted
	}
	if ev.ID != "" && d.SeenAndRecord(ctx, ev.ID) {
		metrics.RecordEventDuplicate()
		s.logger.Debug(ctx, "duplicate event detected, skipping", logger.String("eventID", ev.ID))
		return engine.Outcome{Ignored: true, Reason: ErrDuplicateEvent}, nil
	}

	c := eventqueue.NewCommand(eventqueue.KindSubmitEvent)
	c.Event = ev
	r, err := s.submit(ctx, c)
	if ev.ID != "" && (err != nil || r.Outcome.Ignored) {
		// let a corrected or retried submission through
		d.Unrecord(ctx, ev.ID)
	}
	return r.Outcome, err
}

// AdvanceClock moves logical time forward and returns what it derived.
func (s *Service) AdvanceClock(ctx context.Context, d time.Duration) (engine.Outcome, error) {
	if d < 0 {
		return engine.Outcome{}, fmt.Errorf("advance %s: %w", d, engine.ErrNegativeAdvance)
	}
	c := eventqueue.NewCommand(eventqueue.KindAdvance)
	c.Advance = d
	r, err := s.submit(ctx, c)
	return r.Outcome, err
}

// RemoveSong deletes a song.
func (s *Service) RemoveSong(ctx context.Context, id model.SongID) error {
	c := eventqueue.NewCommand(eventqueue.KindRemoveSong)
	c.SongID = id
	_, err := s.submit(ctx, c)
	return err
}

// activeDeduper returns the deduper of a running service, nil otherwise.
func (s *Service) activeDeduper() dedupe.Deduper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return nil
	}
	return s.deduper
}

// Song returns one song with its current rank.
func (s *Service) Song(_ context.Context, id model.SongID) (types.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return types.Song{}, ErrNotStarted
	}

	snap, err := s.engine.Song(id)
	if err != nil {
		return types.Song{}, err
	}
	out := types.NewSong(snap)
	if r, err := s.engine.Rank(id); err == nil {
		out.Rank = r.Rank
	}
	return out, nil
}

// Songs returns every song in creation order.
func (s *Service) Songs(_ context.Context) ([]types.Song, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return nil, ErrNotStarted
	}

	songs := s.engine.Songs()
	out := make([]types.Song, len(songs))
	for i, snap := range songs {
		out[i] = types.NewSong(snap)
		if r, err := s.engine.Rank(snap.ID); err == nil {
			out[i].Rank = r.Rank
		}
	}
	return out, nil
}

// Events returns up to limit live events, newest last. KindUnknown selects
// every kind and an empty song id every song.
func (s *Service) Events(_ context.Context, kind model.Kind, song model.SongID, limit int) ([]types.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return nil, ErrNotStarted
	}

	var pred func(model.Event) bool
	if song != "" {
		pred = func(ev model.Event) bool { return ev.SongID == song }
	}
	evs := s.engine.QueryEvents(kind, pred)
	if limit > 0 && len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return types.NewEvents(evs), nil
}

// TopN returns the current leaderboard.
func (s *Service) TopN(_ context.Context) ([]types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return nil, ErrNotStarted
	}

	rows := s.engine.Standings()
	out := make([]types.Entry, len(rows))
	for i, r := range rows {
		snap, err := s.engine.Song(r.SongID)
		if err != nil {
			out[i] = types.NewEntry(r, nil)
			continue
		}
		out[i] = types.NewEntry(r, &snap)
	}
	return out, nil
}

// Rank returns the ranking row of one song.
func (s *Service) Rank(_ context.Context, id model.SongID) (types.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return types.Entry{}, ErrNotStarted
	}

	r, err := s.engine.Rank(id)
	if err != nil {
		return types.Entry{}, err
	}
	snap, err := s.engine.Song(id)
	if err != nil {
		return types.NewEntry(r, nil), nil
	}
	return types.NewEntry(r, &snap), nil
}

// Now returns the engine's logical time.
func (s *Service) Now() clock.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.engine == nil {
		return clock.Epoch
	}
	return s.engine.Now()
}

// CheckLeaderboard verifies the leaderboard invariant.
func (s *Service) CheckLeaderboard(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.isStarted {
		return ErrNotStarted
	}
	return s.engine.CheckLeaderboard()
}

// GetStats returns service statistics for monitoring.
func (s *Service) GetStats(ctx context.Context) types.Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := types.Stats{Started: s.isStarted, QueueSize: s.queueSize}
	if !s.isStarted {
		return out
	}

	st := s.engine.Stats()
	out.NowMs = st.Now.Milliseconds()
	out.Songs = st.Songs
	out.Facts = st.Facts
	out.Passes = st.Passes
	out.Firings = st.Firings
	out.FiringsByRule = st.FiringsByRule
	out.Derived = st.Derived
	out.Ignored = st.Ignored
	out.Expired = st.Expired
	out.QueueLength = s.queue.Len(ctx)
	out.DedupeSize = s.deduper.Size()
	out.TopN = s.engine.TopNSize()
	if s.journal != nil {
		if n, err := s.journal.Count(ctx); err == nil {
			out.Journaled = n
		}
	}
	return out
}
