package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	eventqueue "github.com/okian/loudsound/internal/adapters/mq/queue"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
)

func init() { //nolint:gochecknoinits // quiet global logger for tests
	_ = logger.Init(logger.WithWriter(io.Discard))
}

func startService(opts ...Option) *Service {
	s := New(opts...)
	So(s.Start(context.Background()), ShouldBeNil)
	return s
}

func addSong(ctx context.Context, s *Service, id, artist string) {
	got, err := s.SubmitSong(ctx, model.SongDraft{ID: model.SongID(id), Artist: artist, Title: "Track " + id, Duration: 4 * time.Minute})
	So(err, ShouldBeNil)
	So(got, ShouldEqual, model.SongID(id))
}

// listen plays song id for d starting at the current logical time.
func listen(ctx context.Context, s *Service, id, user string, d time.Duration) engine.Outcome {
	now := s.Now()
	_, err := s.SubmitEvent(ctx, model.ListeningStarted(model.SongID(id), user, now))
	So(err, ShouldBeNil)
	out, err := s.SubmitEvent(ctx, model.ListeningEnded(model.SongID(id), user, now.Add(d)))
	So(err, ShouldBeNil)
	return out
}

func TestServiceLifecycle(t *testing.T) {
	Convey("Given a service that was never started", t, func() {
		s := New()
		ctx := context.Background()

		Convey("Then mutations and reads report ErrNotStarted", func() {
			_, err := s.SubmitSong(ctx, model.SongDraft{Artist: "a", Title: "t"})
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			_, err = s.SubmitEvent(ctx, model.Liked("s1", "u1", 0))
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			_, err = s.Songs(ctx)
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			_, err = s.TopN(ctx)
			So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
			So(s.Now(), ShouldEqual, clock.Epoch)
			So(s.GetStats(ctx).Started, ShouldBeFalse)
		})

		Convey("Then Stop is a no-op", func() {
			So(func() { s.Stop() }, ShouldNotPanic)
		})
	})

	Convey("Given a started service", t, func() {
		s := startService()
		ctx := context.Background()

		Convey("When it is started twice", func() {
			So(s.Start(ctx), ShouldBeNil)
			So(s.GetStats(ctx).Started, ShouldBeTrue)
			s.Stop()
		})

		Convey("When it is stopped", func() {
			s.Stop()

			Convey("Then further submissions fail", func() {
				_, err := s.SubmitSong(ctx, model.SongDraft{Artist: "a", Title: "t"})
				So(errors.Is(err, ErrNotStarted), ShouldBeTrue)
				So(func() { s.Stop() }, ShouldNotPanic)
			})
		})
	})

	Convey("Given an engine configuration that is invalid", t, func() {
		s := New(WithEngineOptions(engine.WithTopN(0)))

		Convey("Then Start fails with the engine's configuration error", func() {
			err := s.Start(context.Background())
			So(errors.Is(err, engine.ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestServiceIngestion(t *testing.T) {
	Convey("Given a running service with one song", t, func() {
		s := startService(WithEngineOptions(engine.WithTopN(2)))
		defer s.Stop()
		ctx := context.Background()
		addSong(ctx, s, "s1", "Opeth")

		Convey("When a song without an id is submitted", func() {
			id, err := s.SubmitSong(ctx, model.SongDraft{Artist: "Gojira", Title: "Flying Whales"})

			Convey("Then an id is generated", func() {
				So(err, ShouldBeNil)
				So(id, ShouldNotBeEmpty)
				got, err := s.Song(ctx, id)
				So(err, ShouldBeNil)
				So(got.Artist, ShouldEqual, "Gojira")
			})
		})

		Convey("When an invalid song is submitted", func() {
			_, err := s.SubmitSong(ctx, model.SongDraft{Title: "no artist"})

			Convey("Then the engine's validation error comes back", func() {
				So(errors.Is(err, engine.ErrInvalidSong), ShouldBeTrue)
			})
		})

		Convey("When a like without a time is submitted", func() {
			_, err := s.AdvanceClock(ctx, time.Minute)
			So(err, ShouldBeNil)
			out, err := s.SubmitEvent(ctx, model.Liked("s1", "u1", 0))

			Convey("Then it is stored at the current logical time", func() {
				So(err, ShouldBeNil)
				So(out.Ignored, ShouldBeFalse)
				evs, err := s.Events(ctx, model.KindLiked, "", 0)
				So(err, ShouldBeNil)
				So(evs, ShouldHaveLength, 1)
				So(evs[0].OccurredAtMs, ShouldEqual, int64(60_000))
				song, _ := s.Song(ctx, "s1")
				So(song.Likes, ShouldEqual, uint64(1))
			})
		})

		Convey("When the same event id is submitted twice", func() {
			ev := model.Liked("s1", "u1", 0)
			ev.ID = "evt-1"
			first, err := s.SubmitEvent(ctx, ev)
			So(err, ShouldBeNil)
			second, err := s.SubmitEvent(ctx, ev)

			Convey("Then the second is ignored as a duplicate", func() {
				So(err, ShouldBeNil)
				So(first.Ignored, ShouldBeFalse)
				So(second.Ignored, ShouldBeTrue)
				So(errors.Is(second.Reason, ErrDuplicateEvent), ShouldBeTrue)
				song, _ := s.Song(ctx, "s1")
				So(song.Likes, ShouldEqual, uint64(1))
				So(s.GetStats(ctx).DedupeSize, ShouldEqual, int64(1))
			})
		})

		Convey("When an event for an unknown song is submitted with an id", func() {
			ev := model.Liked("ghost", "u1", 0)
			ev.ID = "evt-ghost"
			out, err := s.SubmitEvent(ctx, ev)
			So(err, ShouldBeNil)

			Convey("Then it is ignored and its id stays available", func() {
				So(out.Ignored, ShouldBeTrue)
				So(errors.Is(out.Reason, engine.ErrUnknownSong), ShouldBeTrue)
				addSong(ctx, s, "ghost", "Mastodon")
				retry, err := s.SubmitEvent(ctx, ev)
				So(err, ShouldBeNil)
				So(retry.Ignored, ShouldBeFalse)
			})
		})

		Convey("When a rejected event is retried with the same id", func() {
			ev := model.Liked("s1", "u1", 0)
			ev.ID = "evt-late"
			_, err := s.AdvanceClock(ctx, time.Hour)
			So(err, ShouldBeNil)
			ev.OccurredAt = clock.Time(time.Minute)
			_, err = s.SubmitEvent(ctx, ev)
			So(errors.Is(err, engine.ErrInvalidTemporalOrder), ShouldBeTrue)

			Convey("Then the corrected retry is accepted", func() {
				ev.OccurredAt = 0
				out, err := s.SubmitEvent(ctx, ev)
				So(err, ShouldBeNil)
				So(out.Ignored, ShouldBeFalse)
			})
		})

		Convey("When a derived event is submitted", func() {
			_, err := s.SubmitEvent(ctx, model.Event{Kind: model.KindSkipped, SongID: "s1"})

			Convey("Then it is rejected", func() {
				So(errors.Is(err, engine.ErrDerivedEvent), ShouldBeTrue)
			})
		})

		Convey("When the clock is moved backwards", func() {
			_, err := s.AdvanceClock(ctx, -time.Second)

			Convey("Then it is rejected", func() {
				So(errors.Is(err, engine.ErrNegativeAdvance), ShouldBeTrue)
			})
		})

		Convey("When the song is removed", func() {
			So(s.RemoveSong(ctx, "s1"), ShouldBeNil)

			Convey("Then it is gone and a second removal fails", func() {
				_, err := s.Song(ctx, "s1")
				So(errors.Is(err, engine.ErrSongNotFound), ShouldBeTrue)
				So(errors.Is(s.RemoveSong(ctx, "s1"), engine.ErrSongNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestServiceReads(t *testing.T) {
	Convey("Given three songs with different listen counts", t, func() {
		s := startService(WithEngineOptions(engine.WithTopN(2)))
		defer s.Stop()
		ctx := context.Background()
		addSong(ctx, s, "s1", "Opeth")
		addSong(ctx, s, "s2", "Gojira")
		addSong(ctx, s, "s3", "Mastodon")

		listen(ctx, s, "s2", "u1", 10*time.Second)
		listen(ctx, s, "s2", "u1", 10*time.Second)
		listen(ctx, s, "s1", "u1", 10*time.Second)
		out := listen(ctx, s, "s3", "u1", 2*time.Second)
		So(kindsOf(out), ShouldResemble, []model.Kind{model.KindSkipped})

		Convey("Then the leaderboard holds the two most listened", func() {
			top, err := s.TopN(ctx)
			So(err, ShouldBeNil)
			So(top, ShouldHaveLength, 2)
			So(top[0].SongID, ShouldEqual, model.SongID("s2"))
			So(top[0].Rank, ShouldEqual, 1)
			So(top[0].Listens, ShouldEqual, uint64(2))
			So(top[0].Artist, ShouldEqual, "Gojira")
			So(top[1].SongID, ShouldEqual, model.SongID("s1"))
			So(s.CheckLeaderboard(ctx), ShouldBeNil)
		})

		Convey("Then ranks are reported per song", func() {
			r, err := s.Rank(ctx, "s1")
			So(err, ShouldBeNil)
			So(r.Rank, ShouldEqual, 2)

			song, err := s.Song(ctx, "s2")
			So(err, ShouldBeNil)
			So(song.Rank, ShouldEqual, 1)
			So(song.TimesListened, ShouldEqual, uint64(2))
		})

		Convey("Then songs are listed in creation order", func() {
			songs, err := s.Songs(ctx)
			So(err, ShouldBeNil)
			So(songs, ShouldHaveLength, 3)
			So(songs[0].ID, ShouldEqual, model.SongID("s1"))
			So(songs[2].TimesSkipped, ShouldEqual, uint64(1))
		})

		Convey("Then events can be filtered by song and limited", func() {
			evs, err := s.Events(ctx, model.KindUnknown, "s2", 0)
			So(err, ShouldBeNil)
			So(len(evs), ShouldBeGreaterThanOrEqualTo, 2)
			for _, ev := range evs {
				So(ev.SongID, ShouldEqual, model.SongID("s2"))
			}
			last, err := s.Events(ctx, model.KindListened, "", 1)
			So(err, ShouldBeNil)
			So(last, ShouldHaveLength, 1)
			So(last[0].SongID, ShouldEqual, model.SongID("s1"))
		})

		Convey("Then stats reflect the activity", func() {
			st := s.GetStats(ctx)
			So(st.Started, ShouldBeTrue)
			So(st.Songs, ShouldEqual, 3)
			So(st.TopN, ShouldEqual, 2)
			So(st.Firings, ShouldBeGreaterThan, uint64(0))
			So(st.NowMs, ShouldEqual, s.Now().Milliseconds())
		})
	})
}

func TestServiceBackpressure(t *testing.T) {
	Convey("Given a service whose queue is closed underneath it", t, func() {
		s := startService(WithQueueSize(1))
		ctx := context.Background()
		_ = s.queue.Close()
		<-s.worker.Done()

		Convey("Then submissions report the stopped queue", func() {
			_, err := s.SubmitSong(ctx, model.SongDraft{Artist: "a", Title: "t"})
			So(errors.Is(err, ErrStopped), ShouldBeTrue)
		})

		s.Stop()
	})

	Convey("Given a service whose worker is blocked", t, func() {
		s := startService(WithQueueSize(1))
		ctx := context.Background()
		s.mu.Lock()

		// the worker holds the first command and the dequeue loop the second
		var pending []eventqueue.Command
		for i := 0; i < 3; i++ {
			c := songCommand(fmt.Sprintf("b%d", i))
			So(s.queue.Enqueue(ctx, c), ShouldBeTrue)
			pending = append(pending, c)
			if i < 2 {
				waitFor(func() bool { return s.queue.Len(ctx) == 0 })
			}
		}

		Convey("Then a further submission is rejected with backpressure", func() {
			done := make(chan error, 1)
			go func() {
				_, err := s.SubmitSong(ctx, model.SongDraft{Artist: "a", Title: "overflow"})
				done <- err
			}()
			select {
			case err := <-done:
				So(errors.Is(err, ErrBackpressure), ShouldBeTrue)
			case <-time.After(2 * time.Second):
				So("submission blocked", ShouldBeEmpty)
			}
		})

		s.mu.Unlock()
		for _, c := range pending {
			So((<-c.Reply).Err, ShouldBeNil)
		}
		s.Stop()
	})
}

func songCommand(id string) eventqueue.Command {
	c := eventqueue.NewCommand(eventqueue.KindSubmitSong)
	c.Draft = model.SongDraft{ID: model.SongID(id), Artist: "Band " + id, Title: "Song " + id}
	return c
}

func waitFor(cond func() bool) {
	deadline := time.Now().Add(2 * time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	So(cond(), ShouldBeTrue)
}

func TestServiceJournalReplay(t *testing.T) {
	Convey("Given a journaled service that has processed activity", t, func() {
		path := filepath.Join(t.TempDir(), "journal.db")
		ctx := context.Background()
		opts := []Option{WithJournalPath(path), WithEngineOptions(engine.WithTopN(2))}

		s := startService(opts...)
		addSong(ctx, s, "s1", "Opeth")
		addSong(ctx, s, "s2", "Gojira")
		listen(ctx, s, "s1", "u1", 10*time.Second)
		for i := 0; i < 3; i++ {
			listen(ctx, s, "s2", "u1", 2*time.Second)
		}
		ev := model.Liked("s1", "u2", 0)
		ev.ID = "like-1"
		_, err := s.SubmitEvent(ctx, ev)
		So(err, ShouldBeNil)
		_, err = s.SubmitEvent(ctx, model.Liked("ghost", "u1", 0))
		So(err, ShouldBeNil)
		_, err = s.AdvanceClock(ctx, time.Hour)
		So(err, ShouldBeNil)
		So(s.RemoveSong(ctx, "s1"), ShouldBeNil)
		addSong(ctx, s, "s3", "Mastodon")

		wantSongs, _ := s.Songs(ctx)
		wantTop, _ := s.TopN(ctx)
		wantNow := s.Now()
		wantJournaled := s.GetStats(ctx).Journaled
		s.Stop()

		Convey("When a new service replays the journal", func() {
			r := startService(opts...)
			defer r.Stop()

			Convey("Then it reaches the same state", func() {
				So(wantJournaled, ShouldEqual, 14)
				So(r.Now(), ShouldEqual, wantNow)
				songs, _ := r.Songs(ctx)
				So(songs, ShouldResemble, wantSongs)
				top, _ := r.TopN(ctx)
				So(top, ShouldResemble, wantTop)
				So(songs[0].ID, ShouldEqual, model.SongID("s2"))
				So(songs[0].Status, ShouldEqual, model.StatusBoring)
			})

			Convey("Then replayed event ids are still deduplicated", func() {
				out, err := r.SubmitEvent(ctx, ev)
				So(err, ShouldBeNil)
				So(out.Ignored, ShouldBeTrue)
				So(errors.Is(out.Reason, ErrDuplicateEvent), ShouldBeTrue)
			})
		})
	})
}

func kindsOf(out engine.Outcome) []model.Kind {
	ks := make([]model.Kind, len(out.Derived))
	for i, ev := range out.Derived {
		ks[i] = ev.Kind
	}
	return ks
}
