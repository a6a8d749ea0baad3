package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/rules"
	. "github.com/smartystreets/goconvey/convey"
)

func mustEngine(opts ...Option) *Engine {
	e, err := New(opts...)
	So(err, ShouldBeNil)
	return e
}

func mustSong(ctx context.Context, e *Engine, id, artist string) model.SongID {
	sid, err := e.SubmitSong(ctx, model.SongDraft{ID: model.SongID(id), Artist: artist, Title: "title " + id, Genre: model.GenreRock})
	So(err, ShouldBeNil)
	return sid
}

// play starts listening now and ends after d, returning the outcome of the end.
func play(ctx context.Context, e *Engine, id model.SongID, user string, d time.Duration) Outcome {
	_, err := e.SubmitEvent(ctx, model.ListeningStarted(id, user, e.Now()))
	So(err, ShouldBeNil)
	out, err := e.SubmitEvent(ctx, model.ListeningEnded(id, user, e.Now().Add(d)))
	So(err, ShouldBeNil)
	return out
}

func song(e *Engine, id model.SongID) model.Song {
	s, err := e.Song(id)
	So(err, ShouldBeNil)
	return s
}

func kinds(evs []model.Event) []model.Kind {
	out := make([]model.Kind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestEngineConfiguration(t *testing.T) {
	Convey("Given engine construction", t, func() {
		Convey("When the defaults are used", func() {
			e, err := New()

			Convey("Then the engine starts at the epoch with a top 10", func() {
				So(err, ShouldBeNil)
				So(e.Now(), ShouldEqual, clock.Epoch)
				So(e.TopNSize(), ShouldEqual, 10)
				So(e.Leaderboard(), ShouldBeEmpty)
			})
		})

		Convey("When top N is below one", func() {
			_, err := New(WithTopN(0))
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
			So(errors.Is(err, rules.ErrInvalidParams), ShouldBeTrue)
		})

		Convey("When the firing cap is not positive", func() {
			_, err := New(WithMaxFirings(0))
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("When a ttl is negative", func() {
			p := model.DefaultTTLPolicy()
			p[model.KindLiked] = -time.Hour
			_, err := New(WithTTLPolicy(p))
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})

		Convey("When the rule set is empty", func() {
			_, err := New(WithRules())
			So(errors.Is(err, ErrConfiguration), ShouldBeTrue)
		})
	})
}

func TestIngestion(t *testing.T) {
	Convey("Given an engine with one song", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Opeth")

		Convey("When a song is submitted without an id", func() {
			e2 := mustEngine(WithIDGenerator(func() string { return "generated" }))
			sid, err := e2.SubmitSong(ctx, model.SongDraft{Artist: "a", Title: "t"})

			Convey("Then the generator names it", func() {
				So(err, ShouldBeNil)
				So(sid, ShouldEqual, model.SongID("generated"))
			})
		})

		Convey("When the same id is submitted twice", func() {
			_, err := e.SubmitSong(ctx, model.SongDraft{ID: id, Artist: "x", Title: "y"})
			So(errors.Is(err, ErrDuplicateSong), ShouldBeTrue)
		})

		Convey("When the draft is incomplete", func() {
			_, err := e.SubmitSong(ctx, model.SongDraft{Title: "no artist"})
			So(errors.Is(err, ErrInvalidSong), ShouldBeTrue)
		})

		Convey("When an event names an unknown song", func() {
			out, err := e.SubmitEvent(ctx, model.Liked("ghost", "u1", 0))

			Convey("Then it is ignored without an error and nothing is stored", func() {
				So(err, ShouldBeNil)
				So(out.Ignored, ShouldBeTrue)
				So(errors.Is(out.Reason, ErrUnknownSong), ShouldBeTrue)
				So(e.QueryEvents(model.KindLiked, nil), ShouldBeEmpty)
				So(e.Stats().Ignored, ShouldEqual, uint64(1))
			})
		})

		Convey("When a derived kind is submitted", func() {
			for _, k := range []model.Kind{model.KindSkipped, model.KindListened, model.KindEnteredTopN, model.KindStatusChanged} {
				_, err := e.SubmitEvent(ctx, model.Event{Kind: k, SongID: id})
				So(errors.Is(err, ErrDerivedEvent), ShouldBeTrue)
			}
		})

		Convey("When an event has no kind", func() {
			_, err := e.SubmitEvent(ctx, model.Event{SongID: id})
			So(errors.Is(err, ErrInvalidEvent), ShouldBeTrue)
		})

		Convey("When an event is older than the clock", func() {
			So(e.AdvanceClock(ctx, 10*time.Second), ShouldBeNil)
			_, err := e.SubmitEvent(ctx, model.Liked(id, "u1", clock.Time(5*time.Second)))

			Convey("Then it is rejected and has no effect", func() {
				So(errors.Is(err, ErrInvalidTemporalOrder), ShouldBeTrue)
				So(song(e, id).Likes, ShouldEqual, uint64(0))
			})
		})

		Convey("When an explicit epoch time arrives after the clock moved", func() {
			So(e.AdvanceClock(ctx, time.Hour), ShouldBeNil)
			_, err := e.SubmitEvent(ctx, model.Liked(id, "u1", 0).WithTime(clock.Epoch))

			Convey("Then it is rejected instead of being taken as now", func() {
				So(errors.Is(err, ErrInvalidTemporalOrder), ShouldBeTrue)
				So(song(e, id).Likes, ShouldEqual, uint64(0))
			})

			Convey("Then an unpinned zero time still means now", func() {
				_, err := e.SubmitEvent(ctx, model.Liked(id, "u1", 0))
				So(err, ShouldBeNil)
				So(song(e, id).Likes, ShouldEqual, uint64(1))
				So(e.QueryEvents(model.KindLiked, nil)[0].OccurredAt, ShouldEqual, clock.Time(time.Hour))
			})
		})

		Convey("When an advance would overflow logical time", func() {
			So(e.AdvanceClock(ctx, time.Hour), ShouldBeNil)
			err := e.AdvanceClock(ctx, time.Duration(math.MaxInt64))

			Convey("Then it fails and the clock stays put", func() {
				So(errors.Is(err, ErrClockOverflow), ShouldBeTrue)
				So(e.Now(), ShouldEqual, clock.Time(time.Hour))
			})
		})

		Convey("When an event is in the future", func() {
			_, err := e.SubmitEvent(ctx, model.Liked(id, "u1", clock.Time(time.Hour)))

			Convey("Then the clock moves to it first", func() {
				So(err, ShouldBeNil)
				So(e.Now(), ShouldEqual, clock.Time(time.Hour))
				So(song(e, id).Likes, ShouldEqual, uint64(1))
			})
		})

		Convey("When the clock is moved backwards", func() {
			err := e.AdvanceClock(ctx, -time.Second)
			So(errors.Is(err, ErrNegativeAdvance), ShouldBeTrue)
			_, err = e.AdvanceTo(ctx, clock.Time(-1))
			So(errors.Is(err, ErrNegativeAdvance), ShouldBeTrue)
		})

		Convey("When looking up a missing song", func() {
			_, err := e.Song("nope")
			So(errors.Is(err, ErrSongNotFound), ShouldBeTrue)
			_, err = e.Rank("nope")
			So(errors.Is(err, ErrSongNotFound), ShouldBeTrue)
		})
	})
}

func TestLikeCounting(t *testing.T) {
	Convey("Given a song", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Opeth")

		Convey("When it is liked once", func() {
			_, err := e.SubmitEvent(ctx, model.Liked(id, "u1", 0))
			So(err, ShouldBeNil)

			Convey("Then likes is 1 and stays 1 across later passes", func() {
				So(song(e, id).Likes, ShouldEqual, uint64(1))
				So(e.AdvanceClock(ctx, time.Hour), ShouldBeNil)
				mustSong(ctx, e, "s2", "Other")
				So(song(e, id).Likes, ShouldEqual, uint64(1))
			})

			Convey("Then a second like counts once more", func() {
				_, err := e.SubmitEvent(ctx, model.Liked(id, "u2", 0))
				So(err, ShouldBeNil)
				So(song(e, id).Likes, ShouldEqual, uint64(2))
			})
		})
	})
}

func TestSkipDetection(t *testing.T) {
	Convey("Given a song", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Opeth")

		Convey("When it is played for 10 seconds", func() {
			out := play(ctx, e, id, "u1", 10*time.Second)

			Convey("Then it counts as one listen and the pair is consumed", func() {
				s := song(e, id)
				So(s.TimesListened, ShouldEqual, uint64(1))
				So(s.TimesSkipped, ShouldEqual, uint64(0))
				So(out.Derived[0].Kind, ShouldEqual, model.KindListened)
				So(out.Derived[0].StartedAt, ShouldEqual, clock.Epoch)
				So(e.QueryEvents(model.KindListeningStarted, nil), ShouldBeEmpty)
				So(e.QueryEvents(model.KindListeningEnded, nil), ShouldBeEmpty)
			})
		})

		Convey("When it is played for 3 seconds", func() {
			out := play(ctx, e, id, "u1", 3*time.Second)

			Convey("Then it counts as one skip", func() {
				s := song(e, id)
				So(s.TimesSkipped, ShouldEqual, uint64(1))
				So(s.TimesListened, ShouldEqual, uint64(0))
				So(s.SkipStreak, ShouldEqual, 1)
				So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindSkipped})
				So(len(e.QueryEvents(model.KindSkipped, nil)), ShouldEqual, 1)
			})
		})

		Convey("When it is played for exactly the threshold", func() {
			play(ctx, e, id, "u1", 5*time.Second)
			So(song(e, id).TimesListened, ShouldEqual, uint64(1))
		})

		Convey("When an end arrives without a start", func() {
			out, err := e.SubmitEvent(ctx, model.ListeningEnded(id, "u1", 0))

			Convey("Then it is discarded and nothing is counted", func() {
				So(err, ShouldBeNil)
				So(out.Derived, ShouldBeEmpty)
				So(e.QueryEvents(model.KindListeningEnded, nil), ShouldBeEmpty)
				So(song(e, id).Completed(), ShouldEqual, uint64(0))
			})
		})

		Convey("When two users overlap", func() {
			_, _ = e.SubmitEvent(ctx, model.ListeningStarted(id, "u1", 0))
			_, _ = e.SubmitEvent(ctx, model.ListeningStarted(id, "u2", clock.Time(8*time.Second)))
			_, err := e.SubmitEvent(ctx, model.ListeningEnded(id, "u1", clock.Time(10*time.Second)))
			So(err, ShouldBeNil)

			Convey("Then the end pairs with its own user's start", func() {
				So(song(e, id).TimesListened, ShouldEqual, uint64(1))
				left := e.QueryEvents(model.KindListeningStarted, nil)
				So(len(left), ShouldEqual, 1)
				So(left[0].SourceUserID, ShouldEqual, "u2")
			})
		})

		Convey("When a user restarts before ending", func() {
			_, _ = e.SubmitEvent(ctx, model.ListeningStarted(id, "u1", 0))
			_, _ = e.SubmitEvent(ctx, model.ListeningStarted(id, "u1", clock.Time(20*time.Second)))
			_, err := e.SubmitEvent(ctx, model.ListeningEnded(id, "u1", clock.Time(22*time.Second)))
			So(err, ShouldBeNil)

			Convey("Then the end pairs with the most recent start", func() {
				So(song(e, id).TimesSkipped, ShouldEqual, uint64(1))
				So(len(e.QueryEvents(model.KindListeningStarted, nil)), ShouldEqual, 1)
			})
		})
	})
}

func TestBoringLifecycle(t *testing.T) {
	Convey("Given a song that gets skipped", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Opeth")

		play(ctx, e, id, "u1", 3*time.Second)
		play(ctx, e, id, "u1", 3*time.Second)

		Convey("Then two skips are not enough", func() {
			So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
		})

		Convey("When it is skipped a third time", func() {
			out := play(ctx, e, id, "u1", 3*time.Second)

			Convey("Then it is declared boring with a status change event", func() {
				So(song(e, id).Status, ShouldEqual, model.StatusBoring)
				So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindSkipped, model.KindStatusChanged})
				change := out.Derived[1]
				So(change.From, ShouldEqual, model.StatusOrdinary)
				So(change.To, ShouldEqual, model.StatusBoring)
			})

			Convey("And then listened to eight times", func() {
				for i := 0; i < 8; i++ {
					play(ctx, e, id, "u1", 10*time.Second)
				}

				Convey("Then it is still boring", func() {
					So(song(e, id).Status, ShouldEqual, model.StatusBoring)
				})

				Convey("And a ninth listen recovers it", func() {
					out := play(ctx, e, id, "u1", 10*time.Second)
					So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
					So(kinds(out.Derived), ShouldContain, model.KindStatusChanged)
				})
			})

			Convey("And a popularity trigger arrives", func() {
				_, err := e.SubmitEvent(ctx, model.BecamePopular("Opeth", 0))
				So(err, ShouldBeNil)

				Convey("Then a boring song does not become popular", func() {
					So(song(e, id).Status, ShouldEqual, model.StatusBoring)
				})
			})
		})
	})

	Convey("Given a boring song whose recent history is mostly skips", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Opeth")
		for i := 0; i < 4; i++ {
			play(ctx, e, id, "u1", 3*time.Second)
		}
		for i := 0; i < 11; i++ {
			play(ctx, e, id, "u1", 10*time.Second)
		}

		Convey("Then eleven listens against four skips are not enough", func() {
			So(song(e, id).Status, ShouldEqual, model.StatusBoring)
		})

		Convey("When the skips leave the trailing window", func() {
			// Skips ended at 3s..12s and listens at 22s..122s.
			_, err := e.AdvanceTo(ctx, clock.Time(48*time.Hour+15*time.Second))
			So(err, ShouldBeNil)

			Convey("Then the song recovers on time alone", func() {
				So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
			})
		})
	})
}

func TestPopularity(t *testing.T) {
	Convey("Given a song by an artist", t, func() {
		ctx := context.Background()
		e := mustEngine()
		id := mustSong(ctx, e, "s1", "Gojira")

		Convey("When the artist becomes popular", func() {
			out, err := e.SubmitEvent(ctx, model.BecamePopular("Gojira", 0))
			So(err, ShouldBeNil)

			Convey("Then the song is popular", func() {
				So(song(e, id).Status, ShouldEqual, model.StatusPopular)
				So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindStatusChanged})
			})

			Convey("Then it stays popular for 19 hours", func() {
				So(e.AdvanceClock(ctx, 19*time.Hour), ShouldBeNil)
				So(song(e, id).Status, ShouldEqual, model.StatusPopular)
			})

			Convey("Then it reverts after 25 hours", func() {
				out, err := e.Advance(ctx, 25*time.Hour)
				So(err, ShouldBeNil)
				So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
				So(len(out.Derived), ShouldEqual, 1)
				So(out.Derived[0].From, ShouldEqual, model.StatusPopular)
				So(out.Derived[0].To, ShouldEqual, model.StatusOrdinary)
			})

			Convey("Then a fresh trigger re-arms it", func() {
				So(e.AdvanceClock(ctx, 10*time.Hour), ShouldBeNil)
				_, err := e.SubmitEvent(ctx, model.BecamePopular("s1", 0))
				So(err, ShouldBeNil)
				So(e.AdvanceClock(ctx, 15*time.Hour), ShouldBeNil)
				So(song(e, id).Status, ShouldEqual, model.StatusPopular)
				So(e.AdvanceClock(ctx, 5*time.Hour), ShouldBeNil)
				So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
			})
		})

		Convey("When someone else becomes popular", func() {
			_, err := e.SubmitEvent(ctx, model.BecamePopular("Mastodon", 0))
			So(err, ShouldBeNil)
			So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
		})
	})

	Convey("Given a like surge threshold of three", t, func() {
		ctx := context.Background()
		p := rules.DefaultParams()
		p.PopularLikeThreshold = 3
		e := mustEngine(WithParams(p))
		id := mustSong(ctx, e, "s1", "Gojira")

		_, _ = e.SubmitEvent(ctx, model.Liked(id, "u1", 0))
		_, _ = e.SubmitEvent(ctx, model.Liked(id, "u2", 0))

		Convey("When the third like arrives", func() {
			out, err := e.SubmitEvent(ctx, model.Liked(id, "u3", 0))
			So(err, ShouldBeNil)

			Convey("Then a trigger is derived and the song becomes popular", func() {
				So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindBecamePopular, model.KindStatusChanged})
				So(out.Derived[0].CauserID, ShouldEqual, "s1")
				So(song(e, id).Status, ShouldEqual, model.StatusPopular)
			})

			Convey("Then the trigger expires without being re-derived from the same likes", func() {
				So(e.AdvanceClock(ctx, 21*time.Hour), ShouldBeNil)
				So(song(e, id).Status, ShouldEqual, model.StatusOrdinary)
				So(e.QueryEvents(model.KindBecamePopular, nil), ShouldBeEmpty)
			})
		})
	})
}

func TestLeaderboard(t *testing.T) {
	Convey("Given a top 4 and five songs", t, func() {
		ctx := context.Background()
		var heard []model.Event
		e := mustEngine(WithTopN(4), WithListener(func(_ context.Context, ev model.Event) {
			heard = append(heard, ev)
		}))
		for i := 1; i <= 5; i++ {
			mustSong(ctx, e, fmt.Sprintf("s%d", i), "artist")
		}

		Convey("Then the first four filled the board in creation order", func() {
			So(e.Leaderboard(), ShouldResemble, []model.SongID{"s1", "s2", "s3", "s4"})
			entered := e.QueryEvents(model.KindEnteredTopN, nil)
			So(len(entered), ShouldEqual, 4)
			for i, ev := range entered {
				So(ev.Revoked, ShouldBeFalse)
				So(ev.Rank, ShouldEqual, i+1)
			}
			So(len(heard), ShouldEqual, 4)
			So(e.CheckLeaderboard(), ShouldBeNil)
		})

		Convey("When the fifth song is listened to", func() {
			out := play(ctx, e, "s5", "u1", 10*time.Second)

			Convey("Then it overtakes and the last member is revoked", func() {
				So(e.Leaderboard(), ShouldResemble, []model.SongID{"s5", "s1", "s2", "s3"})
				So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindListened, model.KindEnteredTopN, model.KindEnteredTopN})
				revoked, entered := out.Derived[1], out.Derived[2]
				So(revoked.SongID, ShouldEqual, model.SongID("s4"))
				So(revoked.Revoked, ShouldBeTrue)
				So(revoked.Rank, ShouldEqual, 5)
				So(entered.SongID, ShouldEqual, model.SongID("s5"))
				So(entered.Revoked, ShouldBeFalse)
				So(entered.Rank, ShouldEqual, 1)
				So(e.CheckLeaderboard(), ShouldBeNil)
			})

			Convey("And a member reaches the same count later", func() {
				out := play(ctx, e, "s2", "u1", 10*time.Second)

				Convey("Then the earlier song keeps its place and membership is unchanged", func() {
					So(e.Leaderboard(), ShouldResemble, []model.SongID{"s5", "s2", "s1", "s3"})
					So(kinds(out.Derived), ShouldResemble, []model.Kind{model.KindListened})
				})
			})
		})

		Convey("When a member is removed", func() {
			So(e.RemoveSong(ctx, "s2"), ShouldBeNil)

			Convey("Then it is revoked with rank 0 and the next song enters", func() {
				So(e.Leaderboard(), ShouldResemble, []model.SongID{"s1", "s3", "s4", "s5"})
				last := heard[len(heard)-2:]
				So(last[0].SongID, ShouldEqual, model.SongID("s2"))
				So(last[0].Revoked, ShouldBeTrue)
				So(last[0].Rank, ShouldEqual, 0)
				So(last[1].SongID, ShouldEqual, model.SongID("s5"))
				So(last[1].Rank, ShouldEqual, 4)
			})

			Convey("Then removing it again fails", func() {
				So(errors.Is(e.RemoveSong(ctx, "s2"), ErrSongNotFound), ShouldBeTrue)
			})
		})
	})
}

// loopRule proposes a new activation forever.
type loopRule struct{ n uint64 }

func (*loopRule) Name() string { return "loop" }
func (r *loopRule) Next(*rules.Env) (rules.Activation, bool) {
	r.n++
	return rules.Activation{Rule: "loop", Version: r.n}, true
}
func (*loopRule) Fire(*rules.Env, rules.Activation) error { return nil }

func TestFixpointGuard(t *testing.T) {
	Convey("Given a rule set that never settles", t, func() {
		e := mustEngine(WithRules(&loopRule{}), WithMaxFirings(50))

		Convey("When a pass runs", func() {
			err := e.AdvanceClock(context.Background(), time.Second)

			Convey("Then it stops at the cap with ErrNoFixpoint", func() {
				So(errors.Is(err, ErrNoFixpoint), ShouldBeTrue)
				So(e.Stats().Firings, ShouldEqual, uint64(50))
			})
		})
	})
}

func TestExpirySweep(t *testing.T) {
	Convey("Given an engine that sweeps on advance", t, func() {
		ctx := context.Background()
		e := mustEngine(WithSweepOnAdvance(true))
		id := mustSong(ctx, e, "s1", "a")
		_, _ = e.SubmitEvent(ctx, model.Liked(id, "u1", 0))

		Convey("When the like window passes", func() {
			So(e.AdvanceClock(ctx, 24*time.Hour), ShouldBeNil)

			Convey("Then the like is dropped but the count stays", func() {
				So(e.QueryEvents(model.KindLiked, nil), ShouldBeEmpty)
				So(e.Stats().Expired, ShouldBeGreaterThanOrEqualTo, uint64(1))
				So(song(e, id).Likes, ShouldEqual, uint64(1))
			})
		})
	})
}

type step struct {
	song    int
	user    int
	d       time.Duration
	like    bool
	advance time.Duration
}

func script(seed int64, n int) []step {
	rng := rand.New(rand.NewSource(seed))
	out := make([]step, n)
	for i := range out {
		out[i] = step{
			song:    rng.Intn(8),
			user:    rng.Intn(3),
			d:       time.Duration(rng.Intn(12)) * time.Second,
			like:    rng.Intn(4) == 0,
			advance: time.Duration(rng.Intn(3)) * time.Hour,
		}
	}
	return out
}

func runScript(steps []step) (*Engine, []model.Event, error) {
	ctx := context.Background()
	var derived []model.Event
	e, err := New(WithTopN(3), WithListener(func(_ context.Context, ev model.Event) { derived = append(derived, ev) }))
	if err != nil {
		return nil, nil, err
	}
	for i := 0; i < 8; i++ {
		if _, err := e.SubmitSong(ctx, model.SongDraft{ID: model.SongID(fmt.Sprintf("s%d", i)), Artist: fmt.Sprintf("a%d", i%3), Title: "t"}); err != nil {
			return nil, nil, err
		}
	}
	if _, err := e.SubmitEvent(ctx, model.BecamePopular("a1", 0)); err != nil {
		return nil, nil, err
	}
	for _, s := range steps {
		id := model.SongID(fmt.Sprintf("s%d", s.song))
		user := fmt.Sprintf("u%d", s.user)
		if s.like {
			if _, err := e.SubmitEvent(ctx, model.Liked(id, user, 0)); err != nil {
				return nil, nil, err
			}
		}
		if _, err := e.SubmitEvent(ctx, model.ListeningStarted(id, user, 0)); err != nil {
			return nil, nil, err
		}
		if _, err := e.SubmitEvent(ctx, model.ListeningEnded(id, user, e.Now().Add(s.d))); err != nil {
			return nil, nil, err
		}
		if err := e.CheckLeaderboard(); err != nil {
			return nil, nil, err
		}
		if err := e.AdvanceClock(ctx, s.advance); err != nil {
			return nil, nil, err
		}
	}
	return e, derived, nil
}

func TestDeterminism(t *testing.T) {
	Convey("Given the same random script run twice", t, func() {
		steps := script(11, 300)
		e1, d1, err1 := runScript(steps)
		e2, d2, err2 := runScript(steps)

		Convey("Then both runs succeed with a consistent leaderboard", func() {
			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(e1.CheckLeaderboard(), ShouldBeNil)
		})

		Convey("Then states and derived events are identical", func() {
			So(e1.Songs(), ShouldResemble, e2.Songs())
			So(d1, ShouldResemble, d2)
			So(e1.Leaderboard(), ShouldResemble, e2.Leaderboard())
			So(e1.Now(), ShouldEqual, e2.Now())
		})

		Convey("Then counters add up and every pair was classified", func() {
			var completed uint64
			for _, s := range e1.Songs() {
				completed += s.Completed()
			}
			So(completed, ShouldEqual, uint64(len(steps)))
		})
	})
}
