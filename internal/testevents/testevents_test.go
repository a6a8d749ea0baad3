package testevents

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/loudsound/internal/adapters/http/api"
	service "github.com/okian/loudsound/internal/app"
	"github.com/okian/loudsound/internal/domain/types"
	"github.com/okian/loudsound/pkg/logger"
)

func init() { //nolint:gochecknoinits // quiet global logger for tests
	_ = logger.Init(logger.WithWriter(io.Discard))
}

func newServer() (*httptest.Server, *service.Service) {
	svc := service.New()
	So(svc.Start(context.Background()), ShouldBeNil)
	mux := http.NewServeMux()
	api.NewServer(svc, 1000).Register(context.Background(), mux)
	return httptest.NewServer(mux), svc
}

func smallConfig(url string) *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = url
	cfg.Songs = 12
	cfg.Sessions = 150
	cfg.Users = 10
	cfg.Workers = 4
	return cfg
}

func TestGeneratePlan(t *testing.T) {
	Convey("Given a seeded configuration", t, func() {
		cfg := smallConfig("http://unused")
		ctx := context.Background()

		Convey("Then the plan is deterministic", func() {
			a, err := generatePlan(ctx, cfg, 0)
			So(err, ShouldBeNil)
			b, err := generatePlan(ctx, cfg, 0)
			So(err, ShouldBeNil)
			So(a.Songs, ShouldResemble, b.Songs)
			So(a.Events, ShouldResemble, b.Events)
		})

		Convey("Then events never go back in time and counters add up", func() {
			p, err := generatePlan(ctx, cfg, 5000)
			So(err, ShouldBeNil)
			So(p.Songs, ShouldHaveLength, cfg.Songs)
			So(p.Events[0].OccurredAtMs, ShouldEqual, 5000)

			var listens, skips, likes uint64
			for _, n := range p.Listens {
				listens += n
			}
			for _, n := range p.Skips {
				skips += n
			}
			for _, n := range p.Likes {
				likes += n
			}
			So(listens+skips, ShouldEqual, uint64(cfg.Sessions))
			So(len(p.Events), ShouldEqual, 2*cfg.Sessions+int(likes))

			ids := make(map[string]struct{})
			for i, ev := range p.Events {
				_, seen := ids[ev.EventID]
				So(seen, ShouldBeFalse)
				ids[ev.EventID] = struct{}{}
				if i > 0 {
					So(ev.OccurredAtMs, ShouldBeGreaterThanOrEqualTo, p.Events[i-1].OccurredAtMs)
				}
			}
		})

		Convey("Then an empty catalog is rejected", func() {
			cfg.Songs = 0
			_, err := generatePlan(ctx, cfg, 0)
			So(err, ShouldNotBeNil)
		})
	})
}

func TestValidate(t *testing.T) {
	Convey("Given the default configuration", t, func() {
		cfg := DefaultConfig()
		So(cfg.Validate(), ShouldBeNil)

		Convey("Then bad values are rejected", func() {
			for _, mutate := range []func(*Config){
				func(c *Config) { c.BaseURL = "" },
				func(c *Config) { c.Workers = 0 },
				func(c *Config) { c.LikeRatio = 2 },
				func(c *Config) { c.SkipThreshold = time.Millisecond },
			} {
				c := *DefaultConfig()
				mutate(&c)
				So(errors.Is(c.Validate(), ErrInvalidConfig), ShouldBeTrue)
			}
		})
	})
}

func TestRun(t *testing.T) {
	Convey("Given a running loudsound server", t, func() {
		srv, svc := newServer()
		defer srv.Close()
		defer svc.Stop()
		ctx := context.Background()

		Convey("When the event test runs", func() {
			cfg := smallConfig(srv.URL)
			cfg.OutputFile = filepath.Join(t.TempDir(), "plan.json")
			stats, err := Run(ctx, cfg)

			Convey("Then every event is accepted once and verification passes", func() {
				So(err, ShouldBeNil)
				So(stats.SongsCreated, ShouldEqual, cfg.Songs)
				So(stats.EventsAccepted, ShouldEqual, stats.EventsGenerated)
				So(stats.EventsDuplicate, ShouldBeGreaterThan, 0)
				So(stats.EventsRejected, ShouldEqual, 0)
				So(stats.RanksRetrieved, ShouldEqual, cfg.Songs)
				So(stats.LeaderboardLength, ShouldEqual, 10)
				So(stats.Derived, ShouldBeGreaterThanOrEqualTo, cfg.Sessions)
				So(cfg.OutputFile, ShouldNotBeEmpty)
			})

			Convey("Then a second run continues from the advanced clock", func() {
				So(err, ShouldBeNil)
				again := smallConfig(srv.URL)
				again.Seed = 2
				_, err := Run(ctx, again)
				So(err, ShouldBeNil)
			})
		})

		Convey("When the server is unreachable", func() {
			cfg := smallConfig("http://127.0.0.1:1")
			cfg.Timeout = 200 * time.Millisecond
			_, err := Run(ctx, cfg)

			Convey("Then the health check fails", func() {
				So(err, ShouldNotBeNil)
				So(err.Error(), ShouldContainSubstring, "health check")
			})
		})
	})
}

func TestVerifyLeaderboardConsistency(t *testing.T) {
	Convey("Given songs and a leaderboard", t, func() {
		songs := []types.Song{
			{ID: "a", TimesListened: 5},
			{ID: "b", TimesListened: 3},
			{ID: "c", TimesListened: 1},
		}
		board := []Entry{{Rank: 1, SongID: "a", Listens: 5}, {Rank: 2, SongID: "b", Listens: 3}}
		ranks := []Entry{board[0], board[1], {Rank: 3, SongID: "c", Listens: 1}}

		Convey("Then a consistent board passes", func() {
			So(verifyLeaderboardConsistency(songs, ranks, board), ShouldBeEmpty)
		})

		Convey("Then an outsider with more listens is reported", func() {
			songs[2].TimesListened = 4
			So(verifyLeaderboardConsistency(songs, ranks, board), ShouldHaveLength, 1)
		})

		Convey("Then an unsorted board is reported", func() {
			board[1].Listens = 9
			So(verifyLeaderboardConsistency(songs, ranks, board), ShouldNotBeEmpty)
		})

		Convey("Then a wrong rank is reported", func() {
			ranks[0] = Entry{Rank: 2, SongID: "a"}
			So(verifyLeaderboardConsistency(songs, ranks, board), ShouldHaveLength, 1)
		})

		Convey("Then counter mismatches are reported", func() {
			plan := &Plan{
				Songs:   []songRequest{{ID: "a"}, {ID: "z"}},
				Listens: map[string]uint64{"a": 4},
				Skips:   map[string]uint64{},
				Likes:   map[string]uint64{},
			}
			errs := verifyCounters(plan, songs)
			So(errs, ShouldHaveLength, 2)
		})
	})
}
