package types_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/model"
	types "github.com/okian/loudsound/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

func TestEntry(t *testing.T) {
	Convey("Given a ranking row and its song", t, func() {
		row := repository.Entry{Rank: 2, SongID: "s1", Listens: 7}
		song := model.NewSong("s1", model.SongDraft{Artist: "Opeth", Title: "Deliverance"}, 0)

		Convey("When they are joined", func() {
			e := types.NewEntry(row, song)

			Convey("Then the entry carries both", func() {
				So(e.Rank, ShouldEqual, 2)
				So(e.SongID, ShouldEqual, model.SongID("s1"))
				So(e.Listens, ShouldEqual, uint64(7))
				So(e.Artist, ShouldEqual, "Opeth")
				So(e.Status, ShouldEqual, model.StatusOrdinary)
			})

			Convey("Then it encodes with snake case keys and a named status", func() {
				b, err := json.Marshal(e)
				So(err, ShouldBeNil)
				So(string(b), ShouldEqual, `{"rank":2,"song_id":"s1","artist":"Opeth","title":"Deliverance","listens":7,"status":"ORDINARY"}`)
			})
		})

		Convey("When the song is unknown", func() {
			e := types.NewEntry(row, nil)
			So(e.Artist, ShouldBeEmpty)
			So(e.Listens, ShouldEqual, uint64(7))
		})
	})
}

func TestSongAndEvent(t *testing.T) {
	Convey("Given a song snapshot", t, func() {
		s := model.NewSong("s1", model.SongDraft{Artist: "a", Title: "t", Duration: 3 * time.Minute, Genre: model.GenreJazz}, clock.Time(time.Second))
		s.Listen()

		Convey("Then the view converts units to milliseconds", func() {
			v := types.NewSong(s.Snapshot())
			So(v.DurationMs, ShouldEqual, int64(180000))
			So(v.CreatedAtMs, ShouldEqual, int64(1000))
			So(v.TimesListened, ShouldEqual, uint64(1))
		})
	})

	Convey("Given derived events", t, func() {
		Convey("Then only the variant fields of each kind are set", func() {
			top := types.NewEvent(model.Event{Kind: model.KindEnteredTopN, SongID: "s1", Rank: 3, Revoked: true})
			So(top.Rank, ShouldEqual, 3)
			So(top.Revoked, ShouldBeTrue)
			So(top.From, ShouldBeEmpty)

			change := types.NewEvent(model.Event{Kind: model.KindStatusChanged, SongID: "s1", From: model.StatusOrdinary, To: model.StatusBoring})
			So(change.From, ShouldEqual, "ORDINARY")
			So(change.To, ShouldEqual, "BORING")
			So(change.Rank, ShouldEqual, 0)

			skip := types.NewEvent(model.Event{Kind: model.KindSkipped, SongID: "s1", StartedAt: clock.Time(2 * time.Second), OccurredAt: clock.Time(4 * time.Second)})
			So(skip.StartedAtMs, ShouldEqual, int64(2000))
			So(skip.OccurredAtMs, ShouldEqual, int64(4000))

			So(len(types.NewEvents([]model.Event{{Kind: model.KindLiked}, {Kind: model.KindListened}})), ShouldEqual, 2)
		})
	})
}
