package scenario

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
)

// Result reports a scenario run.
type Result struct {
	Name     string   `json:"name"`
	Pass     bool     `json:"pass"`
	Failures []string `json:"failures,omitempty"`
	// Steps counts the steps executed; a step failing with an unexpected
	// error ends the run.
	Steps       int            `json:"steps"`
	Now         string         `json:"now"`
	Derived     map[string]int `json:"derived"`
	Leaderboard []model.SongID `json:"leaderboard"`
}

type runner struct {
	eng     *engine.Engine
	res     *Result
	derived []model.Event
}

func at(d time.Duration) clock.Time { return clock.Epoch.Add(d) }

// Run executes sc against a fresh engine. Extra options are applied after
// the scenario's params. Check failures are collected in the result; the
// returned error is reserved for runs that could not start.
func Run(ctx context.Context, sc *Scenario, opts ...engine.Option) (*Result, error) {
	r := &runner{res: &Result{Name: sc.Name, Derived: make(map[string]int)}}
	base := []engine.Option{
		engine.WithParams(sc.Params.rules()),
		engine.WithLogger(logger.Named("scenario")),
		engine.WithListener(func(_ context.Context, ev model.Event) {
			r.derived = append(r.derived, ev)
			r.res.Derived[ev.Kind.String()]++
		}),
	}
	eng, err := engine.New(append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", sc.Name, err)
	}
	r.eng = eng

	for i, s := range sc.Songs {
		if _, err := eng.SubmitSong(ctx, s.draft()); err != nil {
			return nil, fmt.Errorf("%w: songs[%d]: %w", ErrInvalidScenario, i, err)
		}
	}

	for i, step := range sc.Steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.res.Steps++
		if !r.step(ctx, i, step) {
			break
		}
	}
	if sc.Expect != nil {
		r.check("final", *sc.Expect)
	}

	r.res.Now = eng.Now().String()
	r.res.Leaderboard = eng.Leaderboard()
	r.res.Pass = len(r.res.Failures) == 0
	return r.res, nil
}

func (r *runner) failf(format string, args ...any) {
	r.res.Failures = append(r.res.Failures, fmt.Sprintf(format, args...))
}

// step runs one step and reports whether the run may continue.
func (r *runner) step(ctx context.Context, i int, step Step) bool {
	label := step.label(i)
	r.derived = nil
	out, err := r.act(ctx, step)

	switch {
	case step.Error != "":
		if !errors.Is(err, ErrorCodes[step.Error]) {
			r.failf("%s: want error %s, got %v", label, step.Error, err)
		}
	case err != nil:
		r.failf("%s: %v: %v", label, ErrStepFailed, err)
		return false
	}

	if step.Event != nil && out.Ignored != step.Ignored {
		r.failf("%s: ignored is %t, want %t", label, out.Ignored, step.Ignored)
	}
	if step.Derived != nil {
		got := make([]string, len(r.derived))
		for i, ev := range r.derived {
			got[i] = ev.Kind.String()
		}
		if !slices.Equal(got, step.Derived) {
			r.failf("%s: derived %v, want %v", label, got, step.Derived)
		}
	}
	if step.Expect != nil {
		r.check(label, *step.Expect)
	}
	return true
}

func (r *runner) act(ctx context.Context, step Step) (engine.Outcome, error) {
	switch {
	case step.Song != nil:
		_, err := r.eng.SubmitSong(ctx, step.Song.draft())
		return engine.Outcome{}, err
	case step.Event != nil:
		ev, err := step.Event.event()
		if err != nil {
			return engine.Outcome{}, err
		}
		return r.eng.SubmitEvent(ctx, ev)
	case step.Play != nil:
		return r.play(ctx, *step.Play)
	case step.Advance != nil:
		return r.eng.Advance(ctx, *step.Advance)
	case step.Remove != "":
		return engine.Outcome{}, r.eng.RemoveSong(ctx, model.SongID(step.Remove))
	}
	return engine.Outcome{}, nil
}

func (r *runner) play(ctx context.Context, p Play) (engine.Outcome, error) {
	times := max(p.Times, 1)
	start := r.eng.Now()
	if p.At != nil {
		start = at(*p.At)
	}
	song := model.SongID(p.Song)

	var out engine.Outcome
	for i := 0; i < times; i++ {
		end := start.Add(p.For)
		for _, ev := range []model.Event{
			model.ListeningStarted(song, p.User, start),
			model.ListeningEnded(song, p.User, end),
		} {
			o, err := r.eng.SubmitEvent(ctx, ev)
			out.Derived = append(out.Derived, o.Derived...)
			if err != nil {
				return out, err
			}
			if o.Ignored {
				return o, nil
			}
		}
		start = end.Add(p.Gap)
	}
	return out, nil
}

func (r *runner) check(label string, want Expect) {
	if want.Now != nil && r.eng.Now() != at(*want.Now) {
		r.failf("%s: now is %s, want %s", label, r.eng.Now(), at(*want.Now))
	}
	if want.Leaderboard != nil {
		got := r.eng.Leaderboard()
		ids := make([]string, len(got))
		for i, id := range got {
			ids[i] = string(id)
		}
		if !slices.Equal(ids, want.Leaderboard) {
			r.failf("%s: leaderboard %v, want %v", label, ids, want.Leaderboard)
		}
	}
	for name, n := range want.Live {
		kind, err := model.ParseKind(name)
		if err != nil {
			r.failf("%s: live: %v", label, err)
			continue
		}
		if got := len(r.eng.QueryEvents(kind, nil)); got != n {
			r.failf("%s: %d live %s events, want %d", label, got, name, n)
		}
	}
	for _, id := range sortedKeys(want.Songs) {
		r.checkSong(label, model.SongID(id), want.Songs[id])
	}
}

func (r *runner) checkSong(label string, id model.SongID, want SongExpect) {
	s, err := r.eng.Song(id)
	if want.Removed {
		if !errors.Is(err, engine.ErrSongNotFound) {
			r.failf("%s: song %s still exists", label, id)
		}
		return
	}
	if err != nil {
		r.failf("%s: %v", label, err)
		return
	}

	if want.Status != "" {
		status, err := model.ParseStatus(want.Status)
		switch {
		case err != nil:
			r.failf("%s: song %s: %v", label, id, err)
		case s.Status != status:
			r.failf("%s: song %s is %s, want %s", label, id, s.Status, status)
		}
	}
	counters := []struct {
		name string
		got  uint64
		want *uint64
	}{
		{"likes", s.Likes, want.Likes},
		{"listens", s.TimesListened, want.Listens},
		{"skips", s.TimesSkipped, want.Skips},
	}
	for _, c := range counters {
		if c.want != nil && c.got != *c.want {
			r.failf("%s: song %s has %d %s, want %d", label, id, c.got, c.name, *c.want)
		}
	}
	if want.SkipStreak != nil && s.SkipStreak != *want.SkipStreak {
		r.failf("%s: song %s skip streak is %d, want %d", label, id, s.SkipStreak, *want.SkipStreak)
	}
	if want.Rank != nil {
		entry, err := r.eng.Rank(id)
		if err != nil {
			r.failf("%s: song %s: %v", label, id, err)
		} else if entry.Rank != *want.Rank {
			r.failf("%s: song %s has rank %d, want %d", label, id, entry.Rank, *want.Rank)
		}
	}
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
