// Package scenario runs YAML-described sequences of songs, events and clock
// moves against an in-process engine and checks the resulting state.
package scenario

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/rules"
)

// Scenario is one scripted run.
type Scenario struct {
	Name        string  `yaml:"name"`
	Description string  `yaml:"description"`
	Params      *Params `yaml:"params,omitempty"`

	// Songs are created before the first step.
	Songs []Song `yaml:"songs,omitempty"`
	Steps []Step `yaml:"steps"`

	// Expect is checked after the last step.
	Expect *Expect `yaml:"expect,omitempty"`
}

// Params overrides the default rule tuning. Zero fields keep the default.
type Params struct {
	TopN                 int           `yaml:"top_n,omitempty"`
	SkipThreshold        time.Duration `yaml:"skip_threshold,omitempty"`
	BoringSkipStreak     int           `yaml:"boring_skip_streak,omitempty"`
	RecoveryWindow       time.Duration `yaml:"recovery_window,omitempty"`
	RecoveryMinListens   int           `yaml:"recovery_min_listens,omitempty"`
	PopularLikeThreshold int           `yaml:"popular_like_threshold,omitempty"`
	LikeWindow           time.Duration `yaml:"like_window,omitempty"`
}

func (p *Params) rules() rules.Params {
	out := rules.DefaultParams()
	if p == nil {
		return out
	}
	if p.TopN != 0 {
		out.TopN = p.TopN
	}
	if p.SkipThreshold != 0 {
		out.SkipThreshold = p.SkipThreshold
	}
	if p.BoringSkipStreak != 0 {
		out.BoringSkipStreak = p.BoringSkipStreak
	}
	if p.RecoveryWindow != 0 {
		out.RecoveryWindow = p.RecoveryWindow
	}
	if p.RecoveryMinListens != 0 {
		out.RecoveryMinListens = p.RecoveryMinListens
	}
	if p.PopularLikeThreshold != 0 {
		out.PopularLikeThreshold = p.PopularLikeThreshold
	}
	if p.LikeWindow != 0 {
		out.LikeWindow = p.LikeWindow
	}
	return out
}

// Song is a song to create.
type Song struct {
	ID       string        `yaml:"id"`
	Artist   string        `yaml:"artist"`
	Title    string        `yaml:"title"`
	Genre    string        `yaml:"genre,omitempty"`
	Duration time.Duration `yaml:"duration,omitempty"`
}

func (s Song) draft() model.SongDraft {
	return model.SongDraft{
		ID:       model.SongID(s.ID),
		Artist:   s.Artist,
		Title:    s.Title,
		Genre:    model.Genre(s.Genre),
		Duration: s.Duration,
	}
}

// Step performs exactly one action and may check its effect.
type Step struct {
	Name string `yaml:"name,omitempty"`

	Song    *Song          `yaml:"song,omitempty"`
	Event   *Event         `yaml:"event,omitempty"`
	Play    *Play          `yaml:"play,omitempty"`
	Advance *time.Duration `yaml:"advance,omitempty"`
	Remove  string         `yaml:"remove,omitempty"`

	// Error names the error the action must fail with, see ErrorCodes.
	Error string `yaml:"error,omitempty"`
	// Ignored requires the event to be dropped.
	Ignored bool `yaml:"ignored,omitempty"`
	// Derived, when set, lists the exact kinds the action derived, in order.
	Derived []string `yaml:"derived,omitempty"`
	Expect  *Expect  `yaml:"expect,omitempty"`
}

func (s Step) label(i int) string {
	if s.Name != "" {
		return fmt.Sprintf("step %d (%s)", i+1, s.Name)
	}
	return fmt.Sprintf("step %d", i+1)
}

func (s Step) actions() int {
	n := 0
	for _, set := range []bool{s.Song != nil, s.Event != nil, s.Play != nil, s.Advance != nil, s.Remove != ""} {
		if set {
			n++
		}
	}
	return n
}

// Event is a behavioral event. At is an offset from the epoch; omitted
// means now.
type Event struct {
	ID     string         `yaml:"id,omitempty"`
	Kind   string         `yaml:"kind"`
	Song   string         `yaml:"song,omitempty"`
	User   string         `yaml:"user,omitempty"`
	Causer string         `yaml:"causer,omitempty"`
	At     *time.Duration `yaml:"at,omitempty"`
}

func (e Event) event() (model.Event, error) {
	kind, err := model.ParseKind(e.Kind)
	if err != nil {
		return model.Event{}, err
	}
	ev := model.Event{
		Kind:         kind,
		ID:           e.ID,
		SongID:       model.SongID(e.Song),
		SourceUserID: e.User,
		CauserID:     e.Causer,
	}
	if e.At != nil {
		ev = ev.WithTime(at(*e.At))
	}
	return ev, nil
}

// Play is shorthand for Times listening sessions of length For, each
// starting Gap after the previous one ended.
type Play struct {
	Song  string         `yaml:"song"`
	User  string         `yaml:"user,omitempty"`
	For   time.Duration  `yaml:"for"`
	Times int            `yaml:"times,omitempty"`
	Gap   time.Duration  `yaml:"gap,omitempty"`
	At    *time.Duration `yaml:"at,omitempty"`
}

// Expect checks engine state. Only the fields present are compared.
type Expect struct {
	Now         *time.Duration        `yaml:"now,omitempty"`
	Songs       map[string]SongExpect `yaml:"songs,omitempty"`
	Leaderboard []string              `yaml:"leaderboard,omitempty"`
	// Live counts live events by kind.
	Live map[string]int `yaml:"live,omitempty"`
}

// SongExpect checks one song.
type SongExpect struct {
	Status     string  `yaml:"status,omitempty"`
	Likes      *uint64 `yaml:"likes,omitempty"`
	Listens    *uint64 `yaml:"listens,omitempty"`
	Skips      *uint64 `yaml:"skips,omitempty"`
	SkipStreak *int    `yaml:"skip_streak,omitempty"`
	Rank       *int    `yaml:"rank,omitempty"`
	Removed    bool    `yaml:"removed,omitempty"`
}

// ErrorCodes maps the names accepted in Step.Error to engine errors.
var ErrorCodes = map[string]error{
	"temporal_order":   engine.ErrInvalidTemporalOrder,
	"duplicate_song":   engine.ErrDuplicateSong,
	"invalid_song":     engine.ErrInvalidSong,
	"invalid_event":    engine.ErrInvalidEvent,
	"derived_event":    engine.ErrDerivedEvent,
	"song_not_found":   engine.ErrSongNotFound,
	"negative_advance": engine.ErrNegativeAdvance,
	"clock_overflow":   engine.ErrClockOverflow,
}

// Load reads and validates a scenario file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a scenario. Unknown fields are rejected so
// typos do not silently skip a check.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return nil, fmt.Errorf("%w: failed to parse YAML: %w", ErrInvalidScenario, err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks required fields and step shapes.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidScenario)
	}
	if len(sc.Steps) == 0 && sc.Expect == nil {
		return fmt.Errorf("%w: steps or expect is required", ErrInvalidScenario)
	}
	if err := sc.Params.rules().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidScenario, err)
	}
	for i, s := range sc.Songs {
		if s.ID == "" {
			return fmt.Errorf("%w: songs[%d]: id is required", ErrInvalidScenario, i)
		}
	}
	for i, step := range sc.Steps {
		if err := validateStep(i, step); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(i int, step Step) error {
	label := step.label(i)
	switch n := step.actions(); {
	case n > 1:
		return fmt.Errorf("%w: %s: one action per step", ErrInvalidScenario, label)
	case n == 0 && step.Expect == nil:
		return fmt.Errorf("%w: %s: an action or expect is required", ErrInvalidScenario, label)
	case n == 0 && (step.Error != "" || step.Ignored || step.Derived != nil):
		return fmt.Errorf("%w: %s: error, ignored and derived need an action", ErrInvalidScenario, label)
	}
	if step.Error != "" {
		if _, ok := ErrorCodes[step.Error]; !ok {
			return fmt.Errorf("%w: %s: unknown error %q", ErrInvalidScenario, label, step.Error)
		}
	}
	if step.Ignored && step.Event == nil {
		return fmt.Errorf("%w: %s: ignored applies to events only", ErrInvalidScenario, label)
	}
	if step.Event != nil {
		if _, err := model.ParseKind(step.Event.Kind); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidScenario, label, err)
		}
	}
	if p := step.Play; p != nil {
		if p.Song == "" || p.For <= 0 || p.Times < 0 || p.Gap < 0 {
			return fmt.Errorf("%w: %s: play needs a song and a positive length", ErrInvalidScenario, label)
		}
	}
	for _, name := range step.Derived {
		if _, err := model.ParseKind(name); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrInvalidScenario, label, err)
		}
	}
	return nil
}
