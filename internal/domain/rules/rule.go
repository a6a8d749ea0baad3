// Package rules holds the production rules evaluated by the engine.
//
// A rule proposes activations and fires them. The engine owns the agenda: it
// asks rules in a fixed order for their first unfired activation, fires it,
// and restarts the scan until no rule has anything left to fire.
package rules

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/facts"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
)

// Rule names, in agenda order.
const (
	NameLikeCounter        = "like-counter"
	NameListeningPair      = "listening-pair"
	NameLikeSurge          = "like-surge"
	NamePopularityExpired  = "popularity-expired"
	NameBecamePopular      = "became-popular"
	NameDeclaredBoring     = "declared-boring"
	NameRedeclaredOrdinary = "redeclared-ordinary"
	NameTopN               = "top-n"
)

// Activation is one candidate firing of a rule.
//
// Event-bound activations carry the handle of the event they consume or count
// and fire once for that event. State-bound activations carry a song and the
// revision they were computed at, and fire again only after the song changes.
// The struct is comparable and used as the engine's fired-set key.
type Activation struct {
	Rule    string
	Handle  facts.Handle
	Song    model.SongID
	Version uint64
}

func (a Activation) String() string {
	switch {
	case a.Handle != 0 && a.Song != "":
		return fmt.Sprintf("%s[%s#%d]", a.Rule, a.Song, a.Handle)
	case a.Handle != 0:
		return fmt.Sprintf("%s[#%d]", a.Rule, a.Handle)
	case a.Song != "":
		return fmt.Sprintf("%s[%s@%d]", a.Rule, a.Song, a.Version)
	}
	return fmt.Sprintf("%s[@%d]", a.Rule, a.Version)
}

// Stale reports whether the activation can never be proposed again, so the
// engine may forget it fired.
func (a Activation) Stale(store *facts.Store) bool {
	if a.Handle != 0 {
		return !store.Live(a.Handle)
	}
	if a.Song != "" {
		s, ok := store.Song(a.Song)
		return !ok || s.Revision() != a.Version
	}
	return true
}

// Env is what a rule sees while a pass runs.
type Env struct {
	Ctx     context.Context
	Store   *facts.Store
	Ranking repository.Store
	Params  Params
	Log     logger.Logger

	// Fired reports whether a has already fired.
	Fired func(a Activation) bool
	// Derive stores an engine-made event and publishes it.
	Derive func(ev model.Event) (facts.Handle, error)
}

// Rule is a production rule.
type Rule interface {
	Name() string
	// Next returns the first activation that has not fired yet.
	Next(env *Env) (Activation, bool)
	// Fire performs the rule's action for a.
	Fire(env *Env, a Activation) error
}

// Default returns the standard rule set in agenda order.
func Default() []Rule {
	return []Rule{
		LikeCounter{},
		ListeningPair{},
		LikeSurge{},
		PopularityExpired{},
		BecamePopular{},
		DeclaredBoring{},
		RedeclaredOrdinary{},
		TopN{},
	}
}

// Params tunes the rule set.
type Params struct {
	// SkipThreshold: a listen shorter than this is a skip.
	SkipThreshold time.Duration

	BoringSkipStreak int
	BoringSkipRatio  float64

	RecoveryWindow     time.Duration
	RecoveryMinListens int
	RecoveryRatio      float64

	// PopularLikeThreshold enables the like surge when positive.
	PopularLikeThreshold int
	LikeWindow           time.Duration

	TopN int
}

// DefaultParams returns the stock tuning.
func DefaultParams() Params {
	return Params{
		SkipThreshold:        5 * time.Second,
		BoringSkipStreak:     3,
		BoringSkipRatio:      1.0,
		RecoveryWindow:       48 * time.Hour,
		RecoveryMinListens:   9,
		RecoveryRatio:        3.0,
		PopularLikeThreshold: 0,
		LikeWindow:           model.DefaultLikeWindow,
		TopN:                 10,
	}
}

// Validate rejects tunings the rules cannot work with.
func (p Params) Validate() error {
	switch {
	case p.TopN < 1:
		return fmt.Errorf("%w: top_n must be at least 1, got %d", ErrInvalidParams, p.TopN)
	case p.SkipThreshold < 0:
		return fmt.Errorf("%w: negative skip threshold", ErrInvalidParams)
	case p.BoringSkipStreak < 1:
		return fmt.Errorf("%w: boring skip streak must be at least 1", ErrInvalidParams)
	case p.BoringSkipRatio < 0 || p.RecoveryRatio < 0:
		return fmt.Errorf("%w: negative ratio", ErrInvalidParams)
	case p.RecoveryWindow <= 0 || p.LikeWindow <= 0:
		return fmt.Errorf("%w: windows must be positive", ErrInvalidParams)
	case p.RecoveryMinListens < 0 || p.PopularLikeThreshold < 0:
		return fmt.Errorf("%w: negative count", ErrInvalidParams)
	}
	return nil
}
