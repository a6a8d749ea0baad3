package engine

import (
	"context"

	"github.com/google/uuid"
	"github.com/okian/loudsound/internal/adapters/repository"
	"github.com/okian/loudsound/internal/domain/clock"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/rules"
	"github.com/okian/loudsound/pkg/logger"
)

// Default values.
const (
	DefaultMaxFirings = 10_000
)

// Listener receives every derived event right after it is stored. Listeners
// run inside the evaluation pass and must not call back into the engine.
type Listener func(ctx context.Context, ev model.Event)

// Option applies a configuration option to the Engine.
type Option func(*Engine)

// WithParams replaces the rule tuning.
func WithParams(p rules.Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// WithTopN sets the leaderboard size.
func WithTopN(n int) Option {
	return func(e *Engine) {
		e.params.TopN = n
	}
}

// WithTTLPolicy sets how long each event kind stays live.
func WithTTLPolicy(p model.TTLPolicy) Option {
	return func(e *Engine) {
		if p != nil {
			e.ttl = p.Clone()
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithListener registers a derived-event listener.
func WithListener(fn Listener) Option {
	return func(e *Engine) {
		if fn != nil {
			e.listeners = append(e.listeners, fn)
		}
	}
}

// WithIDGenerator sets how ids are generated for songs submitted without one.
func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		if fn != nil {
			e.newID = fn
		}
	}
}

// WithClock sets the logical clock, e.g. one restored from a journal.
func WithClock(c *clock.Clock) Option {
	return func(e *Engine) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithRanking sets the ranking store backing the leaderboard.
func WithRanking(r repository.Store) Option {
	return func(e *Engine) {
		if r != nil {
			e.ranking = r
		}
	}
}

// WithRules replaces the rule set. Rules are consulted in the given order.
func WithRules(rs ...rules.Rule) Option {
	return func(e *Engine) {
		e.rules = append([]rules.Rule{}, rs...)
	}
}

// WithMaxFirings caps the firings of a single evaluation pass.
func WithMaxFirings(n int) Option {
	return func(e *Engine) {
		e.maxFirings = n
	}
}

// WithSweepOnAdvance drops expired events after every clock advance.
func WithSweepOnAdvance(enabled bool) Option {
	return func(e *Engine) {
		e.sweep = enabled
	}
}

func defaultID() string { return uuid.NewString() }
