// Package config defines service configuration and how it is loaded.
//
// Values are layered defaults -> YAML file -> environment. Durations are
// written as Go duration strings, e.g. "48h" or "5s".
package config

import (
	"fmt"
	"time"

	"github.com/okian/loudsound/internal/domain/engine"
	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/internal/domain/rules"
	"github.com/okian/loudsound/pkg/logger"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`
	// LogFormat is "text" or "json".
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory command queue.
	QueueSize int `koanf:"queue_size"`

	// DedupeSize sets how many event ids are remembered for idempotency.
	DedupeSize int `koanf:"dedupe_size"`

	// JournalPath enables the SQLite command journal when set.
	JournalPath string `koanf:"journal_path"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// MaxEventQueryLimit caps GET /events?limit.
	MaxEventQueryLimit int `koanf:"max_event_query_limit"`

	// Engine tuning.
	TopN           int  `koanf:"top_n"`
	MaxFirings     int  `koanf:"max_firings"`
	SweepOnAdvance bool `koanf:"sweep_on_advance"`

	SkipThreshold        time.Duration `koanf:"skip_threshold"`
	BoringSkipStreak     int           `koanf:"boring_skip_streak"`
	BoringSkipRatio      float64       `koanf:"boring_skip_ratio"`
	RecoveryWindow       time.Duration `koanf:"recovery_window"`
	RecoveryMinListens   int           `koanf:"recovery_min_listens"`
	RecoveryRatio        float64       `koanf:"recovery_ratio"`
	PopularLikeThreshold int           `koanf:"popular_like_threshold"`
	LikeWindow           time.Duration `koanf:"like_window"`

	// Event lifetimes.
	LikeTTL       time.Duration `koanf:"like_ttl"`
	SessionTTL    time.Duration `koanf:"session_ttl"`
	HistoryTTL    time.Duration `koanf:"history_ttl"`
	PopularityTTL time.Duration `koanf:"popularity_ttl"`
}

// New creates a Config holding the defaults.
func New() *Config {
	p := rules.DefaultParams()
	return &Config{
		LogLevel:           "info",
		LogFormat:          "text",
		Addr:               ":9080",
		QueueSize:          10_000,
		DedupeSize:         50_000,
		ShutdownTimeout:    10 * time.Second,
		MaxEventQueryLimit: 1000,

		TopN:       p.TopN,
		MaxFirings: engine.DefaultMaxFirings,

		SkipThreshold:        p.SkipThreshold,
		BoringSkipStreak:     p.BoringSkipStreak,
		BoringSkipRatio:      p.BoringSkipRatio,
		RecoveryWindow:       p.RecoveryWindow,
		RecoveryMinListens:   p.RecoveryMinListens,
		RecoveryRatio:        p.RecoveryRatio,
		PopularLikeThreshold: p.PopularLikeThreshold,
		LikeWindow:           p.LikeWindow,

		LikeTTL:       model.DefaultLikeWindow,
		SessionTTL:    model.DefaultSessionTTL,
		HistoryTTL:    model.DefaultHistoryWindow,
		PopularityTTL: model.DefaultPopularityTTL,
	}
}

// Params returns the rule tuning described by c.
func (c *Config) Params() rules.Params {
	return rules.Params{
		SkipThreshold:        c.SkipThreshold,
		BoringSkipStreak:     c.BoringSkipStreak,
		BoringSkipRatio:      c.BoringSkipRatio,
		RecoveryWindow:       c.RecoveryWindow,
		RecoveryMinListens:   c.RecoveryMinListens,
		RecoveryRatio:        c.RecoveryRatio,
		PopularLikeThreshold: c.PopularLikeThreshold,
		LikeWindow:           c.LikeWindow,
		TopN:                 c.TopN,
	}
}

// TTLPolicy returns the event lifetimes described by c.
func (c *Config) TTLPolicy() model.TTLPolicy {
	p := model.DefaultTTLPolicy()
	p[model.KindLiked] = c.LikeTTL
	p[model.KindListeningStarted] = c.SessionTTL
	p[model.KindListeningEnded] = c.SessionTTL
	p[model.KindSkipped] = c.HistoryTTL
	p[model.KindListened] = c.HistoryTTL
	p[model.KindBecamePopular] = c.PopularityTTL
	return p
}

// EngineOptions returns the engine configuration described by c.
func (c *Config) EngineOptions() []engine.Option {
	return []engine.Option{
		engine.WithParams(c.Params()),
		engine.WithTTLPolicy(c.TTLPolicy()),
		engine.WithMaxFirings(c.MaxFirings),
		engine.WithSweepOnAdvance(c.SweepOnAdvance),
	}
}

// Validate reports the first setting the service cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Addr == "":
		return fmt.Errorf("%w: addr must not be empty", ErrInvalidConfig)
	case c.LogFormat != "text" && c.LogFormat != "json":
		return fmt.Errorf("%w: log_format must be text or json, got %q", ErrInvalidConfig, c.LogFormat)
	case c.QueueSize < 1:
		return fmt.Errorf("%w: queue_size must be positive", ErrInvalidConfig)
	case c.MaxFirings < 1:
		return fmt.Errorf("%w: max_firings must be positive", ErrInvalidConfig)
	case c.MaxEventQueryLimit < 1:
		return fmt.Errorf("%w: max_event_query_limit must be positive", ErrInvalidConfig)
	case c.ShutdownTimeout <= 0:
		return fmt.Errorf("%w: shutdown_timeout must be positive", ErrInvalidConfig)
	}
	if _, err := logger.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.Params().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if err := c.TTLPolicy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	// a window longer than the lifetime of the events it counts would
	// silently shrink to that lifetime
	if outlives(c.RecoveryWindow, c.HistoryTTL) {
		return fmt.Errorf("%w: recovery_window %s exceeds history_ttl %s", ErrInvalidConfig, c.RecoveryWindow, c.HistoryTTL)
	}
	if outlives(c.LikeWindow, c.LikeTTL) {
		return fmt.Errorf("%w: like_window %s exceeds like_ttl %s", ErrInvalidConfig, c.LikeWindow, c.LikeTTL)
	}
	return nil
}

func outlives(window, ttl time.Duration) bool {
	return ttl != model.Forever && window > ttl
}
