package testevents

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/okian/loudsound/pkg/logger"
)

// File permission constants.
const (
	directoryPermission = 0o750
	filePermission      = 0o600
	percent             = 100
)

// ErrInvalidConfig reports an unusable test configuration.
var ErrInvalidConfig = errors.New("invalid test config")

// DefaultConfig returns a small run suitable for a local server.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "http://localhost:9080",
		Songs:         50,
		Sessions:      1000,
		Users:         100,
		LikeRatio:     0.2,
		DuplicateRate: 0.05,
		SkipThreshold: 5 * time.Second,
		Workers:       8,
		Timeout:       5 * time.Second,
		Seed:          1,
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return fmt.Errorf("%w: empty base url", ErrInvalidConfig)
	case c.Songs < 1, c.Users < 1, c.Sessions < 0:
		return fmt.Errorf("%w: songs and users must be positive", ErrInvalidConfig)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be positive", ErrInvalidConfig)
	case c.LikeRatio < 0 || c.LikeRatio > 1, c.DuplicateRate < 0 || c.DuplicateRate > 1:
		return fmt.Errorf("%w: ratios must be within [0,1]", ErrInvalidConfig)
	case c.SkipThreshold <= minSkip:
		return fmt.Errorf("%w: skip threshold must exceed %s", ErrInvalidConfig, minSkip)
	}
	return nil
}

// Run executes the complete event test and returns its statistics.
func Run(ctx context.Context, config *Config) (*Stats, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	log := logger.Get()
	stats := &Stats{StartTime: time.Now()}
	client := newHTTPClient(config.BaseURL, config.Timeout)

	log.Info(ctx, "starting loudsound event test",
		logger.String("baseURL", config.BaseURL),
		logger.Int("songs", config.Songs),
		logger.Int("sessions", config.Sessions),
		logger.Int("workers", config.Workers),
		logger.Duration("timeout", config.Timeout))

	if err := checkServiceHealth(ctx, client); err != nil {
		return stats, err
	}

	// The timeline starts at the server's logical clock so reruns are not
	// rejected as past events.
	start, err := currentTime(ctx, client)
	if err != nil {
		return stats, fmt.Errorf("clock lookup failed: %w", err)
	}
	plan, err := generatePlan(ctx, config, start)
	if err != nil {
		return stats, fmt.Errorf("plan generation failed: %w", err)
	}
	stats.EventsGenerated = len(plan.Events)

	if err := createSongs(ctx, config, client, plan.Songs, stats); err != nil {
		return stats, fmt.Errorf("song creation failed: %w", err)
	}
	if err := submitEvents(ctx, config, client, plan.Events, stats); err != nil {
		return stats, fmt.Errorf("event submission failed: %w", err)
	}

	rankings, err := retrieveRankings(ctx, config, client, plan.Songs, stats)
	if err != nil {
		return stats, fmt.Errorf("ranking retrieval failed: %w", err)
	}
	leaderboard, err := getLeaderboard(ctx, client, 0)
	if err != nil {
		return stats, err
	}
	stats.LeaderboardLength = len(leaderboard)
	songs, err := getSongs(ctx, client)
	if err != nil {
		return stats, err
	}

	if err := verifyResults(ctx, plan, songs, rankings, leaderboard); err != nil {
		return stats, fmt.Errorf("result verification failed: %w", err)
	}

	if config.OutputFile != "" {
		if err := savePlan(ctx, config.OutputFile, plan); err != nil {
			log.Warn(ctx, "failed to save plan", logger.Error(err))
		}
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	displayTopSongs(ctx, leaderboard)
	displayFinalStats(ctx, stats)
	log.Info(ctx, "test completed successfully")
	return stats, nil
}

// savePlan writes the generated plan as JSON.
func savePlan(ctx context.Context, filename string, plan *Plan) error {
	if dir := filepath.Dir(filename); dir != "." {
		if err := os.MkdirAll(dir, directoryPermission); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(plan, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal plan: %w", err)
	}
	if err := os.WriteFile(filename, data, filePermission); err != nil {
		return fmt.Errorf("failed to write plan: %w", err)
	}
	logger.Get().Info(ctx, "plan saved to file", logger.String("filename", filename))
	return nil
}

// displayFinalStats logs the final test statistics.
func displayFinalStats(ctx context.Context, stats *Stats) {
	var acceptRate, eventsPerSecond float64
	if stats.EventsSubmitted > 0 {
		acceptRate = float64(stats.EventsAccepted) / float64(stats.EventsSubmitted) * percent
	}
	if stats.Duration > 0 {
		eventsPerSecond = float64(stats.EventsSubmitted) / stats.Duration.Seconds()
	}

	logger.Get().Info(ctx, "final statistics",
		logger.Int("songsCreated", stats.SongsCreated),
		logger.Int("eventsGenerated", stats.EventsGenerated),
		logger.Int("eventsSubmitted", stats.EventsSubmitted),
		logger.Int("eventsAccepted", stats.EventsAccepted),
		logger.Int("eventsDuplicate", stats.EventsDuplicate),
		logger.Int("eventsIgnored", stats.EventsIgnored),
		logger.Int("eventsRejected", stats.EventsRejected),
		logger.Int("derived", stats.Derived),
		logger.Int("ranksRetrieved", stats.RanksRetrieved),
		logger.Int("leaderboardLength", stats.LeaderboardLength),
		logger.Duration("duration", stats.Duration),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("eventsPerSecond", eventsPerSecond))
}
