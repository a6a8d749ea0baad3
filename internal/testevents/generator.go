package testevents

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/okian/loudsound/internal/domain/model"
	"github.com/okian/loudsound/pkg/logger"
)

// Plan timing bounds.
const (
	minSkip       = 500 * time.Millisecond
	minListen     = 10 * time.Second
	maxListen     = 6 * time.Minute
	maxGap        = 30 * time.Second
	skipShare     = 0.3
	zipfSkew      = 1.2
	minSongLength = 2 * time.Minute
)

var artists = []string{"Opeth", "Gojira", "Mastodon", "Tool", "Leprous", "Nick Drake", "Miles Davis", "Nina Simone"}

// Plan is a deterministic catalog plus an ordered event timeline.
type Plan struct {
	Songs  []songRequest  `json:"songs"`
	Events []eventRequest `json:"events"`

	// expected counters per song id
	Listens map[string]uint64 `json:"-"`
	Skips   map[string]uint64 `json:"-"`
	Likes   map[string]uint64 `json:"-"`
}

// generatePlan builds songs and a timeline of sessions starting at startMs.
// Popular songs get more sessions, following a Zipf distribution.
func generatePlan(ctx context.Context, config *Config, startMs int64) (*Plan, error) {
	if config.Songs < 1 || config.Users < 1 || config.Sessions < 0 {
		return nil, fmt.Errorf("invalid plan size: songs=%d users=%d sessions=%d", config.Songs, config.Users, config.Sessions)
	}
	rng := rand.New(rand.NewSource(config.Seed)) //nolint:gosec // deterministic test data
	logger.Get().Info(ctx, "generating plan",
		logger.Int("songs", config.Songs),
		logger.Int("sessions", config.Sessions),
		logger.Int("users", config.Users))

	p := &Plan{
		Listens: make(map[string]uint64),
		Skips:   make(map[string]uint64),
		Likes:   make(map[string]uint64),
	}
	for i := 0; i < config.Songs; i++ {
		p.Songs = append(p.Songs, songRequest{
			ID:         fmt.Sprintf("load-%d-%d", config.Seed, i),
			Artist:     artists[rng.Intn(len(artists))],
			Title:      fmt.Sprintf("Track %d", i),
			DurationMs: (minSongLength + time.Duration(rng.Int63n(int64(maxListen)))).Milliseconds(),
			Genre:      string(model.Genres[rng.Intn(len(model.Genres))]),
		})
	}

	zipf := rand.NewZipf(rng, zipfSkew, 1, uint64(config.Songs-1))
	now := startMs
	seq := 0
	emit := func(kind model.Kind, song, user string, at int64) {
		seq++
		p.Events = append(p.Events, eventRequest{
			EventID:      fmt.Sprintf("load-%d-e%d", config.Seed, seq),
			Kind:         kind.String(),
			SongID:       song,
			UserID:       user,
			OccurredAtMs: at,
		})
	}

	for i := 0; i < config.Sessions; i++ {
		song := p.Songs[zipf.Uint64()].ID
		user := fmt.Sprintf("user-%d", rng.Intn(config.Users))

		var d time.Duration
		if rng.Float64() < skipShare {
			d = minSkip + time.Duration(rng.Int63n(int64(config.SkipThreshold-minSkip)))
		} else {
			d = minListen + time.Duration(rng.Int63n(int64(maxListen-minListen)))
		}
		end := now + d.Milliseconds()
		emit(model.KindListeningStarted, song, user, now)
		emit(model.KindListeningEnded, song, user, end)
		if d < config.SkipThreshold {
			p.Skips[song]++
		} else {
			p.Listens[song]++
		}
		if rng.Float64() < config.LikeRatio {
			emit(model.KindLiked, song, user, end)
			p.Likes[song]++
		}
		now = end + rng.Int63n(maxGap.Milliseconds())
	}

	return p, nil
}
