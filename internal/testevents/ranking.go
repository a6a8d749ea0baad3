package testevents

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/okian/loudsound/internal/domain/types"
	"github.com/okian/loudsound/pkg/logger"
)

// retrieveRankings fetches GET /rank/{id} for every song concurrently.
func retrieveRankings(ctx context.Context, config *Config, client *HTTPClient, songs []songRequest, stats *Stats) ([]Entry, error) {
	log := logger.Get()
	log.Info(ctx, "retrieving rankings", logger.Int("songs", len(songs)), logger.Int("workers", config.Workers))

	rankings := make([]Entry, len(songs))
	var retrieved, failed int64

	indexChan := make(chan int, len(songs))
	for i := range songs {
		indexChan <- i
	}
	close(indexChan)

	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range indexChan {
				if ctx.Err() != nil {
					return
				}
				id := songs[index].ID
				var entry Entry
				if _, err := client.do(ctx, http.MethodGet, "/rank/"+url.PathEscape(id), nil, &entry, http.StatusOK); err != nil {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Warn(ctx, "rank lookup failed", logger.String("song_id", id), logger.Error(err))
					}
					continue
				}
				rankings[index] = entry
				atomic.AddInt64(&retrieved, 1)
			}
		}()
	}
	wg.Wait()

	stats.RanksRetrieved = int(retrieved)
	if failed > 0 {
		return nil, fmt.Errorf("failed to retrieve %d of %d rankings", failed, len(songs))
	}
	return rankings, ctx.Err()
}

// getLeaderboard fetches GET /leaderboard, optionally limited.
func getLeaderboard(ctx context.Context, client *HTTPClient, limit int) ([]Entry, error) {
	path := "/leaderboard"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var entries []Entry
	if _, err := client.do(ctx, http.MethodGet, path, nil, &entries, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to get leaderboard: %w", err)
	}
	return entries, nil
}

// getSongs fetches GET /songs.
func getSongs(ctx context.Context, client *HTTPClient) ([]types.Song, error) {
	var songs []types.Song
	if _, err := client.do(ctx, http.MethodGet, "/songs", nil, &songs, http.StatusOK); err != nil {
		return nil, fmt.Errorf("failed to list songs: %w", err)
	}
	return songs, nil
}
