package testevents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/loudsound/pkg/logger"
)

// ErrUnexpectedStatus reports a response outside the expected codes.
var ErrUnexpectedStatus = errors.New("unexpected status")

// HTTPClient wraps http.Client with timeout
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

// newHTTPClient creates a new HTTP client with timeout
func newHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// do sends a request and decodes a JSON response into out when out is non-nil.
// It returns the status code even when the status is not in want.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any, want ...int) (int, error) {
	var rd io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal request body: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("failed to read response: %w", err)
	}
	for _, code := range want {
		if resp.StatusCode != code {
			continue
		}
		if out != nil && len(data) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return resp.StatusCode, fmt.Errorf("failed to decode %s %s: %w", method, path, err)
			}
		}
		return resp.StatusCode, nil
	}
	return resp.StatusCode, fmt.Errorf("%w %d from %s %s: %s", ErrUnexpectedStatus, resp.StatusCode, method, path, bytes.TrimSpace(data))
}

// checkServiceHealth verifies the service answers /healthz.
func checkServiceHealth(ctx context.Context, client *HTTPClient) error {
	if _, err := client.do(ctx, http.MethodGet, "/healthz", nil, nil, http.StatusOK); err != nil {
		return fmt.Errorf("service health check failed: %w", err)
	}
	return nil
}

// currentTime reads the service's logical clock.
func currentTime(ctx context.Context, client *HTTPClient) (int64, error) {
	var c clockResponse
	if _, err := client.do(ctx, http.MethodGet, "/clock", nil, &c, http.StatusOK); err != nil {
		return 0, err
	}
	return c.NowMs, nil
}

// createSongs creates the catalog concurrently using a worker pool.
func createSongs(ctx context.Context, config *Config, client *HTTPClient, songs []songRequest, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "creating songs", logger.Int("songs", len(songs)), logger.Int("workers", config.Workers))

	var created, failed int64
	songChan := make(chan songRequest, len(songs))
	for _, s := range songs {
		songChan <- s
	}
	close(songChan)

	var wg sync.WaitGroup
	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for s := range songChan {
				if ctx.Err() != nil {
					return
				}
				if _, err := client.do(ctx, http.MethodPost, "/songs", s, nil, http.StatusCreated); err != nil {
					atomic.AddInt64(&failed, 1)
					if config.Verbose {
						log.Warn(ctx, "song creation failed", logger.Int("worker", workerID), logger.Error(err))
					}
					continue
				}
				atomic.AddInt64(&created, 1)
			}
		}(i)
	}
	wg.Wait()

	stats.SongsCreated = int(created)
	if failed > 0 {
		return fmt.Errorf("failed to create %d of %d songs", failed, len(songs))
	}
	return ctx.Err()
}

// submitEvents posts the timeline in order. Events must not go back in
// logical time, so unlike song creation this runs on a single connection.
// A share of events is sent twice to exercise idempotency.
func submitEvents(ctx context.Context, config *Config, client *HTTPClient, events []eventRequest, stats *Stats) error {
	log := logger.Get()
	log.Info(ctx, "submitting events", logger.Int("events", len(events)))

	every := 0
	if config.DuplicateRate > 0 {
		every = int(1 / config.DuplicateRate)
	}

	send := func(ev eventRequest) {
		stats.EventsSubmitted++
		var out outcome
		code, err := client.do(ctx, http.MethodPost, "/events", ev, &out, http.StatusAccepted, http.StatusOK)
		switch {
		case code == http.StatusConflict:
			stats.EventsRejected++
		case err != nil:
			stats.EventsFailed++
			if config.Verbose {
				log.Warn(ctx, "event submission failed", logger.String("event_id", ev.EventID), logger.Error(err))
			}
		case out.Duplicate:
			stats.EventsDuplicate++
		case out.Status == "ignored":
			stats.EventsIgnored++
		default:
			stats.EventsAccepted++
			stats.Derived += len(out.Derived)
		}
	}

	for i, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		send(ev)
		if every > 0 && i%every == every-1 {
			send(ev)
		}
	}

	if stats.EventsFailed > 0 || stats.EventsRejected > 0 {
		return fmt.Errorf("%d events failed and %d were rejected", stats.EventsFailed, stats.EventsRejected)
	}
	return nil
}
