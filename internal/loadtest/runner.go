package loadtest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lowmax205/eas/pkg/logger"
)

const (
	maxSendAttempts      = 3
	percentageMultiplier = 100
	eventRadiusMeters    = 100
)

// ErrUnhealthy is returned when the target service does not answer /healthz with 200.
var ErrUnhealthy = errors.New("service unhealthy")

// Run executes one load test against cfg.BaseURL.
func Run(ctx context.Context, cfg Config, log logger.Logger) (Stats, error) {
	stats := Stats{StartTime: time.Now()}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	client := newHTTPClient(cfg.BaseURL, cfg.Timeout)

	log.Info(ctx, "starting load test",
		logger.String("baseURL", cfg.BaseURL),
		logger.String("eventID", cfg.EventID),
		logger.Int("submissions", cfg.Submissions),
		logger.Int("workers", cfg.Workers))

	if err := checkHealth(ctx, client); err != nil {
		return stats, err
	}
	if err := registerEvent(ctx, client, cfg, stats.StartTime); err != nil {
		return stats, fmt.Errorf("register event: %w", err)
	}

	subs := generate(cfg, stats.StartTime)
	stats.Generated = len(subs)
	queued, err := send(ctx, client, cfg, withResends(cfg, subs), &stats)
	if err != nil {
		return stats, fmt.Errorf("send submissions: %w", err)
	}
	log.Info(ctx, "submissions sent",
		logger.Int("queued", stats.Queued),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("failed", stats.Failed))

	if err := await(ctx, client, cfg, queued, &stats); err != nil {
		return stats, fmt.Errorf("await verifications: %w", err)
	}

	stats.EndTime = time.Now()
	stats.Duration = stats.EndTime.Sub(stats.StartTime)
	logFinalStats(ctx, log, stats)
	return stats, nil
}

func checkHealth(ctx context.Context, c *httpClient) error {
	code, err := c.do(ctx, http.MethodGet, "/healthz", nil, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnhealthy, err)
	}
	if code != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUnhealthy, code)
	}
	return nil
}

func registerEvent(ctx context.Context, c *httpClient, cfg Config, start time.Time) error {
	body := map[string]any{
		"latitude":              cfg.Latitude,
		"longitude":             cfg.Longitude,
		"event_start":           start.UTC().Format(time.RFC3339),
		"allowed_radius_meters": eventRadiusMeters,
		"requires_gps":          true,
	}
	code, err := c.do(ctx, http.MethodPut, "/v1/events/"+url.PathEscape(cfg.EventID), body, nil)
	if err != nil {
		return err
	}
	if code != http.StatusOK {
		return fmt.Errorf("unexpected status %d", code)
	}
	return nil
}

// send posts every submission and returns the ids that were queued, with
// whether each was placed offsite.
func send(ctx context.Context, c *httpClient, cfg Config, subs []submission, stats *Stats) (map[string]bool, error) {
	var (
		sent, queuedN, dup, throttled, failed atomic.Int64

		mu     sync.Mutex
		queued = make(map[string]bool, len(subs))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.Workers)
	for _, s := range subs {
		g.Go(func() error {
			var ack ackResponse
			code, err := sendWithRetry(gctx, c, cfg, s, &ack, &throttled)
			sent.Add(1)
			switch {
			case err != nil && gctx.Err() != nil:
				return gctx.Err()
			case err != nil:
				failed.Add(1)
			case code == http.StatusAccepted:
				queuedN.Add(1)
				mu.Lock()
				queued[s.ID] = s.offsite
				mu.Unlock()
			case code == http.StatusOK && ack.Duplicate:
				dup.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	stats.Sent = int(sent.Load())
	stats.Queued = int(queuedN.Load())
	stats.Duplicates = int(dup.Load())
	stats.Throttled = int(throttled.Load())
	stats.Failed = int(failed.Load())
	return queued, err
}

func sendWithRetry(ctx context.Context, c *httpClient, cfg Config, s submission, ack *ackResponse, throttled *atomic.Int64) (int, error) {
	var (
		code int
		err  error
	)
	for attempt := 0; attempt < maxSendAttempts; attempt++ {
		code, err = c.do(ctx, http.MethodPost, "/v1/submissions", s, ack)
		if err != nil || (code != http.StatusTooManyRequests && code != http.StatusServiceUnavailable) {
			return code, err
		}
		throttled.Add(1)
		select {
		case <-ctx.Done():
			return code, ctx.Err()
		case <-time.After(cfg.PollEvery):
		}
	}
	return code, err
}

// await polls the verification of every queued submission until all have
// an outcome or cfg.Settle elapses.
func await(ctx context.Context, c *httpClient, cfg Config, queued map[string]bool, stats *Stats) error {
	pending := make(map[string]struct{}, len(queued))
	for id := range queued {
		pending[id] = struct{}{}
	}
	deadline := time.Now().Add(cfg.Settle)

	for len(pending) > 0 {
		var (
			mu   sync.Mutex
			done = make(map[string]bool)
		)
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(cfg.Workers)
		for id := range pending {
			g.Go(func() error {
				var v verificationResponse
				code, err := c.do(gctx, http.MethodGet, "/v1/verifications/"+url.PathEscape(id), nil, &v)
				if err != nil || code != http.StatusOK {
					return nil //nolint:nilerr // not verified yet
				}
				mu.Lock()
				done[id] = v.Outcome.IsAccepted
				mu.Unlock()
				return nil
			})
		}
		_ = g.Wait()

		for id, accepted := range done {
			delete(pending, id)
			stats.Verified++
			if accepted {
				stats.Accepted++
			} else {
				stats.Rejected++
			}
			// offsite submissions are expected to be rejected, onsite ones accepted
			if accepted == queued[id] {
				stats.Mismatched++
			}
		}
		if len(pending) == 0 || time.Now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			stats.Pending = len(pending)
			return ctx.Err()
		case <-time.After(cfg.PollEvery):
		}
	}
	stats.Pending = len(pending)
	return nil
}

func logFinalStats(ctx context.Context, log logger.Logger, stats Stats) {
	var acceptRate, perSecond float64
	if stats.Verified > 0 {
		acceptRate = float64(stats.Accepted) / float64(stats.Verified) * percentageMultiplier
	}
	if stats.Duration > 0 {
		perSecond = float64(stats.Verified) / stats.Duration.Seconds()
	}
	log.Info(ctx, "final statistics",
		logger.Int("generated", stats.Generated),
		logger.Int("sent", stats.Sent),
		logger.Int("queued", stats.Queued),
		logger.Int("duplicates", stats.Duplicates),
		logger.Int("throttled", stats.Throttled),
		logger.Int("failed", stats.Failed),
		logger.Int("verified", stats.Verified),
		logger.Int("accepted", stats.Accepted),
		logger.Int("rejected", stats.Rejected),
		logger.Int("pending", stats.Pending),
		logger.Int("mismatched", stats.Mismatched),
		logger.String("duration", stats.Duration.String()),
		logger.Float64("acceptRate", acceptRate),
		logger.Float64("verifiedPerSecond", perSecond))
}
