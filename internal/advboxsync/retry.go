package advboxsync

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/dvloznov/intranet-sync/internal/logger"
)

// RetryConfig configures rate-limit retries with exponential backoff.
type RetryConfig struct {
	MaxRetries     int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	BackoffFactor  float64
	JitterFraction float64 // 0.0 to 1.0
}

// DefaultRetryConfig starts at the 5s pause ADVBox asks for and gives up
// after four retries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:     4,
	InitialDelay:   5 * time.Second,
	MaxDelay:       30 * time.Second,
	BackoffFactor:  2.0,
	JitterFraction: 0.2,
}

// fetchWithRetry retries fetch only while the upstream answers 429. When
// retries run out it returns an error wrapping ErrThrottled.
func fetchWithRetry(ctx context.Context, cfg RetryConfig, req PageRequest, fetch func(context.Context, PageRequest) (*Page, error)) (*Page, error) {
	log := logger.FromContext(ctx)

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		page, err := fetch(ctx, req)
		if err == nil {
			return page, nil
		}
		if !isRateLimited(err) {
			return nil, err
		}
		lastErr = err

		if attempt >= cfg.MaxRetries {
			break
		}

		delay := backoffDelay(cfg, attempt, err)
		log.Warn().
			Int("offset", req.Offset).
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Msg("ADVBox rate limited, backing off")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, fmt.Errorf("%w after %d attempts: %v", ErrThrottled, cfg.MaxRetries+1, lastErr)
}

func backoffDelay(cfg RetryConfig, attempt int, err error) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffFactor, float64(attempt))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}

	if cfg.JitterFraction > 0 {
		delay += delay * cfg.JitterFraction * (rand.Float64()*2 - 1)
		if delay < 0 {
			delay = float64(cfg.InitialDelay)
		}
	}

	// Honour Retry-After when the upstream asks for more than we planned.
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && float64(httpErr.RetryAfter) > delay {
		delay = math.Min(float64(httpErr.RetryAfter), float64(cfg.MaxDelay))
	}

	return time.Duration(delay)
}
