package httpx

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/atlasmesh/tileserve/internal/metrics"
)

// RetryPolicy controls retry behavior for requests to the tile generator.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	LogRetries  bool
}

// DoWithRetry executes a request built by build, retrying transport errors,
// 429s and 5xx responses with linear backoff plus jitter, honoring
// Retry-After. The request builder runs once per attempt so request bodies
// are fresh. Context cancellation aborts immediately.
func DoWithRetry(ctx context.Context, client *http.Client, policy RetryPolicy, build func() (*http.Request, error)) (*http.Response, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		req, err := build()
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req.WithContext(ctx))
		if err != nil {
			if attempt == maxAttempts || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				if policy.LogRetries {
					log.Printf("httpx: attempt=%d url=%s err=%v (no more retries)", attempt, req.URL, err)
				}
				return nil, err
			}
			metrics.GeneratorHTTPRetries.Inc()
		} else {
			if resp.StatusCode != http.StatusTooManyRequests && resp.StatusCode < 500 {
				return resp, nil
			}
			// 429 or 5xx - retry unless out of attempts
			if attempt == maxAttempts {
				if policy.LogRetries {
					log.Printf("httpx: attempt=%d url=%s status=%d (giving up)", attempt, req.URL, resp.StatusCode)
				}
				return resp, nil
			}
			if wait, ok := retryAfter(resp); ok {
				resp.Body.Close()
				metrics.GeneratorRetryAfterWaits.Observe(wait.Seconds())
				if policy.LogRetries {
					log.Printf("httpx: attempt=%d url=%s status=%d retry-after=%s", attempt, req.URL, resp.StatusCode, wait)
				}
				if err := sleep(ctx, wait); err != nil {
					return nil, err
				}
				continue
			}
			resp.Body.Close()
			metrics.GeneratorHTTPRetries.Inc()
		}

		jitter := time.Duration(rand.Intn(200)) * time.Millisecond
		delay := policy.BaseDelay*time.Duration(attempt) + jitter
		if policy.LogRetries {
			log.Printf("httpx: attempt=%d backing off=%s", attempt, delay)
		}
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
	return nil, errors.New("exhausted retries")
}

// retryAfter parses a Retry-After header, either delta-seconds or HTTP-date.
func retryAfter(resp *http.Response) (time.Duration, bool) {
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(ra); err == nil {
		if delta := time.Until(t); delta > 0 {
			return delta, true
		}
	}
	return 0, false
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
