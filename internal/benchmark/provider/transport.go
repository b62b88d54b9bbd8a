package provider

import (
	"log/slog"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

const (
	// retryMax is the number of retries after the first attempt, so a request
	// is tried at most retryMax+1 times.
	retryMax       = 5
	retryWaitMin   = 500 * time.Millisecond
	retryWaitMax   = 10 * time.Second
	retryJitterMax = 250 * time.Millisecond
)

// newRetryClient builds a retrying HTTP client for a single provider call.
// The default policy retries 429 and retryable 5xx responses plus connection
// and timeout failures; other 4xx responses are returned to the caller
// untouched. attemptStart is stamped before each attempt so the caller can
// measure the latency of the final attempt alone.
func newRetryClient(base *http.Client, logger *slog.Logger, attemptStart *time.Time) *retryablehttp.Client {
	c := retryablehttp.NewClient()
	c.HTTPClient = base
	c.Logger = nil
	c.RetryMax = retryMax
	c.RetryWaitMin = retryWaitMin
	c.RetryWaitMax = retryWaitMax
	c.Backoff = jitterBackoff

	start := attemptStart
	c.RequestLogHook = func(_ retryablehttp.Logger, req *http.Request, attempt int) {
		*start = time.Now()
		if attempt > 0 {
			logger.Warn("Retrying provider request",
				slog.String("url", req.URL.Path),
				slog.Int("attempt", attempt+1),
			)
		}
	}
	return c
}

// jitterBackoff waits Retry-After when the server provides one, otherwise an
// exponential backoff from min with up to 250ms of jitter, capped at max.
func jitterBackoff(min, max time.Duration, attemptNum int, resp *http.Response) time.Duration {
	if resp != nil {
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.ParseFloat(ra, 64); err == nil && secs >= 0 {
				wait := time.Duration(secs * float64(time.Second))
				if wait > max {
					return max
				}
				return wait
			}
		}
	}

	wait := float64(min) * math.Pow(2, float64(attemptNum))
	wait += float64(rand.Int63n(int64(retryJitterMax)))
	if wait > float64(max) {
		return max
	}
	return time.Duration(wait)
}

// snippet trims a response body for error messages.
func snippet(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
