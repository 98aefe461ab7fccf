package fixture

import (
	"errors"
	"hash/fnv"
	"math"
	"math/rand"
	"net/http"
	"time"
)

// BackoffConfig holds the retry policy for fixture downloads.
type BackoffConfig struct {
	Attempts   int           // total attempts per download (default: 3)
	Initial    time.Duration // delay before the first retry (default: 1s)
	Max        time.Duration // delay cap (default: 30s)
	Multiplier float64       // growth per retry (default: 2)
	JitterPct  float64       // jitter as a fraction of the delay (default: 0.4 = ±20%)
}

// DefaultBackoffConfig returns the download retry defaults.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		Attempts:   3,
		Initial:    time.Second,
		Max:        30 * time.Second,
		Multiplier: 2,
		JitterPct:  0.4,
	}
}

// backoff computes retry delays for one download. Jitter is seeded from
// the URL so parallel runs against the same mirror do not retry in step.
type backoff struct {
	cfg     BackoffConfig
	retries int
	rng     *rand.Rand
}

func newBackoff(url string, cfg BackoffConfig) *backoff {
	h := fnv.New64a()
	h.Write([]byte(url))
	seed := int64(h.Sum64()) ^ time.Now().UnixNano()
	return &backoff{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

// next returns the delay before the next retry.
func (b *backoff) next() time.Duration {
	delay := float64(b.cfg.Initial) * math.Pow(b.cfg.Multiplier, float64(b.retries))
	b.retries++

	if delay > float64(b.cfg.Max) {
		delay = float64(b.cfg.Max)
	}

	// ±(JitterPct/2) of the delay
	if b.cfg.JitterPct > 0 {
		jitterRange := delay * b.cfg.JitterPct
		delay += jitterRange*b.rng.Float64() - jitterRange/2
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// statusError is a non-200 download response.
type statusError struct {
	url    string
	code   int
	status string
}

func (e *statusError) Error() string {
	return "download " + e.url + ": unexpected status " + e.status
}

// retryable reports whether a failed download may succeed on retry:
// transport errors, 429 and 5xx responses. Cancellation of the run and
// filesystem errors are not retried.
func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.code == http.StatusTooManyRequests || se.code >= 500
	}
	var te *transportError
	return errors.As(err, &te)
}

// transportError wraps a failure to complete the HTTP exchange.
type transportError struct {
	err error
}

func (e *transportError) Error() string { return e.err.Error() }

func (e *transportError) Unwrap() error { return e.err }
