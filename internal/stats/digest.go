package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// digestCompression matches the accuracy used for the other digests.
const digestCompression = 100

// Percentiles are decode-time quantiles for a run.
type Percentiles struct {
	Count int
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// DurationDigest tracks the distribution of decode wall times with a
// t-digest, so percentiles cost constant memory regardless of run size.
// It is safe for concurrent use.
type DurationDigest struct {
	mu     sync.Mutex
	digest *tdigest.TDigest
	count  int
	max    time.Duration
}

// NewDurationDigest creates an empty digest.
func NewDurationDigest() *DurationDigest {
	return &DurationDigest{
		digest: tdigest.NewWithCompression(digestCompression),
	}
}

// Add records one decode duration.
func (d *DurationDigest) Add(v time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.digest.Add(v.Seconds(), 1)
	d.count++
	if v > d.max {
		d.max = v
	}
}

// Percentiles returns p50/p95/p99 and the maximum.
func (d *DurationDigest) Percentiles() Percentiles {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.count == 0 {
		return Percentiles{}
	}
	return Percentiles{
		Count: d.count,
		P50:   secondsToDuration(d.digest.Quantile(0.50)),
		P95:   secondsToDuration(d.digest.Quantile(0.95)),
		P99:   secondsToDuration(d.digest.Quantile(0.99)),
		Max:   d.max,
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
