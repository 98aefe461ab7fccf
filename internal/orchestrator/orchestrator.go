// Package orchestrator runs batches of bitstreams through the classifier on
// a bounded worker pool and aggregates the outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/classifier"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/fixture"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

// DefaultWorkers is the default worker pool size.
const DefaultWorkers = 16

// ErrPrecondition is returned when the options contradict each other.
var ErrPrecondition = errors.New("tolerating decode errors requires disabling the output check")

// Classifier classifies one test case.
type Classifier interface {
	Classify(ctx context.Context, tc result.TestCase) (classifier.Verdict, error)
}

// Resolver prepares the fixtures under a root before it is scheduled.
type Resolver interface {
	ResolveAll(ctx context.Context, root string) (int, error)
}

// Callbacks are invoked from the consumer goroutine, one at a time.
type Callbacks struct {
	OnStart   func(total int)
	OnOutcome func(tc result.TestCase, v classifier.Verdict)
	OnError   func(tc result.TestCase, err error)
}

// Config configures a conformance run.
type Config struct {
	Workers    int
	Options    classifier.Options
	Classifier Classifier
	Resolver   Resolver // nil skips fixture resolution
	Logger     *slog.Logger
	Callbacks  Callbacks
}

// Conformance is the conformance orchestrator.
type Conformance struct {
	cfg       Config
	logger    *slog.Logger
	durations *stats.DurationDigest
}

// NewConformance creates a conformance orchestrator.
func NewConformance(cfg Config) *Conformance {
	if cfg.Workers < 1 {
		cfg.Workers = DefaultWorkers
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Conformance{
		cfg:       cfg,
		logger:    logger,
		durations: stats.NewDurationDigest(),
	}
}

// CheckPreconditions rejects contradictory options before any work starts.
func CheckPreconditions(opts classifier.Options) error {
	if opts.TolerateDecodeErrors && !opts.NoOutputCheck {
		return ErrPrecondition
	}
	return nil
}

// Run resolves fixtures, discovers bitstreams under roots and classifies
// them. The returned summary is non-nil whenever scheduling started, even
// if err is set. err is set for precondition, fixture and discovery
// failures, for a decoder launch failure (which cancels the remaining
// work) and when ctx is cancelled.
func (c *Conformance) Run(ctx context.Context, roots []string) (*result.Summary, error) {
	if err := CheckPreconditions(c.cfg.Options); err != nil {
		return nil, err
	}

	cases, err := c.prepare(ctx, roots)
	if err != nil {
		return nil, err
	}

	c.logger.Info("conformance_started",
		"bitstreams", len(cases),
		"workers", c.cfg.Workers,
		"timeout", c.cfg.Options.Timeout.String(),
		"output_check", !c.cfg.Options.NoOutputCheck,
	)
	if c.cfg.Callbacks.OnStart != nil {
		c.cfg.Callbacks.OnStart(len(cases))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	summary := result.NewSummary()
	c.durations = stats.NewDurationDigest()
	start := time.Now()
	var fatal error

	runPool(ctx, c.cfg.Workers, cases, c.cfg.Classifier.Classify,
		func(tc result.TestCase, v classifier.Verdict, err error) {
			if err != nil {
				c.handleError(ctx, summary, tc, err, &fatal, cancel)
				return
			}
			summary.Record(tc, v.Outcome)
			summary.RecordPatterns(v.Outcome, v.ErrorPatterns)
			if v.Decoded {
				c.durations.Add(v.Duration)
			}
			if c.cfg.Callbacks.OnOutcome != nil {
				c.cfg.Callbacks.OnOutcome(tc, v)
			}
		})

	c.logger.Info("conformance_complete",
		"total", summary.Total(),
		"passed", summary.Count(result.Passed),
		"skipped", summary.Count(result.Skipped),
		"failed", summary.Failures(),
		"internal_errors", len(summary.Errors()),
		"duration", time.Since(start).String(),
	)

	if fatal != nil {
		return summary, fatal
	}
	if err := ctx.Err(); err != nil && summary.Total()+len(summary.Errors()) < len(cases) {
		return summary, err
	}
	return summary, nil
}

// handleError sorts a task error into fatal (launch failure), noise from
// cancellation, or a per-task internal error.
func (c *Conformance) handleError(ctx context.Context, summary *result.Summary, tc result.TestCase, err error, fatal *error, cancel context.CancelFunc) {
	switch {
	case errors.Is(err, process.ErrLaunch):
		if *fatal == nil {
			*fatal = err
			c.logger.Error("decoder_launch_failed",
				"path", tc.Path,
				"error", err,
			)
			cancel()
		}
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		// Cancelled in flight; the run is already failing.
	default:
		summary.RecordError(tc, err)
		attrs := []any{"path", tc.Path, "error", err}
		var pe *PanicError
		if errors.As(err, &pe) {
			attrs = append(attrs, "stack", string(pe.Stack))
		}
		c.logger.Warn("task_internal_error", attrs...)
		if c.cfg.Callbacks.OnError != nil {
			c.cfg.Callbacks.OnError(tc, err)
		}
	}
}

// prepare resolves fixtures and enumerates every root into one batch,
// sorted by ascending size. A path reachable from two roots is scheduled once.
func (c *Conformance) prepare(ctx context.Context, roots []string) ([]result.TestCase, error) {
	if c.cfg.Resolver != nil {
		for _, root := range roots {
			n, err := c.cfg.Resolver.ResolveAll(ctx, root)
			if err != nil {
				return nil, fmt.Errorf("resolve fixtures under %s: %w", root, err)
			}
			if n > 0 {
				c.logger.Info("fixtures_resolved", "root", root, "count", n)
			}
		}
	}
	return Discover(roots)
}

// Discover enumerates every root into one size-ordered batch.
func Discover(roots []string) ([]result.TestCase, error) {
	seen := make(map[string]bool)
	var cases []result.TestCase
	for _, root := range roots {
		found, err := fixture.Discover(root)
		if err != nil {
			return nil, fmt.Errorf("discover %s: %w", root, err)
		}
		for _, tc := range found {
			if seen[tc.Path] {
				continue
			}
			seen[tc.Path] = true
			cases = append(cases, tc)
		}
	}
	fixture.SortBySize(cases)
	return cases, nil
}

// Durations returns the decode-time digest of the last run.
func (c *Conformance) Durations() *stats.DurationDigest {
	return c.durations
}

// MaxExitCode is the largest status a process can report; larger failure
// counts would wrap modulo 256, so 256 failures would read as success.
const MaxExitCode = 255

// ExitCode is the number of outcomes other than PASSED and SKIPPED, capped
// at MaxExitCode. The report carries the exact count.
func ExitCode(summary *result.Summary) int {
	if summary == nil {
		return 0
	}
	return min(summary.Failures(), MaxExitCode)
}
