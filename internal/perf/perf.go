// Package perf measures decoder throughput: repeated runs per sequence and
// a SIMD x thread-count sweep.
package perf

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/logging"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

const (
	// DefaultRepeats is the number of runs per sequence.
	DefaultRepeats = 3

	// DefaultTimeout bounds a single throughput run.
	DefaultTimeout = 5 * time.Minute
)

// Config configures a Runner.
type Config struct {
	Repeats int
	Timeout time.Duration
	NoisyCV float64
}

// Runner runs throughput measurements strictly one after another.
type Runner struct {
	dec    decoder.Decoder
	runner process.Runner
	cfg    Config
	logger *slog.Logger

	// OnRun, when set, is called after every successful measurement.
	OnRun func(seq string, opts decoder.Options, fps float64)
}

// New creates a perf runner.
func New(dec decoder.Decoder, runner process.Runner, cfg Config, logger *slog.Logger) *Runner {
	if cfg.Repeats < 1 {
		cfg.Repeats = DefaultRepeats
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.NoisyCV <= 0 {
		cfg.NoisyCV = stats.DefaultNoisyCV
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{dec: dec, runner: runner, cfg: cfg, logger: logger}
}

// RunError reports a throughput run that did not produce an fps figure.
type RunError struct {
	Input  string
	Result *process.Result
	Err    error
}

func (e *RunError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode %s: %v", e.Input, e.Err)
	}
	return fmt.Sprintf("decode %s: %s", e.Input, e.Result.Termination)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

// Measure decodes input once in throughput mode and returns its fps.
func (r *Runner) Measure(ctx context.Context, input string, opts decoder.Options) (float64, error) {
	args := r.dec.Command(input, decoder.ModeThroughput, opts)
	r.logger.Debug("perf_run_started",
		"input", input,
		"threads", opts.Threads,
		"simd", opts.SIMD,
		"command", decoder.CommandString(args),
	)

	res, err := r.runner.Execute(ctx, process.Request{Args: args, Timeout: r.cfg.Timeout})
	if err != nil {
		return 0, &RunError{Input: input, Err: err}
	}
	if !res.Success() {
		tail := logging.NewStderrTail(logging.DefaultTailLines)
		tail.Feed(res.Stderr)
		r.logger.Error("perf_run_failed",
			"input", input,
			"termination", res.Termination.String(),
			"exit_code", res.ExitCode,
			tail.LogAttrs(),
		)
		return 0, &RunError{Input: input, Result: res}
	}

	fps, err := r.dec.ParseFPS(res.Stdout, res.Stderr)
	if err != nil {
		return 0, &RunError{Input: input, Result: res, Err: err}
	}
	r.logger.Info("perf_run_complete",
		"input", input,
		"threads", opts.Threads,
		"simd", opts.SIMD,
		"fps", fps,
		"duration", res.Duration.String(),
	)
	return fps, nil
}

// Throughput decodes each input cfg.Repeats times with default options and
// summarises the samples. The first failing run aborts the whole measurement.
func (r *Runner) Throughput(ctx context.Context, inputs []result.TestCase) ([]stats.PerfStat, error) {
	out := make([]stats.PerfStat, 0, len(inputs))
	for _, tc := range inputs {
		samples := make([]float64, 0, r.cfg.Repeats)
		for i := 0; i < r.cfg.Repeats; i++ {
			fps, err := r.Measure(ctx, tc.Path, decoder.DefaultOptions())
			if err != nil {
				return out, err
			}
			samples = append(samples, fps)
			if r.OnRun != nil {
				r.OnRun(tc.Name(), decoder.DefaultOptions(), fps)
			}
		}

		st := stats.NewPerfStat(tc.Name(), samples, r.cfg.NoisyCV)
		if st.Noisy {
			r.logger.Warn("high_variance",
				"sequence", st.Sequence,
				"cv", st.CV,
				"samples", st.Samples,
			)
		}
		out = append(out, st)
	}
	return out, nil
}
