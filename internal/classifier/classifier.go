// Package classifier decides the outcome of decoding a single bitstream.
package classifier

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/logging"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/oracle"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// Options are the configuration flags that affect classification.
type Options struct {
	// NoOutputCheck skips the reference lookup; a clean exit passes.
	NoOutputCheck bool

	// TolerateDecodeErrors passes a nonzero exit that is not a fatal signal.
	TolerateDecodeErrors bool

	// Timeout bounds a single decode.
	Timeout time.Duration
}

// Verdict is the classification of one test case.
type Verdict struct {
	Outcome  result.Outcome
	Decoded  bool          // false when no decoder was run (SKIPPED)
	Duration time.Duration // decoder wall time
	Checksum string

	// ErrorPatterns counts known decoder error patterns in the stderr
	// tail of a failed decode. Nil for PASSED, SKIPPED and MISMATCH.
	ErrorPatterns map[string]int
}

// Classifier classifies test cases with one decoder and one oracle.
// It holds no per-call state and is safe for concurrent use.
type Classifier struct {
	dec    decoder.Decoder
	runner process.Runner
	oracle oracle.Oracle
	opts   Options
	logger *slog.Logger
}

// New creates a classifier.
func New(dec decoder.Decoder, runner process.Runner, o oracle.Oracle, opts Options, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		dec:    dec,
		runner: runner,
		oracle: o,
		opts:   opts,
		logger: logger,
	}
}

// Classify decodes tc and returns its verdict. Errors are internal failures
// (oracle I/O, launch failures wrapping process.ErrLaunch, cancellation),
// never decoder failures.
func (c *Classifier) Classify(ctx context.Context, tc result.TestCase) (Verdict, error) {
	var ref string
	if !c.opts.NoOutputCheck {
		sum, found, err := c.oracle.Reference(ctx, tc)
		if err != nil {
			return Verdict{}, err
		}
		if !found {
			c.logger.Debug("no_reference_checksum", "path", tc.Path)
			return Verdict{Outcome: result.Skipped}, nil
		}
		ref = sum
	}

	res, sum, ok, err := oracle.Decode(ctx, c.runner, c.dec, tc.Path, c.opts.Timeout)
	if err != nil {
		return Verdict{}, err
	}

	v := Verdict{
		Outcome:  Decide(ref, res, sum, ok, c.opts),
		Decoded:  true,
		Duration: res.Duration,
		Checksum: sum,
	}
	var tail *logging.StderrTail
	if v.Outcome.Failure() && v.Outcome != result.Mismatch {
		tail = logging.NewStderrTail(logging.DefaultTailLines)
		tail.Feed(res.Stderr)
		v.ErrorPatterns = tail.CountErrors()
	}
	c.log(tc, v, ref, res, tail)
	return v, nil
}

// Decide maps a decoder result to an outcome. It is a pure function of the
// reference checksum, the process result, the extracted checksum and the
// options.
func Decide(ref string, res *process.Result, sum string, sumOK bool, opts Options) result.Outcome {
	switch {
	case res.Termination == process.TimedOut:
		return result.Timeout

	case !res.Success():
		class := res.SignalClass()
		if opts.TolerateDecodeErrors && !class.Fatal() {
			return result.Passed
		}
		switch class {
		case process.SignalSegv:
			return result.Crashed
		case process.SignalAbort:
			return result.Aborted
		case process.SignalFPE:
			return result.ArithmeticError
		default:
			return result.DecodeError
		}

	case opts.NoOutputCheck:
		return result.Passed

	case sumOK && strings.TrimSpace(sum) == strings.TrimSpace(ref):
		return result.Passed

	default:
		return result.Mismatch
	}
}

// log reports the verdict; failures carry the tail of decoder stderr.
func (c *Classifier) log(tc result.TestCase, v Verdict, ref string, res *process.Result, tail *logging.StderrTail) {
	switch v.Outcome {
	case result.Passed:
		c.logger.Debug("decode_passed",
			"path", tc.Path,
			"duration", v.Duration.String(),
		)

	case result.Mismatch:
		c.logger.Info("checksum_mismatch",
			"path", tc.Path,
			"reference", ref,
			"checksum", v.Checksum,
		)

	default:
		attrs := []any{
			"path", tc.Path,
			"outcome", v.Outcome.String(),
			"termination", res.Termination.String(),
		}
		switch res.Termination {
		case process.Exited:
			attrs = append(attrs, "exit_code", res.ExitCode)
		case process.Signaled:
			attrs = append(attrs, "signal", process.SignalName(res.Signal))
		}
		if tail != nil {
			attrs = append(attrs, tail.LogAttrs())
		}
		c.logger.Warn("decode_failed", attrs...)
	}
}
