package config

import (
	"errors"
	"fmt"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the configuration for errors and inconsistencies.
// Returns nil if valid, or an error describing every problem found.
func Validate(cfg *Config) error {
	var errs []error

	// At least one test path
	if len(cfg.TestPaths) == 0 {
		errs = append(errs, ValidationError{
			Field:   "test_path",
			Message: "at least one test path is required",
		})
	}

	// The decoder under test must be known
	switch cfg.Mode() {
	case ModeFetch:
		if len(cfg.TestPaths) > 1 {
			errs = append(errs, ValidationError{
				Field:   "test_path",
				Message: "-fetch-index takes exactly one destination directory",
			})
		}
	case ModeWriteLedger:
		if cfg.VVdeCPath == "" {
			errs = append(errs, ValidationError{
				Field:   "vvdec_path",
				Message: "-write-ledger requires a reference decoder (-vvdec or $" + EnvVVdeCPath + ")",
			})
		}
	default:
		if cfg.FFmpegPath == "" && !cfg.UseVVdeC() {
			errs = append(errs, ValidationError{
				Field: "ffmpeg_path",
				Message: "no FFmpeg path provided; use -ffmpeg or the environment variable " +
					EnvFFmpegPath,
			})
		}
	}

	// Tolerating decode errors only makes sense when output is not checked
	if cfg.TolerateDecodeErrors && !cfg.NoOutputCheck {
		errs = append(errs, ValidationError{
			Field:   "tolerate_decode_errors",
			Message: "-tolerate-decode-errors requires -no-output-check",
		})
	}

	// Workers must be positive
	if cfg.Workers < 1 {
		errs = append(errs, ValidationError{
			Field:   "workers",
			Message: "must be at least 1",
		})
	}

	// Timeouts must be positive
	if cfg.Timeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "timeout",
			Message: "must be positive",
		})
	}
	if cfg.PerfTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "perf_timeout",
			Message: "must be positive",
		})
	}
	if cfg.DownloadTimeout <= 0 {
		errs = append(errs, ValidationError{
			Field:   "download_timeout",
			Message: "must be positive",
		})
	}

	if cfg.PerfRepeats < 2 {
		errs = append(errs, ValidationError{
			Field:   "perf_repeats",
			Message: "must be at least 2 to compute a coefficient of variation",
		})
	}

	// CSV only applies to the thread sweep
	if cfg.CSV && !cfg.ThreadSweep {
		errs = append(errs, ValidationError{
			Field:   "csv",
			Message: "-csv requires -threads-sweep",
		})
	}

	// The TUI is only meaningful for the parallel conformance run
	if cfg.TUIEnabled && cfg.Mode() != ModeConformance {
		errs = append(errs, ValidationError{
			Field:   "tui",
			Message: "-tui is only supported for conformance runs",
		})
	}

	// Log format must be valid
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[cfg.LogFormat] {
		errs = append(errs, ValidationError{
			Field:   "log_format",
			Message: fmt.Sprintf("must be 'json' or 'text' (got %q)", cfg.LogFormat),
		})
	}

	// Return combined errors
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	return nil
}
