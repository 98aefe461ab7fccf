// Package main provides the go-ffmpeg-conformance CLI entry point.
//
// go-ffmpeg-conformance runs a decoder over a corpus of conformance
// bitstreams, compares the decoded output against reference checksums and
// reports per-outcome results. It can also measure decode throughput and
// generate reference ledgers.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/config"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/logging"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/orchestrator"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/preflight"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/go-ffmpeg-conformance
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// Parse command-line flags
	cfg, err := config.ParseFlags()
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintf(os.Stderr, "Error parsing flags: %v\n", err)
		return 1
	}

	if cfg.Version {
		fmt.Printf("go-ffmpeg-conformance %s\n", version)
		return 0
	}

	// Initialize logger
	// When TUI is enabled, suppress logs to avoid interfering with TUI rendering
	var logger *slog.Logger
	if cfg.TUIEnabled {
		logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	} else {
		logger = logging.NewLogger(cfg.LogFormat, "info", cfg.Verbose)
	}
	logging.SetDefault(logger)

	// Validate configuration
	if err := config.Validate(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 1
	}

	dec := decoder.New(cfg)
	ref := decoder.NewReference(cfg)

	// Handle -print-cmd mode
	if cfg.PrintCmd {
		if err := printCommands(os.Stdout, cfg, dec, ref); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	if !cfg.SkipPreflight {
		result := preflight.RunAll(preflightOptions(cfg, dec, ref))
		if !result.Passed || cfg.Verbose {
			preflight.PrintResults(os.Stderr, result)
		}
		if !result.Passed {
			fmt.Fprintln(os.Stderr, "preflight checks failed (use -skip-preflight to override)")
			return 1
		}
	}

	logger.Info("starting",
		"version", version,
		"mode", string(cfg.Mode()),
		"decoder", dec.Name(),
		"workers", cfg.Workers,
		"test_paths", cfg.TestPaths,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{
		cfg:    cfg,
		dec:    dec,
		ref:    ref,
		runner: process.NewExecRunner(logger),
		logger: logger,
		out:    os.Stdout,
	}

	switch cfg.Mode() {
	case config.ModeFetch:
		return app.runFetch(ctx)
	case config.ModePerf:
		return app.runPerf(ctx)
	case config.ModeThreadSweep:
		return app.runSweep(ctx)
	case config.ModeWriteLedger:
		return app.runWriteLedger(ctx)
	default:
		return app.runConformance(ctx)
	}
}

// preflightOptions checks only the decoders the selected mode launches.
// Fetching launches no decoder and creates its destination.
func preflightOptions(cfg *config.Config, dec, ref decoder.Decoder) preflight.Options {
	if cfg.Mode() == config.ModeFetch {
		return preflight.Options{Workers: 1}
	}
	opts := preflight.Options{
		Workers: cfg.Workers,
		Roots:   cfg.TestPaths,
	}
	if cfg.Mode() == config.ModePerf || cfg.Mode() == config.ModeThreadSweep {
		opts.Workers = 1
	}
	if cfg.Mode() != config.ModeWriteLedger && !cfg.UseVVdeC() {
		opts.FFmpegPath = dec.Path()
	}
	if ref != nil {
		opts.VVdeCPath = ref.Path()
	}
	return opts
}

// printCommands prints the commands that would be run for the first
// bitstream under the test paths.
func printCommands(w io.Writer, cfg *config.Config, dec, ref decoder.Decoder) error {
	input := "<bitstream>"
	cases, err := orchestrator.Discover(cfg.TestPaths)
	if err != nil {
		return err
	}
	if len(cases) > 0 {
		input = cases[0].Path
	}

	opts := decoder.DefaultOptions()
	opts.Output = "<frames.yuv>"
	fmt.Fprintf(w, "# %s checksum command:\n%s\n\n", dec.Name(),
		decoder.CommandString(dec.Command(input, decoder.ModeChecksum, opts)))
	fmt.Fprintf(w, "# %s throughput command:\n%s\n", dec.Name(),
		decoder.CommandString(dec.Command(input, decoder.ModeThroughput, opts)))
	if ref != nil && ref.Name() != dec.Name() {
		fmt.Fprintf(w, "\n# %s reference command:\n%s\n", ref.Name(),
			decoder.CommandString(ref.Command(input, decoder.ModeChecksum, opts)))
	}
	return nil
}
