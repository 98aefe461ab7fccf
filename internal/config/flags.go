package config

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

const (
	// EnvFFmpegPath is consulted when -ffmpeg is not given.
	EnvFFmpegPath = "FFMPEG_PATH"

	// EnvVVdeCPath is consulted when -vvdec is not given.
	EnvVVdeCPath = "VVDEC_PATH"
)

// ParseFlags parses os.Args and returns a Config.
func ParseFlags() (*Config, error) {
	return ParseArgs(os.Args[1:], os.Getenv, os.Stderr)
}

// ParseArgs parses the given arguments into a Config. getenv supplies the
// environment fallbacks for decoder paths.
func ParseArgs(args []string, getenv func(string) string, usageOut io.Writer) (*Config, error) {
	cfg := DefaultConfig()
	fs := flag.NewFlagSet("go-ffmpeg-conformance", flag.ContinueOnError)
	fs.SetOutput(usageOut)

	// Custom usage message
	fs.Usage = func() {
		fmt.Fprintf(usageOut, `go-ffmpeg-conformance - decoder conformance and throughput harness

Usage:
  go-ffmpeg-conformance [flags] <test_path> [test_path...]

Decoder Flags:
`)
		printFlagCategory(fs, usageOut, []string{"ffmpeg", "vvdec"})

		fmt.Fprintf(usageOut, "\nConformance:\n")
		printFlagCategory(fs, usageOut, []string{"workers", "timeout", "tolerate-decode-errors", "no-output-check"})

		fmt.Fprintf(usageOut, "\nFixtures:\n")
		printFlagCategory(fs, usageOut, []string{"download-timeout", "skip-fixtures", "fetch-index"})

		fmt.Fprintf(usageOut, "\nPerformance:\n")
		printFlagCategory(fs, usageOut, []string{"perf", "threads-sweep", "csv", "perf-timeout"})

		fmt.Fprintf(usageOut, "\nLedger:\n")
		printFlagCategory(fs, usageOut, []string{"write-ledger"})

		fmt.Fprintf(usageOut, "\nObservability:\n")
		printFlagCategory(fs, usageOut, []string{"metrics", "metrics-file", "tui", "v", "log-format", "no-color"})

		fmt.Fprintf(usageOut, "\nDiagnostics:\n")
		printFlagCategory(fs, usageOut, []string{"print-cmd", "skip-preflight", "version"})

		fmt.Fprintf(usageOut, `
Environment:
  %s   FFmpeg binary used when -ffmpeg is not set
  %s    reference decoder used when -vvdec is not set

Examples:
  # Conformance run over a directory of bitstreams
  go-ffmpeg-conformance -ffmpeg ./ffmpeg tests/conformance/passed

  # Known-invalid streams: success means "failed gracefully"
  go-ffmpeg-conformance -no-output-check -tolerate-decode-errors tests/conformance/failed

  # Fetch a conformance corpus, then write its ledgers
  go-ffmpeg-conformance -fetch-index https://www.itu.int/wftp3/av-arch/jvet-site/draft_conformance/ clips/
  go-ffmpeg-conformance -write-ledger -vvdec ./vvdecapp clips/

  # Thread scaling of the reference decoder as CSV
  go-ffmpeg-conformance -threads-sweep -csv -vvdec ./vvdecapp clips/

`, EnvFFmpegPath, EnvVVdeCPath)
	}

	// Decoders
	fs.StringVar(&cfg.FFmpegPath, "ffmpeg", cfg.FFmpegPath, "Path to FFmpeg binary (falls back to $"+EnvFFmpegPath+")")
	fs.StringVar(&cfg.VVdeCPath, "vvdec", cfg.VVdeCPath, "Path to the reference decoder (vvdecapp)")

	// Conformance
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Number of concurrent decodes")
	fs.IntVar(&cfg.Workers, "t", cfg.Workers, "")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Per-bitstream decode timeout")
	fs.BoolVar(&cfg.TolerateDecodeErrors, "tolerate-decode-errors", cfg.TolerateDecodeErrors,
		"Treat a non-crashing decoder error as a pass (requires -no-output-check)")
	fs.BoolVar(&cfg.NoOutputCheck, "no-output-check", cfg.NoOutputCheck, "Do not compare checksums; a clean exit passes")

	// Fixtures
	fs.DurationVar(&cfg.DownloadTimeout, "download-timeout", cfg.DownloadTimeout, "Timeout for a single fixture download")
	fs.BoolVar(&cfg.SkipFixtures, "skip-fixtures", cfg.SkipFixtures, "Do not resolve or verify YAML fixture descriptors")
	fs.StringVar(&cfg.FetchIndex, "fetch-index", cfg.FetchIndex, "Download the conformance archives linked from this index page into the test path and exit")

	// Performance
	fs.BoolVar(&cfg.Perf, "perf", cfg.Perf, "Measure decode throughput (3 runs per bitstream)")
	fs.BoolVar(&cfg.ThreadSweep, "threads-sweep", cfg.ThreadSweep, "Measure throughput for SIMD on/off x 1,2,4,8,16 threads")
	fs.BoolVar(&cfg.CSV, "csv", cfg.CSV, "Print thread-sweep rows as CSV")
	fs.DurationVar(&cfg.PerfTimeout, "perf-timeout", cfg.PerfTimeout, "Timeout for a single throughput run")

	// Ledger
	fs.BoolVar(&cfg.WriteLedger, "write-ledger", cfg.WriteLedger, "Write md5.txt ledgers using the reference decoder")

	// Observability
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "Prometheus metrics listen address (empty = disabled)")
	fs.StringVar(&cfg.MetricsFile, "metrics-file", cfg.MetricsFile, "Write final metrics in Prometheus text format to this file")
	fs.BoolVar(&cfg.TUIEnabled, "tui", cfg.TUIEnabled, "Show a live terminal dashboard during conformance runs")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.BoolVar(&cfg.NoColor, "no-color", cfg.NoColor, "Disable coloured report output")

	// Diagnostics
	fs.BoolVar(&cfg.PrintCmd, "print-cmd", cfg.PrintCmd, "Print decoder commands for the first bitstream and exit")
	fs.BoolVar(&cfg.SkipPreflight, "skip-preflight", cfg.SkipPreflight, "Skip preflight checks")
	fs.BoolVar(&cfg.Version, "version", cfg.Version, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.TestPaths = fs.Args()

	// Environment fallbacks
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = getenv(EnvFFmpegPath)
	}
	if cfg.VVdeCPath == "" {
		cfg.VVdeCPath = getenv(EnvVVdeCPath)
	}

	return cfg, nil
}

// printFlagCategory prints flags matching the given names (helper for usage).
func printFlagCategory(fs *flag.FlagSet, w io.Writer, names []string) {
	fs.VisitAll(func(f *flag.Flag) {
		for _, name := range names {
			if f.Name == name {
				fmt.Fprintf(w, "  -%s %s\n    \t%s", f.Name, flagType(f), f.Usage)
				if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" {
					fmt.Fprintf(w, " (default %s)", f.DefValue)
				}
				fmt.Fprintln(w)
				return
			}
		}
	})
}

// flagType returns a type hint for the flag value.
func flagType(f *flag.Flag) string {
	// Infer type from default value format
	switch f.DefValue {
	case "true", "false":
		return ""
	}

	// Check if it looks like a duration
	if strings.HasSuffix(f.DefValue, "s") || strings.HasSuffix(f.DefValue, "m") || strings.HasSuffix(f.DefValue, "h") {
		return "duration"
	}

	// Check if numeric
	if _, err := fmt.Sscanf(f.DefValue, "%d", new(int)); err == nil {
		return "int"
	}

	return "string"
}
