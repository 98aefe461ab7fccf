// Package config provides configuration management for go-ffmpeg-conformance.
package config

import "time"

// Mode selects what a run does with the discovered bitstreams.
type Mode string

const (
	// ModeConformance decodes every bitstream to a checksum and compares it
	// with the reference ledger.
	ModeConformance Mode = "conformance"

	// ModePerf decodes every bitstream three times and reports fps.
	ModePerf Mode = "perf"

	// ModeThreadSweep decodes every bitstream once per SIMD x thread-count
	// combination.
	ModeThreadSweep Mode = "threads"

	// ModeWriteLedger decodes every bitstream with the reference decoder and
	// writes md5.txt ledgers.
	ModeWriteLedger Mode = "write-ledger"

	// ModeFetch downloads a conformance corpus from an index page into the
	// test path.
	ModeFetch Mode = "fetch"
)

// Config holds all configuration options for a harness run.
type Config struct {
	// Inputs
	TestPaths []string `json:"test_paths"`

	// Decoders
	FFmpegPath string `json:"ffmpeg_path"`
	VVdeCPath  string `json:"vvdec_path"` // reference decoder, optional

	// Conformance
	Workers              int           `json:"workers"`
	Timeout              time.Duration `json:"timeout"`
	TolerateDecodeErrors bool          `json:"tolerate_decode_errors"`
	NoOutputCheck        bool          `json:"no_output_check"`

	// Fixtures
	DownloadTimeout time.Duration `json:"download_timeout"`
	SkipFixtures    bool          `json:"skip_fixtures"`
	FetchIndex      string        `json:"fetch_index"` // corpus index page, empty = disabled

	// Performance
	Perf         bool          `json:"perf"`
	ThreadSweep  bool          `json:"thread_sweep"`
	CSV          bool          `json:"csv"`
	PerfTimeout  time.Duration `json:"perf_timeout"`
	PerfRepeats  int           `json:"perf_repeats"`
	NoisyCVLimit float64       `json:"noisy_cv_limit"`

	// Ledger generation
	WriteLedger bool `json:"write_ledger"`

	// Observability
	MetricsAddr string `json:"metrics_addr"` // empty = disabled
	MetricsFile string `json:"metrics_file"` // empty = disabled
	TUIEnabled  bool   `json:"tui_enabled"`
	Verbose     bool   `json:"verbose"`
	LogFormat   string `json:"log_format"` // json, text
	NoColor     bool   `json:"no_color"`

	// Diagnostic modes
	PrintCmd      bool `json:"print_cmd"`
	SkipPreflight bool `json:"skip_preflight"`
	Version       bool `json:"-"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		// Decoders
		FFmpegPath: "",

		// Conformance
		Workers: 16,
		Timeout: 30 * time.Minute,

		// Fixtures
		DownloadTimeout: 30 * time.Minute,

		// Performance
		PerfTimeout:  5 * time.Minute,
		PerfRepeats:  3,
		NoisyCVLimit: 0.10,

		// Observability
		LogFormat: "text",
	}
}

// Mode returns the run mode selected by the configuration.
// Corpus fetching wins over everything; ledger generation wins over the
// perf modes, the thread sweep wins over plain perf.
func (c *Config) Mode() Mode {
	switch {
	case c.FetchIndex != "":
		return ModeFetch
	case c.WriteLedger:
		return ModeWriteLedger
	case c.ThreadSweep:
		return ModeThreadSweep
	case c.Perf:
		return ModePerf
	default:
		return ModeConformance
	}
}

// UseVVdeC reports whether the reference decoder is the decoder under test.
// Only the performance modes measure the reference decoder; conformance
// always tests FFmpeg and may use the reference decoder as an oracle.
func (c *Config) UseVVdeC() bool {
	m := c.Mode()
	return c.VVdeCPath != "" && (m == ModePerf || m == ModeThreadSweep)
}
