// Package decoder builds command lines for the decoder families under test
// and parses the text they print.
package decoder

import (
	"errors"
	"strings"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/config"
)

// Mode selects what a decoder invocation produces.
type Mode int

const (
	// ModeChecksum decodes the whole bitstream and produces an MD5 of the
	// decoded frames.
	ModeChecksum Mode = iota

	// ModeThroughput decodes and discards the frames, reporting fps.
	ModeThroughput
)

// String returns the mode name.
func (m Mode) String() string {
	switch m {
	case ModeChecksum:
		return "checksum"
	case ModeThroughput:
		return "throughput"
	default:
		return "unknown"
	}
}

// Options are the per-invocation knobs shared by all decoder families.
type Options struct {
	// Threads is the decoder thread count. 0 leaves the decoder default.
	Threads int

	// SIMD enables assembly/SIMD code paths.
	SIMD bool

	// Output is the raw frame file for decoders that write frames in
	// checksum mode. Empty leaves frames undecoded to disk.
	Output string
}

// DefaultOptions returns decoder defaults: default threading, SIMD on.
func DefaultOptions() Options {
	return Options{SIMD: true}
}

// ErrNoFPS is returned when decoder output carries no throughput marker.
var ErrNoFPS = errors.New("no fps marker in decoder output")

// Decoder is the capability interface of one decoder family.
// Implementations are pure: building a command or parsing output has no
// side effects.
type Decoder interface {
	// Name returns the short family name used in reports ("ffvvc", "vvdec").
	Name() string

	// Path returns the executable path.
	Path() string

	// Command returns the full argv (executable first) for decoding input.
	Command(input string, mode Mode, opts Options) []string

	// WritesFrames reports whether checksum mode writes raw frames to
	// Options.Output, which the caller must hash itself.
	WritesFrames() bool

	// ParseChecksum extracts the checksum token from checksum-mode stdout.
	ParseChecksum(stdout []byte) (string, bool)

	// ParseFPS extracts the frames-per-second figure from throughput-mode
	// output.
	ParseFPS(stdout, stderr []byte) (float64, error)
}

// New returns the decoder under test selected by cfg.
func New(cfg *config.Config) Decoder {
	if cfg.UseVVdeC() {
		return NewVVdeC(cfg.VVdeCPath)
	}
	return NewFFmpeg(cfg.FFmpegPath)
}

// NewReference returns the reference decoder, or nil if none is configured.
func NewReference(cfg *config.Config) Decoder {
	if cfg.VVdeCPath == "" {
		return nil
	}
	return NewVVdeC(cfg.VVdeCPath)
}

// CommandString returns argv joined for display (for -print-cmd and logs).
func CommandString(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		if a == "" || strings.ContainsAny(a, " \t\"'") {
			quoted[i] = `"` + strings.ReplaceAll(a, `"`, `\"`) + `"`
			continue
		}
		quoted[i] = a
	}
	return strings.Join(quoted, " ")
}
