package decoder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var (
	// md5Pattern matches the line printed by FFmpeg's md5 muxer.
	md5Pattern = regexp.MustCompile(`MD5=([0-9A-Fa-f]+)`)

	// ffmpegFPSPattern matches the status line "frame= 100 fps= 50 q=-0.0".
	// The last match is the final average.
	ffmpegFPSPattern = regexp.MustCompile(`fps=\s*([0-9]+(?:\.[0-9]+)?)\s*q`)
)

// FFmpeg is the multimedia-framework decoder family.
type FFmpeg struct {
	binaryPath string
}

// NewFFmpeg creates an FFmpeg decoder. An empty path means "ffmpeg" on $PATH.
func NewFFmpeg(binaryPath string) *FFmpeg {
	if binaryPath == "" {
		binaryPath = "ffmpeg"
	}
	return &FFmpeg{binaryPath: binaryPath}
}

// Name returns "ffvvc".
func (f *FFmpeg) Name() string {
	return "ffvvc"
}

// Path returns the FFmpeg binary path.
func (f *FFmpeg) Path() string {
	return f.binaryPath
}

// Command builds the FFmpeg argv for input.
func (f *FFmpeg) Command(input string, mode Mode, opts Options) []string {
	return append([]string{f.binaryPath}, f.buildArgs(input, mode, opts)...)
}

// buildArgs constructs the FFmpeg command-line arguments.
func (f *FFmpeg) buildArgs(input string, mode Mode, opts Options) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
	}

	// Decoder knobs (must come before -i)
	if !opts.SIMD {
		args = append(args, "-cpuflags", "0")
	}
	if opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(opts.Threads))
	}

	// VVC decoding is still experimental in some builds
	args = append(args, "-strict", "-2", "-i", input, "-vsync", "0")

	switch mode {
	case ModeThroughput:
		args = append(args, "-y", "-f", "null", "-")
	default:
		// The md5 muxer hashes decoded frames in-process and prints MD5=<hex>
		args = append(args, "-f", "md5", "-")
	}

	return args
}

// WritesFrames is false: FFmpeg computes the checksum itself.
func (f *FFmpeg) WritesFrames() bool {
	return false
}

// ParseChecksum returns the hex token of the first MD5= line.
func (f *FFmpeg) ParseChecksum(stdout []byte) (string, bool) {
	m := md5Pattern.FindSubmatch(stdout)
	if m == nil {
		return "", false
	}
	return strings.TrimSpace(string(m[1])), true
}

// ParseFPS returns the fps value of the last status line on stderr.
func (f *FFmpeg) ParseFPS(_, stderr []byte) (float64, error) {
	matches := ffmpegFPSPattern.FindAllSubmatch(stderr, -1)
	if len(matches) == 0 {
		return 0, ErrNoFPS
	}
	last := matches[len(matches)-1]
	fps, err := strconv.ParseFloat(string(last[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffmpeg fps %q: %w", last[1], err)
	}
	return fps, nil
}
