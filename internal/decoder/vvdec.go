package decoder

import (
	"fmt"
	"regexp"
	"strconv"
)

// vvdecFPSPattern matches the summary "... @ 41.23 fps" printed on stdout.
// The first match is used.
var vvdecFPSPattern = regexp.MustCompile(`@\s*([0-9]+(?:\.[0-9]+)?)\s*fps`)

// VVdeC is the dedicated reference decoder family (vvdecapp).
type VVdeC struct {
	binaryPath string
}

// NewVVdeC creates a VVdeC decoder.
func NewVVdeC(binaryPath string) *VVdeC {
	if binaryPath == "" {
		binaryPath = "vvdecapp"
	}
	return &VVdeC{binaryPath: binaryPath}
}

// Name returns "vvdec".
func (v *VVdeC) Name() string {
	return "vvdec"
}

// Path returns the vvdecapp binary path.
func (v *VVdeC) Path() string {
	return v.binaryPath
}

// Command builds the vvdecapp argv for input.
func (v *VVdeC) Command(input string, mode Mode, opts Options) []string {
	args := []string{v.binaryPath}
	if !opts.SIMD {
		args = append(args, "--simd", "0")
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	args = append(args, "-b", input)
	if mode == ModeChecksum && opts.Output != "" {
		args = append(args, "-o", opts.Output)
	}
	return args
}

// WritesFrames is true: vvdecapp prints its banner and fps summary on
// stdout, so frames go to the -o file.
func (v *VVdeC) WritesFrames() bool {
	return true
}

// ParseChecksum always reports false; the caller hashes the frame file.
func (v *VVdeC) ParseChecksum([]byte) (string, bool) {
	return "", false
}

// ParseFPS returns the first "@ <n> fps" value on stdout.
func (v *VVdeC) ParseFPS(stdout, _ []byte) (float64, error) {
	m := vvdecFPSPattern.FindSubmatch(stdout)
	if m == nil {
		return 0, ErrNoFPS
	}
	fps, err := strconv.ParseFloat(string(m[1]), 64)
	if err != nil {
		return 0, fmt.Errorf("parse vvdec fps %q: %w", m[1], err)
	}
	return fps, nil
}
