// Package oracle supplies the expected checksum of a bitstream's decoded
// output, from md5.txt ledgers or from a reference decoder.
package oracle

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/ledger"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// Oracle looks up the reference checksum for a test case. Absence is a
// valid answer (found == false); errors are reserved for failures of the
// lookup itself.
type Oracle interface {
	Reference(ctx context.Context, tc result.TestCase) (sum string, found bool, err error)
}

// Ledger answers from the md5.txt next to each bitstream.
type Ledger struct {
	store *ledger.Store
}

// NewLedger creates a ledger-backed oracle.
func NewLedger(store *ledger.Store) *Ledger {
	if store == nil {
		store = ledger.NewStore()
	}
	return &Ledger{store: store}
}

// Reference implements Oracle.
func (l *Ledger) Reference(_ context.Context, tc result.TestCase) (string, bool, error) {
	return l.store.Lookup(tc.Path)
}

// Decoder answers by decoding the bitstream with a reference decoder.
type Decoder struct {
	dec     decoder.Decoder
	runner  process.Runner
	timeout time.Duration
	logger  *slog.Logger
}

// NewDecoder creates a reference-decoder oracle.
func NewDecoder(dec decoder.Decoder, runner process.Runner, timeout time.Duration, logger *slog.Logger) *Decoder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Decoder{
		dec:     dec,
		runner:  runner,
		timeout: timeout,
		logger:  logger,
	}
}

// Reference implements Oracle. A reference decode that does not succeed
// yields no reference rather than an error; launch failures are returned.
func (d *Decoder) Reference(ctx context.Context, tc result.TestCase) (string, bool, error) {
	res, sum, ok, err := Decode(ctx, d.runner, d.dec, tc.Path, d.timeout)
	if err != nil {
		return "", false, err
	}
	if !res.Success() || !ok {
		d.logger.Warn("reference_decode_failed",
			"path", tc.Path,
			"decoder", d.dec.Name(),
			"termination", res.Termination.String(),
			"exit_code", res.ExitCode,
		)
		return "", false, nil
	}
	return sum, true, nil
}

// Chain consults oracles in order and returns the first reference found.
type Chain []Oracle

// Reference implements Oracle.
func (c Chain) Reference(ctx context.Context, tc result.TestCase) (string, bool, error) {
	for _, o := range c {
		sum, found, err := o.Reference(ctx, tc)
		if err != nil {
			return "", false, err
		}
		if found {
			return sum, true, nil
		}
	}
	return "", false, nil
}

// Decode runs dec in checksum mode on input and extracts the checksum. When
// the decoder writes raw frames they go to a temporary file that is hashed
// and removed; otherwise the MD5= token is parsed from stdout. ok is false
// when no checksum could be produced.
func Decode(ctx context.Context, runner process.Runner, dec decoder.Decoder, input string, timeout time.Duration) (res *process.Result, sum string, ok bool, err error) {
	if dec.WritesFrames() {
		return decodeFrames(ctx, runner, dec, input, timeout)
	}

	res, err = runner.Execute(ctx, process.Request{
		Args:    dec.Command(input, decoder.ModeChecksum, decoder.DefaultOptions()),
		Timeout: timeout,
	})
	if err != nil {
		return nil, "", false, err
	}
	sum, ok = dec.ParseChecksum(res.Stdout)
	return res, sum, ok, nil
}

// decodeFrames decodes into a temporary frame file and hashes it. An empty
// frame file yields no checksum.
func decodeFrames(ctx context.Context, runner process.Runner, dec decoder.Decoder, input string, timeout time.Duration) (*process.Result, string, bool, error) {
	f, err := os.CreateTemp("", FramePattern)
	if err != nil {
		return nil, "", false, fmt.Errorf("create frame file: %w", err)
	}
	out := f.Name()
	f.Close()
	defer os.Remove(out)

	opts := decoder.DefaultOptions()
	opts.Output = out
	res, err := runner.Execute(ctx, process.Request{
		Args:    dec.Command(input, decoder.ModeChecksum, opts),
		Timeout: timeout,
	})
	if err != nil {
		return nil, "", false, err
	}
	if !res.Success() {
		return res, "", false, nil
	}

	sum, n, err := hashFile(out)
	if err != nil {
		return res, "", false, fmt.Errorf("hash frames of %s: %w", input, err)
	}
	return res, sum, n > 0, nil
}

// FramePattern names the temporary frame files of reference decodes.
const FramePattern = "conformance-*.yuv"

func hashFile(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := md5.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}
