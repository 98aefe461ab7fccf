package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/fixture"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/ledger"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/oracle"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// LedgerWriter decodes bitstreams with the reference decoder and records
// the checksums in each directory's md5.txt. Existing entries for other
// files are kept; entries for decoded files are replaced. A bitstream the
// reference decoder cannot decode falls back to the checksum shipped with
// it (<stem>.yuv.md5) when there is one.
type LedgerWriter struct {
	Reference decoder.Decoder
	Runner    process.Runner
	Workers   int
	Timeout   time.Duration
	Logger    *slog.Logger
}

// LedgerReport describes one ledger write.
type LedgerReport struct {
	Written []string // ledger paths, sorted
	Entries int
	Shipped int // entries taken from shipped checksums
	Failed  []result.TestCase
}

// Write decodes every bitstream under roots and saves the ledgers.
// Bitstreams that neither decode nor ship a checksum are reported in
// Failed and left out of the ledger.
func (w *LedgerWriter) Write(ctx context.Context, roots []string) (*LedgerReport, error) {
	if w.Reference == nil {
		return nil, errors.New("ledger generation requires a reference decoder")
	}
	logger := w.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cases, err := Discover(roots)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type decoded struct {
		sum string
		ok  bool
	}

	byDir := make(map[string]ledger.Ledger)
	report := &LedgerReport{}
	var fatal error

	runPool(ctx, w.Workers, cases,
		func(ctx context.Context, tc result.TestCase) (decoded, error) {
			_, sum, ok, err := oracle.Decode(ctx, w.Runner, w.Reference, tc.Path, w.Timeout)
			return decoded{sum: sum, ok: ok}, err
		},
		func(tc result.TestCase, d decoded, err error) {
			switch {
			case err != nil && errors.Is(err, process.ErrLaunch):
				if fatal == nil {
					fatal = err
					cancel()
				}
				return
			case err != nil || !d.ok:
				if ctx.Err() != nil {
					return
				}
				logger.Warn("reference_decode_failed", "path", tc.Path, "error", err)
				sum, found, serr := fixture.ShippedChecksum(tc.Path)
				if serr != nil {
					logger.Warn("shipped_checksum_unreadable", "path", tc.Path, "error", serr)
				}
				if !found {
					report.Failed = append(report.Failed, tc)
					return
				}
				logger.Info("ledger_shipped_checksum", "path", tc.Path, "checksum", sum)
				d.sum = sum
				report.Shipped++
			}
			dir := filepath.Dir(tc.Path)
			if byDir[dir] == nil {
				byDir[dir] = make(ledger.Ledger)
			}
			byDir[dir][tc.Name()] = d.sum
			report.Entries++
		})

	if fatal != nil {
		return report, fatal
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	for _, dir := range dirs {
		path := filepath.Join(dir, ledger.FileName)
		existing, err := ledger.Load(path)
		if err != nil {
			return report, err
		}
		for name, sum := range byDir[dir] {
			existing[name] = sum
		}
		if err := existing.Save(path); err != nil {
			return report, fmt.Errorf("write %s: %w", path, err)
		}
		logger.Info("ledger_written", "path", path, "entries", len(byDir[dir]))
		report.Written = append(report.Written, path)
	}
	return report, nil
}
