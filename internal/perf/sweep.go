package perf

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/decoder"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// SweepThreads are the thread counts measured by a sweep.
var SweepThreads = []int{1, 2, 4, 8, 16}

// SweepSIMD is the SIMD setting order of a sweep.
var SweepSIMD = []bool{true, false}

// CSVHeader is the header row of the CSV rendering.
var CSVHeader = []string{"Decoder", "Sequence", "Threads", "SIMD", "FPS"}

// SweepRun is one measured combination.
type SweepRun struct {
	Decoder  string
	Sequence string
	Threads  int
	SIMD     bool
	FPS      float64
}

// Readable renders the run as a human-readable line.
func (s SweepRun) Readable() string {
	asm := "asm"
	if !s.SIMD {
		asm = "no asm"
	}
	return fmt.Sprintf("%s, %s %s %d threads: %s fps", s.Sequence, s.Decoder, asm, s.Threads, formatFPS(s.FPS))
}

// Record renders the run as CSV fields in CSVHeader order.
func (s SweepRun) Record() []string {
	return []string{
		s.Decoder,
		s.Sequence,
		strconv.Itoa(s.Threads),
		formatSIMD(s.SIMD),
		formatFPS(s.FPS),
	}
}

// formatFPS writes the shortest exact form of fps, keeping one decimal for
// whole values (100.0, 87.25).
func formatFPS(fps float64) string {
	s := strconv.FormatFloat(fps, 'f', -1, 64)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// formatSIMD matches the capitalised flags existing sweep CSVs carry.
func formatSIMD(simd bool) string {
	if simd {
		return "True"
	}
	return "False"
}

// Sweep decodes each input once per SIMD setting and thread count, in
// that order. The first failing run aborts the sweep; runs collected so far
// are returned with the error.
func (r *Runner) Sweep(ctx context.Context, inputs []result.TestCase) ([]SweepRun, error) {
	runs := make([]SweepRun, 0, len(inputs)*len(SweepSIMD)*len(SweepThreads))
	for _, tc := range inputs {
		for _, simd := range SweepSIMD {
			for _, threads := range SweepThreads {
				opts := decoder.Options{Threads: threads, SIMD: simd}
				fps, err := r.Measure(ctx, tc.Path, opts)
				if err != nil {
					return runs, err
				}
				runs = append(runs, SweepRun{
					Decoder:  r.dec.Name(),
					Sequence: tc.Name(),
					Threads:  threads,
					SIMD:     simd,
					FPS:      fps,
				})
				if r.OnRun != nil {
					r.OnRun(tc.Name(), opts, fps)
				}
			}
		}
	}
	return runs, nil
}

// WriteReadable writes one Readable line per run.
func WriteReadable(w io.Writer, runs []SweepRun) error {
	for _, run := range runs {
		if _, err := fmt.Fprintln(w, run.Readable()); err != nil {
			return err
		}
	}
	return nil
}

// WriteCSV writes the header and one record per run.
func WriteCSV(w io.Writer, runs []SweepRun) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(CSVHeader); err != nil {
		return err
	}
	for _, run := range runs {
		if err := cw.Write(run.Record()); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
