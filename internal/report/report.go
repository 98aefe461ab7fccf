// Package report renders the end-of-run reports for conformance,
// throughput and thread-sweep runs.
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/fixture"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/perf"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════"
	lightRule = "───────────────────────────────────────────────────────────────────────────────"
)

var (
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")).Bold(true)
	skippedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B")).Bold(true)
	passedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#10B981")).Bold(true)
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#7C3AED")).Bold(true)
)

// Options controls report rendering.
type Options struct {
	Color       bool
	Duration    time.Duration // wall time of the run, 0 to omit
	Percentiles stats.Percentiles
	MetricsAddr string
}

func (o Options) paint(style lipgloss.Style, s string) string {
	if !o.Color {
		return s
	}
	return style.Render(s)
}

func groupStyle(o result.Outcome) lipgloss.Style {
	switch {
	case o == result.Passed:
		return passedStyle
	case o == result.Skipped:
		return skippedStyle
	default:
		return failureStyle
	}
}

// Conformance writes the conformance report: one file list per outcome in
// result.ReportOrder, internal errors, counts and decode-time percentiles.
func Conformance(w io.Writer, s *result.Summary, opts Options) error {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule + "\n")
	b.WriteString(opts.paint(titleStyle, "                        go-ffmpeg-conformance Report") + "\n")
	b.WriteString(heavyRule + "\n\n")

	for _, o := range result.ReportOrder {
		cases := s.Cases(o)
		if len(cases) == 0 {
			continue
		}
		b.WriteString(opts.paint(groupStyle(o), o.Label()+" files:") + "\n")
		for _, tc := range cases {
			fmt.Fprintf(&b, "    %s\n", tc.Name())
		}
	}

	if errs := s.Errors(); len(errs) > 0 {
		b.WriteString("\n")
		b.WriteString(opts.paint(skippedStyle, fmt.Sprintf("⚠️  %d bitstream(s) hit an internal error and are not counted:", len(errs))) + "\n")
		for _, e := range errs {
			fmt.Fprintf(&b, "    %s: %v\n", e.TestCase.Path, e.Err)
		}
	}

	b.WriteString("\n")
	fmt.Fprintf(&b, "total = %d, passed = %d, failed = %d, skipped = %d\n",
		s.Total(), s.Count(result.Passed), s.Failures(), s.Count(result.Skipped))

	var breakdown []string
	for _, o := range result.ReportOrder {
		if o.Failure() && s.Count(o) > 0 {
			breakdown = append(breakdown, fmt.Sprintf("%s = %d", o.Label(), s.Count(o)))
		}
	}
	if len(breakdown) > 0 {
		fmt.Fprintf(&b, "  %s\n", strings.Join(breakdown, ", "))
	}
	for _, o := range result.ReportOrder {
		patterns := s.Patterns(o)
		if len(patterns) == 0 {
			continue
		}
		parts := make([]string, len(patterns))
		for i, p := range patterns {
			parts[i] = fmt.Sprintf("%q = %d", p.Pattern, p.Count)
		}
		fmt.Fprintf(&b, "  %s stderr: %s\n", o.Label(), strings.Join(parts, ", "))
	}

	if p := opts.Percentiles; p.Count > 0 {
		b.WriteString("\n" + lightRule + "\n")
		b.WriteString("                                Decode Time\n")
		b.WriteString(lightRule + "\n\n")
		fmt.Fprintf(&b, "  Decodes:              %d\n", p.Count)
		fmt.Fprintf(&b, "  P50 (median):         %s\n", stats.FormatSeconds(p.P50))
		fmt.Fprintf(&b, "  P95:                  %s\n", stats.FormatSeconds(p.P95))
		fmt.Fprintf(&b, "  P99:                  %s\n", stats.FormatSeconds(p.P99))
		fmt.Fprintf(&b, "  Max:                  %s\n", stats.FormatSeconds(p.Max))
	}

	if opts.Duration > 0 {
		fmt.Fprintf(&b, "\nRun Duration:           %s\n", stats.FormatDuration(opts.Duration))
	}
	if opts.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", opts.MetricsAddr)
	}
	b.WriteString(heavyRule + "\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// Perf writes one "<sequence> | <mean fps> |" row per sequence, preceded by
// a warning line for noisy sequences.
func Perf(w io.Writer, results []stats.PerfStat, opts Options) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, st := range results {
		if st.Noisy {
			b.WriteString(opts.paint(skippedStyle, fmt.Sprintf("cv is high for %s, %s", st.Sequence, formatSamples(st.Samples))) + "\n")
		}
		fmt.Fprintf(&b, "%s | %.1f |\n", st.Sequence, st.Mean)
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func formatSamples(samples []float64) string {
	parts := make([]string, len(samples))
	for i, v := range samples {
		parts[i] = stats.FormatFPS(v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Sweep writes the thread-sweep runs, as CSV when csv is set.
func Sweep(w io.Writer, runs []perf.SweepRun, csv bool) error {
	if _, err := io.WriteString(w, "\n"); err != nil {
		return err
	}
	if csv {
		return perf.WriteCSV(w, runs)
	}
	return perf.WriteReadable(w, runs)
}

// Ledgers writes the outcome of a ledger generation run. shipped counts
// the entries taken from checksums shipped with the bitstreams.
func Ledgers(w io.Writer, written []string, entries, shipped int, failed []result.TestCase) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, path := range written {
		fmt.Fprintf(&b, "wrote %s\n", path)
	}
	if len(failed) > 0 {
		b.WriteString("reference decode failed:\n")
		for _, tc := range failed {
			fmt.Fprintf(&b, "    %s\n", tc.Path)
		}
	}
	fmt.Fprintf(&b, "entries = %d, ledgers = %d, failed = %d", entries, len(written), len(failed))
	if shipped > 0 {
		fmt.Fprintf(&b, " (%d from shipped checksums)", shipped)
	}
	b.WriteString("\n")
	_, err := io.WriteString(w, b.String())
	return err
}

// Corpus writes the outcome of a corpus fetch.
func Corpus(w io.Writer, rep *fixture.CorpusReport) error {
	var b strings.Builder
	b.WriteString("\n")
	for _, path := range rep.Bitstreams {
		fmt.Fprintf(&b, "    %s\n", path)
	}
	fmt.Fprintf(&b, "archives = %d, downloaded = %d, bitstreams = %d, shipped checksums = %d\n",
		rep.Archives, rep.Downloaded, len(rep.Bitstreams), rep.Checksums)
	fmt.Fprintf(&b, "corpus in %s (index %s)\n", rep.Dir, rep.Index)
	_, err := io.WriteString(w, b.String())
	return err
}
