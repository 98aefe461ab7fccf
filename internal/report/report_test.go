package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/fixture"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/perf"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

func tc(path string, size int64) result.TestCase {
	return result.TestCase{Path: path, Size: size}
}

// =============================================================================
// Tests: Conformance
// =============================================================================

func TestConformance_GroupsInReportOrder(t *testing.T) {
	s := result.NewSummary()
	s.Record(tc("/c/pass.bit", 1), result.Passed)
	s.Record(tc("/c/big.bit", 300), result.Mismatch)
	s.Record(tc("/c/small.bit", 100), result.Mismatch)
	s.Record(tc("/c/noref.bit", 5), result.Skipped)
	s.Record(tc("/c/crash.bit", 5), result.Crashed)

	var buf bytes.Buffer
	if err := Conformance(&buf, s, Options{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()

	order := []string{
		"skipped files:", "    noref.bit",
		"mismatch files:", "    small.bit", "    big.bit",
		"crashed files:", "    crash.bit",
		"passed files:", "    pass.bit",
		"total = 5, passed = 1, failed = 3, skipped = 1",
		"mismatch = 2, crashed = 1",
	}
	pos := 0
	for _, want := range order {
		i := strings.Index(out[pos:], want)
		if i < 0 {
			t.Fatalf("missing or out of order %q in:\n%s", want, out)
		}
		pos += i + len(want)
	}

	for _, absent := range []string{"timeout files:", "Decode Time", "Run Duration", "internal error"} {
		if strings.Contains(out, absent) {
			t.Errorf("report contains %q for an empty section", absent)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("colour escapes in a colourless report")
	}
}

func TestConformance_ErrorPatterns(t *testing.T) {
	s := result.NewSummary()
	s.Record(tc("/c/bad1.bit", 1), result.DecodeError)
	s.Record(tc("/c/bad2.bit", 2), result.DecodeError)
	s.RecordPatterns(result.DecodeError, map[string]int{"Invalid data found": 2})
	s.RecordPatterns(result.DecodeError, map[string]int{"Invalid data found": 1, "concealing": 1})

	var buf bytes.Buffer
	if err := Conformance(&buf, s, Options{}); err != nil {
		t.Fatal(err)
	}
	want := `decode_error stderr: "Invalid data found" = 3, "concealing" = 1`
	if !strings.Contains(buf.String(), want) {
		t.Errorf("report missing %q:\n%s", want, buf.String())
	}
}

func TestConformance_InternalErrorsSurfaced(t *testing.T) {
	s := result.NewSummary()
	s.Record(tc("/c/a.bit", 1), result.Passed)
	s.RecordError(tc("/c/broken.bit", 2), errors.New("read failed"))

	var buf bytes.Buffer
	if err := Conformance(&buf, s, Options{}); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	if !strings.Contains(out, "1 bitstream(s) hit an internal error") {
		t.Errorf("missing internal error warning:\n%s", out)
	}
	if !strings.Contains(out, "/c/broken.bit: read failed") {
		t.Errorf("missing internal error detail:\n%s", out)
	}
	if !strings.Contains(out, "total = 1,") {
		t.Errorf("internal errors must not be counted:\n%s", out)
	}
}

func TestConformance_DecodeTimeAndFooter(t *testing.T) {
	s := result.NewSummary()
	var buf bytes.Buffer
	err := Conformance(&buf, s, Options{
		Duration:    90 * time.Second,
		Percentiles: stats.Percentiles{Count: 3, P50: time.Second, P95: 2 * time.Second, P99: 2 * time.Second, Max: 3 * time.Second},
		MetricsAddr: "127.0.0.1:9100",
	})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{
		"Decode Time",
		"P50 (median):         1.000s",
		"Max:                  3.000s",
		"Run Duration:           00:01:30",
		"http://127.0.0.1:9100/metrics",
		"total = 0, passed = 0, failed = 0, skipped = 0",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

// =============================================================================
// Tests: Perf / Sweep / Ledgers
// =============================================================================

func TestPerf(t *testing.T) {
	results := []stats.PerfStat{
		stats.NewPerfStat("steady.bit", []float64{100, 101, 99}, stats.DefaultNoisyCV),
		stats.NewPerfStat("noisy.bit", []float64{100, 150, 50}, stats.DefaultNoisyCV),
	}
	var buf bytes.Buffer
	if err := Perf(&buf, results, Options{}); err != nil {
		t.Fatal(err)
	}
	want := "\n" +
		"steady.bit | 100.0 |\n" +
		"cv is high for noisy.bit, [100.0, 150.0, 50.0]\n" +
		"noisy.bit | 100.0 |\n"
	if got := buf.String(); got != want {
		t.Errorf("Perf() = %q, want %q", got, want)
	}
}

func TestSweep(t *testing.T) {
	runs := []perf.SweepRun{{Decoder: "ffvvc", Sequence: "a.bit", Threads: 8, SIMD: false, FPS: 42.5}}

	var readable, csv bytes.Buffer
	if err := Sweep(&readable, runs, false); err != nil {
		t.Fatal(err)
	}
	if err := Sweep(&csv, runs, true); err != nil {
		t.Fatal(err)
	}
	if got := readable.String(); got != "\na.bit, ffvvc no asm 8 threads: 42.5 fps\n" {
		t.Errorf("readable = %q", got)
	}
	if got := csv.String(); got != "\nDecoder,Sequence,Threads,SIMD,FPS\nffvvc,a.bit,8,False,42.5\n" {
		t.Errorf("csv = %q", got)
	}
}

func TestLedgers(t *testing.T) {
	var buf bytes.Buffer
	err := Ledgers(&buf, []string{"/c/md5.txt"}, 4, 0, []result.TestCase{tc("/c/bad.bit", 1)})
	if err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"wrote /c/md5.txt", "    /c/bad.bit", "entries = 4, ledgers = 1, failed = 1\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestLedgers_Shipped(t *testing.T) {
	var buf bytes.Buffer
	if err := Ledgers(&buf, []string{"/c/md5.txt"}, 3, 2, nil); err != nil {
		t.Fatal(err)
	}
	want := "entries = 3, ledgers = 1, failed = 0 (2 from shipped checksums)"
	if !strings.Contains(buf.String(), want) {
		t.Errorf("missing %q in:\n%s", want, buf.String())
	}
}

func TestCorpus(t *testing.T) {
	var buf bytes.Buffer
	err := Corpus(&buf, &fixture.CorpusReport{
		Index:      "https://example.com/vvc/",
		Dir:        "/clips",
		Archives:   2,
		Downloaded: 1,
		Bitstreams: []string{"/clips/A.bit", "/clips/B.bit"},
		Checksums:  1,
	})
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{
		"    /clips/A.bit",
		"archives = 2, downloaded = 1, bitstreams = 2, shipped checksums = 1",
		"corpus in /clips (index https://example.com/vvc/)",
	} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("missing %q in:\n%s", want, buf.String())
		}
	}
}
