package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/classifier"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/logging"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/process"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeClassifier answers by file name and tracks concurrency.
type fakeClassifier struct {
	outcomes map[string]result.Outcome
	panics   map[string]bool
	errs     map[string]error
	delay    time.Duration

	mu          sync.Mutex
	seen        []string
	inFlight    int
	maxInFlight int
}

func (f *fakeClassifier) Classify(ctx context.Context, tc result.TestCase) (classifier.Verdict, error) {
	f.mu.Lock()
	f.seen = append(f.seen, tc.Name())
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return classifier.Verdict{}, err
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics[tc.Name()] {
		panic("boom: " + tc.Name())
	}
	if err := f.errs[tc.Name()]; err != nil {
		return classifier.Verdict{}, err
	}

	o, ok := f.outcomes[tc.Name()]
	if !ok {
		o = result.Passed
	}
	v := classifier.Verdict{
		Outcome:  o,
		Decoded:  o != result.Skipped,
		Duration: 10 * time.Millisecond,
	}
	if o == result.Crashed {
		v.ErrorPatterns = map[string]int{"Assertion": 1}
	}
	return v, nil
}

func (f *fakeClassifier) seenNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.seen...)
}

// writeClip creates a bitstream of the given size.
func writeClip(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newTestConformance(c Classifier, workers int) *Conformance {
	return NewConformance(Config{
		Workers:    workers,
		Options:    classifier.Options{Timeout: time.Minute},
		Classifier: c,
		Logger:     logging.Discard(),
	})
}

func names(cases []result.TestCase) []string {
	out := make([]string, len(cases))
	for i, tc := range cases {
		out[i] = tc.Name()
	}
	return out
}

// =============================================================================
// Tests: Run
// =============================================================================

func TestRun_OutcomesAndExitCode(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)
	writeClip(t, dir, "b.bit", 20)
	writeClip(t, dir, "c.vvc", 30)
	writeClip(t, dir, "d.266", 40)
	writeClip(t, dir, "e.bin", 50)
	writeClip(t, dir, "notes.txt", 60)

	fc := &fakeClassifier{outcomes: map[string]result.Outcome{
		"b.bit": result.Mismatch,
		"c.vvc": result.Skipped,
		"d.266": result.Crashed,
	}}

	summary, err := newTestConformance(fc, 4).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := map[result.Outcome]int{
		result.Passed:   2,
		result.Mismatch: 1,
		result.Skipped:  1,
		result.Crashed:  1,
	}
	for o, n := range want {
		if got := summary.Count(o); got != n {
			t.Errorf("Count(%v) = %d, want %d", o, got, n)
		}
	}
	if summary.Total() != 5 {
		t.Errorf("Total() = %d, want 5", summary.Total())
	}
	if code := ExitCode(summary); code != 2 {
		t.Errorf("ExitCode() = %d, want 2", code)
	}
	if diff := cmp.Diff([]result.PatternCount{{Pattern: "Assertion", Count: 1}}, summary.Patterns(result.Crashed)); diff != "" {
		t.Errorf("Patterns(Crashed) (-want +got):\n%s", diff)
	}
}

func TestRun_DispatchesSmallestFirst(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "large.bit", 300)
	writeClip(t, dir, "small.bit", 100)
	writeClip(t, dir, "medium.bit", 200)

	fc := &fakeClassifier{}
	if _, err := newTestConformance(fc, 1).Run(context.Background(), []string{dir}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"small.bit", "medium.bit", "large.bit"}, fc.seenNames()); diff != "" {
		t.Errorf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_MismatchesReportedBySize(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "z.bit", 10)
	writeClip(t, dir, "a.bit", 30)
	writeClip(t, dir, "m.bit", 20)

	fc := &fakeClassifier{
		outcomes: map[string]result.Outcome{
			"z.bit": result.Mismatch,
			"a.bit": result.Mismatch,
			"m.bit": result.Mismatch,
		},
		delay: 5 * time.Millisecond,
	}
	summary, err := newTestConformance(fc, 3).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if diff := cmp.Diff([]string{"z.bit", "m.bit", "a.bit"}, names(summary.Cases(result.Mismatch))); diff != "" {
		t.Errorf("mismatch order (-want +got):\n%s", diff)
	}
}

func TestRun_BoundedConcurrency(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 12; i++ {
		writeClip(t, dir, fmt.Sprintf("clip%02d.bit", i), 10+i)
	}

	fc := &fakeClassifier{delay: 20 * time.Millisecond}
	summary, err := newTestConformance(fc, 3).Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Total() != 12 {
		t.Errorf("Total() = %d, want 12", summary.Total())
	}
	if fc.maxInFlight > 3 {
		t.Errorf("max in flight = %d, want <= 3", fc.maxInFlight)
	}
	if fc.maxInFlight < 2 {
		t.Errorf("max in flight = %d, expected the pool to overlap work", fc.maxInFlight)
	}
}

func TestRun_PanicIsolatedToTask(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "ok1.bit", 10)
	writeClip(t, dir, "bad.bit", 20)
	writeClip(t, dir, "ok2.bit", 30)

	fc := &fakeClassifier{panics: map[string]bool{"bad.bit": true}}

	var reported []string
	c := NewConformance(Config{
		Workers:    2,
		Classifier: fc,
		Logger:     logging.Discard(),
		Callbacks: Callbacks{
			OnError: func(tc result.TestCase, err error) { reported = append(reported, tc.Name()) },
		},
	})

	summary, err := c.Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Count(result.Passed) != 2 {
		t.Errorf("Passed = %d, want 2", summary.Count(result.Passed))
	}
	if summary.Total() != 2 {
		t.Errorf("Total() = %d, internal errors must not be counted", summary.Total())
	}

	errs := summary.Errors()
	if len(errs) != 1 || errs[0].TestCase.Name() != "bad.bit" {
		t.Fatalf("Errors() = %+v, want one error for bad.bit", errs)
	}
	var pe *PanicError
	if !errors.As(errs[0].Err, &pe) || !strings.Contains(pe.Error(), "boom") {
		t.Errorf("error = %v, want PanicError", errs[0].Err)
	}
	if diff := cmp.Diff([]string{"bad.bit"}, reported); diff != "" {
		t.Errorf("OnError calls (-want +got):\n%s", diff)
	}
	if ExitCode(summary) != 0 {
		t.Errorf("ExitCode() = %d, want 0", ExitCode(summary))
	}
}

func TestRun_LaunchFailureIsFatal(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 20; i++ {
		writeClip(t, dir, fmt.Sprintf("clip%02d.bit", i), 10+i)
	}

	launchErr := fmt.Errorf("%w: /missing/ffmpeg: no such file", process.ErrLaunch)
	errs := make(map[string]error)
	for i := 0; i < 20; i++ {
		errs[fmt.Sprintf("clip%02d.bit", i)] = launchErr
	}
	fc := &fakeClassifier{errs: errs}

	summary, err := newTestConformance(fc, 2).Run(context.Background(), []string{dir})
	if !errors.Is(err, process.ErrLaunch) {
		t.Fatalf("Run() error = %v, want ErrLaunch", err)
	}
	if summary == nil {
		t.Fatal("Run() summary = nil, want partial summary")
	}
	if len(summary.Errors()) != 0 {
		t.Errorf("launch failures must not be recorded as task errors: %+v", summary.Errors())
	}
	if n := len(fc.seenNames()); n >= 20 {
		t.Errorf("classified %d cases, want the run cancelled early", n)
	}
}

func TestRun_PreconditionChecksBeforeWork(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)

	fc := &fakeClassifier{}
	c := NewConformance(Config{
		Options:    classifier.Options{TolerateDecodeErrors: true},
		Classifier: fc,
		Logger:     logging.Discard(),
	})

	if _, err := c.Run(context.Background(), []string{dir}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("Run() error = %v, want ErrPrecondition", err)
	}
	if len(fc.seenNames()) != 0 {
		t.Error("classifier invoked despite precondition failure")
	}
}

func TestRun_Idempotent(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)
	writeClip(t, dir, "b.bit", 20)
	writeClip(t, dir, "c.bit", 30)

	fc := &fakeClassifier{outcomes: map[string]result.Outcome{
		"a.bit": result.Mismatch,
		"c.bit": result.Timeout,
	}}
	c := newTestConformance(fc, 2)

	first, err := c.Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	second, err := c.Run(context.Background(), []string{dir})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first.Counts(), second.Counts()); diff != "" {
		t.Errorf("counts differ between runs (-first +second):\n%s", diff)
	}
}

func TestRun_SingleFileRoot(t *testing.T) {
	dir := t.TempDir()
	path := writeClip(t, dir, "only.vvc", 10)
	writeClip(t, dir, "other.vvc", 20)

	fc := &fakeClassifier{}
	summary, err := newTestConformance(fc, 4).Run(context.Background(), []string{path})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total() != 1 {
		t.Errorf("Total() = %d, want 1", summary.Total())
	}
	if diff := cmp.Diff([]string{"only.vvc"}, fc.seenNames()); diff != "" {
		t.Errorf("classified (-want +got):\n%s", diff)
	}
}

func TestRun_EmptyRoot(t *testing.T) {
	summary, err := newTestConformance(&fakeClassifier{}, 4).Run(context.Background(), []string{t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Total() != 0 || ExitCode(summary) != 0 {
		t.Errorf("empty run: Total=%d ExitCode=%d", summary.Total(), ExitCode(summary))
	}
}

func TestRun_MissingRoot(t *testing.T) {
	_, err := newTestConformance(&fakeClassifier{}, 4).Run(context.Background(), []string{filepath.Join(t.TempDir(), "nope")})
	if err == nil {
		t.Fatal("Run() on a missing root succeeded")
	}
}

func TestRun_Cancelled(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		writeClip(t, dir, fmt.Sprintf("clip%d.bit", i), 10+i)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := newTestConformance(&fakeClassifier{}, 2).Run(ctx, []string{dir})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if summary == nil || len(summary.Errors()) != 0 {
		t.Errorf("cancellation must not produce task errors: %+v", summary)
	}
}

func TestRun_Callbacks(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)
	writeClip(t, dir, "b.bit", 20)

	var total int
	var outcomes []string
	c := NewConformance(Config{
		Workers:    1,
		Classifier: &fakeClassifier{outcomes: map[string]result.Outcome{"b.bit": result.Aborted}},
		Logger:     logging.Discard(),
		Callbacks: Callbacks{
			OnStart: func(n int) { total = n },
			OnOutcome: func(tc result.TestCase, v classifier.Verdict) {
				outcomes = append(outcomes, tc.Name()+"="+v.Outcome.String())
			},
		},
	})

	if _, err := c.Run(context.Background(), []string{dir}); err != nil {
		t.Fatal(err)
	}
	if total != 2 {
		t.Errorf("OnStart total = %d, want 2", total)
	}
	if diff := cmp.Diff([]string{"a.bit=PASSED", "b.bit=ABORTED"}, outcomes); diff != "" {
		t.Errorf("OnOutcome calls (-want +got):\n%s", diff)
	}
	if got := c.Durations().Percentiles().Count; got != 2 {
		t.Errorf("durations recorded = %d, want 2", got)
	}
}

func TestRun_DurationsResetPerRun(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)
	writeClip(t, dir, "b.bit", 20)

	c := newTestConformance(&fakeClassifier{}, 2)
	for i := 0; i < 2; i++ {
		if _, err := c.Run(context.Background(), []string{dir}); err != nil {
			t.Fatal(err)
		}
		if got := c.Durations().Percentiles().Count; got != 2 {
			t.Errorf("run %d: durations recorded = %d, want 2", i+1, got)
		}
	}
}

// =============================================================================
// Tests: Fixture resolution
// =============================================================================

type fakeResolver struct {
	roots []string
	err   error
}

func (r *fakeResolver) ResolveAll(_ context.Context, root string) (int, error) {
	r.roots = append(r.roots, root)
	return 1, r.err
}

func TestRun_ResolvesEveryRootFirst(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeClip(t, a, "a.bit", 10)

	res := &fakeResolver{}
	c := NewConformance(Config{
		Classifier: &fakeClassifier{},
		Resolver:   res,
		Logger:     logging.Discard(),
	})
	if _, err := c.Run(context.Background(), []string{a, b}); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{a, b}, res.roots); diff != "" {
		t.Errorf("resolved roots (-want +got):\n%s", diff)
	}
}

func TestRun_ResolverErrorIsFatal(t *testing.T) {
	dir := t.TempDir()
	writeClip(t, dir, "a.bit", 10)

	fc := &fakeClassifier{}
	c := NewConformance(Config{
		Classifier: fc,
		Resolver:   &fakeResolver{err: errors.New("checksum mismatch")},
		Logger:     logging.Discard(),
	})
	summary, err := c.Run(context.Background(), []string{dir})
	if err == nil || summary != nil {
		t.Fatalf("Run() = %v, %v; want fatal error", summary, err)
	}
	if len(fc.seenNames()) != 0 {
		t.Error("classifier invoked after fixture failure")
	}
}

// =============================================================================
// Tests: Discover
// =============================================================================

func TestDiscover_MergesRootsWithoutDuplicates(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()
	writeClip(t, a, "big.bit", 300)
	writeClip(t, b, "small.bit", 100)
	dup := writeClip(t, a, "mid.bit", 200)

	cases, err := Discover([]string{a, b, dup})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"small.bit", "mid.bit", "big.bit"}, names(cases)); diff != "" {
		t.Errorf("Discover() (-want +got):\n%s", diff)
	}
}

func TestExitCode_Nil(t *testing.T) {
	if ExitCode(nil) != 0 {
		t.Error("ExitCode(nil) != 0")
	}
}

func TestExitCode_Clamped(t *testing.T) {
	tests := []struct {
		failures int
		want     int
	}{
		{0, 0},
		{1, 1},
		{255, 255},
		{256, 255},
		{280, 255},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d_failures", tt.failures), func(t *testing.T) {
			s := result.NewSummary()
			s.Record(result.TestCase{Path: "passed.bit"}, result.Passed)
			for i := 0; i < tt.failures; i++ {
				s.Record(result.TestCase{Path: fmt.Sprintf("clip%03d.bit", i)}, result.Mismatch)
			}
			if got := ExitCode(s); got != tt.want {
				t.Errorf("ExitCode() = %d, want %d", got, tt.want)
			}
			if s.Failures() != tt.failures {
				t.Errorf("Failures() = %d, want the exact count %d", s.Failures(), tt.failures)
			}
		})
	}
}
