// Package result defines per-bitstream outcomes and the run summary that
// aggregates them.
package result

import (
	"path/filepath"
	"sort"
	"sync"
)

// Outcome is the single classification of one test case in one run.
type Outcome int

const (
	Passed Outcome = iota
	Mismatch
	Skipped
	Timeout
	Crashed
	Aborted
	ArithmeticError
	DecodeError
)

// ReportOrder is the order in which outcome groups are printed: every
// non-passing group first, PASSED last.
var ReportOrder = []Outcome{
	Skipped,
	Mismatch,
	Timeout,
	Crashed,
	Aborted,
	ArithmeticError,
	DecodeError,
	Passed,
}

// String returns the outcome tag.
func (o Outcome) String() string {
	switch o {
	case Passed:
		return "PASSED"
	case Mismatch:
		return "MISMATCH"
	case Skipped:
		return "SKIPPED"
	case Timeout:
		return "TIMEOUT"
	case Crashed:
		return "CRASHED"
	case Aborted:
		return "ABORTED"
	case ArithmeticError:
		return "ARITHMETIC_ERROR"
	case DecodeError:
		return "DECODE_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Label returns the lowercase group name used in reports and metrics.
func (o Outcome) Label() string {
	switch o {
	case Passed:
		return "passed"
	case Mismatch:
		return "mismatch"
	case Skipped:
		return "skipped"
	case Timeout:
		return "timeout"
	case Crashed:
		return "crashed"
	case Aborted:
		return "aborted"
	case ArithmeticError:
		return "arithmetic_error"
	case DecodeError:
		return "decode_error"
	default:
		return "unknown"
	}
}

// Failure reports whether the outcome counts toward the exit status.
func (o Outcome) Failure() bool {
	return o != Passed && o != Skipped
}

// TestCase is one bitstream to decode. Immutable once enumerated.
type TestCase struct {
	Path string
	Size int64
}

// Name returns the bitstream file name.
func (tc TestCase) Name() string {
	return filepath.Base(tc.Path)
}

// InternalError records a task that failed inside the harness rather than
// inside the decoder. It is reported but not counted as an outcome.
type InternalError struct {
	TestCase TestCase
	Err      error
}

// Summary aggregates outcomes for one run.
type Summary struct {
	mu       sync.Mutex
	cases    map[Outcome][]TestCase
	counts   map[Outcome]int
	patterns map[Outcome]map[string]int
	errors   []InternalError
}

// NewSummary creates an empty summary.
func NewSummary() *Summary {
	return &Summary{
		cases:    make(map[Outcome][]TestCase),
		counts:   make(map[Outcome]int),
		patterns: make(map[Outcome]map[string]int),
	}
}

// Record adds one outcome.
func (s *Summary) Record(tc TestCase, o Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cases[o] = append(s.cases[o], tc)
	s.counts[o]++
}

// RecordPatterns adds decoder error-pattern counts to the group o.
func (s *Summary) RecordPatterns(o Outcome, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.patterns[o] == nil {
		s.patterns[o] = make(map[string]int)
	}
	for p, n := range counts {
		s.patterns[o][p] += n
	}
}

// PatternCount is one decoder error pattern and its occurrences.
type PatternCount struct {
	Pattern string
	Count   int
}

// Patterns returns the error-pattern counts of group o, most frequent
// first, ties by pattern.
func (s *Summary) Patterns(o Outcome) []PatternCount {
	s.mu.Lock()
	out := make([]PatternCount, 0, len(s.patterns[o]))
	for p, n := range s.patterns[o] {
		out = append(out, PatternCount{Pattern: p, Count: n})
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Pattern < out[j].Pattern
	})
	return out
}

// RecordError adds an internal error for tc.
func (s *Summary) RecordError(tc TestCase, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, InternalError{TestCase: tc, Err: err})
}

// Cases returns the test cases recorded with o in report order: MISMATCH by
// ascending size, everything else by path. Ties are broken by path.
func (s *Summary) Cases(o Outcome) []TestCase {
	s.mu.Lock()
	out := append([]TestCase(nil), s.cases[o]...)
	s.mu.Unlock()

	if o == Mismatch {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Size != out[j].Size {
				return out[i].Size < out[j].Size
			}
			return out[i].Path < out[j].Path
		})
		return out
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Count returns the number of test cases recorded with o.
func (s *Summary) Count(o Outcome) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[o]
}

// Counts returns a copy of all counts.
func (s *Summary) Counts() map[Outcome]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[Outcome]int, len(s.counts))
	for o, n := range s.counts {
		out[o] = n
	}
	return out
}

// Total returns the number of recorded outcomes.
func (s *Summary) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.counts {
		total += n
	}
	return total
}

// Failures returns the number of outcomes other than PASSED and SKIPPED.
func (s *Summary) Failures() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for o, c := range s.counts {
		if o.Failure() {
			n += c
		}
	}
	return n
}

// Errors returns the internal errors sorted by path.
func (s *Summary) Errors() []InternalError {
	s.mu.Lock()
	out := append([]InternalError(nil), s.errors...)
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].TestCase.Path < out[j].TestCase.Path
	})
	return out
}
