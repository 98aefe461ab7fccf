// Package stats provides throughput statistics and decode-time percentiles
// for conformance and performance runs.
package stats

import "math"

// DefaultNoisyCV is the coefficient of variation above which a sequence's
// throughput samples are flagged as noisy.
const DefaultNoisyCV = 0.10

// PerfStat summarises the throughput samples of one sequence.
type PerfStat struct {
	Sequence string
	Samples  []float64 // fps per run, in run order
	Mean     float64
	Stdev    float64
	CV       float64 // Stdev / Mean; 0 when Mean is 0
	Noisy    bool
}

// NewPerfStat computes the summary of samples. A sequence is noisy when its
// coefficient of variation exceeds cvLimit.
func NewPerfStat(sequence string, samples []float64, cvLimit float64) PerfStat {
	s := PerfStat{
		Sequence: sequence,
		Samples:  append([]float64(nil), samples...),
		Mean:     Mean(samples),
		Stdev:    Stdev(samples),
	}
	if s.Mean > 0 {
		s.CV = s.Stdev / s.Mean
	}
	s.Noisy = s.CV > cvLimit
	return s
}

// Mean returns the arithmetic mean, or 0 for no samples.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, v := range samples {
		sum += v
	}
	return sum / float64(len(samples))
}

// Stdev returns the sample standard deviation (n-1 denominator), or 0 for
// fewer than two samples.
func Stdev(samples []float64) float64 {
	if len(samples) < 2 {
		return 0
	}
	m := Mean(samples)
	var ss float64
	for _, v := range samples {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(samples)-1))
}
