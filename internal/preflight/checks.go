// Package preflight provides startup validation checks.
package preflight

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

// versionTimeout bounds the "-version" probe of a decoder.
const versionTimeout = 10 * time.Second

// perDecodeMemory is the approximate peak working set of one UHD decode.
const perDecodeMemory = 512 << 20

// Check represents the result of a single preflight check.
type Check struct {
	Name     string // Name of the check
	Required int    // Required value (if applicable)
	Actual   int    // Actual value found
	Passed   bool   // Whether the check passed
	Warning  bool   // True if it's a warning (non-fatal)
	Message  string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// Options selects what RunAll checks.
type Options struct {
	Workers    int
	FFmpegPath string // checked when non-empty
	VVdeCPath  string // checked when non-empty
	Roots      []string
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}

	if c.Required > 0 {
		return fmt.Sprintf("  %s %s: %d available (need %d)", status, c.Name, c.Actual, c.Required)
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks.
func RunAll(opts Options) *Result {
	result := &Result{
		Checks: make([]Check, 0, 8),
		Passed: true,
	}

	result.add(checkFileDescriptors(opts.Workers))
	result.add(checkProcessLimit(opts.Workers))
	result.add(checkMemory(opts.Workers))
	result.add(checkCPUs(opts.Workers))

	if opts.FFmpegPath != "" {
		result.add(checkFFmpeg(opts.FFmpegPath))
	}
	if opts.VVdeCPath != "" {
		result.add(checkExecutable("vvdec", opts.VVdeCPath))
	}
	for _, root := range opts.Roots {
		result.add(checkRoot(root))
	}

	return result
}

// checkFileDescriptors verifies sufficient file descriptors are available.
func checkFileDescriptors(workers int) Check {
	// Each decode holds three pipes plus the input file; the ledger and
	// fixture readers and the metrics server add a fixed overhead.
	required := workers*8 + 64

	actual, ok := fileDescriptorLimit()
	if !ok {
		return Check{
			Name:    "file_descriptors",
			Passed:  true,
			Warning: true,
			Message: "unable to check on this platform",
		}
	}

	return Check{
		Name:     "file_descriptors",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -n %d (need %d for %d workers)", actual, required, workers),
	}
}

// checkProcessLimit verifies sufficient process slots are available.
func checkProcessLimit(workers int) Check {
	// Decoder threads count against the limit on Linux.
	required := workers*4 + 50

	data, err := os.ReadFile("/proc/self/limits")
	if err != nil {
		// Non-Linux or restricted access, assume OK
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to check (non-Linux or restricted)",
		}
	}

	actual := parseMaxProcesses(string(data))
	if actual == 0 {
		return Check{
			Name:    "process_limit",
			Passed:  true,
			Warning: true,
			Message: "unable to determine (assuming OK)",
		}
	}

	return Check{
		Name:     "process_limit",
		Required: required,
		Actual:   actual,
		Passed:   actual >= required,
		Message:  fmt.Sprintf("ulimit -u %d (need %d)", actual, required),
	}
}

// checkMemory warns when the workers may not fit in available memory.
func checkMemory(workers int) Check {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Check{
			Name:    "memory",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("unable to check: %v", err),
		}
	}

	required := uint64(workers) * perDecodeMemory
	return Check{
		Name:    "memory",
		Passed:  true,
		Warning: vm.Available < required,
		Message: fmt.Sprintf("%s available (about %s for %d workers)",
			stats.FormatBytes(int64(vm.Available)), stats.FormatBytes(int64(required)), workers),
	}
}

// checkCPUs warns when the pool is much wider than the machine; decodes
// then mostly wait for CPU and timeouts become likely.
func checkCPUs(workers int) Check {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return Check{
			Name:    "cpus",
			Passed:  true,
			Warning: true,
			Message: "unable to count logical CPUs",
		}
	}
	return Check{
		Name:    "cpus",
		Passed:  true,
		Warning: workers > 2*n,
		Message: fmt.Sprintf("%d logical CPUs for %d workers", n, workers),
	}
}

// parseMaxProcesses reads the soft "Max processes" limit from the
// contents of /proc/self/limits. It returns 0 when the line is absent.
func parseMaxProcesses(limits string) int {
	actual := 0
	for _, line := range strings.Split(limits, "\n") {
		if strings.HasPrefix(line, "Max processes") {
			fields := strings.Fields(line)
			if len(fields) >= 4 {
				if fields[2] == "unlimited" {
					actual = 1000000
				} else {
					fmt.Sscanf(fields[2], "%d", &actual)
				}
			}
			break
		}
	}
	return actual
}

// checkFFmpeg verifies FFmpeg is available and working.
func checkFFmpeg(path string) Check {
	ctx, cancel := context.WithTimeout(context.Background(), versionTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return Check{
			Name:    "ffmpeg",
			Passed:  false,
			Message: fmt.Sprintf("not usable at %s: %v", path, err),
		}
	}

	return Check{
		Name:    "ffmpeg",
		Passed:  true,
		Message: fmt.Sprintf("found at %s (version %s)", path, parseFFmpegVersion(string(output))),
	}
}

// parseFFmpegVersion extracts the version from "ffmpeg version 7.1 Copyright ...".
func parseFFmpegVersion(output string) string {
	lines := strings.Split(output, "\n")
	if len(lines) > 0 {
		parts := strings.Fields(lines[0])
		if len(parts) >= 3 {
			return parts[2]
		}
	}
	return "unknown"
}

// checkExecutable verifies path resolves to an executable.
func checkExecutable(name, path string) Check {
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Check{
			Name:    name,
			Passed:  false,
			Message: fmt.Sprintf("not found at %s: %v", path, err),
		}
	}
	return Check{
		Name:    name,
		Passed:  true,
		Message: "found at " + resolved,
	}
}

// checkRoot verifies a test root exists.
func checkRoot(root string) Check {
	info, err := os.Stat(root)
	if err != nil {
		return Check{
			Name:    "test_path",
			Passed:  false,
			Message: fmt.Sprintf("%s: %v", root, err),
		}
	}
	kind := "file"
	if info.IsDir() {
		kind = "directory"
	}
	return Check{
		Name:    "test_path",
		Passed:  true,
		Message: fmt.Sprintf("%s (%s)", root, kind),
	}
}

// PrintResults prints the preflight check results.
func PrintResults(w io.Writer, result *Result) {
	fmt.Fprintln(w, "Preflight checks:")
	for _, check := range result.Checks {
		fmt.Fprintln(w, check.String())
		if !check.Passed {
			fmt.Fprintf(w, "    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Fprintln(w)
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "file_descriptors":
		return "ulimit -n 8192 (or edit /etc/security/limits.conf), or lower -workers"
	case "process_limit":
		return "ulimit -u 4096 (or edit /etc/security/limits.conf), or lower -workers"
	case "ffmpeg":
		return "build FFmpeg with the VVC decoder and pass -ffmpeg or set FFMPEG_PATH"
	case "vvdec":
		return "build vvdecapp and pass -vvdec or set VVDEC_PATH"
	case "test_path":
		return "check the test path arguments"
	default:
		return "see documentation"
	}
}
