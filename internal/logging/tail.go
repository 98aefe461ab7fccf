package logging

import (
	"bufio"
	"bytes"
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single stored line before truncation.
	MaxLineLength = 4096

	// DefaultTailLines is the number of decoder stderr lines kept per decode.
	DefaultTailLines = 20
)

// StderrTail keeps the most recent lines of a decoder's stderr so a failed
// decode can be logged with context without keeping the whole output.
type StderrTail struct {
	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex
}

// NewStderrTail creates a tail buffer holding up to n lines.
func NewStderrTail(n int) *StderrTail {
	if n <= 0 {
		n = DefaultTailLines
	}
	return &StderrTail{
		buffer: make([]string, n),
	}
}

// Feed splits raw stderr output into lines and stores each one.
func (t *StderrTail) Feed(stderr []byte) {
	scanner := bufio.NewScanner(bytes.NewReader(stderr))
	scanner.Buffer(make([]byte, MaxLineLength), MaxLineLength*4)
	// FFmpeg rewrites its status line with '\r'; treat it as a line break.
	scanner.Split(scanLinesCR)

	for scanner.Scan() {
		t.HandleLine(scanner.Text())
	}
}

// HandleLine stores a single line, truncating overly long ones.
func (t *StderrTail) HandleLine(line string) {
	line = strings.TrimRight(line, " \t")
	if line == "" {
		return
	}
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	t.mu.Lock()
	t.buffer[t.bufIdx] = line
	t.bufIdx = (t.bufIdx + 1) % len(t.buffer)
	if t.count < len(t.buffer) {
		t.count++
	}
	t.mu.Unlock()
}

// RecentLines returns up to n of the most recent lines, oldest first.
func (t *StderrTail) RecentLines(n int) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n > t.count {
		n = t.count
	}

	size := len(t.buffer)
	lines := make([]string, 0, n)
	for i := 0; i < n; i++ {
		idx := (t.bufIdx - n + i + size) % size
		lines = append(lines, t.buffer[idx])
	}
	return lines
}

// LogAttrs returns the buffered lines as a slog group, with the first line
// that looks like a decoder error surfaced separately.
func (t *StderrTail) LogAttrs() slog.Attr {
	lines := t.RecentLines(len(t.buffer))
	attrs := []any{"lines", lines}
	for _, line := range lines {
		if ClassifyLine(line) >= slog.LevelWarn {
			attrs = append(attrs, "first_error", line)
			break
		}
	}
	return slog.Group("stderr", attrs...)
}

// ClassifyLine determines the log level for a decoder stderr line.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	// Error patterns
	if strings.Contains(lower, "[error]") ||
		strings.Contains(lower, "error while decoding") ||
		strings.Contains(lower, "invalid data found") ||
		strings.Contains(lower, "assertion") ||
		strings.Contains(lower, "segmentation fault") ||
		strings.Contains(lower, "error") && strings.Contains(lower, "failed") {
		return slog.LevelError
	}

	// Warning patterns
	if strings.Contains(lower, "[warning]") ||
		strings.Contains(lower, "concealing") ||
		strings.Contains(lower, "missing reference") {
		return slog.LevelWarn
	}

	// Progress lines and everything else
	return slog.LevelDebug
}

// ErrorPatterns are common decoder failure patterns counted for summaries.
var ErrorPatterns = []string{
	"Invalid data found",
	"Error while decoding",
	"concealing",
	"Assertion",
	"missing reference",
}

// CountErrors counts occurrences of error patterns in the buffer.
func (t *StderrTail) CountErrors() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	counts := make(map[string]int)
	for _, line := range t.buffer {
		if line == "" {
			continue
		}
		for _, pattern := range ErrorPatterns {
			if strings.Contains(line, pattern) {
				counts[pattern]++
			}
		}
	}
	return counts
}

// scanLinesCR is bufio.ScanLines that also splits on a bare '\r'.
func scanLinesCR(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		advance = i + 1
		if data[i] == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			advance++
		}
		return advance, data[:i], nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}
