package tui

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/classifier"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
)

// recentLimit is the number of finished bitstreams kept for display.
const recentLimit = 10

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StartMsg announces the number of scheduled bitstreams.
type StartMsg struct {
	Total int
}

// OutcomeMsg carries one classified bitstream.
type OutcomeMsg struct {
	TestCase result.TestCase
	Verdict  classifier.Verdict
}

// ErrorMsg carries one bitstream whose task failed internally.
type ErrorMsg struct {
	TestCase result.TestCase
	Err      error
}

// DoneMsg marks the end of the run.
type DoneMsg struct{}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// finished is one entry in the recent list.
type finished struct {
	name     string
	outcome  result.Outcome
	duration time.Duration
	err      error
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	decoder     string
	workers     int
	metricsAddr string

	// Current state
	total        int
	counts       map[result.Outcome]int
	errors       int
	recent       []finished
	failures     []finished
	startTime    time.Time
	endTime      time.Time
	done         bool
	failuresOnly bool

	// Display options
	width  int
	height int

	// Quit flag
	quitting bool
}

// Config holds TUI configuration.
type Config struct {
	Decoder     string
	Workers     int
	MetricsAddr string
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		decoder:     cfg.Decoder,
		workers:     cfg.Workers,
		metricsAddr: cfg.MetricsAddr,
		counts:      make(map[result.Outcome]int),
		startTime:   time.Now(),
		width:       80,
		height:      24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "f":
			m.failuresOnly = !m.failuresOnly
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		if m.done {
			return m, nil
		}
		return m, tickCmd()

	case StartMsg:
		m.total = msg.Total
		m.startTime = time.Now()
		return m, nil

	case OutcomeMsg:
		m.push(finished{
			name:     msg.TestCase.Name(),
			outcome:  msg.Verdict.Outcome,
			duration: msg.Verdict.Duration,
		})
		m.counts[msg.Verdict.Outcome]++
		return m, nil

	case ErrorMsg:
		m.errors++
		m.push(finished{name: msg.TestCase.Name(), err: msg.Err})
		return m, nil

	case DoneMsg:
		m.done = true
		m.endTime = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// push records a finished bitstream; the slices are copied so earlier
// model values keep their view.
func (m *Model) push(f finished) {
	m.recent = appendBounded(m.recent, f, recentLimit)
	if f.err != nil || f.outcome.Failure() {
		m.failures = appendBounded(m.failures, f, recentLimit)
	}
	counts := make(map[result.Outcome]int, len(m.counts))
	for k, v := range m.counts {
		counts[k] = v
	}
	m.counts = counts
}

func appendBounded(list []finished, f finished, limit int) []finished {
	out := make([]finished, 0, limit)
	if len(list) >= limit {
		list = list[len(list)-limit+1:]
	}
	out = append(out, list...)
	return append(out, f)
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the run started, frozen once it is done.
func (m Model) Elapsed() time.Duration {
	if m.done {
		return m.endTime.Sub(m.startTime)
	}
	return time.Since(m.startTime)
}

// Completed returns the number of bitstreams with an outcome or error.
func (m Model) Completed() int {
	n := m.errors
	for _, c := range m.counts {
		n += c
	}
	return n
}

// Total returns the number of scheduled bitstreams.
func (m Model) Total() int {
	return m.total
}

// Count returns the number of bitstreams with outcome o.
func (m Model) Count(o result.Outcome) int {
	return m.counts[o]
}

// Progress returns the completion fraction (0.0 to 1.0).
func (m Model) Progress() float64 {
	if m.total == 0 {
		if m.done {
			return 1
		}
		return 0
	}
	p := float64(m.Completed()) / float64(m.total)
	if p > 1 {
		p = 1
	}
	return p
}

// Failures returns the number of failure-class outcomes so far.
func (m Model) Failures() int {
	n := 0
	for o, c := range m.counts {
		if o.Failure() {
			n += c
		}
	}
	return n
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStart announces the run size to the TUI.
func SendStart(p *tea.Program, total int) {
	if p != nil {
		p.Send(StartMsg{Total: total})
	}
}

// SendOutcome sends one classified bitstream to the TUI.
func SendOutcome(p *tea.Program, tc result.TestCase, v classifier.Verdict) {
	if p != nil {
		p.Send(OutcomeMsg{TestCase: tc, Verdict: v})
	}
}

// SendError sends one internal task error to the TUI.
func SendError(p *tea.Program, tc result.TestCase, err error) {
	if p != nil {
		p.Send(ErrorMsg{TestCase: tc, Err: err})
	}
}

// SendDone marks the run finished.
func SendDone(p *tea.Program) {
	if p != nil {
		p.Send(DoneMsg{})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}
