package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/result"
	"github.com/randomizedcoder/go-ffmpeg-conformance/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main dashboard.
func (m Model) renderSummaryView() string {
	sections := []string{
		m.renderHeader(),
		m.renderProgress(),
		m.renderOutcomes(),
	}
	if recent := m.renderRecent(); recent != "" {
		sections = append(sections, recent)
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	header := fmt.Sprintf(
		" go-ffmpeg-conformance │ %s │ Workers: %d │ Elapsed: %s ",
		m.decoder,
		m.workers,
		stats.FormatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	barWidth := m.width - 30
	if barWidth < 20 {
		barWidth = 20
	}
	progressBar := RenderProgressBar(m.Progress(), barWidth)

	var status string
	switch {
	case m.done && m.Failures() == 0:
		status = statusOK.Render(fmt.Sprintf("✓ Complete: %d/%d", m.Completed(), m.total))
	case m.done:
		status = statusError.Render(fmt.Sprintf("✗ Complete with %d failure(s): %d/%d", m.Failures(), m.Completed(), m.total))
	default:
		status = statusInfo.Render(fmt.Sprintf("Decoding... %d/%d", m.Completed(), m.total))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Progress"),
		progressBar,
		status,
	)
	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Outcomes
// =============================================================================

func (m Model) renderOutcomes() string {
	rows := []string{sectionHeaderStyle.Render("Outcomes")}
	for _, o := range result.ReportOrder {
		n := m.counts[o]
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(o.String()+":"),
			OutcomeStyle(o, n).Render(fmt.Sprintf("%d", n)),
		))
	}
	if m.errors > 0 {
		rows = append(rows, RenderKeyValue("Internal errors", statusWarning.Render(fmt.Sprintf("%d", m.errors))))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Recent Bitstreams
// =============================================================================

func (m Model) renderRecent() string {
	list, title := m.recent, "Recent"
	if m.failuresOnly {
		list, title = m.failures, "Recent Failures"
	}
	if len(list) == 0 {
		return ""
	}

	rows := []string{sectionHeaderStyle.Render(title)}
	for i := len(list) - 1; i >= 0; i-- {
		f := list[i]
		if f.err != nil {
			rows = append(rows, statusWarning.Render("! ")+f.name+" "+dimStyle.Render(f.err.Error()))
			continue
		}
		marker := OutcomeStyle(f.outcome, 1).Render(OutcomeSymbol(f.outcome))
		line := fmt.Sprintf("%s %-40s %-16s", marker, f.name, f.outcome.String())
		if f.outcome != result.Skipped {
			line += dimStyle.Render(stats.FormatSeconds(f.duration))
		}
		rows = append(rows, line)
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"f: toggle failures",
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	right := ""
	if m.metricsAddr != "" {
		right = dimStyle.Render("Metrics: http://" + m.metricsAddr + "/metrics")
	}

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			right,
		),
	)
}
