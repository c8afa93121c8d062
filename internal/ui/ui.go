// Package ui provides the interactive solution browser using Bubble Tea.
package ui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/litescript/ls-astrom/internal/platesol"
	"github.com/litescript/ls-astrom/internal/version"
)

// ViewMode represents the current UI view.
type ViewMode int

const (
	ViewSummary ViewMode = iota
	ViewResiduals
	ViewHeader
)

const arcsecPerDeg = 3600

// Model is the root Bubble Tea model. It is a static browser over a
// finished solution: there is no background refresh.
type Model struct {
	result     *platesol.Result
	headerText string

	viewMode ViewMode
	width    int
	height   int
	ready    bool
	scroll   int
}

// New creates a browser over a computed solution. headerText is the
// formatted card text of the output header.
func New(result *platesol.Result, headerText string) Model {
	return Model{
		result:     result,
		headerText: headerText,
		viewMode:   ViewSummary,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit

		case "1", "s":
			m.viewMode = ViewSummary
			m.scroll = 0
		case "2", "r":
			m.viewMode = ViewResiduals
			m.scroll = 0
		case "3", "h":
			m.viewMode = ViewHeader
			m.scroll = 0

		case "tab":
			m.viewMode = (m.viewMode + 1) % 3
			m.scroll = 0

		case "up", "k":
			if m.scroll > 0 {
				m.scroll--
			}
		case "down", "j":
			if m.scroll < m.maxScroll() {
				m.scroll++
			}
		case "g":
			m.scroll = 0
		case "G":
			m.scroll = m.maxScroll()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Initializing..."
	}

	var content string
	switch m.viewMode {
	case ViewSummary:
		content = m.renderSummary()
	case ViewResiduals:
		content = m.renderResiduals()
	case ViewHeader:
		content = m.renderHeader()
	}

	return m.renderTitle() + m.renderTabs() + "\n\n" + content + "\n" + m.renderFooter()
}

func (m Model) renderTitle() string {
	title := lipgloss.NewStyle().Foreground(lipgloss.Color("#9D4EDD")).Bold(true)
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	return "\n  " + title.Render("ls-astrom") +
		muted.Render(fmt.Sprintf("  plate solution browser | v%s", version.Version)) + "\n\n"
}

func (m Model) renderTabs() string {
	tabs := []string{"[1] Summary", "[2] Residuals", "[3] Header"}
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#9D4EDD")).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))

	var parts []string
	for i, tab := range tabs {
		if ViewMode(i) == m.viewMode {
			parts = append(parts, activeStyle.Render("▶ "+tab))
		} else {
			parts = append(parts, dimStyle.Render("  "+tab))
		}
	}
	return "  " + strings.Join(parts, "  ")
}

func (m Model) renderSummary() string {
	r := m.result
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("135")).Bold(true)
	value := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))

	row := func(name, val string) string {
		return "  " + label.Render(fmt.Sprintf("%-14s", name)) + value.Render(val) + "\n"
	}

	var b strings.Builder
	b.WriteString(row("Points", fmt.Sprintf("%d matched, %d rejected", r.Points, r.Rejected)))
	b.WriteString(row("Iterations", fmt.Sprintf("%d", r.Iterations)))
	b.WriteString(row("Scale", fmt.Sprintf("%.6g arcsec/pixel", r.Scale()*arcsecPerDeg)))
	b.WriteString(row("Rotation", fmt.Sprintf("%.4f deg", r.Rotation()*180/3.141592653589793)))
	b.WriteString(row("Ref pixel", fmt.Sprintf("(%.3f, %.3f)", r.RefPixel[0], r.RefPixel[1])))
	b.WriteString(row("Ref value", fmt.Sprintf("(%.7f, %.7f) deg", r.RefValue[0], r.RefValue[1])))
	b.WriteString(row("Fit sigma", fmt.Sprintf("%.4g / %.4g arcsec (xi / eta)",
		r.SigmaXi*arcsecPerDeg, r.SigmaEta*arcsecPerDeg)))

	co := r.Coeffs
	b.WriteString(row("Coefficients", fmt.Sprintf("a=%.6g  b=%.6g  c=%.6g", co[0], co[1], co[2])))
	b.WriteString(row("", fmt.Sprintf("d=%.6g  e=%.6g  f=%.6g", co[3], co[4], co[5])))

	if len(r.Trace) > 0 {
		b.WriteString("\n  " + dim.Render(fmt.Sprintf("%-6s %-14s %-9s %-10s %-9s",
			"Iter", "Sigma[arcsec]", "New rej", "Total rej", "Accepted")) + "\n")
		for _, it := range r.Trace {
			b.WriteString(value.Render(fmt.Sprintf("  %-6d %-14.4g %-9d %-10d %-9d",
				it.N, it.Sigma*arcsecPerDeg, it.NewlyRejected, it.TotalRejected, it.Accepted)) + "\n")
		}
	}
	return b.String()
}

func (m Model) renderResiduals() string {
	r := m.result
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	value := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	rejStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("#E84A27"))

	var b strings.Builder
	b.WriteString("  " + dim.Render(fmt.Sprintf("%-10s %-10s %-12s %-12s %-4s",
		"X", "Y", "ResXi[\"]", "ResEta[\"]", "Rej")) + "\n")

	rows := m.pageSize()
	end := m.scroll + rows
	if end > len(r.PointFits) {
		end = len(r.PointFits)
	}
	for _, p := range r.PointFits[m.scroll:end] {
		line := fmt.Sprintf("  %-10.2f %-10.2f %-12.4g %-12.4g",
			p.X, p.Y, p.ResXi*arcsecPerDeg, p.ResEta*arcsecPerDeg)
		if p.Rejected {
			b.WriteString(rejStyle.Render(line+" *") + "\n")
		} else {
			b.WriteString(value.Render(line) + "\n")
		}
	}
	if len(r.PointFits) > rows {
		b.WriteString(dim.Render(fmt.Sprintf("  %d-%d of %d", m.scroll+1, end, len(r.PointFits))) + "\n")
	}
	return b.String()
}

func (m Model) renderHeader() string {
	value := lipgloss.NewStyle().Foreground(lipgloss.Color("252"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))

	lines := headerLines(m.headerText)
	rows := m.pageSize()
	end := m.scroll + rows
	if end > len(lines) {
		end = len(lines)
	}

	var b strings.Builder
	for _, line := range lines[m.scroll:end] {
		b.WriteString("  " + value.Render(line) + "\n")
	}
	if len(lines) > rows {
		b.WriteString(dim.Render(fmt.Sprintf("  %d-%d of %d", m.scroll+1, end, len(lines))) + "\n")
	}
	return b.String()
}

// headerLines splits card text into display lines, accepting both
// newline-separated and raw 80-column forms.
func headerLines(text string) []string {
	if strings.Contains(text, "\n") {
		return strings.Split(strings.TrimRight(text, "\n"), "\n")
	}
	var lines []string
	for len(text) > 0 {
		n := 80
		if len(text) < n {
			n = len(text)
		}
		lines = append(lines, strings.TrimRight(text[:n], " "))
		text = text[n:]
	}
	return lines
}

// pageSize is the number of table rows that fit under the chrome.
func (m Model) pageSize() int {
	rows := m.height - 10
	if rows < 1 {
		return 1
	}
	return rows
}

func (m Model) maxScroll() int {
	var total int
	switch m.viewMode {
	case ViewResiduals:
		total = len(m.result.PointFits)
	case ViewHeader:
		total = len(headerLines(m.headerText))
	default:
		return 0
	}
	max := total - m.pageSize()
	if max < 0 {
		return 0
	}
	return max
}

func (m Model) renderFooter() string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("60"))
	switch m.viewMode {
	case ViewResiduals, ViewHeader:
		return "  " + dim.Render("j/k: scroll | g/G: top/bottom | tab: switch view | q: quit")
	default:
		return "  " + dim.Render("tab: switch view | q: quit")
	}
}
