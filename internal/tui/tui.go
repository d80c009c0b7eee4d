// Package tui provides a Bubble Tea TUI for browsing a stopgate ledger.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/fakeyudi/stopgate/internal/ledger"
	"github.com/fakeyudi/stopgate/internal/policy"
)

// ── Styles ────────────

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	blockedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	infoStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabDirectives
	tabAttempts
	tabFingerprints
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Directives", "Attempts", "Fingerprints", "Timeline",
}

// ── Timeline event ───────────────────

type eventKind string

const (
	kindDirective   eventKind = "PROMPT"
	kindCompleted   eventKind = "DONE"
	kindAttempt     eventKind = "STOP"
	kindFingerprint eventKind = "CHANGE"
)

type timelineEvent struct {
	ts   time.Time
	kind eventKind
	text string
}

// Diagnostics are the policy checks evaluated against the ledger.
type Diagnostics struct {
	Limits   policy.LimitResult
	Progress policy.ProgressReport
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the TUI.
type Model struct {
	ledger    *ledger.Ledger
	diag      Diagnostics
	source    string
	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	timeline  []timelineEvent
	// Attempts tab: cursor position and expanded set
	attemptCursor    int
	expandedAttempts map[int]bool
}

// New creates a TUI model for l, read from source.
func New(l *ledger.Ledger, diag Diagnostics, source string) Model {
	return Model{
		ledger:           l,
		diag:             diag,
		source:           source,
		expandedAttempts: make(map[int]bool),
		timeline:         buildTimeline(l),
	}
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuildViewport(tabTimeline)
				m.viewports[tabTimeline].GotoTop()
			}
		case "up", "k":
			if m.activeTab == tabAttempts && m.attemptCursor > 0 {
				m.attemptCursor--
				m.rebuildViewport(tabAttempts)
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabAttempts && m.attemptCursor < len(m.ledger.StopAttempts)-1 {
				m.attemptCursor++
				m.rebuildViewport(tabAttempts)
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabAttempts && len(m.ledger.StopAttempts) > 0 {
				if m.expandedAttempts[m.attemptCursor] {
					delete(m.expandedAttempts, m.attemptCursor)
				} else {
					m.expandedAttempts[m.attemptCursor] = true
				}
				m.rebuildViewport(tabAttempts)
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	title := titleStyle.Width(m.width).Render("  stopgate  " + m.source)

	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	content := m.viewports[m.activeTab].View()

	hint := "  ←/→ tab  ↑/↓ scroll  1-5 jump  q quit"
	switch m.activeTab {
	case tabTimeline:
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	case tabAttempts:
		hint += "  ↑/↓ select  enter expand/collapse"
	}
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := max(m.width-lipgloss.Width(hint)-len(pct)-2, 1)
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := max(m.height-3, 1)
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuildViewport(t tabID) {
	m.viewports[t].SetContent(m.renderTab(t))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabDirectives:
		return m.renderDirectives()
	case tabAttempts:
		return m.renderAttempts()
	case tabFingerprints:
		return m.renderFingerprints()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func (m *Model) renderSummary() string {
	l := m.ledger
	var sb strings.Builder
	sb.WriteString(heading("Session"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-22s", label)) + "  " + value + "\n")
	}
	row("Session:", l.SessionID)
	row("Created:", l.CreatedAt.Local().Format("2006-01-02 15:04:05 MST"))
	row("Updated:", l.UpdatedAt.Local().Format("2006-01-02 15:04:05 MST"))
	if b := l.Baseline; b != nil {
		dirty := "clean"
		if b.Dirty {
			dirty = "dirty"
		}
		row("Baseline:", fmt.Sprintf("%s @ %s (%s)", b.Branch, shortHash(b.BaseRevision), dirty))
	}

	active := 0
	for _, d := range l.Directives {
		if d.Status == ledger.StatusActive {
			active++
		}
	}
	sb.WriteString(heading("Counts"))
	row("Directives:", fmt.Sprintf("%d (%d active)", len(l.Directives), active))
	row("Stop attempts:", fmt.Sprintf("%d", len(l.StopAttempts)))
	row("Fingerprints:", fmt.Sprintf("%d", len(l.Fingerprints)))

	lim, prog := m.diag.Limits, m.diag.Progress
	sb.WriteString(heading("Policy"))
	row("Consecutive failures:", fmt.Sprintf("%d", lim.ConsecutiveFailures))
	row("Limit exceeded:", fmt.Sprintf("%t", lim.Exceeded))
	if lim.Reason != "" {
		row("Limit reason:", lim.Reason)
	}
	row("Trend:", string(prog.Trend))
	if prog.Reason != "" {
		row("Trend reason:", prog.Reason)
	}
	return sb.String()
}

func (m *Model) renderDirectives() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Directives (%d)", len(m.ledger.Directives))))
	if len(m.ledger.Directives) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, d := range m.ledger.Directives {
		num := dimStyle.Render(fmt.Sprintf("  %3d.", i+1))
		ts := timeStyle.Render(d.CreatedAt.Local().Format("15:04:05"))
		badge := statusStyle(d.Status).Render("[" + strings.ToUpper(string(d.Status)) + "]")
		sb.WriteString(fmt.Sprintf("%s %s  %s  %s  %s\n", num, ts, badge, dimStyle.Render(string(d.Kind)), firstLine(d.Text)))
		if d.NormalizedIntent != "" {
			sb.WriteString(dimStyle.Render("         intent: "+d.NormalizedIntent) + "\n")
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderAttempts() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Stop Attempts (%d)", len(m.ledger.StopAttempts))))
	if len(m.ledger.StopAttempts) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, a := range m.ledger.StopAttempts {
		ts := timeStyle.Render(a.Timestamp.Local().Format("15:04:05"))
		badge := verdictStyle(a.Verdict).Render(fmt.Sprintf("%-10s", strings.ToUpper(string(a.Verdict))))
		change := dimStyle.Render("·")
		if a.FingerprintChanged() {
			change = passStyle.Render("Δ")
		}

		toggle := dimStyle.Render("  ▶ ")
		if m.expandedAttempts[i] {
			toggle = dimStyle.Render("  ▼ ")
		}
		row := fmt.Sprintf("%s%s  %s %s  %s", toggle, ts, badge, change, firstLine(a.Reason))
		if i == m.attemptCursor {
			row = selectedRowStyle.Width(max(m.width-2, 1)).Render(row)
		}
		sb.WriteString(row + "\n")

		if m.expandedAttempts[i] {
			sb.WriteString(indent(a.Reason, "        ") + "\n")
			if a.FingerprintBefore != "" || a.FingerprintAfter != "" {
				sb.WriteString(dimStyle.Render(fmt.Sprintf("        fingerprint %s → %s",
					shortHash(a.FingerprintBefore), shortHash(a.FingerprintAfter))) + "\n")
			}
			for _, c := range a.Criteria {
				mark := failStyle.Render("✗")
				if c.Passed {
					mark = passStyle.Render("✓")
				}
				sb.WriteString("        " + mark + " " + c.Criterion + "\n")
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m *Model) renderFingerprints() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Fingerprints (%d)", len(m.ledger.Fingerprints))))
	if len(m.ledger.Fingerprints) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, f := range m.ledger.Fingerprints {
		ts := timeStyle.Render(f.RecordedAt.Local().Format("15:04:05"))
		action := f.AfterAction
		if action == "" {
			action = "-"
		}
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n", ts, shortHash(f.Hash), dimStyle.Render(action)))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	events := make([]timelineEvent, len(m.timeline))
	copy(events, m.timeline)
	if m.sortAsc {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.Before(events[j].ts) })
	} else {
		sort.SliceStable(events, func(i, j int) bool { return events[i].ts.After(events[j].ts) })
	}

	if len(events) == 0 {
		sb.WriteString(dimStyle.Render("  (no events in this session)") + "\n")
		return sb.String()
	}

	for _, ev := range events {
		ts := timeStyle.Render(ev.ts.Local().Format("15:04:05"))
		var style lipgloss.Style
		switch ev.kind {
		case kindDirective:
			style = infoStyle
		case kindCompleted:
			style = passStyle
		case kindAttempt:
			style = failStyle
		default:
			style = dimStyle
		}
		sb.WriteString(ts + style.Render(fmt.Sprintf("  %-8s", string(ev.kind))) + "  " + ev.text + "\n\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func buildTimeline(l *ledger.Ledger) []timelineEvent {
	var events []timelineEvent
	for _, d := range l.Directives {
		events = append(events, timelineEvent{ts: d.CreatedAt, kind: kindDirective, text: firstLine(d.Text)})
		if d.CompletedAt != nil {
			events = append(events, timelineEvent{ts: *d.CompletedAt, kind: kindCompleted, text: firstLine(d.Text)})
		}
	}
	for _, a := range l.StopAttempts {
		events = append(events, timelineEvent{ts: a.Timestamp, kind: kindAttempt, text: string(a.Verdict) + ": " + firstLine(a.Reason)})
	}
	for _, f := range l.Fingerprints {
		events = append(events, timelineEvent{ts: f.RecordedAt, kind: kindFingerprint, text: shortHash(f.Hash) + " " + f.AfterAction})
	}
	return events
}

func statusStyle(s ledger.DirectiveStatus) lipgloss.Style {
	switch s {
	case ledger.StatusActive:
		return infoStyle
	case ledger.StatusCompleted:
		return passStyle
	}
	return dimStyle
}

func verdictStyle(v ledger.AttemptVerdict) lipgloss.Style {
	switch v {
	case ledger.VerdictComplete:
		return passStyle
	case ledger.VerdictIncomplete:
		return failStyle
	case ledger.VerdictBlocked:
		return blockedStyle
	}
	return dimStyle
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	if h == "" {
		return "-"
	}
	return h
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

func indent(s, prefix string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = prefix + l
		}
	}
	return strings.Join(lines, "\n")
}

// Run starts the TUI for the given ledger.
func Run(l *ledger.Ledger, diag Diagnostics, source string) error {
	p := tea.NewProgram(New(l, diag, source), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
