// Package main – admin subcommand: live status table rendered with bubbletea + lipgloss.
package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	kvhttp "github.com/i-melnichenko/kvelldb/internal/transport/http/kv"
)

const adminRefreshInterval = 500 * time.Millisecond

// ---- Data types -------------------------------------------------------------

type adminTarget struct {
	addr   string
	client *kvhttp.Client
}

type adminRow struct {
	addr        string
	nodeID      string
	serving     bool
	logStatus   string
	commit      int64
	lastApplied int64
	applied     uint64
	keys        int
	waiters     int
	rate        float64 // applied commands per second since the previous poll
	err         string
}

// ---- Bubbletea messages -----------------------------------------------------

type tickMsg time.Time

type rowsMsg struct {
	rows []adminRow
	ts   time.Time
}

// ---- Lipgloss styles --------------------------------------------------------

type uiStyles struct {
	dotServing  lipgloss.Style
	dotDegraded lipgloss.Style
	dotUnavail  lipgloss.Style
	dotSelected lipgloss.Style
	addr        lipgloss.Style
	nodeID      lipgloss.Style
	metric      lipgloss.Style
	rate        lipgloss.Style
	waiters     lipgloss.Style
	tableHeader lipgloss.Style
	appHeader   lipgloss.Style
	tsStyle     lipgloss.Style
	footer      lipgloss.Style
	divider     lipgloss.Style
	alertsHdr   lipgloss.Style
	errorDot    lipgloss.Style
	alertKind   lipgloss.Style
	sumDim      lipgloss.Style
	sumServing  lipgloss.Style
	sumErrors   lipgloss.Style
}

var styles = buildStyles()

func buildStyles() uiStyles {
	// "1"=red  "2"=green  "3"=yellow  "5"=magenta  "6"=cyan  "7"=white  "8"=bright-black
	return uiStyles{
		dotServing:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2")),
		dotDegraded: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		dotUnavail:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		dotSelected: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		addr:        lipgloss.NewStyle().Faint(true).Foreground(lipgloss.Color("6")),
		nodeID:      lipgloss.NewStyle().Bold(true),
		metric:      lipgloss.NewStyle().Faint(true),
		rate:        lipgloss.NewStyle().Foreground(lipgloss.Color("5")),
		waiters:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		tableHeader: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7")).Background(lipgloss.Color("8")),
		appHeader:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6")),
		tsStyle:     lipgloss.NewStyle().Faint(true),
		footer:      lipgloss.NewStyle().Faint(true),
		divider:     lipgloss.NewStyle().Faint(true),
		alertsHdr:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("3")),
		errorDot:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1")),
		alertKind:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
		sumDim:      lipgloss.NewStyle().Faint(true),
		sumServing:  lipgloss.NewStyle().Foreground(lipgloss.Color("2")),
		sumErrors:   lipgloss.NewStyle().Foreground(lipgloss.Color("1")),
	}
}

// ---- Column widths ----------------------------------------------------------

type adminColWidths struct {
	addr int
	node int
}

// Fixed columns: ST(2) LOG(8) COMMIT(8) LAST(8) APPLIED(8) KEYS(6) WAIT(4) RATE(8) plus 9 separators.
const adminFixedWidth = 2 + 8 + 8 + 8 + 8 + 6 + 4 + 8 + 9

// adminColumnsForWidth sizes ADDR and NODE to their content, then stretches
// or shrinks ADDR to fill contentWidth.
func adminColumnsForWidth(rows []adminRow, contentWidth int) adminColWidths {
	maxAddr, maxNode := len("ADDR"), len("NODE")
	for _, r := range rows {
		maxAddr = maxInt(maxAddr, len(r.addr))
		maxNode = maxInt(maxNode, len(r.nodeID))
	}
	col := adminColWidths{
		addr: clampInt(maxAddr, 8, 28),
		node: clampInt(maxNode, 4, 12),
	}

	spare := contentWidth - adminFixedWidth - col.addr - col.node
	if spare < 0 {
		col.addr = maxInt(4, col.addr+spare)
		return col
	}
	col.addr += minInt(spare, 8)
	return col
}

// ---- Cell renderers ---------------------------------------------------------

func renderStatusDot(r adminRow, selected bool) string {
	switch {
	case selected:
		return styles.dotSelected.Render("▶") + " "
	case r.err != "":
		return styles.dotUnavail.Render("●") + " "
	case r.serving:
		return styles.dotServing.Render("●") + " "
	default:
		return styles.dotDegraded.Render("●") + " "
	}
}

func makeTableRow(r adminRow, cols adminColWidths, selected bool) string {
	addr := styles.addr.Render(fmt.Sprintf("%-*s", cols.addr, shorten(r.addr, cols.addr)))
	if r.err != "" {
		return renderStatusDot(r, selected) + " " + addr + " " +
			fmt.Sprintf("%-*s %-8s %8s %8s %8s %6s %4s %8s", cols.node, "-", "-", "-", "-", "-", "-", "-", "-")
	}

	waiters := fmt.Sprintf("%4d", r.waiters)
	if r.waiters > 0 {
		waiters = styles.waiters.Render(waiters)
	} else {
		waiters = styles.metric.Render(waiters)
	}
	return renderStatusDot(r, selected) + " " + addr +
		" " + styles.nodeID.Render(fmt.Sprintf("%-*s", cols.node, shorten(r.nodeID, cols.node))) +
		" " + renderLogStatus(r.logStatus) +
		" " + styles.metric.Render(fmt.Sprintf("%8d", r.commit)) +
		" " + styles.metric.Render(fmt.Sprintf("%8d", r.lastApplied)) +
		" " + styles.metric.Render(fmt.Sprintf("%8d", r.applied)) +
		" " + styles.metric.Render(fmt.Sprintf("%6d", r.keys)) +
		" " + waiters +
		" " + styles.rate.Render(fmt.Sprintf("%8.1f", r.rate))
}

func renderLogStatus(status string) string {
	padded := fmt.Sprintf("%-8s", shorten(status, 8))
	switch status {
	case "healthy":
		return styles.dotServing.Render(padded)
	case "":
		return styles.metric.Render(fmt.Sprintf("%-8s", "-"))
	default:
		return styles.dotDegraded.Render(padded)
	}
}

func renderHeader(cols adminColWidths, contentWidth int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%-2s", "ST")
	fmt.Fprintf(&b, " %-*s", cols.addr, "ADDR")
	fmt.Fprintf(&b, " %-*s", cols.node, "NODE")
	fmt.Fprintf(&b, " %-8s %8s %8s %8s %6s %4s %8s", "LOG", "COMMIT", "LAST", "APPLIED", "KEYS", "WAIT", "CMD/S")
	return styles.tableHeader.Width(contentWidth).MaxWidth(contentWidth).Render(b.String())
}

func renderSummary(rows []adminRow) string {
	serving, errorsN := 0, 0
	for _, r := range rows {
		switch {
		case r.err != "":
			errorsN++
		case r.serving:
			serving++
		}
	}
	bracket := func(st lipgloss.Style, label string, n int) string {
		d := styles.sumDim
		return d.Render("[") + st.Render(fmt.Sprintf("%d", n)) + d.Render(" "+label+"]")
	}
	return strings.Join([]string{
		bracket(lipgloss.NewStyle(), "total", len(rows)),
		bracket(styles.sumServing, "serving", serving),
		bracket(styles.sumErrors, "errors", errorsN),
	}, " ")
}

// buildAlertLines lists unreachable nodes and nodes that stopped accepting
// commands.
func buildAlertLines(rows []adminRow, contentWidth int) []string {
	var lines []string
	for _, r := range rows {
		switch {
		case r.err != "":
			lines = append(lines, fmt.Sprintf("%s %s %s %s",
				styles.errorDot.Render("●"),
				r.addr,
				styles.alertKind.Render("UNREACHABLE"),
				shorten(errorSummary(r.err), maxInt(20, contentWidth-32)),
			))
		case !r.serving:
			reason := "node stopping"
			if r.logStatus == "degraded" {
				reason = "log storage degraded, writes rejected"
			}
			lines = append(lines, fmt.Sprintf("%s %s %s %s",
				styles.dotDegraded.Render("●"),
				r.addr,
				styles.alertKind.Render("NOT_SERVING"),
				reason,
			))
		}
	}
	return lines
}

// ---- Bubbletea model --------------------------------------------------------

type adminModel struct {
	rows       []adminRow
	prev       map[string]adminRow
	ts         time.Time
	targets    []adminTarget
	timeout    time.Duration
	width      int
	height     int
	cursor     int
	scrollOff  int
	selectedID string
	cols       adminColWidths
}

func newAdminModel(targets []adminTarget, timeout time.Duration) adminModel {
	return adminModel{
		targets: targets,
		timeout: timeout,
		width:   100,
		height:  30,
	}
}

func (m adminModel) Init() tea.Cmd {
	// rowsMsg schedules the next tick, so exactly one poll is in flight.
	return m.pollCmd()
}

func (m adminModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.recalcCols()
		return m, nil

	case tickMsg:
		return m, m.pollCmd()

	case rowsMsg:
		withRates(msg.rows, m.prev, msg.ts.Sub(m.ts))
		m.prev = indexRows(msg.rows)
		m.rows = msg.rows
		m.ts = msg.ts
		m.recalcCols()
		m.restoreSelection()
		return m, tea.Tick(adminRefreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "up", "k":
			m.moveCursor(-1)
		case "down", "j":
			m.moveCursor(1)
		}
	}
	return m, nil
}

func (m adminModel) View() string {
	contentWidth := m.contentWidth()
	var b strings.Builder

	b.WriteString("  ")
	b.WriteString(styles.appHeader.Render("kvelldb status"))
	b.WriteString("  ")
	b.WriteString(styles.tsStyle.Render(m.ts.Format(time.RFC3339)))
	b.WriteString("\n")
	b.WriteString(renderSummary(m.rows))
	b.WriteString("\n\n")

	b.WriteString(renderHeader(m.cols, contentWidth))
	b.WriteString("\n")
	end := minInt(m.scrollOff+m.visibleRowCount(), len(m.rows))
	for i := m.scrollOff; i < end; i++ {
		b.WriteString(makeTableRow(m.rows[i], m.cols, i == m.cursor))
		b.WriteString("\n")
	}

	if alerts := buildAlertLines(m.rows, contentWidth); len(alerts) > 0 {
		b.WriteString(styles.divider.Render(strings.Repeat("-", contentWidth)))
		b.WriteString("\n")
		b.WriteString(styles.alertsHdr.Render("Alerts"))
		b.WriteString("\n")
		for _, line := range alerts {
			b.WriteString(line)
			b.WriteString("\n")
		}
	}

	b.WriteString("\n  ")
	b.WriteString(styles.footer.Render("↑/↓ select · q to exit"))

	// Pad to the terminal height so a shorter frame overwrites the previous one.
	out := b.String()
	if m.height > 0 {
		lines := strings.Split(out, "\n")
		for len(lines) < m.height {
			lines = append(lines, "")
		}
		return strings.Join(lines, "\n")
	}
	return out
}

// ---- Model helpers ----------------------------------------------------------

func (m adminModel) contentWidth() int {
	if w := m.width - 2; w > 0 {
		return w
	}
	return 80
}

func (m *adminModel) recalcCols() {
	m.cols = adminColumnsForWidth(m.rows, m.contentWidth())
}

func (m *adminModel) restoreSelection() {
	for i, r := range m.rows {
		if r.addr == m.selectedID {
			m.cursor = i
			m.clampScroll()
			return
		}
	}
	m.cursor = clampInt(m.cursor, 0, maxInt(0, len(m.rows)-1))
	if len(m.rows) > 0 {
		m.selectedID = m.rows[m.cursor].addr
	}
}

func (m *adminModel) moveCursor(delta int) {
	if len(m.rows) == 0 {
		return
	}
	m.cursor = clampInt(m.cursor+delta, 0, len(m.rows)-1)
	m.clampScroll()
	m.selectedID = m.rows[m.cursor].addr
}

func (m *adminModel) clampScroll() {
	vis := m.visibleRowCount()
	if m.cursor < m.scrollOff {
		m.scrollOff = m.cursor
	} else if m.cursor >= m.scrollOff+vis {
		m.scrollOff = m.cursor - vis + 1
	}
	if m.scrollOff < 0 {
		m.scrollOff = 0
	}
}

func (m adminModel) visibleRowCount() int {
	// title, summary, blank, header, blank, footer, plus divider and alerts header
	return maxInt(2, m.height-8)
}

func (m adminModel) pollCmd() tea.Cmd {
	targets := m.targets
	timeout := m.timeout
	return func() tea.Msg {
		rows := pollAdminRows(context.Background(), targets, timeout)
		return rowsMsg{rows: rows, ts: time.Now()}
	}
}

// ---- Polling ----------------------------------------------------------------

func cmdAdmin(urls []string, timeout time.Duration) error {
	if len(urls) == 0 {
		return fmt.Errorf("no addresses provided")
	}
	targets := make([]adminTarget, 0, len(urls))
	for _, u := range urls {
		targets = append(targets, adminTarget{addr: u, client: kvhttp.NewClient(u, nil)})
	}

	p := tea.NewProgram(newAdminModel(targets, timeout), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func pollAdminRows(ctx context.Context, targets []adminTarget, timeout time.Duration) []adminRow {
	rows := make([]adminRow, len(targets))
	var wg sync.WaitGroup
	wg.Add(len(targets))

	for i, t := range targets {
		go func(i int, t adminTarget) {
			defer wg.Done()
			row := adminRow{addr: t.addr}

			reqCtx, cancel := context.WithTimeout(ctx, timeout)
			st, err := t.client.Status(reqCtx)
			cancel()
			if err != nil {
				row.err = err.Error()
				rows[i] = row
				return
			}
			row.nodeID = st.NodeID
			row.serving = st.IsLeader
			row.lastApplied = int64(st.LastApplied)
			row.applied = st.Applied
			row.keys = st.Keys
			row.waiters = st.PendingWaits
			row.commit = -1

			// Nodes without a log inspector answer 404; the columns stay empty.
			reqCtx, cancel = context.WithTimeout(ctx, timeout)
			ls, err := t.client.LogStats(reqCtx)
			cancel()
			if err == nil {
				row.logStatus = string(ls.Status)
				row.commit = int64(ls.CommitOffset)
			}
			rows[i] = row
		}(i, t)
	}
	wg.Wait()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].nodeID == rows[j].nodeID {
			return rows[i].addr < rows[j].addr
		}
		if rows[i].nodeID == "" {
			return false
		}
		if rows[j].nodeID == "" {
			return true
		}
		return rows[i].nodeID < rows[j].nodeID
	})
	return rows
}

func indexRows(rows []adminRow) map[string]adminRow {
	out := make(map[string]adminRow, len(rows))
	for _, r := range rows {
		out[r.addr] = r
	}
	return out
}

// withRates fills the apply rate of every row from the previous poll.
func withRates(rows []adminRow, prev map[string]adminRow, elapsed time.Duration) {
	if elapsed <= 0 {
		return
	}
	for i := range rows {
		p, ok := prev[rows[i].addr]
		if !ok || rows[i].err != "" || p.err != "" || rows[i].applied < p.applied {
			continue
		}
		rows[i].rate = float64(rows[i].applied-p.applied) / elapsed.Seconds()
	}
}

func errorSummary(err string) string {
	return strings.Join(strings.Fields(err), " ")
}

func shorten(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
