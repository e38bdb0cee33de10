// Package tui renders the live consensus dashboard.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"consensus-observer/internal/consensus"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	cstypes "github.com/cometbft/cometbft/consensus/types"
	"github.com/mattn/go-runewidth"
)

// quorum is the voting power share a phase needs to complete.
const quorum = 200.0 / 3

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	quorumStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	pendingStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

func padToWidth(s string, width int) string {
	current := runewidth.StringWidth(s)
	if current >= width {
		return s
	}
	return s + strings.Repeat(" ", width-current)
}

func truncateToWidth(s string, width int) string {
	if width <= 0 {
		return ""
	}
	if runewidth.StringWidth(s) <= width {
		return s
	}
	if width <= 3 {
		return runewidth.Truncate(s, width, "")
	}
	return runewidth.Truncate(s, width, "...")
}

func separatorLine(width int) string {
	if width < 2 {
		return strings.Repeat("─", width)
	}
	return "├" + strings.Repeat("─", width-2) + "┤"
}

func formatInfoLine(text string, width int) string {
	if width < 2 {
		return padToWidth(text, width)
	}
	return "│" + padToWidth(truncateToWidth(text, width-2), width-2) + "│"
}

// ChainInfo is the node and chain status shown next to the round.
type ChainInfo struct {
	ChainID         string
	NodeVersion     string
	CatchingUp      bool
	LatestHeight    int64
	LatestBlockTime time.Time
	UpgradeName     string // empty when no upgrade is scheduled
	UpgradeHeight   int64
	Err             error // last refresh failure
}

// VoteStatus represents the status of a vote
type VoteStatus int

const (
	VoteStatusNone  VoteStatus = iota // No vote
	VoteStatusNil                     // Vote for no block
	VoteStatusValid                   // Vote for a block
)

// StatusOf classifies a vote payload from a consensus snapshot.
func StatusOf(payload string) VoteStatus {
	if !consensus.Voted(payload) {
		return VoteStatusNone
	}
	if strings.Trim(payload, "0") == "" {
		return VoteStatusNil
	}
	return VoteStatusValid
}

// SnapshotMsg carries a new consensus snapshot.
type SnapshotMsg struct {
	Snapshot consensus.Snapshot
}

// ChainMsg carries refreshed chain info.
type ChainMsg struct {
	Chain ChainInfo
}

// Model holds the TUI state
type Model struct {
	snapshot  consensus.Snapshot
	hasRound  bool
	chain     ChainInfo
	updatedAt time.Time
	width     int
	height    int
	noEmoji   bool
}

// Option configures a Model.
type Option func(*Model)

// WithoutEmoji switches vote markers to ASCII and reduces monikers to plain
// text, for terminals where emoji break the grid.
func WithoutEmoji(on bool) Option {
	return func(m *Model) { m.noEmoji = on }
}

// NewModel creates a new TUI model
func NewModel(opts ...Option) Model {
	var m Model
	for _, opt := range opts {
		opt(&m)
	}
	return m
}

// plainMoniker keeps ASCII letters, digits, spaces and "_-&".
func plainMoniker(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-', r == '&':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SnapshotMsg:
		m.snapshot = msg.Snapshot
		m.hasRound = true
		m.updatedAt = time.Now()
		return m, nil

	case ChainMsg:
		m.chain = msg.Chain
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}

	return m, nil
}

// View renders the UI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}
	if !m.hasRound {
		return "Waiting for consensus state..."
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.renderHeader(), m.renderValidators())
}

func stepName(step int) string {
	name := cstypes.RoundStepType(step).String()
	return strings.TrimPrefix(name, "RoundStep")
}

func progressBar(label string, pct float64, width int) string {
	prefix := fmt.Sprintf("%-10s ", label)
	suffix := fmt.Sprintf(" %6.2f%%", pct)
	barWidth := width - runewidth.StringWidth(prefix) - runewidth.StringWidth(suffix) - 2
	if barWidth < 1 {
		return truncateToWidth(prefix+suffix, width)
	}
	filled := int(pct / 100 * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	if filled < 0 {
		filled = 0
	}
	style := pendingStyle
	if pct >= quorum {
		style = quorumStyle
	}
	bar := style.Render(strings.Repeat("█", filled)) + strings.Repeat("░", barWidth-filled)
	return prefix + "[" + bar + "]" + suffix
}

// renderHeader renders the top header section
func (m Model) renderHeader() string {
	// Three columns, the last one takes the remainder
	colWidth := (m.width - 4) / 3
	rightColWidth := m.width - colWidth*2 - 4
	s := m.snapshot

	proposer := s.Proposer
	for _, v := range s.Validators {
		if v.Address == s.Proposer {
			proposer = m.moniker(v)
			break
		}
	}
	if proposer == "" {
		proposer = "N/A"
	}

	leftLines := []string{
		titleStyle.Render(fmt.Sprintf("height=%d round=%d", s.Height, s.Round)),
		fmt.Sprintf("step: %s", stepName(s.Step)),
		fmt.Sprintf("proposer: %s", proposer),
		fmt.Sprintf("online: %d/%d", s.OnlineValidators, len(s.Validators)),
	}

	chainLine := "chain id: N/A"
	if m.chain.ChainID != "" {
		chainLine = fmt.Sprintf("chain id: %s", m.chain.ChainID)
	}
	versionLine := "cometbft version: N/A"
	if m.chain.NodeVersion != "" {
		versionLine = fmt.Sprintf("cometbft version: %s", m.chain.NodeVersion)
	}
	syncLine := fmt.Sprintf("latest block: %d", m.chain.LatestHeight)
	if m.chain.CatchingUp {
		syncLine = warnStyle.Render(fmt.Sprintf("catching up: %d", m.chain.LatestHeight))
	}
	upgradeLine := "upgrade: none scheduled"
	if m.chain.UpgradeName != "" {
		upgradeLine = fmt.Sprintf("upgrade: %s at %d", m.chain.UpgradeName, m.chain.UpgradeHeight)
		if m.chain.LatestHeight > 0 && m.chain.UpgradeHeight > m.chain.LatestHeight {
			upgradeLine += fmt.Sprintf(" (in %d)", m.chain.UpgradeHeight-m.chain.LatestHeight)
		}
	}
	middleLines := []string{chainLine, versionLine, syncLine, upgradeLine}
	if m.chain.Err != nil {
		middleLines = append(middleLines, warnStyle.Render("chain info: "+m.chain.Err.Error()))
	}

	rightLines := []string{
		progressBar("prevotes", s.PrevotePercent, rightColWidth-2),
		progressBar("precommits", s.PrecommitPercent, rightColWidth-2),
		"",
		fmt.Sprintf("updated: %s", m.updatedAt.Format("15:04:05")),
	}

	maxLines := len(leftLines)
	if len(middleLines) > maxLines {
		maxLines = len(middleLines)
	}
	if len(rightLines) > maxLines {
		maxLines = len(rightLines)
	}

	cell := func(lines []string, i, width int) string {
		text := ""
		if i < len(lines) {
			text = lines[i]
		}
		w := lipgloss.Width(text)
		if w > width {
			text = truncateToWidth(text, width)
			w = lipgloss.Width(text)
		}
		return text + strings.Repeat(" ", width-w)
	}

	var rows []string
	for i := 0; i < maxLines; i++ {
		rows = append(rows, fmt.Sprintf("│ %s │ %s │ %s │",
			cell(leftLines, i, colWidth-2),
			cell(middleLines, i, colWidth-2),
			cell(rightLines, i, rightColWidth-2)))
	}

	topBorder := fmt.Sprintf("┌%s┬%s┬%s┐",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	separator := fmt.Sprintf("├%s┴%s┴%s┤",
		strings.Repeat("─", colWidth),
		strings.Repeat("─", colWidth),
		strings.Repeat("─", rightColWidth))

	return topBorder + "\n" + strings.Join(rows, "\n") + "\n" + separator
}

// renderValidators renders the validator grid
func (m Model) renderValidators() string {
	validators := m.snapshot.Validators
	if len(validators) == 0 {
		return formatInfoLine("no validators loaded", m.width)
	}

	// Header takes about 7 lines
	availableHeight := m.height - 7
	maxRows := availableHeight - 3
	if maxRows <= 0 {
		return ""
	}

	cols := 4
	borderWidth := runewidth.StringWidth("│") * 2
	separatorsWidth := runewidth.StringWidth("│") * (cols - 1)
	colWidth := (m.width - borderWidth - separatorsWidth) / cols
	if colWidth < 20 {
		colWidth = 20
	}

	rows := (len(validators) + cols - 1) / cols
	if rows > maxRows {
		rows = maxRows
	}

	var lines []string
	for row := 0; row < rows; row++ {
		cells := make([]string, 0, cols)
		for col := 0; col < cols; col++ {
			idx := row*cols + col
			if idx >= len(validators) {
				cells = append(cells, strings.Repeat(" ", colWidth))
				continue
			}
			val := validators[idx]
			moniker := m.moniker(val)
			prefix := fmt.Sprintf("%3d %6.2f%% %s %s ", idx+1, val.PowerShare,
				m.voteSymbol(StatusOf(val.Prevote)), m.voteSymbol(StatusOf(val.Precommit)))
			avail := colWidth - runewidth.StringWidth(prefix)
			cells = append(cells, padToWidth(prefix+truncateToWidth(moniker, avail), colWidth))
		}
		line := "│" + strings.Join(cells, "│") + "│"
		if w := runewidth.StringWidth(line); w < m.width {
			line = line[:len(line)-len("│")] + strings.Repeat(" ", m.width-w) + "│"
		}
		lines = append(lines, line)
	}
	if hidden := len(validators) - rows*cols; hidden > 0 {
		lines = append(lines, formatInfoLine(fmt.Sprintf("... %d more validators", hidden), m.width))
	}

	bottomBorder := "└" + strings.Repeat("─", max(m.width-2, 0)) + "┘"
	return strings.Join(lines, "\n") + "\n" + separatorLine(m.width) + "\n" +
		formatInfoLine("ID, Voting Power, PreVote, PreCommit, Moniker", m.width) + "\n" + bottomBorder
}

func (m Model) moniker(v consensus.ValidatorVote) string {
	name := v.Moniker
	if m.noEmoji {
		name = plainMoniker(name)
	}
	if name == "" {
		return v.ShortAddress()
	}
	return name
}

// voteSymbol returns the marker for a vote status
func (m Model) voteSymbol(status VoteStatus) string {
	if m.noEmoji {
		switch status {
		case VoteStatusNil:
			return "[0]"
		case VoteStatusValid:
			return "[V]"
		default:
			return "[X]"
		}
	}
	switch status {
	case VoteStatusNil:
		return "🤷"
	case VoteStatusValid:
		return "✅"
	default:
		return "❌"
	}
}

// Run starts the TUI program and feeds it until both channels close or ctx
// is cancelled.
func Run(ctx context.Context, snapshots <-chan consensus.Snapshot, chain <-chan ChainInfo, opts ...Option) error {
	p := tea.NewProgram(NewModel(opts...), tea.WithAltScreen(), tea.WithContext(ctx))

	go func() {
		for snapshots != nil || chain != nil {
			select {
			case <-ctx.Done():
				return
			case s, ok := <-snapshots:
				if !ok {
					snapshots = nil
					continue
				}
				p.Send(SnapshotMsg{Snapshot: s})
			case c, ok := <-chain:
				if !ok {
					chain = nil
					continue
				}
				p.Send(ChainMsg{Chain: c})
			}
		}
		// Channels closed, quit TUI
		p.Quit()
	}()

	_, err := p.Run()
	if ctx.Err() != nil {
		return nil
	}
	return err
}
