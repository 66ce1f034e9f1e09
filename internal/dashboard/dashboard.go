// Package dashboard is the terminal view of live auctions, with a second
// tab showing the process log.
package dashboard

import (
	"bytes"
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Martin-Hayot/auction-house/pkg/types"
	"github.com/Martin-Hayot/auction-house/pkg/utils"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/log"
)

var (
	helpStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	baseStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.NormalBorder()).
			BorderForeground(lipgloss.Color("240"))
)

const (
	refreshEvery = 5 * time.Second
	logLines     = 15
)

// shown is the order auctions appear in, live ones first.
var shown = []types.AuctionStatus{types.StatusOnGoing, types.StatusUpComing, types.StatusPending, types.StatusClosed}

type Source interface {
	ListByStatus(ctx context.Context, status types.AuctionStatus) ([]types.Auction, error)
	HighestBid(ctx context.Context, auctionID string) (*types.Bid, error)
}

// LogBuffer collects log output while the dashboard owns the terminal.
type LogBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *LogBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *LogBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimRight(b.buf.String(), "\n"), "\n")
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Every(refreshEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

type Model struct {
	source    Source
	table     table.Model
	viewport  viewport.Model
	logBuffer *LogBuffer
	logs      []string
	showTable bool
	quitting  bool
	now       func() time.Time
}

func New(source Source, logBuffer *LogBuffer) Model {
	columns := []table.Column{
		{Title: "AUCTION ID", Width: 36},
		{Title: "STATUS", Width: 10},
		{Title: "HIGHEST BID", Width: 24},
		{Title: "WINNER ID", Width: 20},
		{Title: "TIME LEFT", Width: 16},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithRows([]table.Row{}),
		table.WithFocused(true),
		table.WithHeight(10),
	)

	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	vp := viewport.New(100, logLines)
	vp.Style = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		PaddingRight(2)

	m := Model{source: source, table: t, viewport: vp, logBuffer: logBuffer, showTable: true, now: time.Now}
	m.table.SetRows(m.rows())
	return m
}

func (m Model) Init() tea.Cmd {
	return tick()
}

func (m Model) rows() []table.Row {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	rows := make([]table.Row, 0)
	for _, status := range shown {
		auctions, err := m.source.ListByStatus(ctx, status)
		if err != nil {
			log.Error("error getting auctions", "status", status, "err", err)
			continue
		}
		for _, auction := range auctions {
			rows = append(rows, m.row(ctx, auction))
		}
	}
	return rows
}

func (m Model) row(ctx context.Context, auction types.Auction) table.Row {
	highest := "-"
	if bid, err := m.source.HighestBid(ctx, auction.ID); err == nil && bid != nil {
		highest = bid.Amount.StringFixed(2) + " by " + bid.BidderID
	}

	winner := "-"
	if auction.WinningBidderID != nil {
		winner = *auction.WinningBidderID
	}

	timeLeft := "-"
	switch {
	case auction.Status == types.StatusClosed:
		timeLeft = "Ended"
	case auction.Status == types.StatusUpComing:
		timeLeft = "starts in " + auction.StartDate.Sub(m.now()).Round(time.Second).String()
	case auction.EndDate != nil:
		left := auction.EndDate.Sub(m.now())
		if left < 0 {
			timeLeft = "Ended"
		} else {
			timeLeft = left.Round(time.Second).String()
		}
	}

	return table.Row{auction.ID, string(auction.Status), highest, winner, timeLeft}
}

// refreshLogs loads the tail of the log buffer and pins the view to it.
func (m Model) refreshLogs() Model {
	if m.logBuffer == nil {
		return m
	}
	lines := m.logBuffer.Lines()
	if len(lines) > logLines {
		lines = lines[len(lines)-logLines:]
	}
	m.logs = utils.ColorizeLogs(lines)
	m.viewport.SetContent(strings.Join(m.logs, "\n"))
	m.viewport.GotoBottom()
	return m
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var (
		cmd  tea.Cmd
		cmds []tea.Cmd
	)
	switch msg := msg.(type) {
	case tickMsg:
		if m.showTable {
			m.table.SetRows(m.rows())
		} else {
			m = m.refreshLogs()
		}
		cmds = append(cmds, tick())

	case tea.KeyMsg:
		switch msg.String() {
		case "up":
			if !m.showTable {
				m.viewport.LineUp(1)
			}
		case "down":
			if !m.showTable {
				m.viewport.LineDown(1)
			}
		case "tab":
			m.showTable = !m.showTable
			if !m.showTable {
				m = m.refreshLogs()
			}
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}
	}

	if m.showTable {
		m.table, cmd = m.table.Update(msg)
	} else {
		m.viewport, cmd = m.viewport.Update(msg)
	}
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m Model) View() string {
	if m.quitting {
		return "Bye!\n"
	}
	if m.showTable {
		return baseStyle.Render(m.table.View()) + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
	}
	return m.viewport.View() + "\n" + helpStyle.Render("• tab: switch modes • q: exit\n")
}

// Run takes over the terminal until the user quits.
func Run(source Source, logBuffer *LogBuffer) error {
	p := tea.NewProgram(New(source, logBuffer), tea.WithAltScreen(), tea.WithMouseCellMotion())
	_, err := p.Run()
	return err
}
