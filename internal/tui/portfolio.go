package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/shopspring/decimal"

	"github.com/jonandersen/apca/internal/output"
)

// fetchTimeout bounds each background REST call.
const fetchTimeout = 30 * time.Second

// PortfolioState represents the loading state of portfolio data.
type PortfolioState int

const (
	PortfolioStateLoading PortfolioState = iota
	PortfolioStateLoaded
	PortfolioStateError
)

// PortfolioModel holds the state for the portfolio view.
type PortfolioModel struct {
	State       PortfolioState
	Data        Portfolio
	Err         error
	LastUpdated time.Time
	Table       table.Model
}

// NewPortfolioModel creates a new portfolio model.
func NewPortfolioModel() *PortfolioModel {
	cols := []table.Column{
		{Title: "Symbol", Width: 10},
		{Title: "Qty", Width: 8},
		{Title: "Avg Entry", Width: 10},
		{Title: "Price", Width: 10},
		{Title: "Value", Width: 12},
		{Title: "Unreal. P/L", Width: 12},
		{Title: "P/L %", Width: 8},
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(TableStyles())

	return &PortfolioModel{
		State: PortfolioStateLoading,
		Table: t,
	}
}

// SetHeight sets the table height.
func (m *PortfolioModel) SetHeight(height int) {
	m.Table.SetHeight(height)
}

// Update handles messages for the portfolio view.
func (m *PortfolioModel) Update(msg tea.Msg) (*PortfolioModel, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case PortfolioLoadedMsg:
		m.State = PortfolioStateLoaded
		m.Data = msg.Portfolio
		m.LastUpdated = time.Now()
		m.Err = nil
		m.updateTable()
		return m, nil

	case PortfolioErrorMsg:
		m.State = PortfolioStateError
		m.Err = msg.Err
		return m, nil
	}

	m.Table, cmd = m.Table.Update(msg)
	return m, cmd
}

// updateTable updates the table rows from portfolio data.
func (m *PortfolioModel) updateTable() {
	rows := make([]table.Row, 0, len(m.Data.Positions))
	for _, pos := range m.Data.Positions {
		rows = append(rows, table.Row{
			pos.Symbol,
			pos.Qty.String(),
			"$" + output.Decimal(pos.AvgEntryPrice),
			"$" + output.Decimal(pos.CurrentPrice),
			"$" + output.Decimal(pos.MarketValue),
			output.GainLoss(pos.UnrealizedPL),
			percentOf(pos.UnrealizedPL, pos.CostBasis),
		})
	}
	m.Table.SetRows(rows)
}

// percentOf formats part as a percentage of whole, "-" when whole is zero.
func percentOf(part, whole decimal.Decimal) string {
	if whole.IsZero() {
		return "-"
	}
	return part.Div(whole.Abs()).Mul(decimal.NewFromInt(100)).StringFixed(2) + "%"
}

// unrealized sums the unrealized P/L of all positions.
func (p Portfolio) unrealized() decimal.Decimal {
	total := decimal.Zero
	for _, pos := range p.Positions {
		total = total.Add(pos.UnrealizedPL)
	}
	return total
}

// View renders the portfolio view.
func (m *PortfolioModel) View() string {
	var b strings.Builder

	switch m.State {
	case PortfolioStateLoading:
		b.WriteString("Loading portfolio...")
		return b.String()

	case PortfolioStateError:
		b.WriteString(errorLine(m.Err))
		b.WriteString("\n\nPress 'r' to retry")
		return b.String()

	case PortfolioStateLoaded:
		b.WriteString(SummaryStyle.Render("Account Summary"))
		b.WriteString("\n")

		p := m.Data
		if acct := p.Account; acct != nil {
			pl := p.unrealized()

			b.WriteString(field("Portfolio Value", "$"+output.Decimal(acct.PortfolioValue)))
			b.WriteString("  ")
			b.WriteString(field("Cash", "$"+output.Decimal(acct.Cash)))
			b.WriteString("  ")
			b.WriteString(LabelStyle.Render("Unrealized P/L: "))
			b.WriteString(gainLoss(pl))
			b.WriteString("\n")

			b.WriteString(field("Buying Power", "$"+output.Decimal(acct.BuyingPower)))
			b.WriteString("  ")
			b.WriteString(field("Day Trades", fmt.Sprintf("%d", acct.DaytradeCount)))
			if acct.TradingBlocked {
				b.WriteString("  ")
				b.WriteString(WarningStyle.Render("TRADING BLOCKED"))
			}
			b.WriteString("\n\n")
		}

		if len(p.Positions) == 0 {
			b.WriteString(LabelStyle.Render("No positions"))
		} else {
			b.WriteString(SummaryStyle.Render("Positions"))
			b.WriteString(LabelStyle.Render(fmt.Sprintf(" (%d)", len(p.Positions))))
			b.WriteString("\n")
			b.WriteString(m.Table.View())
		}

		b.WriteString("\n")
		b.WriteString(LabelStyle.Render(fmt.Sprintf("Updated: %s", m.LastUpdated.Format("3:04:05 PM"))))
	}

	return b.String()
}

// FetchPortfolio returns a command that fetches the account and positions.
func FetchPortfolio(backend Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		acct, err := backend.GetAccount(ctx)
		if err != nil {
			return PortfolioErrorMsg{Err: fmt.Errorf("failed to fetch account: %w", err)}
		}
		positions, err := backend.ListPositions(ctx)
		if err != nil {
			return PortfolioErrorMsg{Err: fmt.Errorf("failed to fetch positions: %w", err)}
		}
		return PortfolioLoadedMsg{Portfolio: Portfolio{Account: acct, Positions: positions}}
	}
}
