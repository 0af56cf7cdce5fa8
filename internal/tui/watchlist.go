package tui

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jonandersen/apca/pkg/tradeapi"
	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// quoteBuffer bounds the quotes waiting for the UI. Quotes arriving while
// it is full are dropped; the next one for the symbol replaces them anyway.
const quoteBuffer = 256

// WatchlistMode represents the input mode of the watchlist view.
type WatchlistMode int

const (
	WatchlistModeNormal WatchlistMode = iota
	WatchlistModeAdding
	WatchlistModeDeleting
)

// WatchlistModel holds the state for the watchlist view.
type WatchlistModel struct {
	Symbols      []string
	Quotes       map[string]tradeapi.Quote
	Err          error
	LastUpdated  time.Time
	Table        table.Model
	Mode         WatchlistMode
	AddInput     textinput.Model
	DeleteSymbol string
}

// NewWatchlistModel creates a new watchlist model.
func NewWatchlistModel(symbols []string) *WatchlistModel {
	cols := []table.Column{
		{Title: "Symbol", Width: 10},
		{Title: "Bid", Width: 10},
		{Title: "Ask", Width: 10},
		{Title: "Bid Size", Width: 9},
		{Title: "Ask Size", Width: 9},
		{Title: "Spread", Width: 8},
		{Title: "Time", Width: 10},
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(TableStyles())

	ti := textinput.New()
	ti.Placeholder = "Enter symbol (e.g., AAPL)"
	ti.CharLimit = 10
	ti.Width = 20

	m := &WatchlistModel{
		Symbols:  slices.Clone(symbols),
		Quotes:   make(map[string]tradeapi.Quote),
		Table:    t,
		Mode:     WatchlistModeNormal,
		AddInput: ti,
	}
	m.updateTable()
	return m
}

// SetHeight sets the table height.
func (m *WatchlistModel) SetHeight(height int) {
	m.Table.SetHeight(height)
}

// Update handles messages for the watchlist view.
// Returns the model, command, and whether the event was handled.
func (m *WatchlistModel) Update(msg tea.Msg, feed QuoteFeed, sink stream.Handler[tradeapi.Quote], uiCfg *UIConfig) (*WatchlistModel, tea.Cmd, bool) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case QuoteMsg:
		if !slices.Contains(m.Symbols, msg.Quote.Symbol) {
			return m, nil, true
		}
		m.Quotes[msg.Quote.Symbol] = msg.Quote
		m.LastUpdated = time.Now()
		m.updateTable()
		return m, nil, true

	case WatchlistErrorMsg:
		m.Err = msg.Err
		return m, nil, true

	case WatchlistSavedMsg:
		return m, nil, true

	case tea.KeyMsg:
		switch m.Mode {
		case WatchlistModeAdding:
			switch msg.String() {
			case "enter":
				var cmds []tea.Cmd
				symbol := strings.ToUpper(strings.TrimSpace(m.AddInput.Value()))
				if symbol != "" && !slices.Contains(m.Symbols, symbol) {
					m.Symbols = append(m.Symbols, symbol)
					m.updateTable()
					cmds = append(cmds, m.saveWatchlist(uiCfg), SubscribeQuotes(feed, sink, symbol))
				}
				m.Mode = WatchlistModeNormal
				m.AddInput.Reset()
				return m, tea.Batch(cmds...), true
			case "esc":
				m.Mode = WatchlistModeNormal
				m.AddInput.Reset()
				return m, nil, true
			default:
				m.AddInput, cmd = m.AddInput.Update(msg)
				return m, cmd, true
			}

		case WatchlistModeDeleting:
			switch msg.String() {
			case "y", "Y":
				symbol := m.DeleteSymbol
				m.Symbols = slices.DeleteFunc(m.Symbols, func(s string) bool { return s == symbol })
				delete(m.Quotes, symbol)
				m.updateTable()
				m.Mode = WatchlistModeNormal
				m.DeleteSymbol = ""
				return m, tea.Batch(m.saveWatchlist(uiCfg), UnsubscribeQuotes(feed, symbol)), true
			case "n", "N", "esc":
				m.Mode = WatchlistModeNormal
				m.DeleteSymbol = ""
				return m, nil, true
			}
			return m, nil, true

		case WatchlistModeNormal:
			switch msg.String() {
			case "a":
				m.Mode = WatchlistModeAdding
				m.AddInput.Focus()
				return m, textinput.Blink, true
			case "d", "x":
				if symbol := m.SelectedSymbol(); symbol != "" {
					m.DeleteSymbol = symbol
					m.Mode = WatchlistModeDeleting
				}
				return m, nil, true
			}
		}
	}

	if m.Mode == WatchlistModeNormal {
		m.Table, cmd = m.Table.Update(msg)
		return m, cmd, false
	}

	return m, nil, false
}

func price(p float64) string {
	return "$" + strconv.FormatFloat(p, 'f', 2, 64)
}

// updateTable updates the table rows from watchlist data.
func (m *WatchlistModel) updateTable() {
	rows := make([]table.Row, 0, len(m.Symbols))
	for _, sym := range m.Symbols {
		q, ok := m.Quotes[sym]
		if !ok {
			rows = append(rows, table.Row{sym, "-", "-", "-", "-", "-", "-"})
			continue
		}
		rows = append(rows, table.Row{
			sym,
			price(q.BidPrice),
			price(q.AskPrice),
			strconv.FormatFloat(q.BidSize, 'f', -1, 64),
			strconv.FormatFloat(q.AskSize, 'f', -1, 64),
			strconv.FormatFloat(q.AskPrice-q.BidPrice, 'f', 2, 64),
			q.Timestamp.Local().Format("15:04:05"),
		})
	}
	m.Table.SetRows(rows)
}

// View renders the watchlist view.
func (m *WatchlistModel) View() string {
	var b strings.Builder

	switch m.Mode {
	case WatchlistModeAdding:
		b.WriteString(SummaryStyle.Render("Add Symbol"))
		b.WriteString("\n\n")
		b.WriteString(InputStyle.Render(m.AddInput.View()))
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Press Enter to add, Esc to cancel"))
		return b.String()

	case WatchlistModeDeleting:
		b.WriteString(WarningStyle.Render(fmt.Sprintf("Delete %s from watchlist?", m.DeleteSymbol)))
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Press Y to confirm, N to cancel"))
		return b.String()
	}

	b.WriteString(SummaryStyle.Render("Watchlist"))
	b.WriteString(LabelStyle.Render(fmt.Sprintf(" (%d symbols, live)", len(m.Symbols))))
	b.WriteString("\n\n")

	if m.Err != nil {
		b.WriteString(errorLine(m.Err))
		b.WriteString("\n\n")
	}

	if len(m.Symbols) == 0 {
		b.WriteString(LabelStyle.Render("No symbols in watchlist"))
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Press 'a' to add a symbol"))
		return b.String()
	}

	b.WriteString(m.Table.View())
	b.WriteString("\n")
	if m.LastUpdated.IsZero() {
		b.WriteString(LabelStyle.Render("Waiting for quotes..."))
	} else {
		b.WriteString(LabelStyle.Render(fmt.Sprintf("Updated: %s", m.LastUpdated.Format("3:04:05 PM"))))
	}
	return b.String()
}

// SelectedSymbol returns the currently selected symbol, if any.
func (m *WatchlistModel) SelectedSymbol() string {
	if m.Mode != WatchlistModeNormal {
		return ""
	}
	selectedRow := m.Table.SelectedRow()
	if len(selectedRow) > 0 {
		return selectedRow[0]
	}
	return ""
}

// saveWatchlist returns a command to save the watchlist config.
func (m *WatchlistModel) saveWatchlist(uiCfg *UIConfig) tea.Cmd {
	symbols := slices.Clone(m.Symbols)
	return func() tea.Msg {
		uiCfg.Watchlist = symbols
		if err := uiCfg.Save(); err != nil {
			return WatchlistErrorMsg{Err: fmt.Errorf("failed to save watchlist: %w", err)}
		}
		return WatchlistSavedMsg{}
	}
}

// quoteSink returns a stream handler that hands quotes to ch without
// blocking the stream loop.
func quoteSink(ch chan<- tradeapi.Quote) stream.Handler[tradeapi.Quote] {
	return func(_ context.Context, q tradeapi.Quote) {
		select {
		case ch <- q:
		default:
		}
	}
}

// WaitForQuote returns a command that delivers the next streamed quote.
func WaitForQuote(ch <-chan tradeapi.Quote) tea.Cmd {
	return func() tea.Msg {
		q, ok := <-ch
		if !ok {
			return nil
		}
		return QuoteMsg{Quote: q}
	}
}

// SubscribeQuotes returns a command that adds symbols to the live feed.
func SubscribeQuotes(feed QuoteFeed, sink stream.Handler[tradeapi.Quote], symbols ...string) tea.Cmd {
	return func() tea.Msg {
		if feed == nil || len(symbols) == 0 {
			return nil
		}
		if err := feed.SubscribeQuotes(sink, symbols...); err != nil {
			return WatchlistErrorMsg{Err: fmt.Errorf("failed to subscribe: %w", err)}
		}
		return nil
	}
}

// UnsubscribeQuotes returns a command that removes symbols from the feed.
func UnsubscribeQuotes(feed QuoteFeed, symbols ...string) tea.Cmd {
	return func() tea.Msg {
		if feed == nil {
			return nil
		}
		if err := feed.UnsubscribeQuotes(symbols...); err != nil {
			return WatchlistErrorMsg{Err: fmt.Errorf("failed to unsubscribe: %w", err)}
		}
		return nil
	}
}
