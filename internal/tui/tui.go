// Package tui implements the interactive terminal dashboard: portfolio,
// live watchlist and open orders.
package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/jonandersen/apca/pkg/tradeapi"
	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// View represents the current active view in the TUI.
type View int

const (
	ViewPortfolio View = iota
	ViewWatchlist
	ViewOrders
)

// Model is the main bubbletea model for the TUI.
type Model struct {
	currentView View
	width       int
	height      int
	ready       bool

	backend        Backend
	feed           QuoteFeed
	uiCfg          *UIConfig
	paper          bool
	tradingEnabled bool

	quotes chan tradeapi.Quote
	sink   stream.Handler[tradeapi.Quote]

	// Child view models
	portfolio *PortfolioModel
	watchlist *WatchlistModel
	orders    *OrdersModel

	// Refresh settings
	refreshInterval time.Duration
}

// New creates a new TUI model.
func New(opts Options) Model {
	uiCfg := opts.UI
	if uiCfg == nil {
		uiCfg = &UIConfig{}
	}
	quotes := make(chan tradeapi.Quote, quoteBuffer)
	return Model{
		currentView:     ViewPortfolio,
		backend:         opts.Backend,
		feed:            opts.Feed,
		uiCfg:           uiCfg,
		paper:           opts.Paper,
		tradingEnabled:  opts.TradingEnabled,
		quotes:          quotes,
		sink:            quoteSink(quotes),
		portfolio:       NewPortfolioModel(),
		watchlist:       NewWatchlistModel(uiCfg.Watchlist),
		orders:          NewOrdersModel(),
		refreshInterval: 30 * time.Second,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		FetchPortfolio(m.backend),
		FetchOrders(m.backend),
		SubscribeQuotes(m.feed, m.sink, m.watchlist.Symbols...),
		WaitForQuote(m.quotes),
		m.tickCmd(),
	)
}

// tickCmd returns a command that sends a tick message after the refresh interval.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		// Input modes consume all keys.
		if m.currentView == ViewWatchlist && m.watchlist.Mode != WatchlistModeNormal {
			m.watchlist, cmd, _ = m.watchlist.Update(msg, m.feed, m.sink, m.uiCfg)
			return m, cmd
		}
		if m.currentView == ViewOrders && m.orders.Mode != OrdersModeNormal {
			m.orders, cmd, _ = m.orders.Update(msg, m.backend, m.tradingEnabled)
			return m, cmd
		}

		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "esc":
			return m, nil
		case "1":
			m.currentView = ViewPortfolio
		case "2":
			m.currentView = ViewWatchlist
		case "3":
			m.currentView = ViewOrders
		case "r":
			switch m.currentView {
			case ViewPortfolio:
				m.portfolio.State = PortfolioStateLoading
				cmds = append(cmds, FetchPortfolio(m.backend))
			case ViewWatchlist:
				m.watchlist.Err = nil
				cmds = append(cmds, SubscribeQuotes(m.feed, m.sink, m.watchlist.Symbols...))
			case ViewOrders:
				m.orders.State = OrdersStateLoading
				m.orders.Notice = ""
				cmds = append(cmds, FetchOrders(m.backend))
			}
		default:
			switch m.currentView {
			case ViewPortfolio:
				m.portfolio, cmd = m.portfolio.Update(msg)
			case ViewWatchlist:
				m.watchlist, cmd, _ = m.watchlist.Update(msg, m.feed, m.sink, m.uiCfg)
			case ViewOrders:
				m.orders, cmd, _ = m.orders.Update(msg, m.backend, m.tradingEnabled)
			}
			cmds = append(cmds, cmd)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		headerHeight := 1
		footerHeight := 1
		summaryHeight := 5 // Account summary section
		tableHeight := m.height - headerHeight - footerHeight - summaryHeight - 4
		if tableHeight < 3 {
			tableHeight = 3
		}
		m.portfolio.SetHeight(tableHeight)
		m.watchlist.SetHeight(tableHeight)
		m.orders.SetHeight(tableHeight)

	case PortfolioLoadedMsg, PortfolioErrorMsg:
		m.portfolio, cmd = m.portfolio.Update(msg)
		cmds = append(cmds, cmd)

	case QuoteMsg:
		m.watchlist, cmd, _ = m.watchlist.Update(msg, m.feed, m.sink, m.uiCfg)
		cmds = append(cmds, cmd, WaitForQuote(m.quotes))

	case WatchlistErrorMsg, WatchlistSavedMsg:
		m.watchlist, cmd, _ = m.watchlist.Update(msg, m.feed, m.sink, m.uiCfg)
		cmds = append(cmds, cmd)

	case OrdersLoadedMsg, OrdersErrorMsg, OrderCancelledMsg, OrderCancelErrorMsg:
		m.orders, cmd, _ = m.orders.Update(msg, m.backend, m.tradingEnabled)
		cmds = append(cmds, cmd)

	case TickMsg:
		if m.portfolio.State != PortfolioStateLoading {
			cmds = append(cmds, FetchPortfolio(m.backend))
		}
		if m.orders.State != OrdersStateLoading && m.orders.Mode == OrdersModeNormal {
			cmds = append(cmds, FetchOrders(m.backend))
		}
		cmds = append(cmds, m.tickCmd())
	}

	return m, tea.Batch(cmds...)
}

// View implements tea.Model.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}

	header := m.renderHeader()
	footer := m.renderFooter()
	content := m.renderContent()

	headerHeight := lipgloss.Height(header)
	footerHeight := lipgloss.Height(footer)
	contentHeight := m.height - headerHeight - footerHeight

	// Pad content to fill available space
	contentLines := strings.Split(content, "\n")
	for len(contentLines) < contentHeight {
		contentLines = append(contentLines, "")
	}
	if contentHeight > 0 && len(contentLines) > contentHeight {
		contentLines = contentLines[:contentHeight]
	}
	content = strings.Join(contentLines, "\n")

	return header + "\n" + content + "\n" + footer
}

// renderHeader renders the header bar.
func (m Model) renderHeader() string {
	title := HeaderStyle.Render("apca")
	badge := envBadge(m.paper)

	tabs := []struct {
		name   string
		key    string
		active bool
	}{
		{"Portfolio", "1", m.currentView == ViewPortfolio},
		{"Watchlist", "2", m.currentView == ViewWatchlist},
		{"Orders", "3", m.currentView == ViewOrders},
	}

	var tabStrs []string
	for _, tab := range tabs {
		tabStrs = append(tabStrs, tabStyle(tab.active).Render(fmt.Sprintf("[%s] %s", tab.key, tab.name)))
	}

	headerContent := title + " " + badge + "  " + strings.Join(tabStrs, " ")

	padding := m.width - lipgloss.Width(headerContent)
	if padding > 0 {
		headerContent += strings.Repeat(" ", padding)
	}

	return lipgloss.NewStyle().
		Background(ColorBackground).
		Width(m.width).
		Render(headerContent)
}

// renderContent renders the main content area.
func (m Model) renderContent() string {
	var content string
	switch m.currentView {
	case ViewPortfolio:
		content = m.portfolio.View()
	case ViewWatchlist:
		content = m.watchlist.View()
	case ViewOrders:
		content = m.orders.View()
	}
	return ContentStyle.Render(content)
}

type keyHint struct{ key, desc string }

// renderFooter renders the footer bar with key hints.
func (m Model) renderFooter() string {
	keys := []keyHint{{"1-3", "switch view"}}

	switch m.currentView {
	case ViewPortfolio:
		keys = append(keys, keyHint{"↑/↓", "navigate"}, keyHint{"r", "refresh"})
	case ViewWatchlist:
		switch m.watchlist.Mode {
		case WatchlistModeNormal:
			keys = append(keys, keyHint{"↑/↓", "navigate"}, keyHint{"a", "add"}, keyHint{"d", "delete"}, keyHint{"r", "resubscribe"})
		case WatchlistModeAdding:
			keys = []keyHint{{"enter", "add"}, {"esc", "cancel"}}
		case WatchlistModeDeleting:
			keys = []keyHint{{"y", "confirm"}, {"n", "cancel"}}
		}
	case ViewOrders:
		switch m.orders.Mode {
		case OrdersModeNormal:
			keys = append(keys, keyHint{"↑/↓", "navigate"}, keyHint{"r", "refresh"})
			if m.tradingEnabled {
				keys = append(keys, keyHint{"c", "cancel order"})
			}
		case OrdersModeCanceling:
			keys = []keyHint{{"y", "confirm"}, {"n", "cancel"}}
		}
	}

	keys = append(keys, keyHint{"q", "quit"})

	var parts []string
	for _, k := range keys {
		parts = append(parts, KeyStyle.Render(k.key)+" "+DescStyle.Render(k.desc))
	}

	footerContent := strings.Join(parts, "  •  ")

	padding := m.width - lipgloss.Width(footerContent)
	if padding > 0 {
		footerContent += strings.Repeat(" ", padding)
	}

	return lipgloss.NewStyle().
		Background(ColorBackground).
		Width(m.width).
		Render(footerContent)
}
