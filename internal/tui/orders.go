package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/jonandersen/apca/internal/output"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

// OrdersState represents the loading state of orders data.
type OrdersState int

const (
	OrdersStateLoading OrdersState = iota
	OrdersStateLoaded
	OrdersStateError
)

// OrdersMode represents the input mode of the orders view.
type OrdersMode int

const (
	OrdersModeNormal OrdersMode = iota
	OrdersModeCanceling
)

// cancelableStatuses lists order statuses that still accept a cancel.
var cancelableStatuses = map[string]bool{
	"new":              true,
	"accepted":         true,
	"pending_new":      true,
	"partially_filled": true,
	"held":             true,
}

// OrdersModel holds the state for the orders view.
type OrdersModel struct {
	State         OrdersState
	Orders        []tradeapi.Order
	Err           error
	Notice        string
	LastUpdated   time.Time
	Table         table.Model
	Mode          OrdersMode
	CancelOrderID string
	CancelSymbol  string
}

// NewOrdersModel creates a new orders model.
func NewOrdersModel() *OrdersModel {
	cols := []table.Column{
		{Title: "Symbol", Width: 8},
		{Title: "Side", Width: 5},
		{Title: "Type", Width: 14},
		{Title: "Status", Width: 16},
		{Title: "Qty", Width: 8},
		{Title: "Filled", Width: 8},
		{Title: "Price", Width: 10},
		{Title: "Created", Width: 12},
	}

	t := table.New(
		table.WithColumns(cols),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	t.SetStyles(TableStyles())

	return &OrdersModel{
		State:  OrdersStateLoading,
		Orders: []tradeapi.Order{},
		Table:  t,
		Mode:   OrdersModeNormal,
	}
}

// SetHeight sets the table height.
func (m *OrdersModel) SetHeight(height int) {
	m.Table.SetHeight(height)
}

func (m *OrdersModel) resetCancel() {
	m.Mode = OrdersModeNormal
	m.CancelOrderID = ""
	m.CancelSymbol = ""
}

// Update handles messages for the orders view.
// Returns the model, command, and whether the event was handled.
func (m *OrdersModel) Update(msg tea.Msg, backend Backend, tradingEnabled bool) (*OrdersModel, tea.Cmd, bool) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case OrdersLoadedMsg:
		m.State = OrdersStateLoaded
		m.Orders = msg.Orders
		m.LastUpdated = time.Now()
		m.Err = nil
		m.updateTable()
		return m, nil, true

	case OrdersErrorMsg:
		m.State = OrdersStateError
		m.Err = msg.Err
		return m, nil, true

	case OrderCancelledMsg:
		remaining := make([]tradeapi.Order, 0, len(m.Orders))
		for _, o := range m.Orders {
			if o.ID != msg.OrderID {
				remaining = append(remaining, o)
			}
		}
		m.Orders = remaining
		m.updateTable()
		m.resetCancel()
		m.Notice = "Cancel requested for " + shortID(msg.OrderID)
		// Refresh to get latest status
		return m, FetchOrders(backend), true

	case OrderCancelErrorMsg:
		m.Notice = ""
		m.Err = msg.Err
		m.resetCancel()
		return m, nil, true

	case tea.KeyMsg:
		switch m.Mode {
		case OrdersModeCanceling:
			switch msg.String() {
			case "y", "Y":
				return m, CancelOrder(backend, m.CancelOrderID), true
			case "n", "N", "esc":
				m.resetCancel()
				return m, nil, true
			}
			return m, nil, true

		case OrdersModeNormal:
			switch msg.String() {
			case "c", "x", "d":
				if !tradingEnabled {
					m.Notice = "Trading is disabled; set trading_enabled: true to cancel orders"
					return m, nil, true
				}
				if order := m.SelectedOrder(); order != nil && cancelableStatuses[order.Status] {
					m.CancelOrderID = order.ID
					m.CancelSymbol = order.Symbol
					m.Mode = OrdersModeCanceling
				}
				return m, nil, true
			}
		}
	}

	if m.Mode == OrdersModeNormal {
		m.Table, cmd = m.Table.Update(msg)
		return m, cmd, false
	}

	return m, nil, false
}

// updateTable updates the table rows from orders data.
func (m *OrdersModel) updateTable() {
	rows := make([]table.Row, 0, len(m.Orders))
	for _, order := range m.Orders {
		price := "-"
		if order.LimitPrice != nil {
			price = "$" + output.Decimal(*order.LimitPrice)
		} else if order.StopPrice != nil {
			price = "$" + output.Decimal(*order.StopPrice)
		}

		qty := output.OptDecimal(order.Qty)
		if order.Qty == nil && order.Notional != nil {
			qty = "$" + output.Decimal(*order.Notional)
		}

		rows = append(rows, table.Row{
			order.Symbol,
			order.Side,
			order.Type,
			order.Status,
			qty,
			order.FilledQty.String(),
			price,
			order.CreatedAt.Local().Format("01/02 15:04"),
		})
	}
	m.Table.SetRows(rows)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8] + "..."
	}
	return id
}

// View renders the orders view.
func (m *OrdersModel) View() string {
	var b strings.Builder

	if m.Mode == OrdersModeCanceling {
		b.WriteString(WarningStyle.Render(fmt.Sprintf("Cancel order for %s?", m.CancelSymbol)))
		b.WriteString("\n\n")
		b.WriteString(field("Order ID", shortID(m.CancelOrderID)))
		b.WriteString("\n\n")
		b.WriteString(LabelStyle.Render("Press Y to confirm, N to cancel"))
		return b.String()
	}

	switch m.State {
	case OrdersStateLoading:
		b.WriteString("Loading orders...")
		return b.String()

	case OrdersStateError:
		b.WriteString(errorLine(m.Err))
		b.WriteString("\n\nPress 'r' to retry")
		return b.String()

	case OrdersStateLoaded:
		b.WriteString(SummaryStyle.Render("Open Orders"))
		b.WriteString(LabelStyle.Render(fmt.Sprintf(" (%d)", len(m.Orders))))
		b.WriteString("\n\n")

		if m.Err != nil {
			b.WriteString(errorLine(m.Err))
			b.WriteString("\n\n")
		} else if m.Notice != "" {
			b.WriteString(WarningStyle.Render(m.Notice))
			b.WriteString("\n\n")
		}

		if len(m.Orders) == 0 {
			b.WriteString(LabelStyle.Render("No open orders"))
		} else {
			b.WriteString(m.Table.View())
			b.WriteString("\n")
			b.WriteString(LabelStyle.Render(fmt.Sprintf("Updated: %s", m.LastUpdated.Format("3:04:05 PM"))))
		}
	}

	return b.String()
}

// SelectedOrder returns the currently selected order, if any.
func (m *OrdersModel) SelectedOrder() *tradeapi.Order {
	if m.Mode != OrdersModeNormal || len(m.Orders) == 0 {
		return nil
	}
	idx := m.Table.Cursor()
	if idx >= 0 && idx < len(m.Orders) {
		return &m.Orders[idx]
	}
	return nil
}

// FetchOrders returns a command that fetches open orders.
func FetchOrders(backend Backend) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		orders, err := backend.ListOrders(ctx, tradeapi.ListOrdersRequest{Status: "open", Limit: 100})
		if err != nil {
			return OrdersErrorMsg{Err: fmt.Errorf("failed to fetch orders: %w", err)}
		}
		return OrdersLoadedMsg{Orders: orders}
	}
}

// CancelOrder returns a command that cancels an order.
func CancelOrder(backend Backend, orderID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()

		if err := backend.CancelOrder(ctx, orderID); err != nil {
			return OrderCancelErrorMsg{Err: fmt.Errorf("failed to cancel order: %w", err)}
		}
		return OrderCancelledMsg{OrderID: orderID}
	}
}
