package tradeapi

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Account is the trading account summary.
type Account struct {
	ID               string          `json:"id"`
	AccountNumber    string          `json:"account_number"`
	Status           string          `json:"status"`
	Currency         string          `json:"currency"`
	Cash             decimal.Decimal `json:"cash"`
	BuyingPower      decimal.Decimal `json:"buying_power"`
	Equity           decimal.Decimal `json:"equity"`
	PortfolioValue   decimal.Decimal `json:"portfolio_value"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
	TradingBlocked   bool            `json:"trading_blocked"`
	DaytradeCount    int             `json:"daytrade_count"`
}

// Position is an open position.
type Position struct {
	AssetID       string          `json:"asset_id"`
	Symbol        string          `json:"symbol"`
	Exchange      string          `json:"exchange"`
	AssetClass    string          `json:"asset_class"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	Side          string          `json:"side"`
	MarketValue   decimal.Decimal `json:"market_value"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPL  decimal.Decimal `json:"unrealized_pl"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
}

// Order sides, types, time in force and classes.
const (
	SideBuy  = "buy"
	SideSell = "sell"

	OrderTypeMarket       = "market"
	OrderTypeLimit        = "limit"
	OrderTypeStop         = "stop"
	OrderTypeStopLimit    = "stop_limit"
	OrderTypeTrailingStop = "trailing_stop"

	TimeInForceDay = "day"
	TimeInForceGTC = "gtc"
	TimeInForceIOC = "ioc"
	TimeInForceFOK = "fok"

	OrderClassSimple  = "simple"
	OrderClassBracket = "bracket"
	OrderClassOTO     = "oto"
	OrderClassOCO     = "oco"
)

// Order is an order as reported by the API.
type Order struct {
	ID             string           `json:"id"`
	ClientOrderID  string           `json:"client_order_id"`
	CreatedAt      time.Time        `json:"created_at"`
	SubmittedAt    *time.Time       `json:"submitted_at"`
	FilledAt       *time.Time       `json:"filled_at"`
	Symbol         string           `json:"symbol"`
	Qty            *decimal.Decimal `json:"qty"`
	Notional       *decimal.Decimal `json:"notional"`
	FilledQty      decimal.Decimal  `json:"filled_qty"`
	FilledAvgPrice *decimal.Decimal `json:"filled_avg_price"`
	Type           string           `json:"type"`
	Side           string           `json:"side"`
	TimeInForce    string           `json:"time_in_force"`
	LimitPrice     *decimal.Decimal `json:"limit_price"`
	StopPrice      *decimal.Decimal `json:"stop_price"`
	TrailPrice     *decimal.Decimal `json:"trail_price"`
	TrailPercent   *decimal.Decimal `json:"trail_percent"`
	Status         string           `json:"status"`
	OrderClass     string           `json:"order_class"`
	Legs           []Order          `json:"legs"`
}

// TakeProfit is the profit taking leg of an advanced order.
type TakeProfit struct {
	LimitPrice decimal.Decimal `json:"limit_price"`
}

// StopLoss is the stop loss leg of an advanced order.
type StopLoss struct {
	StopPrice  decimal.Decimal  `json:"stop_price"`
	LimitPrice *decimal.Decimal `json:"limit_price,omitempty"`
}

// OrderRequest is an order submission.
type OrderRequest struct {
	Symbol        string           `json:"symbol"`
	Qty           *decimal.Decimal `json:"qty,omitempty"`
	Notional      *decimal.Decimal `json:"notional,omitempty"`
	Side          string           `json:"side"`
	Type          string           `json:"type"`
	TimeInForce   string           `json:"time_in_force"`
	LimitPrice    *decimal.Decimal `json:"limit_price,omitempty"`
	StopPrice     *decimal.Decimal `json:"stop_price,omitempty"`
	TrailPrice    *decimal.Decimal `json:"trail_price,omitempty"`
	TrailPercent  *decimal.Decimal `json:"trail_percent,omitempty"`
	ExtendedHours bool             `json:"extended_hours,omitempty"`
	ClientOrderID string           `json:"client_order_id,omitempty"`
	OrderClass    string           `json:"order_class,omitempty"`
	TakeProfit    *TakeProfit      `json:"take_profit,omitempty"`
	StopLoss      *StopLoss        `json:"stop_loss,omitempty"`
}

// Validate checks the request shape. It does not apply account rules.
func (r OrderRequest) Validate() error {
	invalid := func(field, reason string) error {
		return &ValidationError{Field: field, Reason: reason}
	}

	if r.Symbol == "" {
		return invalid("symbol", "symbol is required")
	}
	switch r.Side {
	case SideBuy, SideSell:
	default:
		return invalid("side", fmt.Sprintf("must be %q or %q", SideBuy, SideSell))
	}
	if (r.Qty == nil) == (r.Notional == nil) {
		return invalid("qty", "exactly one of qty and notional is required")
	}
	if r.TimeInForce == "" {
		return invalid("time_in_force", "time in force is required")
	}

	switch r.Type {
	case OrderTypeMarket:
	case OrderTypeLimit:
		if r.LimitPrice == nil {
			return invalid("limit_price", "required for limit orders")
		}
	case OrderTypeStop:
		if r.StopPrice == nil {
			return invalid("stop_price", "required for stop orders")
		}
	case OrderTypeStopLimit:
		if r.LimitPrice == nil || r.StopPrice == nil {
			return invalid("limit_price", "stop limit orders require limit and stop prices")
		}
	case OrderTypeTrailingStop:
		if (r.TrailPrice == nil) == (r.TrailPercent == nil) {
			return invalid("trail_price", "exactly one of trail price and trail percent is required")
		}
	default:
		return invalid("type", fmt.Sprintf("unknown order type %q", r.Type))
	}

	if r.OrderClass == OrderClassBracket && (r.TakeProfit == nil || r.StopLoss == nil) {
		return invalid("order_class", "bracket orders require take profit and stop loss legs")
	}
	return nil
}

// GetAccount retrieves the account of the authenticated user.
func (c *Client) GetAccount(ctx context.Context) (*Account, error) {
	var account Account
	if err := c.Get(ctx, "/account", nil, &account); err != nil {
		return nil, err
	}
	return &account, nil
}

// ListPositions retrieves all open positions.
func (c *Client) ListPositions(ctx context.Context) ([]Position, error) {
	var positions []Position
	if err := c.Get(ctx, "/positions", nil, &positions); err != nil {
		return nil, err
	}
	return positions, nil
}

// SubmitOrder validates and places an order. A client order id is
// generated when the request does not carry one.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	req.Symbol = strings.ToUpper(req.Symbol)
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.ClientOrderID == "" {
		req.ClientOrderID = uuid.NewString()
	}

	var order Order
	if err := c.Post(ctx, "/orders", req, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrder retrieves a single order by id.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*Order, error) {
	if orderID == "" {
		return nil, &ValidationError{Field: "order id", Reason: "order id is required"}
	}

	var order Order
	if err := c.Get(ctx, "/orders/"+url.PathEscape(orderID), nil, &order); err != nil {
		return nil, err
	}
	return &order, nil
}

// ListOrdersRequest filters ListOrders.
type ListOrdersRequest struct {
	Status    string    `url:"status,omitempty"`
	Limit     int       `url:"limit,omitempty"`
	After     time.Time `url:"after,omitempty"`
	Until     time.Time `url:"until,omitempty"`
	Direction string    `url:"direction,omitempty"`
	Nested    bool      `url:"nested,omitempty"`
	Symbols   []string  `url:"symbols,comma,omitempty"`
}

// ListOrders retrieves orders matching req.
func (c *Client) ListOrders(ctx context.Context, req ListOrdersRequest) ([]Order, error) {
	var orders []Order
	if err := c.Get(ctx, "/orders", req, &orders); err != nil {
		return nil, err
	}
	return orders, nil
}

// CancelOrder requests cancellation of an open order.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	if orderID == "" {
		return &ValidationError{Field: "order id", Reason: "order id is required"}
	}
	return c.Delete(ctx, "/orders/"+url.PathEscape(orderID), nil, nil)
}
