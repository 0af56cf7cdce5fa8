package tui

import (
	"context"

	"github.com/jonandersen/apca/pkg/tradeapi"
	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// Backend is the part of the REST client the UI reads from and acts on.
// *tradeapi.Client satisfies it.
type Backend interface {
	GetAccount(ctx context.Context) (*tradeapi.Account, error)
	ListPositions(ctx context.Context) ([]tradeapi.Position, error)
	ListOrders(ctx context.Context, req tradeapi.ListOrdersRequest) ([]tradeapi.Order, error)
	CancelOrder(ctx context.Context, orderID string) error
}

// QuoteFeed delivers live quotes for the watchlist. *stream.Client
// satisfies it; its run loop is driven by the caller.
type QuoteFeed interface {
	SubscribeQuotes(h stream.Handler[tradeapi.Quote], symbols ...string) error
	UnsubscribeQuotes(symbols ...string) error
}

// Portfolio is the account snapshot shown in the portfolio view.
type Portfolio struct {
	Account   *tradeapi.Account
	Positions []tradeapi.Position
}

// Options configures a Model.
type Options struct {
	Backend Backend
	Feed    QuoteFeed
	UI      *UIConfig

	// Paper marks the header so live sessions are obvious.
	Paper          bool
	TradingEnabled bool
}
