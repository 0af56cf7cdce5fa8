package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/jonandersen/apca/internal/config"
	"github.com/jonandersen/apca/internal/output"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

// orderOptions holds dependencies for the order command.
type orderOptions struct {
	clientOptions
}

// newOrderCmd creates the parent order command.
func newOrderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Place and manage orders",
		Long: `Place buy and sell orders, list and inspect orders, and cancel open orders.

Placing and cancelling orders requires trading_enabled: true in the config.

Examples:
  apca order buy AAPL --qty 10 --yes                   # Market order
  apca order sell AAPL --qty 5 --limit 180 --yes       # Limit order
  apca order list                                      # List open orders
  apca order get 61e69015-8549-4bfd-b9c3-01e75843f47d  # Order details
  apca order cancel 61e69015-8549-4bfd-b9c3-01e75843f47d --yes`,
	}

	return cmd
}

// orderParams holds the flag values of an order submission.
type orderParams struct {
	qty           string
	notional      string
	limitPrice    string
	stopPrice     string
	trailPrice    string
	trailPercent  string
	timeInForce   string
	extendedHours bool
	takeProfit    string
	stopLoss      string
	clientOrderID string
}

// newOrderSideCmd creates the buy or sell subcommand.
func newOrderSideCmd(opts *orderOptions, side string) *cobra.Command {
	var params orderParams
	var skipConfirm bool

	cmd := &cobra.Command{
		Use:   side + " SYMBOL",
		Short: fmt.Sprintf("Place a %s order", side),
		Long: fmt.Sprintf(`Place a %[1]s order for a stock.

Order types are determined by the flags used:
  - No price flags: market order
  - --limit: limit order
  - --stop: stop order
  - --limit and --stop: stop limit order
  - --trail-price or --trail-percent: trailing stop order

Adding --take-profit and --stop-loss turns the order into a bracket order.

Examples:
  apca order %[1]s AAPL --qty 10 --yes
  apca order %[1]s AAPL --notional 500 --yes
  apca order %[1]s AAPL --qty 10 --limit 175 --tif gtc --yes
  apca order %[1]s AAPL --qty 10 --trail-percent 2 --yes
  apca order %[1]s AAPL --qty 10 --limit 175 --take-profit 190 --stop-loss 165 --yes`, side),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrder(cmd, *opts, args[0], side, params, skipConfirm)
		},
	}

	cmd.Flags().StringVarP(&params.qty, "qty", "q", "", "Number of shares")
	cmd.Flags().StringVarP(&params.notional, "notional", "n", "", "Dollar amount to trade instead of a quantity")
	cmd.Flags().StringVarP(&params.limitPrice, "limit", "l", "", "Limit price")
	cmd.Flags().StringVarP(&params.stopPrice, "stop", "s", "", "Stop price")
	cmd.Flags().StringVar(&params.trailPrice, "trail-price", "", "Trailing stop distance in dollars")
	cmd.Flags().StringVar(&params.trailPercent, "trail-percent", "", "Trailing stop distance in percent")
	cmd.Flags().StringVarP(&params.timeInForce, "tif", "t", tradeapi.TimeInForceDay, "Time in force: day, gtc, ioc or fok")
	cmd.Flags().BoolVar(&params.extendedHours, "extended-hours", false, "Allow execution in extended hours (limit day orders)")
	cmd.Flags().StringVar(&params.takeProfit, "take-profit", "", "Take profit limit price (bracket order)")
	cmd.Flags().StringVar(&params.stopLoss, "stop-loss", "", "Stop loss stop price (bracket order)")
	cmd.Flags().StringVar(&params.clientOrderID, "client-id", "", "Client order ID (generated when omitted)")
	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt")
	cmd.MarkFlagsMutuallyExclusive("qty", "notional")
	cmd.MarkFlagsMutuallyExclusive("trail-price", "trail-percent")
	cmd.MarkFlagsRequiredTogether("take-profit", "stop-loss")
	cmd.SilenceUsage = true

	return cmd
}

// determineOrderType picks the order type from the price flags.
func determineOrderType(p orderParams) string {
	hasLimit := p.limitPrice != ""
	hasStop := p.stopPrice != ""

	switch {
	case p.trailPrice != "" || p.trailPercent != "":
		return tradeapi.OrderTypeTrailingStop
	case hasLimit && hasStop:
		return tradeapi.OrderTypeStopLimit
	case hasLimit:
		return tradeapi.OrderTypeLimit
	case hasStop:
		return tradeapi.OrderTypeStop
	default:
		return tradeapi.OrderTypeMarket
	}
}

// parseDecimal parses a flag value, returning nil for an empty string.
func parseDecimal(flag, value string) (*decimal.Decimal, error) {
	if value == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s %q: must be a number", flag, value)
	}
	if !d.IsPositive() {
		return nil, fmt.Errorf("invalid --%s %q: must be positive", flag, value)
	}
	return &d, nil
}

// buildOrderRequest converts flag values into an order request.
func buildOrderRequest(symbol, side string, p orderParams) (tradeapi.OrderRequest, error) {
	req := tradeapi.OrderRequest{
		Symbol:        strings.ToUpper(symbol),
		Side:          side,
		Type:          determineOrderType(p),
		TimeInForce:   strings.ToLower(p.timeInForce),
		ExtendedHours: p.extendedHours,
		ClientOrderID: p.clientOrderID,
	}

	fields := []struct {
		flag  string
		value string
		dst   **decimal.Decimal
	}{
		{"qty", p.qty, &req.Qty},
		{"notional", p.notional, &req.Notional},
		{"limit", p.limitPrice, &req.LimitPrice},
		{"stop", p.stopPrice, &req.StopPrice},
		{"trail-price", p.trailPrice, &req.TrailPrice},
		{"trail-percent", p.trailPercent, &req.TrailPercent},
	}
	for _, f := range fields {
		d, err := parseDecimal(f.flag, f.value)
		if err != nil {
			return req, err
		}
		*f.dst = d
	}

	takeProfit, err := parseDecimal("take-profit", p.takeProfit)
	if err != nil {
		return req, err
	}
	stopLoss, err := parseDecimal("stop-loss", p.stopLoss)
	if err != nil {
		return req, err
	}
	if takeProfit != nil && stopLoss != nil {
		req.OrderClass = tradeapi.OrderClassBracket
		req.TakeProfit = &tradeapi.TakeProfit{LimitPrice: *takeProfit}
		req.StopLoss = &tradeapi.StopLoss{StopPrice: *stopLoss}
	}

	return req, req.Validate()
}

func printOrderPreview(w io.Writer, req tradeapi.OrderRequest, paper bool) {
	env := "LIVE"
	if paper {
		env = "paper"
	}
	_, _ = fmt.Fprintf(w, "\nOrder Preview (%s):\n", env)
	_, _ = fmt.Fprintf(w, "  Action:   %s\n", strings.ToUpper(req.Side))
	_, _ = fmt.Fprintf(w, "  Symbol:   %s\n", req.Symbol)
	if req.Qty != nil {
		_, _ = fmt.Fprintf(w, "  Quantity: %s shares\n", req.Qty)
	} else {
		_, _ = fmt.Fprintf(w, "  Notional: $%s\n", req.Notional)
	}
	_, _ = fmt.Fprintf(w, "  Type:     %s\n", req.Type)
	if req.LimitPrice != nil {
		_, _ = fmt.Fprintf(w, "  Limit:    $%s\n", req.LimitPrice)
	}
	if req.StopPrice != nil {
		_, _ = fmt.Fprintf(w, "  Stop:     $%s\n", req.StopPrice)
	}
	if req.TrailPrice != nil {
		_, _ = fmt.Fprintf(w, "  Trail:    $%s\n", req.TrailPrice)
	}
	if req.TrailPercent != nil {
		_, _ = fmt.Fprintf(w, "  Trail:    %s%%\n", req.TrailPercent)
	}
	if req.OrderClass == tradeapi.OrderClassBracket {
		_, _ = fmt.Fprintf(w, "  Take Profit: $%s\n", req.TakeProfit.LimitPrice)
		_, _ = fmt.Fprintf(w, "  Stop Loss:   $%s\n", req.StopLoss.StopPrice)
	}
	_, _ = fmt.Fprintf(w, "  Expires:  %s\n\n", req.TimeInForce)
}

func runOrder(cmd *cobra.Command, opts orderOptions, symbol, side string, params orderParams, skipConfirm bool) error {
	if !opts.tradingEnabled {
		return config.ErrTradingDisabled
	}

	req, err := buildOrderRequest(symbol, side, params)
	if err != nil {
		return err
	}

	client, err := opts.newClient()
	if err != nil {
		return err
	}

	if !opts.jsonMode {
		printOrderPreview(cmd.OutOrStdout(), req, client.Paper())
	}

	if !skipConfirm {
		return fmt.Errorf("order requires confirmation (use --yes to confirm)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	order, err := client.SubmitOrder(ctx, req)
	if err != nil {
		return orderError("failed to place order", err)
	}

	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	return formatter.Details(order, orderFields(order))
}

// orderError adds guidance to rejections the user can act on.
func orderError(msg string, err error) error {
	var apiErr *tradeapi.APIError
	if errors.As(err, &apiErr) && apiErr.PatternDayTrading() {
		return fmt.Errorf("%s: pattern day trading protection rejected the order: %w", msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func orderFields(o *tradeapi.Order) []output.Field {
	qty := output.OptDecimal(o.Qty)
	if o.Qty == nil && o.Notional != nil {
		qty = "$" + o.Notional.String()
	}
	return []output.Field{
		{Label: "Order ID", Value: o.ID},
		{Label: "Client Order ID", Value: o.ClientOrderID},
		{Label: "Symbol", Value: o.Symbol},
		{Label: "Side", Value: o.Side},
		{Label: "Type", Value: o.Type},
		{Label: "Class", Value: o.OrderClass},
		{Label: "Quantity", Value: qty},
		{Label: "Filled", Value: o.FilledQty.String()},
		{Label: "Avg Fill Price", Value: output.OptDecimal(o.FilledAvgPrice)},
		{Label: "Limit", Value: output.OptDecimal(o.LimitPrice)},
		{Label: "Stop", Value: output.OptDecimal(o.StopPrice)},
		{Label: "Time in Force", Value: o.TimeInForce},
		{Label: "Status", Value: o.Status},
		{Label: "Created", Value: output.Time(o.CreatedAt)},
		{Label: "Filled At", Value: output.OptTime(o.FilledAt)},
	}
}

// newOrderListCmd creates the list subcommand.
func newOrderListCmd(opts *orderOptions) *cobra.Command {
	var req tradeapi.ListOrdersRequest

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List orders",
		Long: `List orders, newest first.

Examples:
  apca order list                       # Open orders
  apca order list --status all          # All orders
  apca order list --symbols AAPL,MSFT   # Open orders for two symbols`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrderList(cmd, *opts, req)
		},
	}

	cmd.Flags().StringVar(&req.Status, "status", "open", "Order status: open, closed or all")
	cmd.Flags().IntVar(&req.Limit, "limit", 50, "Maximum number of orders (max 500)")
	cmd.Flags().StringSliceVar(&req.Symbols, "symbols", nil, "Only orders for these symbols")
	cmd.Flags().BoolVar(&req.Nested, "nested", false, "Roll up multi-leg orders under their parent")
	cmd.SilenceUsage = true

	return cmd
}

func runOrderList(cmd *cobra.Command, opts orderOptions, req tradeapi.ListOrdersRequest) error {
	switch req.Status {
	case "open", "closed", "all":
	default:
		return fmt.Errorf("invalid status %q (use open, closed or all)", req.Status)
	}
	for i, s := range req.Symbols {
		req.Symbols[i] = strings.ToUpper(s)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	orders, err := client.ListOrders(ctx, req)
	if err != nil {
		return fmt.Errorf("failed to list orders: %w", err)
	}

	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	if opts.jsonMode {
		return formatter.Print(orders)
	}
	if len(orders) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No orders")
		return nil
	}

	headers := []string{"Order ID", "Symbol", "Side", "Type", "Qty", "Filled", "Limit", "Stop", "Status", "Created"}
	rows := make([][]string, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, []string{
			o.ID,
			o.Symbol,
			o.Side,
			o.Type,
			output.OptDecimal(o.Qty),
			o.FilledQty.String(),
			output.OptDecimal(o.LimitPrice),
			output.OptDecimal(o.StopPrice),
			o.Status,
			output.Time(o.CreatedAt),
		})
	}
	return formatter.Table(headers, rows)
}

// newOrderGetCmd creates the get subcommand.
func newOrderGetCmd(opts *orderOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get ORDER_ID",
		Short: "Show an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrderGet(cmd, *opts, args[0])
		},
	}
	cmd.SilenceUsage = true
	return cmd
}

func runOrderGet(cmd *cobra.Command, opts orderOptions, orderID string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	order, err := client.GetOrder(ctx, orderID)
	if err != nil {
		var apiErr *tradeapi.APIError
		if errors.As(err, &apiErr) && apiErr.IsNotFound() {
			return fmt.Errorf("order %s not found", orderID)
		}
		return fmt.Errorf("failed to fetch order: %w", err)
	}

	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	return formatter.Details(order, orderFields(order))
}

// newOrderCancelCmd creates the cancel subcommand.
func newOrderCancelCmd(opts *orderOptions) *cobra.Command {
	var skipConfirm bool

	cmd := &cobra.Command{
		Use:   "cancel ORDER_ID",
		Short: "Cancel an open order",
		Long: `Request cancellation of an open order.

Examples:
  apca order cancel 61e69015-8549-4bfd-b9c3-01e75843f47d        # Requires confirmation
  apca order cancel 61e69015-8549-4bfd-b9c3-01e75843f47d --yes  # Skip confirmation`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCancelOrder(cmd, *opts, args[0], skipConfirm)
		},
	}

	cmd.Flags().BoolVarP(&skipConfirm, "yes", "y", false, "Skip confirmation prompt")
	cmd.SilenceUsage = true

	return cmd
}

func runCancelOrder(cmd *cobra.Command, opts orderOptions, orderID string, skipConfirm bool) error {
	if !opts.tradingEnabled {
		return config.ErrTradingDisabled
	}
	if !skipConfirm {
		return fmt.Errorf("cancel requires confirmation (use --yes to confirm)")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	if err := client.CancelOrder(ctx, orderID); err != nil {
		return orderError("failed to cancel order", err)
	}

	if opts.jsonMode {
		formatter := output.New(cmd.OutOrStdout(), true)
		return formatter.Print(map[string]string{
			"orderId": orderID,
			"status":  "cancel_requested",
		})
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for order %s\n", orderID)
	return nil
}

func init() {
	var opts orderOptions

	orderCmd := newOrderCmd()
	orderCmd.PersistentPreRunE = withClientOptions(&opts.clientOptions)
	orderCmd.AddCommand(
		newOrderSideCmd(&opts, tradeapi.SideBuy),
		newOrderSideCmd(&opts, tradeapi.SideSell),
		newOrderListCmd(&opts),
		newOrderGetCmd(&opts),
		newOrderCancelCmd(&opts),
	)
	rootCmd.AddCommand(orderCmd)
}
