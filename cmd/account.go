package cmd

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonandersen/apca/internal/output"
)

// requestTimeout bounds single request commands, retries included.
const requestTimeout = 60 * time.Second

// accountOptions holds dependencies for the account command.
type accountOptions struct {
	clientOptions
}

// newAccountCmd creates the account command with the given options.
func newAccountCmd(opts *accountOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "View account information",
		Long: `View the balances and status of your trading account.

Examples:
  apca account          # Account summary
  apca account --json   # Raw account as JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAccount(cmd, *opts)
		},
	}

	cmd.SilenceUsage = true

	return cmd
}

func runAccount(cmd *cobra.Command, opts accountOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	account, err := client.GetAccount(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch account: %w", err)
	}

	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	return formatter.Details(account, []output.Field{
		{Label: "Account", Value: account.AccountNumber},
		{Label: "Status", Value: account.Status},
		{Label: "Currency", Value: account.Currency},
		{Label: "Cash", Value: "$" + output.Decimal(account.Cash)},
		{Label: "Buying Power", Value: "$" + output.Decimal(account.BuyingPower)},
		{Label: "Equity", Value: "$" + output.Decimal(account.Equity)},
		{Label: "Portfolio Value", Value: "$" + output.Decimal(account.PortfolioValue)},
		{Label: "Day Trades", Value: strconv.Itoa(account.DaytradeCount)},
		{Label: "Pattern Day Trader", Value: strconv.FormatBool(account.PatternDayTrader)},
		{Label: "Trading Blocked", Value: strconv.FormatBool(account.TradingBlocked)},
	})
}

// newPositionsCmd creates the positions command with the given options.
func newPositionsCmd(opts *accountOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "positions",
		Short: "List open positions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPositions(cmd, *opts)
		},
	}

	cmd.SilenceUsage = true

	return cmd
}

func runPositions(cmd *cobra.Command, opts accountOptions) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	positions, err := client.ListPositions(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch positions: %w", err)
	}

	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	if opts.jsonMode {
		return formatter.Print(positions)
	}
	if len(positions) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No positions")
		return nil
	}

	headers := []string{"Symbol", "Side", "Qty", "Avg Entry", "Price", "Market Value", "Unrealized P/L"}
	rows := make([][]string, 0, len(positions))
	for _, p := range positions {
		rows = append(rows, []string{
			p.Symbol,
			p.Side,
			p.Qty.String(),
			"$" + output.Decimal(p.AvgEntryPrice),
			"$" + output.Decimal(p.CurrentPrice),
			"$" + output.Decimal(p.MarketValue),
			output.GainLoss(p.UnrealizedPL),
		})
	}

	return formatter.Table(headers, rows)
}

func init() {
	var opts accountOptions

	accountCmd := newAccountCmd(&opts)
	accountCmd.PersistentPreRunE = withClientOptions(&opts.clientOptions)

	positionsCmd := newPositionsCmd(&opts)
	positionsCmd.PersistentPreRunE = withClientOptions(&opts.clientOptions)

	rootCmd.AddCommand(accountCmd, positionsCmd)
}
