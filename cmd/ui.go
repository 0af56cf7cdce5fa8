package cmd

import (
	"context"
	"errors"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/jonandersen/apca/internal/tui"
	"github.com/jonandersen/apca/pkg/tradeapi"
	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// uiOptions holds dependencies for the ui command.
type uiOptions struct {
	clientOptions
	uiConfigPath string
}

func newUICmd(opts *uiOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ui",
		Short: "Launch interactive terminal UI",
		Long: `Launch an interactive terminal dashboard with your portfolio, a
watchlist of live quotes and your open orders.

The watchlist is saved to ui.yaml next to the config file. Live quotes
need an API key pair; with an OAuth token the watchlist stays empty.

Keys:
  1-3    switch view
  r      refresh
  a / d  add or delete a watchlist symbol
  c      cancel the selected order (when trading is enabled)
  q      quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUI(cmd, opts)
		},
	}
}

func runUI(cmd *cobra.Command, opts *uiOptions) error {
	client, err := opts.newClient()
	if err != nil {
		return err
	}

	uiCfg, err := tui.LoadConfig(opts.uiConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load ui config: %w", err)
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	var feed tui.QuoteFeed
	var quotes *stream.Client
	if opts.creds.OAuthToken == "" {
		quotes, err = stream.NewClient(opts.creds,
			stream.WithURL(stream.StockURL(opts.feed)),
			stream.WithLogger(opts.log),
		)
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		feed = quotes
	}

	model := tui.New(tui.Options{
		Backend:        client,
		Feed:           feed,
		UI:             uiCfg,
		Paper:          tradeapi.IsPaperURL(opts.baseURL),
		TradingEnabled: opts.tradingEnabled,
	})
	p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

	if quotes != nil {
		go func() {
			if err := quotes.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				p.Send(tui.WatchlistErrorMsg{Err: fmt.Errorf("quote stream: %w", err)})
			}
		}()
		defer quotes.Stop()
	}

	if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("failed to run TUI: %w", err)
	}
	return nil
}

func init() {
	opts := &uiOptions{uiConfigPath: tui.ConfigPath()}

	uiCmd := newUICmd(opts)
	uiCmd.PersistentPreRunE = withClientOptions(&opts.clientOptions)
	rootCmd.AddCommand(uiCmd)
}
