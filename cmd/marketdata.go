package cmd

import (
	"context"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jonandersen/apca/internal/output"
	"github.com/jonandersen/apca/pkg/tradeapi"
)

// marketDataTimeout bounds a whole paginated download.
const marketDataTimeout = 5 * time.Minute

// marketDataOptions holds dependencies for the market data commands.
type marketDataOptions struct {
	clientOptions
}

// historicalFlags are shared by the bars, trades and quotes commands.
type historicalFlags struct {
	start string
	end   string
	limit int
	feed  string
	sort  string
}

func (f *historicalFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "Start time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.end, "end", "", "End time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().IntVarP(&f.limit, "limit", "l", 100, "Maximum number of items across all pages (0 for no limit)")
	cmd.Flags().StringVar(&f.feed, "feed", "", "Data feed: iex or sip (default from config)")
	cmd.Flags().StringVar(&f.sort, "sort", "", "Sort order: asc or desc")
}

// request converts the flags to a HistoricalRequest for symbols.
func (f historicalFlags) request(symbols []string, defaultFeed string) (tradeapi.HistoricalRequest, error) {
	req := tradeapi.HistoricalRequest{
		Symbols:  upperAll(symbols),
		Feed:     f.feed,
		Sort:     f.sort,
		MaxItems: f.limit,
	}
	if req.Feed == "" {
		req.Feed = defaultFeed
	}
	if f.limit < 0 {
		return req, fmt.Errorf("--limit must be >= 0")
	}

	var err error
	if req.Start, err = parseTimeFlag("start", f.start); err != nil {
		return req, err
	}
	if req.End, err = parseTimeFlag("end", f.end); err != nil {
		return req, err
	}
	return req, nil
}

// parseTimeFlag accepts RFC 3339 timestamps and plain dates. An empty value
// yields the zero time.
func parseTimeFlag(flag, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid --%s %q: use RFC 3339 (2024-01-02T15:04:05Z) or YYYY-MM-DD", flag, value)
}

func upperAll(symbols []string) []string {
	out := make([]string, len(symbols))
	for i, s := range symbols {
		out[i] = strings.ToUpper(s)
	}
	return out
}

// renderSeq drains seq and prints it as a table, or as a JSON array.
func renderSeq[T any](cmd *cobra.Command, jsonMode bool, seq iter.Seq2[T, error], headers []string, row func(T) []string) error {
	items, err := tradeapi.Collect(seq)
	if err != nil {
		return fmt.Errorf("failed to fetch market data: %w", err)
	}

	formatter := output.New(cmd.OutOrStdout(), jsonMode)
	if jsonMode {
		if items == nil {
			items = []T{}
		}
		return formatter.Print(items)
	}
	if len(items) == 0 {
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), "No data")
		return nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, row(item))
	}
	return formatter.Table(headers, rows)
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// newBarsCmd creates the bars command.
func newBarsCmd(opts *marketDataOptions) *cobra.Command {
	var flags historicalFlags
	var timeframe, adjustment string

	cmd := &cobra.Command{
		Use:   "bars SYMBOL [SYMBOL...]",
		Short: "Historical price bars",
		Long: `Fetch historical OHLCV bars. Pages are fetched until --limit bars
have been read or the range is exhausted.

Examples:
  apca bars AAPL                                  # Last 100 daily bars
  apca bars AAPL MSFT --timeframe 1Hour --start 2024-01-02 --end 2024-01-05
  apca bars SPY --timeframe 5Min --limit 0 --start 2024-01-02   # Every bar`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBars(cmd, *opts, args, flags, timeframe, adjustment)
		},
	}

	flags.register(cmd)
	cmd.Flags().StringVar(&timeframe, "timeframe", "1Day", "Bar period such as 1Min, 15Min, 1Hour, 1Day, 1Week, 1Month")
	cmd.Flags().StringVar(&adjustment, "adjustment", "", "Corporate action adjustment: raw, split, dividend or all")
	cmd.SilenceUsage = true

	return cmd
}

func runBars(cmd *cobra.Command, opts marketDataOptions, symbols []string, flags historicalFlags, timeframe, adjustment string) error {
	tf, err := tradeapi.ParseTimeFrame(timeframe)
	if err != nil {
		return err
	}
	hr, err := flags.request(symbols, opts.feed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), marketDataTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}
	seq := client.GetBars(ctx, tradeapi.BarsRequest{HistoricalRequest: hr, TimeFrame: tf, Adjustment: adjustment})

	headers := []string{"Symbol", "Time", "Open", "High", "Low", "Close", "Volume", "Trades", "VWAP"}
	return renderSeq(cmd, opts.jsonMode, seq, headers, func(b tradeapi.Bar) []string {
		return []string{
			b.Symbol,
			output.Time(b.Timestamp),
			formatFloat(b.Open),
			formatFloat(b.High),
			formatFloat(b.Low),
			formatFloat(b.Close),
			output.Volume(b.Volume),
			strconv.FormatInt(b.TradeCount, 10),
			formatFloat(b.VWAP),
		}
	})
}

// newTradesCmd creates the trades command.
func newTradesCmd(opts *marketDataOptions) *cobra.Command {
	var flags historicalFlags

	cmd := &cobra.Command{
		Use:   "trades SYMBOL [SYMBOL...]",
		Short: "Historical trades",
		Long: `Fetch historical trades.

Examples:
  apca trades AAPL --start 2024-01-02T14:30:00Z --limit 20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrades(cmd, *opts, args, flags)
		},
	}

	flags.register(cmd)
	cmd.SilenceUsage = true

	return cmd
}

func runTrades(cmd *cobra.Command, opts marketDataOptions, symbols []string, flags historicalFlags) error {
	hr, err := flags.request(symbols, opts.feed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), marketDataTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}

	headers := []string{"Symbol", "Time", "Price", "Size", "Exchange", "Conditions"}
	return renderSeq(cmd, opts.jsonMode, client.GetTrades(ctx, hr), headers, func(tr tradeapi.Trade) []string {
		return []string{
			tr.Symbol,
			tr.Timestamp.Format(time.RFC3339Nano),
			formatFloat(tr.Price),
			formatFloat(tr.Size),
			tr.Exchange,
			strings.Join(tr.Conditions, ","),
		}
	})
}

// newQuotesCmd creates the quotes command.
func newQuotesCmd(opts *marketDataOptions) *cobra.Command {
	var flags historicalFlags

	cmd := &cobra.Command{
		Use:   "quotes SYMBOL [SYMBOL...]",
		Short: "Historical quotes",
		Long: `Fetch historical best bid and offer quotes.

Examples:
  apca quotes AAPL MSFT --start 2024-01-02T14:30:00Z --limit 20`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuotes(cmd, *opts, args, flags)
		},
	}

	flags.register(cmd)
	cmd.SilenceUsage = true

	return cmd
}

func runQuotes(cmd *cobra.Command, opts marketDataOptions, symbols []string, flags historicalFlags) error {
	hr, err := flags.request(symbols, opts.feed)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), marketDataTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}

	headers := []string{"Symbol", "Time", "Bid", "Bid Size", "Ask", "Ask Size"}
	return renderSeq(cmd, opts.jsonMode, client.GetQuotes(ctx, hr), headers, func(q tradeapi.Quote) []string {
		return []string{
			q.Symbol,
			q.Timestamp.Format(time.RFC3339Nano),
			formatFloat(q.BidPrice),
			formatFloat(q.BidSize),
			formatFloat(q.AskPrice),
			formatFloat(q.AskSize),
		}
	})
}

// newNewsCmd creates the news command.
func newNewsCmd(opts *marketDataOptions) *cobra.Command {
	var (
		start, end string
		limit      int
		content    bool
	)

	cmd := &cobra.Command{
		Use:   "news [SYMBOL...]",
		Short: "News articles",
		Long: `Fetch news articles, newest first, optionally filtered by symbol.

Examples:
  apca news                   # Latest headlines
  apca news AAPL TSLA -l 5    # Five articles about Apple or Tesla`,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := tradeapi.NewsRequest{
				Symbols:        upperAll(args),
				MaxItems:       limit,
				IncludeContent: content,
			}
			var err error
			if req.Start, err = parseTimeFlag("start", start); err != nil {
				return err
			}
			if req.End, err = parseTimeFlag("end", end); err != nil {
				return err
			}
			return runNews(cmd, *opts, req)
		},
	}

	cmd.Flags().StringVar(&start, "start", "", "Start time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "End time (RFC 3339 or YYYY-MM-DD)")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "Maximum number of articles (0 for no limit)")
	cmd.Flags().BoolVar(&content, "content", false, "Include the article body")
	cmd.SilenceUsage = true

	return cmd
}

func runNews(cmd *cobra.Command, opts marketDataOptions, req tradeapi.NewsRequest) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), marketDataTimeout)
	defer cancel()

	client, err := opts.newClient()
	if err != nil {
		return err
	}

	headers := []string{"Time", "Symbols", "Source", "Headline"}
	return renderSeq(cmd, opts.jsonMode, client.GetNews(ctx, req), headers, func(n tradeapi.News) []string {
		return []string{
			output.Time(n.CreatedAt),
			strings.Join(n.Symbols, ","),
			n.Source,
			n.Headline,
		}
	})
}

func init() {
	var opts marketDataOptions

	for _, c := range []*cobra.Command{
		newBarsCmd(&opts),
		newTradesCmd(&opts),
		newQuotesCmd(&opts),
		newNewsCmd(&opts),
	} {
		c.PersistentPreRunE = withClientOptions(&opts.clientOptions)
		rootCmd.AddCommand(c)
	}
}
