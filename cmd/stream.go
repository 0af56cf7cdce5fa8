package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jonandersen/apca/internal/output"
	"github.com/jonandersen/apca/pkg/tradeapi"
	"github.com/jonandersen/apca/pkg/tradeapi/stream"
)

// streamOptions holds dependencies for the stream command.
type streamOptions struct {
	clientOptions

	// url overrides the endpoint chosen from the flags.
	url string
	// extra options appended when the stream client is built.
	streamOpts []stream.Option
}

// streamFlags holds the flag values of the stream command.
type streamFlags struct {
	trades      bool
	quotes      bool
	bars        bool
	updatedBars bool
	dailyBars   bool
	statuses    bool
	news        bool
	feed        string
	test        bool
	count       int64
	duration    time.Duration
	reconnects  int
	metricsAddr string
}

// newStreamCmd creates the stream command with the given options.
func newStreamCmd(opts *streamOptions) *cobra.Command {
	var flags streamFlags

	cmd := &cobra.Command{
		Use:   "stream [SYMBOL...]",
		Short: "Stream real-time market data",
		Long: `Stream real-time trades, quotes, bars, trading statuses or news until
interrupted. Use * as the symbol to receive every symbol of a channel.

Without channel flags trades and quotes are streamed. News is served by a
separate endpoint and cannot be combined with the other channels.

Examples:
  apca stream AAPL MSFT                       # Trades and quotes
  apca stream AAPL --bars --updated-bars      # Minute bars and corrections
  apca stream --news                          # All news
  apca stream --test FAKEPACA --count 10      # Test feed, stop after 10 events
  apca stream SPY --trades --metrics-addr :9090 --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd, *opts, args, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.trades, "trades", false, "Stream trades")
	cmd.Flags().BoolVar(&flags.quotes, "quotes", false, "Stream quotes")
	cmd.Flags().BoolVar(&flags.bars, "bars", false, "Stream minute bars")
	cmd.Flags().BoolVar(&flags.updatedBars, "updated-bars", false, "Stream corrected minute bars")
	cmd.Flags().BoolVar(&flags.dailyBars, "daily-bars", false, "Stream daily bars")
	cmd.Flags().BoolVar(&flags.statuses, "statuses", false, "Stream trading halts and resumptions")
	cmd.Flags().BoolVar(&flags.news, "news", false, "Stream news")
	cmd.Flags().StringVar(&flags.feed, "feed", "", "Data feed: iex or sip (default from config)")
	cmd.Flags().BoolVar(&flags.test, "test", false, "Use the test feed (FAKEPACA, available at any time)")
	cmd.Flags().Int64Var(&flags.count, "count", 0, "Stop after this many events (0 for no limit)")
	cmd.Flags().DurationVar(&flags.duration, "duration", 0, "Stop after this long (0 for no limit)")
	cmd.Flags().IntVar(&flags.reconnects, "max-reconnects", 0, "Give up after this many failed reconnects (0 for no limit)")
	cmd.Flags().StringVar(&flags.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address, e.g. :9090")
	cmd.MarkFlagsMutuallyExclusive("news", "test")
	cmd.SilenceUsage = true

	return cmd
}

// streamURL picks the endpoint for the flags.
func (f streamFlags) streamURL(defaultFeed string) string {
	switch {
	case f.news:
		return stream.NewsURL
	case f.test:
		return stream.TestURL
	}
	feed := f.feed
	if feed == "" {
		feed = defaultFeed
	}
	return stream.StockURL(feed)
}

func (f streamFlags) validate(symbols []string) error {
	stock := f.trades || f.quotes || f.bars || f.updatedBars || f.dailyBars || f.statuses
	if f.news && stock {
		return fmt.Errorf("--news cannot be combined with other channels")
	}
	if !f.news && len(symbols) == 0 {
		return fmt.Errorf("at least one symbol is required (use * for all symbols)")
	}
	if f.count < 0 || f.duration < 0 || f.reconnects < 0 {
		return fmt.Errorf("--count, --duration and --max-reconnects must not be negative")
	}
	return nil
}

func runStream(cmd *cobra.Command, opts streamOptions, args []string, flags streamFlags) error {
	if err := flags.validate(args); err != nil {
		return err
	}
	symbols := upperAll(args)
	if flags.news && len(symbols) == 0 {
		symbols = []string{stream.Wildcard}
	}
	if !flags.news && !(flags.trades || flags.quotes || flags.bars || flags.updatedBars || flags.dailyBars || flags.statuses) {
		flags.trades, flags.quotes = true, true
	}

	log := opts.log
	if log == nil {
		log = zap.NewNop()
	}

	url := opts.url
	if url == "" {
		url = flags.streamURL(opts.feed)
	}
	streamOpts := []stream.Option{
		stream.WithURL(url),
		stream.WithLogger(log),
		stream.WithMaxReconnectAttempts(flags.reconnects),
	}

	if flags.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector())
		streamOpts = append(streamOpts, stream.WithMetrics(reg))
		_, shutdown, err := serveMetrics(flags.metricsAddr, reg, log)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	client, err := stream.NewClient(opts.creds, append(streamOpts, opts.streamOpts...)...)
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}

	var seen atomic.Int64
	formatter := output.New(cmd.OutOrStdout(), opts.jsonMode)
	emit := func(kind string, data any, text string) {
		if flags.count > 0 && seen.Load() >= flags.count {
			return
		}
		if err := formatter.Event(kind, data, text); err != nil {
			log.Warn("failed to write event", zap.Error(err))
		}
		if n := seen.Add(1); flags.count > 0 && n == flags.count {
			// Stop waits for the run loop, which is the goroutine calling us.
			go client.Stop()
		}
	}

	if err := subscribeStream(client, flags, symbols, emit); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if flags.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flags.duration)
		defer cancel()
	}

	err = client.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("stream failed: %w", err)
	}
	return nil
}

type emitFunc func(kind string, data any, text string)

// subscribeStream registers a printing handler on every selected channel.
func subscribeStream(c *stream.Client, f streamFlags, symbols []string, emit emitFunc) error {
	var errs []error
	if f.trades {
		errs = append(errs, c.SubscribeTrades(func(_ context.Context, t tradeapi.Trade) {
			emit("trade", t, fmt.Sprintf("%s %s @ %s %s", t.Symbol, formatFloat(t.Size), formatFloat(t.Price), t.Exchange))
		}, symbols...))
	}
	if f.quotes {
		errs = append(errs, c.SubscribeQuotes(func(_ context.Context, q tradeapi.Quote) {
			emit("quote", q, fmt.Sprintf("%s bid %s x %s  ask %s x %s", q.Symbol,
				formatFloat(q.BidPrice), formatFloat(q.BidSize), formatFloat(q.AskPrice), formatFloat(q.AskSize)))
		}, symbols...))
	}

	barHandler := func(kind string) stream.Handler[tradeapi.Bar] {
		return func(_ context.Context, b tradeapi.Bar) {
			emit(kind, b, fmt.Sprintf("%s %s O %s H %s L %s C %s V %s", b.Symbol, output.Time(b.Timestamp),
				formatFloat(b.Open), formatFloat(b.High), formatFloat(b.Low), formatFloat(b.Close), output.Volume(b.Volume)))
		}
	}
	if f.bars {
		errs = append(errs, c.SubscribeBars(barHandler("bar"), symbols...))
	}
	if f.updatedBars {
		errs = append(errs, c.SubscribeUpdatedBars(barHandler("updbar"), symbols...))
	}
	if f.dailyBars {
		errs = append(errs, c.SubscribeDailyBars(barHandler("daybar"), symbols...))
	}

	if f.statuses {
		errs = append(errs, c.SubscribeStatuses(func(_ context.Context, s tradeapi.TradingStatus) {
			emit("status", s, fmt.Sprintf("%s %s %s", s.Symbol, s.StatusCode, s.StatusMessage))
		}, symbols...))
	}
	if f.news {
		errs = append(errs, c.SubscribeNews(func(_ context.Context, n tradeapi.News) {
			emit("news", n, fmt.Sprintf("[%s] %s", strings.Join(n.Symbols, ","), n.Headline))
		}, symbols...))
	}
	return errors.Join(errs...)
}

// serveMetrics exposes reg on addr until the returned shutdown is called.
// It returns the address actually listened on.
func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) (net.Addr, func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server failed", zap.Error(err))
		}
	}()
	log.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return ln.Addr(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}

func init() {
	var opts streamOptions

	streamCmd := newStreamCmd(&opts)
	streamCmd.PersistentPreRunE = withClientOptions(&opts.clientOptions)
	rootCmd.AddCommand(streamCmd)
}
