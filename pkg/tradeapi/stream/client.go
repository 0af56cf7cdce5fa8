// Package stream implements a real-time market data client over websocket.
//
// A Client owns one authenticated connection. Handlers are registered per
// channel and symbol with the Subscribe methods, before or after Run is
// started. Run connects once the first handler exists, dispatches messages
// in arrival order and reconnects with backoff after transport errors,
// restoring every subscription.
package stream

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jonandersen/apca/pkg/tradeapi"
)

// Stream endpoints.
const (
	streamHost = "wss://stream.data.alpaca.markets"

	// TestURL serves synthetic data for the FAKEPACA symbol at any time.
	TestURL = streamHost + "/v2/test"

	// NewsURL serves real-time news.
	NewsURL = streamHost + "/v1beta1/news"
)

// StockURL returns the stock stream URL for a feed such as tradeapi.FeedIEX.
func StockURL(feed string) string {
	return streamHost + "/v2/" + feed
}

// CryptoURL returns the crypto stream URL for a location such as "us".
func CryptoURL(location string) string {
	return streamHost + "/v1beta3/crypto/" + location
}

// Defaults for Client options.
const (
	DefaultStopTimeout       = 5 * time.Second
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultReconnectInitial  = 500 * time.Millisecond
	DefaultReconnectMaxDelay = 30 * time.Second
)

// Client is a websocket market data client. It is safe for concurrent use.
type Client struct {
	url    string
	key    string
	secret string
	codec  codec
	dialer *websocket.Dialer

	stopTimeout      time.Duration
	handshakeTimeout time.Duration
	writeTimeout     time.Duration
	reconnectInitial time.Duration
	reconnectMax     time.Duration
	maxReconnects    int

	log     *zap.Logger
	metrics *streamMetrics
	state   atomic.Int32

	// subs is owned by the run loop while loopActive is set and guarded
	// by mu otherwise.
	subs       subscriptions
	mu         sync.Mutex
	loopActive bool
	loopExited chan struct{}
	loopCtx    context.Context

	cmds     chan command
	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

// WithURL sets the stream endpoint.
func WithURL(u string) Option {
	return func(c *Client) { c.url = u }
}

// WithJSON switches the wire encoding from msgpack to JSON.
func WithJSON() Option {
	return func(c *Client) { c.codec = jsonCodec{} }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithLogger sets the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log.Named("stream")
		}
	}
}

// WithMetrics registers stream collectors with reg.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *Client) { c.metrics = newStreamMetrics(reg) }
}

// WithReconnectBackoff sets the first reconnect delay and the cap that
// exponential growth stops at.
func WithReconnectBackoff(initial, maxDelay time.Duration) Option {
	return func(c *Client) {
		c.reconnectInitial = initial
		c.reconnectMax = maxDelay
	}
}

// WithMaxReconnectAttempts bounds consecutive failed reconnects. Zero
// retries forever.
func WithMaxReconnectAttempts(n int) Option {
	return func(c *Client) { c.maxReconnects = n }
}

// WithStopTimeout bounds how long Stop waits for Run to return.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Client) { c.stopTimeout = d }
}

// WithHandshakeTimeout bounds the wait for each handshake acknowledgement.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *Client) { c.handshakeTimeout = d }
}

// NewClient creates a stream client. Streams authenticate with an API key
// pair; OAuth credentials are rejected.
func NewClient(creds tradeapi.Credentials, opts ...Option) (*Client, error) {
	if creds.KeyID == "" || creds.SecretKey == "" {
		return nil, &tradeapi.ValidationError{Field: "credentials", Reason: "stream requires an API key ID and secret key"}
	}

	c := &Client{
		url:              StockURL(tradeapi.FeedIEX),
		key:              creds.KeyID,
		secret:           creds.SecretKey,
		codec:            msgpackCodec{},
		dialer:           websocket.DefaultDialer,
		stopTimeout:      DefaultStopTimeout,
		handshakeTimeout: DefaultHandshakeTimeout,
		writeTimeout:     DefaultWriteTimeout,
		reconnectInitial: DefaultReconnectInitial,
		reconnectMax:     DefaultReconnectMaxDelay,
		log:              zap.NewNop(),
		subs:             make(subscriptions),
		cmds:             make(chan command),
		stopCh:           make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.url == "" {
		return nil, &tradeapi.ValidationError{Field: "stream URL", Reason: "URL is required"}
	}
	if c.maxReconnects < 0 {
		return nil, &tradeapi.ValidationError{Field: "reconnect attempts", Reason: "must be >= 0"}
	}
	return c, nil
}

// State returns the current connection state.
func (c *Client) State() State {
	return State(c.state.Load())
}

func (c *Client) setState(s State) {
	c.state.Store(int32(s))
	c.metrics.setState(s)
}

func (c *Client) stopped() bool {
	select {
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

// Stop requests a graceful shutdown and waits up to the stop timeout for
// Run to return. It may be called from any goroutine, more than once, and
// before Run.
func (c *Client) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })

	c.mu.Lock()
	active, exited := c.loopActive, c.loopExited
	c.mu.Unlock()
	if !active {
		c.setState(StateStopped)
		return
	}

	c.setState(StateStopping)
	t := time.NewTimer(c.stopTimeout)
	defer t.Stop()
	select {
	case <-exited:
	case <-t.C:
		c.log.Warn("stop timed out waiting for run loop", zap.Duration("timeout", c.stopTimeout))
	}
}

// Run drives the connection until Stop is called, ctx is done or a fatal
// error occurs. It waits without connecting until a handler is registered.
// Run returns nil after Stop, ctx.Err() after cancellation, a
// *ProtocolError when the handshake is rejected or times out, an
// *EntitlementError when the server refuses a subscription, or the last
// transport error once the reconnect attempts are exhausted.
func (c *Client) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.loopActive {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	if c.stopped() {
		c.mu.Unlock()
		c.setState(StateStopped)
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	c.loopActive = true
	c.loopExited = make(chan struct{})
	c.loopCtx = runCtx
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.loopActive = false
		close(c.loopExited)
		c.mu.Unlock()
	}()

	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-runCtx.Done():
		}
	}()

	err := c.run(runCtx)
	switch {
	case c.stopped():
		c.setState(StateStopped)
		return nil
	case ctx.Err() != nil:
		c.setState(StateDisconnected)
		return ctx.Err()
	default:
		c.setState(StateDisconnected)
		return err
	}
}

func (c *Client) run(ctx context.Context) error {
	c.setState(StateDisconnected)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.reconnectInitial
	bo.MaxInterval = c.reconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	failures := 0
	for {
		if !c.awaitHandlers(ctx) {
			return nil
		}
		established, err := c.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if isFatal(err) {
			c.log.Error("stream terminated", zap.Error(err))
			return err
		}
		if established {
			bo.Reset()
			failures = 0
		}

		failures++
		if c.maxReconnects > 0 && failures > c.maxReconnects {
			return fmt.Errorf("stream: giving up after %d reconnect attempts: %w", c.maxReconnects, err)
		}

		wait := bo.NextBackOff()
		c.setState(StateDisconnected)
		c.metrics.reconnect()
		c.log.Warn("connection lost, reconnecting",
			zap.Error(err),
			zap.Int("attempt", failures),
			zap.Duration("wait", wait),
		)
		if !c.idle(ctx, wait) {
			return nil
		}
	}
}

// awaitHandlers blocks while no handler is registered, applying
// subscription changes. It returns false when ctx is done first.
func (c *Client) awaitHandlers(ctx context.Context) bool {
	for c.subs.empty() {
		select {
		case cmd := <-c.cmds:
			c.subs.apply(cmd)
			cmd.reply <- nil
		case <-ctx.Done():
			return false
		}
	}
	return true
}

// idle waits for d while still accepting subscription changes. It returns
// false when ctx is done first.
func (c *Client) idle(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return true
		case cmd := <-c.cmds:
			c.subs.apply(cmd)
			cmd.reply <- nil
		case <-ctx.Done():
			return false
		}
	}
}

// session runs one connection from dial to disconnect. established reports
// whether the connection reached the running state.
func (c *Client) session(ctx context.Context) (established bool, err error) {
	c.setState(StateConnecting)

	header := http.Header{}
	header.Set("Content-Type", c.codec.contentType())
	conn, _, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return false, fmt.Errorf("dial %s: %w", c.url, err)
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			_ = conn.Close()
		case <-done:
			_ = conn.Close()
		}
	}()

	if err := c.handshake(conn); err != nil {
		return false, err
	}

	c.setState(StateRunning)
	c.log.Info("stream connected", zap.String("url", c.url))

	if err := writeFrame(conn, c.codec, c.subs.frame(), c.writeTimeout); err != nil {
		return true, fmt.Errorf("subscribe: %w", err)
	}
	return true, c.serve(ctx, conn)
}

// handshake waits for the connected acknowledgement and authenticates.
func (c *Client) handshake(conn *websocket.Conn) error {
	if err := c.expectAck(conn, "connect", "connected"); err != nil {
		return err
	}

	c.setState(StateAuthenticating)
	auth := map[string]any{"action": actionAuth, "key": c.key, "secret": c.secret}
	if err := writeFrame(conn, c.codec, auth, c.writeTimeout); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	return c.expectAck(conn, "authentication", "authenticated")
}

// expectAck reads one frame and checks it is a success message carrying
// want. A missing acknowledgement and anything unexpected are a
// *ProtocolError; other read errors are transport errors.
func (c *Client) expectAck(conn *websocket.Conn, stage, want string) error {
	if c.handshakeTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.handshakeTimeout))
		defer func() { _ = conn.SetReadDeadline(time.Time{}) }()
	}

	_, data, err := conn.ReadMessage()
	if err != nil {
		var nErr net.Error
		if errors.As(err, &nErr) && nErr.Timeout() {
			return &ProtocolError{Stage: stage, Message: fmt.Sprintf("no acknowledgement within %s", c.handshakeTimeout)}
		}
		return fmt.Errorf("%s: %w", stage, err)
	}
	msgs, err := c.codec.unmarshal(data)
	if err != nil || len(msgs) == 0 {
		return &ProtocolError{Stage: stage, Message: "malformed acknowledgement"}
	}

	msg := msgs[0]
	switch stringField(msg, "T") {
	case "success":
		if got := stringField(msg, "msg"); got != want {
			return &ProtocolError{Stage: stage, Message: fmt.Sprintf("unexpected acknowledgement %q", got)}
		}
		return nil
	case "error":
		return &ProtocolError{Stage: stage, Code: intField(msg, "code"), Message: stringField(msg, "msg")}
	default:
		return &ProtocolError{Stage: stage, Message: fmt.Sprintf("unexpected message type %q", stringField(msg, "T"))}
	}
}

type inbound struct {
	data []byte
	err  error
}

// serve reads frames on a separate goroutine and handles them together
// with subscription changes on the calling goroutine.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) error {
	frames := make(chan inbound)
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			select {
			case frames <- inbound{data: data, err: err}:
			case <-quit:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case cmd := <-c.cmds:
			changed := c.subs.apply(cmd)
			var err error
			if len(changed) > 0 {
				err = writeFrame(conn, c.codec, changeFrame(cmd.action, cmd.channel, changed), c.writeTimeout)
			}
			cmd.reply <- nil
			if err != nil {
				return fmt.Errorf("%s: %w", cmd.action, err)
			}
		case in := <-frames:
			if in.err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("read: %w", in.err)
			}
			if err := c.handleFrame(ctx, in.data); err != nil {
				return err
			}
		}
	}
}

// submit applies cmd directly when no run loop is active and otherwise
// hands it to the loop and waits for it to be applied.
func (c *Client) submit(cmd command) error {
	if c.stopped() {
		return ErrStopped
	}
	cmd.reply = make(chan error, 1)
	for {
		c.mu.Lock()
		if !c.loopActive {
			c.subs.apply(cmd)
			c.mu.Unlock()
			return nil
		}
		exited, loopCtx := c.loopExited, c.loopCtx
		c.mu.Unlock()

		// A handler calling in here runs on the loop goroutine, so the
		// loop only takes cmd while it is serving. Shutdown releases it.
		select {
		case c.cmds <- cmd:
			return <-cmd.reply
		case <-exited:
		case <-c.stopCh:
			return ErrStopped
		case <-loopCtx.Done():
			if c.stopped() {
				return ErrStopped
			}
			return loopCtx.Err()
		}
	}
}

func subscribe[T any](c *Client, ch Channel, h Handler[T], m tradeapi.FieldMapping, symbols []string) error {
	if h == nil {
		return ErrInvalidHandler
	}
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return &tradeapi.ValidationError{Field: "symbols", Reason: "at least one symbol is required"}
	}
	return c.submit(command{action: actionSubscribe, channel: ch, symbols: symbols, invoke: bind(h, m)})
}

func (c *Client) unsubscribe(ch Channel, symbols []string) error {
	symbols = normalizeSymbols(symbols)
	if len(symbols) == 0 {
		return nil
	}
	return c.submit(command{action: actionUnsubscribe, channel: ch, symbols: symbols})
}

// SubscribeTrades registers h for trades of symbols. Use Wildcard for all
// symbols.
func (c *Client) SubscribeTrades(h Handler[tradeapi.Trade], symbols ...string) error {
	return subscribe(c, Trades, h, tradeapi.TradeMapping, symbols)
}

// SubscribeQuotes registers h for quotes of symbols.
func (c *Client) SubscribeQuotes(h Handler[tradeapi.Quote], symbols ...string) error {
	return subscribe(c, Quotes, h, tradeapi.QuoteMapping, symbols)
}

// SubscribeBars registers h for minute bars of symbols.
func (c *Client) SubscribeBars(h Handler[tradeapi.Bar], symbols ...string) error {
	return subscribe(c, Bars, h, tradeapi.BarMapping, symbols)
}

// SubscribeUpdatedBars registers h for corrections of already sent minute
// bars.
func (c *Client) SubscribeUpdatedBars(h Handler[tradeapi.Bar], symbols ...string) error {
	return subscribe(c, UpdatedBars, h, tradeapi.BarMapping, symbols)
}

// SubscribeDailyBars registers h for running daily bars.
func (c *Client) SubscribeDailyBars(h Handler[tradeapi.Bar], symbols ...string) error {
	return subscribe(c, DailyBars, h, tradeapi.BarMapping, symbols)
}

// SubscribeStatuses registers h for trading status changes.
func (c *Client) SubscribeStatuses(h Handler[tradeapi.TradingStatus], symbols ...string) error {
	return subscribe(c, Statuses, h, tradeapi.StatusMapping, symbols)
}

// SubscribeNews registers h for news about symbols.
func (c *Client) SubscribeNews(h Handler[tradeapi.News], symbols ...string) error {
	return subscribe(c, News, h, tradeapi.NewsMapping, symbols)
}

// UnsubscribeTrades removes the trade handlers of symbols. Symbols without
// a handler are ignored.
func (c *Client) UnsubscribeTrades(symbols ...string) error { return c.unsubscribe(Trades, symbols) }

// UnsubscribeQuotes removes the quote handlers of symbols.
func (c *Client) UnsubscribeQuotes(symbols ...string) error { return c.unsubscribe(Quotes, symbols) }

// UnsubscribeBars removes the bar handlers of symbols.
func (c *Client) UnsubscribeBars(symbols ...string) error { return c.unsubscribe(Bars, symbols) }

// UnsubscribeUpdatedBars removes the updated bar handlers of symbols.
func (c *Client) UnsubscribeUpdatedBars(symbols ...string) error {
	return c.unsubscribe(UpdatedBars, symbols)
}

// UnsubscribeDailyBars removes the daily bar handlers of symbols.
func (c *Client) UnsubscribeDailyBars(symbols ...string) error {
	return c.unsubscribe(DailyBars, symbols)
}

// UnsubscribeStatuses removes the status handlers of symbols.
func (c *Client) UnsubscribeStatuses(symbols ...string) error {
	return c.unsubscribe(Statuses, symbols)
}

// UnsubscribeNews removes the news handlers of symbols.
func (c *Client) UnsubscribeNews(symbols ...string) error { return c.unsubscribe(News, symbols) }
