package tradeapi

import (
	"context"
	"fmt"
	"iter"
	"net/url"
	"strconv"
	"time"

	"github.com/google/go-querystring/query"
)

// Trade is a single print.
type Trade struct {
	Symbol     string
	Timestamp  time.Time
	Exchange   string
	Price      float64
	Size       float64
	Conditions []string
	ID         int64
	Tape       string
	TakerSide  string
}

// Quote is a national best bid and offer update.
type Quote struct {
	Symbol      string
	Timestamp   time.Time
	AskExchange string
	AskPrice    float64
	AskSize     float64
	BidExchange string
	BidPrice    float64
	BidSize     float64
	Conditions  []string
	Tape        string
}

// Bar is an OHLCV aggregate.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
	TradeCount int64
	VWAP       float64
}

// TradingStatus reports halts and resumptions.
type TradingStatus struct {
	Symbol        string
	Timestamp     time.Time
	StatusCode    string
	StatusMessage string
	ReasonCode    string
	ReasonMessage string
	Tape          string
}

// News is a news article, possibly about several symbols.
type News struct {
	ID        int64
	Headline  string
	Author    string
	CreatedAt time.Time
	UpdatedAt time.Time
	Summary   string
	Content   string
	URL       string
	Symbols   []string
	Source    string
}

// TimeFrameUnit is the unit of a bar aggregation period.
type TimeFrameUnit string

const (
	Minute TimeFrameUnit = "Min"
	Hour   TimeFrameUnit = "Hour"
	Day    TimeFrameUnit = "Day"
	Week   TimeFrameUnit = "Week"
	Month  TimeFrameUnit = "Month"
)

// TimeFrame is an immutable bar aggregation period. Build one with
// NewTimeFrame or the fixed constructors.
type TimeFrame struct {
	amount int
	unit   TimeFrameUnit
}

// NewTimeFrame validates amount against unit.
func NewTimeFrame(amount int, unit TimeFrameUnit) (TimeFrame, error) {
	invalid := func(reason string) (TimeFrame, error) {
		return TimeFrame{}, &ValidationError{Field: "timeframe", Reason: reason}
	}
	if amount <= 0 {
		return invalid("amount must be positive")
	}
	switch unit {
	case Minute:
		if amount > 59 {
			return invalid("minute amount must be 1-59")
		}
	case Hour:
		if amount > 23 {
			return invalid("hour amount must be 1-23")
		}
	case Day, Week:
		if amount != 1 {
			return invalid(fmt.Sprintf("%s amount must be 1", unit))
		}
	case Month:
		switch amount {
		case 1, 2, 3, 6, 12:
		default:
			return invalid("month amount must be one of 1, 2, 3, 6, 12")
		}
	default:
		return invalid(fmt.Sprintf("unknown unit %q", unit))
	}
	return TimeFrame{amount: amount, unit: unit}, nil
}

func OneMinute() TimeFrame { return TimeFrame{amount: 1, unit: Minute} }
func OneHour() TimeFrame   { return TimeFrame{amount: 1, unit: Hour} }
func OneDay() TimeFrame    { return TimeFrame{amount: 1, unit: Day} }
func OneWeek() TimeFrame   { return TimeFrame{amount: 1, unit: Week} }
func OneMonth() TimeFrame  { return TimeFrame{amount: 1, unit: Month} }

// ParseTimeFrame parses strings such as "5Min", "1Day" or "3Month".
func ParseTimeFrame(s string) (TimeFrame, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return TimeFrame{}, &ValidationError{Field: "timeframe", Reason: fmt.Sprintf("%q has no amount", s)}
	}
	amount, err := strconv.Atoi(s[:i])
	if err != nil {
		return TimeFrame{}, &ValidationError{Field: "timeframe", Reason: err.Error()}
	}
	unit := TimeFrameUnit(s[i:])
	if unit == "T" {
		unit = Minute
	}
	return NewTimeFrame(amount, unit)
}

// IsZero reports whether tf was never set.
func (tf TimeFrame) IsZero() bool { return tf.amount == 0 }

func (tf TimeFrame) String() string {
	return strconv.Itoa(tf.amount) + string(tf.unit)
}

// EncodeValues implements query.Encoder.
func (tf TimeFrame) EncodeValues(key string, v *url.Values) error {
	if tf.IsZero() {
		return nil
	}
	v.Set(key, tf.String())
	return nil
}

// Market data feeds.
const (
	FeedIEX = "iex"
	FeedSIP = "sip"
)

// HistoricalRequest selects historical market data for one or more symbols.
type HistoricalRequest struct {
	Symbols  []string  `url:"symbols,comma"`
	Start    time.Time `url:"start,omitempty"`
	End      time.Time `url:"end,omitempty"`
	Feed     string    `url:"feed,omitempty"`
	Sort     string    `url:"sort,omitempty"`
	AsOf     string    `url:"asof,omitempty"`
	Currency string    `url:"currency,omitempty"`

	// PageSize and MaxItems bound the pagination and are not sent as-is.
	PageSize int `url:"-"`
	MaxItems int `url:"-"`
}

func (r HistoricalRequest) validate() error {
	if len(r.Symbols) == 0 {
		return &ValidationError{Field: "symbols", Reason: "at least one symbol is required"}
	}
	if !r.Start.IsZero() && !r.End.IsZero() && r.End.Before(r.Start) {
		return &ValidationError{Field: "end", Reason: "end is before start"}
	}
	return nil
}

// BarsRequest selects historical bars.
type BarsRequest struct {
	HistoricalRequest
	TimeFrame  TimeFrame `url:"timeframe"`
	Adjustment string    `url:"adjustment,omitempty"`
}

// GetBars returns a lazy sequence of bars for the requested symbols. Bars
// of different symbols are flattened into one sequence, each tagged with
// its symbol.
func (c *Client) GetBars(ctx context.Context, req BarsRequest) iter.Seq2[Bar, error] {
	if req.TimeFrame.IsZero() {
		req.TimeFrame = OneDay()
	}
	return mapRecords[Bar](c.historical(ctx, "/stocks/bars", "bars", req.HistoricalRequest, req), BarMapping)
}

// GetTrades returns a lazy sequence of historical trades.
func (c *Client) GetTrades(ctx context.Context, req HistoricalRequest) iter.Seq2[Trade, error] {
	return mapRecords[Trade](c.historical(ctx, "/stocks/trades", "trades", req, req), TradeMapping)
}

// GetQuotes returns a lazy sequence of historical quotes.
func (c *Client) GetQuotes(ctx context.Context, req HistoricalRequest) iter.Seq2[Quote, error] {
	return mapRecords[Quote](c.historical(ctx, "/stocks/quotes", "quotes", req, req), QuoteMapping)
}

func (c *Client) historical(ctx context.Context, path, key string, hr HistoricalRequest, payload any) iter.Seq2[Record, error] {
	if err := hr.validate(); err != nil {
		return failed[Record](err)
	}
	params, err := query.Values(payload)
	if err != nil {
		return failed[Record](fmt.Errorf("failed to encode query: %w", err))
	}
	return c.Paginate(ctx, PageRequest{
		Path:     path,
		Params:   params,
		ItemsKey: key,
		PageSize: hr.PageSize,
		MaxItems: hr.MaxItems,
		Options:  []RequestOption{OnBaseURL(c.dataURL), OnAPIVersion("v2")},
	})
}

// NewsRequest selects news articles.
type NewsRequest struct {
	Symbols            []string  `url:"symbols,comma,omitempty"`
	Start              time.Time `url:"start,omitempty"`
	End                time.Time `url:"end,omitempty"`
	Sort               string    `url:"sort,omitempty"`
	IncludeContent     bool      `url:"include_content,omitempty"`
	ExcludeContentless bool      `url:"exclude_contentless,omitempty"`

	PageSize int `url:"-"`
	MaxItems int `url:"-"`
}

// GetNews returns a lazy sequence of news articles.
func (c *Client) GetNews(ctx context.Context, req NewsRequest) iter.Seq2[News, error] {
	params, err := query.Values(req)
	if err != nil {
		return failed[News](fmt.Errorf("failed to encode query: %w", err))
	}
	seq := c.Paginate(ctx, PageRequest{
		Path:     "/news",
		Params:   params,
		ItemsKey: "news",
		PageSize: req.PageSize,
		MaxItems: req.MaxItems,
		Options:  []RequestOption{OnBaseURL(c.dataURL), OnAPIVersion("v1beta1")},
	})
	return mapRecords[News](seq, NewsMapping)
}

// failed returns a sequence yielding only err.
func failed[T any](err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		yield(zero, err)
	}
}
