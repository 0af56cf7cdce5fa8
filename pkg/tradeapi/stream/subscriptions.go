package stream

import (
	"context"
	"slices"
	"strings"

	"github.com/jonandersen/apca/pkg/tradeapi"
)

// Channel names a category of streamed messages. The value is the key used
// in subscribe frames.
type Channel string

const (
	Trades      Channel = "trades"
	Quotes      Channel = "quotes"
	Bars        Channel = "bars"
	UpdatedBars Channel = "updatedBars"
	DailyBars   Channel = "dailyBars"
	Statuses    Channel = "statuses"
	News        Channel = "news"
)

// channels lists every channel in subscribe frame order.
func channels() []Channel {
	return []Channel{Trades, Quotes, Bars, UpdatedBars, DailyBars, Statuses, News}
}

// channelFor maps a message type discriminator to its channel.
func channelFor(msgType string) (Channel, bool) {
	switch msgType {
	case "t":
		return Trades, true
	case "q":
		return Quotes, true
	case "b":
		return Bars, true
	case "u":
		return UpdatedBars, true
	case "d":
		return DailyBars, true
	case "s":
		return Statuses, true
	case "n":
		return News, true
	}
	return "", false
}

// Wildcard subscribes a handler to every symbol of a channel.
const Wildcard = "*"

// Handler receives one decoded message. Handlers run on the goroutine that
// drives Run, except news handlers which may run concurrently with each
// other. A handler must not call Subscribe or Unsubscribe synchronously:
// the call blocks until Stop is called or the Run context is done.
type Handler[T any] func(ctx context.Context, msg T)

// invoker decodes a raw message and calls the typed handler.
type invoker func(ctx context.Context, raw map[string]any) error

func bind[T any](h Handler[T], m tradeapi.FieldMapping) invoker {
	return func(ctx context.Context, raw map[string]any) error {
		var msg T
		if err := tradeapi.DecodeMapped(raw, m, &msg); err != nil {
			return err
		}
		h(ctx, msg)
		return nil
	}
}

const (
	actionAuth        = "auth"
	actionSubscribe   = "subscribe"
	actionUnsubscribe = "unsubscribe"
)

// command is a subscription change. While Run is active it is handed to the
// run loop; otherwise it is applied directly.
type command struct {
	action  string
	channel Channel
	symbols []string
	invoke  invoker
	reply   chan error
}

// subscriptions maps channel and symbol to a handler.
type subscriptions map[Channel]map[string]invoker

func (s subscriptions) empty() bool {
	for _, handlers := range s {
		if len(handlers) > 0 {
			return false
		}
	}
	return true
}

// apply changes the table and returns the symbols the server must be told
// about. Unsubscribing a symbol without a handler changes nothing.
func (s subscriptions) apply(cmd command) []string {
	handlers := s[cmd.channel]
	switch cmd.action {
	case actionSubscribe:
		if handlers == nil {
			handlers = make(map[string]invoker)
			s[cmd.channel] = handlers
		}
		for _, sym := range cmd.symbols {
			handlers[sym] = cmd.invoke
		}
		return cmd.symbols
	case actionUnsubscribe:
		var removed []string
		for _, sym := range cmd.symbols {
			if _, ok := handlers[sym]; ok {
				delete(handlers, sym)
				removed = append(removed, sym)
			}
		}
		return removed
	}
	return nil
}

// lookup returns the symbol handler, falling back to the wildcard handler.
func (s subscriptions) lookup(ch Channel, symbol string) (invoker, string, bool) {
	handlers := s[ch]
	if h, ok := handlers[symbol]; ok {
		return h, symbol, true
	}
	if h, ok := handlers[Wildcard]; ok {
		return h, Wildcard, true
	}
	return nil, "", false
}

// frame builds a subscribe frame covering the whole table.
func (s subscriptions) frame() map[string]any {
	msg := map[string]any{"action": actionSubscribe}
	for _, ch := range channels() {
		if syms := s.symbols(ch); len(syms) > 0 {
			msg[string(ch)] = syms
		}
	}
	return msg
}

func (s subscriptions) symbols(ch Channel) []string {
	syms := make([]string, 0, len(s[ch]))
	for sym := range s[ch] {
		syms = append(syms, sym)
	}
	slices.Sort(syms)
	return syms
}

func changeFrame(action string, ch Channel, symbols []string) map[string]any {
	return map[string]any{"action": action, string(ch): symbols}
}

// normalizeSymbols upper-cases and de-duplicates symbols, keeping order.
func normalizeSymbols(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, sym := range symbols {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" || slices.Contains(out, sym) {
			continue
		}
		out = append(out, sym)
	}
	return out
}
