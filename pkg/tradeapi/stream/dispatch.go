package stream

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// handleFrame decodes a batch and dispatches its messages in order. Only
// entitlement errors are returned; malformed input is logged and skipped.
func (c *Client) handleFrame(ctx context.Context, data []byte) error {
	msgs, err := c.codec.unmarshal(data)
	if err != nil {
		c.metrics.malformedMessage()
		c.log.Warn("skipping malformed frame", zap.Error(err), zap.Int("bytes", len(data)))
		return nil
	}

	for _, msg := range msgs {
		if err := c.handleMessage(ctx, msg); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) handleMessage(ctx context.Context, msg map[string]any) error {
	msgType := stringField(msg, "T")
	c.metrics.message(msgType)

	switch msgType {
	case "error":
		code := intField(msg, "code")
		text := stringField(msg, "msg")
		if isEntitlementCode(code) {
			return &EntitlementError{Code: code, Message: text}
		}
		c.log.Error("server error", zap.Int("code", code), zap.String("msg", text))
		return nil
	case "subscription":
		c.log.Debug("subscriptions updated", zap.Any("subscription", msg))
		return nil
	case "success":
		c.log.Debug("server acknowledgement", zap.String("msg", stringField(msg, "msg")))
		return nil
	}

	ch, ok := channelFor(msgType)
	if !ok {
		c.log.Debug("ignoring message", zap.String("type", msgType))
		return nil
	}
	if ch == News {
		c.dispatchNews(ctx, msg)
		return nil
	}

	h, _, ok := c.subs.lookup(ch, stringField(msg, "S"))
	if !ok {
		return nil
	}
	if err := h(ctx, msg); err != nil {
		c.skip(msgType, err)
	}
	return nil
}

// dispatchNews invokes the distinct handlers of every symbol an article is
// about concurrently and waits for all of them.
func (c *Client) dispatchNews(ctx context.Context, msg map[string]any) {
	symbols := stringsField(msg, "symbols")
	if len(symbols) == 0 {
		symbols = []string{Wildcard}
	}

	seen := make(map[string]bool)
	var g errgroup.Group
	for _, sym := range symbols {
		h, key, ok := c.subs.lookup(News, sym)
		if !ok || seen[key] {
			continue
		}
		seen[key] = true
		g.Go(func() error { return h(ctx, msg) })
	}
	if err := g.Wait(); err != nil {
		c.skip("n", err)
	}
}

func (c *Client) skip(msgType string, err error) {
	c.metrics.malformedMessage()
	c.log.Warn("skipping message", zap.String("type", msgType), zap.Error(fmt.Errorf("%w: %w", errMalformed, err)))
}

func stringField(msg map[string]any, key string) string {
	s, _ := msg[key].(string)
	return s
}

func stringsField(msg map[string]any, key string) []string {
	raw, _ := msg[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// intField reads a number that may have been decoded as any integer or
// float type.
func intField(msg map[string]any, key string) int {
	switch v := msg[key].(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
