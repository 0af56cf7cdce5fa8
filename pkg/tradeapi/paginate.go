package tradeapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"sync/atomic"
)

// ErrSequenceConsumed is yielded when a paginated sequence is ranged over
// a second time.
var ErrSequenceConsumed = errors.New("paginated sequence already consumed")

// PageRequest describes a cursor paginated GET.
type PageRequest struct {
	Path   string
	Params url.Values

	// ItemsKey names the response field holding the page items. The field
	// may hold an array or an object of arrays keyed by symbol.
	ItemsKey string

	// PageSize is the requested page size; zero leaves it to the server.
	PageSize int

	// MaxItems caps the total number of items yielded; zero means no cap.
	MaxItems int

	Options []RequestOption
}

// Record is one raw item of a paginated response. Symbol is set when the
// item came from a response keyed by symbol or carrying a symbol field.
type Record struct {
	Symbol string
	Data   json.RawMessage
}

// Paginate returns a lazy sequence over all items matching pr.
//
// Pages are fetched on demand: the items of a page are yielded as soon as
// the page is decoded and the next page is only requested once the caller
// has consumed them. Iteration ends when the server omits the next page
// token, returns an empty page, or MaxItems items have been yielded; the
// last page request is shrunk so no more than MaxItems are fetched. Errors
// end the sequence after being yielded. The sequence can be ranged over once.
func (c *Client) Paginate(ctx context.Context, pr PageRequest) iter.Seq2[Record, error] {
	var used atomic.Bool

	return func(yield func(Record, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(Record{}, ErrSequenceConsumed)
			return
		}
		if pr.ItemsKey == "" {
			yield(Record{}, &ValidationError{Field: "page request", Reason: "items key is required"})
			return
		}

		params := url.Values{}
		for k, v := range pr.Params {
			params[k] = slices.Clone(v)
		}

		yielded := 0
		token := ""
		for {
			limit := pr.PageSize
			if pr.MaxItems > 0 {
				remaining := pr.MaxItems - yielded
				if limit <= 0 || remaining < limit {
					limit = remaining
				}
			}
			if limit > 0 {
				params.Set("limit", strconv.Itoa(limit))
			} else {
				params.Del("limit")
			}
			if token != "" {
				params.Set("page_token", token)
			} else {
				params.Del("page_token")
			}

			body, err := c.Request(ctx, http.MethodGet, pr.Path, params, pr.Options...)
			if err != nil {
				yield(Record{}, err)
				return
			}

			records, next, err := decodePage(body, pr.ItemsKey)
			if err != nil {
				yield(Record{}, err)
				return
			}
			if len(records) == 0 {
				return
			}

			for _, rec := range records {
				if !yield(rec, nil) {
					return
				}
				yielded++
				if pr.MaxItems > 0 && yielded >= pr.MaxItems {
					return
				}
			}

			if next == "" {
				return
			}
			token = next
		}
	}
}

// Collect drains seq into a slice, stopping at the first error.
func Collect[T any](seq iter.Seq2[T, error]) ([]T, error) {
	var items []T
	for item, err := range seq {
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// decodePage extracts the items under key and the next page token.
func decodePage(body json.RawMessage, key string) ([]Record, string, error) {
	if len(body) == 0 {
		return nil, "", fmt.Errorf("%w: empty page body", ErrMalformedResponse)
	}

	var page map[string]json.RawMessage
	if err := json.Unmarshal(body, &page); err != nil {
		return nil, "", fmt.Errorf("failed to decode response: %w", err)
	}

	raw, ok := page[key]
	if !ok {
		return nil, "", fmt.Errorf("%w: missing %q", ErrMalformedResponse, key)
	}

	var next string
	if tok, ok := page["next_page_token"]; ok && !isNull(tok) {
		if err := json.Unmarshal(tok, &next); err != nil {
			return nil, "", fmt.Errorf("%w: next_page_token: %v", ErrMalformedResponse, err)
		}
	}

	var symbol string
	if s, ok := page["symbol"]; ok && !isNull(s) {
		if err := json.Unmarshal(s, &symbol); err != nil {
			return nil, "", fmt.Errorf("%w: symbol: %v", ErrMalformedResponse, err)
		}
	}

	records, err := flattenItems(raw, symbol)
	if err != nil {
		return nil, "", err
	}
	return records, next, nil
}

// flattenItems accepts either an array of items or an object mapping
// symbols to arrays of items. Symbols are visited in sorted order.
func flattenItems(raw json.RawMessage, symbol string) ([]Record, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return nil, nil
	}

	switch trimmed[0] {
	case '[':
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		records := make([]Record, 0, len(items))
		for _, item := range items {
			records = append(records, Record{Symbol: symbol, Data: item})
		}
		return records, nil
	case '{':
		var bySymbol map[string][]json.RawMessage
		if err := json.Unmarshal(trimmed, &bySymbol); err != nil {
			return nil, fmt.Errorf("failed to decode response: %w", err)
		}
		symbols := make([]string, 0, len(bySymbol))
		for s := range bySymbol {
			symbols = append(symbols, s)
		}
		slices.Sort(symbols)

		var records []Record
		for _, s := range symbols {
			for _, item := range bySymbol[s] {
				records = append(records, Record{Symbol: s, Data: item})
			}
		}
		return records, nil
	default:
		return nil, fmt.Errorf("%w: items are neither a list nor keyed by symbol", ErrMalformedResponse)
	}
}

func isNull(raw []byte) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
