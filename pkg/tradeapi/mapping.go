package tradeapi

import (
	"encoding/json"
	"fmt"
	"iter"
	"time"

	"github.com/mitchellh/mapstructure"
)

// FieldMapping renames wire keys to struct field names. Keys missing from
// the mapping are ignored by the decoder.
type FieldMapping map[string]string

// Wire schemas shared by the REST market data endpoints and the stream.
var (
	TradeMapping = FieldMapping{
		"S": "Symbol", "t": "Timestamp", "x": "Exchange", "p": "Price",
		"s": "Size", "c": "Conditions", "i": "ID", "z": "Tape", "tks": "TakerSide",
	}
	QuoteMapping = FieldMapping{
		"S": "Symbol", "t": "Timestamp", "ax": "AskExchange", "ap": "AskPrice",
		"as": "AskSize", "bx": "BidExchange", "bp": "BidPrice", "bs": "BidSize",
		"c": "Conditions", "z": "Tape",
	}
	BarMapping = FieldMapping{
		"S": "Symbol", "t": "Timestamp", "o": "Open", "h": "High", "l": "Low",
		"c": "Close", "v": "Volume", "n": "TradeCount", "vw": "VWAP",
	}
	StatusMapping = FieldMapping{
		"S": "Symbol", "t": "Timestamp", "sc": "StatusCode", "sm": "StatusMessage",
		"rc": "ReasonCode", "rm": "ReasonMessage", "z": "Tape",
	}
	NewsMapping = FieldMapping{
		"id": "ID", "headline": "Headline", "author": "Author", "created_at": "CreatedAt",
		"updated_at": "UpdatedAt", "summary": "Summary", "content": "Content",
		"url": "URL", "symbols": "Symbols", "source": "Source",
	}
)

// DecodeMapped renames the keys of raw according to m and decodes the
// result into out, which must be a pointer to a struct. Timestamps may be
// RFC 3339 strings or time.Time values.
func DecodeMapped(raw map[string]any, m FieldMapping, out any) error {
	renamed := make(map[string]any, len(m))
	for wire, field := range m {
		if v, ok := raw[wire]; ok && v != nil {
			renamed[field] = v
		}
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:     out,
		DecodeHook: mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return fmt.Errorf("failed to create decoder: %w", err)
	}
	if err := dec.Decode(renamed); err != nil {
		return fmt.Errorf("failed to decode message: %w", err)
	}
	return nil
}

// mapRecords decodes each record with m, tagging the item with the record
// symbol when the item itself does not carry one.
func mapRecords[T any](seq iter.Seq2[Record, error], m FieldMapping) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for rec, err := range seq {
			var item T
			if err != nil {
				yield(item, err)
				return
			}

			var raw map[string]any
			if err := json.Unmarshal(rec.Data, &raw); err != nil {
				yield(item, fmt.Errorf("failed to decode response: %w", err))
				return
			}
			if _, ok := raw["S"]; !ok && rec.Symbol != "" {
				raw["S"] = rec.Symbol
			}

			if err := DecodeMapped(raw, m, &item); err != nil {
				yield(item, err)
				return
			}
			if !yield(item, nil) {
				return
			}
		}
	}
}
