// Package output renders command results as aligned tables or JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Formatter handles output formatting (table or JSON). Event may be called
// from several goroutines.
type Formatter struct {
	Writer   io.Writer
	JSONMode bool

	mu sync.Mutex
}

// New creates a new Formatter with the specified writer and JSON mode.
func New(w io.Writer, jsonMode bool) *Formatter {
	return &Formatter{
		Writer:   w,
		JSONMode: jsonMode,
	}
}

// Table outputs data as a formatted table or JSON array depending on mode.
// Headers define column names, rows contain the data.
func (f *Formatter) Table(headers []string, rows [][]string) error {
	if f.JSONMode {
		return f.tableAsJSON(headers, rows)
	}
	return f.tableAsText(headers, rows)
}

func (f *Formatter) tableAsText(headers []string, rows [][]string) error {
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)

	if _, err := fmt.Fprintln(tw, strings.Join(headers, "\t")); err != nil {
		return err
	}

	separators := make([]string, len(headers))
	for i, h := range headers {
		separators[i] = strings.Repeat("-", len(h))
	}
	if _, err := fmt.Fprintln(tw, strings.Join(separators, "\t")); err != nil {
		return err
	}

	for _, row := range rows {
		if _, err := fmt.Fprintln(tw, strings.Join(row, "\t")); err != nil {
			return err
		}
	}

	return tw.Flush()
}

// tableAsJSON renders a table as a JSON array of objects.
func (f *Formatter) tableAsJSON(headers []string, rows [][]string) error {
	result := make([]map[string]string, 0, len(rows))

	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, header := range headers {
			if i < len(row) {
				obj[header] = row[i]
			} else {
				obj[header] = ""
			}
		}
		result = append(result, obj)
	}

	return f.Print(result)
}

// Field is one labelled value of a detail view.
type Field struct {
	Label string
	Value string
}

// Details prints labelled values one per line, or the raw value as JSON.
// raw is ignored in text mode.
func (f *Formatter) Details(raw any, fields []Field) error {
	if f.JSONMode {
		return f.Print(raw)
	}
	tw := tabwriter.NewWriter(f.Writer, 0, 0, 2, ' ', 0)
	for _, fl := range fields {
		if _, err := fmt.Fprintf(tw, "%s:\t%s\n", fl.Label, fl.Value); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// Print outputs data as formatted JSON (pretty-printed) or as a simple string representation.
func (f *Formatter) Print(data any) error {
	if f.JSONMode {
		encoder := json.NewEncoder(f.Writer)
		encoder.SetIndent("", "  ")
		return encoder.Encode(data)
	}

	_, err := fmt.Fprintf(f.Writer, "%v\n", data)
	return err
}

// Event writes one streamed event per line: compact JSON in JSON mode,
// otherwise the kind followed by the text.
func (f *Formatter) Event(kind string, data any, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.JSONMode {
		return json.NewEncoder(f.Writer).Encode(struct {
			Type string `json:"type"`
			Data any    `json:"data"`
		}{kind, data})
	}
	_, err := fmt.Fprintf(f.Writer, "%-7s %s\n", kind, text)
	return err
}

// Decimal formats d with two decimal places.
func Decimal(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// OptDecimal formats d, or "-" when it is unset.
func OptDecimal(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return d.String()
}

// Time formats t in RFC 3339, or "-" when it is zero.
func Time(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}

// OptTime formats t, or "-" when it is unset.
func OptTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return Time(*t)
}

// GainLoss formats d with an explicit sign and two decimal places.
func GainLoss(d decimal.Decimal) string {
	switch d.Sign() {
	case 0:
		return "$0.00"
	case 1:
		return "+$" + d.StringFixed(2)
	default:
		return "-$" + d.Neg().StringFixed(2)
	}
}

// Volume formats vol with thousand separators, truncating fractions.
// Returns "-" for zero.
func Volume(vol float64) string {
	n := int64(vol)
	if n == 0 {
		return "-"
	}

	str := strconv.FormatInt(n, 10)
	sign := ""
	if str[0] == '-' {
		sign, str = "-", str[1:]
	}
	if len(str) <= 3 {
		return sign + str
	}

	var result strings.Builder
	result.WriteString(sign)
	head := len(str) % 3
	if head == 0 {
		head = 3
	}
	result.WriteString(str[:head])
	for i := head; i < len(str); i += 3 {
		result.WriteString(",")
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
