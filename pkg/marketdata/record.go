// Package marketdata retrieves daily stock prices from the upstream HTTP API and
// validates them into StockRecord values.
package marketdata

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the ISO-8601 calendar date layout used on the wire and in storage.
const DateLayout = "2006-01-02"

// Required keys every upstream item must carry to be kept.
const (
	KeySymbol = "symbol"
	KeyPrice  = "price"
	KeyDate   = "date"
)

var requiredKeys = []string{KeySymbol, KeyPrice, KeyDate}

var (
	// ErrMissingField marks an item that lacks one of the required keys.
	ErrMissingField = errors.New("marketdata: missing required field")
	// ErrMalformedField marks an item whose required keys are present but unusable.
	ErrMalformedField = errors.New("marketdata: malformed field")
)

// StockRecord is a single validated price observation.
// (Symbol, Date) is its natural identity.
type StockRecord struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Date   time.Time       `json:"date"`
}

// Key returns the natural identity used for upserts.
func (r StockRecord) Key() string {
	return r.Symbol + "|" + r.Date.Format(DateLayout)
}

// DateString returns the calendar date as YYYY-MM-DD.
func (r StockRecord) DateString() string {
	return r.Date.Format(DateLayout)
}

// ParseItem converts one raw upstream item into a StockRecord.
// Items that are not objects or lack a required key fail with ErrMissingField;
// items with all keys present but unconvertible values fail with ErrMalformedField.
func ParseItem(raw json.RawMessage) (StockRecord, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return StockRecord{}, fmt.Errorf("%w: item is not an object", ErrMissingField)
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return StockRecord{}, fmt.Errorf("%w: %s", ErrMissingField, key)
		}
	}

	symbol, err := parseSymbol(fields[KeySymbol])
	if err != nil {
		return StockRecord{}, err
	}
	price, err := parsePrice(fields[KeyPrice])
	if err != nil {
		return StockRecord{}, err
	}
	date, err := parseDate(fields[KeyDate])
	if err != nil {
		return StockRecord{}, err
	}
	return StockRecord{Symbol: symbol, Price: price, Date: date}, nil
}

func parseSymbol(raw json.RawMessage) (string, error) {
	if isNull(raw) {
		return "", fmt.Errorf("%w: symbol is null", ErrMalformedField)
	}
	var symbol string
	if err := json.Unmarshal(raw, &symbol); err != nil {
		return "", fmt.Errorf("%w: symbol: %v", ErrMalformedField, err)
	}
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return "", fmt.Errorf("%w: symbol is blank", ErrMalformedField)
	}
	return symbol, nil
}

// parsePrice accepts a JSON number or a numeric string and keeps it exact.
func parsePrice(raw json.RawMessage) (decimal.Decimal, error) {
	if isNull(raw) {
		return decimal.Decimal{}, fmt.Errorf("%w: price is null", ErrMalformedField)
	}
	var price decimal.Decimal
	if err := price.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: price: %v", ErrMalformedField, err)
	}
	return price, nil
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp, truncated to its UTC date.
func parseDate(raw json.RawMessage) (time.Time, error) {
	if isNull(raw) {
		return time.Time{}, fmt.Errorf("%w: date is null", ErrMalformedField)
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return time.Time{}, fmt.Errorf("%w: date: %v", ErrMalformedField, err)
	}
	value = strings.TrimSpace(value)
	if d, err := time.Parse(DateLayout, value); err == nil {
		return d, nil
	}
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not ISO-8601", ErrMalformedField, value)
	}
	y, m, d := ts.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
