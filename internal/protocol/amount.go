package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// AmountPlaces is the fixed-point precision of every money value on the wire.
const AmountPlaces = 2

// Amount is a money value with two decimal places.
// It marshals as a bare JSON number and unmarshals from either a JSON number
// or a numeric string ("12.30").
type Amount struct {
	decimal.Decimal
}

// NewAmount rounds v to two decimal places, half away from zero.
func NewAmount(v float64) Amount {
	return Amount{Decimal: decimal.NewFromFloat(v).Round(AmountPlaces)}
}

// AmountFromDecimal rounds d to two decimal places, half away from zero.
func AmountFromDecimal(d decimal.Decimal) Amount {
	return Amount{Decimal: d.Round(AmountPlaces)}
}

// MarshalJSON encodes the amount as a JSON number with two decimals.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.Decimal.StringFixed(AmountPlaces)), nil
}

// UnmarshalJSON tries the numeric kind first, then a quoted numeric string.
// null and "" decode to zero.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		a.Decimal = decimal.Zero
		return nil
	}

	if data[0] != '"' {
		d, err := decimal.NewFromString(string(data))
		if err != nil {
			return fmt.Errorf("parse amount %s: %w", data, err)
		}
		a.Decimal = d
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	s = strings.TrimSpace(s)
	if s == "" {
		a.Decimal = decimal.Zero
		return nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return fmt.Errorf("parse amount %q: %w", s, err)
	}
	a.Decimal = d
	return nil
}

// FlexInt64 can unmarshal from either a JSON string or number.
// Epochs and contract ids occasionally arrive quoted.
type FlexInt64 int64

func (f *FlexInt64) UnmarshalJSON(data []byte) error {
	// Try as number first
	var i int64
	if err := json.Unmarshal(data, &i); err == nil {
		*f = FlexInt64(i)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	i, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*f = FlexInt64(i)
	return nil
}

// Time interprets the value as Unix epoch seconds in UTC.
func (f FlexInt64) Time() time.Time {
	return time.Unix(int64(f), 0).UTC()
}

// FlexFloat64 can unmarshal from either a JSON string or number.
type FlexFloat64 float64

func (f *FlexFloat64) UnmarshalJSON(data []byte) error {
	var v float64
	if err := json.Unmarshal(data, &v); err == nil {
		*f = FlexFloat64(v)
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return err
	}
	*f = FlexFloat64(v)
	return nil
}

// FlexBool accepts true/false, 0/1 and their quoted forms.
type FlexBool bool

func (f *FlexBool) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(data)), `"`)
	switch s {
	case "1", "true":
		*f = true
	case "0", "false", "", "null":
		*f = false
	default:
		return fmt.Errorf("invalid bool %s", data)
	}
	return nil
}
