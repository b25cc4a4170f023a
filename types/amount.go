// Package types provides common value types used across PassLedger.
package types

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of fractional digits carried by an Amount.
const Scale = 4

// UnitsPerCoin is the number of smallest units in one whole coin.
const UnitsPerCoin int64 = 10_000

// Amount is a currency value in ten-thousandths of a coin.
// All arithmetic is integer-only, never floating point.
//
// Examples:
//   - Coins(100) = 100.0000
//   - Amount(5)  = 0.0005
type Amount int64

// Coins creates an Amount from a whole number of coins.
func Coins(n int64) Amount { return Amount(n * UnitsPerCoin) }

// Zero is the zero Amount.
const Zero Amount = 0

// ParseAmount parses a decimal string such as "30", "30.5" or "0.0001".
// More than four fractional digits is an error rather than a silent rounding.
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return FromDecimal(d)
}

// MustParseAmount is like ParseAmount but panics on error. Use for constants.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// FromDecimal converts a decimal to an Amount.
func FromDecimal(d decimal.Decimal) (Amount, error) {
	units := d.Shift(Scale)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("amount: %s has more than %d decimal places", d.String(), Scale)
	}
	if units.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || units.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, fmt.Errorf("amount: %s out of range", d.String())
	}
	return Amount(units.IntPart()), nil
}

// Decimal returns the Amount as a decimal number of coins.
func (a Amount) Decimal() decimal.Decimal {
	return decimal.New(int64(a), -Scale)
}

// Units returns the raw number of smallest units.
func (a Amount) Units() int64 { return int64(a) }

// Arithmetic operations

// Add adds two amounts.
func (a Amount) Add(other Amount) Amount { return a + other }

// Subtract subtracts another amount.
func (a Amount) Subtract(other Amount) Amount { return a - other }

// Min returns the smaller of two amounts.
func (a Amount) Min(other Amount) Amount {
	if a < other {
		return a
	}
	return other
}

// Max returns the larger of two amounts.
func (a Amount) Max(other Amount) Amount {
	if a > other {
		return a
	}
	return other
}

// Comparison methods

// IsZero returns true if the amount is zero.
func (a Amount) IsZero() bool { return a == 0 }

// IsPositive returns true if the amount is greater than zero.
func (a Amount) IsPositive() bool { return a > 0 }

// IsNegative returns true if the amount is less than zero.
func (a Amount) IsNegative() bool { return a < 0 }

// Formatting methods

// FormatMajor returns the amount with exactly four decimals: "100.0000".
func (a Amount) FormatMajor() string {
	return a.Decimal().StringFixed(Scale)
}

// String implements fmt.Stringer.
func (a Amount) String() string { return a.FormatMajor() }

// MarshalJSON encodes the amount as a decimal string so no precision is lost in
// JavaScript clients.
func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.FormatMajor())
}

// UnmarshalJSON accepts either a decimal string or a JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		var n json.Number
		if err2 := json.Unmarshal(data, &n); err2 != nil {
			return fmt.Errorf("amount: unmarshal: %w", err)
		}
		s = n.String()
	}
	parsed, err := ParseAmount(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler (used by YAML and mapstructure decoders).
func (a Amount) MarshalText() ([]byte, error) {
	return []byte(a.FormatMajor()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Amount) UnmarshalText(data []byte) error {
	parsed, err := ParseAmount(string(data))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum returns the sum of all amounts.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total += a
	}
	return total
}
